package registry_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/registry"
)

// callLog 记录生命周期钩子调用顺序
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type testPane struct {
	plugin.Base
	name    string
	log     *callLog
	initErr error
	deps    plugin.Dependencies
}

func (p *testPane) CollectData(context.Context) (collector.Record, error) {
	return &collector.MockRecord{Meta: collector.NewMeta(p.name, time.Now())}, nil
}
func (p *testPane) Render(collector.Record, plugin.Size, plugin.DisplayMode) string { return p.name }
func (p *testPane) Schema() reflect.Type                                            { return reflect.TypeOf(collector.MockRecord{}) }
func (p *testPane) DefaultInterval() time.Duration                                  { return time.Second }

func (p *testPane) Inject(deps plugin.Dependencies) error {
	p.deps = deps
	p.log.add("inject:" + p.name)
	return nil
}

func (p *testPane) Initialize(cfg map[string]any) error {
	p.log.add("init:" + p.name)
	if p.initErr != nil {
		return p.initErr
	}
	return p.Base.Initialize(cfg)
}

func (p *testPane) Start() error { p.log.add("start:" + p.name); return nil }
func (p *testPane) Stop() error  { p.log.add("stop:" + p.name); return nil }

func (p *testPane) Shutdown() error {
	p.log.add("shutdown:" + p.name)
	return p.Base.Shutdown()
}

type testFormatter struct{ plugin.Base }

func (*testFormatter) FormatName() string    { return "test" }
func (*testFormatter) CLIFlag() string       { return "--test" }
func (*testFormatter) FileExtension() string { return ".test" }
func (*testFormatter) Format(plugin.Snapshot) (string, error) {
	return "formatted", nil
}

type testAction struct{ plugin.Base }

func (*testAction) KeyboardShortcut() string             { return "x" }
func (*testAction) RequiresConfirmation() bool           { return false }
func (*testAction) CanExecute(plugin.ActionContext) bool { return true }
func (*testAction) Execute(context.Context, plugin.ActionContext) (plugin.ActionResult, error) {
	return plugin.ActionResult{Success: true}, nil
}

func paneFactory(name string, log *callLog, initErr error) plugin.Factory {
	return plugin.Define(plugin.Metadata{
		Name:        name,
		DisplayName: "Pane " + name,
		Category:    plugin.CategoryPane,
		Version:     "1.0.0",
	}, func() (*testPane, error) {
		return &testPane{name: name, log: log, initErr: initErr}, nil
	})
}

func formatterFactory(name string) plugin.Factory {
	return plugin.Define(plugin.Metadata{
		Name:        name,
		DisplayName: "Formatter " + name,
		Category:    plugin.CategoryFormatter,
		Version:     "1.0.0",
	}, func() (*testFormatter, error) { return &testFormatter{}, nil })
}

func actionFactory(name string) plugin.Factory {
	return plugin.Define(plugin.Metadata{
		Name:        name,
		DisplayName: "Action " + name,
		Category:    plugin.CategoryAction,
		Version:     "1.0.0",
	}, func() (*testAction, error) { return &testAction{}, nil })
}

func TestEmptyRegistry(t *testing.T) {
	r := registry.New()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Names())
	assert.Empty(t, r.AllMetadata())
	assert.False(t, r.IsInitialized())
	assert.False(t, r.IsStarted())
}

func TestRegisterAndGet(t *testing.T) {
	r := registry.New()
	p, err := r.Register(paneFactory("cpu", &callLog{}, nil), "builtin:cpu")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.True(t, r.Contains("cpu"))
	assert.Equal(t, 1, r.Len())

	got, err := r.Get("cpu")
	require.NoError(t, err)
	assert.Same(t, p, got)

	meta, ok := r.Metadata("cpu")
	require.True(t, ok)
	assert.Equal(t, "Pane cpu", meta.DisplayName)
	assert.Equal(t, plugin.APIVersion, meta.APIVersion)
	assert.Equal(t, "builtin:cpu", meta.Source)
	assert.True(t, meta.Enabled)

	_, err = r.Get("missing")
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.ErrorIs(t, err, registry.ErrPlugin)
}

func TestRegisterConflict(t *testing.T) {
	r := registry.New()
	log := &callLog{}
	first, err := r.Register(paneFactory("cpu", log, nil), "builtin:cpu")
	require.NoError(t, err)

	_, err = r.Register(paneFactory("cpu", log, nil), "directory:/tmp/cpu.so")
	require.ErrorIs(t, err, registry.ErrConflict)

	got, _ := r.Get("cpu")
	assert.Same(t, first, got)

	// 相同来源视为覆盖
	second, err := r.Register(paneFactory("cpu", log, nil), "builtin:cpu")
	require.NoError(t, err)
	got, _ = r.Get("cpu")
	assert.Same(t, second, got)
	assert.Equal(t, []string{"cpu"}, r.Names())
}

func TestRegisterConstructorFailure(t *testing.T) {
	r := registry.New()
	f := plugin.Define(plugin.Metadata{
		Name: "broken", DisplayName: "Broken", Category: plugin.CategoryAction, Version: "1.0.0",
	}, func() (*testAction, error) { return nil, errors.New("no device") })

	_, err := r.Register(f, "builtin:broken")
	require.ErrorIs(t, err, registry.ErrLoad)
	assert.Contains(t, err.Error(), "no device")
	assert.False(t, r.Contains("broken"))

	panicking := plugin.Define(plugin.Metadata{
		Name: "panicky", DisplayName: "Panicky", Category: plugin.CategoryAction, Version: "1.0.0",
	}, func() (*testAction, error) { panic("boom") })
	_, err = r.Register(panicking, "builtin:panicky")
	require.ErrorIs(t, err, registry.ErrLoad)
}

func TestTypedGetters(t *testing.T) {
	r := registry.New()
	_, err := r.Register(paneFactory("cpu", &callLog{}, nil), "builtin:cpu")
	require.NoError(t, err)
	_, err = r.Register(formatterFactory("json"), "builtin:json")
	require.NoError(t, err)
	_, err = r.Register(actionFactory("kill"), "builtin:kill")
	require.NoError(t, err)

	pane, err := r.Pane("cpu")
	require.NoError(t, err)
	assert.Equal(t, "cpu", pane.Render(nil, plugin.Size{}, plugin.ModeMedium))

	f, err := r.Formatter("json")
	require.NoError(t, err)
	assert.Equal(t, "--test", f.CLIFlag())

	a, err := r.Action("kill")
	require.NoError(t, err)
	assert.Equal(t, "x", a.KeyboardShortcut())

	_, err = r.Formatter("cpu")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = r.Pane("json")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = r.Collector("kill")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = r.Action("cpu")
	require.ErrorIs(t, err, registry.ErrNotFound)

	assert.Len(t, r.ByCategory(plugin.CategoryPane), 1)
	assert.Len(t, r.ByCategory(plugin.CategoryFormatter), 1)
	assert.Empty(t, r.ByCategory(plugin.CategoryCollector))
}

func TestEnabledAndMetadata(t *testing.T) {
	r := registry.New()
	_, _ = r.Register(paneFactory("cpu", &callLog{}, nil), "builtin:cpu")
	mem, _ := r.Register(paneFactory("memory", &callLog{}, nil), "builtin:memory")
	mem.SetEnabled(false)

	enabled := r.Enabled()
	require.Len(t, enabled, 1)

	metas := r.AllMetadata()
	require.Len(t, metas, 2)
	assert.Equal(t, "cpu", metas[0].Name)
	assert.True(t, metas[0].Enabled)
	assert.Equal(t, "memory", metas[1].Name)
	assert.False(t, metas[1].Enabled)
}

func TestLifecycleOrder(t *testing.T) {
	log := &callLog{}
	r := registry.New()
	for _, name := range []string{"a", "b", "c"} {
		_, err := r.Register(paneFactory(name, log, nil), "builtin:"+name)
		require.NoError(t, err)
	}
	b, _ := r.Get("b")
	b.SetEnabled(false)

	deps := plugin.Dependencies{"scheduler": "sched"}
	failed := r.InitializeAll(map[string]map[string]any{"a": {"interval": 2.0}}, deps)
	assert.Empty(t, failed)
	assert.True(t, r.IsInitialized())

	a, _ := r.Pane("a")
	assert.Equal(t, deps, a.(*testPane).deps)
	v, ok := a.(*testPane).ConfigValue("interval")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	assert.Empty(t, r.StartAll())
	assert.True(t, r.IsStarted())

	assert.Empty(t, r.ShutdownAll())
	assert.False(t, r.IsStarted())
	assert.False(t, r.IsInitialized())

	assert.Equal(t, []string{
		"inject:a", "init:a",
		"inject:c", "init:c",
		"start:a", "start:c",
		"stop:c", "stop:a",
		"shutdown:c", "shutdown:a",
	}, log.all())
}

func TestInitializeFailureDisablesPlugin(t *testing.T) {
	log := &callLog{}
	r := registry.New()
	_, _ = r.Register(paneFactory("good", log, nil), "builtin:good")
	_, _ = r.Register(paneFactory("bad", log, errors.New("missing sensor")), "builtin:bad")

	failed := r.InitializeAll(nil, nil)
	assert.Equal(t, []string{"bad"}, failed)

	bad, _ := r.Get("bad")
	assert.False(t, bad.Enabled())
	assert.False(t, bad.Initialized())

	r.StartAll()
	assert.NotContains(t, log.all(), "start:bad")
}

func TestStartBeforeInitializeStillRuns(t *testing.T) {
	log := &callLog{}
	r := registry.New()
	_, _ = r.Register(paneFactory("a", log, nil), "builtin:a")

	assert.Empty(t, r.StartAll())
	assert.Equal(t, []string{"start:a"}, log.all())
}

func TestUnregister(t *testing.T) {
	log := &callLog{}
	r := registry.New()
	_, _ = r.Register(paneFactory("a", log, nil), "builtin:a")
	r.InitializeAll(nil, nil)
	r.StartAll()

	require.NoError(t, r.Unregister("a"))
	assert.False(t, r.Contains("a"))
	assert.Contains(t, log.all(), "stop:a")
	assert.Contains(t, log.all(), "shutdown:a")

	err := r.Unregister("a")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestClear(t *testing.T) {
	r := registry.New()
	_, _ = r.Register(paneFactory("a", &callLog{}, nil), "builtin:a")
	r.InitializeAll(nil, nil)
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.False(t, r.IsInitialized())
	assert.Empty(t, r.FailedPlugins())
}

func TestErrorMessage(t *testing.T) {
	err := &registry.Error{Kind: registry.ErrInitialization, Plugin: "cpu", Err: errors.New("no sensor")}
	assert.Equal(t, `plugin "cpu": initialization failed: no sensor`, err.Error())
	assert.ErrorIs(t, err, registry.ErrInitialization)
	assert.ErrorIs(t, err, registry.ErrPlugin)
	assert.NotErrorIs(t, err, registry.ErrLoad)
}

type failingStartPane struct{ testPane }

func (p *failingStartPane) Start() error { panic("cannot start") }

func TestStartFailureDisablesPlugin(t *testing.T) {
	log := &callLog{}
	r := registry.New()
	_, _ = r.Register(paneFactory("good", log, nil), "builtin:good")
	f := plugin.Define(plugin.Metadata{
		Name: "flaky", DisplayName: "Flaky", Category: plugin.CategoryPane, Version: "1.0.0",
	}, func() (*failingStartPane, error) {
		return &failingStartPane{testPane{name: "flaky", log: log}}, nil
	})
	_, err := r.Register(f, "builtin:flaky")
	require.NoError(t, err)

	r.InitializeAll(nil, nil)
	assert.Equal(t, []string{"flaky"}, r.StartAll())

	flaky, _ := r.Get("flaky")
	assert.False(t, flaky.Enabled())
	good, _ := r.Get("good")
	assert.True(t, good.Enabled())

	// 已禁用的插件不再调用 Stop
	r.StopAll()
	assert.NotContains(t, log.all(), "stop:flaky")
	assert.Contains(t, log.all(), "stop:good")
}
