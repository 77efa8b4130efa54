package registers_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/registers"
	"github.com/uptop/pkg/registry"
	"github.com/uptop/pkg/scheduler"
)

// mockPane 以 MockProvider 为数据源的面板
type mockPane struct {
	plugin.Base
	provider *collector.MockProvider
}

func (p *mockPane) CollectData(ctx context.Context) (collector.Record, error) {
	return p.provider.Collect(ctx)
}
func (p *mockPane) Render(collector.Record, plugin.Size, plugin.DisplayMode) string { return "" }
func (p *mockPane) Schema() reflect.Type                                            { return p.provider.Schema() }
func (p *mockPane) DefaultInterval() time.Duration                                  { return time.Second }
func (p *mockPane) Provider() collector.Provider                                    { return p.provider }

func mockPaneFactory(name string, opts ...collector.MockOption) (plugin.Factory, *collector.MockProvider) {
	prov := collector.NewMockProvider(name, time.Second, opts...)
	f := plugin.Define(plugin.Metadata{
		Name:        name,
		DisplayName: name,
		Category:    plugin.CategoryPane,
		Version:     "1.0.0",
		Enabled:     true,
	}, func() (*mockPane, error) { return &mockPane{provider: prov}, nil })
	return f, prov
}

func newTestAgent(t *testing.T, cfg *config.Config, factories ...plugin.Factory) *registers.AgentImpl {
	t.Helper()
	reg := registry.New(registry.WithLazy(true), registry.WithSources(registry.NewStaticSource("test", factories...)))
	_, err := reg.DiscoverAll(context.Background())
	require.NoError(t, err)
	sched := scheduler.New(scheduler.WithConfig(registers.SchedulerConfig(cfg)))
	return registers.NewAgent(cfg, reg, sched)
}

func TestBuiltinHonoursConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Plugins.Disabled = []string{"kill_process"}
	off := false
	cfg.Panes["network"] = config.PaneConfig{Enabled: &off}

	byName := map[string]plugin.Factory{}
	for _, f := range registers.Builtin(cfg) {
		byName[f.Name] = f
	}
	assert.NotContains(t, byName, "kill_process")
	assert.NotContains(t, byName, "network")
	require.Contains(t, byName, "cpu")
	assert.False(t, byName["cpu"].Deferred)
	require.Contains(t, byName, "disk")
	assert.True(t, byName["disk"].Deferred)
	assert.True(t, byName["process_details"].Deferred)
	assert.False(t, byName["json"].Deferred)
}

func TestInitAgentDiscoversBuiltins(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Plugins.Directory = t.TempDir()

	promReg, agent, err := registers.InitAgent(context.Background(), false, cfg)
	require.NoError(t, err)
	require.NotNil(t, promReg)

	reg := agent.Registry()
	for _, name := range []string{"cpu", "memory", "processes", "json", "yaml", "prometheus"} {
		assert.True(t, reg.Contains(name), name)
	}
	assert.ElementsMatch(t, []string{"disk", "network", "process_details", "kill_process"}, reg.Pending())
	assert.Empty(t, reg.FailedPlugins())

	// 指定面板时只加载用到的延迟插件
	require.NoError(t, agent.Prepare(context.Background(), "disk"))
	assert.True(t, reg.Contains("disk"))
	assert.Contains(t, agent.Scheduler().Collectors(), "disk")
	assert.NotContains(t, agent.Scheduler().Collectors(), "network")

	require.NoError(t, agent.Shutdown(context.Background()))
}

func TestAgentSnapshot(t *testing.T) {
	good, _ := mockPaneFactory("alpha")
	bad, _ := mockPaneFactory("beta", collector.WithError(collector.Permanent(errors.New("sensor offline"))))
	agent := newTestAgent(t, config.NewDefaultConfig(), good, bad)

	snap, err := agent.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.Timestamp.IsZero())
	require.Contains(t, snap.Panes, "alpha")
	assert.Equal(t, "alpha", snap.Panes["alpha"].Source())
	assert.NotContains(t, snap.Panes, "beta")
	assert.Contains(t, snap.Errors["beta"], "sensor offline")

	other, err := agent.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, other.ID)
}

func TestAgentSnapshotSelectedPanes(t *testing.T) {
	a, alpha := mockPaneFactory("alpha")
	b, beta := mockPaneFactory("beta")
	agent := newTestAgent(t, config.NewDefaultConfig(), a, b)

	snap, err := agent.Snapshot(context.Background(), "alpha", "ghost")
	require.NoError(t, err)
	assert.Contains(t, snap.Panes, "alpha")
	assert.NotContains(t, snap.Panes, "beta")
	assert.Contains(t, snap.Errors, "ghost")
	assert.EqualValues(t, 1, alpha.Calls())
	assert.EqualValues(t, 0, beta.Calls())
}

func TestAgentPaneOverrides(t *testing.T) {
	cfg := config.NewDefaultConfig()
	off := false
	cfg.Panes["alpha"] = config.PaneConfig{Interval: 3 * time.Second}
	cfg.Panes["beta"] = config.PaneConfig{Enabled: &off}

	a, alpha := mockPaneFactory("alpha")
	b, _ := mockPaneFactory("beta")
	agent := newTestAgent(t, cfg, a, b)

	require.NoError(t, agent.Prepare(context.Background()))
	assert.Equal(t, 3*time.Second, alpha.Interval())
	assert.Equal(t, []string{"alpha"}, agent.Scheduler().Collectors())

	// 重复 Prepare 不会重复注册
	require.NoError(t, agent.Prepare(context.Background()))
	assert.Equal(t, []string{"alpha"}, agent.Scheduler().Collectors())
}

func TestAgentSchedulerDefaultsForExternalPanes(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Scheduler.Interval = 7 * time.Second
	cfg.Scheduler.Timeout = 2 * time.Second
	cfg.Plugins.Settings["beta"] = map[string]any{"interval": 4}

	a, alpha := mockPaneFactory("alpha")
	b, beta := mockPaneFactory("beta")
	agent := newTestAgent(t, cfg, a, b)

	require.NoError(t, agent.Prepare(context.Background()))
	assert.Equal(t, 7*time.Second, alpha.Interval())
	assert.Equal(t, 2*time.Second, alpha.Timeout())
	// 插件配置了 interval 时不覆盖
	assert.Equal(t, time.Second, beta.Interval())
}

func TestAgentPrepareUnknownPane(t *testing.T) {
	a, _ := mockPaneFactory("alpha")
	agent := newTestAgent(t, config.NewDefaultConfig(), a)

	err := agent.Prepare(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestAgentStartShutdown(t *testing.T) {
	a, alpha := mockPaneFactory("alpha")
	agent := newTestAgent(t, config.NewDefaultConfig(), a)

	require.NoError(t, agent.Start(context.Background()))
	assert.True(t, agent.Scheduler().IsRunning())
	assert.Eventually(t, func() bool { return alpha.Calls() > 0 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, agent.Shutdown(ctx))
	assert.False(t, agent.Scheduler().IsRunning())
}
