package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/registry"
)

type failureRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *failureRecorder) PluginFailed(name, stage string) {
	f.mu.Lock()
	f.events = append(f.events, name+"/"+stage)
	f.mu.Unlock()
}

func TestValidate(t *testing.T) {
	base := func() plugin.Factory { return paneFactory("cpu", &callLog{}, nil) }

	tests := []struct {
		name   string
		mutate func(f *plugin.Factory)
	}{
		{"uppercase name", func(f *plugin.Factory) { f.Name = "CPU"; f.Metadata.Name = "CPU" }},
		{"name starts with digit", func(f *plugin.Factory) { f.Name = "1cpu"; f.Metadata.Name = "1cpu" }},
		{"missing display name", func(f *plugin.Factory) { f.Metadata.DisplayName = "" }},
		{"bad version", func(f *plugin.Factory) { f.Metadata.Version = "one" }},
		{"incompatible api", func(f *plugin.Factory) { f.Metadata.APIVersion = "2.0" }},
		{"garbage api", func(f *plugin.Factory) { f.Metadata.APIVersion = "x.y" }},
		{"name mismatch", func(f *plugin.Factory) { f.Name = "other" }},
		{"unknown category", func(f *plugin.Factory) { f.Metadata.Category = "widget" }},
		{"wrong capability", func(f *plugin.Factory) { f.Metadata.Category = plugin.CategoryFormatter }},
		{"interface type", func(f *plugin.Factory) { f.Type = reflect.TypeFor[plugin.Pane]() }},
		{"no constructor", func(f *plugin.Factory) { f.New = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base()
			tt.mutate(&f)
			err := registry.Validate(f)
			require.Error(t, err)
			assert.ErrorIs(t, err, registry.ErrValidation)
		})
	}

	require.NoError(t, registry.Validate(base()))

	minor := base()
	minor.Metadata.APIVersion = "1.7"
	assert.NoError(t, registry.Validate(minor))
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := registry.New()
	f := paneFactory("cpu", &callLog{}, nil)
	f.Metadata.APIVersion = "2.0"
	_, err := r.Register(f, "builtin:cpu")
	require.ErrorIs(t, err, registry.ErrValidation)
	assert.Equal(t, 0, r.Len())
}

func TestDiscoverStaticSource(t *testing.T) {
	rec := &failureRecorder{}
	bad := paneFactory("broken", &callLog{}, nil)
	bad.Metadata.Version = "nope"

	r := registry.New(
		registry.WithObserver(rec),
		registry.WithSources(registry.NewStaticSource("builtin",
			paneFactory("cpu", &callLog{}, nil),
			formatterFactory("json"),
			bad,
		)),
	)
	n, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"cpu", "json"}, r.Names())

	meta, ok := r.Metadata("cpu")
	require.True(t, ok)
	assert.Equal(t, "builtin:cpu", meta.Source)

	failed := r.FailedPlugins()
	require.Contains(t, failed, "broken")
	assert.ErrorIs(t, failed["broken"], registry.ErrValidation)
	assert.Equal(t, []string{"broken/register"}, rec.events)

	// 失败记录可被注销
	require.NoError(t, r.Unregister("broken"))
	assert.Empty(t, r.FailedPlugins())
}

func TestDiscoverStrictStopsOnFirstFailure(t *testing.T) {
	bad := paneFactory("broken", &callLog{}, nil)
	bad.Metadata.APIVersion = "9.0"

	r := registry.New(
		registry.WithStrict(true),
		registry.WithSources(registry.NewStaticSource("builtin",
			paneFactory("cpu", &callLog{}, nil),
			bad,
			paneFactory("memory", &callLog{}, nil),
		)),
	)
	n, err := r.DiscoverAll(context.Background())
	require.ErrorIs(t, err, registry.ErrValidation)
	assert.Equal(t, 1, n)
	assert.False(t, r.Contains("memory"))
}

func TestDirectorySourceMissingDir(t *testing.T) {
	r := registry.New(registry.WithSources(
		registry.NewDirectorySource(filepath.Join(t.TempDir(), "does-not-exist")),
	))
	n, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, r.FailedPlugins())
}

func TestDirectorySourceEmptyDir(t *testing.T) {
	src := registry.NewDirectorySource(t.TempDir())
	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func writeExecPlugin(t *testing.T, dir, name, manifestFile, manifest, script string) {
	t.Helper()
	pdir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(pdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pdir, manifestFile), []byte(manifest), 0o644))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(pdir, "run.sh"), []byte(script), 0o755))
	}
}

const threadsManifest = `
name: threads
display_name: Thread Count
category: collector
version: 1.2.0
executable: run.sh
target_pane: processes
timeout_ms: 2000
`

const threadsScript = `#!/bin/sh
cat > /dev/null
echo '{"fields": {"threads": 4, "state": "sleeping"}}'
`

func TestDirectorySourceExecCollector(t *testing.T) {
	dir := t.TempDir()
	writeExecPlugin(t, dir, "threads", "manifest.yaml", threadsManifest, threadsScript)

	r := registry.New(registry.WithSources(registry.NewDirectorySource(dir)))
	n, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	meta, ok := r.Metadata("threads")
	require.True(t, ok)
	assert.Equal(t, plugin.CategoryCollector, meta.Category)
	assert.Equal(t, "Thread Count", meta.DisplayName)
	assert.Equal(t, plugin.APIVersion, meta.APIVersion)
	assert.Equal(t, "directory:"+filepath.Join(dir, "threads"), meta.Source)

	c, err := r.Collector("threads")
	require.NoError(t, err)
	assert.Equal(t, "processes", c.TargetPane())

	fields, err := c.Collect(context.Background(), map[string]any{"pid": 1})
	require.NoError(t, err)
	assert.Equal(t, 4.0, fields["threads"])
	assert.Equal(t, "sleeping", fields["state"])
}

func TestDirectorySourceExecFormatterTOML(t *testing.T) {
	dir := t.TempDir()
	manifest := `
name = "csv"
display_name = "CSV"
category = "formatter"
version = "0.1.0"
executable = "run.sh"
format_name = "csv"
file_extension = ".csv"
`
	script := `#!/bin/sh
cat > /dev/null
printf '%s\n' '{"output": "pane,value\ncpu,1"}'
`
	writeExecPlugin(t, dir, "csv", "manifest.toml", manifest, script)

	r := registry.New(registry.WithSources(registry.NewDirectorySource(dir)))
	_, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)

	f, err := r.Formatter("csv")
	require.NoError(t, err)
	assert.Equal(t, "--csv", f.CLIFlag())
	assert.Equal(t, ".csv", f.FileExtension())

	out, err := f.Format(plugin.Snapshot{ID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "pane,value\ncpu,1", out)
}

func TestDirectorySourceExecErrorResponse(t *testing.T) {
	dir := t.TempDir()
	script := `#!/bin/sh
cat > /dev/null
echo '{"error": "process vanished"}'
`
	writeExecPlugin(t, dir, "threads", "manifest.yml", threadsManifest, script)

	r := registry.New(registry.WithSources(registry.NewDirectorySource(dir)))
	_, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)

	c, err := r.Collector("threads")
	require.NoError(t, err)
	_, err = c.Collect(context.Background(), nil)
	require.EqualError(t, err, "process vanished")
}

func TestDirectorySourceSkipsAndFailures(t *testing.T) {
	dir := t.TempDir()
	// 以下划线开头的目录被忽略
	writeExecPlugin(t, dir, "_disabled", "manifest.yaml", threadsManifest, threadsScript)
	// 普通文件与无清单目录被忽略
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scratch"), 0o755))
	// 损坏的 Go plugin
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus.so"), []byte("not an elf"), 0o644))
	// 缺少可执行文件
	writeExecPlugin(t, dir, "noexec", "manifest.yaml", "name: noexec\ndisplay_name: X\ncategory: collector\nversion: 1.0.0\n", "")

	rec := &failureRecorder{}
	r := registry.New(registry.WithObserver(rec), registry.WithSources(registry.NewDirectorySource(dir)))
	n, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	failed := r.FailedPlugins()
	assert.Len(t, failed, 2)
	assert.ErrorIs(t, failed["bogus"], registry.ErrLoad)
	assert.ErrorIs(t, failed["noexec"], registry.ErrLoad)
	assert.NotContains(t, failed, "_disabled")
	assert.ElementsMatch(t, []string{"bogus/load", "noexec/load"}, rec.events)
}

func TestDirectorySourceStrict(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus.so"), []byte("not an elf"), 0o644))

	r := registry.New(registry.WithStrict(true), registry.WithSources(registry.NewDirectorySource(dir)))
	_, err := r.DiscoverAll(context.Background())
	require.ErrorIs(t, err, registry.ErrLoad)
}

func TestExecPluginRejectsPaneCategory(t *testing.T) {
	dir := t.TempDir()
	manifest := "name: fancy\ndisplay_name: Fancy\ncategory: pane\nversion: 1.0.0\nexecutable: run.sh\n"
	writeExecPlugin(t, dir, "fancy", "manifest.yaml", manifest, threadsScript)

	cands, err := registry.NewDirectorySource(dir).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Error(t, cands[0].Err)
	assert.Equal(t, "fancy", cands[0].Key)
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "gpu"
display_name = "GPU"
category = "collector"
version = "2.0.1"
api_version = "1.3"
args = ["--json"]
timeout_ms = 250
`), 0o644))

	m, err := registry.ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "gpu", m.Name)
	assert.Equal(t, plugin.CategoryCollector, m.Category)
	assert.Equal(t, "1.3", m.APIVersion)
	assert.Equal(t, []string{"--json"}, m.Args)
	assert.Equal(t, 250, m.TimeoutMs)

	bad := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: [unclosed"), 0o644))
	_, err = registry.ReadManifest(bad)
	assert.Error(t, err)
}

func TestLazyLoading(t *testing.T) {
	log := &callLog{}
	r := registry.New(
		registry.WithLazy(true),
		registry.WithSources(registry.NewStaticSource("builtin",
			paneFactory("cpu", log, nil),
			paneFactory("disk", log, nil).Defer(),
			paneFactory("network", log, nil).Defer(),
		)),
	)
	n, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"disk", "network"}, r.Pending())
	assert.False(t, r.Contains("disk"))

	r.InitializeAll(nil, nil)
	r.StartAll()

	p, err := r.Pane("disk")
	require.NoError(t, err)
	assert.True(t, p.Initialized())
	assert.True(t, r.Contains("disk"))
	assert.Equal(t, []string{"network"}, r.Pending())
	assert.Contains(t, log.all(), "init:disk")
	assert.Contains(t, log.all(), "start:disk")

	assert.Empty(t, r.LoadAllDeferred())
	assert.Empty(t, r.Pending())
	assert.Equal(t, []string{"cpu", "disk", "network"}, r.Names())
}

func TestLazyDisabledLoadsEverything(t *testing.T) {
	r := registry.New(registry.WithSources(registry.NewStaticSource("builtin",
		paneFactory("disk", &callLog{}, nil).Defer(),
	)))
	n, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, r.Pending())
}

func TestLazyConcurrentGet(t *testing.T) {
	r := registry.New(
		registry.WithLazy(true),
		registry.WithSources(registry.NewStaticSource("builtin", paneFactory("disk", &callLog{}, nil).Defer())),
	)
	_, err := r.DiscoverAll(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]plugin.Plugin, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Get("disk")
		}(i)
	}
	wg.Wait()

	for _, p := range results[1:] {
		assert.Same(t, results[0], p)
	}
	assert.Equal(t, 1, r.Len())
}
