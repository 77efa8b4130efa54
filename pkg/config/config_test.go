package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uptop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Log.Path = t.TempDir()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Scheduler.BufferSize)
	assert.Equal(t, 300*time.Second, cfg.Scheduler.BufferMaxAge)
	assert.Equal(t, 3, cfg.Scheduler.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Scheduler.Retry.BaseDelay)
	assert.Equal(t, 3.0, cfg.Scheduler.StaleMultiplier)
}

func TestLoadFile(t *testing.T) {
	logDir := t.TempDir()
	path := writeFile(t, `
scheduler:
  interval: 2s
  buffer_size: 50
  retry:
    enabled: false
    max_retries: 2
plugins:
  directory: /opt/uptop/plugins
  strict: true
  disabled: [network]
  settings:
    cpu:
      interval: 0.5
panes:
  disk:
    enabled: false
    interval: 10s
log:
  level: debug
  path: `+logDir+`
`)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 50, cfg.Scheduler.BufferSize)
	assert.False(t, cfg.Scheduler.Retry.Enabled)
	assert.Equal(t, 2, cfg.Scheduler.Retry.MaxRetries)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Timeout)

	assert.True(t, cfg.Plugins.Strict)
	assert.True(t, cfg.Plugins.IsDisabled("network"))
	assert.False(t, cfg.Plugins.IsDisabled("cpu"))
	assert.Equal(t, "/opt/uptop/plugins", cfg.Plugins.PluginDirectory())
	assert.EqualValues(t, 0.5, cfg.Plugins.Settings["cpu"]["interval"])

	assert.False(t, cfg.PaneEnabled("disk"))
	assert.True(t, cfg.PaneEnabled("cpu"))
	assert.Equal(t, 10*time.Second, cfg.Panes["disk"].Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"zero buffer":      func(c *config.Config) { c.Scheduler.BufferSize = 0 },
		"negative age":     func(c *config.Config) { c.Scheduler.BufferMaxAge = -time.Second },
		"zero multiplier":  func(c *config.Config) { c.Scheduler.StaleMultiplier = 0 },
		"too many retries": func(c *config.Config) { c.Scheduler.Retry.MaxRetries = 50 },
		"bad addr":         func(c *config.Config) { c.Server.Addr = "not an addr" },
		"bad level":        func(c *config.Config) { c.Log.Level = "verbose" },
		"age below interval": func(c *config.Config) {
			c.Scheduler.Interval = time.Minute
			c.Scheduler.BufferMaxAge = time.Second
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.Log.Path = t.TempDir()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigWithCliFlagsOverrideFile(t *testing.T) {
	logDir := t.TempDir()
	path := writeFile(t, "scheduler:\n  buffer_size: 20\nlog:\n  path: "+logDir+"\n")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().Int("scheduler.buffer_size", 1000, "")
	// 不含 "." 的命令参数不参与配置解码
	cmd.Flags().StringSlice("panes", nil, "")
	require.NoError(t, cmd.Flags().Set("panes", "cpu,disk"))
	require.NoError(t, cmd.Flags().Set("config", path))

	cfg, err := config.LoadConfigWithCli(cmd)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Scheduler.BufferSize)

	require.NoError(t, cmd.Flags().Set("scheduler.buffer_size", "7"))
	cfg, err = config.LoadConfigWithCli(cmd)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.BufferSize)
}
