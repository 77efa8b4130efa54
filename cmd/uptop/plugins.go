package uptop

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/registers"
	"github.com/uptop/pkg/registry"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List discovered plugins, deferred plugins and load failures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if _, err := initLogger(cfg, logger.WithConsole(zapcore.Lock(os.Stderr))); err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		_, agent, err := registers.InitAgent(ctx, false, cfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), pluginTable(agent.Registry()))
		return err
	},
}

// pluginTable 已注册、延迟加载与加载失败的插件汇总表
func pluginTable(reg *registry.Registry) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "CATEGORY", "VERSION", "STATUS", "SOURCE")

	for _, m := range reg.AllMetadata() {
		status := "enabled"
		if !m.Enabled {
			status = "disabled"
		}
		t.Row(m.Name, string(m.Category), m.Version, status, m.Source)
	}
	for _, name := range reg.Pending() {
		t.Row(name, "", "", "deferred", "")
	}
	failed := reg.FailedPlugins()
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.Row(name, "", "", "failed: "+failed[name].Error(), "")
	}
	return t.Render()
}
