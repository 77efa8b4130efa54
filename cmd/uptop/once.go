package uptop

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"

	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/plugins"
	"github.com/uptop/pkg/registers"
	"github.com/uptop/pkg/registry"
	"github.com/uptop/pkg/util"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Collect every pane once and print the snapshot",
	Example: `  uptop once --format yaml
  uptop once --panes cpu,memory --format prometheus -o metrics
  uptop once --render --mode maximized`,
	RunE: runOnce,
}

func init() {
	initOnceFlags(onceCmd.Flags())
}

func initOnceFlags(f *pflag.FlagSet) {
	f.StringP("format", "f", defaultCfg.CLI.Format, "-> Output formatter plugin [json,yaml,prometheus] (输出格式)")
	f.StringSliceP("panes", "p", nil, "-> Only collect these panes (只采集指定面板)")
	f.Bool("pretty", defaultCfg.CLI.Pretty, "-> Pretty print JSON output (格式化输出)")
	f.StringP("output", "o", "", "-> Write to file instead of stdout, extension added when missing (输出文件)")
	f.Bool("render", false, "-> Render panes as terminal boxes instead of a formatter (终端面板输出)")
	f.String("mode", string(plugin.ModeMedium), "-> Render mode [micro,minimized,medium,maximized] (显示模式)")
	f.Int("width", 80, "-> Render width in columns (渲染宽度)")
}

// applyCLIFlags 命令参数覆盖 cli 配置段
func applyCLIFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("format") {
		cfg.CLI.Format, _ = f.GetString("format")
	}
	if f.Changed("panes") {
		cfg.CLI.Panes, _ = f.GetStringSlice("panes")
	}
	if f.Changed("pretty") {
		cfg.CLI.Pretty, _ = f.GetBool("pretty")
	}
	// json 插件未单独配置 pretty 时沿用 cli.pretty
	if cfg.Plugins.Settings == nil {
		cfg.Plugins.Settings = map[string]map[string]any{}
	}
	js := cfg.Plugins.Settings["json"]
	if js == nil {
		js = map[string]any{}
		cfg.Plugins.Settings["json"] = js
	}
	if _, ok := js["pretty"]; !ok || f.Changed("pretty") {
		js["pretty"] = cfg.CLI.Pretty
	}
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyCLIFlags(cmd, cfg)

	// 日志写 stderr，stdout 只留给快照输出
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
	defer agent.Shutdown(context.Background())

	snap, err := agent.Snapshot(ctx, cfg.CLI.Panes...)
	if err != nil {
		return err
	}

	render, _ := cmd.Flags().GetBool("render")
	if render {
		mode, _ := cmd.Flags().GetString("mode")
		width, _ := cmd.Flags().GetInt("width")
		if !util.IsTerminal(os.Stdout) {
			plugins.SetColorProfile(termenv.Ascii)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), renderSnapshot(agent.Registry(), snap, plugin.DisplayMode(mode), width))
		return err
	}

	f, err := agent.Registry().Formatter(cfg.CLI.Format)
	if err != nil {
		return fmt.Errorf("output format %q: %w", cfg.CLI.Format, err)
	}
	out, err := f.Format(snap)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), out+"\n")
		return err
	}
	path := outputPath(output, f.FileExtension())
	if err := os.WriteFile(path, []byte(out+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "snapshot %s written to %s\n", snap.ID, path)
	return nil
}

// outputPath 没有扩展名时补上输出插件的扩展名
func outputPath(path, ext string) string {
	if filepath.Ext(path) == "" && ext != "" {
		return path + ext
	}
	return path
}

// renderSnapshot 按面板名排序渲染，面板失败时输出错误行
func renderSnapshot(reg *registry.Registry, snap plugin.Snapshot, mode plugin.DisplayMode, width int) string {
	names := make([]string, 0, len(snap.Panes)+len(snap.Errors))
	for name := range snap.Panes {
		names = append(names, name)
	}
	for name := range snap.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	size := plugin.Size{Width: width}
	blocks := make([]string, 0, len(names))
	for _, name := range names {
		if msg, failed := snap.Errors[name]; failed {
			blocks = append(blocks, fmt.Sprintf("%s: %s", name, msg))
			continue
		}
		p, err := reg.Pane(name)
		if err != nil {
			continue
		}
		blocks = append(blocks, p.Render(snap.Panes[name], size, mode))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}
