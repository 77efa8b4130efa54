package uptop

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "uptop",
	Short: "Pluggable system monitor: scheduled collection, Prometheus metrics and snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
	SilenceUsage: true,
}

// Execute 命令行入口
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "配置文件路径（也可用 UPTOP_CONFIG_PATH 指定）")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initSchedulerFlags(rootCmd)
	initPluginFlags(rootCmd)
	initLogFlags(rootCmd)

	rootCmd.AddCommand(serveCmd, onceCmd, pluginsCmd)
}

// loadConfig 加载配置，失败时提示检查配置文件
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigWithCli(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w (请检查配置文件路径或使用 -c 参数指定)", err)
	}
	return cfg, nil
}

// initLogger 初始化日志，opts 透传给 logger.InitLogger
func initLogger(cfg *config.Config, opts ...logger.Option) (*logger.Logger, error) {
	l, err := logger.InitLogger(&cfg.Log, opts...)
	if err != nil {
		return nil, fmt.Errorf("日志初始化失败: %w", err)
	}
	return l, nil
}
