package uptop

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/registers"
	"github.com/uptop/pkg/server"
	"github.com/uptop/pkg/signal"
	"github.com/uptop/pkg/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collection scheduler and the HTTP server until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	util.PrintBanner(os.Stdout, "uptop", server.Version, "cyan")

	l, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	l.Info("log initialization successful",
		zap.String("path", cfg.Log.Path),
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format))

	const enableProcess = true
	promReg, agent, err := registers.InitAgent(ctx, enableProcess, cfg)
	if err != nil {
		return err
	}
	if err := agent.Start(ctx); err != nil {
		return err
	}

	var httpServer *server.Server
	if cfg.Server.Enable {
		httpServer = server.NewHTTPServer(cfg, logger.Named("http"), promReg, agent)
		if err := httpServer.Start(); err != nil {
			_ = agent.Shutdown(context.Background())
			return fmt.Errorf("start HTTP server failed: %w", err)
		}
	}

	// 关闭顺序：HTTP服务 → 调度器 → 插件
	return signal.WaitForShutdown(ctx, l, cfg.Scheduler.StopTimeout+5*time.Second,
		func(context.Context) error {
			if httpServer == nil {
				return nil
			}
			return httpServer.Shutdown()
		},
		agent.Shutdown,
	)
}
