package signal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ShutdownFunc 一个需要优雅关闭的组件
type ShutdownFunc func(ctx context.Context) error

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM 或 ctx 结束，然后按顺序执行关闭函数
// 全部关闭函数共享 timeout，返回合并后的错误
func WaitForShutdown(ctx context.Context, logger *zap.Logger, timeout time.Duration, fns ...ShutdownFunc) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("service running, waiting for SIGINT/SIGTERM...")
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context done, shutting down", zap.Error(ctx.Err()))
	}

	return Shutdown(logger, timeout, fns...)
}

// Shutdown 在超时内依次执行关闭函数，超时后剩余函数不再等待
func Shutdown(logger *zap.Logger, timeout time.Duration, fns ...ShutdownFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs error
		for i, fn := range fns {
			if fn == nil {
				continue
			}
			if err := fn(ctx); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("shutdown step %d: %w", i, err))
			}
		}
		done <- errs
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		logger.Info("graceful shutdown completed")
		return nil
	case <-ctx.Done():
		logger.Warn("shutdown timeout exceeded", zap.Duration("timeout", timeout))
		return ctx.Err()
	}
}
