package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Validate 日志配置校验：tag 校验之后确保日志目录可创建
func (l *ZapLogConfig) Validate() error {
	if err := valid.Struct(l); err != nil {
		return fmt.Errorf("日志配置字段非法: %w", err)
	}
	abs, err := filepath.Abs(l.Path)
	if err != nil {
		return fmt.Errorf("log.path %s cannot be resolved: %w", l.Path, err)
	}
	if err := ensureDir(abs); err != nil {
		return fmt.Errorf("log.path %s is not writable: %w", l.Path, err)
	}
	return nil
}

func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	// 用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 调度配置校验
func (s *SchedulerConfig) Validate() error {
	if err := valid.Struct(s); err != nil {
		return err
	}
	if s.Interval < 10*time.Millisecond || s.Interval > time.Hour {
		return fmt.Errorf("scheduler.interval must be between 10ms and 1h, got %s", s.Interval)
	}
	if s.BufferMaxAge > 0 && s.BufferMaxAge < s.Interval {
		return fmt.Errorf("scheduler.buffer_max_age %s is shorter than scheduler.interval %s", s.BufferMaxAge, s.Interval)
	}
	return nil
}
