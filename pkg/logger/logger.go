package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uptop/pkg/config"
)

type Logger = zap.Logger

var (
	baseLogger     = zap.NewNop()
	loggerInitOnce sync.Once
	mu             sync.RWMutex
)

// parseLevel 日志级别字符串转 zap 级别，未知级别按 info 处理
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn", "warning":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Option InitLogger 可选项
type Option func(*options)

type options struct {
	console zapcore.WriteSyncer
}

// WithConsole 控制台日志输出位置，默认 os.Stdout
func WithConsole(w zapcore.WriteSyncer) Option {
	return func(o *options) { o.console = w }
}

// InitLogger 初始化全局日志：控制台彩色输出 + 按天切割的 JSON 文件
func InitLogger(cfg *config.ZapLogConfig, opts ...Option) (*zap.Logger, error) {
	o := options{console: zapcore.AddSync(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}
	var err error
	loggerInitOnce.Do(func() {
		var l *zap.Logger
		l, err = newLogger(cfg, o)
		if err != nil {
			return
		}
		mu.Lock()
		baseLogger = l
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	return GetGlobalLogger(), nil
}

func newLogger(cfg *config.ZapLogConfig, o options) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	maxAge := time.Duration(max(cfg.MaxAge, 1)) * 24 * time.Hour
	writer, err := rotatelogs.New(
		filepath.Join(cfg.Path, "uptop-%Y%m%d.log"),
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationSize(int64(max(cfg.MaxSize, 1))*1024*1024),
	)
	if err != nil {
		return nil, fmt.Errorf("create rotate writer: %w", err)
	}

	const timeLayout = "2006-01-02 15:04:05.000 -07:00"

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.ConsoleSeparator = " "
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("\033[34m" + t.Format(timeLayout) + "\033[0m")
	}
	// Caller 两级路径
	consoleCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var console zapcore.Encoder
	if cfg.Format == "json" {
		console = zapcore.NewJSONEncoder(jsonCfg)
	} else {
		console = zapcore.NewConsoleEncoder(consoleCfg)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(console, o.console, level),
		zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(writer), level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// GetGlobalLogger 返回全局 logger，未初始化时为 Nop
func GetGlobalLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}

// Named 带组件名的子 logger
func Named(component string) *zap.Logger {
	return GetGlobalLogger().Named(component)
}

// SetLogger 替换全局 logger（测试中注入 observer）
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	baseLogger = l
	mu.Unlock()
}

func skip() *zap.Logger {
	return GetGlobalLogger().WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) { skip().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { skip().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { skip().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { skip().Error(msg, fields...) }
func Panic(msg string, fields ...zap.Field) { skip().Panic(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { skip().Fatal(msg, fields...) }

// Sync 刷盘，忽略 stdout 不支持 sync 的错误
func Sync() error {
	err := GetGlobalLogger().Sync()
	if err != nil && strings.Contains(err.Error(), "/dev/stdout") {
		return nil
	}
	return err
}
