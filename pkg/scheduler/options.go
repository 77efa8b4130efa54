package scheduler

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/uptop/pkg/collector"
)

// DefaultStaleMultiplier 超过 interval*multiplier 未成功即视为数据陈旧
const DefaultStaleMultiplier = 3.0

// RetryConfig 单个数据源的重试配置
type RetryConfig struct {
	Enabled    bool          `json:"enabled"`
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
}

// DefaultRetryConfig 默认开启，最多 3 次，基础间隔 500ms
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Enabled: true, MaxRetries: 3, BaseDelay: 500 * time.Millisecond}
}

// Config Register 未指定时使用的默认值
type Config struct {
	BufferSize      int
	BufferMaxAge    time.Duration
	StaleMultiplier float64
	Retry           RetryConfig
}

// DefaultConfig 默认调度配置
func DefaultConfig() Config {
	return Config{
		BufferSize:      collector.DefaultBufferSize,
		BufferMaxAge:    collector.DefaultBufferMaxAge,
		StaleMultiplier: DefaultStaleMultiplier,
		Retry:           DefaultRetryConfig(),
	}
}

// Observer 接收调度事件，pkg/metrics.SchedulerMetrics 实现该接口
type Observer interface {
	ObserveOutcome(o collector.Outcome)
	ObserveTimeout(provider string)
	SetStale(provider string, stale bool)
	SetBufferSize(provider string, n int)
}

// forgetter 可选：数据源注销时清理观察者状态
type forgetter interface {
	Forget(provider string)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(collector.Outcome) {}
func (nopObserver) ObserveTimeout(string)            {}
func (nopObserver) SetStale(string, bool)            {}
func (nopObserver) SetBufferSize(string, int)        {}

// Option Scheduler 可选项
type Option func(*Scheduler)

// WithLogger 指定 logger，默认 logger.Named("scheduler")
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock 注入时钟，测试使用 clockwork.NewFakeClock
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithObserver 注入调度事件观察者
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithConfig 覆盖默认调度配置
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// registration Register 时的单数据源配置
type registration struct {
	bufferSize      int
	bufferMaxAge    time.Duration
	retry           RetryConfig
	staleMultiplier float64
}

// RegisterOption Register 可选项
type RegisterOption func(*registration)

// WithBuffer 结果缓冲区容量与最长保留时间（0 表示不限时）
func WithBuffer(size int, maxAge time.Duration) RegisterOption {
	return func(r *registration) {
		r.bufferSize = size
		r.bufferMaxAge = maxAge
	}
}

func WithRetry(cfg RetryConfig) RegisterOption {
	return func(r *registration) { r.retry = cfg }
}

// WithoutRetry 每个周期只尝试一次
func WithoutRetry() RegisterOption {
	return func(r *registration) { r.retry.Enabled = false }
}

func WithStaleMultiplier(m float64) RegisterOption {
	return func(r *registration) { r.staleMultiplier = m }
}
