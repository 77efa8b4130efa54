package collector

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultInterval 默认采集间隔
	DefaultInterval = time.Second
	// DefaultTimeout 默认单次采集超时
	DefaultTimeout = 5 * time.Second
)

// ErrInvalidInterval 采集间隔必须为正数
var ErrInvalidInterval = errors.New("interval must be positive")

// Record 采集结果（由各数据源自定义的不透明数据），至少带有采集时间和来源名称
type Record interface {
	Timestamp() time.Time
	Source() string
}

// Meta 可嵌入的 Record 实现
type Meta struct {
	CollectedAt time.Time `json:"timestamp" yaml:"timestamp"`
	SourceName  string    `json:"source" yaml:"source"`
}

// NewMeta 创建 Meta
func NewMeta(source string, at time.Time) Meta {
	return Meta{CollectedAt: at, SourceName: source}
}

func (m Meta) Timestamp() time.Time { return m.CollectedAt }
func (m Meta) Source() string       { return m.SourceName }

// Provider 数据源核心接口（所有采集数据源必须实现）
// 实现方需要嵌入 *collector.Base，由 Base 保存配置与滚动统计
type Provider interface {
	Name() string                                // 数据源名称（唯一标识）
	Collect(ctx context.Context) (Record, error) // 执行一次采集
	Schema() reflect.Type                        // 采集结果的数据类型
	Interval() time.Duration
	SetInterval(d time.Duration) error
	Enabled() bool
	SetEnabled(enabled bool)
	Timeout() time.Duration
	Stats() Stats

	base() *Base
}

// Stats 数据源滚动统计
type Stats struct {
	TotalCollections    int64     `json:"total_collections"`
	FailedCollections   int64     `json:"failed_collections"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// SuccessRate 成功率，没有任何采集时为 1
func (s Stats) SuccessRate() float64 {
	if s.TotalCollections == 0 {
		return 1
	}
	return float64(s.TotalCollections-s.FailedCollections) / float64(s.TotalCollections)
}

// BaseOption Base 可选项
type BaseOption func(*Base)

// WithInterval 设置采集间隔
func WithInterval(d time.Duration) BaseOption {
	return func(b *Base) { b.interval = d }
}

// WithTimeout 设置单次采集超时
func WithTimeout(d time.Duration) BaseOption {
	return func(b *Base) { b.timeout = d }
}

// WithClock 注入时钟（测试使用 clockwork.NewFakeClock）
func WithClock(c clockwork.Clock) BaseOption {
	return func(b *Base) { b.clock = c }
}

// Base 数据源公共部分：名称、间隔、启用状态、超时与统计
type Base struct {
	mu       sync.RWMutex
	name     string
	interval time.Duration
	timeout  time.Duration
	enabled  bool
	clock    clockwork.Clock
	stats    Stats
}

// NewBase 创建 Base，非法的间隔/超时回退为默认值
func NewBase(name string, opts ...BaseOption) *Base {
	b := &Base{
		name:     name,
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		enabled:  true,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	return b
}

func (b *Base) base() *Base { return b }

// Name 返回数据源名称
func (b *Base) Name() string { return b.name }

// Interval 返回采集间隔
func (b *Base) Interval() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interval
}

// SetInterval 修改采集间隔，必须为正数
func (b *Base) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w, got %s", ErrInvalidInterval, d)
	}
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
	return nil
}

func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

// Timeout 返回单次采集超时
func (b *Base) Timeout() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timeout
}

// SetTimeout 修改单次采集超时，非正数忽略
func (b *Base) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.timeout = d
	b.mu.Unlock()
}

// Clock 返回数据源使用的时钟
func (b *Base) Clock() clockwork.Clock { return b.clock }

// Stats 返回统计快照
func (b *Base) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// ResetStats 清空统计
func (b *Base) ResetStats() {
	b.mu.Lock()
	b.stats = Stats{}
	b.mu.Unlock()
}

func (b *Base) recordSuccess(at time.Time) {
	b.mu.Lock()
	b.stats.TotalCollections++
	b.stats.ConsecutiveFailures = 0
	b.stats.LastSuccess = at
	b.mu.Unlock()
}

func (b *Base) recordFailure() {
	b.mu.Lock()
	b.stats.TotalCollections++
	b.stats.FailedCollections++
	b.stats.ConsecutiveFailures++
	b.mu.Unlock()
}

// recordCut 被截止时间打断的采集只计入总次数
func (b *Base) recordCut() {
	b.mu.Lock()
	b.stats.TotalCollections++
	b.mu.Unlock()
}
