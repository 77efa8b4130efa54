package collector

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// MockRecord 测试用采集结果
type MockRecord struct {
	Meta
	Value int64 `json:"value"`
}

// MockProvider 可配置的测试数据源，记录 Collect 调用次数
type MockProvider struct {
	*Base

	mu  sync.RWMutex
	err error

	calls atomic.Int64

	// CollectFunc 设置后覆盖默认的 Collect 行为
	CollectFunc func(ctx context.Context) (Record, error)
}

// MockOption MockProvider 可选项
type MockOption func(*MockProvider)

// WithError Collect 固定返回该错误
func WithError(err error) MockOption {
	return func(m *MockProvider) { m.err = err }
}

// WithCollectFunc 自定义 Collect
func WithCollectFunc(fn func(ctx context.Context) (Record, error)) MockOption {
	return func(m *MockProvider) { m.CollectFunc = fn }
}

// NewMockProvider 创建测试数据源
func NewMockProvider(name string, interval time.Duration, opts ...MockOption) *MockProvider {
	m := &MockProvider{Base: NewBase(name, WithInterval(interval))}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewMockProviderWithBase 使用自定义 Base 创建测试数据源
func NewMockProviderWithBase(b *Base, opts ...MockOption) *MockProvider {
	m := &MockProvider{Base: b}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Collect 返回计数递增的 MockRecord 或预设的错误
func (m *MockProvider) Collect(ctx context.Context) (Record, error) {
	n := m.calls.Add(1)
	if m.CollectFunc != nil {
		return m.CollectFunc(ctx)
	}
	m.mu.RLock()
	err := m.err
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &MockRecord{Meta: NewMeta(m.Name(), m.Clock().Now()), Value: n}, nil
}

func (m *MockProvider) Schema() reflect.Type { return reflect.TypeOf(MockRecord{}) }

// SetError 修改后续 Collect 的返回错误
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Calls Collect 被调用次数
func (m *MockProvider) Calls() int64 { return m.calls.Load() }
