package collector

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultBufferSize 默认缓冲区容量
	DefaultBufferSize = 1000
	// DefaultBufferMaxAge 默认缓冲区保留时长
	DefaultBufferMaxAge = 300 * time.Second
)

var (
	ErrInvalidBufferSize = errors.New("buffer max size must be positive")
	ErrInvalidBufferAge  = errors.New("buffer max age must not be negative")
)

type entry struct {
	outcome Outcome
	addedAt time.Time
}

// BufferStats 缓冲区统计
type BufferStats struct {
	CurrentSize  int       `json:"current_size"`
	MaxSize      int       `json:"max_size"`
	TotalAdded   int64     `json:"total_added"`
	TotalExpired int64     `json:"total_expired"`
	TotalEvicted int64     `json:"total_evicted"`
	Oldest       time.Time `json:"oldest,omitempty"`
	Newest       time.Time `json:"newest,omitempty"`
}

// BufferOption 缓冲区可选项
type BufferOption func(*Buffer)

// WithBufferClock 注入时钟
func WithBufferClock(c clockwork.Clock) BufferOption {
	return func(b *Buffer) { b.clock = c }
}

// Buffer 定长、按时间过期的采集结果历史（按插入顺序保存，线程安全）
// 保存整个 Outcome 而非单条记录，记录本身在 Outcome.Data 中
type Buffer struct {
	mu      sync.RWMutex
	entries []entry
	maxSize int
	maxAge  time.Duration // 0 表示不过期
	clock   clockwork.Clock

	totalAdded   int64
	totalExpired int64
	totalEvicted int64
}

// NewBuffer 创建缓冲区，maxAge 为 0 表示不按时间过期
func NewBuffer(maxSize int, maxAge time.Duration, opts ...BufferOption) (*Buffer, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidBufferSize, maxSize)
	}
	if maxAge < 0 {
		return nil, fmt.Errorf("%w, got %s", ErrInvalidBufferAge, maxAge)
	}
	b := &Buffer{
		entries: make([]entry, 0, min(maxSize, 64)),
		maxSize: maxSize,
		maxAge:  maxAge,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Add 追加结果：先清理过期项，满了再淘汰最旧的一条
func (b *Buffer) Add(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.expireLocked(now)
	if len(b.entries) >= b.maxSize {
		drop := len(b.entries) - b.maxSize + 1
		b.entries = append(b.entries[:0], b.entries[drop:]...)
		b.totalEvicted += int64(drop)
	}
	b.entries = append(b.entries, entry{outcome: o, addedAt: now})
	b.totalAdded++
}

func (b *Buffer) expireLocked(now time.Time) {
	if b.maxAge <= 0 || len(b.entries) == 0 {
		return
	}
	cutoff := now.Add(-b.maxAge)
	n := 0
	for n < len(b.entries) && b.entries[n].addedAt.Before(cutoff) {
		n++
	}
	if n == 0 {
		return
	}
	b.entries = append(b.entries[:0], b.entries[n:]...)
	b.totalExpired += int64(n)
}

// Latest 最新一条结果
func (b *Buffer) Latest() (Outcome, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return Outcome{}, false
	}
	return b.entries[len(b.entries)-1].outcome, true
}

// LatestN 最新的 n 条结果，最新在前
func (b *Buffer) LatestN(n int) []Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	n = min(n, len(b.entries))
	out := make([]Outcome, 0, n)
	for i := len(b.entries) - 1; i >= len(b.entries)-n; i-- {
		out = append(out, b.entries[i].outcome)
	}
	return out
}

// All 全部结果，最旧在前
func (b *Buffer) All() []Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Outcome, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.outcome
	}
	return out
}

// Since 结果时间戳不早于 t 的结果
func (b *Buffer) Since(t time.Time) []Outcome {
	return b.filter(func(o Outcome) bool { return !o.Timestamp.Before(t) })
}

// InRange 结果时间戳落在 [start, end] 内的结果
func (b *Buffer) InRange(start, end time.Time) []Outcome {
	return b.filter(func(o Outcome) bool {
		return !o.Timestamp.Before(start) && !o.Timestamp.After(end)
	})
}

func (b *Buffer) filter(keep func(Outcome) bool) []Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Outcome
	for _, e := range b.entries {
		if keep(e.outcome) {
			out = append(out, e.outcome)
		}
	}
	return out
}

func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Buffer) IsEmpty() bool { return b.Size() == 0 }

// Clear 清空内容，累计计数保留
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = b.entries[:0]
	b.mu.Unlock()
}

// SetMaxAge 修改保留时长并立即清理过期项
func (b *Buffer) SetMaxAge(maxAge time.Duration) error {
	if maxAge < 0 {
		return fmt.Errorf("%w, got %s", ErrInvalidBufferAge, maxAge)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxAge = maxAge
	b.expireLocked(b.clock.Now())
	return nil
}

// MaxAge 当前保留时长
func (b *Buffer) MaxAge() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxAge
}

// Stats 统计快照
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := BufferStats{
		CurrentSize:  len(b.entries),
		MaxSize:      b.maxSize,
		TotalAdded:   b.totalAdded,
		TotalExpired: b.totalExpired,
		TotalEvicted: b.totalEvicted,
	}
	if len(b.entries) > 0 {
		s.Oldest = b.entries[0].outcome.Timestamp
		s.Newest = b.entries[len(b.entries)-1].outcome.Timestamp
	}
	return s
}
