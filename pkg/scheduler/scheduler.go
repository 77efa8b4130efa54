// Package scheduler 按各自的间隔并发驱动数据源采集：超时、重试、陈旧检测、结果缓冲与回调通知。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/logger"
)

var (
	// ErrAlreadyRegistered 同名数据源已注册
	ErrAlreadyRegistered = errors.New("provider already registered")
	// ErrNotRegistered 数据源未注册
	ErrNotRegistered = errors.New("provider not registered")
	// ErrStopping 调度器正在停止
	ErrStopping = errors.New("scheduler is stopping")
)

// State 调度器状态
type State int32

const (
	NotRunning State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Callback 每次采集结束后调用，调用顺序不保证
type Callback func(name string, o collector.Outcome)

// maxLatencySamples 平均延迟的滚动窗口大小
const maxLatencySamples = 1000

// providerState 单个数据源的调度状态，只由该数据源自己的采集流程修改
type providerState struct {
	provider        collector.Provider
	buffer          *collector.Buffer
	retry           RetryConfig
	staleMultiplier float64

	// slot 容量为 1，保证同一数据源同一时刻最多一次采集
	slot chan struct{}

	mu          sync.RWMutex
	last        collector.Outcome
	hasLast     bool
	lastSuccess collector.Outcome
	hasSuccess  bool
	stale       bool
	timeouts    int64

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler 采集调度器
type Scheduler struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	order     []string
	// slots 按名称保存采集槽，注销后保留，重新注册的同名数据源沿用
	slots   map[string]chan struct{}
	state   State
	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	cbMu      sync.RWMutex
	callbacks map[int]Callback
	nextCB    int

	latMu     sync.Mutex
	latencies []float64

	cfg      Config
	clock    clockwork.Clock
	observer Observer
	log      *zap.Logger
}

// New 创建调度器
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		providers: make(map[string]*providerState),
		slots:     make(map[string]chan struct{}),
		callbacks: make(map[int]Callback),
		cfg:       DefaultConfig(),
		clock:     clockwork.NewRealClock(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("scheduler")
	}
	return s
}

// Register 注册数据源，未指定的选项取调度器默认配置
// 调度器运行中注册的启用数据源立即开始采集
func (s *Scheduler) Register(p collector.Provider, opts ...RegisterOption) error {
	reg := registration{
		bufferSize:      s.cfg.BufferSize,
		bufferMaxAge:    s.cfg.BufferMaxAge,
		retry:           s.cfg.Retry,
		staleMultiplier: s.cfg.StaleMultiplier,
	}
	for _, opt := range opts {
		opt(&reg)
	}
	if reg.staleMultiplier <= 0 {
		reg.staleMultiplier = DefaultStaleMultiplier
	}
	if reg.retry.MaxRetries < 1 {
		reg.retry.MaxRetries = 1
	}

	buf, err := collector.NewBuffer(reg.bufferSize, reg.bufferMaxAge, collector.WithBufferClock(s.clock))
	if err != nil {
		return fmt.Errorf("register %s: %w", p.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, p.Name())
	}
	ps := &providerState{
		provider:        p,
		buffer:          buf,
		retry:           reg.retry,
		staleMultiplier: reg.staleMultiplier,
		slot:            s.slotLocked(p.Name()),
	}
	s.providers[p.Name()] = ps
	s.order = append(s.order, p.Name())

	if s.state == Running && p.Enabled() {
		s.startLoopLocked(ps)
	}
	s.log.Debug("provider registered",
		zap.String("provider", p.Name()),
		zap.Duration("interval", p.Interval()),
		zap.Bool("retry", reg.retry.Enabled),
	)
	return nil
}

// slotLocked 返回名称对应的采集槽；注销前仍在进行的采集释放后，新循环才能获得该槽
func (s *Scheduler) slotLocked(name string) chan struct{} {
	slot, ok := s.slots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		s.slots[name] = slot
	}
	return slot
}

// Unregister 取消数据源的采集循环并删除全部状态，正在进行的采集不等待
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	ps, ok := s.providers[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	delete(s.providers, name)
	s.order = removeName(s.order, name)
	cancel := ps.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if f, ok := s.observer.(forgetter); ok {
		f.Forget(name)
	}
	s.log.Debug("provider unregistered", zap.String("provider", name))
	return nil
}

// Start 为每个启用的数据源启动一个采集循环，已运行时为空操作
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Running:
		return nil
	case Stopping:
		return ErrStopping
	}

	s.loopCtx, s.cancel = context.WithCancel(ctx)
	s.state = Running
	started := 0
	for _, name := range s.order {
		ps := s.providers[name]
		if !ps.provider.Enabled() {
			s.log.Debug("provider disabled, not scheduled", zap.String("provider", name))
			continue
		}
		s.startLoopLocked(ps)
		started++
	}
	s.log.Info("scheduler started", zap.Int("registered", len(s.order)), zap.Int("running", started))
	return nil
}

func (s *Scheduler) startLoopLocked(ps *providerState) {
	ctx, cancel := context.WithCancel(s.loopCtx)
	ps.cancel = cancel
	ps.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx, ps, ps.done)
}

// Stop 取消所有循环并最多等待 timeout；正在进行的采集会执行完毕
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-timer.C:
		s.log.Warn("scheduler stop timed out, collections still in flight", zap.Duration("timeout", timeout))
	}

	s.mu.Lock()
	for _, ps := range s.providers {
		ps.cancel = nil
		ps.done = nil
	}
	s.state = NotRunning
	s.mu.Unlock()
}

// State 当前状态
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) IsRunning() bool { return s.State() == Running }

// run 单个数据源的采集循环：采集 -> 等待 interval -> 重复，直到取消或数据源被禁用
func (s *Scheduler) run(ctx context.Context, ps *providerState, done chan struct{}) {
	name := ps.provider.Name()
	defer s.wg.Done()
	defer close(done)

	s.log.Debug("collection loop started", zap.String("provider", name))
	for !canceled(ctx) && ps.provider.Enabled() {
		s.cycle(ctx, ps)
		if canceled(ctx) {
			break
		}
		select {
		case <-ctx.Done():
		case <-s.clock.After(ps.provider.Interval()):
		}
	}
	s.log.Debug("collection loop stopped", zap.String("provider", name))
}

// cycle 一个采集周期，panic 只影响本周期
func (s *Scheduler) cycle(ctx context.Context, ps *providerState) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("collection cycle panicked", zap.String("provider", ps.provider.Name()), zap.Any("panic", r))
		}
	}()
	s.collect(ctx, ps)
}

// collect 执行一次有界采集并处理结果；ctx 结束时放弃等待采集槽
func (s *Scheduler) collect(ctx context.Context, ps *providerState) (collector.Outcome, bool) {
	o, ok := s.bounded(ctx, ps)
	if !ok {
		return o, false
	}
	s.handle(ps, o)
	return o, true
}

// bounded 在截止时间内执行采集：开启重试时为 timeout*maxRetries，否则为 timeout
// 采集本身不受 ctx 取消影响，只受截止时间约束
func (s *Scheduler) bounded(ctx context.Context, ps *providerState) (collector.Outcome, bool) {
	p := ps.provider
	select {
	case ps.slot <- struct{}{}:
	case <-ctx.Done():
		return collector.Outcome{}, false
	}

	deadline := p.Timeout()
	if ps.retry.Enabled {
		deadline *= time.Duration(ps.retry.MaxRetries)
	}
	cctx, cancel := clockwork.WithTimeout(context.WithoutCancel(ctx), s.clock, deadline)
	start := s.clock.Now()

	result := make(chan collector.Outcome, 1)
	go func() {
		defer func() { <-ps.slot }()
		defer cancel()
		if ps.retry.Enabled {
			result <- collector.CollectWithRetry(cctx, p, ps.retry.MaxRetries, ps.retry.BaseDelay)
		} else {
			result <- collector.SafeCollect(cctx, p)
		}
	}()

	select {
	case o := <-result:
		return o, true
	case <-cctx.Done():
	}
	select {
	case o := <-result:
		return o, true
	default:
	}

	ps.mu.Lock()
	ps.timeouts++
	ps.mu.Unlock()
	s.observer.ObserveTimeout(p.Name())
	s.log.Warn("collection timed out", zap.String("provider", p.Name()), zap.Duration("deadline", deadline))

	err := &collector.Error{
		Kind:      collector.KindTimeout,
		Retryable: true,
		Err:       fmt.Errorf("collection timed out after %s", p.Timeout()),
	}
	return collector.FailureOutcome(p.Name(), err, s.clock.Since(start), s.clock.Now()), true
}

// handle 成功时写入缓冲区并清除陈旧标记，失败时做陈旧检测，最后通知观察者和回调
func (s *Scheduler) handle(ps *providerState, o collector.Outcome) {
	name := ps.provider.Name()

	ps.mu.Lock()
	ps.last, ps.hasLast = o, true
	if o.Success {
		ps.buffer.Add(o)
		ps.lastSuccess, ps.hasSuccess = o, true
		if ps.stale {
			ps.stale = false
			s.log.Info("provider recovered", zap.String("provider", name))
		}
	} else if ps.hasSuccess && !ps.stale {
		elapsed := s.clock.Since(ps.lastSuccess.Timestamp)
		threshold := time.Duration(float64(ps.provider.Interval()) * ps.staleMultiplier)
		if elapsed > threshold {
			ps.stale = true
			s.log.Warn("provider data is stale",
				zap.String("provider", name),
				zap.Duration("since_last_success", elapsed),
				zap.Duration("threshold", threshold),
				zap.String("error", o.Error),
			)
		}
	}
	stale := ps.stale
	ps.mu.Unlock()

	if !o.Success {
		s.log.Debug("collection failed", zap.String("provider", name), zap.String("error", o.Error))
	}

	s.recordLatency(o.DurationMS())
	s.observer.ObserveOutcome(o)
	s.observer.SetStale(name, stale)
	s.observer.SetBufferSize(name, ps.buffer.Size())
	s.notify(name, o)
}

func (s *Scheduler) recordLatency(ms float64) {
	s.latMu.Lock()
	s.latencies = append(s.latencies, ms)
	if n := len(s.latencies); n > maxLatencySamples {
		s.latencies = append(s.latencies[:0], s.latencies[n-maxLatencySamples:]...)
	}
	s.latMu.Unlock()
}

// AddCallback 注册回调，返回用于 RemoveCallback 的 id
func (s *Scheduler) AddCallback(cb Callback) int {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextCB++
	s.callbacks[s.nextCB] = cb
	return s.nextCB
}

// RemoveCallback 删除回调，id 不存在返回 false
func (s *Scheduler) RemoveCallback(id int) bool {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	_, ok := s.callbacks[id]
	delete(s.callbacks, id)
	return ok
}

func (s *Scheduler) notify(name string, o collector.Outcome) {
	s.cbMu.RLock()
	cbs := make([]Callback, 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		cbs = append(cbs, cb)
	}
	s.cbMu.RUnlock()

	for _, cb := range cbs {
		s.invoke(cb, name, o)
	}
}

func (s *Scheduler) invoke(cb Callback, name string, o collector.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("callback panicked", zap.String("provider", name), zap.Any("panic", r))
		}
	}()
	cb(name, o)
}

func (s *Scheduler) lookup(name string) (*providerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return ps, nil
}

// CollectOnce 在调度之外执行一次有界采集，与循环中的采集互斥
func (s *Scheduler) CollectOnce(ctx context.Context, name string) (collector.Outcome, error) {
	ps, err := s.lookup(name)
	if err != nil {
		return collector.Outcome{}, err
	}
	o, ok := s.collect(ctx, ps)
	if !ok {
		return collector.Outcome{}, ctx.Err()
	}
	return o, nil
}

// CollectAllOnce 并发地对所有已注册数据源执行一次采集
func (s *Scheduler) CollectAllOnce(ctx context.Context) map[string]collector.Outcome {
	names := s.Collectors()
	out := make(map[string]collector.Outcome, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			o, err := s.CollectOnce(ctx, name)
			if err != nil {
				return
			}
			mu.Lock()
			out[name] = o
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return out
}

// IsStale 数据源数据是否陈旧，未注册返回 false
func (s *Scheduler) IsStale(name string) bool {
	ps, err := s.lookup(name)
	if err != nil {
		return false
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.stale
}

// Latest 最近一次采集结果（成功或失败）
func (s *Scheduler) Latest(name string) (collector.Outcome, bool) {
	ps, err := s.lookup(name)
	if err != nil {
		return collector.Outcome{}, false
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.last, ps.hasLast
}

// LastSuccessfulData 最近一次成功采集的数据
func (s *Scheduler) LastSuccessfulData(name string) (collector.Record, bool) {
	ps, err := s.lookup(name)
	if err != nil {
		return nil, false
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if !ps.hasSuccess {
		return nil, false
	}
	return ps.lastSuccess.Data, true
}

// Buffer 数据源的结果缓冲区
func (s *Scheduler) Buffer(name string) (*collector.Buffer, error) {
	ps, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return ps.buffer, nil
}

// Provider 已注册的数据源
func (s *Scheduler) Provider(name string) (collector.Provider, error) {
	ps, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return ps.provider, nil
}

// Collectors 已注册数据源名，按注册顺序
func (s *Scheduler) Collectors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func canceled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
