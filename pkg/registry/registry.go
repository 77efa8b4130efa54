// Package registry 负责插件的发现、校验、注册、查找与生命周期管理。
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/plugin"
)

// Observer 接收插件失败事件（用于自监控指标）
type Observer interface {
	PluginFailed(name, stage string)
}

type nopObserver struct{}

func (nopObserver) PluginFailed(string, string) {}

type entry struct {
	factory  plugin.Factory
	meta     plugin.Metadata
	instance plugin.Plugin
}

// Option Registry 可选项
type Option func(*Registry)

// WithLogger 指定 logger，默认 logger.Named("registry")
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithStrict 严格模式：发现阶段任何失败立即返回错误
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// WithSources 追加发现来源
func WithSources(sources ...Source) Option {
	return func(r *Registry) { r.sources = append(r.sources, sources...) }
}

// WithObserver 注入失败事件观察者
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLazy 启用延迟加载：标记为 Deferred 的定义在首次查找时才实例化
func WithLazy(lazy bool) Option {
	return func(r *Registry) { r.lazy = lazy }
}

// Registry 插件注册表
type Registry struct {
	mu       sync.RWMutex
	loadMu   sync.Mutex
	entries  map[string]*entry
	order    []string
	failed   map[string]error
	deferred map[string]Candidate

	config      map[string]map[string]any
	deps        plugin.Dependencies
	initialized bool
	started     bool

	sources  []Source
	strict   bool
	lazy     bool
	observer Observer
	log      *zap.Logger
}

// New 创建插件注册表
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		failed:   make(map[string]error),
		deferred: make(map[string]Candidate),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Named("registry")
	}
	return r
}

// DiscoverAll 依次从所有来源发现并注册插件，返回成功注册的数量
// 宽松模式下失败记录到 FailedPlugins；严格模式下遇到第一个失败即返回
func (r *Registry) DiscoverAll(ctx context.Context) (int, error) {
	registered := 0
	for _, src := range r.sources {
		cands, err := src.Discover(ctx)
		if err != nil {
			wrapped := newError(ErrLoad, src.Name(), err)
			if r.strict {
				return registered, wrapped
			}
			r.recordFailure(src.Name(), "discover", wrapped)
			continue
		}

		for _, c := range cands {
			if c.Err != nil {
				wrapped := newError(ErrLoad, c.Key, c.Err)
				if r.strict {
					return registered, wrapped
				}
				r.recordFailure(c.Key, "load", wrapped)
				continue
			}

			if r.lazy && c.Factory.Deferred {
				r.mu.Lock()
				r.deferred[c.Factory.Name] = c
				r.mu.Unlock()
				r.log.Debug("plugin deferred", zap.String("plugin", c.Factory.Name), zap.String("source", c.Locator))
				continue
			}

			if _, err := r.Register(c.Factory, c.Locator); err != nil {
				if r.strict {
					return registered, err
				}
				r.recordFailure(c.Factory.Name, "register", err)
				continue
			}
			registered++
		}
	}

	r.log.Info("plugin discovery finished",
		zap.Int("registered", registered),
		zap.Int("failed", len(r.FailedPlugins())),
		zap.Int("deferred", len(r.Pending())),
	)
	return registered, nil
}

func (r *Registry) recordFailure(name, stage string, err error) {
	r.mu.Lock()
	r.failed[name] = err
	r.mu.Unlock()
	r.observer.PluginFailed(name, stage)
	r.log.Warn("plugin failed", zap.String("plugin", name), zap.String("stage", stage), zap.Error(err))
}

// Register 校验并实例化插件定义
// 同名插件来源相同视为覆盖（记录警告），来源不同返回 ErrConflict
func (r *Registry) Register(f plugin.Factory, locator string) (plugin.Plugin, error) {
	if err := Validate(f); err != nil {
		return nil, err
	}

	r.mu.RLock()
	existing, exists := r.entries[f.Name]
	r.mu.RUnlock()
	if exists && existing.meta.Source != locator {
		return nil, errorf(ErrConflict, f.Name, "already registered from %s (new source %s)", existing.meta.Source, locator)
	}

	instance, err := instantiate(f)
	if err != nil {
		return nil, err
	}

	meta := f.Metadata
	meta.Source = locator

	r.mu.Lock()
	if old, ok := r.entries[f.Name]; ok {
		if old.meta.Source != locator {
			r.mu.Unlock()
			return nil, errorf(ErrConflict, f.Name, "already registered from %s (new source %s)", old.meta.Source, locator)
		}
		r.log.Warn("overriding plugin from same source", zap.String("plugin", f.Name), zap.String("source", locator))
		if old.instance.Initialized() {
			_ = old.instance.Shutdown()
		}
	} else {
		r.order = append(r.order, f.Name)
	}
	r.entries[f.Name] = &entry{factory: f, meta: meta, instance: instance}
	delete(r.failed, f.Name)
	delete(r.deferred, f.Name)
	r.mu.Unlock()

	r.log.Debug("plugin registered",
		zap.String("plugin", f.Name),
		zap.String("category", string(meta.Category)),
		zap.String("version", meta.Version),
		zap.String("source", locator),
	)
	return instance, nil
}

// instantiate 调用构造函数，构造失败或 panic 记为加载错误
func instantiate(f plugin.Factory) (p plugin.Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, errorf(ErrLoad, f.Name, "constructor panicked: %v", rec)
		}
	}()

	p, err = f.New()
	if err != nil {
		return nil, newError(ErrLoad, f.Name, err)
	}
	if p == nil {
		return nil, errorf(ErrLoad, f.Name, "constructor returned nil")
	}
	capability, _ := f.Metadata.Category.Capability()
	if !reflectImplements(p, capability) {
		return nil, errorf(ErrValidation, f.Name, "instance %T does not implement %s", p, capability)
	}
	return p, nil
}

// Unregister 停止并关闭插件后从所有索引中移除（包括失败记录）
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	_, failed := r.failed[name]
	_, pending := r.deferred[name]
	delete(r.failed, name)
	delete(r.deferred, name)
	if ok {
		delete(r.entries, name)
		r.order = removeName(r.order, name)
	}
	started := r.started
	r.mu.Unlock()

	if !ok {
		if failed || pending {
			return nil
		}
		return errorf(ErrNotFound, name, "not registered")
	}

	if started && e.instance.Enabled() {
		if s, ok := e.instance.(plugin.Stopper); ok {
			if err := callHook(name, s.Stop); err != nil {
				r.log.Warn("stop plugin failed", zap.String("plugin", name), zap.Error(err))
			}
		}
	}
	if e.instance.Initialized() {
		if err := callHook(name, e.instance.Shutdown); err != nil {
			r.log.Warn("shutdown plugin failed", zap.String("plugin", name), zap.Error(err))
		}
	}
	r.log.Debug("plugin unregistered", zap.String("plugin", name))
	return nil
}

// Clear 清空所有插件、失败记录和生命周期状态（不调用插件钩子）
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.order = nil
	r.failed = make(map[string]error)
	r.deferred = make(map[string]Candidate)
	r.config = nil
	r.deps = nil
	r.initialized = false
	r.started = false
}

// Get 按名称查找插件，延迟加载的插件在此时实例化
func (r *Registry) Get(name string) (plugin.Plugin, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e.instance, nil
	}
	return r.ensureLoaded(name)
}

func lookup[T any](r *Registry, name string, category plugin.Category) (T, error) {
	var zero T
	p, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	meta, _ := r.Metadata(name)
	typed, ok := p.(T)
	if !ok || meta.Category != category {
		return zero, errorf(ErrNotFound, name, "is a %s plugin, not a %s", meta.Category, category)
	}
	return typed, nil
}

// Pane 查找面板插件，分类不符返回 ErrNotFound
func (r *Registry) Pane(name string) (plugin.Pane, error) {
	return lookup[plugin.Pane](r, name, plugin.CategoryPane)
}

// Collector 查找采集插件
func (r *Registry) Collector(name string) (plugin.Collector, error) {
	return lookup[plugin.Collector](r, name, plugin.CategoryCollector)
}

// Formatter 查找格式化插件
func (r *Registry) Formatter(name string) (plugin.Formatter, error) {
	return lookup[plugin.Formatter](r, name, plugin.CategoryFormatter)
}

// Action 查找动作插件
func (r *Registry) Action(name string) (plugin.Action, error) {
	return lookup[plugin.Action](r, name, plugin.CategoryAction)
}

// ByCategory 指定分类的插件，按注册顺序
func (r *Registry) ByCategory(category plugin.Category) []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []plugin.Plugin
	for _, name := range r.order {
		if e := r.entries[name]; e.meta.Category == category {
			out = append(out, e.instance)
		}
	}
	return out
}

// Enabled 所有启用的插件，按注册顺序
func (r *Registry) Enabled() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []plugin.Plugin
	for _, name := range r.order {
		if e := r.entries[name]; e.instance.Enabled() {
			out = append(out, e.instance)
		}
	}
	return out
}

// Metadata 单个插件的元数据（Enabled 为当前状态）
func (r *Registry) Metadata(name string) (plugin.Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return plugin.Metadata{}, false
	}
	meta := e.meta
	meta.Enabled = e.instance.Enabled()
	return meta, true
}

// AllMetadata 全部插件元数据，按注册顺序
func (r *Registry) AllMetadata() []plugin.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugin.Metadata, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		meta := e.meta
		meta.Enabled = e.instance.Enabled()
		out = append(out, meta)
	}
	return out
}

// FailedPlugins 发现/注册失败的插件及原因
func (r *Registry) FailedPlugins() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.failed))
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names 已注册插件名，按注册顺序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Pending 尚未加载的延迟插件名（排序）
func (r *Registry) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.deferred))
	for name := range r.deferred {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

func (r *Registry) IsStarted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(plugins=%d, failed=%d, initialized=%t, started=%t)",
		r.Len(), len(r.FailedPlugins()), r.IsInitialized(), r.IsStarted())
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
