package registry

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/uptop/pkg/plugin"
)

func reflectImplements(p any, iface reflect.Type) bool {
	return iface != nil && reflect.TypeOf(p).Implements(iface)
}

// callHook 执行插件钩子，panic 转换为错误
func callHook(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %q panicked: %v", name, rec)
		}
	}()
	return fn()
}

type namedPlugin struct {
	name     string
	instance plugin.Plugin
}

// snapshot 按注册顺序复制插件列表，调用钩子时不持锁
func (r *Registry) snapshot() []namedPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]namedPlugin, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, namedPlugin{name: name, instance: r.entries[name].instance})
	}
	return out
}

// InitializeAll 注入依赖并初始化所有启用的插件
// 失败的插件被禁用，返回失败的插件名
func (r *Registry) InitializeAll(cfg map[string]map[string]any, deps plugin.Dependencies) []string {
	r.mu.Lock()
	r.config = cfg
	r.deps = deps
	r.mu.Unlock()

	var failed []string
	for _, np := range r.snapshot() {
		if !np.instance.Enabled() || np.instance.Initialized() {
			continue
		}
		if err := r.initializeOne(np.name, np.instance, cfg[np.name], deps); err != nil {
			np.instance.SetEnabled(false)
			failed = append(failed, np.name)
			r.observer.PluginFailed(np.name, "initialize")
			r.log.Error("plugin initialization failed, plugin disabled", zap.String("plugin", np.name), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.log.Info("plugins initialized", zap.Int("total", r.Len()), zap.Strings("failed", failed))
	return failed
}

func (r *Registry) initializeOne(name string, p plugin.Plugin, cfg map[string]any, deps plugin.Dependencies) error {
	if inj, ok := p.(plugin.Injector); ok && deps != nil {
		if err := callHook(name, func() error { return inj.Inject(deps) }); err != nil {
			return newError(ErrInitialization, name, err)
		}
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := callHook(name, func() error { return p.Initialize(cfg) }); err != nil {
		return newError(ErrInitialization, name, err)
	}
	return nil
}

// StartAll 调用启用插件的 Start 钩子，失败的插件被禁用，返回失败的插件名
func (r *Registry) StartAll() []string {
	if !r.IsInitialized() {
		r.log.Warn("starting plugins before InitializeAll")
	}

	var failed []string
	for _, np := range r.snapshot() {
		if !np.instance.Enabled() {
			continue
		}
		s, ok := np.instance.(plugin.Starter)
		if !ok {
			continue
		}
		if err := callHook(np.name, s.Start); err != nil {
			np.instance.SetEnabled(false)
			failed = append(failed, np.name)
			r.observer.PluginFailed(np.name, "start")
			r.log.Error("plugin start failed, plugin disabled", zap.String("plugin", np.name), zap.Error(newError(ErrLifecycle, np.name, err)))
		}
	}

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	return failed
}

// StopAll 按注册的逆序调用启用插件的 Stop 钩子，返回失败的插件名
func (r *Registry) StopAll() []string {
	plugins := r.snapshot()
	var failed []string
	for i := len(plugins) - 1; i >= 0; i-- {
		np := plugins[i]
		if !np.instance.Enabled() {
			continue
		}
		s, ok := np.instance.(plugin.Stopper)
		if !ok {
			continue
		}
		if err := callHook(np.name, s.Stop); err != nil {
			failed = append(failed, np.name)
			r.observer.PluginFailed(np.name, "stop")
			r.log.Error("plugin stop failed", zap.String("plugin", np.name), zap.Error(newError(ErrLifecycle, np.name, err)))
		}
	}

	r.mu.Lock()
	r.started = false
	r.mu.Unlock()
	return failed
}

// ShutdownAll 必要时先 StopAll，再按逆序关闭已初始化的插件并清空依赖
func (r *Registry) ShutdownAll() []string {
	if r.IsStarted() {
		r.StopAll()
	}

	plugins := r.snapshot()
	var failed []string
	for i := len(plugins) - 1; i >= 0; i-- {
		np := plugins[i]
		if !np.instance.Initialized() {
			continue
		}
		if err := callHook(np.name, np.instance.Shutdown); err != nil {
			failed = append(failed, np.name)
			r.observer.PluginFailed(np.name, "shutdown")
			r.log.Error("plugin shutdown failed", zap.String("plugin", np.name), zap.Error(newError(ErrLifecycle, np.name, err)))
		}
	}

	r.mu.Lock()
	r.initialized = false
	r.deps = nil
	r.mu.Unlock()

	r.log.Info("plugins shut down", zap.Int("total", len(plugins)), zap.Strings("failed", failed))
	return failed
}
