package registry

import (
	"go.uber.org/zap"

	"github.com/uptop/pkg/plugin"
)

// ensureLoaded 加载一个延迟插件；注册表已初始化/已启动时补做对应的生命周期
func (r *Registry) ensureLoaded(name string) (plugin.Plugin, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.mu.RLock()
	if e, ok := r.entries[name]; ok {
		r.mu.RUnlock()
		return e.instance, nil
	}
	c, ok := r.deferred[name]
	cfg := r.config[name]
	deps := r.deps
	initialized, started := r.initialized, r.started
	r.mu.RUnlock()
	if !ok {
		return nil, errorf(ErrNotFound, name, "not registered")
	}

	p, err := r.Register(c.Factory, c.Locator)
	if err != nil {
		r.mu.Lock()
		delete(r.deferred, name)
		r.mu.Unlock()
		r.recordFailure(name, "load", err)
		return nil, err
	}
	r.log.Debug("deferred plugin loaded", zap.String("plugin", name))

	if initialized && p.Enabled() {
		if err := r.initializeOne(name, p, cfg, deps); err != nil {
			p.SetEnabled(false)
			r.observer.PluginFailed(name, "initialize")
			r.log.Error("deferred plugin initialization failed", zap.String("plugin", name), zap.Error(err))
			return p, nil
		}
	}
	if started && p.Enabled() {
		if s, ok := p.(plugin.Starter); ok {
			if err := callHook(name, s.Start); err != nil {
				r.observer.PluginFailed(name, "start")
				r.log.Error("deferred plugin start failed", zap.String("plugin", name), zap.Error(err))
			}
		}
	}
	return p, nil
}

// EnsureLoaded 确保插件已加载（已注册则直接返回）
func (r *Registry) EnsureLoaded(name string) (plugin.Plugin, error) {
	return r.Get(name)
}

// LoadAllDeferred 加载全部延迟插件，返回加载失败的插件名
func (r *Registry) LoadAllDeferred() []string {
	var failed []string
	for _, name := range r.Pending() {
		if _, err := r.ensureLoaded(name); err != nil {
			failed = append(failed, name)
		}
	}
	return failed
}
