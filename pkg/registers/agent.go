package registers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/providers"
	"github.com/uptop/pkg/registry"
	"github.com/uptop/pkg/scheduler"
)

// AgentImpl 把插件注册表与调度器串起来
type AgentImpl struct {
	cfg   *config.Config
	reg   *registry.Registry
	sched *scheduler.Scheduler
	log   *zap.Logger

	mu       sync.Mutex
	prepared bool
}

var _ Agent = (*AgentImpl)(nil)

// NewAgent 用已构建的注册表与调度器组装 agent
func NewAgent(cfg *config.Config, reg *registry.Registry, sched *scheduler.Scheduler) *AgentImpl {
	return &AgentImpl{
		cfg:   cfg,
		reg:   reg,
		sched: sched,
		log:   logger.Named("agent"),
	}
}

func (a *AgentImpl) Registry() *registry.Registry    { return a.reg }
func (a *AgentImpl) Scheduler() *scheduler.Scheduler { return a.sched }

// Prepare 初始化并启动插件，把面板的数据源注册到调度器
// panes 为空时加载全部延迟插件；重复调用只注册新出现的面板
func (a *AgentImpl) Prepare(ctx context.Context, panes ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.prepared {
		deps := plugin.Dependencies{
			"logger":    logger.Named("plugin"),
			"scheduler": a.sched,
			"registry":  a.reg,
		}
		if failed := a.reg.InitializeAll(a.cfg.Plugins.Settings, deps); len(failed) > 0 {
			a.log.Warn("some plugins failed to initialize", zap.Strings("plugins", failed))
		}
		if failed := a.reg.StartAll(); len(failed) > 0 {
			a.log.Warn("some plugins failed to start", zap.Strings("plugins", failed))
		}
		a.prepared = true
	}

	var errs error
	if len(panes) == 0 {
		if failed := a.reg.LoadAllDeferred(); len(failed) > 0 {
			a.log.Warn("deferred plugins failed to load", zap.Strings("plugins", failed))
		}
		for _, p := range a.reg.ByCategory(plugin.CategoryPane) {
			errs = multierr.Append(errs, a.registerPane(p))
		}
		return errs
	}

	for _, name := range panes {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := a.reg.Pane(name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pane %s: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, a.registerPane(p))
	}
	return errs
}

// registerPane 面板启用且带数据源时交给调度器，面板级 interval 覆盖生效
func (a *AgentImpl) registerPane(p plugin.Plugin) error {
	src, ok := p.(plugin.ProviderSource)
	if !ok || !p.Enabled() {
		return nil
	}
	prov := src.Provider()
	name := prov.Name()
	if !a.cfg.PaneEnabled(name) {
		prov.SetEnabled(false)
		return nil
	}
	a.applySchedulerDefaults(prov)
	if pc, ok := a.cfg.Panes[name]; ok && pc.Interval > 0 {
		if err := prov.SetInterval(pc.Interval); err != nil {
			return fmt.Errorf("pane %s: %w", name, err)
		}
	}
	if slices.Contains(a.sched.Collectors(), name) {
		return nil
	}
	if err := a.sched.Register(prov); err != nil && !errors.Is(err, scheduler.ErrAlreadyRegistered) {
		return err
	}
	return nil
}

// applySchedulerDefaults 非内置数据源且插件配置未指定时，使用 scheduler.interval/timeout
func (a *AgentImpl) applySchedulerDefaults(prov collector.Provider) {
	name := prov.Name()
	if providers.IsBuiltin(name) {
		return
	}
	settings := a.cfg.Plugins.Settings[name]
	if _, ok := settings["interval"]; !ok && a.cfg.Scheduler.Interval > 0 {
		_ = prov.SetInterval(a.cfg.Scheduler.Interval)
	}
	if _, ok := settings["timeout"]; !ok && a.cfg.Scheduler.Timeout > 0 {
		if b, ok := prov.(interface{ SetTimeout(time.Duration) }); ok {
			b.SetTimeout(a.cfg.Scheduler.Timeout)
		}
	}
}

// Start 准备全部面板并启动后台采集
func (a *AgentImpl) Start(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		a.log.Warn("agent prepared with errors", zap.Error(err))
	}
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.log.Info("agent started", zap.Strings("collectors", a.sched.Collectors()))
	return nil
}

// Snapshot 对指定面板（为空时为全部）立即采集一次并组装快照
func (a *AgentImpl) Snapshot(ctx context.Context, panes ...string) (plugin.Snapshot, error) {
	if err := a.Prepare(ctx, panes...); err != nil {
		a.log.Warn("snapshot prepared with errors", zap.Error(err))
	}
	outcomes := a.collect(ctx, panes)
	if err := ctx.Err(); err != nil {
		return plugin.Snapshot{}, err
	}

	snap := plugin.Snapshot{
		ID:        uuid.NewString(),
		Timestamp: snapshotTime(outcomes),
		Hostname:  hostname(ctx),
		Panes:     make(map[string]collector.Record, len(outcomes)),
		Errors:    map[string]string{},
	}
	for name, o := range outcomes {
		if o.Success {
			snap.Panes[name] = o.Data
		} else {
			snap.Errors[name] = o.Error
		}
	}
	for _, name := range panes {
		if _, ok := outcomes[name]; !ok {
			snap.Errors[name] = "pane not available"
		}
	}
	if len(snap.Errors) == 0 {
		snap.Errors = nil
	}
	return snap, nil
}

// collect 并发采集指定面板，为空时采集全部
func (a *AgentImpl) collect(ctx context.Context, panes []string) map[string]collector.Outcome {
	if len(panes) == 0 {
		return a.sched.CollectAllOnce(ctx)
	}
	out := make(map[string]collector.Outcome, len(panes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range panes {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			o, err := a.sched.CollectOnce(ctx, name)
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

// snapshotTime 快照时间取最晚一次采集的时间
func snapshotTime(outcomes map[string]collector.Outcome) (ts time.Time) {
	for _, o := range outcomes {
		if o.Timestamp.After(ts) {
			ts = o.Timestamp
		}
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC()
}

// Shutdown 停止调度器，然后依次 Stop、Shutdown 全部插件
func (a *AgentImpl) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Scheduler.StopTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	a.sched.Stop(timeout)

	var errs error
	if failed := a.reg.StopAll(); len(failed) > 0 {
		errs = multierr.Append(errs, fmt.Errorf("stop plugins: %v", failed))
	}
	if failed := a.reg.ShutdownAll(); len(failed) > 0 {
		errs = multierr.Append(errs, fmt.Errorf("shutdown plugins: %v", failed))
	}
	if errs != nil {
		a.log.Error("agent shutdown with errors", zap.Error(errs))
		return errs
	}
	a.log.Info("agent stopped")
	return nil
}

func hostname(ctx context.Context) string {
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	name, _ := os.Hostname()
	return name
}
