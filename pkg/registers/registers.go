package registers

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/config"
	"github.com/uptop/pkg/logger"
	"github.com/uptop/pkg/metrics"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/plugins"
	"github.com/uptop/pkg/providers"
	"github.com/uptop/pkg/registry"
	"github.com/uptop/pkg/scheduler"
)

// Module 内置扩展表中的一项
type Module struct {
	Enabled bool
	// Essential 为 false 时延迟到首次使用再加载
	Essential bool
	Name      string
	NewFunc   func() plugin.Factory
}

// Modules 内置扩展表（新增内置插件只需添加一条）
func Modules(cfg *config.Config) []Module {
	enabled := func(name string) bool {
		return !cfg.Plugins.IsDisabled(name) && cfg.PaneEnabled(name)
	}
	return []Module{
		{Enabled: enabled(providers.NameCPU), Essential: true, Name: providers.NameCPU, NewFunc: plugins.CPUPaneFactory},
		{Enabled: enabled(providers.NameMemory), Essential: true, Name: providers.NameMemory, NewFunc: plugins.MemoryPaneFactory},
		{Enabled: enabled(providers.NameProcesses), Essential: true, Name: providers.NameProcesses, NewFunc: plugins.ProcessesPaneFactory},
		{Enabled: enabled(providers.NameDisk), Name: providers.NameDisk, NewFunc: plugins.DiskPaneFactory},
		{Enabled: enabled(providers.NameNetwork), Name: providers.NameNetwork, NewFunc: plugins.NetworkPaneFactory},
		{Enabled: enabled("process_details"), Name: "process_details", NewFunc: plugins.ProcessDetailsFactory},
		{Enabled: enabled("json"), Essential: true, Name: "json", NewFunc: plugins.JSONFormatterFactory},
		{Enabled: enabled("yaml"), Essential: true, Name: "yaml", NewFunc: plugins.YAMLFormatterFactory},
		{Enabled: enabled("prometheus"), Essential: true, Name: "prometheus", NewFunc: plugins.PrometheusFormatterFactory},
		{Enabled: enabled("kill_process"), Name: "kill_process", NewFunc: plugins.KillProcessFactory},
	}
}

// Builtin 按配置生成内置插件定义，禁用的模块跳过
func Builtin(cfg *config.Config) []plugin.Factory {
	var out []plugin.Factory
	for _, m := range Modules(cfg) {
		if !m.Enabled {
			logger.Debug("builtin plugin disabled", zap.String("name", m.Name))
			continue
		}
		f := m.NewFunc()
		if !m.Essential {
			f = f.Defer()
		}
		out = append(out, f)
	}
	return out
}

// InitAgent 创建 Prometheus 注册器、插件注册表与调度器并完成插件发现
// promReg 用于 HTTP /metrics 暴露；返回的 agent 尚未启动
func InitAgent(ctx context.Context, enableProcess bool, cfg *config.Config) (*prometheus.Registry, *AgentImpl, error) {
	// 1. Prometheus 注册器（不注册 Go 运行时指标）
	promReg := metrics.NewRegistry(enableProcess)
	metricFactory := metrics.NewMetricFactory(metrics.NewPromRegistry(promReg))

	// 2. 插件注册表：内置表 + 插件目录
	sources := []registry.Source{registry.NewStaticSource("builtin", Builtin(cfg)...)}
	if dir := cfg.Plugins.PluginDirectory(); dir != "" {
		sources = append(sources, registry.NewDirectorySource(dir, registry.WithExecTimeout(cfg.Scheduler.Timeout)))
	}
	reg := registry.New(
		registry.WithLogger(logger.Named("registry")),
		registry.WithStrict(cfg.Plugins.Strict),
		registry.WithLazy(true),
		registry.WithObserver(metricFactory.NewPluginMetrics()),
		registry.WithSources(sources...),
	)
	n, err := reg.DiscoverAll(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("discover plugins: %w", err)
	}
	for _, name := range cfg.Plugins.Disabled {
		if !reg.Contains(name) {
			continue
		}
		if p, err := reg.Get(name); err == nil {
			p.SetEnabled(false)
		}
	}

	// 3. 调度器：默认值来自配置，采集结果同步到系统指标
	system := metricFactory.NewSystemCollector()
	sched := scheduler.New(
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithObserver(metricFactory.NewSchedulerMetrics()),
		scheduler.WithConfig(SchedulerConfig(cfg)),
	)
	sched.AddCallback(func(_ string, o collector.Outcome) { system.Update(o) })

	logger.Info("plugins discovered",
		zap.Int("registered", n),
		zap.Strings("deferred", reg.Pending()),
		zap.Int("failed", len(reg.FailedPlugins())),
	)
	return promReg, NewAgent(cfg, reg, sched), nil
}

// SchedulerConfig 配置文件中的调度参数
func SchedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.Scheduler
	return scheduler.Config{
		BufferSize:      sc.BufferSize,
		BufferMaxAge:    sc.BufferMaxAge,
		StaleMultiplier: sc.StaleMultiplier,
		Retry: scheduler.RetryConfig{
			Enabled:    sc.Retry.Enabled,
			MaxRetries: sc.Retry.MaxRetries,
			BaseDelay:  sc.Retry.BaseDelay,
		},
	}
}
