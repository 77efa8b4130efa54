package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PluginMetrics 插件发现与生命周期失败计数，实现 registry.Observer
type PluginMetrics struct {
	failures *prometheus.CounterVec
}

func (f *MetricFactory) NewPluginMetrics() *PluginMetrics {
	return &PluginMetrics{failures: f.NewPluginFailuresTotal()}
}

// NewPluginFailuresTotal stage 为 discover/load/register/initialize/start/stop/shutdown
func (f *MetricFactory) NewPluginFailuresTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "plugin_failures_total",
			Help:      "Total number of plugin failures by stage",
		},
		[]string{"plugin", "stage"},
	)
}

func (m *PluginMetrics) PluginFailed(name, stage string) {
	m.failures.WithLabelValues(name, stage).Inc()
}
