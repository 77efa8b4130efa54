package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uptop/pkg/collector"
)

// SchedulerMetrics 调度器自监控指标，实现 scheduler.Observer
type SchedulerMetrics struct {
	collections *prometheus.CounterVec
	failures    *prometheus.CounterVec
	timeouts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	stale       *prometheus.GaugeVec
	bufferSize  *prometheus.GaugeVec
}

// NewSchedulerMetrics 创建并注册调度器指标
func (f *MetricFactory) NewSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		collections: f.NewCollectionsTotal(),
		failures:    f.NewCollectionFailuresTotal(),
		timeouts:    f.NewCollectionTimeoutsTotal(),
		duration:    f.NewCollectionDurationSeconds(),
		stale:       f.NewProviderStale(),
		bufferSize:  f.NewBufferSize(),
	}
}

// NewCollectionsTotal 每个数据源完成的采集次数（含失败与超时）
func (f *MetricFactory) NewCollectionsTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "collections_total",
			Help:      "Total number of collections per provider",
		},
		[]string{"provider"},
	)
}

// NewCollectionFailuresTotal 失败的采集次数，kind 为错误分类
func (f *MetricFactory) NewCollectionFailuresTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "collection_failures_total",
			Help:      "Total number of failed collections per provider",
		},
		[]string{"provider", "kind"},
	)
}

func (f *MetricFactory) NewCollectionTimeoutsTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "collection_timeouts_total",
			Help:      "Total number of collections that exceeded their deadline",
		},
		[]string{"provider"},
	)
}

// NewCollectionDurationSeconds 采集耗时分布
// 分桶 0.001s ~ 4.096s
func (f *MetricFactory) NewCollectionDurationSeconds() *prometheus.HistogramVec {
	return promauto.With(f.reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "collection_duration_seconds",
			Help:      "Duration of provider collections",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"provider"},
	)
}

func (f *MetricFactory) NewProviderStale() *prometheus.GaugeVec {
	return promauto.With(f.reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "provider_stale",
			Help:      "Whether the provider's data is stale (1) or fresh (0)",
		},
		[]string{"provider"},
	)
}

func (f *MetricFactory) NewBufferSize() *prometheus.GaugeVec {
	return promauto.With(f.reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "buffer_size",
			Help:      "Number of results held in the provider's buffer",
		},
		[]string{"provider"},
	)
}

// ObserveOutcome 记录一次采集结果
func (m *SchedulerMetrics) ObserveOutcome(o collector.Outcome) {
	m.collections.WithLabelValues(o.Provider).Inc()
	m.duration.WithLabelValues(o.Provider).Observe(o.Duration.Seconds())
	if !o.Success {
		m.failures.WithLabelValues(o.Provider, string(o.Kind)).Inc()
	}
}

func (m *SchedulerMetrics) ObserveTimeout(provider string) {
	m.timeouts.WithLabelValues(provider).Inc()
}

func (m *SchedulerMetrics) SetStale(provider string, stale bool) {
	v := 0.0
	if stale {
		v = 1
	}
	m.stale.WithLabelValues(provider).Set(v)
}

func (m *SchedulerMetrics) SetBufferSize(provider string, n int) {
	m.bufferSize.WithLabelValues(provider).Set(float64(n))
}

// Forget 数据源注销后删除其全部序列
func (m *SchedulerMetrics) Forget(provider string) {
	labels := prometheus.Labels{"provider": provider}
	m.collections.DeletePartialMatch(labels)
	m.failures.DeletePartialMatch(labels)
	m.timeouts.DeletePartialMatch(labels)
	m.duration.DeletePartialMatch(labels)
	m.stale.DeletePartialMatch(labels)
	m.bufferSize.DeletePartialMatch(labels)
}
