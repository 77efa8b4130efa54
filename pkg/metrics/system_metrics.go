package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uptop/pkg/collector"
)

// SystemCollector 把各数据源最近一次成功采集展开的数值指标导出为 Prometheus 指标
// 指标名统一加上 uptop_ 前缀，标签集由数据源决定
type SystemCollector struct {
	mu      sync.RWMutex
	samples map[string][]collector.Sample
}

// NewSystemCollector 创建并注册系统指标收集器
func (f *MetricFactory) NewSystemCollector() *SystemCollector {
	c := &SystemCollector{samples: make(map[string][]collector.Sample)}
	f.reg.MustRegister(c)
	return c
}

// Update 用成功的采集结果替换该数据源的指标，失败结果或不可展开的数据忽略
func (c *SystemCollector) Update(o collector.Outcome) {
	if !o.Success {
		return
	}
	s, ok := o.Data.(collector.Sampler)
	if !ok {
		return
	}
	samples := s.Samples()
	c.mu.Lock()
	c.samples[o.Provider] = samples
	c.mu.Unlock()
}

// Forget 删除数据源的指标
func (c *SystemCollector) Forget(provider string) {
	c.mu.Lock()
	delete(c.samples, provider)
	c.mu.Unlock()
}

// Describe 不声明描述符，作为 unchecked collector 注册
func (c *SystemCollector) Describe(chan<- *prometheus.Desc) {}

func (c *SystemCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providers := make([]string, 0, len(c.samples))
	for p := range c.samples {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	for _, p := range providers {
		for _, s := range c.samples[p] {
			if m, err := ConstMetric(Namespace, s); err == nil {
				ch <- m
			}
		}
	}
}

// ConstMetric 把 Sample 转换为常量指标
func ConstMetric(namespace string, s collector.Sample) (prometheus.Metric, error) {
	names := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = s.Labels[k]
	}

	help := s.Help
	if help == "" {
		help = s.Name
	}
	desc := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", s.Name), help, names, nil)
	vt := prometheus.GaugeValue
	if s.Counter {
		vt = prometheus.CounterValue
	}
	return prometheus.NewConstMetric(desc, vt, s.Value, values...)
}
