package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// Registers 隔离 Prometheus 默认实现，业务只依赖该接口，便于单测替换
type Registers interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// promRegistry 包裹官方 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// NewRegistry 创建独立的注册器（不注册 Go 运行时指标），processMetrics 为 true 时附带进程指标
func NewRegistry(processMetrics bool) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if processMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}))
	}
	return reg
}

// MustRegister 注册失败直接 panic
func (p *promRegistry) MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

func (p *promRegistry) Register(c prometheus.Collector) error {
	return p.registry.Register(c)
}

func (p *promRegistry) Unregister(c prometheus.Collector) bool {
	return p.registry.Unregister(c)
}

func (p *promRegistry) Gather() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}
