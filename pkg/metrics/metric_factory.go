// Package metrics 创建并注册 uptop 的 Prometheus 指标：调度器自监控、插件失败计数以及数据源导出的系统指标。
package metrics

// Namespace 所有指标的前缀
const Namespace = "uptop"

// MetricFactory 指标工厂，用于统一创建指标（counter/gauge/histogram）
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// Registry 工厂使用的注册器
func (f *MetricFactory) Registry() Registers { return f.reg }
