package collector

// Sample 单个数值指标，供 Prometheus 导出与文本格式化使用
type Sample struct {
	Name   string
	Help   string
	Labels map[string]string
	Value  float64
	// Counter 为 true 时表示单调递增计数
	Counter bool
}

// Sampler 可选：Record 能把自身展开为数值指标
type Sampler interface {
	Samples() []Sample
}
