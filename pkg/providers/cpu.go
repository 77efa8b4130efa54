package providers

import (
	"context"
	"reflect"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"

	"github.com/uptop/pkg/collector"
)

// CPUCore 单个逻辑核心
type CPUCore struct {
	ID           int     `json:"id" yaml:"id"`
	UsagePercent float64 `json:"usage_percent" yaml:"usage_percent"`
	FreqMHz      float64 `json:"freq_mhz,omitempty" yaml:"freq_mhz,omitempty"`
}

// CPUData CPU 采集结果
type CPUData struct {
	collector.Meta `yaml:",inline"`
	Cores          []CPUCore `json:"cores" yaml:"cores"`
	ModelName      string    `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Load1          float64   `json:"load_avg_1min" yaml:"load_avg_1min"`
	Load5          float64   `json:"load_avg_5min" yaml:"load_avg_5min"`
	Load15         float64   `json:"load_avg_15min" yaml:"load_avg_15min"`
}

// TotalUsagePercent 所有核心的平均使用率
func (d *CPUData) TotalUsagePercent() float64 {
	if len(d.Cores) == 0 {
		return 0
	}
	var sum float64
	for _, c := range d.Cores {
		sum += c.UsagePercent
	}
	return sum / float64(len(d.Cores))
}

func (d *CPUData) Samples() []collector.Sample {
	out := []collector.Sample{
		{Name: "cpu_usage_percent", Help: "Average CPU usage across all cores", Value: d.TotalUsagePercent()},
		{Name: "cpu_cores", Help: "Number of logical CPU cores", Value: float64(len(d.Cores))},
		{Name: "cpu_load1", Help: "1-minute load average", Value: d.Load1},
		{Name: "cpu_load5", Help: "5-minute load average", Value: d.Load5},
		{Name: "cpu_load15", Help: "15-minute load average", Value: d.Load15},
	}
	for _, c := range d.Cores {
		out = append(out, collector.Sample{
			Name:   "cpu_core_usage_percent",
			Help:   "CPU usage per logical core",
			Labels: map[string]string{"core": strconv.Itoa(c.ID)},
			Value:  c.UsagePercent,
		})
	}
	return out
}

// CPU CPU 数据源：单核心使用率、频率与平均负载
type CPU struct {
	*collector.Base

	percent func(ctx context.Context, percpu bool) ([]float64, error)
	info    func(ctx context.Context) ([]cpu.InfoStat, error)
	loadAvg func(ctx context.Context) (*load.AvgStat, error)
}

// NewCPU 创建 CPU 数据源
func NewCPU(opts ...collector.BaseOption) *CPU {
	return &CPU{
		Base: newBase(NameCPU, opts...),
		// interval 为 0 时与上一次调用比较，不阻塞
		percent: func(ctx context.Context, percpu bool) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, percpu)
		},
		info:    cpu.InfoWithContext,
		loadAvg: load.AvgWithContext,
	}
}

func (c *CPU) Schema() reflect.Type { return reflect.TypeOf(CPUData{}) }

func (c *CPU) Collect(ctx context.Context) (collector.Record, error) {
	usage, err := c.percent(ctx, true)
	if err != nil {
		return nil, wrapErr("get cpu usage", err)
	}
	avg, err := c.loadAvg(ctx)
	if err != nil {
		return nil, wrapErr("get load average", err)
	}

	data := &CPUData{
		Meta:   collector.NewMeta(c.Name(), c.Clock().Now()),
		Cores:  make([]CPUCore, len(usage)),
		Load1:  avg.Load1,
		Load5:  avg.Load5,
		Load15: avg.Load15,
	}
	// 频率信息不可用时保持为 0
	infos, _ := c.info(ctx)
	for i, u := range usage {
		data.Cores[i] = CPUCore{ID: i, UsagePercent: u}
		if i < len(infos) {
			data.Cores[i].FreqMHz = infos[i].Mhz
		} else if len(infos) > 0 {
			data.Cores[i].FreqMHz = infos[0].Mhz
		}
	}
	if len(infos) > 0 {
		data.ModelName = infos[0].ModelName
	}
	return data, nil
}
