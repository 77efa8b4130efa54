package providers

import (
	"context"
	"reflect"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/uptop/pkg/collector"
)

// VirtualMemory 物理内存
type VirtualMemory struct {
	TotalBytes     uint64  `json:"total_bytes" yaml:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes" yaml:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes" yaml:"available_bytes"`
	Percent        float64 `json:"percent" yaml:"percent"`
	CachedBytes    uint64  `json:"cached_bytes,omitempty" yaml:"cached_bytes,omitempty"`
	BuffersBytes   uint64  `json:"buffers_bytes,omitempty" yaml:"buffers_bytes,omitempty"`
}

// SwapMemory 交换分区
type SwapMemory struct {
	TotalBytes uint64  `json:"total_bytes" yaml:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes" yaml:"used_bytes"`
	FreeBytes  uint64  `json:"free_bytes" yaml:"free_bytes"`
	Percent    float64 `json:"percent" yaml:"percent"`
}

// MemoryData 内存采集结果
type MemoryData struct {
	collector.Meta `yaml:",inline"`
	Virtual        VirtualMemory `json:"virtual" yaml:"virtual"`
	Swap           SwapMemory    `json:"swap" yaml:"swap"`
}

func (d *MemoryData) Samples() []collector.Sample {
	return []collector.Sample{
		{Name: "memory_total_bytes", Help: "Total physical memory in bytes", Value: float64(d.Virtual.TotalBytes)},
		{Name: "memory_used_bytes", Help: "Used memory in bytes", Value: float64(d.Virtual.UsedBytes)},
		{Name: "memory_available_bytes", Help: "Available memory in bytes", Value: float64(d.Virtual.AvailableBytes)},
		{Name: "memory_usage_percent", Help: "Memory usage percentage", Value: d.Virtual.Percent},
		{Name: "swap_total_bytes", Help: "Total swap space in bytes", Value: float64(d.Swap.TotalBytes)},
		{Name: "swap_used_bytes", Help: "Used swap space in bytes", Value: float64(d.Swap.UsedBytes)},
		{Name: "swap_usage_percent", Help: "Swap usage percentage", Value: d.Swap.Percent},
	}
}

// Memory 内存数据源
type Memory struct {
	*collector.Base

	virtual func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swap    func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

// NewMemory 创建内存数据源
func NewMemory(opts ...collector.BaseOption) *Memory {
	return &Memory{
		Base:    newBase(NameMemory, opts...),
		virtual: mem.VirtualMemoryWithContext,
		swap:    mem.SwapMemoryWithContext,
	}
}

func (m *Memory) Schema() reflect.Type { return reflect.TypeOf(MemoryData{}) }

func (m *Memory) Collect(ctx context.Context) (collector.Record, error) {
	vm, err := m.virtual(ctx)
	if err != nil {
		return nil, wrapErr("get virtual memory", err)
	}
	data := &MemoryData{
		Meta: collector.NewMeta(m.Name(), m.Clock().Now()),
		Virtual: VirtualMemory{
			TotalBytes:     vm.Total,
			UsedBytes:      vm.Used,
			AvailableBytes: vm.Available,
			Percent:        vm.UsedPercent,
			CachedBytes:    vm.Cached,
			BuffersBytes:   vm.Buffers,
		},
	}
	// 部分容器环境读不到 swap，按 0 处理
	if sm, err := m.swap(ctx); err == nil {
		data.Swap = SwapMemory{
			TotalBytes: sm.Total,
			UsedBytes:  sm.Used,
			FreeBytes:  sm.Free,
			Percent:    sm.UsedPercent,
		}
	}
	return data, nil
}
