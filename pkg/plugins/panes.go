package plugins

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/providers"
)

const (
	builtinVersion = "0.1.0"
	builtinAuthor  = "uptop"
)

// paneOptions 所有内置面板通用的配置项
type paneOptions struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// providerPane 把一个数据源包装成面板插件
type providerPane[P collector.Provider] struct {
	plugin.Base
	provider P
}

// Initialize 读取 interval、timeout 并应用到数据源
func (p *providerPane[P]) Initialize(cfg map[string]any) error {
	var opts paneOptions
	if err := decodeOptions(cfg, &opts); err != nil {
		return err
	}
	if _, ok := cfg["interval"]; ok {
		if err := p.provider.SetInterval(opts.Interval); err != nil {
			return fmt.Errorf("pane %s: %w", p.provider.Name(), err)
		}
	}
	if opts.Timeout > 0 {
		if b, ok := any(p.provider).(interface{ SetTimeout(time.Duration) }); ok {
			b.SetTimeout(opts.Timeout)
		}
	}
	return p.Base.Initialize(cfg)
}

func (p *providerPane[P]) CollectData(ctx context.Context) (collector.Record, error) {
	return p.provider.Collect(ctx)
}

func (p *providerPane[P]) Schema() reflect.Type { return p.provider.Schema() }

func (p *providerPane[P]) DefaultInterval() time.Duration {
	return providers.DefaultsFor(p.provider.Name()).Interval
}

// Provider 交给调度器的数据源
func (p *providerPane[P]) Provider() collector.Provider { return p.provider }

func paneMeta(name, display, desc string) plugin.Metadata {
	return plugin.Metadata{
		Name:        name,
		DisplayName: display,
		Category:    plugin.CategoryPane,
		Version:     builtinVersion,
		APIVersion:  plugin.APIVersion,
		Enabled:     true,
		Description: desc,
		Author:      builtinAuthor,
	}
}

// ---------------------------------------------------------------- cpu

// CPUPane CPU 面板
type CPUPane struct {
	providerPane[*providers.CPU]
}

func NewCPUPane() (*CPUPane, error) {
	return &CPUPane{providerPane[*providers.CPU]{provider: providers.NewCPU()}}, nil
}

// CPUPaneFactory CPU 面板插件定义
func CPUPaneFactory() plugin.Factory {
	return plugin.Define(paneMeta(providers.NameCPU, "CPU Monitor", "Per-core CPU usage, frequency and load averages"), NewCPUPane)
}

func (p *CPUPane) Render(data collector.Record, size plugin.Size, mode plugin.DisplayMode) string {
	d, ok := data.(*providers.CPUData)
	if !ok {
		return invalidData("CPU", size, mode)
	}
	summary := fmt.Sprintf("%5.1f%% %s  load %.2f %.2f %.2f",
		d.TotalUsagePercent(), bar(d.TotalUsagePercent(), 20), d.Load1, d.Load5, d.Load15)
	rows := make([]string, 0, len(d.Cores))
	for _, c := range d.Cores {
		row := fmt.Sprintf("cpu%-3d %5.1f%% %s", c.ID, c.UsagePercent, bar(c.UsagePercent, 20))
		if c.FreqMHz > 0 {
			row += fmt.Sprintf(" %6.0f MHz", c.FreqMHz)
		}
		rows = append(rows, row)
	}
	return box("CPU", summary, rows, size, mode)
}

// ---------------------------------------------------------------- memory

// MemoryPane 内存面板
type MemoryPane struct {
	providerPane[*providers.Memory]
}

func NewMemoryPane() (*MemoryPane, error) {
	return &MemoryPane{providerPane[*providers.Memory]{provider: providers.NewMemory()}}, nil
}

// MemoryPaneFactory 内存面板插件定义
func MemoryPaneFactory() plugin.Factory {
	return plugin.Define(paneMeta(providers.NameMemory, "Memory & Swap", "Virtual memory and swap usage"), NewMemoryPane)
}

func (p *MemoryPane) Render(data collector.Record, size plugin.Size, mode plugin.DisplayMode) string {
	d, ok := data.(*providers.MemoryData)
	if !ok {
		return invalidData("Memory", size, mode)
	}
	summary := fmt.Sprintf("mem  %5.1f%% %s %s / %s",
		d.Virtual.Percent, bar(d.Virtual.Percent, 20),
		humanBytes(float64(d.Virtual.UsedBytes)), humanBytes(float64(d.Virtual.TotalBytes)))
	rows := []string{
		fmt.Sprintf("swap %5.1f%% %s %s / %s",
			d.Swap.Percent, bar(d.Swap.Percent, 20),
			humanBytes(float64(d.Swap.UsedBytes)), humanBytes(float64(d.Swap.TotalBytes))),
		fmt.Sprintf("available %s", humanBytes(float64(d.Virtual.AvailableBytes))),
	}
	return box("Memory", summary, rows, size, mode)
}

// ---------------------------------------------------------------- disk

type diskOptions struct {
	IncludeVirtual bool `mapstructure:"include_virtual"`
}

// DiskPane 磁盘面板
type DiskPane struct {
	providerPane[*providers.Disk]
}

func NewDiskPane() (*DiskPane, error) {
	return &DiskPane{providerPane[*providers.Disk]{provider: providers.NewDisk()}}, nil
}

// DiskPaneFactory 磁盘面板插件定义
func DiskPaneFactory() plugin.Factory {
	return plugin.Define(paneMeta(providers.NameDisk, "Disk Monitor", "Partition usage and disk I/O counters"), NewDiskPane)
}

// Initialize 额外读取 include_virtual
func (p *DiskPane) Initialize(cfg map[string]any) error {
	var opts diskOptions
	if err := decodeOptions(cfg, &opts); err != nil {
		return err
	}
	p.provider.SetIncludeVirtual(opts.IncludeVirtual)
	return p.providerPane.Initialize(cfg)
}

func (p *DiskPane) Render(data collector.Record, size plugin.Size, mode plugin.DisplayMode) string {
	d, ok := data.(*providers.DiskData)
	if !ok {
		return invalidData("Disk", size, mode)
	}
	var used, total uint64
	rows := make([]string, 0, len(d.Partitions))
	for _, part := range d.Partitions {
		used += part.UsedBytes
		total += part.TotalBytes
		rows = append(rows, fmt.Sprintf("%-16s %5.1f%% %s %s", part.Mountpoint, part.Percent, bar(part.Percent, 10), humanBytes(float64(part.TotalBytes))))
	}
	summary := fmt.Sprintf("%d partitions, %s / %s used", len(d.Partitions), humanBytes(float64(used)), humanBytes(float64(total)))
	return box("Disk", summary, rows, size, mode)
}

// ---------------------------------------------------------------- network

// NetworkPane 网络面板
type NetworkPane struct {
	providerPane[*providers.Network]
}

func NewNetworkPane() (*NetworkPane, error) {
	return &NetworkPane{providerPane[*providers.Network]{provider: providers.NewNetwork()}}, nil
}

// NetworkPaneFactory 网络面板插件定义
func NetworkPaneFactory() plugin.Factory {
	return plugin.Define(paneMeta(providers.NameNetwork, "Network Monitor", "Per-interface traffic counters and bandwidth"), NewNetworkPane)
}

func (p *NetworkPane) Render(data collector.Record, size plugin.Size, mode plugin.DisplayMode) string {
	d, ok := data.(*providers.NetworkData)
	if !ok {
		return invalidData("Network", size, mode)
	}
	summary := fmt.Sprintf("↑ %s  ↓ %s", humanRate(d.TotalBandwidthUp), humanRate(d.TotalBandwidthDown))
	rows := make([]string, 0, len(d.Interfaces))
	for _, i := range d.Interfaces {
		state := "up"
		if !i.Up {
			state = "down"
		}
		rows = append(rows, fmt.Sprintf("%-10s %-4s ↑ %-12s ↓ %s", i.Name, state, humanRate(i.BandwidthUp), humanRate(i.BandwidthDown)))
	}
	return box("Network", summary, rows, size, mode)
}

// ---------------------------------------------------------------- processes

type processOptions struct {
	Limit int `mapstructure:"limit"`
}

// ProcessesPane 进程面板
type ProcessesPane struct {
	providerPane[*providers.Processes]
}

func NewProcessesPane() (*ProcessesPane, error) {
	return &ProcessesPane{providerPane[*providers.Processes]{provider: providers.NewProcesses()}}, nil
}

// ProcessesPaneFactory 进程面板插件定义
func ProcessesPaneFactory() plugin.Factory {
	return plugin.Define(paneMeta(providers.NameProcesses, "Process List", "Running processes ordered by CPU usage"), NewProcessesPane)
}

// Initialize 额外读取 limit
func (p *ProcessesPane) Initialize(cfg map[string]any) error {
	var opts processOptions
	if err := decodeOptions(cfg, &opts); err != nil {
		return err
	}
	p.provider.SetLimit(opts.Limit)
	return p.providerPane.Initialize(cfg)
}

func (p *ProcessesPane) Render(data collector.Record, size plugin.Size, mode plugin.DisplayMode) string {
	d, ok := data.(*providers.ProcessData)
	if !ok {
		return invalidData("Processes", size, mode)
	}
	summary := fmt.Sprintf("%d total, %d running", d.TotalCount, d.RunningCount)
	rows := make([]string, 0, len(d.Processes)+1)
	rows = append(rows, fmt.Sprintf("%7s %-10s %6s %6s %s", "PID", "USER", "CPU%", "MEM%", "NAME"))
	for _, proc := range d.Processes {
		rows = append(rows, fmt.Sprintf("%7d %-10.10s %6.1f %6.1f %s", proc.PID, proc.Username, proc.CPUPercent, proc.MemoryPercent, proc.Name))
	}
	return box("Processes", summary, rows, size, mode)
}
