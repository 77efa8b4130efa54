package providers

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/uptop/pkg/collector"
)

// virtualFilesystems 默认排除的虚拟文件系统
var virtualFilesystems = map[string]struct{}{
	"devfs": {}, "devtmpfs": {}, "tmpfs": {}, "proc": {}, "sysfs": {},
	"cgroup": {}, "cgroup2": {}, "pstore": {}, "securityfs": {}, "debugfs": {},
	"configfs": {}, "fusectl": {}, "hugetlbfs": {}, "mqueue": {}, "binfmt_misc": {},
	"autofs": {}, "overlay": {}, "squashfs": {}, "snap": {},
}

var virtualMountPrefixes = []string{"/sys", "/proc", "/dev", "/run", "/snap"}

// Partition 分区及其使用量
type Partition struct {
	Device     string  `json:"device" yaml:"device"`
	Mountpoint string  `json:"mountpoint" yaml:"mountpoint"`
	Fstype     string  `json:"fstype" yaml:"fstype"`
	Opts       string  `json:"opts,omitempty" yaml:"opts,omitempty"`
	TotalBytes uint64  `json:"total_bytes" yaml:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes" yaml:"used_bytes"`
	FreeBytes  uint64  `json:"free_bytes" yaml:"free_bytes"`
	Percent    float64 `json:"percent" yaml:"percent"`
}

// DiskIO 单个设备的累计 I/O
type DiskIO struct {
	Device      string `json:"device" yaml:"device"`
	ReadBytes   uint64 `json:"read_bytes" yaml:"read_bytes"`
	WriteBytes  uint64 `json:"write_bytes" yaml:"write_bytes"`
	ReadCount   uint64 `json:"read_count" yaml:"read_count"`
	WriteCount  uint64 `json:"write_count" yaml:"write_count"`
	ReadTimeMS  uint64 `json:"read_time_ms" yaml:"read_time_ms"`
	WriteTimeMS uint64 `json:"write_time_ms" yaml:"write_time_ms"`
}

// DiskData 磁盘采集结果
type DiskData struct {
	collector.Meta `yaml:",inline"`
	Partitions     []Partition `json:"partitions" yaml:"partitions"`
	IO             []DiskIO    `json:"io_stats" yaml:"io_stats"`
}

func (d *DiskData) Samples() []collector.Sample {
	out := []collector.Sample{
		{Name: "disk_partitions", Help: "Number of partitions", Value: float64(len(d.Partitions))},
	}
	for _, p := range d.Partitions {
		labels := map[string]string{"device": p.Device, "mountpoint": p.Mountpoint}
		out = append(out,
			collector.Sample{Name: "disk_total_bytes", Help: "Partition size in bytes", Labels: labels, Value: float64(p.TotalBytes)},
			collector.Sample{Name: "disk_used_bytes", Help: "Used space in bytes", Labels: labels, Value: float64(p.UsedBytes)},
			collector.Sample{Name: "disk_usage_percent", Help: "Partition usage percentage", Labels: labels, Value: p.Percent},
		)
	}
	for _, io := range d.IO {
		labels := map[string]string{"device": io.Device}
		out = append(out,
			collector.Sample{Name: "disk_read_bytes_total", Help: "Bytes read since boot", Labels: labels, Value: float64(io.ReadBytes), Counter: true},
			collector.Sample{Name: "disk_written_bytes_total", Help: "Bytes written since boot", Labels: labels, Value: float64(io.WriteBytes), Counter: true},
		)
	}
	return out
}

// Disk 磁盘数据源：分区使用量与 I/O 计数
type Disk struct {
	*collector.Base
	includeVirtual atomic.Bool

	partitions func(ctx context.Context, all bool) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
	ioCounters func(ctx context.Context, names ...string) (map[string]disk.IOCountersStat, error)
}

// NewDisk 创建磁盘数据源
func NewDisk(opts ...collector.BaseOption) *Disk {
	return &Disk{
		Base:       newBase(NameDisk, opts...),
		partitions: disk.PartitionsWithContext,
		usage:      disk.UsageWithContext,
		ioCounters: disk.IOCountersWithContext,
	}
}

// SetIncludeVirtual 是否包含 tmpfs、proc 等虚拟文件系统，默认排除
func (d *Disk) SetIncludeVirtual(v bool) { d.includeVirtual.Store(v) }

func (d *Disk) Schema() reflect.Type { return reflect.TypeOf(DiskData{}) }

func (d *Disk) isVirtual(p disk.PartitionStat) bool {
	if d.includeVirtual.Load() {
		return false
	}
	if _, ok := virtualFilesystems[strings.ToLower(p.Fstype)]; ok {
		return true
	}
	mp := strings.ToLower(p.Mountpoint)
	for _, prefix := range virtualMountPrefixes {
		if strings.HasPrefix(mp, prefix) {
			return true
		}
	}
	return false
}

func (d *Disk) Collect(ctx context.Context) (collector.Record, error) {
	parts, err := d.partitions(ctx, false)
	if err != nil {
		return nil, wrapErr("list partitions", err)
	}
	data := &DiskData{Meta: collector.NewMeta(d.Name(), d.Clock().Now())}
	for _, p := range parts {
		if d.isVirtual(p) {
			continue
		}
		// 无权限或已卸载的挂载点直接跳过
		u, err := d.usage(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		data.Partitions = append(data.Partitions, Partition{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			Fstype:     p.Fstype,
			Opts:       strings.Join(p.Opts, ","),
			TotalBytes: u.Total,
			UsedBytes:  u.Used,
			FreeBytes:  u.Free,
			Percent:    u.UsedPercent,
		})
	}

	counters, err := d.ioCounters(ctx)
	if err == nil {
		for name, c := range counters {
			data.IO = append(data.IO, DiskIO{
				Device:      name,
				ReadBytes:   c.ReadBytes,
				WriteBytes:  c.WriteBytes,
				ReadCount:   c.ReadCount,
				WriteCount:  c.WriteCount,
				ReadTimeMS:  c.ReadTime,
				WriteTimeMS: c.WriteTime,
			})
		}
		sort.Slice(data.IO, func(i, j int) bool { return data.IO[i].Device < data.IO[j].Device })
	}
	return data, nil
}
