package providers

import (
	"context"
	"errors"
	"io/fs"
	"reflect"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/uptop/pkg/collector"
)

// ProcessInfo 单个进程
type ProcessInfo struct {
	PID            int32   `json:"pid" yaml:"pid"`
	Name           string  `json:"name" yaml:"name"`
	Username       string  `json:"username,omitempty" yaml:"username,omitempty"`
	CPUPercent     float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent  float32 `json:"memory_percent" yaml:"memory_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes" yaml:"memory_rss_bytes"`
	MemoryVMSBytes uint64  `json:"memory_vms_bytes" yaml:"memory_vms_bytes"`
	Status         string  `json:"status" yaml:"status"`
	// CreateTime 毫秒级 Unix 时间戳
	CreateTime int64  `json:"create_time" yaml:"create_time"`
	Cmdline    string `json:"cmdline,omitempty" yaml:"cmdline,omitempty"`
	NumThreads int32  `json:"num_threads" yaml:"num_threads"`
}

// ProcessData 进程列表采集结果
type ProcessData struct {
	collector.Meta `yaml:",inline"`
	Processes      []ProcessInfo `json:"processes" yaml:"processes"`
	TotalCount     int           `json:"total_count" yaml:"total_count"`
	RunningCount   int           `json:"running_count" yaml:"running_count"`
}

// Find 按 pid 查找
func (d *ProcessData) Find(pid int32) (ProcessInfo, bool) {
	for _, p := range d.Processes {
		if p.PID == pid {
			return p, true
		}
	}
	return ProcessInfo{}, false
}

func (d *ProcessData) Samples() []collector.Sample {
	return []collector.Sample{
		{Name: "processes_total", Help: "Total number of processes", Value: float64(d.TotalCount)},
		{Name: "processes_running", Help: "Number of running processes", Value: float64(d.RunningCount)},
	}
}

// Processes 进程数据源，结果按 CPU 使用率降序
type Processes struct {
	*collector.Base

	limit atomic.Int64
	list  func(ctx context.Context) ([]ProcessInfo, error)
}

// NewProcesses 创建进程数据源
func NewProcesses(opts ...collector.BaseOption) *Processes {
	return &Processes{
		Base: newBase(NameProcesses, opts...),
		list: snapshotProcesses,
	}
}

// SetLimit 只保留 CPU 使用率最高的 n 个进程，n<=0 表示不限制
func (p *Processes) SetLimit(n int) { p.limit.Store(int64(n)) }

func (p *Processes) Schema() reflect.Type { return reflect.TypeOf(ProcessData{}) }

func (p *Processes) Collect(ctx context.Context) (collector.Record, error) {
	procs, err := p.list(ctx)
	if err != nil {
		return nil, wrapErr("list processes", err)
	}
	data := &ProcessData{
		Meta:       collector.NewMeta(p.Name(), p.Clock().Now()),
		TotalCount: len(procs),
	}
	for _, info := range procs {
		if info.Status == process.Running {
			data.RunningCount++
		}
	}
	sort.SliceStable(procs, func(i, j int) bool { return procs[i].CPUPercent > procs[j].CPUPercent })
	if n := int(p.limit.Load()); n > 0 && len(procs) > n {
		procs = procs[:n]
	}
	data.Processes = procs
	return data, nil
}

func snapshotProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := readProcess(ctx, proc)
		if err != nil {
			// 进程在遍历过程中退出
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// readProcess 读取单个进程，除名称外的字段读取失败（多为权限不足）时保持零值
func readProcess(ctx context.Context, proc *process.Process) (ProcessInfo, error) {
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) || errors.Is(err, fs.ErrNotExist) {
			return ProcessInfo{}, err
		}
		name = ""
	}
	info := ProcessInfo{PID: proc.Pid, Name: name, Status: "unknown"}
	info.Username, _ = proc.UsernameWithContext(ctx)
	info.CPUPercent, _ = proc.CPUPercentWithContext(ctx)
	info.MemoryPercent, _ = proc.MemoryPercentWithContext(ctx)
	if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		info.MemoryRSSBytes = mi.RSS
		info.MemoryVMSBytes = mi.VMS
	}
	if st, err := proc.StatusWithContext(ctx); err == nil && len(st) > 0 {
		info.Status = st[0]
		if slices.Contains(st, process.Running) {
			info.Status = process.Running
		}
	}
	info.CreateTime, _ = proc.CreateTimeWithContext(ctx)
	info.Cmdline, _ = proc.CmdlineWithContext(ctx)
	info.NumThreads, _ = proc.NumThreadsWithContext(ctx)
	return info, nil
}

// ReadProcess 读取指定 pid 的进程信息
func ReadProcess(ctx context.Context, pid int32) (ProcessInfo, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessInfo{}, wrapErr("open process", err)
	}
	return readProcess(ctx, proc)
}
