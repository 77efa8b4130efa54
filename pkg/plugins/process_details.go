package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/uptop/pkg/collector"
	"github.com/uptop/pkg/plugin"
	"github.com/uptop/pkg/providers"
)

// ProcessDetails 采集插件：为进程面板的选中进程补充父进程、可执行文件、文件句柄与 I/O 等信息
type ProcessDetails struct {
	plugin.Base

	open func(ctx context.Context, pid int32) (*process.Process, error)
}

func NewProcessDetails() (*ProcessDetails, error) {
	return &ProcessDetails{open: process.NewProcessWithContext}, nil
}

// ProcessDetailsFactory 进程详情插件定义
func ProcessDetailsFactory() plugin.Factory {
	return plugin.Define(plugin.Metadata{
		Name:        "process_details",
		DisplayName: "Process Details",
		Category:    plugin.CategoryCollector,
		Version:     builtinVersion,
		APIVersion:  plugin.APIVersion,
		Enabled:     true,
		Description: "Parent, executable, open files and I/O counters of a process",
		Author:      builtinAuthor,
	}, NewProcessDetails)
}

func (c *ProcessDetails) TargetPane() string { return providers.NameProcesses }

// Collect target 为带 "pid" 键的 map 或 pid 数值；单个字段读取失败时省略该字段
func (c *ProcessDetails) Collect(ctx context.Context, target any) (map[string]any, error) {
	pid, ok := pidOf(target)
	if !ok {
		return nil, collector.Permanent(fmt.Errorf("target has no valid pid: %v", target))
	}
	proc, err := c.open(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, collector.Permanent(fmt.Errorf("process %d not found", pid))
		}
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}

	fields := map[string]any{"pid": pid}
	if v, err := proc.PpidWithContext(ctx); err == nil {
		fields["ppid"] = v
	}
	if v, err := proc.ExeWithContext(ctx); err == nil {
		fields["exe"] = v
	}
	if v, err := proc.CwdWithContext(ctx); err == nil {
		fields["cwd"] = v
	}
	if v, err := proc.NumThreadsWithContext(ctx); err == nil {
		fields["num_threads"] = v
	}
	if v, err := proc.NumFDsWithContext(ctx); err == nil {
		fields["num_fds"] = v
	}
	if v, err := proc.NiceWithContext(ctx); err == nil {
		fields["nice"] = v
	}
	if v, err := proc.IOCountersWithContext(ctx); err == nil && v != nil {
		fields["io_read_bytes"] = v.ReadBytes
		fields["io_write_bytes"] = v.WriteBytes
	}
	if v, err := proc.CmdlineSliceWithContext(ctx); err == nil {
		fields["cmdline"] = v
	}
	return fields, nil
}
