// Package providers 内置数据源：通过 gopsutil 采集本机 CPU、内存、磁盘、网络与进程信息。
package providers

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/uptop/pkg/collector"
)

// 内置数据源名称
const (
	NameCPU       = "cpu"
	NameMemory    = "memory"
	NameDisk      = "disk"
	NameNetwork   = "network"
	NameProcesses = "processes"
)

// Defaults 内置数据源的默认间隔与超时
type Defaults struct {
	Interval time.Duration
	Timeout  time.Duration
}

var defaults = map[string]Defaults{
	NameCPU:       {Interval: time.Second, Timeout: 5 * time.Second},
	NameMemory:    {Interval: 2 * time.Second, Timeout: 5 * time.Second},
	NameDisk:      {Interval: 5 * time.Second, Timeout: 10 * time.Second},
	NameNetwork:   {Interval: time.Second, Timeout: 5 * time.Second},
	NameProcesses: {Interval: 2 * time.Second, Timeout: 10 * time.Second},
}

// DefaultsFor 返回内置数据源的默认值，未知名称返回 collector 包默认值
func DefaultsFor(name string) Defaults {
	if d, ok := defaults[name]; ok {
		return d
	}
	return Defaults{Interval: collector.DefaultInterval, Timeout: collector.DefaultTimeout}
}

// IsBuiltin name 是否为内置数据源
func IsBuiltin(name string) bool {
	_, ok := defaults[name]
	return ok
}

func newBase(name string, opts ...collector.BaseOption) *collector.Base {
	d := DefaultsFor(name)
	all := append([]collector.BaseOption{collector.WithInterval(d.Interval), collector.WithTimeout(d.Timeout)}, opts...)
	return collector.NewBase(name, all...)
}

// wrapErr 给采集错误加上操作名，权限错误标记为不可重试
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s failed: %w", op, err)
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, process.ErrorNotPermitted) {
		return collector.PermissionError(wrapped)
	}
	return wrapped
}
