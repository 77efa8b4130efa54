package providers

import (
	"context"
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uptop/pkg/collector"
)

func TestDefaultsFor(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultsFor(NameDisk).Interval)
	assert.Equal(t, 10*time.Second, DefaultsFor(NameProcesses).Timeout)
	assert.Equal(t, collector.DefaultInterval, DefaultsFor("gpu").Interval)

	c := NewCPU(collector.WithInterval(3 * time.Second))
	assert.Equal(t, 3*time.Second, c.Interval())
	assert.Equal(t, 5*time.Second, c.Timeout())
}

func TestWrapErrPermission(t *testing.T) {
	err := wrapErr("read /proc", os.ErrPermission)
	var ce *collector.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, collector.KindPermission, ce.Kind)
	assert.False(t, collector.IsRetryable(err))
	assert.ErrorIs(t, err, os.ErrPermission)

	err = wrapErr("read /proc", errors.New("io"))
	assert.True(t, collector.IsRetryable(err))
	assert.EqualError(t, err, "read /proc failed: io")
	assert.NoError(t, wrapErr("noop", nil))
}

func TestCPUCollect(t *testing.T) {
	c := NewCPU()
	c.percent = func(context.Context, bool) ([]float64, error) { return []float64{10, 30}, nil }
	c.loadAvg = func(context.Context) (*load.AvgStat, error) {
		return &load.AvgStat{Load1: 0.5, Load5: 0.25, Load15: 0.1}, nil
	}
	c.info = func(context.Context) ([]cpu.InfoStat, error) {
		return []cpu.InfoStat{{ModelName: "Test CPU", Mhz: 2400}}, nil
	}

	rec, err := c.Collect(context.Background())
	require.NoError(t, err)
	data := rec.(*CPUData)
	assert.Equal(t, NameCPU, data.Source())
	require.Len(t, data.Cores, 2)
	assert.Equal(t, 2400.0, data.Cores[1].FreqMHz)
	assert.Equal(t, 20.0, data.TotalUsagePercent())
	assert.Equal(t, "Test CPU", data.ModelName)
	assert.Equal(t, 0.5, data.Load1)
	assert.Len(t, data.Samples(), 7)

	c.loadAvg = func(context.Context) (*load.AvgStat, error) { return nil, errors.New("no loadavg") }
	_, err = c.Collect(context.Background())
	assert.ErrorContains(t, err, "get load average failed")
}

func TestMemoryCollect(t *testing.T) {
	m := NewMemory()
	m.virtual = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 400, Available: 600, UsedPercent: 40}, nil
	}
	m.swap = func(context.Context) (*mem.SwapMemoryStat, error) { return nil, errors.New("no swap") }

	rec, err := m.Collect(context.Background())
	require.NoError(t, err)
	data := rec.(*MemoryData)
	assert.Equal(t, uint64(600), data.Virtual.AvailableBytes)
	assert.Equal(t, SwapMemory{}, data.Swap)

	m.virtual = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, os.ErrPermission }
	_, err = m.Collect(context.Background())
	var ce *collector.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, collector.KindPermission, ce.Kind)
}

func TestDiskFiltersVirtual(t *testing.T) {
	d := NewDisk()
	d.partitions = func(context.Context, bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4", Opts: []string{"rw", "relatime"}},
			{Device: "tmpfs", Mountpoint: "/tmp", Fstype: "tmpfs"},
			{Device: "proc", Mountpoint: "/proc", Fstype: "proc"},
			{Device: "/dev/sdb1", Mountpoint: "/mnt/gone", Fstype: "xfs"},
		}, nil
	}
	d.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		if path == "/mnt/gone" {
			return nil, os.ErrNotExist
		}
		return &disk.UsageStat{Path: path, Total: 100, Used: 25, Free: 75, UsedPercent: 25}, nil
	}
	d.ioCounters = func(context.Context, ...string) (map[string]disk.IOCountersStat, error) {
		return map[string]disk.IOCountersStat{
			"sdb": {ReadBytes: 1},
			"sda": {ReadBytes: 2, WriteBytes: 3},
		}, nil
	}

	rec, err := d.Collect(context.Background())
	require.NoError(t, err)
	data := rec.(*DiskData)
	require.Len(t, data.Partitions, 1)
	assert.Equal(t, "/", data.Partitions[0].Mountpoint)
	assert.Equal(t, "rw,relatime", data.Partitions[0].Opts)
	require.Len(t, data.IO, 2)
	assert.Equal(t, "sda", data.IO[0].Device)

	d.SetIncludeVirtual(true)
	rec, err = d.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, rec.(*DiskData).Partitions, 3)
}

func TestNetworkRates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	n := NewNetwork(collector.WithClock(clock))
	sent, recv := uint64(1000), uint64(5000)
	n.counters = func(context.Context, bool) ([]net.IOCountersStat, error) {
		return []net.IOCountersStat{{Name: "eth0", BytesSent: sent, BytesRecv: recv}, {Name: "lo"}}, nil
	}
	n.interfaces = func(context.Context) (net.InterfaceStatList, error) {
		return net.InterfaceStatList{{Name: "eth0", Flags: []string{"up", "broadcast"}}, {Name: "lo", Flags: []string{"loopback"}}}, nil
	}
	ctx := context.Background()

	rec, err := n.Collect(ctx)
	require.NoError(t, err)
	eth, ok := rec.(*NetworkData).Interface("eth0")
	require.True(t, ok)
	assert.Zero(t, eth.BandwidthUp)
	assert.True(t, eth.Up)
	lo, _ := rec.(*NetworkData).Interface("lo")
	assert.False(t, lo.Up)

	clock.Advance(2 * time.Second)
	sent, recv = 3000, 9000
	rec, err = n.Collect(ctx)
	require.NoError(t, err)
	data := rec.(*NetworkData)
	eth, _ = data.Interface("eth0")
	assert.Equal(t, 1000.0, eth.BandwidthUp)
	assert.Equal(t, 2000.0, eth.BandwidthDown)
	assert.Equal(t, 3000.0, data.TotalBandwidthDown+data.TotalBandwidthUp)
	assert.Equal(t, uint64(3000), data.TotalBytesSent)

	// 计数回绕
	clock.Advance(time.Second)
	sent = 10
	rec, err = n.Collect(ctx)
	require.NoError(t, err)
	eth, _ = rec.(*NetworkData).Interface("eth0")
	assert.Zero(t, eth.BandwidthUp)
	assert.Zero(t, eth.BandwidthDown)
}

func TestProcessesSortAndLimit(t *testing.T) {
	p := NewProcesses()
	p.list = func(context.Context) ([]ProcessInfo, error) {
		return []ProcessInfo{
			{PID: 1, Name: "init", CPUPercent: 0.1, Status: "sleep"},
			{PID: 2, Name: "build", CPUPercent: 90, Status: "running"},
			{PID: 3, Name: "editor", CPUPercent: 5, Status: "running"},
		}, nil
	}
	p.SetLimit(2)

	rec, err := p.Collect(context.Background())
	require.NoError(t, err)
	data := rec.(*ProcessData)
	assert.Equal(t, 3, data.TotalCount)
	assert.Equal(t, 2, data.RunningCount)
	require.Len(t, data.Processes, 2)
	assert.Equal(t, int32(2), data.Processes[0].PID)
	_, ok := data.Find(1)
	assert.False(t, ok)

	p.list = func(context.Context) ([]ProcessInfo, error) { return nil, errors.New("no /proc") }
	_, err = p.Collect(context.Background())
	assert.ErrorContains(t, err, "list processes failed")
}

func TestLiveHost(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("live sampling only checked on linux")
	}
	ctx := context.Background()

	o := collector.SafeCollect(ctx, NewMemory())
	require.True(t, o.Success, o.Error)
	assert.Positive(t, o.Data.(*MemoryData).Virtual.TotalBytes)

	o = collector.SafeCollect(ctx, NewProcesses())
	require.True(t, o.Success, o.Error)
	data := o.Data.(*ProcessData)
	_, ok := data.Find(int32(os.Getpid()))
	assert.True(t, ok)

	info, err := ReadProcess(ctx, int32(os.Getpid()))
	require.NoError(t, err)
	assert.Positive(t, info.NumThreads)
}
