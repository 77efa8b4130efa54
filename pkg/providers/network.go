package providers

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/uptop/pkg/collector"
)

// Interface 单个网卡的累计计数与当前速率
type Interface struct {
	Name          string  `json:"name" yaml:"name"`
	BytesSent     uint64  `json:"bytes_sent" yaml:"bytes_sent"`
	BytesRecv     uint64  `json:"bytes_recv" yaml:"bytes_recv"`
	PacketsSent   uint64  `json:"packets_sent" yaml:"packets_sent"`
	PacketsRecv   uint64  `json:"packets_recv" yaml:"packets_recv"`
	ErrorsIn      uint64  `json:"errors_in" yaml:"errors_in"`
	ErrorsOut     uint64  `json:"errors_out" yaml:"errors_out"`
	DropsIn       uint64  `json:"drops_in" yaml:"drops_in"`
	DropsOut      uint64  `json:"drops_out" yaml:"drops_out"`
	BandwidthUp   float64 `json:"bandwidth_up" yaml:"bandwidth_up"`
	BandwidthDown float64 `json:"bandwidth_down" yaml:"bandwidth_down"`
	Up            bool    `json:"is_up" yaml:"is_up"`
}

// NetworkData 网络采集结果
type NetworkData struct {
	collector.Meta     `yaml:",inline"`
	Interfaces         []Interface `json:"interfaces" yaml:"interfaces"`
	TotalBytesSent     uint64      `json:"total_bytes_sent" yaml:"total_bytes_sent"`
	TotalBytesRecv     uint64      `json:"total_bytes_recv" yaml:"total_bytes_recv"`
	TotalBandwidthUp   float64     `json:"total_bandwidth_up" yaml:"total_bandwidth_up"`
	TotalBandwidthDown float64     `json:"total_bandwidth_down" yaml:"total_bandwidth_down"`
}

// Interface 按名称查找网卡
func (d *NetworkData) Interface(name string) (Interface, bool) {
	for _, i := range d.Interfaces {
		if i.Name == name {
			return i, true
		}
	}
	return Interface{}, false
}

func (d *NetworkData) Samples() []collector.Sample {
	out := make([]collector.Sample, 0, len(d.Interfaces)*4)
	for _, i := range d.Interfaces {
		labels := map[string]string{"interface": i.Name}
		out = append(out,
			collector.Sample{Name: "network_transmit_bytes_total", Help: "Bytes transmitted", Labels: labels, Value: float64(i.BytesSent), Counter: true},
			collector.Sample{Name: "network_receive_bytes_total", Help: "Bytes received", Labels: labels, Value: float64(i.BytesRecv), Counter: true},
			collector.Sample{Name: "network_transmit_errors_total", Help: "Transmit errors", Labels: labels, Value: float64(i.ErrorsOut), Counter: true},
			collector.Sample{Name: "network_receive_errors_total", Help: "Receive errors", Labels: labels, Value: float64(i.ErrorsIn), Counter: true},
			collector.Sample{Name: "network_upload_bytes_per_second", Help: "Current upload rate", Labels: labels, Value: i.BandwidthUp},
			collector.Sample{Name: "network_download_bytes_per_second", Help: "Current download rate", Labels: labels, Value: i.BandwidthDown},
		)
	}
	return out
}

type netCounter struct {
	sent, recv uint64
}

// Network 网络数据源，速率由相邻两次采集的差值计算
type Network struct {
	*collector.Base

	counters   func(ctx context.Context, pernic bool) ([]net.IOCountersStat, error)
	interfaces func(ctx context.Context) (net.InterfaceStatList, error)

	mu       sync.Mutex
	prev     map[string]netCounter
	prevTime time.Time
}

// NewNetwork 创建网络数据源
func NewNetwork(opts ...collector.BaseOption) *Network {
	return &Network{
		Base:       newBase(NameNetwork, opts...),
		counters:   net.IOCountersWithContext,
		interfaces: net.InterfacesWithContext,
		prev:       make(map[string]netCounter),
	}
}

func (n *Network) Schema() reflect.Type { return reflect.TypeOf(NetworkData{}) }

func (n *Network) Collect(ctx context.Context) (collector.Record, error) {
	stats, err := n.counters(ctx, true)
	if err != nil {
		return nil, wrapErr("get network counters", err)
	}
	// 取不到网卡状态时默认全部为 up
	up := map[string]bool{}
	if ifaces, err := n.interfaces(ctx); err == nil {
		for _, i := range ifaces {
			up[i.Name] = slices.Contains(i.Flags, "up")
		}
	}

	now := n.Clock().Now()
	data := &NetworkData{Meta: collector.NewMeta(n.Name(), now)}

	n.mu.Lock()
	elapsed := now.Sub(n.prevTime).Seconds()
	hasPrev := !n.prevTime.IsZero() && elapsed > 0
	for _, s := range stats {
		iface := Interface{
			Name:        s.Name,
			BytesSent:   s.BytesSent,
			BytesRecv:   s.BytesRecv,
			PacketsSent: s.PacketsSent,
			PacketsRecv: s.PacketsRecv,
			ErrorsIn:    s.Errin,
			ErrorsOut:   s.Errout,
			DropsIn:     s.Dropin,
			DropsOut:    s.Dropout,
			Up:          true,
		}
		if v, ok := up[s.Name]; ok {
			iface.Up = v
		}
		// 计数回绕（网卡重启）时速率记为 0
		if p, ok := n.prev[s.Name]; ok && hasPrev {
			if s.BytesSent >= p.sent {
				iface.BandwidthUp = float64(s.BytesSent-p.sent) / elapsed
			}
			if s.BytesRecv >= p.recv {
				iface.BandwidthDown = float64(s.BytesRecv-p.recv) / elapsed
			}
		}
		n.prev[s.Name] = netCounter{sent: s.BytesSent, recv: s.BytesRecv}

		data.TotalBytesSent += iface.BytesSent
		data.TotalBytesRecv += iface.BytesRecv
		data.TotalBandwidthUp += iface.BandwidthUp
		data.TotalBandwidthDown += iface.BandwidthDown
		data.Interfaces = append(data.Interfaces, iface)
	}
	n.prevTime = now
	n.mu.Unlock()
	return data, nil
}
