package scheduler

import (
	"time"

	"github.com/uptop/pkg/collector"
)

// Stats 调度器汇总统计
type Stats struct {
	Running          bool    `json:"running"`
	State            string  `json:"state"`
	Registered       int     `json:"collectors_registered"`
	RunningCount     int     `json:"collectors_running"`
	TotalCollections int64   `json:"total_collections"`
	TotalFailures    int64   `json:"total_failures"`
	TotalTimeouts    int64   `json:"total_timeouts"`
	AvgLatencyMS     float64 `json:"average_latency_ms"`
}

// CollectorStats 单个数据源的详细统计
type CollectorStats struct {
	Name       string                `json:"name"`
	Collector  collector.Stats       `json:"collector"`
	Buffer     collector.BufferStats `json:"buffer"`
	Timeouts   int64                 `json:"timeouts"`
	Running    bool                  `json:"running"`
	Stale      bool                  `json:"is_stale"`
	Interval   time.Duration         `json:"interval"`
	Retry      RetryConfig           `json:"retry"`
	Multiplier float64               `json:"stale_multiplier"`
	// LastSuccessAgo 距最近一次成功的秒数，从未成功时为 nil
	LastSuccessAgo *float64 `json:"last_success_seconds_ago"`
}

func loopRunning(ps *providerState) bool {
	if ps.done == nil {
		return false
	}
	select {
	case <-ps.done:
		return false
	default:
		return true
	}
}

// Stats 汇总所有数据源的采集、失败、超时次数与平均延迟
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	st := Stats{
		Running:    s.state == Running,
		State:      s.state.String(),
		Registered: len(s.providers),
	}
	for _, ps := range s.providers {
		pst := ps.provider.Stats()
		st.TotalCollections += pst.TotalCollections
		st.TotalFailures += pst.FailedCollections
		ps.mu.RLock()
		st.TotalTimeouts += ps.timeouts
		ps.mu.RUnlock()
		if loopRunning(ps) {
			st.RunningCount++
		}
	}
	s.mu.RUnlock()

	s.latMu.Lock()
	if n := len(s.latencies); n > 0 {
		var sum float64
		for _, v := range s.latencies {
			sum += v
		}
		st.AvgLatencyMS = sum / float64(n)
	}
	s.latMu.Unlock()
	return st
}

// CollectorStats 单个数据源统计，未注册返回 ErrNotRegistered
func (s *Scheduler) CollectorStats(name string) (CollectorStats, error) {
	s.mu.RLock()
	ps, ok := s.providers[name]
	running := ok && loopRunning(ps)
	s.mu.RUnlock()
	if !ok {
		_, err := s.lookup(name)
		return CollectorStats{}, err
	}

	cs := CollectorStats{
		Name:       name,
		Collector:  ps.provider.Stats(),
		Buffer:     ps.buffer.Stats(),
		Running:    running,
		Interval:   ps.provider.Interval(),
		Retry:      ps.retry,
		Multiplier: ps.staleMultiplier,
	}
	ps.mu.RLock()
	cs.Timeouts = ps.timeouts
	cs.Stale = ps.stale
	if ps.hasSuccess {
		ago := s.clock.Since(ps.lastSuccess.Timestamp).Seconds()
		cs.LastSuccessAgo = &ago
	}
	ps.mu.RUnlock()
	return cs, nil
}
