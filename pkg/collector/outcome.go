package collector

import (
	"time"
)

// Outcome 一次采集的结果：成功必有 Data，失败必有 Error
type Outcome struct {
	Success   bool          `json:"success"`
	Data      Record        `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      ErrorKind     `json:"kind,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
	Duration  time.Duration `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
	Provider  string        `json:"provider"`
}

// DurationMS 耗时（毫秒）
func (o Outcome) DurationMS() float64 {
	return float64(o.Duration) / float64(time.Millisecond)
}

// SuccessOutcome 构造成功结果
func SuccessOutcome(provider string, data Record, d time.Duration, at time.Time) Outcome {
	return Outcome{
		Success:   true,
		Data:      data,
		Duration:  d,
		Timestamp: at,
		Provider:  provider,
	}
}

// FailureOutcome 构造失败结果，err 为空时使用 kind 作为描述
func FailureOutcome(provider string, err error, d time.Duration, at time.Time) Outcome {
	ce := classify(err)
	msg := ce.Error()
	if msg == "" {
		msg = string(KindGeneric)
	}
	return Outcome{
		Success:   false,
		Error:     msg,
		Kind:      ce.Kind,
		Retryable: ce.Retryable,
		Duration:  d,
		Timestamp: at,
		Provider:  provider,
	}
}
