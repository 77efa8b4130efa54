package collector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoData 数据源既未返回数据也未返回错误
var ErrNoData = errors.New("provider returned no data")

// SafeCollect 执行一次采集：计时、更新统计，把错误和 panic 都转换为失败结果，自身不会 panic
func SafeCollect(ctx context.Context, p Provider) (out Outcome) {
	b := p.base()
	clock := b.clock
	start := clock.Now()

	defer func() {
		if r := recover(); r != nil {
			b.recordFailure()
			err := &Error{Kind: KindPanic, Retryable: true, Err: fmt.Errorf("%v", r)}
			out = FailureOutcome(p.Name(), err, clock.Since(start), clock.Now())
		}
	}()

	data, err := p.Collect(ctx)
	elapsed := clock.Since(start)
	now := clock.Now()

	if err == nil && data == nil {
		err = ErrNoData
	}
	if err != nil {
		// 被截止时间打断的尝试记为一次采集，但不算失败
		if deadlineExceeded(ctx) {
			b.recordCut()
		} else {
			b.recordFailure()
		}
		return FailureOutcome(p.Name(), err, elapsed, now)
	}

	b.recordSuccess(now)
	return SuccessOutcome(p.Name(), data, elapsed, now)
}

// CollectWithRetry 最多尝试 maxRetries 次（至少一次），第 n 次失败后等待 baseDelay*n
// 成功立即返回；不可重试错误在第一次失败后直接返回；最后一次失败后不再等待
func CollectWithRetry(ctx context.Context, p Provider, maxRetries int, baseDelay time.Duration) Outcome {
	if maxRetries < 1 {
		maxRetries = 1
	}
	clock := p.base().clock

	var out Outcome
	for attempt := 0; attempt < maxRetries; attempt++ {
		out = SafeCollect(ctx, p)
		if out.Success || !out.Retryable {
			return out
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(attempt+1)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return out
		case <-clock.After(delay):
		}
	}
	return out
}

// deadlineExceeded 非阻塞地检查 ctx 是否因截止时间结束
func deadlineExceeded(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return errors.Is(ctx.Err(), context.DeadlineExceeded)
	default:
		return false
	}
}
