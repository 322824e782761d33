package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/easyops/contextengine/pkg/core/errors"
)

// RetryFunc 可重试的函数类型
type RetryFunc func() error

// retry 执行带指数退避的重试
func retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn RetryFunc) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return contextError(ctx)
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !errors.IsRetryable(err) {
			return err
		}

		if attempt < maxRetries {
			delay := calculateBackoff(attempt, baseDelay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return contextError(ctx)
			case <-timer.C:
			}
		}
	}

	return lastErr
}

// contextError 区分超时与取消
func contextError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.ErrTimeout
	}
	return errors.ErrContextCanceled
}

// calculateBackoff 计算指数退避时间
// 使用公式: baseDelay * 2^attempt + [0, 10%) 随机抖动，最大 30 秒
func calculateBackoff(attempt int, baseDelay time.Duration) time.Duration {
	exp := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(baseDelay) * exp)

	if spread := int64(delay) / 10; spread > 0 {
		delay += time.Duration(rand.Int64N(spread))
	}

	maxDelay := 30 * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// errInvalidCount 返回数量不匹配错误
func errInvalidCount(want, got int) error {
	return fmt.Errorf("%w: expected %d vectors, got %d", errors.ErrInvalidResponse, want, got)
}
