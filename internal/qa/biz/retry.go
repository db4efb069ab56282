package biz

import (
	"context"
	"time"

	"github.com/medkb-io/medqa/pkg/errors"
)

// RetryConfig 重试配置。
type RetryConfig struct {
	// MaxRetries 最大尝试次数（含首次）
	MaxRetries int
	// InitialInterval 首次重试前的等待时间
	InitialInterval time.Duration
	// MaxInterval 重试间隔上限
	MaxInterval time.Duration
}

// DefaultRetryConfig 返回默认重试配置。
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// RetryWithBackoff 以指数退避执行 op。仅对可重试错误（见 errors.IsRetryable）
// 重试；上下文取消立即返回。onRetry 在每次重试前回调，可为 nil。
func RetryWithBackoff(ctx context.Context, config *RetryConfig, onRetry func(attempt int, err error), op func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.ErrTimeout.WithCause(err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) || attempt == config.MaxRetries {
			return lastErr
		}

		if onRetry != nil {
			onRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return errors.ErrTimeout.WithCause(ctx.Err())
		case <-time.After(interval):
		}

		interval *= 2
		if interval > config.MaxInterval {
			interval = config.MaxInterval
		}
	}
	return lastErr
}
