package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
)

// RetryConfig 退避重试配置。
type RetryConfig struct {
	// MaxAttempts 总尝试次数，包含首次调用。
	MaxAttempts int
	// InitialDelay 第一次重试前的等待。
	InitialDelay time.Duration
	// MaxDelay 单次等待上限。
	MaxDelay time.Duration
	// Multiplier 每次重试后等待时间的倍数。
	Multiplier float64
	// RetryableErrors 判断错误是否值得重试，为空时使用 IsRetryableError。
	RetryableErrors func(error) bool
}

// DefaultRetryConfig 返回默认重试配置：最多三次尝试。
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2,
		RetryableErrors: IsRetryableError,
	}
}

// EmbeddingRetryConfig 返回入库 Embedding 使用的配置：首次调用加 maxRetries 次重试。
func EmbeddingRetryConfig(maxRetries int, initialDelay time.Duration) *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = max(maxRetries, 0) + 1
	if initialDelay > 0 {
		cfg.InitialDelay = initialDelay
	}
	return cfg
}

// backoff 返回第 attempt 次失败后的等待时间，attempt 从 1 开始。
func (c *RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d *= mult
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// RetryWithBackoff 执行 fn，可重试的失败按指数退避重试。
// 不可重试的错误原样返回；重试耗尽时包装最后一次错误。
func RetryWithBackoff(ctx context.Context, config *RetryConfig, fn func() error) error {
	cfg := DefaultRetryConfig()
	if config != nil {
		c := *config
		cfg = &c
	}
	if cfg.RetryableErrors == nil {
		cfg.RetryableErrors = IsRetryableError
	}
	attempts := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !cfg.RetryableErrors(err) {
			return err
		}
		if attempt >= attempts {
			if attempts == 1 {
				return err
			}
			logger.Warnw("retries exhausted", "attempts", attempt, "error", err.Error())
			return fmt.Errorf("max retry attempts (%d) reached: %w", attempts, err)
		}

		delay := cfg.backoff(attempt)
		logger.Debugw("retrying", "attempt", attempt, "delay", delay, "error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RetryWithCircuitBreaker 每次尝试都经过熔断器。
func RetryWithCircuitBreaker(ctx context.Context, retryConfig *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return RetryWithBackoff(ctx, retryConfig, func() error {
		return cb.Execute(fn)
	})
}
