package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/helix-assistant/pkg/llm"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})
	assert.Equal(t, StateClosed, cb.State())

	testErr := errors.New("backend down")
	for i := 0; i < 2; i++ {
		assert.Error(t, cb.Execute(func() error { return testErr }))
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)

	// 超时后半开，探测失败重新打开
	time.Sleep(70 * time.Millisecond)
	assert.Error(t, cb.Execute(func() error { return testErr }))
	assert.Equal(t, StateOpen, cb.State())

	// 再次半开，探测成功关闭
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	cb.Reset()
	assert.Equal(t, 0, cb.Snapshot().Failures)
}

func TestCircuitBreaker_CancelNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryWithBackoff(t *testing.T) {
	retryable := apierrors.ErrProviderUnavailable.WithCause(errors.New("connection refused"))

	tests := []struct {
		name      string
		attempts  int
		failUntil int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"首次成功", 2, 0, retryable, 1, false},
		{"重试一次后成功", 2, 1, retryable, 2, false},
		{"重试耗尽", 2, 10, retryable, 2, true},
		{"不可重试错误", 3, 10, apierrors.ErrValidation, 1, true},
		{"单次尝试不重试", 1, 10, retryable, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryWithBackoff(context.Background(), &RetryConfig{
				MaxAttempts:  tt.attempts,
				InitialDelay: time.Millisecond,
				MaxDelay:     5 * time.Millisecond,
				Multiplier:   2,
			}, func() error {
				calls++
				if calls <= tt.failUntil {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := RetryWithBackoff(ctx, &RetryConfig{
		MaxAttempts:     5,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        time.Second,
		Multiplier:      2,
		RetryableErrors: func(error) bool { return true },
	}, func() error {
		calls++
		return errors.New("temporary")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestEmbeddingRetryConfig(t *testing.T) {
	cfg := EmbeddingRetryConfig(1, 0)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 1, EmbeddingRetryConfig(-3, time.Millisecond).MaxAttempts)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"供应商不可用", apierrors.ErrProviderUnavailable, true},
		{"供应商超时", apierrors.ErrProviderTimeout.WithCause(context.DeadlineExceeded), true},
		{"熔断打开", apierrors.ErrProviderUnavailable.WithCause(ErrCircuitBreakerOpen), false},
		{"调用方取消", context.Canceled, false},
		{"校验错误", apierrors.ErrDimensionMismatch, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

type flakyProvider struct {
	llm.Unavailable
	calls int
	err   error
}

func (f *flakyProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *flakyProvider) Chat(context.Context, []llm.Message, *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{Content: "ok"}, nil
}

func (f *flakyProvider) Health(context.Context) error { return nil }

func TestResilientEmbeddingProvider_OpenCircuitMapsToUnavailable(t *testing.T) {
	inner := &flakyProvider{err: apierrors.ErrProviderUnavailable}
	p := NewResilientEmbeddingProvider(inner, nil, &CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 2; i++ {
		_, err := p.Embed(context.Background(), []string{"x"})
		require.Error(t, err)
	}
	assert.Equal(t, 2, inner.calls, "nil retry config must not retry")

	_, err := p.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.ErrorIs(t, err, apierrors.ErrProviderUnavailable)
	assert.Equal(t, 2, inner.calls)
	assert.ErrorIs(t, p.Health(context.Background()), apierrors.ErrProviderUnavailable)

	stats := StatsOf(p)
	require.NotNil(t, stats)
	assert.Equal(t, "open", stats.CircuitBreakerState)
}

func TestResilientChatProvider_NoRetry(t *testing.T) {
	inner := &flakyProvider{err: apierrors.ErrProviderTimeout}
	p := NewResilientChatProvider(inner, nil)

	_, err := p.Chat(context.Background(), nil, nil)
	assert.ErrorIs(t, err, apierrors.ErrProviderTimeout)
	assert.Equal(t, 1, inner.calls)

	inner.err = nil
	resp, err := p.Chat(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Nil(t, StatsOf(inner))
}
