package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/pkg/llm"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// openCircuitError 将熔断器打开映射为 ErrProviderUnavailable。
func openCircuitError(err error) error {
	if errors.Is(err, ErrCircuitBreakerOpen) {
		var errno *apierrors.Errno
		if !errors.As(err, &errno) {
			return apierrors.ErrProviderUnavailable.WithCause(err)
		}
	}
	return err
}

// ResilientEmbeddingProvider 带韧性功能的 Embedding Provider 包装器。
type ResilientEmbeddingProvider struct {
	provider llm.EmbeddingProvider
	retry    *RetryConfig
	cb       *CircuitBreaker
}

var _ llm.EmbeddingProvider = (*ResilientEmbeddingProvider)(nil)

// NewResilientEmbeddingProvider 创建带韧性功能的 Embedding Provider。
// retryConfig 为 nil 时不重试，只经过熔断器。
func NewResilientEmbeddingProvider(
	provider llm.EmbeddingProvider,
	retryConfig *RetryConfig,
	cbConfig *CircuitBreakerConfig,
) *ResilientEmbeddingProvider {
	if retryConfig == nil {
		retryConfig = &RetryConfig{MaxAttempts: 1, RetryableErrors: IsRetryableError}
	}
	if retryConfig.RetryableErrors == nil {
		retryConfig.RetryableErrors = IsRetryableError
	}

	return &ResilientEmbeddingProvider{
		provider: provider,
		retry:    retryConfig,
		cb:       NewCircuitBreaker(cbConfig),
	}
}

// Embed 为多个文本生成向量嵌入（带重试和熔断）。
func (r *ResilientEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		result, err = r.provider.Embed(ctx, texts)
		return err
	})
	return result, openCircuitError(err)
}

// EmbedSingle 为单个文本生成向量嵌入（带重试和熔断）。
func (r *ResilientEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := RetryWithCircuitBreaker(ctx, r.retry, r.cb, func() error {
		var err error
		result, err = r.provider.EmbedSingle(ctx, text)
		return err
	})
	return result, openCircuitError(err)
}

// Name 返回底层供应商名称。
func (r *ResilientEmbeddingProvider) Name() string { return r.provider.Name() }

// Model 返回底层模型。
func (r *ResilientEmbeddingProvider) Model() string { return r.provider.Model() }

// Dimension 返回底层向量维度。
func (r *ResilientEmbeddingProvider) Dimension() int { return r.provider.Dimension() }

// Health 熔断器打开时直接报告不可用。
func (r *ResilientEmbeddingProvider) Health(ctx context.Context) error {
	if r.cb.State() == StateOpen {
		return apierrors.ErrProviderUnavailable.WithCause(ErrCircuitBreakerOpen)
	}
	return r.provider.Health(ctx)
}

// CircuitBreaker 获取熔断器实例（用于监控）。
func (r *ResilientEmbeddingProvider) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

// ResilientChatProvider 带熔断功能的 Chat Provider 包装器。
// 生成请求不重试。
type ResilientChatProvider struct {
	provider llm.ChatProvider
	cb       *CircuitBreaker
}

var _ llm.ChatProvider = (*ResilientChatProvider)(nil)

// NewResilientChatProvider 创建带熔断功能的 Chat Provider。
func NewResilientChatProvider(provider llm.ChatProvider, cbConfig *CircuitBreakerConfig) *ResilientChatProvider {
	return &ResilientChatProvider{
		provider: provider,
		cb:       NewCircuitBreaker(cbConfig),
	}
}

// Chat 进行多轮对话（带熔断）。
func (r *ResilientChatProvider) Chat(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	var result *llm.GenerateResponse
	err := r.cb.Execute(func() error {
		var err error
		result, err = r.provider.Chat(ctx, messages, opts)
		return err
	})
	return result, openCircuitError(err)
}

// Generate 根据提示生成文本（带熔断）。
func (r *ResilientChatProvider) Generate(ctx context.Context, prompt, systemPrompt string, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	var result *llm.GenerateResponse
	err := r.cb.Execute(func() error {
		var err error
		result, err = r.provider.Generate(ctx, prompt, systemPrompt, opts)
		return err
	})
	return result, openCircuitError(err)
}

// Name 返回底层供应商名称。
func (r *ResilientChatProvider) Name() string { return r.provider.Name() }

// Model 返回底层模型。
func (r *ResilientChatProvider) Model() string { return r.provider.Model() }

// ContextWindow 返回底层上下文窗口。
func (r *ResilientChatProvider) ContextWindow() int { return r.provider.ContextWindow() }

// Health 熔断器打开时直接报告不可用。
func (r *ResilientChatProvider) Health(ctx context.Context) error {
	if r.cb.State() == StateOpen {
		return apierrors.ErrProviderUnavailable.WithCause(ErrCircuitBreakerOpen)
	}
	return r.provider.Health(ctx)
}

// CircuitBreaker 获取熔断器实例（用于监控）。
func (r *ResilientChatProvider) CircuitBreaker() *CircuitBreaker {
	return r.cb
}

// IsRetryableError 判断错误是否可重试。
// 供应商不可用和超时可重试；熔断、调用方取消和校验类错误不重试。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitBreakerOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, apierrors.ErrProviderUnavailable) || errors.Is(err, apierrors.ErrProviderTimeout) {
		logger.Debugw("provider error, retryable", "error", err.Error())
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		logger.Debugw("network error, retryable", "error", err.Error())
		return true
	}

	logger.Debugw("error not retryable", "error", err.Error())
	return false
}

// Stats 韧性统计信息。
type Stats struct {
	CircuitBreakerState    string    `json:"circuit_breaker_state"`
	CircuitBreakerFailures int       `json:"circuit_breaker_failures"`
	LastFailure            time.Time `json:"last_failure,omitzero"`
}

// StatsOf 返回包装器的熔断统计；非韧性包装器返回 nil。
func StatsOf(provider any) *Stats {
	var cb *CircuitBreaker
	switch p := provider.(type) {
	case *ResilientEmbeddingProvider:
		cb = p.cb
	case *ResilientChatProvider:
		cb = p.cb
	default:
		return nil
	}
	snap := cb.Snapshot()
	return &Stats{
		CircuitBreakerState:    snap.State.String(),
		CircuitBreakerFailures: snap.Failures,
		LastFailure:            snap.LastFailure,
	}
}
