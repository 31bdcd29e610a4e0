// Package llm 提供统一的模型供应商抽象层。
// Embedding 与 Chat 可以使用不同供应商的模型。
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// EmbeddingProvider 定义 Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入，返回顺序与输入一致。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string

	// Model 返回 Embedding 模型名称。
	Model() string

	// Dimension 返回向量维度，尚未观测到时返回 0。
	Dimension() int

	// Health 检查后端是否可用。
	Health(ctx context.Context) error
}

// ChatProvider 定义 Chat 供应商接口。
type ChatProvider interface {
	// Chat 进行多轮对话。
	Chat(ctx context.Context, messages []Message, opts *GenerateOptions) (*GenerateResponse, error)

	// Generate 根据提示生成文本（单轮）。
	Generate(ctx context.Context, prompt, systemPrompt string, opts *GenerateOptions) (*GenerateResponse, error)

	// Name 返回供应商名称。
	Name() string

	// Model 返回 Chat 模型名称。
	Model() string

	// ContextWindow 返回模型上下文窗口（token 数）。
	ContextWindow() int

	// Health 检查后端是否可用。
	Health(ctx context.Context) error
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// GenerateOptions 生成参数，nil 表示使用供应商默认值。
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// TokenUsage 记录一次调用的 token 用量。
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResponse 生成结果。
type GenerateResponse struct {
	Content    string     `json:"content"`
	TokenUsage TokenUsage `json:"token_usage"`
}

// DefaultContextWindow 是未配置时的上下文窗口。
const DefaultContextWindow = 8192

// Provider 同时支持 Embedding 和 Chat 的完整供应商。
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Chat(ctx context.Context, messages []Message, opts *GenerateOptions) (*GenerateResponse, error)
	Generate(ctx context.Context, prompt, systemPrompt string, opts *GenerateOptions) (*GenerateResponse, error)
	Name() string
	Dimension() int
	ContextWindow() int
	Health(ctx context.Context) error

	// EmbeddingModel 与 ChatModel 分别返回两类模型名称。
	EmbeddingModel() string
	ChatModel() string
}

// ProviderFactory 供应商工厂函数类型。
type ProviderFactory func(config map[string]any) (Provider, error)

var registry = &providerRegistry{
	providers: make(map[string]ProviderFactory),
}

type providerRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

// RegisterProvider 注册供应商工厂。
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.providers[name] = factory
}

// NewProvider 根据名称创建供应商实例。
func NewProvider(name string, config map[string]any) (Provider, error) {
	registry.mu.RLock()
	factory, ok := registry.providers[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return factory(config)
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商实例。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	p, err := NewProvider(name, config)
	if err != nil {
		return nil, err
	}
	return &embeddingView{p}, nil
}

// NewChatProvider 根据名称创建 Chat 供应商实例。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	p, err := NewProvider(name, config)
	if err != nil {
		return nil, err
	}
	return &chatView{p}, nil
}

// ListProviders 列出所有已注册的供应商名称（已排序）。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// embeddingView 将 Provider 暴露为 EmbeddingProvider。
type embeddingView struct{ Provider }

func (v *embeddingView) Model() string { return v.EmbeddingModel() }

// chatView 将 Provider 暴露为 ChatProvider。
type chatView struct{ Provider }

func (v *chatView) Model() string { return v.ChatModel() }

// WrapError 将供应商调用错误映射为统一错误码。
// 超时映射为 ErrProviderTimeout；调用方取消原样返回；其余映射为 ErrProviderUnavailable。
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno *apierrors.Errno
	if errors.As(err, &errno) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTimeout(err) {
		return apierrors.ErrProviderTimeout.WithCause(fmt.Errorf("%s: %w", op, err))
	}
	return apierrors.ErrProviderUnavailable.WithCause(fmt.Errorf("%s: %w", op, err))
}

// IsTimeout 判断错误是否为超时。
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ConfigString 从配置 map 读取字符串。
func ConfigString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigInt 从配置 map 读取整数。
func ConfigInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// ConfigDuration 从配置 map 读取时长。
func ConfigDuration(m map[string]any, key string, def time.Duration) time.Duration {
	switch v := m[key].(type) {
	case time.Duration:
		if v > 0 {
			return v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
