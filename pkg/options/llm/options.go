// Package llm provides model provider configuration options.
package llm

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/helix-assistant/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 定义模型供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（ollama, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥（OpenAI 等需要）。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 单次请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数，仅用于 Embedding。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// ContextWindow 模型上下文窗口（token 数）。
	ContextWindow int `json:"context-window" mapstructure:"context-window"`

	// AutoQuantize 根据检测到的硬件选择量化模型，仅对 ollama 生效。
	AutoQuantize bool `json:"auto-quantize" mapstructure:"auto-quantize"`
}

// NewProviderOptions 创建默认供应商配置。
func NewProviderOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:      "ollama",
		BaseURL:       "http://localhost:11434",
		Timeout:       120 * time.Second,
		MaxRetries:    1,
		ContextWindow: 8192,
	}
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Model = "nomic-embed-text"
	opts.Timeout = 30 * time.Second
	return opts
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	opts := NewProviderOptions()
	opts.Model = "qwen2.5:14b-instruct-q4_K_M"
	opts.MaxRetries = 0
	return opts
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":       o.BaseURL,
		"api_key":        o.APIKey,
		"embed_model":    o.Model,
		"chat_model":     o.Model,
		"timeout":        o.Timeout,
		"max_retries":    o.MaxRetries,
		"organization":   o.Organization,
		"context_window": o.ContextWindow,
	}
}

// AddFlags adds flags for provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Model provider (ollama, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Per-request timeout.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Maximum number of retries (embeddings only).")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (optional).")
	fs.IntVar(&o.ContextWindow, p+"context-window", o.ContextWindow, "Model context window in tokens.")
	fs.BoolVar(&o.AutoQuantize, p+"auto-quantize", o.AutoQuantize, "Pick the quantized model tag from the detected hardware (ollama only).")
}

// Validate validates the provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("provider is required"))
	}
	if o.BaseURL == "" {
		errs = append(errs, fmt.Errorf("base-url is required"))
	}
	if o.Model == "" && !o.AutoQuantize {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	if o.Provider == "openai" && o.APIKey == "" {
		errs = append(errs, fmt.Errorf("api-key is required for openai provider"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max-retries must not be negative"))
	}
	if o.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("context-window must be positive"))
	}
	return errs
}

// Complete completes the provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.ContextWindow <= 0 {
		o.ContextWindow = 8192
	}
	return nil
}
