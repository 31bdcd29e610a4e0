// Package openai 提供 OpenAI 供应商实现。
// 同时支持 OpenAI API 和兼容 OpenAI API 的服务（如 vLLM、LocalAI 等）。
//
//	import _ "github.com/kart-io/helix-assistant/pkg/llm/openai"
//
//	provider, err := llm.NewChatProvider("openai", map[string]any{
//	    "api_key":    "your-api-key",
//	    "chat_model": "gpt-4o-mini",
//	})
package openai

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kart-io/helix-assistant/pkg/llm"
)

// ProviderName 是 OpenAI 供应商的名称标识符。
const ProviderName = "openai"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config OpenAI 供应商配置。
type Config struct {
	// BaseURL API 基础地址，可设置为兼容 API 地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey API 密钥。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// EmbedModel 用于生成嵌入的模型。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`

	// ChatModel 用于对话的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Organization 组织 ID（可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// ContextWindow 模型上下文窗口。
	ContextWindow int `json:"context_window" mapstructure:"context_window"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://api.openai.com/v1",
		EmbedModel:    "text-embedding-3-small",
		ChatModel:     "gpt-4o-mini",
		Timeout:       120 * time.Second,
		ContextWindow: 128000,
	}
}

// Provider OpenAI 供应商实现。
type Provider struct {
	config    *Config
	client    *goopenai.Client
	dimension atomic.Int64
}

// NewProvider 从配置 map 创建 OpenAI 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:       llm.ConfigString(configMap, "base_url", def.BaseURL),
		APIKey:        llm.ConfigString(configMap, "api_key", ""),
		EmbedModel:    llm.ConfigString(configMap, "embed_model", def.EmbedModel),
		ChatModel:     llm.ConfigString(configMap, "chat_model", def.ChatModel),
		Timeout:       llm.ConfigDuration(configMap, "timeout", def.Timeout),
		Organization:  llm.ConfigString(configMap, "organization", ""),
		ContextWindow: llm.ConfigInt(configMap, "context_window", def.ContextWindow),
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 OpenAI 供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.OrgID = cfg.Organization
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		config: cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string { return ProviderName }

// EmbeddingModel 返回 Embedding 模型。
func (p *Provider) EmbeddingModel() string { return p.config.EmbedModel }

// ChatModel 返回 Chat 模型。
func (p *Provider) ChatModel() string { return p.config.ChatModel }

// Dimension 返回最近一次观测到的向量维度。
func (p *Provider) Dimension() int { return int(p.dimension.Load()) }

// ContextWindow 返回上下文窗口。
func (p *Provider) ContextWindow() int { return p.config.ContextWindow }

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:          texts,
		Model:          goopenai.EmbeddingModel(p.config.EmbedModel),
		EncodingFormat: goopenai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, llm.WrapError("openai embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, llm.WrapError("openai embed",
			fmt.Errorf("返回向量数 %d 与输入数 %d 不一致", len(resp.Data), len(texts)))
	}

	// 按 index 排序，保证与输入顺序一致
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, len(data))
	for i, d := range data {
		embeddings[i] = d.Embedding
	}
	if len(embeddings[0]) > 0 {
		p.dimension.Store(int64(len(embeddings[0])))
	}
	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    p.config.ChatModel,
		Messages: make([]goopenai.ChatCompletionMessage, len(messages)),
	}
	for i, msg := range messages {
		req.Messages[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	if opts != nil {
		req.Temperature = float32(opts.Temperature)
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, llm.WrapError("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.WrapError("openai chat", fmt.Errorf("响应中没有 choices"))
	}

	return &llm.GenerateResponse{
		Content: resp.Choices[0].Message.Content,
		TokenUsage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	messages := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return p.Chat(ctx, messages, opts)
}

// Health 通过列出模型检查服务是否可用。
func (p *Provider) Health(ctx context.Context) error {
	if _, err := p.ListModels(ctx); err != nil {
		return err
	}
	return nil
}

// ListModels 列出可用模型。
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, llm.WrapError("openai list models", err)
	}
	models := make([]string, len(list.Models))
	for i, m := range list.Models {
		models[i] = m.ID
	}
	return models, nil
}
