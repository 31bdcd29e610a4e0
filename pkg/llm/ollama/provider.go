// Package ollama 提供 Ollama 供应商实现。
package ollama

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kart-io/helix-assistant/pkg/llm"
	"github.com/kart-io/helix-assistant/pkg/utils/json"
)

const ProviderName = "ollama"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config Ollama 供应商配置。
type Config struct {
	BaseURL       string        `json:"base_url" mapstructure:"base_url"`
	EmbedModel    string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel     string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	ContextWindow int           `json:"context_window" mapstructure:"context_window"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:11434",
		EmbedModel:    "nomic-embed-text",
		ChatModel:     "qwen2.5:14b-instruct-q4_K_M",
		Timeout:       120 * time.Second,
		ContextWindow: llm.DefaultContextWindow,
	}
}

// Provider Ollama 供应商实现。
// 重试由调用方（resilience 或入库流程）控制，这里每次只发一次请求。
type Provider struct {
	config     *Config
	httpClient *http.Client
	dimension  atomic.Int64
}

// NewProvider 从配置 map 创建 Ollama 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:       llm.ConfigString(configMap, "base_url", def.BaseURL),
		EmbedModel:    llm.ConfigString(configMap, "embed_model", def.EmbedModel),
		ChatModel:     llm.ConfigString(configMap, "chat_model", def.ChatModel),
		Timeout:       llm.ConfigDuration(configMap, "timeout", def.Timeout),
		ContextWindow: llm.ConfigInt(configMap, "context_window", def.ContextWindow),
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 Ollama 供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
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

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	if err := p.post(ctx, "/api/embed", embedRequest{Model: p.config.EmbedModel, Input: texts}, &resp); err != nil {
		return nil, llm.WrapError("ollama embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, llm.WrapError("ollama embed",
			fmt.Errorf("返回向量数 %d 与输入数 %d 不一致", len(resp.Embeddings), len(texts)))
	}
	if len(resp.Embeddings[0]) > 0 {
		p.dimension.Store(int64(len(resp.Embeddings[0])))
	}
	return resp.Embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	chatMessages := make([]chatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	req := chatRequest{
		Model:    p.config.ChatModel,
		Messages: chatMessages,
		Stream:   false,
	}
	if opts != nil {
		req.Options = &chatOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
			NumCtx:      p.config.ContextWindow,
		}
	}

	var resp chatResponse
	if err := p.post(ctx, "/api/chat", req, &resp); err != nil {
		return nil, llm.WrapError("ollama chat", err)
	}

	return &llm.GenerateResponse{
		Content: resp.Message.Content,
		TokenUsage: llm.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
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

// Health 检查 Ollama 服务是否可用。
func (p *Provider) Health(ctx context.Context) error {
	if _, err := p.ListModels(ctx); err != nil {
		return llm.WrapError("ollama health", err)
	}
	return nil
}

// ListModels 列出可用模型。
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("请求失败，状态码 %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

func (p *Provider) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("请求失败，状态码 %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
