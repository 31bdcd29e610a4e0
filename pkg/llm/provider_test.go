package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// mockProvider 模拟供应商实现，用于测试。
type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string           { return m.name }
func (m *mockProvider) EmbeddingModel() string { return "mock-embed" }
func (m *mockProvider) ChatModel() string      { return "mock-chat" }
func (m *mockProvider) Dimension() int         { return 3 }
func (m *mockProvider) ContextWindow() int     { return 4096 }

func (m *mockProvider) Health(context.Context) error { return nil }

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3}
	}
	return result, nil
}

func (m *mockProvider) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockProvider) Chat(_ context.Context, _ []Message, _ *GenerateOptions) (*GenerateResponse, error) {
	return &GenerateResponse{Content: "mock response"}, nil
}

func (m *mockProvider) Generate(_ context.Context, _, _ string, _ *GenerateOptions) (*GenerateResponse, error) {
	return &GenerateResponse{Content: "mock generated text"}, nil
}

func TestRegisterAndNewProvider(t *testing.T) {
	RegisterProvider("test-provider", func(config map[string]any) (Provider, error) {
		return &mockProvider{name: ConfigString(config, "name", "test-provider")}, nil
	})

	provider, err := NewProvider("test-provider", map[string]any{"name": "custom-name"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if provider.Name() != "custom-name" {
		t.Errorf("expected name 'custom-name', got '%s'", provider.Name())
	}

	embed, err := NewEmbeddingProvider("test-provider", nil)
	if err != nil {
		t.Fatalf("NewEmbeddingProvider failed: %v", err)
	}
	if embed.Model() != "mock-embed" {
		t.Errorf("expected embedding model 'mock-embed', got '%s'", embed.Model())
	}

	chat, err := NewChatProvider("test-provider", nil)
	if err != nil {
		t.Fatalf("NewChatProvider failed: %v", err)
	}
	if chat.Model() != "mock-chat" || chat.ContextWindow() != 4096 {
		t.Errorf("unexpected chat view: model=%s window=%d", chat.Model(), chat.ContextWindow())
	}

	found := false
	for _, name := range ListProviders() {
		if name == "test-provider" {
			found = true
		}
	}
	if !found {
		t.Error("expected test-provider in ListProviders")
	}
}

func TestNewProviderUnknown(t *testing.T) {
	if _, err := NewProvider("unknown-provider", nil); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewChatProvider("unknown-provider", nil); err == nil {
		t.Error("expected error for unknown chat provider")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *apierrors.Errno
	}{
		{"上下文超时", context.DeadlineExceeded, apierrors.ErrProviderTimeout},
		{"网络超时", fmt.Errorf("post: %w", timeoutErr{}), apierrors.ErrProviderTimeout},
		{"连接拒绝", errors.New("connection refused"), apierrors.ErrProviderUnavailable},
		{"已是错误码", apierrors.ErrProviderTimeout.WithCause(errors.New("x")), apierrors.ErrProviderTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if WrapError("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
	if got := WrapError("op", context.Canceled); !errors.Is(got, context.Canceled) {
		t.Errorf("expected context.Canceled to pass through, got %v", got)
	}
}

func TestUnavailable(t *testing.T) {
	u := NewUnavailable("ollama down")
	ctx := context.Background()

	if _, err := u.Embed(ctx, []string{"a"}); !errors.Is(err, apierrors.ErrProviderUnavailable) {
		t.Errorf("Embed: expected ErrProviderUnavailable, got %v", err)
	}
	if _, err := u.Chat(ctx, nil, nil); !errors.Is(err, apierrors.ErrProviderUnavailable) {
		t.Errorf("Chat: expected ErrProviderUnavailable, got %v", err)
	}
	if err := u.Health(ctx); !errors.Is(err, apierrors.ErrProviderUnavailable) {
		t.Errorf("Health: expected ErrProviderUnavailable, got %v", err)
	}
	if !IsUnavailable(u) || IsUnavailable(&mockProvider{}) {
		t.Error("IsUnavailable mismatch")
	}
}

func TestConfigHelpers(t *testing.T) {
	m := map[string]any{
		"s":   "v",
		"i":   7,
		"f":   float64(3),
		"d":   2 * time.Second,
		"ds":  "5s",
		"bad": -1,
	}
	if ConfigString(m, "s", "x") != "v" || ConfigString(m, "missing", "x") != "x" {
		t.Error("ConfigString mismatch")
	}
	if ConfigInt(m, "i", 1) != 7 || ConfigInt(m, "f", 1) != 3 || ConfigInt(m, "bad", 1) != 1 {
		t.Error("ConfigInt mismatch")
	}
	if ConfigDuration(m, "d", time.Second) != 2*time.Second || ConfigDuration(m, "ds", time.Second) != 5*time.Second {
		t.Error("ConfigDuration mismatch")
	}
}
