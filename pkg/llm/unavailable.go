package llm

import (
	"context"

	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// UnavailableName 是 Unavailable 供应商的名称。
const UnavailableName = "unavailable"

// Unavailable 在后端不可用时替代真实供应商，所有调用都返回 ErrProviderUnavailable。
type Unavailable struct {
	// Reason 是不可用的原因，记录在错误中。
	Reason string
}

var (
	_ EmbeddingProvider = (*Unavailable)(nil)
	_ ChatProvider      = (*Unavailable)(nil)
)

// NewUnavailable 创建 Unavailable 供应商。
func NewUnavailable(reason string) *Unavailable {
	return &Unavailable{Reason: reason}
}

// IsUnavailable 判断供应商是否为 Unavailable。
func IsUnavailable(p any) bool {
	_, ok := p.(*Unavailable)
	return ok
}

func (u *Unavailable) err() error {
	if u.Reason == "" {
		return apierrors.ErrProviderUnavailable
	}
	return apierrors.ErrProviderUnavailable.WithMessagef("Model provider unavailable: %s", u.Reason)
}

func (u *Unavailable) Embed(context.Context, []string) ([][]float32, error) { return nil, u.err() }

func (u *Unavailable) EmbedSingle(context.Context, string) ([]float32, error) { return nil, u.err() }

func (u *Unavailable) Chat(context.Context, []Message, *GenerateOptions) (*GenerateResponse, error) {
	return nil, u.err()
}

func (u *Unavailable) Generate(context.Context, string, string, *GenerateOptions) (*GenerateResponse, error) {
	return nil, u.err()
}

func (u *Unavailable) Health(context.Context) error { return u.err() }

func (u *Unavailable) Name() string { return UnavailableName }

func (u *Unavailable) Model() string { return "" }

func (u *Unavailable) Dimension() int { return 0 }

func (u *Unavailable) ContextWindow() int { return DefaultContextWindow }
