package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/helix-assistant/pkg/utils/validator"
)

func TestDefaultTenantConfig(t *testing.T) {
	cfg := DefaultTenantConfig("acme")

	assert.Equal(t, "acme", cfg.TenantID)
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.EnableCitation)
	assert.Equal(t, 5, cfg.MaxContextChunks)
	assert.InDelta(t, 0.3, cfg.Temperature, 1e-9)
	assert.InDelta(t, 0.7, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
	assert.NoError(t, cfg.Validate())
}

func TestTenantAssistantConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *TenantAssistantConfig)
		wantErr bool
	}{
		{"阈值下界", func(c *TenantAssistantConfig) { c.SimilarityThreshold = 0 }, false},
		{"阈值上界", func(c *TenantAssistantConfig) { c.SimilarityThreshold = 1 }, false},
		{"阈值为负", func(c *TenantAssistantConfig) { c.SimilarityThreshold = -0.1 }, true},
		{"阈值超过 1", func(c *TenantAssistantConfig) { c.SimilarityThreshold = 1.01 }, true},
		{"温度过高", func(c *TenantAssistantConfig) { c.Temperature = 2.5 }, true},
		{"片段数为零", func(c *TenantAssistantConfig) { c.MaxContextChunks = 0 }, true},
		{"片段数过多", func(c *TenantAssistantConfig) { c.MaxContextChunks = 51 }, true},
		{"租户为空白", func(c *TenantAssistantConfig) { c.TenantID = "  " }, true},
		{"语言过长", func(c *TenantAssistantConfig) { c.Language = "pt-BR-x-helix" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTenantConfig("t1")
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestTenantAssistantConfig_ValidateFields(t *testing.T) {
	cfg := DefaultTenantConfig("t1")
	cfg.SimilarityThreshold = 1.5
	cfg.Temperature = -1

	var verr *validator.ValidationErrors
	require.True(t, errors.As(cfg.Validate(), &verr))
	assert.Len(t, verr.ForField("similarity_threshold"), 1)
	assert.Len(t, verr.ForField("temperature"), 1)
	assert.Empty(t, verr.ForField("max_context_chunks"))
}

func TestContentType_Valid(t *testing.T) {
	assert.True(t, ContentTypeMarkdown.Valid())
	assert.True(t, ContentTypeHTML.Valid())
	assert.True(t, ContentTypeText.Valid())
	assert.False(t, ContentType("pdf").Valid())
	assert.False(t, ContentType("").Valid())
}
