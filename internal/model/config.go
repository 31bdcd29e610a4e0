package model

import (
	"time"

	"github.com/kart-io/helix-assistant/pkg/utils/validator"
)

// DefaultSystemPrompt 是租户未定制时使用的系统提示词。
const DefaultSystemPrompt = "Você é o Secretário Virtual do sistema Onyx Helix. Responda de forma concisa, profissional e sempre baseando-se estritamente no contexto fornecido. Se não souber a resposta, diga que precisa de ajuda de um humano."

// 租户配置默认值。
const (
	DefaultMaxContextChunks    = 5
	DefaultTemperature         = 0.3
	DefaultSimilarityThreshold = 0.7
)

// TenantAssistantConfig 是租户级的助手配置，每个租户至多一条。
type TenantAssistantConfig struct {
	ID                  uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID            string    `json:"tenant_id" gorm:"type:varchar(64);not null;uniqueIndex" validate:"notblank,max=64"`
	Enabled             bool      `json:"is_enabled" gorm:"not null"`
	SystemPrompt        string    `json:"system_prompt" gorm:"type:text"`
	MaxContextChunks    int       `json:"max_context_chunks" gorm:"not null;default:5" validate:"gte=1,lte=50"`
	Temperature         float64   `json:"temperature" gorm:"not null" validate:"gte=0,lte=2"`
	EnableCitation      bool      `json:"enable_citation" gorm:"not null"`
	SimilarityThreshold float64   `json:"similarity_threshold" gorm:"not null" validate:"gte=0,lte=1"`
	Language            string    `json:"language,omitempty" gorm:"type:varchar(10)" validate:"omitempty,max=10"`
	CreatedAt           time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for TenantAssistantConfig.
func (TenantAssistantConfig) TableName() string {
	return "assistant_tenant_configs"
}

// DefaultTenantConfig 返回租户没有配置记录时的默认配置。
func DefaultTenantConfig(tenantID string) *TenantAssistantConfig {
	return &TenantAssistantConfig{
		TenantID:            tenantID,
		Enabled:             true,
		SystemPrompt:        DefaultSystemPrompt,
		MaxContextChunks:    DefaultMaxContextChunks,
		Temperature:         DefaultTemperature,
		EnableCitation:      true,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Validate 按 validate 标签校验配置取值范围。
func (c *TenantAssistantConfig) Validate() error {
	return validator.Struct(c)
}
