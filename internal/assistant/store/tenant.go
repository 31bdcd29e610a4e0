package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/helix-assistant/internal/model"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// TenantDirectory 提供租户级助手配置。
type TenantDirectory interface {
	// GetConfig 返回租户配置，没有记录时返回默认配置。
	GetConfig(ctx context.Context, tenantID string) (*model.TenantAssistantConfig, error)
	// UpsertConfig 创建或覆盖租户配置。
	UpsertConfig(ctx context.Context, cfg *model.TenantAssistantConfig) error
}

var _ TenantDirectory = (*Store)(nil)

// GetConfig 实现 TenantDirectory。
func (s *Store) GetConfig(ctx context.Context, tenantID string) (*model.TenantAssistantConfig, error) {
	var cfg model.TenantAssistantConfig
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DefaultTenantConfig(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询租户配置失败: %w", err)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = model.DefaultSystemPrompt
	}
	return &cfg, nil
}

// UpsertConfig 实现 TenantDirectory，取值越界时返回 ErrValidation。
func (s *Store) UpsertConfig(ctx context.Context, cfg *model.TenantAssistantConfig) error {
	if err := cfg.Validate(); err != nil {
		return apierrors.ErrValidation.WithCause(err)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "system_prompt", "max_context_chunks", "temperature",
			"enable_citation", "similarity_threshold", "language", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("保存租户配置失败: %w", err)
	}
	return nil
}
