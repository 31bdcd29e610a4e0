package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
)

// insertBatchSize 批量写入切片时每批的行数。
const insertBatchSize = 100

// Store 基于 gorm 的仓储实现。
type Store struct {
	db *gorm.DB
}

// New 创建仓储。
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate 创建或更新全部表结构。
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&model.Document{},
		&model.DocumentChunk{},
		&model.Conversation{},
		&model.Message{},
		&model.TenantAssistantConfig{},
	); err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}
	return nil
}

// Transaction 在事务中执行 fn，fn 返回错误时回滚。
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
