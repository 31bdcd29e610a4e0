package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// documentListColumns 列表查询不加载正文。
var documentListColumns = []string{
	"id", "tenant_id", "title", "source_path", "content_type", "content_hash", "embedding_model",
	"version", "active", "status", "chunk_count", "last_error", "ingested_at", "updated_at",
}

// FindDocumentBySource 按租户与来源路径查找文档，不存在时返回 nil, nil。
func (s *Store) FindDocumentBySource(ctx context.Context, tenantID, sourcePath string) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND source_path = ?", tenantID, sourcePath).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// GetDocument 按 ID 获取租户内的文档。
func (s *Store) GetDocument(ctx context.Context, tenantID string, id uint64) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// ListDocuments 列出租户的文档，activeOnly 时只返回启用的文档。
func (s *Store) ListDocuments(ctx context.Context, tenantID string, activeOnly bool) ([]model.Document, error) {
	q := s.db.WithContext(ctx).
		Select(documentListColumns).
		Where("tenant_id = ?", tenantID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var docs []model.Document
	if err := q.Order("source_path ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("列出文档失败: %w", err)
	}
	return docs, nil
}

// SaveDocumentTx 在事务内写入文档：ID 为 0 时插入，否则更新全部字段。
func SaveDocumentTx(tx *gorm.DB, doc *model.Document) error {
	if doc.ID == 0 {
		return tx.Create(doc).Error
	}
	return tx.Save(doc).Error
}

// ReplaceChunksTx 在事务内删除文档的旧切片并写入新切片，写入后 chunks 带有主键。
func ReplaceChunksTx(tx *gorm.DB, documentID uint64, chunks []model.DocumentChunk) error {
	if err := tx.Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
		return fmt.Errorf("删除旧切片失败: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		chunks[i].ID = 0
		chunks[i].DocumentID = documentID
	}
	if err := tx.CreateInBatches(chunks, insertBatchSize).Error; err != nil {
		return fmt.Errorf("写入切片失败: %w", err)
	}
	return nil
}

// MarkDocumentFailed 将已存在的文档标记为失败，文档不存在时什么都不做。
func (s *Store) MarkDocumentFailed(ctx context.Context, tenantID, sourcePath, reason string) error {
	err := s.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("tenant_id = ? AND source_path = ?", tenantID, sourcePath).
		Updates(map[string]any{"status": model.DocumentFailed, "last_error": reason}).Error
	if err != nil {
		return fmt.Errorf("标记文档失败状态出错: %w", err)
	}
	return nil
}

// SetDocumentActive 启用或停用文档，不影响切片。
func (s *Store) SetDocumentActive(ctx context.Context, tenantID string, id uint64, active bool) (*model.Document, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("active", active)
	if res.Error != nil {
		return nil, fmt.Errorf("更新文档状态失败: %w", res.Error)
	}
	doc, err := s.GetDocument(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListChunks 按切片序号返回文档的全部切片。
func (s *Store) ListChunks(ctx context.Context, documentID uint64) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("查询切片失败: %w", err)
	}
	return chunks, nil
}

// CountChunks 统计租户的切片数。
func (s *Store) CountChunks(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.DocumentChunk{}).
		Where("tenant_id = ?", tenantID).
		Count(&n).Error
	return n, err
}

// chunkRow 切片与所属文档标题的联合查询结果。
type chunkRow struct {
	model.DocumentChunk
	DocumentTitle string
}

// LoadActiveChunks 按 ID 加载租户内启用文档的切片，返回以切片 ID 为键的结果。
// 不属于该租户或所属文档已停用的 ID 不会出现在结果中。
func (s *Store) LoadActiveChunks(ctx context.Context, tenantID string, ids []uint64) (map[uint64]model.ScoredChunk, error) {
	out := make(map[uint64]model.ScoredChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []chunkRow
	err := s.db.WithContext(ctx).
		Table(model.DocumentChunk{}.TableName()+" AS c").
		Select("c.*, d.title AS document_title").
		Joins("JOIN "+model.Document{}.TableName()+" AS d ON d.id = c.document_id").
		Where("c.id IN ? AND c.tenant_id = ? AND d.tenant_id = ? AND d.active = ?", ids, tenantID, tenantID, true).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("加载切片失败: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = model.ScoredChunk{Chunk: r.DocumentChunk, DocumentTitle: r.DocumentTitle}
	}
	return out, nil
}
