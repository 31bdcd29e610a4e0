package store

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
)

// SQLIndex 直接扫描切片表并在进程内计算余弦相似度，向量随切片行存储。
type SQLIndex struct {
	db *gorm.DB
}

var _ VectorIndex = (*SQLIndex)(nil)

// NewSQLIndex 创建 sql 索引。
func NewSQLIndex(db *gorm.DB) *SQLIndex {
	return &SQLIndex{db: db}
}

// Name 实现 VectorIndex。
func (i *SQLIndex) Name() string { return "sql" }

// Replace 实现 VectorIndex，向量已随切片写入。
func (i *SQLIndex) Replace(context.Context, *gorm.DB, *model.Document, []model.DocumentChunk) error {
	return nil
}

// Remove 实现 VectorIndex。
func (i *SQLIndex) Remove(context.Context, *gorm.DB, *model.Document) error {
	return nil
}

type sqlVectorRow struct {
	ID         uint64
	DocumentID uint64
	ChunkIndex int
	Embedding  datatypes.JSONSlice[float32]
}

// Search 实现 VectorIndex，维度与查询向量不同的切片被跳过。
func (i *SQLIndex) Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return []Candidate{}, nil
	}

	var rows []sqlVectorRow
	err := i.db.WithContext(ctx).
		Table(model.DocumentChunk{}.TableName()+" AS c").
		Select("c.id, c.document_id, c.chunk_index, c.embedding").
		Joins("JOIN "+model.Document{}.TableName()+" AS d ON d.id = c.document_id").
		Where("c.tenant_id = ? AND d.tenant_id = ? AND d.active = ? AND c.dimension = ?", tenantID, tenantID, true, len(vector)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("扫描切片向量失败: %w", err)
	}

	cands := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		cands = append(cands, Candidate{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Score:      textutil.CosineSimilarity(vector, r.Embedding),
		})
	}
	sortCandidates(cands)
	if len(cands) > limit {
		cands = cands[:limit]
	}
	return cands, nil
}
