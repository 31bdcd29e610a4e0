package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
)

const chunkVectorTable = "assistant_chunk_vectors"

// PGVectorIndex 使用 PostgreSQL pgvector 扩展，向量存放在独立的表中，
// 以余弦距离 <=> 排序。
type PGVectorIndex struct {
	db        *gorm.DB
	dimension int
}

var (
	_ VectorIndex = (*PGVectorIndex)(nil)
	_ Migrator    = (*PGVectorIndex)(nil)
)

// chunkVector 向量表的一行。
type chunkVector struct {
	ChunkID    uint64          `gorm:"primaryKey;autoIncrement:false"`
	TenantID   string          `gorm:"type:varchar(64);not null"`
	DocumentID uint64          `gorm:"not null"`
	Embedding  pgvector.Vector `gorm:"not null"`
}

func (chunkVector) TableName() string { return chunkVectorTable }

// NewPGVectorIndex 创建 pgvector 索引，dimension 为向量列的维度。
func NewPGVectorIndex(db *gorm.DB, dimension int) *PGVectorIndex {
	return &PGVectorIndex{db: db, dimension: dimension}
}

// Name 实现 VectorIndex。
func (i *PGVectorIndex) Name() string { return "pgvector" }

// Migrate 启用扩展并创建向量表与 HNSW 索引。
func (i *PGVectorIndex) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id bigint PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
			tenant_id varchar(64) NOT NULL,
			document_id bigint NOT NULL,
			embedding vector(%d) NOT NULL
		)`, chunkVectorTable, model.DocumentChunk{}.TableName(), i.dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_chunk_vectors_tenant ON %s (tenant_id)", chunkVectorTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_chunk_vectors_document ON %s (document_id)", chunkVectorTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_chunk_vectors_embedding ON %s USING hnsw (embedding vector_cosine_ops)", chunkVectorTable),
	}
	db := i.db.WithContext(ctx)
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("pgvector 迁移失败: %w", err)
		}
	}
	return nil
}

// Replace 实现 VectorIndex。
func (i *PGVectorIndex) Replace(ctx context.Context, tx *gorm.DB, doc *model.Document, chunks []model.DocumentChunk) error {
	if err := i.Remove(ctx, tx, doc); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]chunkVector, len(chunks))
	for n, c := range chunks {
		if len(c.Embedding) != i.dimension {
			return fmt.Errorf("切片 %d 向量维度 %d 与索引维度 %d 不一致", c.ChunkIndex, len(c.Embedding), i.dimension)
		}
		rows[n] = chunkVector{
			ChunkID:    c.ID,
			TenantID:   doc.TenantID,
			DocumentID: doc.ID,
			Embedding:  pgvector.NewVector(c.Embedding),
		}
	}
	if err := tx.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("写入 pgvector 失败: %w", err)
	}
	return nil
}

// Remove 实现 VectorIndex。
func (i *PGVectorIndex) Remove(ctx context.Context, tx *gorm.DB, doc *model.Document) error {
	if err := tx.WithContext(ctx).Where("document_id = ?", doc.ID).Delete(&chunkVector{}).Error; err != nil {
		return fmt.Errorf("删除 pgvector 失败: %w", err)
	}
	return nil
}

// Search 实现 VectorIndex。
func (i *PGVectorIndex) Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return []Candidate{}, nil
	}

	q := pgvector.NewVector(vector)
	var cands []Candidate
	err := i.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT v.chunk_id, v.document_id, c.chunk_index, 1 - (v.embedding <=> ?) AS score
		FROM %s v
		JOIN %s c ON c.id = v.chunk_id
		JOIN %s d ON d.id = v.document_id
		WHERE v.tenant_id = ? AND d.active = TRUE
		ORDER BY v.embedding <=> ?
		LIMIT ?`, chunkVectorTable, model.DocumentChunk{}.TableName(), model.Document{}.TableName()),
		q, tenantID, q, limit).
		Scan(&cands).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector 检索失败: %w", err)
	}
	sortCandidates(cands)
	return cands, nil
}
