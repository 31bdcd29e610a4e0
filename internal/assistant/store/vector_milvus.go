package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/pkg/component/milvus"
)

// milvusClient 是 MilvusIndex 依赖的集合操作。
type milvusClient interface {
	Upsert(ctx context.Context, vectors []milvus.ChunkVector) error
	DeleteDocument(ctx context.Context, tenantID string, documentID int64) error
	DeleteStale(ctx context.Context, tenantID string, documentID int64, keep []int64) error
	DeleteChunks(ctx context.Context, tenantID string, chunkIDs []int64) error
	Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]milvus.Hit, error)
}

// MilvusIndex 将向量写入 Milvus 集合，按 tenant_id 与 active 过滤检索。
// Milvus 不参与关系库事务：Replace 只追加新切片的向量，旧向量在提交后由 Commit 删除，
// 回滚时 Abort 删除新写入的向量，因此任一时刻检索都能看到一套完整的切片。
type MilvusIndex struct {
	client milvusClient
}

var (
	_ VectorIndex    = (*MilvusIndex)(nil)
	_ Finalizer      = (*MilvusIndex)(nil)
	_ ActivitySyncer = (*MilvusIndex)(nil)
)

// NewMilvusIndex 创建 milvus 索引。
func NewMilvusIndex(client milvusClient) *MilvusIndex {
	return &MilvusIndex{client: client}
}

// Name 实现 VectorIndex。
func (i *MilvusIndex) Name() string { return "milvus" }

// Replace 实现 VectorIndex，只写入新向量。
func (i *MilvusIndex) Replace(ctx context.Context, _ *gorm.DB, doc *model.Document, chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := i.client.Upsert(ctx, chunkVectors(doc, chunks)); err != nil {
		return fmt.Errorf("写入 milvus 失败: %w", err)
	}
	return nil
}

// Commit 实现 Finalizer，删除文档中不属于 chunks 的旧向量。
func (i *MilvusIndex) Commit(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error {
	if doc.ID == 0 {
		return nil
	}
	if err := i.client.DeleteStale(ctx, doc.TenantID, int64(doc.ID), chunkIDs(chunks)); err != nil {
		return fmt.Errorf("清理 milvus 旧向量失败: %w", err)
	}
	return nil
}

// Abort 实现 Finalizer，删除 Replace 写入的向量，旧向量保持不变。
func (i *MilvusIndex) Abort(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error {
	ids := chunkIDs(chunks)
	if len(ids) == 0 {
		return nil
	}
	if err := i.client.DeleteChunks(ctx, doc.TenantID, ids); err != nil {
		return fmt.Errorf("撤销 milvus 新向量失败: %w", err)
	}
	return nil
}

// SetActive 实现 ActivitySyncer，用 doc.Active 覆盖文档全部向量的 active 字段。
func (i *MilvusIndex) SetActive(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := i.client.Upsert(ctx, chunkVectors(doc, chunks)); err != nil {
		return fmt.Errorf("同步 milvus 启用状态失败: %w", err)
	}
	return nil
}

// Remove 实现 VectorIndex。
func (i *MilvusIndex) Remove(ctx context.Context, _ *gorm.DB, doc *model.Document) error {
	if doc.ID == 0 {
		return nil
	}
	return i.client.DeleteDocument(ctx, doc.TenantID, int64(doc.ID))
}

// Search 实现 VectorIndex。
func (i *MilvusIndex) Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]Candidate, error) {
	hits, err := i.client.Search(ctx, tenantID, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("milvus 检索失败: %w", err)
	}
	cands := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, Candidate{
			ChunkID:    uint64(h.ChunkID),
			DocumentID: uint64(h.DocumentID),
			Score:      float64(h.Score),
		})
	}
	return cands, nil
}

func chunkVectors(doc *model.Document, chunks []model.DocumentChunk) []milvus.ChunkVector {
	vectors := make([]milvus.ChunkVector, len(chunks))
	for n, c := range chunks {
		vectors[n] = milvus.ChunkVector{
			ChunkID:    int64(c.ID),
			TenantID:   doc.TenantID,
			DocumentID: int64(doc.ID),
			Active:     doc.Active,
			Embedding:  c.Embedding,
		}
	}
	return vectors
}

func chunkIDs(chunks []model.DocumentChunk) []int64 {
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		if c.ID != 0 {
			ids = append(ids, int64(c.ID))
		}
	}
	return ids
}
