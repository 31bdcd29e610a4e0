package store

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
)

// Candidate 向量索引返回的候选切片。
type Candidate struct {
	ChunkID    uint64
	DocumentID uint64
	ChunkIndex int
	Score      float64
}

// VectorIndex 切片向量的近邻索引。
type VectorIndex interface {
	// Name 返回索引后端名称。
	Name() string
	// Replace 在 tx 中用 chunks 替换文档的全部向量，chunks 已带主键。
	Replace(ctx context.Context, tx *gorm.DB, doc *model.Document, chunks []model.DocumentChunk) error
	// Remove 在 tx 中删除文档的全部向量。
	Remove(ctx context.Context, tx *gorm.DB, doc *model.Document) error
	// Search 返回租户内与 vector 最相似的至多 limit 个候选。
	Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]Candidate, error)
}

// Finalizer 由不参与关系库事务的索引实现。
// 这类索引的 Replace 只写入新向量；事务提交后调用 Commit 删除旧向量，
// 事务回滚后调用 Abort 删除已写入的新向量。
type Finalizer interface {
	Commit(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error
	Abort(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error
}

// ActivitySyncer 由自行保存文档启用状态的索引实现，状态取 doc.Active。
type ActivitySyncer interface {
	SetActive(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error
}

// Migrator 由需要额外建表的索引实现。
type Migrator interface {
	Migrate(ctx context.Context) error
}

// sortCandidates 按与检索结果一致的规则排序。
func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		return model.LessScored(
			model.ScoredChunk{Score: a.Score, Chunk: model.DocumentChunk{ID: a.ChunkID, DocumentID: a.DocumentID, ChunkIndex: a.ChunkIndex}},
			model.ScoredChunk{Score: b.Score, Chunk: model.DocumentChunk{ID: b.ChunkID, DocumentID: b.DocumentID, ChunkIndex: b.ChunkIndex}},
		)
	})
}
