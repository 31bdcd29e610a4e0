package biz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/pkg/component/milvus"
)

// memoryMilvus 内存中的向量集合，按主键覆盖写入。
type memoryMilvus struct {
	mu        sync.Mutex
	rows      map[int64]milvus.ChunkVector
	upsertErr error
}

func newMemoryMilvus() *memoryMilvus {
	return &memoryMilvus{rows: make(map[int64]milvus.ChunkVector)}
}

func (m *memoryMilvus) Upsert(_ context.Context, vectors []milvus.ChunkVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, v := range vectors {
		m.rows[v.ChunkID] = v
	}
	return nil
}

func (m *memoryMilvus) DeleteDocument(ctx context.Context, tenantID string, documentID int64) error {
	return m.DeleteStale(ctx, tenantID, documentID, nil)
}

func (m *memoryMilvus) DeleteStale(_ context.Context, tenantID string, documentID int64, keep []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make(map[int64]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	for id, v := range m.rows {
		if v.TenantID == tenantID && v.DocumentID == documentID && !kept[id] {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *memoryMilvus) DeleteChunks(_ context.Context, tenantID string, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if v, ok := m.rows[id]; ok && v.TenantID == tenantID {
			delete(m.rows, id)
		}
	}
	return nil
}

func (m *memoryMilvus) Search(_ context.Context, tenantID string, _ []float32, topK int) ([]milvus.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := []milvus.Hit{}
	for id, v := range m.rows {
		if v.TenantID == tenantID && v.Active && len(hits) < topK {
			hits = append(hits, milvus.Hit{ChunkID: id, DocumentID: v.DocumentID, Score: 0.5})
		}
	}
	return hits, nil
}

func (m *memoryMilvus) snapshot() (ids []int64, active map[int64]bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active = make(map[int64]bool, len(m.rows))
	for id, v := range m.rows {
		ids = append(ids, id)
		active[id] = v.Active
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, active
}

func chunkIDsOf(t *testing.T, st *store.Store, documentID uint64) []int64 {
	t.Helper()
	chunks, err := st.ListChunks(context.Background(), documentID)
	require.NoError(t, err)
	ids := make([]int64, len(chunks))
	for n, c := range chunks {
		ids[n] = int64(c.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestIngestor_ExternalIndexFollowsRelationalStore(t *testing.T) {
	st := newTestStore(t)
	vectors := newMemoryMilvus()
	ingestor, err := NewIngestor(testIngestConfig(), st, store.NewMilvusIndex(vectors), newFakeEmbedder())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ingestor.Ingest(ctx, testTenant, StaticSource{markdownDoc("erp.md", erpDoc)})
	require.NoError(t, err)
	doc, err := st.FindDocumentBySource(ctx, testTenant, "erp.md")
	require.NoError(t, err)
	ids, _ := vectors.snapshot()
	assert.Equal(t, chunkIDsOf(t, st, doc.ID), ids)

	// 新版本提交后只保留新切片的向量
	_, err = ingestor.Ingest(ctx, testTenant, StaticSource{markdownDoc("erp.md", threeSectionDoc())})
	require.NoError(t, err)
	ids, _ = vectors.snapshot()
	assert.Equal(t, chunkIDsOf(t, st, doc.ID), ids)

	// 停用与启用同步到向量集合
	_, err = ingestor.Deactivate(ctx, testTenant, doc.ID)
	require.NoError(t, err)
	_, active := vectors.snapshot()
	for id, on := range active {
		assert.False(t, on, "chunk %d 应已停用", id)
	}
	hits, err := vectors.Search(ctx, testTenant, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = ingestor.Activate(ctx, testTenant, doc.ID)
	require.NoError(t, err)
	_, active = vectors.snapshot()
	for id, on := range active {
		assert.True(t, on, "chunk %d 应已启用", id)
	}
}

func TestIngestor_ExternalIndexFailureKeepsState(t *testing.T) {
	st := newTestStore(t)
	vectors := newMemoryMilvus()
	ingestor, err := NewIngestor(testIngestConfig(), st, store.NewMilvusIndex(vectors), newFakeEmbedder())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ingestor.Ingest(ctx, testTenant, StaticSource{markdownDoc("erp.md", erpDoc)})
	require.NoError(t, err)
	doc, err := st.FindDocumentBySource(ctx, testTenant, "erp.md")
	require.NoError(t, err)
	before, _ := vectors.snapshot()

	vectors.mu.Lock()
	vectors.upsertErr = errors.New("milvus down")
	vectors.mu.Unlock()

	summary, err := ingestor.Ingest(ctx, testTenant, StaticSource{markdownDoc("erp.md", threeSectionDoc())})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	after, _ := vectors.snapshot()
	assert.Equal(t, before, after, "写入失败时旧向量保持不变")
	assert.Equal(t, before, chunkIDsOf(t, st, doc.ID), "关系库回滚到旧切片")

	_, err = ingestor.Deactivate(ctx, testTenant, doc.ID)
	require.Error(t, err)
	got, err := st.GetDocument(ctx, testTenant, doc.ID)
	require.NoError(t, err)
	assert.True(t, got.Active, "索引同步失败时恢复启用状态")
}
