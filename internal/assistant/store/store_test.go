package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/pkg/component/database"
	"github.com/kart-io/helix-assistant/pkg/component/milvus"
	dbopts "github.com/kart-io/helix-assistant/pkg/options/database"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	opts := dbopts.NewOptions()
	opts.SQLitePath = ":memory:"
	db, err := database.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	s := New(db)
	require.NoError(t, s.AutoMigrate(context.Background()))
	return s
}

// seedDocument 写入一个文档及其切片，embeddings 的每个元素对应一个切片。
func seedDocument(t *testing.T, s *Store, tenant, path string, embeddings ...[]float32) (*model.Document, []model.DocumentChunk) {
	t.Helper()
	doc := &model.Document{
		TenantID:    tenant,
		Title:       path,
		SourcePath:  path,
		ContentType: model.ContentTypeMarkdown,
		ContentHash: "hash-" + path,
		Version:     model.InitialVersion,
		Active:      true,
		Status:      model.DocumentIndexed,
	}
	chunks := make([]model.DocumentChunk, len(embeddings))
	for i, e := range embeddings {
		chunks[i] = model.DocumentChunk{
			TenantID:       tenant,
			ChunkIndex:     i,
			Content:        path,
			Embedding:      e,
			Dimension:      len(e),
			EmbeddingModel: "test",
		}
	}
	err := s.Transaction(context.Background(), func(tx *gorm.DB) error {
		doc.ChunkCount = len(chunks)
		if err := SaveDocumentTx(tx, doc); err != nil {
			return err
		}
		return ReplaceChunksTx(tx, doc.ID, chunks)
	})
	require.NoError(t, err)
	return doc, chunks
}

func TestStore_Documents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.FindDocumentBySource(ctx, "t1", "missing.md")
	require.NoError(t, err)
	assert.Nil(t, got)

	doc, chunks := seedDocument(t, s, "t1", "a.md", []float32{1, 0}, []float32{0, 1})
	for _, c := range chunks {
		assert.NotZero(t, c.ID)
		assert.Equal(t, doc.ID, c.DocumentID)
	}

	found, err := s.FindDocumentBySource(ctx, "t1", "a.md")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, doc.ID, found.ID)

	// 同一租户同一路径唯一
	dup := &model.Document{TenantID: "t1", SourcePath: "a.md", Title: "x", ContentHash: "y"}
	assert.Error(t, s.DB().Create(dup).Error)

	// 替换切片为新的一组
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		return ReplaceChunksTx(tx, doc.ID, []model.DocumentChunk{{TenantID: "t1", ChunkIndex: 0, Content: "new", Embedding: []float32{1, 1}, Dimension: 2, EmbeddingModel: "test"}})
	})
	require.NoError(t, err)
	list, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Content)

	// 事务失败时切片保持不变
	err = s.Transaction(ctx, func(tx *gorm.DB) error {
		if err := ReplaceChunksTx(tx, doc.ID, nil); err != nil {
			return err
		}
		return errors.New("vector index down")
	})
	require.Error(t, err)
	list, err = s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_DocumentActivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc, chunks := seedDocument(t, s, "t1", "a.md", []float32{1, 0})
	other, otherChunks := seedDocument(t, s, "t2", "b.md", []float32{1, 0})

	ids := []uint64{chunks[0].ID, otherChunks[0].ID}
	loaded, err := s.LoadActiveChunks(ctx, "t1", ids)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a.md", loaded[chunks[0].ID].DocumentTitle)

	updated, err := s.SetDocumentActive(ctx, "t1", doc.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)

	loaded, err = s.LoadActiveChunks(ctx, "t1", ids)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	active, err := s.ListDocuments(ctx, "t1", true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListDocuments(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Empty(t, all[0].Content)

	// 停用不删除切片
	list, err := s.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.SetDocumentActive(ctx, "t1", other.ID, false)
	assert.True(t, errors.Is(err, apierrors.ErrDocumentNotFound))
}

func TestStore_MarkDocumentFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedDocument(t, s, "t1", "a.md", []float32{1})

	require.NoError(t, s.MarkDocumentFailed(ctx, "t1", "a.md", "provider down"))
	require.NoError(t, s.MarkDocumentFailed(ctx, "t1", "missing.md", "ignored"))

	doc, err := s.FindDocumentBySource(ctx, "t1", "a.md")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, doc.Status)
	assert.Equal(t, "provider down", doc.LastError)
}

func TestStore_Messages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &model.Conversation{TenantID: "t1", UserID: "u1", Title: "c"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	_, err := s.GetConversation(ctx, "t1", "u2", conv.ID)
	assert.True(t, errors.Is(err, apierrors.ErrConversationNotFound))
	_, err = s.GetConversation(ctx, "t2", "u1", conv.ID)
	assert.True(t, errors.Is(err, apierrors.ErrConversationNotFound))

	// 时钟不前进时仍严格递增
	frozen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	roles := []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant, model.RoleUser}
	for i, r := range roles {
		msg := &model.Message{ConversationID: conv.ID, Role: r, Content: string(rune('a' + i))}
		require.NoError(t, s.AppendMessage(ctx, msg, frozen))
		assert.Equal(t, i+1, msg.Sequence)
	}

	all, err := s.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "消息 %d 时间戳未递增", i)
		assert.Equal(t, i+1, all[i].Sequence)
	}

	tests := []struct {
		name   string
		limit  int
		offset int
		want   string
	}{
		{"最新两条", 2, 0, "de"},
		{"跳过最新一条", 2, 1, "cd"},
		{"超出范围", 2, 10, ""},
		{"负偏移按零处理", 1, -3, "e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := s.ListMessages(ctx, conv.ID, tt.limit, tt.offset)
			require.NoError(t, err)
			got := ""
			for _, m := range msgs {
				got += m.Content
			}
			assert.Equal(t, tt.want, got)
		})
	}

	n, err := s.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	first, err := s.FirstUserMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Content)

	require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "novo"))
	got, err := s.GetConversation(ctx, "t1", "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "novo", got.Title)
}

func TestNextTimestamp(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		last time.Time
		now  time.Time
		want time.Time
	}{
		{"时钟前进", base, base.Add(time.Second), base.Add(time.Second)},
		{"时钟相同", base, base, base.Add(time.Microsecond)},
		{"时钟回拨", base, base.Add(-time.Hour), base.Add(time.Microsecond)},
		{"亚微秒前进按微秒截断", base, base.Add(300 * time.Nanosecond), base.Add(time.Microsecond)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(NextTimestamp(tt.last, tt.now)))
		})
	}
}

func TestStore_TenantConfig(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.GetConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTenantConfig("t1"), cfg)

	custom := model.DefaultTenantConfig("t1")
	custom.Enabled = false
	custom.Temperature = 0
	custom.SimilarityThreshold = 0
	custom.SystemPrompt = "Seja breve."
	require.NoError(t, s.UpsertConfig(ctx, custom))

	got, err := s.GetConfig(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Zero(t, got.Temperature)
	assert.Zero(t, got.SimilarityThreshold)
	assert.Equal(t, "Seja breve.", got.SystemPrompt)

	again := model.DefaultTenantConfig("t1")
	again.MaxContextChunks = 3
	require.NoError(t, s.UpsertConfig(ctx, again))
	got, err = s.GetConfig(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, 3, got.MaxContextChunks)

	bad := model.DefaultTenantConfig("t1")
	bad.SimilarityThreshold = 1.5
	assert.True(t, errors.Is(s.UpsertConfig(ctx, bad), apierrors.ErrValidation))
}

func TestSQLIndex_Search(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idx := NewSQLIndex(s.DB())

	a, _ := seedDocument(t, s, "t1", "a.md", []float32{1, 0}, []float32{0.6, 0.8}, []float32{1, 0})
	b, _ := seedDocument(t, s, "t1", "b.md", []float32{1, 0})
	seedDocument(t, s, "t2", "c.md", []float32{1, 0})
	seedDocument(t, s, "t1", "d.md", []float32{1, 0, 0})

	cands, err := idx.Search(ctx, "t1", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, cands, 4)

	// 同分按切片序号、文档 ID 升序
	assert.Equal(t, a.ID, cands[0].DocumentID)
	assert.Equal(t, 0, cands[0].ChunkIndex)
	assert.Equal(t, b.ID, cands[1].DocumentID)
	assert.Equal(t, 0, cands[1].ChunkIndex)
	assert.Equal(t, 2, cands[2].ChunkIndex)
	assert.InDelta(t, 0.6, cands[3].Score, 1e-6)

	limited, err := idx.Search(ctx, "t1", []float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = s.SetDocumentActive(ctx, "t1", b.ID, false)
	require.NoError(t, err)
	cands, err = idx.Search(ctx, "t1", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, cands, 3)

	empty, err := idx.Search(ctx, "t3", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// fakeMilvus 以主键保存向量，Search 只返回租户内启用的向量。
type fakeMilvus struct {
	rows map[int64]milvus.ChunkVector
	err  error
}

func newFakeMilvus() *fakeMilvus {
	return &fakeMilvus{rows: make(map[int64]milvus.ChunkVector)}
}

func (f *fakeMilvus) Upsert(_ context.Context, v []milvus.ChunkVector) error {
	if f.err != nil {
		return f.err
	}
	for _, row := range v {
		f.rows[row.ChunkID] = row
	}
	return nil
}

func (f *fakeMilvus) DeleteDocument(_ context.Context, tenant string, id int64) error {
	return f.DeleteStale(context.Background(), tenant, id, nil)
}

func (f *fakeMilvus) DeleteStale(_ context.Context, tenant string, id int64, keep []int64) error {
	kept := make(map[int64]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	for pk, row := range f.rows {
		if row.TenantID == tenant && row.DocumentID == id && !kept[pk] {
			delete(f.rows, pk)
		}
	}
	return nil
}

func (f *fakeMilvus) DeleteChunks(_ context.Context, tenant string, ids []int64) error {
	for _, id := range ids {
		if row, ok := f.rows[id]; ok && row.TenantID == tenant {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeMilvus) Search(_ context.Context, tenant string, _ []float32, topK int) ([]milvus.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	hits := []milvus.Hit{}
	for pk, row := range f.rows {
		if row.TenantID == tenant && row.Active && len(hits) < topK {
			hits = append(hits, milvus.Hit{ChunkID: pk, DocumentID: row.DocumentID, Score: 0.9})
		}
	}
	return hits, nil
}

func (f *fakeMilvus) ids() []int64 {
	out := make([]int64, 0, len(f.rows))
	for pk := range f.rows {
		out = append(out, pk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestMilvusIndex(t *testing.T) {
	fake := newFakeMilvus()
	idx := NewMilvusIndex(fake)
	ctx := context.Background()
	doc := &model.Document{ID: 3, TenantID: "t1", Active: true}
	v1 := []model.DocumentChunk{{ID: 9, Embedding: []float32{1}}, {ID: 10, Embedding: []float32{0}}}

	require.NoError(t, idx.Replace(ctx, nil, doc, v1))
	require.NoError(t, idx.Commit(ctx, doc, v1))
	assert.Equal(t, []int64{9, 10}, fake.ids())
	assert.Equal(t, "t1", fake.rows[10].TenantID)

	// 新版本写入后、提交前，旧切片仍然可检索
	v2 := []model.DocumentChunk{{ID: 11, Embedding: []float32{1}}}
	require.NoError(t, idx.Replace(ctx, nil, doc, v2))
	assert.Equal(t, []int64{9, 10, 11}, fake.ids())
	require.NoError(t, idx.Commit(ctx, doc, v2))
	assert.Equal(t, []int64{11}, fake.ids())

	// 回滚只撤销新写入的向量
	v3 := []model.DocumentChunk{{ID: 12, Embedding: []float32{0}}}
	require.NoError(t, idx.Replace(ctx, nil, doc, v3))
	require.NoError(t, idx.Abort(ctx, doc, v3))
	assert.Equal(t, []int64{11}, fake.ids())

	cands, err := idx.Search(ctx, "t1", []float32{1}, 5)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, uint64(11), cands[0].ChunkID)
	assert.InDelta(t, 0.9, cands[0].Score, 1e-6)

	doc.Active = false
	require.NoError(t, idx.SetActive(ctx, doc, v2))
	assert.False(t, fake.rows[11].Active)
	cands, err = idx.Search(ctx, "t1", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, cands, "停用文档的向量不参与检索")

	fake.err = errors.New("milvus down")
	assert.Error(t, idx.Replace(ctx, nil, doc, []model.DocumentChunk{{ID: 13}}))
	_, err = idx.Search(ctx, "t1", []float32{1}, 5)
	assert.Error(t, err)
}

func TestStore_AppendTurnIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &model.Conversation{TenantID: "t1", UserID: "u1"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	user := &model.Message{Role: model.RoleUser, Content: "oi", CreatedAt: now}
	reply := &model.Message{Role: model.RoleAssistant, Content: "olá", CreatedAt: now}
	require.NoError(t, s.AppendTurn(ctx, conv.ID, "oi...", user, reply))
	assert.Equal(t, 1, user.Sequence)
	assert.Equal(t, 2, reply.Sequence)
	assert.True(t, reply.CreatedAt.After(user.CreatedAt))

	got, err := s.GetConversation(ctx, "t1", "u1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "oi...", got.Title)

	// 助手消息写入失败时，同一轮的用户消息也不落库
	require.NoError(t, s.DB().Callback().Create().Before("gorm:create").Register("test:fail_assistant", func(db *gorm.DB) {
		if m, ok := db.Statement.Dest.(*model.Message); ok && m.Role == model.RoleAssistant {
			_ = db.AddError(errors.New("disk full"))
		}
	}))
	t.Cleanup(func() { _ = s.DB().Callback().Create().Remove("test:fail_assistant") })

	err = s.AppendTurn(ctx, conv.ID, "", &model.Message{Role: model.RoleUser, Content: "de novo", CreatedAt: now},
		&model.Message{Role: model.RoleAssistant, Content: "x", CreatedAt: now})
	require.Error(t, err)

	n, err := s.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_ListConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// 后创建但时间更早的会话排在后面
	newer := &model.Conversation{TenantID: "t1", UserID: "u1", Title: "novo", CreatedAt: base.Add(2 * time.Hour)}
	older := &model.Conversation{TenantID: "t1", UserID: "u1", Title: "antigo", CreatedAt: base.Add(time.Hour)}
	other := &model.Conversation{TenantID: "t1", UserID: "u2", CreatedAt: base}
	for _, c := range []*model.Conversation{newer, older, other} {
		require.NoError(t, s.CreateConversation(ctx, c))
	}
	require.NoError(t, s.AppendTurn(ctx, older.ID, "",
		&model.Message{Role: model.RoleUser, Content: "oi", CreatedAt: base},
		&model.Message{Role: model.RoleAssistant, Content: "olá", CreatedAt: base}))

	_, err := s.SetConversationActive(ctx, "t1", "u1", newer.ID, false)
	require.NoError(t, err)
	_, err = s.SetConversationActive(ctx, "t1", "u2", newer.ID, true)
	assert.ErrorIs(t, err, apierrors.ErrConversationNotFound)

	active, inactive := true, false
	tests := []struct {
		name      string
		user      string
		filter    ConversationFilter
		wantIDs   []uint64
		wantCount []int64
		wantTotal int64
	}{
		{"全部", "u1", ConversationFilter{}, []uint64{newer.ID, older.ID}, []int64{0, 2}, 2},
		{"仅启用", "u1", ConversationFilter{Active: &active}, []uint64{older.ID}, []int64{2}, 1},
		{"仅停用", "u1", ConversationFilter{Active: &inactive}, []uint64{newer.ID}, []int64{0}, 1},
		{"分页", "u1", ConversationFilter{Limit: 1, Offset: 1}, []uint64{older.ID}, []int64{2}, 2},
		{"其他用户", "u2", ConversationFilter{}, []uint64{other.ID}, []int64{0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, total, err := s.ListConversations(ctx, "t1", tt.user, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			var ids []uint64
			var counts []int64
			for _, r := range rows {
				ids = append(ids, r.ID)
				counts = append(counts, r.MessageCount)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantCount, counts)
		})
	}

	got, err := s.GetConversation(ctx, "t1", "u1", newer.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "novo", got.Title)
}
