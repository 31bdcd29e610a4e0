package biz

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/helix-assistant/internal/assistant/metrics"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/i18n"
	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
	"github.com/kart-io/helix-assistant/pkg/component/database"
	"github.com/kart-io/helix-assistant/pkg/llm"
	dbopts "github.com/kart-io/helix-assistant/pkg/options/database"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

const (
	testTenant = "acme"
	testUser   = "u-1"
	testDim    = 256
)

// fakeEmbedder 词袋向量：每个不同的词占一个维度，相同输入得到相同向量。
type fakeEmbedder struct {
	mu       sync.Mutex
	vocab    map[string]int
	calls    int
	failures int
	failErr  error
	failOn   string
	dim      int
	model    string
	health   error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vocab: make(map[string]int), dim: testDim, model: "fake-embed"}
}

func (f *fakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.dim)
	for _, tok := range (textutil.WordTokenizer{}).Tokenize(text) {
		word := strings.ToLower(text[tok.Start:tok.End])
		if !strings.ContainsFunc(word, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		idx, ok := f.vocab[word]
		if !ok {
			idx = len(f.vocab) % f.dim
			f.vocab[word] = idx
		}
		v[idx]++
	}
	return v
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, apierrors.ErrProviderUnavailable.WithCause(errors.New("poisoned input"))
		}
		out[i] = f.vector(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Name() string                 { return "fake" }
func (f *fakeEmbedder) Model() string                { return f.model }
func (f *fakeEmbedder) Dimension() int               { return f.dim }
func (f *fakeEmbedder) Health(context.Context) error { return f.health }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeChat 返回固定回复，可模拟延迟与错误。
type fakeChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	window   int
	calls    int
	messages []llm.Message
	started  chan struct{}
}

func newFakeChat(reply string) *fakeChat {
	return &fakeChat{reply: reply, window: 8192}
}

func (f *fakeChat) Chat(ctx context.Context, messages []llm.Message, _ *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	f.mu.Lock()
	f.calls++
	f.messages = messages
	delay, err, reply, started := f.delay, f.err, f.reply, f.started
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{
		Content:    reply,
		TokenUsage: llm.TokenUsage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
	}, nil
}

func (f *fakeChat) Generate(ctx context.Context, prompt, system string, opts *llm.GenerateOptions) (*llm.GenerateResponse, error) {
	return f.Chat(ctx, []llm.Message{{Role: llm.RoleSystem, Content: system}, {Role: llm.RoleUser, Content: prompt}}, opts)
}

func (f *fakeChat) Name() string                 { return "fake" }
func (f *fakeChat) Model() string                { return "fake-chat" }
func (f *fakeChat) ContextWindow() int           { return f.window }
func (f *fakeChat) Health(context.Context) error { return nil }

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	store     *store.Store
	embedder  *fakeEmbedder
	chat      *fakeChat
	metrics   *metrics.Collector
	languages *i18n.Manager
	ingestor  *Ingestor
	retriever *Retriever
	assembler *Assembler
	convs     *ConversationManager
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	opts := dbopts.NewOptions()
	opts.SQLitePath = ":memory:"
	db, err := database.Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	st := store.New(db)
	require.NoError(t, st.AutoMigrate(context.Background()))
	return st
}

func testIngestConfig() *IngestConfig {
	return &IngestConfig{
		ChunkSize:      50,
		ChunkOverlap:   10,
		EmbedBatchSize: 4,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	}
}

func newTestEnv(t *testing.T, opts ...IngestorOption) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newTestStore(t),
		embedder:  newFakeEmbedder(),
		chat:      newFakeChat("O ERP integra os módulos [1]."),
		metrics:   metrics.NewCollector(),
		languages: i18n.NewManager(),
	}
	index := store.NewSQLIndex(env.store.DB())

	opts = append([]IngestorOption{WithIngestMetrics(env.metrics)}, opts...)
	ingestor, err := NewIngestor(testIngestConfig(), env.store, index, env.embedder, opts...)
	require.NoError(t, err)
	env.ingestor = ingestor
	env.retriever = NewRetriever(nil, env.store, index, env.embedder, env.metrics)
	env.assembler = NewAssembler(env.languages, 256)
	env.convs = NewConversationManager(&ConversationConfig{
		GenerationTimeout: time.Second,
		MaxTokens:         256,
		HistoryMessages:   4,
	}, ConversationDeps{
		Store:     env.store,
		Retriever: env.retriever,
		Assembler: env.assembler,
		Chat:      env.chat,
		Languages: env.languages,
		Metrics:   env.metrics,
	})
	return env
}

// setTenant 写入租户配置，mutate 可以修改默认值。
func (e *testEnv) setTenant(t *testing.T, tenant string, mutate func(c *model.TenantAssistantConfig)) {
	t.Helper()
	cfg := model.DefaultTenantConfig(tenant)
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, e.store.UpsertConfig(context.Background(), cfg))
}

func (e *testEnv) ingest(t *testing.T, tenant string, docs ...SourceDocument) *IngestionSummary {
	t.Helper()
	summary, err := e.ingestor.Ingest(context.Background(), tenant, StaticSource(docs))
	require.NoError(t, err)
	return summary
}

func markdownDoc(path, content string) SourceDocument {
	return SourceDocument{Path: path, Content: content, ContentType: model.ContentTypeMarkdown}
}

// 常用测试文档。
const (
	erpDoc = `# ERP

What is an ERP? An ERP is enterprise resource planning software.`
	vacationDoc = `# Férias

Colaboradores têm direito a trinta dias de férias por ano.`
)

// threeSectionDoc 三个章节，每章 3 + 40 个词元，共 129 个词元。
func threeSectionDoc() string {
	var sb strings.Builder
	for _, section := range []string{"A", "B", "C"} {
		sb.WriteString("# Parte " + section + "\n\n")
		sb.WriteString(strings.TrimSpace(strings.Repeat("termo"+strings.ToLower(section)+" ", 40)))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
