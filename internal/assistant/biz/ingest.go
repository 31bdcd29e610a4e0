package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/assistant/metrics"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
	"github.com/kart-io/helix-assistant/pkg/infra/pool"
	"github.com/kart-io/helix-assistant/pkg/llm"
	"github.com/kart-io/helix-assistant/pkg/llm/resilience"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// IngestConfig 摄取流水线配置。
type IngestConfig struct {
	// ChunkSize 每个切片的最大词元数。
	ChunkSize int
	// ChunkOverlap 相邻切片重叠的词元数，必须小于 ChunkSize。
	ChunkOverlap int
	// EmbedBatchSize 每次 Embedding 调用的切片数。
	EmbedBatchSize int
	// MaxRetries Embedding 失败后的最大重试次数。
	MaxRetries int
	// RetryDelay 首次重试前的等待时间，之后指数增长。
	RetryDelay time.Duration
}

// DefaultIngestConfig 返回默认摄取配置。
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		ChunkSize:      1000,
		ChunkOverlap:   200,
		EmbedBatchSize: 32,
		MaxRetries:     1,
		RetryDelay:     500 * time.Millisecond,
	}
}

// IngestionStatus 一次批量摄取的总体结果。
type IngestionStatus string

// 摄取结果。
const (
	IngestionSuccess IngestionStatus = "success"
	IngestionPartial IngestionStatus = "partial"
	IngestionError   IngestionStatus = "error"
)

// DocumentFailure 记录单个文档的失败原因。
type DocumentFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// IngestionSummary 批量摄取的汇总结果。
type IngestionSummary struct {
	Status            IngestionStatus   `json:"status"`
	DocumentsIngested int               `json:"documents_ingested"`
	ChunksCreated     int               `json:"chunks_created"`
	DocumentsSkipped  int               `json:"documents_skipped"`
	Errors            int               `json:"errors"`
	Failures          []DocumentFailure `json:"failures,omitempty"`
	Message           string            `json:"message"`
}

// Err 存在失败文档时返回对应错误码，全部成功返回 nil。
func (s *IngestionSummary) Err() error {
	switch s.Status {
	case IngestionPartial:
		return apierrors.ErrPartialIngestion.WithMessagef("%d of %d documents failed", s.Errors, s.total())
	case IngestionError:
		return apierrors.ErrIngestionFailed.WithMessagef("all %d documents failed", s.Errors)
	}
	return nil
}

func (s *IngestionSummary) total() int {
	return s.DocumentsIngested + s.DocumentsSkipped + s.Errors
}

// docOutcome 单个文档的处理结果。
type docOutcome struct {
	skipped bool
	chunks  int
}

// Ingestor 将文档切分、向量化并写入存储。
type Ingestor struct {
	cfg      *IngestConfig
	store    *store.Store
	index    store.VectorIndex
	embedder llm.EmbeddingProvider
	chunker  *textutil.Chunker
	workers  *pool.Pool
	metrics  *metrics.Collector
	locks    *KeyedMutex
	jobs     *jobRegistry
	jobPool  *pool.Pool
}

// IngestorOption 配置 Ingestor 的可选依赖。
type IngestorOption func(*Ingestor)

// WithWorkerPool 使用工作池并发处理不同文档，未设置时顺序处理。
func WithWorkerPool(p *pool.Pool) IngestorOption {
	return func(i *Ingestor) { i.workers = p }
}

// WithJobPool 设置后台摄取任务使用的池。
func WithJobPool(p *pool.Pool) IngestorOption {
	return func(i *Ingestor) { i.jobPool = p }
}

// WithIngestMetrics 注入指标收集器。
func WithIngestMetrics(c *metrics.Collector) IngestorOption {
	return func(i *Ingestor) { i.metrics = c }
}

// NewIngestor 创建摄取流水线。
func NewIngestor(cfg *IngestConfig, st *store.Store, index store.VectorIndex, embedder llm.EmbeddingProvider, opts ...IngestorOption) (*Ingestor, error) {
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	if cfg.EmbedBatchSize < 1 {
		cfg.EmbedBatchSize = 1
	}
	chunker, err := textutil.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap, textutil.WordTokenizer{})
	if err != nil {
		return nil, apierrors.ErrValidation.WithCause(err)
	}

	i := &Ingestor{
		cfg:      cfg,
		store:    st,
		index:    index,
		embedder: embedder,
		chunker:  chunker,
		locks:    NewKeyedMutex(),
		jobs:     newJobRegistry(defaultJobHistory),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Embedder 返回使用的 Embedding 供应商。
func (i *Ingestor) Embedder() llm.EmbeddingProvider {
	return i.embedder
}

// Ingest 摄取 source 中的全部文档。
// 单个文档失败不会中断其余文档，调用方通过汇总结果获知失败详情。
func (i *Ingestor) Ingest(ctx context.Context, tenantID string, source Source) (*IngestionSummary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, apierrors.ErrValidation.WithMessage("tenant id is required")
	}
	docs, err := source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("枚举文档失败: %w", err)
	}

	start := time.Now()
	outcomes := make([]docOutcome, len(docs))
	run := func(ctx context.Context, n int) error {
		out, err := i.ingestDocument(ctx, tenantID, docs[n])
		outcomes[n] = out
		return err
	}

	var errs []error
	if i.workers != nil {
		errs = i.workers.Map(ctx, len(docs), run)
	} else {
		errs = make([]error, len(docs))
		for n := range docs {
			if err := ctx.Err(); err != nil {
				errs[n] = err
				continue
			}
			errs[n] = run(ctx, n)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := &IngestionSummary{}
	for n, err := range errs {
		if err != nil {
			summary.Errors++
			summary.Failures = append(summary.Failures, DocumentFailure{
				Path:  docs[n].Path,
				Error: err.Error(),
				Code:  apierrors.GetCode(err),
			})
			continue
		}
		if outcomes[n].skipped {
			summary.DocumentsSkipped++
			continue
		}
		summary.DocumentsIngested++
		summary.ChunksCreated += outcomes[n].chunks
	}
	summary.finish()

	if i.metrics != nil {
		i.metrics.RecordIngestion(summary.DocumentsIngested, summary.DocumentsSkipped, summary.Errors, summary.ChunksCreated)
	}
	logger.Infow("文档摄取完成",
		"tenant_id", tenantID,
		"status", summary.Status,
		"ingested", summary.DocumentsIngested,
		"skipped", summary.DocumentsSkipped,
		"errors", summary.Errors,
		"chunks", summary.ChunksCreated,
		"duration", time.Since(start),
	)
	return summary, nil
}

func (s *IngestionSummary) finish() {
	switch {
	case s.Errors == 0:
		s.Status = IngestionSuccess
	case s.DocumentsIngested+s.DocumentsSkipped > 0:
		s.Status = IngestionPartial
	default:
		s.Status = IngestionError
	}

	if s.total() == 0 {
		s.Message = "No documents found"
		return
	}
	s.Message = fmt.Sprintf("Ingested %d documents (%d chunks), skipped %d, failed %d",
		s.DocumentsIngested, s.ChunksCreated, s.DocumentsSkipped, s.Errors)
}

// ingestDocument 处理单个文档：解析、切分、向量化并在一个事务内替换存储。
func (i *Ingestor) ingestDocument(ctx context.Context, tenantID string, src SourceDocument) (docOutcome, error) {
	if strings.TrimSpace(src.Path) == "" {
		return docOutcome{}, apierrors.ErrValidation.WithMessage("document path is required")
	}
	if src.Err != nil {
		return docOutcome{}, src.Err
	}
	parsed, err := ParseDocument(src)
	if err != nil {
		return docOutcome{}, err
	}

	unlock := i.locks.Lock(tenantID + "|" + src.Path)
	defer unlock()

	hash := textutil.HashContent(src.Content)
	embedModel := i.embedder.Model()

	existing, err := i.store.FindDocumentBySource(ctx, tenantID, src.Path)
	if err != nil {
		return docOutcome{}, err
	}
	if existing != nil && existing.Status == model.DocumentIndexed &&
		existing.ContentHash == hash && existing.EmbeddingModel == embedModel {
		if !existing.Active {
			if _, err := i.setActive(ctx, tenantID, existing.ID, true); err != nil {
				return docOutcome{}, err
			}
			logger.Infow("文档内容未变化，已重新启用", "tenant_id", tenantID, "path", src.Path)
		}
		return docOutcome{skipped: true}, nil
	}

	pieces := i.chunker.Split(parsed.Text)
	if len(pieces) == 0 {
		return docOutcome{}, apierrors.ErrValidation.WithMessage("document produced no chunks")
	}

	vectors, err := i.embedChunks(ctx, pieces)
	if err != nil {
		i.markFailed(ctx, tenantID, src.Path, existing, err)
		return docOutcome{}, err
	}

	doc := existing
	if doc == nil {
		doc = &model.Document{
			TenantID:   tenantID,
			SourcePath: src.Path,
			Version:    model.InitialVersion,
		}
	} else if doc.ContentHash != hash || doc.EmbeddingModel != embedModel {
		doc.Version = nextVersion(doc.Version)
	}
	doc.Title = textutil.TruncateRunes(parsed.Title, 255)
	doc.Content = src.Content
	doc.ContentType = src.ContentType
	doc.ContentHash = hash
	doc.EmbeddingModel = embedModel
	doc.Active = true
	doc.Status = model.DocumentIndexed
	doc.ChunkCount = len(pieces)
	doc.LastError = ""

	chunks := make([]model.DocumentChunk, len(pieces))
	for n, p := range pieces {
		chunks[n] = model.DocumentChunk{
			TenantID:       tenantID,
			ChunkIndex:     p.Index,
			Content:        p.Content,
			TokenCount:     p.TokenCount,
			Embedding:      vectors[n],
			Dimension:      len(vectors[n]),
			EmbeddingModel: embedModel,
		}
	}

	err = i.store.Transaction(ctx, func(tx *gorm.DB) error {
		if err := store.SaveDocumentTx(tx, doc); err != nil {
			return err
		}
		if err := store.ReplaceChunksTx(tx, doc.ID, chunks); err != nil {
			return err
		}
		return i.index.Replace(ctx, tx, doc, chunks)
	})
	i.finalizeIndex(ctx, doc, chunks, err)
	if err != nil {
		i.markFailed(ctx, tenantID, src.Path, existing, err)
		return docOutcome{}, fmt.Errorf("写入文档 %s 失败: %w", src.Path, err)
	}

	logger.Debugw("文档已索引",
		"tenant_id", tenantID,
		"path", src.Path,
		"document_id", doc.ID,
		"version", doc.Version,
		"chunks", len(chunks),
	)
	return docOutcome{chunks: len(chunks)}, nil
}

// finalizeIndex 为事务外的索引补做提交或回滚，失败只记录日志：
// 残留的旧向量在回表时因切片不存在而被丢弃。
func (i *Ingestor) finalizeIndex(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk, txErr error) {
	f, ok := i.index.(store.Finalizer)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if txErr == nil {
		if err := f.Commit(ctx, doc, chunks); err != nil {
			logger.Warnw("清理旧向量失败", "tenant_id", doc.TenantID, "document_id", doc.ID, "error", err)
		}
		return
	}

	// 回滚后的旧切片可能与刚写入的切片主键相同，只撤销关系库中已不存在的主键，
	// 再按关系库现状重写旧切片的向量
	var (
		current  *model.Document
		restored []model.DocumentChunk
	)
	if doc.ID != 0 {
		var err error
		current, err = i.store.GetDocument(ctx, doc.TenantID, doc.ID)
		if err != nil {
			current = nil
		} else if restored, err = i.store.ListChunks(ctx, doc.ID); err != nil {
			logger.Warnw("读取回滚后的切片失败", "tenant_id", doc.TenantID, "document_id", doc.ID, "error", err)
			return
		}
	}
	if err := f.Abort(ctx, doc, withoutChunks(chunks, restored)); err != nil {
		logger.Warnw("撤销向量写入失败", "tenant_id", doc.TenantID, "path", doc.SourcePath, "error", err)
		return
	}
	syncer, ok := i.index.(store.ActivitySyncer)
	if !ok || current == nil || len(restored) == 0 {
		return
	}
	if err := syncer.SetActive(ctx, current, restored); err != nil {
		logger.Warnw("恢复旧向量失败", "tenant_id", doc.TenantID, "document_id", doc.ID, "error", err)
	}
}

// withoutChunks 返回 chunks 中主键不在 keep 内的切片。
func withoutChunks(chunks, keep []model.DocumentChunk) []model.DocumentChunk {
	kept := make(map[uint64]bool, len(keep))
	for _, c := range keep {
		kept[c.ID] = true
	}
	out := make([]model.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if !kept[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// embedChunks 分批生成切片向量，每批失败时按退避策略重试。
// 同一文档内的向量维度必须一致。
func (i *Ingestor) embedChunks(ctx context.Context, pieces []textutil.Chunk) ([][]float32, error) {
	retry := resilience.EmbeddingRetryConfig(i.cfg.MaxRetries, i.cfg.RetryDelay)
	vectors := make([][]float32, 0, len(pieces))
	dimension := 0

	for start := 0; start < len(pieces); start += i.cfg.EmbedBatchSize {
		end := min(start+i.cfg.EmbedBatchSize, len(pieces))
		texts := make([]string, 0, end-start)
		for _, p := range pieces[start:end] {
			texts = append(texts, p.Content)
		}

		var batch [][]float32
		err := resilience.RetryWithBackoff(ctx, retry, func() error {
			var err error
			batch, err = i.embedder.Embed(ctx, texts)
			return err
		})
		if err != nil {
			return nil, llm.WrapError("embed chunks", err)
		}
		if len(batch) != len(texts) {
			return nil, apierrors.ErrDimensionMismatch.WithMessagef("expected %d embeddings, got %d", len(texts), len(batch))
		}
		for _, v := range batch {
			if dimension == 0 {
				dimension = len(v)
			}
			if len(v) == 0 || len(v) != dimension {
				return nil, apierrors.ErrDimensionMismatch.WithMessagef("embedding dimension %d, expected %d", len(v), dimension)
			}
			vectors = append(vectors, v)
		}
	}
	return vectors, nil
}

// markFailed 已存在的文档记录失败状态，新文档不落库。
func (i *Ingestor) markFailed(ctx context.Context, tenantID, path string, existing *model.Document, cause error) {
	logger.Warnw("文档摄取失败", "tenant_id", tenantID, "path", path, "error", cause)
	if existing == nil || errors.Is(cause, context.Canceled) {
		return
	}
	if err := i.store.MarkDocumentFailed(context.WithoutCancel(ctx), tenantID, path, cause.Error()); err != nil {
		logger.Errorw("记录文档失败状态出错", "tenant_id", tenantID, "path", path, "error", err)
	}
}

// nextVersion 主版本号加一："1.0" -> "2.0"。无法解析时从初始版本重新计数。
func nextVersion(v string) string {
	major, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n < 1 {
		return "2.0"
	}
	return strconv.Itoa(n+1) + ".0"
}

// setActive 更新文档启用状态并同步到自行保存状态的索引。
// 索引同步失败时恢复关系库中的原状态。
func (i *Ingestor) setActive(ctx context.Context, tenantID string, documentID uint64, active bool) (*model.Document, error) {
	doc, err := i.store.SetDocumentActive(ctx, tenantID, documentID, active)
	if err != nil {
		return nil, err
	}
	syncer, ok := i.index.(store.ActivitySyncer)
	if !ok {
		return doc, nil
	}
	chunks, err := i.store.ListChunks(ctx, documentID)
	if err == nil {
		err = syncer.SetActive(ctx, doc, chunks)
	}
	if err != nil {
		if _, rerr := i.store.SetDocumentActive(context.WithoutCancel(ctx), tenantID, documentID, !active); rerr != nil {
			logger.Errorw("恢复文档启用状态失败", "tenant_id", tenantID, "document_id", documentID, "error", rerr)
		}
		return nil, fmt.Errorf("同步向量索引启用状态失败: %w", err)
	}
	return doc, nil
}

// Deactivate 停用文档，切片保留但不再参与检索。
func (i *Ingestor) Deactivate(ctx context.Context, tenantID string, documentID uint64) (*model.Document, error) {
	doc, err := i.setActive(ctx, tenantID, documentID, false)
	if err != nil {
		return nil, err
	}
	logger.Infow("文档已停用", "tenant_id", tenantID, "document_id", documentID)
	return doc, nil
}

// Activate 重新启用文档。
func (i *Ingestor) Activate(ctx context.Context, tenantID string, documentID uint64) (*model.Document, error) {
	doc, err := i.setActive(ctx, tenantID, documentID, true)
	if err != nil {
		return nil, err
	}
	logger.Infow("文档已启用", "tenant_id", tenantID, "document_id", documentID)
	return doc, nil
}

// DeactivateBySource 按来源路径停用文档，文档不存在时忽略。
func (i *Ingestor) DeactivateBySource(ctx context.Context, tenantID, path string) error {
	doc, err := i.store.FindDocumentBySource(ctx, tenantID, path)
	if err != nil || doc == nil || !doc.Active {
		return err
	}
	_, err = i.Deactivate(ctx, tenantID, doc.ID)
	return err
}
