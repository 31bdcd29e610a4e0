package biz

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/internal/assistant/metrics"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/hardware"
	"github.com/kart-io/helix-assistant/internal/pkg/i18n"
	"github.com/kart-io/helix-assistant/pkg/infra/pool"
	"github.com/kart-io/helix-assistant/pkg/llm"
	"github.com/kart-io/helix-assistant/pkg/llm/resilience"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// healthTimeout 单项健康检查的超时时间。
const healthTimeout = 3 * time.Second

// Service 汇总助手的全部业务能力，供 HTTP 层调用。
type Service struct {
	Store         *store.Store
	Tenants       store.TenantDirectory
	Index         store.VectorIndex
	Ingestor      *Ingestor
	Retriever     *Retriever
	Conversations *ConversationManager
	Languages     *i18n.Manager
	Embedder      llm.EmbeddingProvider
	Chat          llm.ChatProvider
	Metrics       *metrics.Collector
	Pools         *pool.Manager
	// Hardware 启动时探测到的硬件信息，未探测时为 nil。
	Hardware *hardware.Info
	// DocsDir 文档根目录，每个租户一个子目录。
	DocsDir string
}

// TenantDocsDir 返回租户的文档目录 DocsDir/<tenant>。
func (s *Service) TenantDocsDir(tenantID string) (string, error) {
	if tenantID == "" || tenantID == "." || tenantID == ".." || strings.ContainsAny(tenantID, `/\`) {
		return "", apierrors.ErrValidation.WithMessagef("invalid tenant id %q", tenantID)
	}
	return filepath.Join(s.DocsDir, tenantID), nil
}

// ResolveDocsPath 将请求中的相对路径解析到租户文档目录内。
// 绝对路径或越出租户目录的路径返回 ErrValidation。
func (s *Service) ResolveDocsPath(tenantID, rel string) (string, error) {
	base, err := s.TenantDocsDir(tenantID)
	if err != nil {
		return "", err
	}
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return base, nil
	}
	if filepath.IsAbs(rel) {
		return "", apierrors.ErrValidation.WithMessage("path must be relative to the documents directory")
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", apierrors.ErrValidation.WithMessage("path escapes the documents directory")
	}
	return filepath.Join(base, cleaned), nil
}

// IngestRequest 一次摄取请求。
type IngestRequest struct {
	TenantID string
	// Path 相对文档目录的子目录，为空时摄取整个目录。
	Path  string
	Async bool
	// Documents 非空时直接摄取这些文档，忽略 Path。
	Documents []SourceDocument
}

// IngestResult 同步摄取返回 Summary，异步摄取返回 Job。
type IngestResult struct {
	Summary *IngestionSummary
	Job     *IngestionJob
}

// Ingest 检查 Embedding 供应商后执行摄取。供应商不可用时返回 ErrProviderUnavailable。
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := s.embedderHealthy(ctx); err != nil {
		return nil, err
	}

	var source Source
	if len(req.Documents) > 0 {
		source = StaticSource(req.Documents)
	} else {
		dir, err := s.ResolveDocsPath(req.TenantID, req.Path)
		if err != nil {
			return nil, err
		}
		base, err := s.TenantDocsDir(req.TenantID)
		if err != nil {
			return nil, err
		}
		sub, err := filepath.Rel(base, dir)
		if err != nil {
			return nil, apierrors.ErrValidation.WithCause(err)
		}
		if sub == "." {
			sub = ""
		}
		source = NewSubtreeSource(base, filepath.ToSlash(sub))
	}

	if req.Async {
		job, err := s.Ingestor.IngestAsync(ctx, req.TenantID, source)
		if err != nil {
			return nil, err
		}
		return &IngestResult{Job: job}, nil
	}
	summary, err := s.Ingestor.Ingest(ctx, req.TenantID, source)
	if err != nil {
		return nil, err
	}
	return &IngestResult{Summary: summary}, nil
}

func (s *Service) embedderHealthy(ctx context.Context) error {
	if llm.IsUnavailable(s.Embedder) {
		return apierrors.ErrProviderUnavailable
	}
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := s.Embedder.Health(hctx); err != nil {
		logger.Warnw("Embedding 供应商不可用", "provider", s.Embedder.Name(), "error", err)
		return apierrors.ErrProviderUnavailable.WithCause(err)
	}
	return nil
}

// ListDocuments 返回租户的启用文档（不含正文）。
func (s *Service) ListDocuments(ctx context.Context, tenantID string) ([]model.Document, error) {
	return s.Store.ListDocuments(ctx, tenantID, true)
}

// ListDocumentChunks 按切片序号返回租户文档的切片（不含向量），停用的文档同样可查。
func (s *Service) ListDocumentChunks(ctx context.Context, tenantID string, documentID uint64) (*model.Document, []model.DocumentChunk, error) {
	doc, err := s.Store.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := s.Store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// ComponentHealth 单个依赖的健康状态。
type ComponentHealth struct {
	Name    string `json:"name"`
	Model   string `json:"model,omitempty"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	// Circuit 熔断器状态，未包装熔断器时为空。
	Circuit string `json:"circuit,omitempty"`
}

// HealthReport 服务健康报告。
type HealthReport struct {
	Status      string                `json:"status"`
	Embedding   ComponentHealth       `json:"embedding"`
	Chat        ComponentHealth       `json:"chat"`
	Database    ComponentHealth       `json:"database"`
	VectorIndex string                `json:"vector_index"`
	Hardware    *hardware.Info        `json:"hardware,omitempty"`
	Performance *hardware.Performance `json:"performance,omitempty"`
	Pools       []pool.Stats          `json:"pools,omitempty"`
}

// Healthy 所有依赖是否可用。
func (r *HealthReport) Healthy() bool {
	return r.Embedding.Healthy && r.Chat.Healthy && r.Database.Healthy
}

// Health 检查供应商与数据库并附带硬件信息。健康检查本身不会失败。
func (s *Service) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Embedding: checkComponent(ctx, s.Embedder.Name(), s.Embedder.Model(), s.Embedder, s.Embedder.Health),
		Chat:      checkComponent(ctx, s.Chat.Name(), s.Chat.Model(), s.Chat, s.Chat.Health),
		Database:  checkComponent(ctx, "database", "", nil, s.Store.Ping),
	}
	if s.Index != nil {
		report.VectorIndex = s.Index.Name()
	}
	if s.Hardware != nil {
		info := *s.Hardware
		perf := hardware.PerformanceMetrics(info)
		report.Hardware = &info
		report.Performance = &perf
	}
	if s.Pools != nil {
		report.Pools = s.Pools.Stats()
	}

	report.Status = "healthy"
	if !report.Healthy() {
		report.Status = "degraded"
	}
	return report
}

func checkComponent(ctx context.Context, name, modelName string, provider any, check func(context.Context) error) ComponentHealth {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	h := ComponentHealth{Name: name, Model: modelName, Healthy: true}
	if err := check(hctx); err != nil {
		h.Healthy = false
		h.Error = err.Error()
	}
	if stats := resilience.StatsOf(provider); stats != nil {
		h.Circuit = stats.CircuitBreakerState
	}
	return h
}
