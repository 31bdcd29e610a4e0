package biz

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/internal/assistant/metrics"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/pkg/llm"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// DefaultCandidateFactor 向索引请求的候选数相对 k 的倍数。
const DefaultCandidateFactor = 4

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// CandidateFactor 近邻索引返回 k*CandidateFactor 个候选，
	// 为阈值过滤与二次校验留出余量。
	CandidateFactor int
}

// Retriever 在租户的启用文档中检索与查询最相似的切片。
type Retriever struct {
	cfg      *RetrieverConfig
	store    *store.Store
	index    store.VectorIndex
	embedder llm.EmbeddingProvider
	metrics  *metrics.Collector
}

// NewRetriever 创建检索器，metrics 可以为 nil。
func NewRetriever(cfg *RetrieverConfig, st *store.Store, index store.VectorIndex, embedder llm.EmbeddingProvider, collector *metrics.Collector) *Retriever {
	if cfg == nil {
		cfg = &RetrieverConfig{}
	}
	if cfg.CandidateFactor < 1 {
		cfg.CandidateFactor = DefaultCandidateFactor
	}
	return &Retriever{cfg: cfg, store: st, index: index, embedder: embedder, metrics: collector}
}

// Retrieve 返回至多 k 个分数不低于 threshold 的切片，按分数降序。
// 没有命中时返回空切片。
func (r *Retriever) Retrieve(ctx context.Context, tenantID, query string, k int, threshold float64) (results []model.ScoredChunk, err error) {
	if k < 1 {
		return nil, apierrors.ErrValidation.WithMessagef("k must be at least 1, got %d", k)
	}
	if threshold < 0 || threshold > 1 {
		return nil, apierrors.ErrValidation.WithCause(apierrors.ErrInvalidThreshold).
			WithMessagef("threshold must be within [0,1], got %v", threshold)
	}
	if strings.TrimSpace(query) == "" {
		return nil, apierrors.ErrValidation.WithMessage("query is empty")
	}

	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordRetrieval(time.Since(start), len(results), err)
		}
	}()

	vector, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, llm.WrapError("embed query", err)
	}

	candidates, err := r.index.Search(ctx, tenantID, vector, k*r.cfg.CandidateFactor)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []model.ScoredChunk{}, nil
	}

	ids := make([]uint64, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= threshold {
			ids = append(ids, c.ChunkID)
		}
	}
	// 以数据库为准再校验一次租户与启用状态
	loaded, err := r.store.LoadActiveChunks(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}

	results = make([]model.ScoredChunk, 0, len(loaded))
	seen := make(map[uint64]struct{}, len(loaded))
	for _, c := range candidates {
		hit, ok := loaded[c.ChunkID]
		if !ok || c.Score < threshold {
			continue
		}
		if _, dup := seen[c.ChunkID]; dup {
			continue
		}
		seen[c.ChunkID] = struct{}{}
		hit.Score = c.Score
		results = append(results, hit)
	}

	sort.SliceStable(results, func(i, j int) bool { return model.LessScored(results[i], results[j]) })
	if len(results) > k {
		results = results[:k]
	}

	logger.Debugw("检索完成",
		"tenant_id", tenantID,
		"index", r.index.Name(),
		"candidates", len(candidates),
		"hits", len(results),
		"threshold", threshold,
	)
	return results, nil
}
