// Package milvus 封装 Milvus v2 SDK，维护所有租户共用的切片向量集合。
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/helix-assistant/pkg/options/milvus"
)

// 集合字段名
const (
	FieldChunkID    = "chunk_id"
	FieldTenantID   = "tenant_id"
	FieldDocumentID = "document_id"
	FieldActive     = "active"
	FieldEmbedding  = "embedding"

	tenantIDMaxLen = 128
)

// Client 持有 SDK 连接与集合配置。
type Client struct {
	client     *milvusclient.Client
	collection string
	dimension  int
}

// ChunkVector 一条待写入的切片向量，ChunkID 与关系库中的切片主键一致。
// Active 镜像所属文档的启用状态，检索只返回启用的向量。
type ChunkVector struct {
	ChunkID    int64
	TenantID   string
	DocumentID int64
	Active     bool
	Embedding  []float32
}

// Hit 一条检索结果，Score 为余弦相似度。
type Hit struct {
	ChunkID    int64
	DocumentID int64
	Score      float32
}

// New 连接 Milvus 并确保集合存在且已加载。
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid milvus options: %v", errs)
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	client := &Client{client: c, collection: opts.Collection, dimension: opts.Dimension}
	if err := client.EnsureCollection(connectCtx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return client, nil
}

// Close 关闭连接
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// Collection 返回集合名称
func (c *Client) Collection() string {
	return c.collection
}

// EnsureCollection 创建切片集合（余弦 AutoIndex）并加载到内存，已存在时只做加载。
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(c.collection))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(c.collection).
			WithDescription("helix assistant document chunks").
			WithAutoID(false).
			WithField(entity.NewField().
				WithName(FieldChunkID).
				WithDataType(entity.FieldTypeInt64).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(FieldTenantID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(tenantIDMaxLen)).
			WithField(entity.NewField().
				WithName(FieldDocumentID).
				WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().
				WithName(FieldActive).
				WithDataType(entity.FieldTypeBool)).
			WithField(entity.NewField().
				WithName(FieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(c.dimension)))

		if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(c.collection, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idxTask, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(c.collection, FieldEmbedding, index.NewAutoIndex(entity.COSINE)))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := idxTask.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
		logger.Infow("Milvus collection created", "collection", c.collection, "dimension", c.dimension)
	}

	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(c.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Upsert 按主键写入切片向量并 flush，保证随后的检索可见。
// 主键已存在时整行覆盖，用于同步启用状态。
func (c *Client) Upsert(ctx context.Context, vectors []ChunkVector) error {
	if len(vectors) == 0 {
		return nil
	}

	ids := make([]int64, len(vectors))
	tenants := make([]string, len(vectors))
	docs := make([]int64, len(vectors))
	active := make([]bool, len(vectors))
	embeddings := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v.Embedding) != c.dimension {
			return fmt.Errorf("chunk %d embedding dimension %d, collection expects %d", v.ChunkID, len(v.Embedding), c.dimension)
		}
		ids[i] = v.ChunkID
		tenants[i] = v.TenantID
		docs[i] = v.DocumentID
		active[i] = v.Active
		embeddings[i] = v.Embedding
	}

	_, err := c.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(c.collection,
		column.NewColumnInt64(FieldChunkID, ids),
		column.NewColumnVarChar(FieldTenantID, tenants),
		column.NewColumnInt64(FieldDocumentID, docs),
		column.NewColumnBool(FieldActive, active),
		column.NewColumnFloatVector(FieldEmbedding, c.dimension, embeddings),
	))
	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	flushTask, err := c.client.Flush(ctx, milvusclient.NewFlushOption(c.collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// DeleteDocument 删除某个文档的全部向量。
func (c *Client) DeleteDocument(ctx context.Context, tenantID string, documentID int64) error {
	return c.delete(ctx, DocumentFilter(tenantID, documentID))
}

// DeleteStale 删除文档中主键不在 keep 内的向量。
func (c *Client) DeleteStale(ctx context.Context, tenantID string, documentID int64, keep []int64) error {
	return c.delete(ctx, StaleFilter(tenantID, documentID, keep))
}

// DeleteChunks 按主键删除租户内的向量。
func (c *Client) DeleteChunks(ctx context.Context, tenantID string, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return c.delete(ctx, ChunksFilter(tenantID, chunkIDs))
}

func (c *Client) delete(ctx context.Context, expr string) error {
	if _, err := c.client.Delete(ctx, milvusclient.NewDeleteOption(c.collection).WithExpr(expr)); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// Search 在租户范围内检索 topK 个最相似的切片。
func (c *Client) Search(ctx context.Context, tenantID string, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}

	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		c.collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).
		WithFilter(ActiveFilter(tenantID)).
		WithConsistencyLevel(entity.ClStrong).
		WithOutputFields(FieldDocumentID))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	rs := results[0]
	hits := make([]Hit, 0, rs.ResultCount)
	var docCol *column.ColumnInt64
	for _, f := range rs.Fields {
		if col, ok := f.(*column.ColumnInt64); ok && col.Name() == FieldDocumentID {
			docCol = col
		}
	}
	idCol, ok := rs.IDs.(*column.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("unexpected primary key column type %T", rs.IDs)
	}
	for i := 0; i < rs.ResultCount; i++ {
		h := Hit{ChunkID: idCol.Data()[i], Score: rs.Scores[i]}
		if docCol != nil {
			h.DocumentID = docCol.Data()[i]
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Count 返回集合中的实体数量
func (c *Client) Count(ctx context.Context) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(c.collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

// Health 检查集合是否可访问
func (c *Client) Health(ctx context.Context) error {
	ok, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(c.collection))
	if err != nil {
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("milvus collection %s not found", c.collection)
	}
	return nil
}

// TenantFilter 生成租户过滤表达式。
func TenantFilter(tenantID string) string {
	return fmt.Sprintf("%s == %s", FieldTenantID, quote(tenantID))
}

// ActiveFilter 生成租户内启用向量的过滤表达式。
func ActiveFilter(tenantID string) string {
	return fmt.Sprintf("%s and %s == true", TenantFilter(tenantID), FieldActive)
}

// DocumentFilter 生成文档过滤表达式。
func DocumentFilter(tenantID string, documentID int64) string {
	return fmt.Sprintf("%s and %s == %d", TenantFilter(tenantID), FieldDocumentID, documentID)
}

// StaleFilter 匹配文档中主键不在 keep 内的向量，keep 为空时匹配整个文档。
func StaleFilter(tenantID string, documentID int64, keep []int64) string {
	if len(keep) == 0 {
		return DocumentFilter(tenantID, documentID)
	}
	return fmt.Sprintf("%s and %s not in %s", DocumentFilter(tenantID, documentID), FieldChunkID, idList(keep))
}

// ChunksFilter 匹配租户内给定主键的向量。
func ChunksFilter(tenantID string, chunkIDs []int64) string {
	return fmt.Sprintf("%s and %s in %s", TenantFilter(tenantID), FieldChunkID, idList(chunkIDs))
}

func idList(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
