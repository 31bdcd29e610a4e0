// Package model 定义助手核心的持久化模型。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// ContentType 标识源文档的格式。
type ContentType string

// 支持的内容类型。
const (
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeHTML     ContentType = "html"
)

// Valid 判断内容类型是否受支持。
func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeMarkdown, ContentTypeText, ContentTypeHTML:
		return true
	}
	return false
}

// DocumentStatus 是文档的索引状态。
type DocumentStatus string

// 文档状态。
const (
	DocumentPending DocumentStatus = "pending"
	DocumentIndexed DocumentStatus = "indexed"
	DocumentFailed  DocumentStatus = "failed"
)

// InitialVersion 是文档首次入库时的版本号。
const InitialVersion = "1.0"

// Document 是一份已入库的知识库文档。
// (tenant_id, source_path) 唯一；停用而非物理删除。
type Document struct {
	ID             uint64         `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID       string         `json:"tenant_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_doc_tenant_source,priority:1;index:idx_doc_tenant_active,priority:1"`
	Title          string         `json:"title" gorm:"type:varchar(255);not null"`
	SourcePath     string         `json:"source_path" gorm:"type:varchar(500);not null;uniqueIndex:idx_doc_tenant_source,priority:2"`
	Content        string         `json:"content,omitempty" gorm:"type:text"`
	ContentType    ContentType    `json:"content_type" gorm:"type:varchar(50);not null;default:'markdown'"`
	ContentHash    string         `json:"content_hash" gorm:"type:varchar(64);not null"`
	EmbeddingModel string         `json:"embedding_model" gorm:"type:varchar(100)"`
	Version        string         `json:"version" gorm:"type:varchar(20);not null;default:'1.0'"`
	Active         bool           `json:"is_active" gorm:"not null;index:idx_doc_tenant_active,priority:2"`
	Status         DocumentStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending'"`
	ChunkCount     int            `json:"chunk_count" gorm:"not null;default:0"`
	LastError      string         `json:"last_error,omitempty" gorm:"type:text"`
	IngestedAt     time.Time      `json:"ingested_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "assistant_documents"
}

// DocumentChunk 是文档的一个片段及其向量。
// 片段创建后不可修改；重新切分时整组替换。
type DocumentChunk struct {
	ID             uint64                       `json:"id" gorm:"primaryKey;autoIncrement"`
	DocumentID     uint64                       `json:"document_id" gorm:"not null;uniqueIndex:idx_chunk_doc_index,priority:1"`
	TenantID       string                       `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	ChunkIndex     int                          `json:"chunk_index" gorm:"not null;uniqueIndex:idx_chunk_doc_index,priority:2"`
	Content        string                       `json:"content" gorm:"type:text;not null"`
	TokenCount     int                          `json:"token_count" gorm:"not null;default:0"`
	Embedding      datatypes.JSONSlice[float32] `json:"-"`
	Dimension      int                          `json:"dimension" gorm:"not null"`
	EmbeddingModel string                       `json:"embedding_model" gorm:"type:varchar(100);not null"`
	CreatedAt      time.Time                    `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for DocumentChunk.
func (DocumentChunk) TableName() string {
	return "assistant_document_chunks"
}

// ScoredChunk 是检索命中的片段及其相似度。
type ScoredChunk struct {
	Chunk         DocumentChunk `json:"chunk"`
	DocumentTitle string        `json:"document_title"`
	Score         float64       `json:"score"`
}

// LessScored 检索结果排序：分数降序，其次切片序号、文档 ID、切片 ID 升序。
func LessScored(a, b ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk.ChunkIndex != b.Chunk.ChunkIndex {
		return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
	}
	if a.Chunk.DocumentID != b.Chunk.DocumentID {
		return a.Chunk.DocumentID < b.Chunk.DocumentID
	}
	return a.Chunk.ID < b.Chunk.ID
}
