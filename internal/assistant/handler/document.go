package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/helix-assistant/internal/assistant/biz"
	"github.com/kart-io/helix-assistant/internal/model"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
	"github.com/kart-io/helix-assistant/pkg/utils/response"
)

// ListDocuments returns the tenant's active documents.
func (h *AssistantHandler) ListDocuments(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	docs, err := h.svc.ListDocuments(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.Write(c, response.Page(docs, int64(len(docs)), 0, 0))
}

// IngestDocument is an inline document in an ingest request.
type IngestDocument struct {
	Path        string            `json:"path" binding:"required"`
	Content     string            `json:"content"`
	ContentType model.ContentType `json:"content_type"`
	Title       string            `json:"title"`
}

// IngestRequest is the body of POST /documents/ingest.
type IngestRequest struct {
	// Path is relative to the tenant's documents directory.
	Path  string `json:"path"`
	Async bool   `json:"async"`
	// Documents, when set, are ingested instead of reading the directory.
	Documents []IngestDocument `json:"documents"`
}

// Ingest ingests the tenant's documents directory or the inline documents.
//
// Sync ingestion answers 200 with the summary, 207 when some documents
// failed and 500 when all of them did. Async ingestion answers 202 with the
// job; poll GET /documents/ingest/jobs/:id for the summary.
func (h *AssistantHandler) Ingest(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var req IngestRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}

	docs := make([]biz.SourceDocument, 0, len(req.Documents))
	for _, d := range req.Documents {
		ct := d.ContentType
		if ct == "" {
			ct, _ = biz.ContentTypeForPath(d.Path)
		}
		docs = append(docs, biz.SourceDocument{Path: d.Path, Content: d.Content, ContentType: ct, Title: d.Title})
	}

	result, err := h.svc.Ingest(c.Request.Context(), biz.IngestRequest{
		TenantID:  tenantID,
		Path:      req.Path,
		Async:     req.Async,
		Documents: docs,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	if result.Job != nil {
		resp := response.Success(result.Job)
		resp.HTTPCode = http.StatusAccepted
		response.Write(c, resp)
		return
	}
	if err := result.Summary.Err(); err != nil {
		response.FailWithData(c, apierrors.FromError(err), h.lang(c), result.Summary)
		return
	}
	response.OK(c, result.Summary)
}

// IngestionJob returns the state of a background ingestion job.
func (h *AssistantHandler) IngestionJob(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	job, err := h.svc.Ingestor.JobStatus(tenantID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, job)
}

// DeactivateDocument hides a document from retrieval.
func (h *AssistantHandler) DeactivateDocument(c *gin.Context) {
	h.setActive(c, false)
}

// ActivateDocument makes a deactivated document retrievable again.
func (h *AssistantHandler) ActivateDocument(c *gin.Context) {
	h.setActive(c, true)
}

func (h *AssistantHandler) setActive(c *gin.Context, active bool) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var (
		doc *model.Document
		err error
	)
	if active {
		doc, err = h.svc.Ingestor.Activate(c.Request.Context(), tenantID, id)
	} else {
		doc, err = h.svc.Ingestor.Deactivate(c.Request.Context(), tenantID, id)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, doc)
}

// DocumentChunks lists a document's chunks in order, without vectors.
func (h *AssistantHandler) DocumentChunks(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	doc, chunks, err := h.svc.ListDocumentChunks(c.Request.Context(), tenantID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if chunks == nil {
		chunks = []model.DocumentChunk{}
	}
	response.OK(c, gin.H{
		"document_id": doc.ID,
		"title":       doc.Title,
		"version":     doc.Version,
		"chunks":      chunks,
	})
}
