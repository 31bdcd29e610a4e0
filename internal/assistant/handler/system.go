package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/pkg/utils/response"
)

// Metric name prefix for GET /metrics.
const (
	metricsNamespace = "helix"
	metricsSubsystem = "assistant"
)

// Health reports provider, database and hardware status.
// A degraded report is returned with 503 so load balancers can act on it.
func (h *AssistantHandler) Health(c *gin.Context) {
	report := h.svc.Health(c.Request.Context())
	resp := response.Success(report)
	if !report.Healthy() {
		resp.HTTPCode = http.StatusServiceUnavailable
		resp.Message = report.Status
	}
	response.Write(c, resp)
}

// Metrics writes the collector in Prometheus text format.
func (h *AssistantHandler) Metrics(c *gin.Context) {
	if h.svc.Metrics == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8",
		[]byte(h.svc.Metrics.Export(metricsNamespace, metricsSubsystem)))
}

// Languages lists the supported languages and the one negotiated for the caller.
func (h *AssistantHandler) Languages(c *gin.Context) {
	response.OK(c, gin.H{
		"languages": h.svc.Languages.Supported(),
		"selected":  h.lang(c),
	})
}

// GetConfig returns the tenant's assistant configuration, or the defaults.
func (h *AssistantHandler) GetConfig(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	cfg, err := h.svc.Tenants.GetConfig(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, cfg)
}

// UpdateConfigRequest is the body of PUT /config. Omitted fields keep
// their current value.
type UpdateConfigRequest struct {
	Enabled             *bool    `json:"is_enabled"`
	SystemPrompt        *string  `json:"system_prompt"`
	MaxContextChunks    *int     `json:"max_context_chunks" binding:"omitempty,gte=1,lte=50"`
	Temperature         *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	EnableCitation      *bool    `json:"enable_citation"`
	SimilarityThreshold *float64 `json:"similarity_threshold" binding:"omitempty,gte=0,lte=1"`
	Language            *string  `json:"language" binding:"omitempty,max=10"`
}

func (r *UpdateConfigRequest) apply(cfg *model.TenantAssistantConfig) {
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	if r.SystemPrompt != nil {
		cfg.SystemPrompt = *r.SystemPrompt
	}
	if r.MaxContextChunks != nil {
		cfg.MaxContextChunks = *r.MaxContextChunks
	}
	if r.Temperature != nil {
		cfg.Temperature = *r.Temperature
	}
	if r.EnableCitation != nil {
		cfg.EnableCitation = *r.EnableCitation
	}
	if r.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *r.SimilarityThreshold
	}
	if r.Language != nil {
		cfg.Language = *r.Language
	}
}

// UpdateConfig merges the request into the tenant's configuration.
func (h *AssistantHandler) UpdateConfig(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var req UpdateConfigRequest
	if !h.bind(c, &req) {
		return
	}

	cfg, err := h.svc.Tenants.GetConfig(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	req.apply(cfg)
	if err := h.svc.Tenants.UpsertConfig(c.Request.Context(), cfg); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, cfg)
}
