// Package handler exposes the assistant over HTTP.
//
// Tenant and user identity come from the X-Tenant-ID and X-User-ID headers
// set by the upstream gateway. Every response uses the unified envelope from
// pkg/utils/response.
package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/internal/assistant/biz"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
	"github.com/kart-io/helix-assistant/pkg/utils/response"
	"github.com/kart-io/helix-assistant/pkg/utils/validator"
)

// Identity headers.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// statusClientClosedRequest is written when the caller went away mid-request.
const statusClientClosedRequest = 499

// AssistantHandler serves the /v1/assistant routes.
type AssistantHandler struct {
	svc *biz.Service
}

// NewAssistantHandler creates a new AssistantHandler.
func NewAssistantHandler(svc *biz.Service) *AssistantHandler {
	return &AssistantHandler{svc: svc}
}

// lang picks the response language from Accept-Language.
func (h *AssistantHandler) lang(c *gin.Context) string {
	return string(h.svc.Languages.Match(c.GetHeader("Accept-Language")))
}

func (h *AssistantHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		c.AbortWithStatus(statusClientClosedRequest)
		return
	}
	if apierrors.GetCode(err) == apierrors.NoCode {
		logger.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	response.Fail(c, err, h.lang(c))
}

func (h *AssistantHandler) tenant(c *gin.Context) (string, bool) {
	tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
	if tenantID == "" {
		h.fail(c, apierrors.ErrMissingParam.WithMessage(HeaderTenantID+" header is required"))
		return "", false
	}
	return tenantID, true
}

func (h *AssistantHandler) identity(c *gin.Context) (tenantID, userID string, ok bool) {
	if tenantID, ok = h.tenant(c); !ok {
		return "", "", false
	}
	userID = strings.TrimSpace(c.GetHeader(HeaderUserID))
	if userID == "" {
		h.fail(c, apierrors.ErrMissingParam.WithMessage(HeaderUserID+" header is required"))
		return "", "", false
	}
	return tenantID, userID, true
}

func (h *AssistantHandler) pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		h.fail(c, apierrors.ErrInvalidParam.WithMessagef("invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return id, true
}

// bind decodes the JSON body and runs its binding rules.
func (h *AssistantHandler) bind(c *gin.Context, req any) bool {
	return h.checkBinding(c, c.ShouldBindJSON(req))
}

// bindQuery decodes the query string and runs its binding rules.
func (h *AssistantHandler) bindQuery(c *gin.Context, req any) bool {
	return h.checkBinding(c, c.ShouldBindQuery(req))
}

// checkBinding answers rule violations with translated field errors in the
// envelope data, and any other decode error as a plain validation error.
func (h *AssistantHandler) checkBinding(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	lang := h.lang(c)
	if verr := validator.Binding().Translate(err, lang); verr.HasErrors() {
		msg := verr.First()
		response.FailWithData(c, apierrors.ErrValidation.WithMessages(msg, msg), lang, verr.ToMap())
		return false
	}
	h.fail(c, apierrors.ErrValidation.WithMessage(err.Error()))
	return false
}
