package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/helix-assistant/internal/assistant/biz"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/model"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
	"github.com/kart-io/helix-assistant/pkg/utils/response"
)

// CreateConversationRequest is the body of POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// CreateConversation creates a conversation owned by the caller.
func (h *AssistantHandler) CreateConversation(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req CreateConversationRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}

	conv, err := h.svc.Conversations.CreateConversation(c.Request.Context(), tenantID, userID, req.Title)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, conv)
}

// ListConversationsQuery holds the query parameters of GET /conversations.
type ListConversationsQuery struct {
	Active *bool `form:"is_active"`
	Limit  int   `form:"limit" binding:"gte=0,lte=100"`
	Offset int   `form:"offset" binding:"gte=0"`
}

// ListConversations lists the caller's conversations, newest first, with
// their message counts.
func (h *AssistantHandler) ListConversations(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var q ListConversationsQuery
	if !h.bindQuery(c, &q) {
		return
	}

	convs, total, err := h.svc.Conversations.ListConversations(c.Request.Context(), tenantID, userID, store.ConversationFilter{
		Active: q.Active,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if convs == nil {
		convs = []store.ConversationSummary{}
	}
	response.Write(c, response.Page(convs, total, q.Limit, q.Offset))
}

// DeactivateConversation closes a conversation to new messages.
func (h *AssistantHandler) DeactivateConversation(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	conv, err := h.svc.Conversations.Deactivate(c.Request.Context(), tenantID, userID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, conv)
}

// ChatMessageRequest is the body of POST /chat/message.
type ChatMessageRequest struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
	Message        string `json:"message"`
}

// ChatMessageResponse is returned for every completed turn, including
// failed generations.
type ChatMessageResponse struct {
	Response  string         `json:"response"`
	Citations []biz.Citation `json:"citations"`
	Status    biz.TurnStatus `json:"status"`
	MessageID uint64         `json:"message_id"`
	Language  string         `json:"language"`
}

// ChatMessage runs one conversation turn.
//
// A failed generation is still answered with HTTP 200 and status "error";
// the stored error message is what the user sees.
func (h *AssistantHandler) ChatMessage(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req ChatMessageRequest
	if !h.bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.fail(c, apierrors.ErrEmptyMessage)
		return
	}

	result, err := h.svc.Conversations.Chat(c.Request.Context(), tenantID, userID, req.ConversationID, req.Message)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, &ChatMessageResponse{
		Response:  result.Response,
		Citations: result.Citations,
		Status:    result.Status,
		MessageID: result.MessageID,
		Language:  string(result.Language),
	})
}

// HistoryQuery holds the query parameters of GET /conversations/:id/history.
type HistoryQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// History returns the messages of a conversation in creation order.
func (h *AssistantHandler) History(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var q HistoryQuery
	if !h.bindQuery(c, &q) {
		return
	}

	msgs, err := h.svc.Conversations.History(c.Request.Context(), tenantID, userID, id, q.Limit, q.Offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	total, err := h.svc.Store.CountMessages(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Write(c, response.Page(msgs, total, q.Limit, q.Offset))
}
