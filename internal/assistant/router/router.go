// Package router provides the assistant HTTP routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/internal/assistant/handler"
	"github.com/kart-io/helix-assistant/pkg/utils/validator"
)

// New builds a gin engine with the middleware chain and assistant routes.
func New(mode string, h *handler.AssistantHandler) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	binding.Validator = validator.NewGinValidator(validator.Binding())
	engine := gin.New()
	engine.Use(Recovery(), RequestID(), Logger())
	Register(engine, h)
	return engine
}

// Register registers the assistant routes.
func Register(engine *gin.Engine, h *handler.AssistantHandler) {
	logger.Info("Registering assistant routes...")

	v1 := engine.Group("/v1")
	{
		assistant := v1.Group("/assistant")
		{
			// Conversations
			assistant.GET("/conversations", h.ListConversations)
			assistant.POST("/conversations", h.CreateConversation)
			assistant.GET("/conversations/:id/history", h.History)
			assistant.POST("/conversations/:id/deactivate", h.DeactivateConversation)
			assistant.POST("/chat/message", h.ChatMessage)

			// Documents
			assistant.GET("/documents", h.ListDocuments)
			assistant.POST("/documents/ingest", h.Ingest)
			assistant.GET("/documents/ingest/jobs/:id", h.IngestionJob)
			assistant.POST("/documents/:id/deactivate", h.DeactivateDocument)
			assistant.POST("/documents/:id/activate", h.ActivateDocument)
			assistant.GET("/documents/:id/chunks", h.DocumentChunks)

			// Tenant configuration
			assistant.GET("/config", h.GetConfig)
			assistant.PUT("/config", h.UpdateConfig)

			// System
			assistant.GET("/health", h.Health)
			assistant.GET("/metrics", h.Metrics)
			assistant.GET("/languages", h.Languages)
		}
	}

	logger.Info("HTTP routes registered")
}
