package assistant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type askRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question" binding:"required"`
}

// RegisterRoutes exposes the question endpoint under /assistant.
func RegisterRoutes(router *gin.Engine, service *Service) {
	group := router.Group("/assistant")

	group.POST("/ask", func(c *gin.Context) {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}

		answer, err := service.Ask(c.Request.Context(), req.ConversationID, req.Question)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"error": "assistant request failed"})
			return
		}
		c.JSON(http.StatusOK, answer)
	})
}
