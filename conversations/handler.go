package conversations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type createRequest struct {
	Title string `json:"title"`
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

type appendRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// RegisterRoutes exposes conversation management under /conversations.
func RegisterRoutes(router *gin.Engine, store *Store) {
	group := router.Group("/conversations")

	group.POST("", func(c *gin.Context) {
		var req createRequest
		// The body and title are both optional; a bind failure just means an
		// untitled conversation.
		_ = c.ShouldBindJSON(&req)
		conv, err := store.Create(c.Request.Context(), req.Title)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"conversation": conv})
	})

	group.GET("", func(c *gin.Context) {
		summaries, err := store.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversations": summaries})
	})

	group.GET("/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		conv, err := store.Get(ctx, c.Param("id"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		messages, err := store.Messages(ctx, conv.ID)
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": messages})
	})

	group.GET("/:id/messages", func(c *gin.Context) {
		messages, err := store.Messages(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	})

	group.POST("/:id/messages", func(c *gin.Context) {
		var req appendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
		msg, err := store.AppendMessage(c.Request.Context(), c.Param("id"), req.Role, req.Content)
		if err != nil {
			if errors.Is(err, ErrInvalidRole) || errors.Is(err, ErrEmptyMessage) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	})

	group.PUT("/:id/title", func(c *gin.Context) {
		var req renameRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
		if err := store.Rename(c.Request.Context(), c.Param("id"), req.Title); err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": true})
	})

	group.DELETE("/:id", func(c *gin.Context) {
		if err := store.Delete(c.Request.Context(), c.Param("id")); err != nil {
			respondStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	})

	group.GET("/:id/export", func(c *gin.Context) {
		text, err := store.ExportText(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondStoreError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=conversation.txt")
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
	})
}

func respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation storage failure"})
}
