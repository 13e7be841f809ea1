package knowledge

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	filestore "guardnova_back/storage"
)

const maxUploadBytes int64 = 20 * 1024 * 1024

type addItemRequest struct {
	Kind        string   `json:"content_kind" binding:"required"`
	Payload     string   `json:"payload" binding:"required"`
	Title       string   `json:"title" binding:"required"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

type searchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// RegisterRoutes exposes the engine under /knowledge. Destructive
// operations and the backfill sit behind the admin guard when one is
// provided.
func RegisterRoutes(router *gin.Engine, service *Service, documents *filestore.DocumentStore, adminGuard gin.HandlerFunc) {
	group := router.Group("/knowledge")

	group.POST("/items", func(c *gin.Context) {
		var req addItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}

		item, err := service.AddItem(c.Request.Context(), AddItemInput{
			Kind:        strings.ToLower(strings.TrimSpace(req.Kind)),
			Payload:     req.Payload,
			Title:       req.Title,
			Tags:        req.Tags,
			Description: req.Description,
		})
		if err != nil {
			switch {
			case errors.Is(err, ErrTitleRequired), errors.Is(err, ErrEmptyContent):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add knowledge item"})
			}
			return
		}
		c.JSON(http.StatusCreated, gin.H{"item": item})
	})

	group.POST("/items/upload", func(c *gin.Context) {
		title := strings.TrimSpace(c.PostForm("title"))
		description := c.PostForm("description")
		tags := splitTags(c.PostForm("tags"))

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
			return
		}

		src, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read uploaded file"})
			return
		}

		ctx := c.Request.Context()
		sourceRef := fileHeader.Filename
		if stored, err := documents.Save(ctx, fileHeader.Filename, data, fileHeader.Header.Get("Content-Type")); err != nil {
			log.Printf("knowledge: retain uploaded document %s failed: %v", fileHeader.Filename, err)
		} else if stored != "" {
			sourceRef = stored
		}

		item, err := service.AddFileItem(ctx, fileHeader.Filename, data, title, description, tags, sourceRef)
		if err != nil {
			switch {
			case errors.Is(err, ErrTitleRequired), errors.Is(err, ErrEmptyContent):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add knowledge item"})
			}
			return
		}
		c.JSON(http.StatusCreated, gin.H{"item": item})
	})

	group.GET("/items", func(c *gin.Context) {
		ctx := c.Request.Context()
		items, err := service.ListItems(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list knowledge items"})
			return
		}
		total, err := service.Store().Count(ctx)
		if err != nil {
			total = int64(len(items))
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	})

	group.GET("/items/:id", func(c *gin.Context) {
		item, err := service.GetItem(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "knowledge item not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load knowledge item"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item})
	})

	group.POST("/items/:id/refresh", func(c *gin.Context) {
		err := service.RefreshURLItem(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"refreshed": true})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "knowledge item not found"})
		case errors.Is(err, ErrNotURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrFetchFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh knowledge item"})
		}
	})

	group.POST("/search", func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
		result := service.Retrieve(c.Request.Context(), req.Query, req.Limit)
		c.JSON(http.StatusOK, result)
	})

	group.GET("/formats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"formats": SupportedFileFormats()})
	})

	admin := group.Group("")
	if adminGuard != nil {
		admin.Use(adminGuard)
	}

	admin.DELETE("/items/:id", func(c *gin.Context) {
		err := service.DeleteItem(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"deleted": true})
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "knowledge item not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete knowledge item"})
		}
	})

	admin.POST("/embeddings/backfill", func(c *gin.Context) {
		report, err := service.BackfillEmbeddings(c.Request.Context())
		if err != nil {
			if errors.Is(err, ErrNoEmbedder) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to backfill embeddings"})
			return
		}
		c.JSON(http.StatusOK, report)
	})
}
