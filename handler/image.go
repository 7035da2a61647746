package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nfcunha/orchestrator/core/service"

	"github.com/gin-gonic/gin"
)

// ImageHandler handles image-related HTTP requests.
type ImageHandler struct {
	catalog *service.ImageCatalog
}

// NewImageHandler creates a new image handler.
func NewImageHandler(catalog *service.ImageCatalog) *ImageHandler {
	return &ImageHandler{
		catalog: catalog,
	}
}

// ListImages handles GET /images
func (h *ImageHandler) ListImages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	images, err := h.catalog.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, images)
}

// PullImage handles POST /images
// Form or JSON field image: reference to pull, e.g. "nginx:latest".
func (h *ImageHandler) PullImage(c *gin.Context) {
	var req struct {
		Image string `form:"image" json:"image"`
	}
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ref := strings.TrimSpace(req.Image)
	if ref == "" {
		badRequest(c, "Image is required")
		return
	}

	if err := h.catalog.Pull(c.Request.Context(), ref); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Image pulled successfully",
		"image":   ref,
	})
}
