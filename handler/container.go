// Package handler provides the HTTP handlers of the orchestrator API.
package handler

import (
	"net/http"
	"strings"

	"nfcunha/orchestrator/core/models"
	"nfcunha/orchestrator/core/service"

	"github.com/gin-gonic/gin"
)

// ContainerHandler handles container-related HTTP requests.
type ContainerHandler struct {
	registry *service.ContainerRegistry
}

// NewContainerHandler creates a new container handler.
func NewContainerHandler(registry *service.ContainerRegistry) *ContainerHandler {
	return &ContainerHandler{
		registry: registry,
	}
}

type createContainerRequest struct {
	Image   string `form:"image" json:"image"`
	Name    string `form:"name" json:"name"`
	Command string `form:"command" json:"command"`
}

type updateContainerRequest struct {
	Status string `form:"status" json:"status"`
}

// ListContainers handles GET /containers
func (h *ContainerHandler) ListContainers(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.List())
}

// CreateContainer handles POST /containers
// Form or JSON fields:
//   - image: string (required, tag or id of a known image)
//   - name: string (default "container-<unix time>")
//   - command: string (split on whitespace, default image command)
func (h *ContainerHandler) CreateContainer(c *gin.Context) {
	var req createContainerRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		badRequest(c, "Image is required")
		return
	}

	container, err := h.registry.Create(c.Request.Context(), service.CreateRequest{
		Image:   req.Image,
		Name:    req.Name,
		Command: strings.Fields(req.Command),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, container)
}

// GetContainer handles GET /containers/:id
func (h *ContainerHandler) GetContainer(c *gin.Context) {
	container, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, container)
}

// UpdateContainer handles PUT /containers/:id
// Body: {"status": "running" | "stopped"}
func (h *ContainerHandler) UpdateContainer(c *gin.Context) {
	var req updateContainerRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	status, err := models.ParseContainerStatus(req.Status)
	if err != nil || (status != models.StatusRunning && status != models.StatusStopped) {
		badRequest(c, `Status must be "running" or "stopped"`)
		return
	}

	container, err := h.registry.SetStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, container)
}

// DeleteContainer handles DELETE /containers/:id
func (h *ContainerHandler) DeleteContainer(c *gin.Context) {
	if err := h.registry.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
