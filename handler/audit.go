package handler

import (
	"net/http"
	"strconv"

	"nfcunha/orchestrator/core/service"

	"github.com/gin-gonic/gin"
)

// AuditHandler serves the action and event history.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{
		audit: audit,
	}
}

// ListActions handles GET /actions?limit=
func (h *AuditHandler) ListActions(c *gin.Context) {
	actions, err := h.audit.RecentActions(c.Request.Context(), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// ListContainerActions handles GET /containers/:id/actions?limit=
func (h *AuditHandler) ListContainerActions(c *gin.Context) {
	actions, err := h.audit.ActionsFor(c.Request.Context(), c.Param("id"), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

// ListEvents handles GET /events?type=&limit=
func (h *AuditHandler) ListEvents(c *gin.Context) {
	events, err := h.audit.RecentEvents(c.Request.Context(), c.Query("type"), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// queryLimit returns the limit parameter; 0 lets the service pick its default.
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}
