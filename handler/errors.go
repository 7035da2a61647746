package handler

import (
	"errors"
	"net/http"

	"nfcunha/orchestrator/core/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// classify maps a service error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, service.ErrImageNotFound):
		return http.StatusNotFound, "image_not_found"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable, "runtime_unavailable"
	case errors.Is(err, service.ErrRuntime):
		return http.StatusBadGateway, "runtime_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes err as {"error": code, "message": text}.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logrus.WithField("path", c.FullPath()).Errorf("Request failed: %v", err)
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"message": message,
	})
}
