package handler

import (
	"context"
	"net/http"
	"time"

	"nfcunha/orchestrator/core/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger checks that the container engine is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups everything the API needs.
type Services struct {
	Registry    *service.ContainerRegistry
	Images      *service.ImageCatalog
	Logs        *service.LogService
	Audit       *service.AuditService
	Runtime     Pinger // optional
	DefaultTail int
}

// NewEngine creates a gin engine with recovery, CORS and, outside release
// mode, request logging.
func NewEngine(mode string, allowOrigins []string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if mode != "release" {
		engine.Use(RequestLogger())
	}

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	return engine
}

// RegisterRoutes mounts the orchestrator API on group.
func RegisterRoutes(group *gin.RouterGroup, svc Services) {
	containerHandler := NewContainerHandler(svc.Registry)
	imageHandler := NewImageHandler(svc.Images)
	logHandler := NewLogHandler(svc.Logs, svc.DefaultTail)
	auditHandler := NewAuditHandler(svc.Audit)

	group.GET("/health", health(svc.Runtime))

	images := group.Group("/images")
	{
		images.GET("", imageHandler.ListImages)
		images.POST("", imageHandler.PullImage)
	}

	containers := group.Group("/containers")
	{
		containers.GET("", containerHandler.ListContainers)
		containers.POST("", containerHandler.CreateContainer)
		containers.GET("/:id", containerHandler.GetContainer)
		containers.PUT("/:id", containerHandler.UpdateContainer)
		containers.DELETE("/:id", containerHandler.DeleteContainer)

		containers.GET("/:id/logs", logHandler.GetLogs)
		containers.GET("/:id/logs/stream", logHandler.StreamLogs)
		containers.GET("/:id/actions", auditHandler.ListContainerActions)
	}

	group.GET("/actions", auditHandler.ListActions)
	group.GET("/events", auditHandler.ListEvents)
}

func health(runtime Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := "unknown"
		if runtime != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := runtime.Ping(ctx); err != nil {
				logrus.Debugf("Runtime ping failed: %v", err)
				state = "unreachable"
			} else {
				state = "reachable"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"time":    time.Now(),
			"runtime": state,
		})
	}
}
