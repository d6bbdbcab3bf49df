package httpapi

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterConfig tunes middleware.
type RouterConfig struct {
	ServiceName  string
	OTelEnabled  bool
	IsProduction bool
}

// NewRouter builds the engine with middleware and every route.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// OTel opens the span first so recovery and access logs carry it.
	if cfg.OTelEnabled {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(gin.Recovery())
	router.Use(accessLog())

	SetupRoutes(router, h)
	return router
}

// SetupRoutes registers the API on router.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		jobs.GET("", h.ListJobs)
		jobs.POST("/:name/start", h.StartJob)
		jobs.POST("/:name/stop", h.StopJob)
		jobs.POST("/:name/toggle", h.ToggleJob)

		v1.GET("/macros", h.ListMacros)
		v1.GET("/hotkeys", h.ListHotkeys)
		v1.GET("/runs", h.ListRuns)
		v1.GET("/runs/active", h.ListRunning)
		v1.GET("/events", h.ListEvents)
		v1.GET("/events/stream", h.StreamEvents)
		v1.GET("/diagnostics", h.Diagnostics)
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
