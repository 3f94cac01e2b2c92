// internal/api/router.go
package api

import (
	"os"
	"time"

	"github.com/Corphon/AutoAnnotator/internal/services"
	"github.com/Corphon/AutoAnnotator/internal/utils"
	"github.com/gin-gonic/gin"
)

// RouterDeps are the collaborators the router wires into handlers
type RouterDeps struct {
	Annotations   *services.AnnotationService
	Sources       *services.SourceService
	Hub           *EventHub
	Logger        *utils.Logger
	Metrics       *utils.MetricsCollector
	StaticDir     string
	RecentBackups int

	// SaveRateLimit is the number of saves allowed per client IP per minute
	SaveRateLimit int
}

// SetupRouter builds the HTTP routes
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewMetricsCollector()
	}
	if deps.SaveRateLimit <= 0 {
		deps.SaveRateLimit = 60
	}

	response := NewResponseHelper(deps.Logger)
	handler := &Handler{
		Annotations:   deps.Annotations,
		Sources:       deps.Sources,
		Hub:           deps.Hub,
		Metrics:       deps.Metrics,
		Response:      response,
		StaticDir:     deps.StaticDir,
		RecentBackups: deps.RecentBackups,
	}
	limiter := NewRateLimiter()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(accessLogMiddleware(deps.Logger, deps.Metrics))
	r.Use(corsMiddleware())

	if info, err := os.Stat(deps.StaticDir); err == nil && info.IsDir() {
		r.Static("/static", deps.StaticDir)
	}

	// ===============================
	// Pages
	// ===============================
	r.GET("/", handler.IndexPage)
	r.GET("/health", handler.Health)

	// WebSocket
	r.GET("/ws/events", deps.Hub.ServeWS)

	// ===============================
	// API
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/annotations", handler.GetAnnotations)
		api.GET("/stats", handler.GetStats)
		api.POST("/save", limiter.ByIP(deps.SaveRateLimit, time.Minute, response), handler.SaveAnnotations)
		api.POST("/resolve", handler.Resolve)
		api.GET("/history", handler.GetHistory)

		api.GET("/files", handler.ListFiles)
		api.POST("/switch-file", handler.SwitchFile)

		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r
}
