// internal/api/handlers.go
package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Corphon/AutoAnnotator/internal/services"
	"github.com/Corphon/AutoAnnotator/internal/storage"
	"github.com/Corphon/AutoAnnotator/internal/utils"
	"github.com/gin-gonic/gin"
)

const (
	maxSaveBodyBytes    = 32 << 20
	defaultHistoryLimit = 50
)

// Handler serves the review API
type Handler struct {
	Annotations   *services.AnnotationService
	Sources       *services.SourceService
	Hub           *EventHub
	Metrics       *utils.MetricsCollector
	Response      *ResponseHelper
	StaticDir     string
	RecentBackups int
}

// SwitchFileRequest selects a data file
type SwitchFileRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// ResolveRequest asks for the spans of a scope label in a text
type ResolveRequest struct {
	Text  string `json:"text"`
	Scope string `json:"scope"`
}

// ------------------------------------------------
// IndexPage serves the review UI
func (h *Handler) IndexPage(c *gin.Context) {
	index := filepath.Join(h.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		h.Response.Error(c, http.StatusNotFound, ErrorIndexNotFound, "index.html not found")
		return
	}
	c.File(index)
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{"status": "ok"})
}

// GetAnnotations returns the current source with resolved positions
func (h *Handler) GetAnnotations(c *gin.Context) {
	result, err := h.Annotations.Load(c.Request.Context())
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Response.Success(c, gin.H{
		"annotations": result.Annotations,
		"warnings":    result.Warnings,
		"source":      result.Source,
		"count":       len(result.Annotations),
	})
}

// GetStats returns counts over the current source and the validated file
func (h *Handler) GetStats(c *gin.Context) {
	result, err := h.Annotations.Load(c.Request.Context())
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	stats := h.Annotations.Stats(result.Annotations)
	h.Response.Success(c, gin.H{
		"total_documents":    stats.TotalDocuments,
		"total_cues":         stats.TotalCues,
		"total_scopes":       stats.TotalScopes,
		"avg_cues_per_doc":   stats.AvgCuesPerDoc,
		"avg_scopes_per_doc": stats.AvgScopesPerDoc,
		"validated_count":    h.Annotations.ValidatedCount(),
		"recent_backups":     h.Annotations.RecentBackups(h.RecentBackups),
		"source":             result.Source,
	})
}

// SaveAnnotations appends reviewed annotations to the validated file
func (h *Handler) SaveAnnotations(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSaveBodyBytes))
	if err != nil {
		h.Response.BadRequest(c, "failed to read request body", err.Error())
		return
	}

	force, _ := strconv.ParseBool(c.Query("force_backup"))
	outcome, err := h.Annotations.Save(c.Request.Context(), body, storage.SaveOptions{ForceBackup: force})
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Hub.Broadcast(EventAnnotationsSaved, map[string]interface{}{
		"saved_count":     outcome.SavedCount,
		"total_validated": outcome.TotalValidated,
	})

	h.Response.Success(c, outcome, strconv.Itoa(outcome.SavedCount)+" annotation(s) saved")
}

// ListFiles lists selectable data files
func (h *Handler) ListFiles(c *gin.Context) {
	files, err := h.Sources.List()
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"files":   files,
		"current": h.Sources.Current(),
	})
}

// SwitchFile changes the data source
func (h *Handler) SwitchFile(c *gin.Context) {
	var req SwitchFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidRequest, "filename is required", err.Error())
		return
	}

	if err := h.Sources.Switch(req.Filename); err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Hub.Broadcast(EventSourceSwitched, map[string]interface{}{"filename": req.Filename})
	h.Response.Success(c, gin.H{"current": req.Filename}, "data source switched")
}

// Resolve returns spans for a text and scope label
func (h *Handler) Resolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidRequest, "invalid resolve request", err.Error())
		return
	}

	spans, matches := h.Annotations.Resolve(req.Text, req.Scope)
	h.Response.Success(c, gin.H{
		"positions": spans,
		"matches":   matches,
	})
}

// GetHistory returns recent audit log entries
func (h *Handler) GetHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.Response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.Annotations.History(c.Request.Context(), limit)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"entries": entries, "count": len(entries)})
}

// GetMetrics returns a metrics snapshot
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.GetMetrics())
}

// GetWebSocketStatus reports connected event clients
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.Hub.GetStatus())
}
