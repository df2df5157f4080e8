package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"labeling-service/internal/dataset"
	"labeling-service/internal/export"
	"labeling-service/internal/models"
	"labeling-service/internal/project"
	"labeling-service/internal/repository"
	"labeling-service/internal/results"
	"labeling-service/internal/service"
	"labeling-service/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	labeler   *service.Labeler
	sessions  *session.Manager
	logger    *zap.Logger
	maxUpload int64
}

// NewHandler creates a new API handler
func NewHandler(labeler *service.Labeler, sessions *session.Manager, maxUploadBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		labeler:   labeler,
		sessions:  sessions,
		logger:    logger,
		maxUpload: maxUploadBytes,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Sessions
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.DeleteSession)
		api.POST("/sessions/:id/dataset", h.UploadDataset)
		api.PUT("/sessions/:id/column", h.SelectColumn)
		api.PUT("/sessions/:id/prompt", h.SetPrompt)
		api.PUT("/sessions/:id/provider", h.SetProvider)

		// Runs
		api.POST("/sessions/:id/runs", h.StartRun)
		api.POST("/sessions/:id/runs/cancel", h.CancelRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:run_id", h.GetRun)
		api.GET("/runs/:run_id/labels", h.GetRunLabels)

		// Results
		api.GET("/sessions/:id/results", h.GetResults)
		api.GET("/sessions/:id/results/stats", h.GetResultStats)
		api.POST("/sessions/:id/results/edits", h.ApplyEdits)

		// Export
		api.GET("/sessions/:id/export/:format", h.Export)

		// Projects
		api.GET("/projects", h.ListProjects)
		api.GET("/projects/:name", h.GetProject)
		api.POST("/projects", h.SaveProject)
		api.POST("/sessions/:id/projects/:name/load", h.LoadProject)

		api.GET("/health", h.HealthCheck)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
}

// respondError maps service errors to status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dataset.ErrInput),
		errors.Is(err, service.ErrConfig),
		errors.Is(err, service.ErrInvalidEdit),
		errors.Is(err, project.ErrInvalidName),
		errors.Is(err, export.ErrUnknownFormat):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, project.ErrNotFound),
		errors.Is(err, repository.ErrRunNotFound),
		errors.Is(err, service.ErrNoResults):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrRunInProgress):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return s, true
}

// CreateSession starts a new labeling session
func (h *Handler) CreateSession(c *gin.Context) {
	s := h.sessions.Create()
	c.JSON(http.StatusCreated, s.Info())
}

// ListSessions returns every live session
func (h *Handler) ListSessions(c *gin.Context) {
	infos := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": infos,
		"total":    len(infos),
	})
}

// GetSession returns the session state
func (h *Handler) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// DeleteSession removes the session and cancels its run
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadDataset parses the multipart "file" into the session
func (h *Handler) UploadDataset(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file is required: %v", err)})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	ds, err := h.labeler.LoadDataset(s, fh.Filename, f)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dataset": ds,
		"rows":    ds.Len(),
		"preview": ds.Snapshot(5).Rows,
	})
}

// SelectColumn sets the analysis column
func (h *Handler) SelectColumn(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req ColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.labeler.SelectColumn(s, req.Column); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// SetPrompt replaces the prompt specification
func (h *Handler) SetPrompt(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req models.PromptSpec
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.SetPrompt(req)
	c.JSON(http.StatusOK, s.Info())
}

// SetProvider selects provider, model and key
func (h *Handler) SetProvider(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Provider.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown provider %q", req.Provider)})
		return
	}

	s.SetProvider(models.ProviderConfig{
		Provider: req.Provider,
		Model:    req.Model,
		APIKey:   req.APIKey,
	})
	c.JSON(http.StatusOK, s.Info())
}

// StartRun starts an async dispatch over the session dataset
func (h *Handler) StartRun(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	run, err := h.labeler.StartRun(s, req.Workers, req.Limit, req.SaveAs, req.Brand)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":  run.ID,
		"status":  run.Status,
		"total":   run.TotalCount,
		"message": "Run started. Check /api/v1/runs/" + run.ID + " for status",
	})
}

// CancelRun cancels the active run of the session
func (h *Handler) CancelRun(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	runID, cancelled := h.labeler.CancelRun(s)
	if !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "status": "cancelling"})
}

// GetRun returns run status and progress
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.labeler.GetRun(c.Param("run_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run":      run,
		"progress": run.Progress(),
	})
}

// GetRunLabels returns the labels stored for a run
func (h *Handler) GetRunLabels(c *gin.Context) {
	runID := c.Param("run_id")
	labels, err := h.labeler.RunLabels(runID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"labels": labels,
		"total":  len(labels),
	})
}

// ListRuns returns run history, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	runs, err := h.labeler.ListRuns(c.Query("session_id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetResults returns the filtered and searched results view
func (h *Handler) GetResults(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	view, err := h.labeler.Results(s, c.Query("filter"), c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":     view.Columns,
		"text_column": view.TextColumn,
		"rows":        view.Rows,
		"indices":     view.Indices(),
		"total":       view.Len(),
	})
}

// GetResultStats returns label counts
func (h *Handler) GetResultStats(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	stats, err := h.labeler.ResultStats(s)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ApplyEdits reconciles an edited view into the session results
func (h *Handler) ApplyEdits(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	table, err := h.labeler.ApplyEdits(s, req.Rows, req.ViewIndices)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": table.Len(),
		"stats": results.Stats(table),
	})
}

// Export downloads the whole results table
func (h *Handler) Export(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	format, err := export.ParseFormat(c.Param("format"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	table, err := h.labeler.Export(s)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, table); err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=results.%s", format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// ListProjects returns saved project names
func (h *Handler) ListProjects(c *gin.Context) {
	names, err := h.labeler.ListProjects()
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": names,
		"total":    len(names),
	})
}

// GetProject returns one saved project
func (h *Handler) GetProject(c *gin.Context) {
	p, err := h.labeler.GetProject(c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// SaveProject stores a project from a session or from the request body
func (h *Handler) SaveProject(c *gin.Context) {
	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.SessionID != "" {
		s, err := h.sessions.Get(req.SessionID)
		if err != nil {
			h.respondError(c, err)
			return
		}
		p, err := h.labeler.SaveProject(s, req.Name, req.Brand)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
		return
	}

	p := &models.Project{
		Name:     req.Name,
		Brand:    req.Brand,
		Prompt:   req.Prompt,
		Provider: req.Provider,
		Model:    req.Model,
	}
	if err := h.labeler.SaveProjectRecord(p); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// LoadProject copies a saved project into the session
func (h *Handler) LoadProject(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	p, err := h.labeler.LoadProject(s, c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project": p,
		"session": s.Info(),
	})
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "labeling-service",
		"version": "1.0.0",
	})
}
