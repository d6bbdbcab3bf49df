// Package httpapi exposes job control and read-only views over a local HTTP
// API.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"keypilot/internal/domain"
	"keypilot/internal/jobs"
)

// Orchestrator is the job lifecycle surface the API drives.
type Orchestrator interface {
	Start(name string) error
	Stop(name string) bool
	Toggle(name string) error
	Running() []domain.RunInfo
	Recent() []jobs.RunRecord
}

// Catalog lists stored jobs and macros.
type Catalog interface {
	Jobs() []domain.Job
	Macros() []domain.Macro
}

// Hotkeys lists registered hotkeys.
type Hotkeys interface {
	List() []domain.HotkeyDefinition
}

// Events reads and streams notifications.
type Events interface {
	Since(seq int64) []jobs.Event
	Subscribe(buffer int) (<-chan jobs.Event, func())
}

// Diagnoser builds a diagnostics report.
type Diagnoser interface {
	Diagnose(ctx context.Context) domain.DiagnosticReport
}

// Handler serves the API routes.
type Handler struct {
	orchestrator Orchestrator
	catalog      Catalog
	hotkeys      Hotkeys
	events       Events
	diagnoser    Diagnoser
	keepAlive    time.Duration
}

// NewHandler builds a Handler. diagnoser may be nil.
func NewHandler(orchestrator Orchestrator, catalog Catalog, hotkeys Hotkeys, events Events, diagnoser Diagnoser) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		catalog:      catalog,
		hotkeys:      hotkeys,
		events:       events,
		diagnoser:    diagnoser,
		keepAlive:    25 * time.Second,
	}
}

func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.catalog.Jobs()})
}

func (h *Handler) ListMacros(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"macros": h.catalog.Macros()})
}

func (h *Handler) ListHotkeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hotkeys": h.hotkeys.List()})
}

func (h *Handler) ListRunning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.orchestrator.Running()})
}

func (h *Handler) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.orchestrator.Recent()})
}

func (h *Handler) StartJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.orchestrator.Start(name); err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": name, "running": true})
}

func (h *Handler) StopJob(c *gin.Context) {
	name := c.Param("name")
	stopped := h.orchestrator.Stop(name)
	c.JSON(http.StatusOK, gin.H{"job": name, "stopped": stopped})
}

func (h *Handler) ToggleJob(c *gin.Context) {
	name := c.Param("name")
	if err := h.orchestrator.Toggle(name); err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": name})
}

// ListEvents returns events after ?since=.
func (h *Handler) ListEvents(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		since = v
	}
	c.JSON(http.StatusOK, gin.H{"events": h.events.Since(since)})
}

// StreamEvents pushes new events as server-sent events until the client
// disconnects.
func (h *Handler) StreamEvents(c *gin.Context) {
	ch, unsubscribe := h.events.Subscribe(256)
	defer unsubscribe()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ping", "ready")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case now := <-ticker.C:
			c.SSEvent("ping", now.UTC().Format(time.RFC3339Nano))
			return true
		}
	})
}

func (h *Handler) Diagnostics(c *gin.Context) {
	if h.diagnoser == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnostics not configured"})
		return
	}
	report := h.diagnoser.Diagnose(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

func writeLifecycleError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrJobAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, jobs.ErrOrchestratorClosed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
