package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marcward/jobforge/internal/api/response"
	"github.com/marcward/jobforge/internal/queue"
	"github.com/marcward/jobforge/pkg/models"
)

// QueueManager defines the interface the queue control handlers depend on.
type QueueManager interface {
	IsAvailable(ctx context.Context) bool
	SetPaused(ctx context.Context, category string, paused bool) error
	SetAllPaused(ctx context.Context, paused bool) (map[string]string, error)
	GetAllStats(ctx context.Context) (map[string]queue.Stats, error)
}

// NewPauseQueueHandler returns an http.HandlerFunc for
// POST /api/v1/queues/{category}/pause and .../resume. The paused argument
// selects which.
func NewPauseQueueHandler(m QueueManager, paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := chi.URLParam(r, "category")
		if !models.ValidJobType(category) {
			response.Error(w, http.StatusNotFound, "UNKNOWN_QUEUE",
				"Unknown queue category", map[string]any{"categories": models.JobTypes})
			return
		}

		if err := m.SetPaused(r.Context(), category, paused); err != nil {
			writeQueueError(w, err)
			return
		}

		status := "running"
		if paused {
			status = "paused"
		}
		response.JSON(w, map[string]any{"queue": category, "status": status})
	}
}

// NewResumeAllHandler returns an http.HandlerFunc for POST /api/v1/queues/resume-all.
func NewResumeAllHandler(m QueueManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queues, err := m.SetAllPaused(r.Context(), false)
		if err != nil {
			writeQueueError(w, err)
			return
		}
		response.JSON(w, map[string]any{"queues": queues})
	}
}

// NewQueueStatusHandler returns an http.HandlerFunc for GET /api/v1/queues/status.
// When the queue backend is down it reports unavailable rather than serving
// stale or zeroed counters.
func NewQueueStatusHandler(m QueueManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsAvailable(r.Context()) {
			response.JSON(w, map[string]any{
				"is_running": false,
				"status":     "unavailable",
			})
			return
		}

		all, err := m.GetAllStats(r.Context())
		if err != nil {
			writeQueueError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"is_running": true,
			"aggregate":  queue.AggregateStats(all),
			"queues":     all,
		})
	}
}

func writeQueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrQueueBackendUnavailable) {
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_BACKEND_UNAVAILABLE",
			"The queue backend is not reachable", nil)
		return
	}
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}
