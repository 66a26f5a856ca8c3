package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/marcward/jobforge/internal/api/middleware"
	"github.com/marcward/jobforge/internal/api/response"
	"github.com/marcward/jobforge/internal/jobs"
	"github.com/marcward/jobforge/internal/store"
	"github.com/marcward/jobforge/pkg/models"
)

// JobService defines the interface the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, p jobs.SubmitParams) (*models.Job, error)
	Get(ctx context.Context, jobID, ownerID uuid.UUID) (*models.Job, *models.JobState, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	Cancel(ctx context.Context, jobID, ownerID uuid.UUID) (*models.Job, error)
	Retry(ctx context.Context, jobID, ownerID uuid.UUID) (*models.Job, error)
}

// jobView merges the durable record with the ephemeral state when present.
// Cache fields win for progress and step; the record wins for lifecycle.
type jobView struct {
	*models.Job
	Attempts int      `json:"attempts,omitempty"`
	LogTail  []string `json:"log_tail,omitempty"`
}

func mergeJobView(job *models.Job, state *models.JobState) jobView {
	v := jobView{Job: job}
	if state == nil {
		return v
	}
	v.Attempts = state.Attempts
	v.LogTail = state.LogTail
	if !models.TerminalStatus(job.Status) {
		v.Progress = state.Progress
		if state.CurrentStep != "" {
			v.CurrentStep = state.CurrentStep
		}
	}
	return v
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			Type       string          `json:"type"`
			OwnerID    string          `json:"owner_id"`
			Priority   int             `json:"priority"`
			ResourceID string          `json:"resource_id"`
			Payload    json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Type == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required", nil)
			return
		}
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "owner_id must be a valid UUID", nil)
			return
		}

		var resourceID *uuid.UUID
		if req.ResourceID != "" {
			id, err := uuid.Parse(req.ResourceID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "resource_id must be a valid UUID", nil)
				return
			}
			resourceID = &id
		}

		job, err := svc.Submit(r.Context(), jobs.SubmitParams{
			TenantID:   tenantID,
			OwnerID:    ownerID,
			Type:       req.Type,
			Priority:   req.Priority,
			ResourceID: resourceID,
			Payload:    req.Payload,
		})
		if err != nil {
			switch {
			case errors.Is(err, store.ErrInvalidJobType):
				response.Error(w, http.StatusBadRequest, "INVALID_JOB_TYPE",
					"type must be one of the supported job types", map[string]any{"types": models.JobTypes})
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Created(w, mergeJobView(job, nil))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ownerID, ok := jobRequestIDs(w, r)
		if !ok {
			return
		}

		job, state, err := svc.Get(r.Context(), jobID, ownerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, mergeJobView(job, state))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "owner_id must be a valid UUID", nil)
			return
		}

		q := r.URL.Query()
		filter := store.JobFilter{
			OwnerID: ownerID,
			Status:  q.Get("status"),
			Type:    q.Get("type"),
			Page:    queryInt(q.Get("page"), 1),
			Limit:   queryInt(q.Get("limit"), 20),
		}

		list, total, err := svc.List(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if list == nil {
			list = []*models.Job{}
		}
		response.Collection(w, list, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ownerID, ok := jobRequestIDs(w, r)
		if !ok {
			return
		}

		job, err := svc.Cancel(r.Context(), jobID, ownerID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			case errors.Is(err, store.ErrInvalidTransition):
				response.Error(w, http.StatusConflict, "INVALID_TRANSITION",
					"Job is already in a terminal state", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]any{"id": job.ID, "status": job.Status})
	}
}

// jobRequestIDs extracts the job ID from the URL and the owner ID from the
// owner_id query parameter, writing the error response itself on failure.
func jobRequestIDs(w http.ResponseWriter, r *http.Request) (jobID, ownerID uuid.UUID, ok bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	ownerID, err = uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "owner_id must be a valid UUID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return jobID, ownerID, true
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
