package handler

import (
	"errors"
	"net/http"

	"github.com/marcward/jobforge/internal/api/response"
	"github.com/marcward/jobforge/internal/jobs"
	"github.com/marcward/jobforge/internal/store"
)

// NewRetryJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/retry.
// Only a failed job can be retried; anything else is rejected with the job's
// current status rather than silently ignored.
func NewRetryJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ownerID, ok := jobRequestIDs(w, r)
		if !ok {
			return
		}

		job, err := svc.Retry(r.Context(), jobID, ownerID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			case errors.Is(err, jobs.ErrInvalidRetryState):
				response.Error(w, http.StatusConflict, "INVALID_RETRY_STATE",
					"Only failed jobs can be retried", map[string]any{"detail": err.Error()})
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]any{"id": job.ID, "status": job.Status})
	}
}
