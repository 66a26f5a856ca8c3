// Package jobs orchestrates the job lifecycle across the three stores: the
// durable record, the ephemeral cache, and the dispatch lists. Writes are
// ordered record-first so a crash between steps leaves a job "queued but not
// yet dispatched", which is detectable and re-enqueueable, rather than
// dispatched while still marked failed.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcward/jobforge/internal/cache"
	"github.com/marcward/jobforge/internal/dispatch"
	"github.com/marcward/jobforge/internal/store"
	"github.com/marcward/jobforge/pkg/models"
)

// ErrInvalidRetryState is returned when retry is requested for a job that is
// not in failed status. Retrying a running or completed job is rejected, not
// silently ignored.
var ErrInvalidRetryState = errors.New("job is not in a retryable state")

// RetryStep is the current_step text a manually retried job carries.
const RetryStep = "Queued (manual retry)"

// Service coordinates producers, workers and operators against the job
// record store, the ephemeral cache and the dispatch lists.
type Service struct {
	store store.Store
	cache cache.Cache
	list  dispatch.List
}

// NewService creates a Service.
func NewService(s store.Store, c cache.Cache, l dispatch.List) *Service {
	return &Service{store: s, cache: c, list: l}
}

// SubmitParams holds the validated inputs for a new job.
type SubmitParams struct {
	TenantID   uuid.UUID
	OwnerID    uuid.UUID
	Type       string
	Priority   int
	ResourceID *uuid.UUID
	Payload    json.RawMessage
}

// Submit creates the job record, seeds the cache entry, and pushes a dispatch
// envelope. The record write is authoritative; a cache failure degrades
// progress reporting but never fails the submission.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*models.Job, error) {
	job := &models.Job{
		ID:           uuid.New(),
		TenantID:     p.TenantID,
		OwnerID:      p.OwnerID,
		Type:         p.Type,
		Priority:     p.Priority,
		ResourceID:   p.ResourceID,
		CurrentStep:  "Queued",
		InputPayload: p.Payload,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.putState(ctx, stateFor(job, 0, nil))

	if err := s.list.Enqueue(ctx, envelopeFor(job)); err != nil {
		// The job stays queued-but-undispatched; an operator can re-enqueue.
		return nil, fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}
	return job, nil
}

// Get returns the job record plus its ephemeral state when the cache still
// holds one. On a miss or a cache outage the state is nil and the record
// alone is the truth.
func (s *Service) Get(ctx context.Context, jobID, ownerID uuid.UUID) (*models.Job, *models.JobState, error) {
	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, nil, err
	}

	state, found, err := s.cache.GetJobState(ctx, jobID)
	if err != nil {
		slog.Warn("job state read failed, serving record only", "job_id", jobID, "error", err)
		return job, nil, nil
	}
	if !found {
		return job, nil, nil
	}
	return job, state, nil
}

// List returns the owner's jobs plus the total matching count.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return s.store.ListJobsByOwner(ctx, filter)
}

// Counts returns the owner's job counts keyed by status.
func (s *Service) Counts(ctx context.Context, ownerID uuid.UUID) (map[string]int, error) {
	return s.store.CountJobsByStatus(ctx, ownerID)
}

// Cancel moves a queued or running job to cancelled. This is a record write
// only: an in-flight worker is not interrupted, it observes the terminal
// status on its next check.
func (s *Service) Cancel(ctx context.Context, jobID, ownerID uuid.UUID) (*models.Job, error) {
	if _, err := s.store.GetJob(ctx, jobID, ownerID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, jobID, ownerID)
}

// Retry makes a failed job dispatchable again. Preconditions are checked in
// order: the job must exist and belong to the caller, and must currently be
// failed. The write order is record, cache, dispatch list; the cache entry
// having expired must not block the retry. Afterwards a worker cannot tell
// the job apart from a freshly submitted one.
func (s *Service) Retry(ctx context.Context, jobID, ownerID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidRetryState, job.Status)
	}

	// Keep the previous attempt's log tail as history when the entry is
	// still around.
	var history []string
	prev, found, err := s.cache.GetJobState(ctx, jobID)
	if err != nil {
		slog.Warn("job state read failed during retry", "job_id", jobID, "error", err)
	} else if found {
		history = prev.LogTail
	}

	updated, err := s.store.RequeueJob(ctx, jobID, RetryStep)
	if errors.Is(err, store.ErrInvalidTransition) {
		// Lost a race with a concurrent retry or another status change.
		return nil, fmt.Errorf("%w: %v", ErrInvalidRetryState, err)
	}
	if err != nil {
		return nil, err
	}

	s.putState(ctx, stateFor(updated, 0, history))

	if err := s.list.Enqueue(ctx, envelopeFor(updated)); err != nil {
		return nil, fmt.Errorf("dispatch retried job %s: %w", jobID, err)
	}
	return updated, nil
}

// --- worker write path ---

// Start marks a job running and bumps the cache attempt counter. Called by a
// worker immediately after popping the job's envelope.
func (s *Service) Start(ctx context.Context, jobID uuid.UUID) error {
	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusRunning,
		store.WithCurrentStep("Starting")); err != nil {
		return err
	}

	state := s.stateOrRebuild(ctx, jobID)
	if state == nil {
		return nil
	}
	state.Status = models.JobStatusRunning
	state.CurrentStep = "Starting"
	state.Attempts++
	state.RetryAt = nil
	s.putState(ctx, state)
	return nil
}

// UpdateProgress writes progress to the cache only. The record store is not
// touched on the hot path; a cache outage just coarsens progress reporting.
func (s *Service) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress int, step string) {
	state := s.stateOrRebuild(ctx, jobID)
	if state == nil {
		return
	}
	state.Progress = progress
	if step != "" {
		state.CurrentStep = step
	}
	s.putState(ctx, state)
}

// AppendLog adds a line to the job's bounded log tail.
func (s *Service) AppendLog(ctx context.Context, jobID uuid.UUID, line string) {
	if err := s.cache.AppendJobLog(ctx, jobID, line); err != nil {
		slog.Warn("job log append failed", "job_id", jobID, "error", err)
	}
}

// Complete marks a job completed in the record store and mirrors the
// terminal state into the cache.
func (s *Service) Complete(ctx context.Context, jobID uuid.UUID) error {
	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCompleted,
		store.WithCurrentStep("Completed")); err != nil {
		return err
	}
	s.mirrorTerminal(ctx, jobID, models.JobStatusCompleted, nil)
	return nil
}

// Fail marks a job failed with the given error message.
func (s *Service) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	if err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusFailed,
		store.WithErrorMessage(errMsg), store.WithCurrentStep("Failed")); err != nil {
		return err
	}
	s.mirrorTerminal(ctx, jobID, models.JobStatusFailed, &errMsg)
	return nil
}

// --- helpers ---

func envelopeFor(job *models.Job) *models.DispatchEnvelope {
	return &models.DispatchEnvelope{
		Category:   job.Type,
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		TenantID:   job.TenantID,
		ResourceID: job.ResourceID,
		Priority:   job.Priority,
		Payload:    job.InputPayload,
		EnqueuedAt: time.Now().UTC(),
	}
}

func stateFor(job *models.Job, attempts int, logTail []string) *models.JobState {
	var errText *string
	if job.ErrorMessage != nil {
		v := *job.ErrorMessage
		errText = &v
	}
	return &models.JobState{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       errText,
		Attempts:    attempts,
		LogTail:     logTail,
		Category:    job.Type,
		Payload:     job.InputPayload,
	}
}

// putState writes a cache entry, absorbing cache outages with a log line.
func (s *Service) putState(ctx context.Context, state *models.JobState) {
	if err := s.cache.PutJobState(ctx, state); err != nil {
		slog.Warn("job state write failed", "job_id", state.JobID, "error", err)
	}
}

// stateOrRebuild reads the cache entry, lazily rebuilding it from the job
// record on a miss. Attempts and the log tail are lost on a rebuild, which
// the data model allows. Returns nil when both stores fail.
func (s *Service) stateOrRebuild(ctx context.Context, jobID uuid.UUID) *models.JobState {
	state, found, err := s.cache.GetJobState(ctx, jobID)
	if err != nil {
		slog.Warn("job state read failed", "job_id", jobID, "error", err)
		return nil
	}
	if found {
		return state
	}

	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		slog.Warn("job state rebuild failed", "job_id", jobID, "error", err)
		return nil
	}
	return stateFor(job, 0, nil)
}

func (s *Service) mirrorTerminal(ctx context.Context, jobID uuid.UUID, status string, errMsg *string) {
	state := s.stateOrRebuild(ctx, jobID)
	if state == nil {
		return
	}
	state.Status = status
	state.Error = errMsg
	if status == models.JobStatusCompleted {
		state.Progress = 100
		state.CurrentStep = "Completed"
	} else {
		state.CurrentStep = "Failed"
	}
	s.putState(ctx, state)
}
