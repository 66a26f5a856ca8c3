// Package worker provides a reference runner for the dispatch contract: poll
// the pause flag, pop an envelope, execute the registered handler, report
// back through the record store and cache. Worker processes elsewhere only
// need to follow the same contract, not use this package.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcward/jobforge/internal/dispatch"
	"github.com/marcward/jobforge/internal/jobs"
	"github.com/marcward/jobforge/internal/queue"
	"github.com/marcward/jobforge/internal/store"
	"github.com/marcward/jobforge/pkg/models"
)

const (
	defaultPopTimeout   = 2 * time.Second
	defaultPauseBackoff = 5 * time.Second
)

// Reporter is the handler's write path for progress and logs. Lifecycle
// edges (start, complete, fail) are the runner's job, not the handler's.
type Reporter struct {
	svc   *jobs.Service
	jobID uuid.UUID
}

// Progress records a progress percentage and optional step description.
func (r *Reporter) Progress(ctx context.Context, progress int, step string) {
	r.svc.UpdateProgress(ctx, r.jobID, progress, step)
}

// Log appends a line to the job's log tail.
func (r *Reporter) Log(ctx context.Context, line string) {
	r.svc.AppendLog(ctx, r.jobID, line)
}

// HandlerFunc executes one job. A returned error fails the job with the
// error's message.
type HandlerFunc func(ctx context.Context, env *models.DispatchEnvelope, rep *Reporter) error

// Runner drains dispatch lists for its registered categories. After a pop
// the runner is the sole owner of the job until it reports completion or
// failure; there is no lease or heartbeat, so a crash mid-job leaves the
// record in running until an operator intervenes.
type Runner struct {
	list     dispatch.List
	manager  *queue.Manager
	svc      *jobs.Service
	handlers map[string]HandlerFunc

	popTimeout   time.Duration
	pauseBackoff time.Duration
}

// NewRunner creates a Runner with no registered handlers.
func NewRunner(list dispatch.List, manager *queue.Manager, svc *jobs.Service) *Runner {
	return &Runner{
		list:         list,
		manager:      manager,
		svc:          svc,
		handlers:     make(map[string]HandlerFunc),
		popTimeout:   defaultPopTimeout,
		pauseBackoff: defaultPauseBackoff,
	}
}

// Register installs the handler for a category. Registering twice replaces
// the previous handler.
func (r *Runner) Register(category string, h HandlerFunc) {
	r.handlers[category] = h
}

// Run loops over the registered categories until ctx is cancelled, checking
// each category's pause flag before popping from its list.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return fmt.Errorf("worker: no handlers registered")
	}

	categories := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		categories = append(categories, c)
	}

	for {
		drained := true
		for _, category := range categories {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			paused, err := r.manager.IsPaused(ctx, category)
			if err != nil {
				slog.Warn("pause flag check failed, backing off", "category", category, "error", err)
				sleep(ctx, r.pauseBackoff)
				continue
			}
			if paused {
				continue
			}

			env, found, err := r.list.Dequeue(ctx, category, r.popTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("dequeue failed", "category", category, "error", err)
				sleep(ctx, r.pauseBackoff)
				continue
			}
			if !found {
				continue
			}

			drained = false
			r.process(ctx, env)
		}
		if drained {
			// All registered queues were paused; BLPOP already provides
			// the idle wait otherwise.
			sleep(ctx, time.Second)
		}
	}
}

func (r *Runner) process(ctx context.Context, env *models.DispatchEnvelope) {
	log := slog.With("job_id", env.JobID, "category", env.Category)

	if err := r.svc.Start(ctx, env.JobID); err != nil {
		// A job cancelled while waiting in the list cannot enter running;
		// drop the envelope.
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			log.Info("dropping stale envelope", "reason", err)
			return
		}
		log.Error("start failed", "error", err)
		return
	}
	log.Info("job started")

	rep := &Reporter{svc: r.svc, jobID: env.JobID}
	if err := r.handlers[env.Category](ctx, env, rep); err != nil {
		if failErr := r.svc.Fail(ctx, env.JobID, err.Error()); failErr != nil {
			log.Error("marking job failed failed", "error", failErr)
		}
		log.Info("job failed", "error", err)
		return
	}

	if err := r.svc.Complete(ctx, env.JobID); err != nil {
		// A cancel that raced the final write loses; the terminal status in
		// the record wins either way.
		log.Error("marking job completed failed", "error", err)
		return
	}
	log.Info("job completed")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
