// Package queue is the control plane for the dispatch lists. It owns the
// per-category pause flags and aggregates per-queue counters for
// observability. It never executes jobs; pausing only gates whether
// well-behaved workers keep draining a list.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcward/jobforge/internal/cache"
	"github.com/marcward/jobforge/internal/dispatch"
	"github.com/marcward/jobforge/internal/store"
	"github.com/marcward/jobforge/pkg/models"
)

// ErrQueueBackendUnavailable is returned when the queue backend cannot be
// reached. Unlike a cache outage this is a hard failure: the operation is
// aborted rather than served from stale or default data.
var ErrQueueBackendUnavailable = errors.New("queue backend unavailable")

// Stats holds the observable counters for one queue.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Add returns the field-wise sum of two stats.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Waiting:   s.Waiting + o.Waiting,
		Active:    s.Active + o.Active,
		Completed: s.Completed + o.Completed,
		Failed:    s.Failed + o.Failed,
		Delayed:   s.Delayed + o.Delayed,
	}
}

// AggregateStats sums per-queue stats field-wise.
func AggregateStats(all map[string]Stats) Stats {
	var agg Stats
	for _, s := range all {
		agg = agg.Add(s)
	}
	return agg
}

// PausedKey names the Redis key holding a category's pause flag. The flag
// lives in the shared store, not in process memory, so every worker process
// sees the same value.
func PausedKey(category string) string {
	return fmt.Sprintf("queue:paused:%s", category)
}

// Manager flips pause flags and assembles queue stats. Waiting and delayed
// counts come from Redis; active/completed/failed come from the job record
// store, attributed to a queue by job type.
type Manager struct {
	client *redis.Client
	store  store.Store
}

// NewManager creates a Manager from a Redis URL and the job record store.
func NewManager(redisURL string, s store.Store) (*Manager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Manager{client: redis.NewClient(opts), store: s}, nil
}

// NewManagerFromClient wraps an existing client, sharing its pool.
func NewManagerFromClient(client *redis.Client, s store.Store) *Manager {
	return &Manager{client: client, store: s}
}

// Close releases the underlying Redis connection pool.
func (m *Manager) Close() error {
	return m.client.Close()
}

// IsAvailable reports whether the queue backend is reachable.
func (m *Manager) IsAvailable(ctx context.Context) bool {
	return m.client.Ping(ctx).Err() == nil
}

// SetPaused flips one category's pause flag. Pausing is advisory: workers
// poll the flag before each pop and stop draining a paused queue.
func (m *Manager) SetPaused(ctx context.Context, category string, paused bool) error {
	val := "0"
	if paused {
		val = "1"
	}
	if err := m.client.Set(ctx, PausedKey(category), val, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueBackendUnavailable, err)
	}
	return nil
}

// IsPaused reports a category's pause flag. A missing key means unpaused.
func (m *Manager) IsPaused(ctx context.Context, category string) (bool, error) {
	val, err := m.client.Get(ctx, PausedKey(category)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrQueueBackendUnavailable, err)
	}
	return val == "1", nil
}

// SetAllPaused flips every category's pause flag and returns the resulting
// per-queue status ("paused" or "running").
func (m *Manager) SetAllPaused(ctx context.Context, paused bool) (map[string]string, error) {
	statuses := make(map[string]string, len(models.JobTypes))
	for _, category := range models.JobTypes {
		if err := m.SetPaused(ctx, category, paused); err != nil {
			return nil, err
		}
		if paused {
			statuses[category] = "paused"
		} else {
			statuses[category] = "running"
		}
	}
	return statuses, nil
}

// GetStats assembles the counters for one queue.
func (m *Manager) GetStats(ctx context.Context, category string) (Stats, error) {
	var stats Stats

	waiting, err := m.client.LLen(ctx, dispatch.ListKey(category)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrQueueBackendUnavailable, err)
	}
	stats.Waiting = int(waiting)

	now := time.Now().UTC()
	delayed, err := m.client.ZCount(ctx, cache.DelayedIndexKey(category),
		fmt.Sprintf("(%d", now.Unix()), "+inf").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrQueueBackendUnavailable, err)
	}
	stats.Delayed = int(delayed)

	counts, err := m.store.CountJobsByTypeAndStatus(ctx, category)
	if err != nil {
		return Stats{}, fmt.Errorf("count jobs for queue %s: %w", category, err)
	}
	stats.Active = counts[models.JobStatusRunning]
	stats.Completed = counts[models.JobStatusCompleted]
	stats.Failed = counts[models.JobStatusFailed]

	return stats, nil
}

// GetAllStats assembles counters for every known category.
func (m *Manager) GetAllStats(ctx context.Context) (map[string]Stats, error) {
	all := make(map[string]Stats, len(models.JobTypes))
	for _, category := range models.JobTypes {
		s, err := m.GetStats(ctx, category)
		if err != nil {
			return nil, err
		}
		all[category] = s
	}
	return all, nil
}
