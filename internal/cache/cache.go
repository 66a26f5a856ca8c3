package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marcward/jobforge/pkg/models"
)

// StateTTL is how long an ephemeral job state entry lives after its last
// write. Every write refreshes it.
const StateTTL = 24 * time.Hour

// ErrCacheUnavailable wraps any backend failure. The cache is a performance
// optimization, never a hard dependency: callers log this and fall back to
// the job record store.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use. A miss is reported as
// found=false, never as an error.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	PutJobState(ctx context.Context, state *models.JobState) error
	GetJobState(ctx context.Context, jobID uuid.UUID) (*models.JobState, bool, error)
	AppendJobLog(ctx context.Context, jobID uuid.UUID, line string) error
	ClearJobState(ctx context.Context, jobID uuid.UUID, category string) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// PutJobState overwrites the full state entry and refreshes its TTL. It also
// keeps the per-category delayed index in step with the entry's RetryAt so
// queue stats can count scheduled resubmissions without scanning keys.
func (c *RedisCache) PutJobState(ctx context.Context, state *models.JobState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, JobStateKey(state.JobID), data, StateTTL)
	if state.RetryAt != nil {
		pipe.ZAdd(ctx, DelayedIndexKey(state.Category), redis.Z{
			Score:  float64(state.RetryAt.Unix()),
			Member: state.JobID.String(),
		})
	} else {
		pipe.ZRem(ctx, DelayedIndexKey(state.Category), state.JobID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) GetJobState(ctx context.Context, jobID uuid.UUID) (*models.JobState, bool, error) {
	val, err := c.client.Get(ctx, JobStateKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var state models.JobState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal job state: %w", err)
	}
	return &state, true, nil
}

// AppendJobLog appends a line to the bounded log tail and refreshes the TTL.
// Appending to an expired entry is a no-op: the tail is allowed to be lost.
func (c *RedisCache) AppendJobLog(ctx context.Context, jobID uuid.UUID, line string) error {
	state, found, err := c.GetJobState(ctx, jobID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	state.AppendLog(line)
	return c.PutJobState(ctx, state)
}

func (c *RedisCache) ClearJobState(ctx context.Context, jobID uuid.UUID, category string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, JobStateKey(jobID))
	pipe.ZRem(ctx, DelayedIndexKey(category), jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return incr.Val(), nil
}
