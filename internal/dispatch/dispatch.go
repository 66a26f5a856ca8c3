// Package dispatch implements the per-category FIFO lists that carry work
// from producers to workers. Each job category has one Redis list; producers
// RPUSH serialized envelopes and workers BLPOP them. BLPOP delivers a given
// envelope to exactly one caller, which is the only exclusivity guarantee the
// hand-off needs.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcward/jobforge/pkg/models"
)

// List is the dispatch list interface. FIFO order is guaranteed within a
// category, never across categories.
type List interface {
	Enqueue(ctx context.Context, env *models.DispatchEnvelope) error
	Dequeue(ctx context.Context, category string, blockTimeout time.Duration) (*models.DispatchEnvelope, bool, error)
	Len(ctx context.Context, category string) (int64, error)
}

// ListKey names the Redis list for a category.
func ListKey(category string) string {
	return fmt.Sprintf("dispatch:%s", category)
}

// RedisList implements List on Redis lists.
type RedisList struct {
	client *redis.Client
}

// NewRedisList creates a RedisList from a Redis URL.
func NewRedisList(redisURL string) (*RedisList, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisList{client: redis.NewClient(opts)}, nil
}

// NewRedisListFromClient wraps an existing client, sharing its pool.
func NewRedisListFromClient(client *redis.Client) *RedisList {
	return &RedisList{client: client}
}

// Close releases the underlying Redis connection pool.
func (l *RedisList) Close() error {
	return l.client.Close()
}

// Enqueue appends the envelope to the tail of its category's list.
func (l *RedisList) Enqueue(ctx context.Context, env *models.DispatchEnvelope) error {
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := l.client.RPush(ctx, ListKey(env.Category), data).Err(); err != nil {
		return fmt.Errorf("enqueue envelope: %w", err)
	}
	return nil
}

// Dequeue pops the head of the category's list, blocking up to blockTimeout
// for a new entry. A timeout is reported as found=false, not an error.
func (l *RedisList) Dequeue(ctx context.Context, category string, blockTimeout time.Duration) (*models.DispatchEnvelope, bool, error) {
	vals, err := l.client.BLPop(ctx, blockTimeout, ListKey(category)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dequeue envelope: %w", err)
	}
	// BLPOP returns [key, value].
	if len(vals) != 2 {
		return nil, false, fmt.Errorf("dequeue envelope: unexpected reply length %d", len(vals))
	}

	var env models.DispatchEnvelope
	if err := json.Unmarshal([]byte(vals[1]), &env); err != nil {
		return nil, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, true, nil
}

// Len reports the number of waiting envelopes in a category's list.
func (l *RedisList) Len(ctx context.Context, category string) (int64, error) {
	n, err := l.client.LLen(ctx, ListKey(category)).Result()
	if err != nil {
		return 0, fmt.Errorf("dispatch list length: %w", err)
	}
	return n, nil
}
