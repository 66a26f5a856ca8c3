package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcward/jobforge/internal/cache"
	"github.com/marcward/jobforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestSet_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second)
	require.NoError(t, err)

	// Immediately should exist
	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Delete ---

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "del:key", []byte("bye"), 10*time.Second))

	err := rc.Delete(ctx, "del:key")
	require.NoError(t, err)

	_, found, err := rc.Get(ctx, "del:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_NonExistent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	err := rc.Delete(context.Background(), "does:not:exist")
	assert.NoError(t, err)
}

// --- Job State ---

func TestPutGetJobState_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	state := &models.JobState{
		JobID:       jobID,
		Status:      models.JobStatusRunning,
		Progress:    40,
		CurrentStep: "Rendering frames",
		Attempts:    1,
		LogTail:     []string{"started", "frame 1 done"},
		Category:    models.JobTypeRender,
	}
	require.NoError(t, rc.PutJobState(ctx, state))

	got, found, err := rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.Equal(t, "Rendering frames", got.CurrentStep)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, []string{"started", "frame 1 done"}, got.LogTail)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetJobState_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	got, found, err := rc.GetJobState(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestPutJobState_OverwritesPreviousEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusQueued,
		Category: models.JobTypeBuild,
	}))
	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusRunning,
		Progress: 10,
		Category: models.JobTypeBuild,
	}))

	got, found, err := rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 10, got.Progress)
}

func TestPutJobState_MaintainsDelayedIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()
	retryAt := time.Now().UTC().Add(time.Minute)

	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusFailed,
		Category: models.JobTypeExport,
		RetryAt:  &retryAt,
	}))

	got, found, err := rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got.RetryAt)
	assert.WithinDuration(t, retryAt, *got.RetryAt, time.Second)

	// Writing again without RetryAt removes it from the delayed index.
	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusQueued,
		Category: models.JobTypeExport,
	}))

	got, found, err = rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, got.RetryAt)
}

// --- AppendJobLog ---

func TestAppendJobLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusRunning,
		Category: models.JobTypeCompress,
	}))

	require.NoError(t, rc.AppendJobLog(ctx, jobID, "line one"))
	require.NoError(t, rc.AppendJobLog(ctx, jobID, "line two"))

	got, found, err := rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"line one", "line two"}, got.LogTail)
}

func TestAppendJobLog_TrimsOldestPastCapacity(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusRunning,
		Category: models.JobTypeUpload,
	}))

	for i := 0; i < models.LogTailCapacity+10; i++ {
		require.NoError(t, rc.AppendJobLog(ctx, jobID, fmt.Sprintf("line %d", i)))
	}

	got, found, err := rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.LogTail, models.LogTailCapacity)
	assert.Equal(t, "line 10", got.LogTail[0])
	assert.Equal(t, fmt.Sprintf("line %d", models.LogTailCapacity+9), got.LogTail[len(got.LogTail)-1])
}

func TestAppendJobLog_MissingEntryIsNoOp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	err := rc.AppendJobLog(context.Background(), uuid.New(), "orphan line")
	assert.NoError(t, err)
}

// --- ClearJobState ---

func TestClearJobState(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	jobID := uuid.New()
	retryAt := time.Now().UTC().Add(time.Minute)

	require.NoError(t, rc.PutJobState(ctx, &models.JobState{
		JobID:    jobID,
		Status:   models.JobStatusFailed,
		Category: models.JobTypeImport,
		RetryAt:  &retryAt,
	}))

	require.NoError(t, rc.ClearJobState(ctx, jobID, models.JobTypeImport))

	_, found, err := rc.GetJobState(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, found)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Cache Key Builders ---

func TestJobStateKey(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	key := cache.JobStateKey(jobID)
	assert.Equal(t, "job:state:22222222-2222-2222-2222-222222222222", key)
}

func TestDelayedIndexKey(t *testing.T) {
	assert.Equal(t, "queue:delayed:render", cache.DelayedIndexKey(models.JobTypeRender))
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("jf_abcd1234")
	assert.Equal(t, "ratelimit:jf_abcd1234", key)
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	jobID := uuid.New()

	keys := map[string]bool{
		cache.JobStateKey(jobID):                   true,
		cache.DelayedIndexKey(models.JobTypeBuild): true,
		cache.RateLimitKey("jf_prefix"):            true,
	}
	assert.Len(t, keys, 3, "all keys should be unique")
}
