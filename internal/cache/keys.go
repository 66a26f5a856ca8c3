package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStateKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:state:%s", jobID)
}

// DelayedIndexKey names the sorted set of job IDs with a scheduled retry
// time, scored by retry_at. One set per dispatch category.
func DelayedIndexKey(category string) string {
	return fmt.Sprintf("queue:delayed:%s", category)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
