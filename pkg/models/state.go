package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LogTailCapacity bounds the number of log lines kept in a cache entry.
// Oldest lines are trimmed first.
const LogTailCapacity = 50

// JobState is the ephemeral, cache-resident mirror of a job. It is not
// authoritative: on a cache miss the job record is the fallback source of
// truth and the entry is rebuilt from it, losing Attempts and LogTail.
type JobState struct {
	JobID       uuid.UUID       `json:"job_id"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"current_step"`
	Error       *string         `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	RetryAt     *time.Time      `json:"retry_at,omitempty"`
	LogTail     []string        `json:"log_tail,omitempty"`
	Category    string          `json:"category"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AppendLog appends a line to the tail, trimming the oldest lines past
// LogTailCapacity.
func (s *JobState) AppendLog(line string) {
	s.LogTail = append(s.LogTail, line)
	if n := len(s.LogTail); n > LogTailCapacity {
		s.LogTail = s.LogTail[n-LogTailCapacity:]
	}
}

// DispatchEnvelope is the transient message pushed onto a dispatch list and
// popped by a worker. It is never queried or mutated in place; all durable
// state lives in the job record and the cache.
type DispatchEnvelope struct {
	Category   string          `json:"category"`
	JobID      uuid.UUID       `json:"job_id"`
	OwnerID    uuid.UUID       `json:"owner_id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	ResourceID *uuid.UUID      `json:"resource_id,omitempty"`
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
