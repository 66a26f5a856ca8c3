// Package models contains shared data models used across the JobForge codebase.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	JobTypeBuild        = "build"
	JobTypeRender       = "render"
	JobTypeExport       = "export"
	JobTypeImport       = "import"
	JobTypeCompress     = "compress"
	JobTypeUpload       = "upload"
	JobTypeAIGeneration = "ai-generation"
	JobTypeAssetImport  = "asset-import"
)

// JobTypes is the closed set of job types. Each type is also a dispatch
// category: it maps one-to-one onto a dispatch list and a queue pause flag.
var JobTypes = []string{
	JobTypeBuild,
	JobTypeRender,
	JobTypeExport,
	JobTypeImport,
	JobTypeCompress,
	JobTypeUpload,
	JobTypeAIGeneration,
	JobTypeAssetImport,
}

// ValidJobType reports whether t is in the closed job type set.
func ValidJobType(t string) bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// TerminalStatus reports whether s is a terminal job status.
func TerminalStatus(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is the durable job record. The jobs table is the source of truth for the
// job lifecycle; fast-changing fields (progress, current_step) are mirrored in
// the ephemeral cache and the row may briefly lag behind it.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	TenantID     uuid.UUID       `db:"tenant_id"     json:"tenant_id"`
	OwnerID      uuid.UUID       `db:"owner_id"      json:"owner_id"`
	Type         string          `db:"type"          json:"type"`
	Status       string          `db:"status"        json:"status"`
	Priority     int             `db:"priority"      json:"priority"`
	ResourceID   *uuid.UUID      `db:"resource_id"   json:"resource_id,omitempty"`
	Progress     int             `db:"progress"      json:"progress"`
	CurrentStep  string          `db:"current_step"  json:"current_step"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	InputPayload json.RawMessage `db:"input_payload" json:"input_payload,omitempty"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}
