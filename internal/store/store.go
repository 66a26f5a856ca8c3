package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marcward/jobforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidJobType = errors.New("invalid job type")

// ErrInvalidTransition is returned when a status update does not follow the
// job state machine. The record is left unchanged.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	RequeueJob(ctx context.Context, id uuid.UUID, currentStep string) (*models.Job, error)
	ListJobsByOwner(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	CountJobsByStatus(ctx context.Context, ownerID uuid.UUID) (map[string]int, error)
	CountJobsByTypeAndStatus(ctx context.Context, jobType string) (map[string]int, error)
}

type JobFilter struct {
	OwnerID uuid.UUID
	Status  string
	Type    string
	Since   time.Time
	Page    int
	Limit   int
}

// JobUpdateParams collects the optional fields a status update can set.
type JobUpdateParams struct {
	ErrorMessage *string
	Progress     *int
	CurrentStep  *string
}

type JobUpdateOption func(*JobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.Progress = &progress
	}
}

func WithCurrentStep(step string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.CurrentStep = &step
	}
}
