// Package storage defines the persistence interfaces for report jobs and
// their cost events. Implementations live in the postgres and memory
// subpackages.
package storage

import (
	"context"

	"reportpipe/internal/core/domain"
)

// JobTx is transactional access to a single job. The snapshot returned by
// Job reflects the row as of transaction start; writes through the tx are
// atomic with respect to concurrent WithJob calls for the same id.
type JobTx interface {
	// Job returns the job loaded at transaction start
	Job() *domain.Job

	// InsertCostEvent appends a cost event within the transaction
	InsertCostEvent(ctx context.Context, ev *domain.CostEvent) error

	// UpdateJob applies a partial update to the job within the transaction
	UpdateJob(ctx context.Context, patch domain.JobPatch) error
}

// JobRepository handles report job storage operations
type JobRepository interface {
	// Create saves a new job
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by id; returns domain.ErrJobNotFound when unknown
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Update applies a partial update outside of a WithJob transaction
	Update(ctx context.Context, id string, patch domain.JobPatch) error

	// ListCompleted retrieves completed jobs, optionally filtered by user
	// (empty userID means all users)
	ListCompleted(ctx context.Context, userID string) ([]*domain.Job, error)

	// WithJob runs fn under per-job serialization: the read-modify-write it
	// performs is atomic against concurrent WithJob calls for the same id.
	// Returns domain.ErrJobNotFound when the id is unknown; fn errors abort
	// the transaction and propagate unchanged.
	WithJob(ctx context.Context, id string, fn func(ctx context.Context, tx JobTx) error) error
}

// CostEventRepository handles the append-only cost event log
type CostEventRepository interface {
	// ListByJob retrieves all cost events recorded for a job
	ListByJob(ctx context.Context, jobID string) ([]*domain.CostEvent, error)
}
