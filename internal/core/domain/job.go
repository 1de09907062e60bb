package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrJobNotFound is returned when an operation references a job id that was
// never created or has been purged.
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the lifecycle state of a report job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobErrorKind classifies why a job stopped abnormally.
type JobErrorKind string

const (
	JobErrorBudgetExceeded JobErrorKind = "BUDGET_EXCEEDED"
	JobErrorStageFailed    JobErrorKind = "STAGE_FAILED"
)

// JobError records the reason a job was stopped.
type JobError struct {
	Kind       JobErrorKind `json:"kind"`
	Message    string       `json:"message"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// JobProgress is the structured progress record of a job. Stage fields are
// written by the pipeline, cost fields by the governor; a partial update from
// one owner must not discard fields written by the other.
type JobProgress struct {
	Stage            string          `json:"stage,omitempty"`
	PagesCollected   int             `json:"pages_collected,omitempty"`
	SectionsAnalyzed int             `json:"sections_analyzed,omitempty"`
	CostAccumulation decimal.Decimal `json:"cost_accumulation"`
	LastCostUpdate   time.Time       `json:"last_cost_update,omitzero"`
}

// Job is one run of the report pipeline, carrying an approved budget and the
// spend accumulated against it.
type Job struct {
	ID            string
	UserID        string
	Status        JobStatus
	SourceURL     string
	EstimatedCost *decimal.Decimal
	BudgetLimit   *decimal.Decimal
	ActualCost    decimal.Decimal
	CostAccuracy  *float64
	Progress      JobProgress
	ErrorDetails  *JobError
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// JobPatch is a typed partial update against a job. Nil fields are left
// untouched by Apply.
type JobPatch struct {
	Status       *JobStatus
	ActualCost   *decimal.Decimal
	CostAccuracy *float64
	Progress     *ProgressPatch
	ErrorDetails *JobError
	CompletedAt  *time.Time
}

// ProgressPatch merges into JobProgress without discarding unrelated fields.
type ProgressPatch struct {
	Stage            *string
	PagesCollected   *int
	SectionsAnalyzed *int
	CostAccumulation *decimal.Decimal
	LastCostUpdate   *time.Time
}

// Apply merges the patch into the job in place.
func (j *Job) Apply(patch JobPatch) {
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.ActualCost != nil {
		j.ActualCost = *patch.ActualCost
	}
	if patch.CostAccuracy != nil {
		j.CostAccuracy = patch.CostAccuracy
	}
	if patch.Progress != nil {
		j.Progress.apply(patch.Progress)
	}
	if patch.ErrorDetails != nil {
		j.ErrorDetails = patch.ErrorDetails
	}
	if patch.CompletedAt != nil {
		j.CompletedAt = patch.CompletedAt
	}
}

func (p *JobProgress) apply(patch *ProgressPatch) {
	if patch.Stage != nil {
		p.Stage = *patch.Stage
	}
	if patch.PagesCollected != nil {
		p.PagesCollected = *patch.PagesCollected
	}
	if patch.SectionsAnalyzed != nil {
		p.SectionsAnalyzed = *patch.SectionsAnalyzed
	}
	if patch.CostAccumulation != nil {
		p.CostAccumulation = *patch.CostAccumulation
	}
	if patch.LastCostUpdate != nil {
		p.LastCostUpdate = *patch.LastCostUpdate
	}
}
