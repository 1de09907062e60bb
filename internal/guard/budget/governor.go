// Package budget implements the cost governor: the single place metered
// spend against a job is recorded, accumulated and checked against the
// enforcement policy. The governor owns the decision to cancel a runaway
// job; the pipeline observes that decision between stages.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reportpipe/internal/core/domain"
	"reportpipe/internal/infra/storage"
	"reportpipe/internal/metrics"
)

// Notifier receives out-of-band cancellation signals. Delivery is
// best-effort; the job store remains the source of truth.
type Notifier interface {
	JobCancelled(ctx context.Context, jobID, reason string)
}

// Governor records cost events and enforces the budget policy.
type Governor struct {
	jobs       storage.JobRepository
	events     storage.CostEventRepository
	policy     Policy
	categories CategoryMap
	notifier   Notifier
	now        func() time.Time
}

// NewGovernor creates a governor over the given repositories.
func NewGovernor(
	jobs storage.JobRepository,
	events storage.CostEventRepository,
	policy Policy,
) *Governor {
	return &Governor{
		jobs:       jobs,
		events:     events,
		policy:     policy.normalized(),
		categories: DefaultCategories(),
		now:        time.Now,
	}
}

// SetNotifier installs an out-of-band cancellation notifier.
func (g *Governor) SetNotifier(n Notifier) {
	g.notifier = n
}

// SetCategories replaces the event-type to breakdown-bucket mapping.
func (g *Governor) SetCategories(m CategoryMap) {
	g.categories = m
}

// RecordCostEvent persists one metered-spend event and applies the
// enforcement policy. Crossing the budget threshold is not an error to the
// caller: the event still records and the job is cancelled out-of-band.
// Storage failures propagate unmodified.
func (g *Governor) RecordCostEvent(ctx context.Context, ev domain.CostEvent) error {
	if ev.JobID == "" {
		return errors.New("cost event requires a job id")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = g.now()
	}
	if ev.TotalCost.IsZero() {
		ev.TotalCost = ev.Quantity.Mul(ev.UnitCost)
	}
	if ev.EventData == nil {
		ev.EventData = map[string]any{}
	}

	var cancelled bool
	var cancelReason string

	err := g.jobs.WithJob(ctx, ev.JobID, func(ctx context.Context, tx storage.JobTx) error {
		job := tx.Job()
		newCost := job.ActualCost.Add(ev.TotalCost)

		if err := tx.InsertCostEvent(ctx, &ev); err != nil {
			return err
		}

		// Late events after cancellation are recorded but change nothing:
		// the cancellation record stays authoritative.
		if job.Status == domain.JobStatusCancelled {
			return nil
		}

		if g.policy.ShouldTrip(newCost, job.BudgetLimit) {
			cancelled = true
			cancelReason = fmt.Sprintf(
				"budget exceeded: accumulated cost %s crossed the enforcement threshold for budget limit %s",
				newCost.StringFixed(4), job.BudgetLimit.StringFixed(4),
			)
			status := domain.JobStatusCancelled
			return tx.UpdateJob(ctx, domain.JobPatch{
				Status: &status,
				ErrorDetails: &domain.JobError{
					Kind:       domain.JobErrorBudgetExceeded,
					Message:    cancelReason,
					OccurredAt: g.now(),
				},
			})
		}

		now := g.now()
		return tx.UpdateJob(ctx, domain.JobPatch{
			ActualCost: &newCost,
			Progress: &domain.ProgressPatch{
				CostAccumulation: &newCost,
				LastCostUpdate:   &now,
			},
		})
	})
	if err != nil {
		return err
	}

	metrics.CostEventsRecorded.WithLabelValues(string(ev.EventType), ev.Provider).Inc()
	total, _ := ev.TotalCost.Float64()
	metrics.CostRecorded.WithLabelValues(string(ev.EventType)).Add(total)

	if cancelled {
		metrics.JobsCancelledOverBudget.Inc()
		slog.Warn("job cancelled by budget governor", "job", ev.JobID, "reason", cancelReason)
		if g.notifier != nil {
			g.notifier.JobCancelled(ctx, ev.JobID, cancelReason)
		}
	}
	return nil
}

// TrackingStatus is the polling surface for a job's spend.
type TrackingStatus struct {
	JobID           string          `json:"job_id"`
	CurrentCost     decimal.Decimal `json:"current_cost"`
	EstimatedCost   decimal.Decimal `json:"estimated_cost"`
	BudgetLimit     decimal.Decimal `json:"budget_limit"`
	PercentComplete float64         `json:"percent_complete"`
	Status          BudgetStatus    `json:"status"`
}

// GetCostTrackingStatus returns the current spend position of a job. The
// budget limit falls back to the estimated cost when unset, and cancelled
// jobs report stopped regardless of the numeric classification.
func (g *Governor) GetCostTrackingStatus(ctx context.Context, jobID string) (*TrackingStatus, error) {
	job, err := g.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	estimated := decimal.Zero
	if job.EstimatedCost != nil {
		estimated = *job.EstimatedCost
	}
	limit := estimated
	if job.BudgetLimit != nil {
		limit = *job.BudgetLimit
	}

	percent := 0.0
	if estimated.Sign() > 0 {
		percent, _ = job.ActualCost.Div(estimated).Mul(decimal.NewFromInt(100)).Float64()
		if percent > 100 {
			percent = 100
		}
	}

	var effectiveLimit *decimal.Decimal
	if limit.Sign() > 0 {
		effectiveLimit = &limit
	}
	status := g.policy.Classify(job.ActualCost, effectiveLimit)
	if job.Status == domain.JobStatusCancelled {
		status = StatusStopped
	}

	return &TrackingStatus{
		JobID:           job.ID,
		CurrentCost:     job.ActualCost,
		EstimatedCost:   estimated,
		BudgetLimit:     limit,
		PercentComplete: percent,
		Status:          status,
	}, nil
}
