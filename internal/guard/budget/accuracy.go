package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"reportpipe/internal/core/domain"
)

// ErrMissingCostData is returned when an accuracy calculation is requested
// for a job lacking either cost field. Estimation accuracy is undefined
// without both numbers; this signals an incomplete job record, not a
// transient condition.
var ErrMissingCostData = errors.New("missing cost data")

// DefaultHistoricalAccuracy is the conservative default reported when no
// completed jobs qualify for the calculation.
const DefaultHistoricalAccuracy = 70.0

// UpdateAccuracyMetrics computes the estimation accuracy of a finished job
// and stores it on the job record. Returns the accuracy percentage.
func (g *Governor) UpdateAccuracyMetrics(ctx context.Context, jobID string) (float64, error) {
	job, err := g.jobs.Get(ctx, jobID)
	if err != nil {
		return 0, err
	}

	if job.EstimatedCost == nil || job.EstimatedCost.Sign() <= 0 {
		return 0, fmt.Errorf("%w: job %s has no estimated cost", ErrMissingCostData, jobID)
	}
	if job.ActualCost.Sign() <= 0 {
		return 0, fmt.Errorf("%w: job %s has no recorded actual cost", ErrMissingCostData, jobID)
	}

	accuracy := estimationAccuracy(*job.EstimatedCost, job.ActualCost)
	if err := g.jobs.Update(ctx, jobID, domain.JobPatch{CostAccuracy: &accuracy}); err != nil {
		return 0, err
	}
	return accuracy, nil
}

// GetHistoricalAccuracy averages estimation accuracy over completed jobs,
// optionally for one user (empty userID means all users). Zero qualifying
// jobs yields DefaultHistoricalAccuracy rather than an error.
func (g *Governor) GetHistoricalAccuracy(ctx context.Context, userID string) (float64, error) {
	jobs, err := g.jobs.ListCompleted(ctx, userID)
	if err != nil {
		return 0, err
	}

	var sum float64
	var n int
	for _, job := range jobs {
		switch {
		case job.CostAccuracy != nil:
			sum += *job.CostAccuracy
			n++
		case job.EstimatedCost != nil && job.EstimatedCost.Sign() > 0 && job.ActualCost.Sign() > 0:
			sum += estimationAccuracy(*job.EstimatedCost, job.ActualCost)
			n++
		}
	}

	if n == 0 {
		return DefaultHistoricalAccuracy, nil
	}
	return sum / float64(n), nil
}

// estimationAccuracy returns how close the estimate was to the final spend,
// as a percentage clamped to [0, 100].
func estimationAccuracy(estimated, actual decimal.Decimal) float64 {
	ratio, _ := actual.Sub(estimated).Abs().Div(estimated).Float64()
	accuracy := (1 - ratio) * 100
	if accuracy < 0 {
		accuracy = 0
	}
	return accuracy
}
