package budget

import (
	"context"
	"errors"
	"math"
	"testing"

	"reportpipe/internal/core/domain"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestUpdateAccuracyMetrics(t *testing.T) {
	g, jobs := newTestGovernor(t)
	createJob(t, jobs, &domain.Job{
		ID:            "job-1",
		Status:        domain.JobStatusCompleted,
		EstimatedCost: decPtr("10"),
		ActualCost:    dec("8"),
	})

	accuracy, err := g.UpdateAccuracyMetrics(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !approx(accuracy, 80) {
		t.Errorf("expected 80%% accuracy for estimate 10 / actual 8, got %v", accuracy)
	}

	job, _ := jobs.Get(context.Background(), "job-1")
	if job.CostAccuracy == nil || !approx(*job.CostAccuracy, 80) {
		t.Errorf("expected accuracy stored on the job, got %v", job.CostAccuracy)
	}
}

func TestUpdateAccuracyOverrun(t *testing.T) {
	g, jobs := newTestGovernor(t)
	createJob(t, jobs, &domain.Job{
		ID:            "job-1",
		Status:        domain.JobStatusCompleted,
		EstimatedCost: decPtr("10"),
		ActualCost:    dec("25"),
	})

	// Overrun beyond 2x the estimate clamps to zero rather than going
	// negative.
	accuracy, err := g.UpdateAccuracyMetrics(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if accuracy != 0 {
		t.Errorf("expected accuracy clamped to 0, got %v", accuracy)
	}
}

func TestUpdateAccuracyMissingData(t *testing.T) {
	g, jobs := newTestGovernor(t)
	createJob(t, jobs, &domain.Job{
		ID:         "no-estimate",
		Status:     domain.JobStatusCompleted,
		ActualCost: dec("5"),
	})
	createJob(t, jobs, &domain.Job{
		ID:            "no-actual",
		Status:        domain.JobStatusCompleted,
		EstimatedCost: decPtr("5"),
	})

	ctx := context.Background()
	if _, err := g.UpdateAccuracyMetrics(ctx, "no-estimate"); !errors.Is(err, ErrMissingCostData) {
		t.Errorf("expected missing-cost-data for absent estimate, got %v", err)
	}
	if _, err := g.UpdateAccuracyMetrics(ctx, "no-actual"); !errors.Is(err, ErrMissingCostData) {
		t.Errorf("expected missing-cost-data for absent actual cost, got %v", err)
	}
}

func TestHistoricalAccuracyDefault(t *testing.T) {
	g, _ := newTestGovernor(t)

	got, err := g.GetHistoricalAccuracy(context.Background(), "")
	if err != nil {
		t.Fatalf("historical failed: %v", err)
	}
	if got != DefaultHistoricalAccuracy {
		t.Errorf("expected default %v with no completed jobs, got %v", DefaultHistoricalAccuracy, got)
	}
}

func TestHistoricalAccuracyAverages(t *testing.T) {
	g, jobs := newTestGovernor(t)

	stored := 90.0
	createJob(t, jobs, &domain.Job{
		ID:           "job-stored",
		UserID:       "u1",
		Status:       domain.JobStatusCompleted,
		CostAccuracy: &stored,
	})
	createJob(t, jobs, &domain.Job{
		ID:            "job-computed",
		UserID:        "u1",
		Status:        domain.JobStatusCompleted,
		EstimatedCost: decPtr("10"),
		ActualCost:    dec("7"),
	})
	// Not completed: excluded.
	createJob(t, jobs, &domain.Job{
		ID:            "job-running",
		UserID:        "u1",
		Status:        domain.JobStatusRunning,
		EstimatedCost: decPtr("10"),
		ActualCost:    dec("10"),
	})
	// Completed but no cost data: skipped, not an error.
	createJob(t, jobs, &domain.Job{
		ID:     "job-no-data",
		UserID: "u1",
		Status: domain.JobStatusCompleted,
	})

	got, err := g.GetHistoricalAccuracy(context.Background(), "u1")
	if err != nil {
		t.Fatalf("historical failed: %v", err)
	}
	// (90 + 70) / 2
	if !approx(got, 80) {
		t.Errorf("expected average 80, got %v", got)
	}
}

func TestHistoricalAccuracyPerUser(t *testing.T) {
	g, jobs := newTestGovernor(t)

	a := 100.0
	b := 50.0
	createJob(t, jobs, &domain.Job{ID: "j1", UserID: "alice", Status: domain.JobStatusCompleted, CostAccuracy: &a})
	createJob(t, jobs, &domain.Job{ID: "j2", UserID: "bob", Status: domain.JobStatusCompleted, CostAccuracy: &b})

	got, err := g.GetHistoricalAccuracy(context.Background(), "alice")
	if err != nil {
		t.Fatalf("historical failed: %v", err)
	}
	if got != 100 {
		t.Errorf("expected alice's accuracy only, got %v", got)
	}

	all, err := g.GetHistoricalAccuracy(context.Background(), "")
	if err != nil {
		t.Fatalf("historical failed: %v", err)
	}
	if all != 75 {
		t.Errorf("expected cross-user average 75, got %v", all)
	}
}
