package budget

import (
	"context"
	"testing"

	"reportpipe/internal/core/domain"
)

func TestBreakdownBucketsByEventType(t *testing.T) {
	g, jobs := newTestGovernor(t)
	g.SetCategories(CategoryMap{
		domain.CostEventType("A"): "x",
		domain.CostEventType("B"): "y",
	})
	createJob(t, jobs, &domain.Job{ID: "job-1"})

	ctx := context.Background()
	for _, ev := range []domain.CostEvent{
		{JobID: "job-1", EventType: "A", TotalCost: dec("2.0")},
		{JobID: "job-1", EventType: "B", TotalCost: dec("3.0")},
		{JobID: "job-1", EventType: "B", TotalCost: dec("5.0")},
		{JobID: "job-1", EventType: "C", TotalCost: dec("1.0")},
	} {
		if err := g.RecordCostEvent(ctx, ev); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	breakdown, err := g.GetAnalysisCostBreakdown(ctx, "job-1")
	if err != nil {
		t.Fatalf("breakdown failed: %v", err)
	}

	if !breakdown.Buckets["x"].Equal(dec("2.0")) {
		t.Errorf("bucket x = %s, want 2.0", breakdown.Buckets["x"])
	}
	if !breakdown.Buckets["y"].Equal(dec("8.0")) {
		t.Errorf("bucket y = %s, want 8.0", breakdown.Buckets["y"])
	}
	if !breakdown.Buckets[OtherCategory].Equal(dec("1.0")) {
		t.Errorf("bucket other = %s, want 1.0", breakdown.Buckets[OtherCategory])
	}
	if !breakdown.Total.Equal(dec("11.0")) {
		t.Errorf("total = %s, want 11.0", breakdown.Total)
	}
}

func TestBreakdownEmptyJob(t *testing.T) {
	g, jobs := newTestGovernor(t)
	createJob(t, jobs, &domain.Job{ID: "job-1"})

	breakdown, err := g.GetAnalysisCostBreakdown(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("breakdown failed: %v", err)
	}

	for _, name := range []string{"collection", "analysis", OtherCategory} {
		bucket, ok := breakdown.Buckets[name]
		if !ok {
			t.Errorf("expected bucket %q present even when empty", name)
			continue
		}
		if !bucket.IsZero() {
			t.Errorf("bucket %q = %s, want 0", name, bucket)
		}
	}
	if !breakdown.Total.IsZero() {
		t.Errorf("total = %s, want 0", breakdown.Total)
	}
}

func TestDefaultCategories(t *testing.T) {
	g, jobs := newTestGovernor(t)
	createJob(t, jobs, &domain.Job{ID: "job-1"})

	ctx := context.Background()
	for _, ev := range []domain.CostEvent{
		{JobID: "job-1", EventType: domain.CostEventExternalFetch, TotalCost: dec("1.5")},
		{JobID: "job-1", EventType: domain.CostEventInferenceTokens, TotalCost: dec("0.5")},
	} {
		if err := g.RecordCostEvent(ctx, ev); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	breakdown, err := g.GetAnalysisCostBreakdown(ctx, "job-1")
	if err != nil {
		t.Fatalf("breakdown failed: %v", err)
	}
	if !breakdown.Buckets["collection"].Equal(dec("1.5")) {
		t.Errorf("collection = %s, want 1.5", breakdown.Buckets["collection"])
	}
	if !breakdown.Buckets["analysis"].Equal(dec("0.5")) {
		t.Errorf("analysis = %s, want 0.5", breakdown.Buckets["analysis"])
	}
}
