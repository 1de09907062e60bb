// Package pipeline runs the multi-stage report generation flow and composes
// the two guards: every outbound call goes through its breaker, every
// successful metered call reports its cost to the governor, and job status
// is re-checked between stages so a budget cancellation stops the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"reportpipe/internal/core/domain"
	"reportpipe/internal/guard/breaker"
	"reportpipe/internal/guard/budget"
	"reportpipe/internal/infra/collector"
	"reportpipe/internal/infra/inference"
	"reportpipe/internal/infra/storage"
	"reportpipe/internal/metrics"
)

// Collector fetches paginated external content for a source.
type Collector interface {
	FetchSite(ctx context.Context, sourceURL string) (*collector.FetchResult, error)
}

// Analyzer runs one metered inference call.
type Analyzer interface {
	Complete(ctx context.Context, prompt string) (*inference.Completion, error)
}

// Pricing converts metered usage into currency units.
type Pricing struct {
	CollectorCreditCost decimal.Decimal
	InferenceTokenCost  decimal.Decimal
}

// Runner executes report jobs stage by stage. Breakers are injected per
// guarded dependency; the runner holds no global registry.
type Runner struct {
	jobs     storage.JobRepository
	governor *budget.Governor

	collector        Collector
	analyzer         Analyzer
	collectorBreaker *breaker.Breaker
	inferenceBreaker *breaker.Breaker

	pricing     Pricing
	sectionSize int
}

// NewRunner creates a pipeline runner.
func NewRunner(
	jobs storage.JobRepository,
	governor *budget.Governor,
	col Collector,
	analyzer Analyzer,
	collectorBreaker *breaker.Breaker,
	inferenceBreaker *breaker.Breaker,
	pricing Pricing,
) *Runner {
	return &Runner{
		jobs:             jobs,
		governor:         governor,
		collector:        col,
		analyzer:         analyzer,
		collectorBreaker: collectorBreaker,
		inferenceBreaker: inferenceBreaker,
		pricing:          pricing,
		sectionSize:      5,
	}
}

// Run executes the job to completion, failure, or observed cancellation.
// A budget cancellation is not an error: the run stops quietly once the
// governor's decision is observed.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if err := r.enterStage(ctx, jobID, "collect", true); err != nil {
		return err
	}

	fetched, err := r.collect(ctx, job)
	if err != nil {
		return r.failJob(ctx, jobID, "collect", err)
	}

	if stop, err := r.cancelled(ctx, jobID); stop || err != nil {
		return err
	}
	if err := r.enterStage(ctx, jobID, "classify", false); err != nil {
		return err
	}

	sections, err := r.classify(ctx, jobID, fetched.Pages)
	if err != nil {
		if errors.Is(err, errRunStopped) {
			return nil
		}
		return r.failJob(ctx, jobID, "classify", err)
	}

	if stop, err := r.cancelled(ctx, jobID); stop || err != nil {
		return err
	}
	if err := r.enterStage(ctx, jobID, "score", false); err != nil {
		return err
	}

	if err := r.score(ctx, jobID, sections); err != nil {
		return r.failJob(ctx, jobID, "score", err)
	}

	if stop, err := r.cancelled(ctx, jobID); stop || err != nil {
		return err
	}

	return r.finalize(ctx, jobID)
}

// errRunStopped aborts the section loop when cancellation is observed
// mid-stage. Never escapes Run.
var errRunStopped = errors.New("run stopped")

func (r *Runner) collect(ctx context.Context, job *domain.Job) (*collector.FetchResult, error) {
	timer := prometheus.NewTimer(metrics.PipelineStageDuration.WithLabelValues("collect"))
	defer timer.ObserveDuration()

	result, err := breaker.Execute(ctx, r.collectorBreaker,
		func(ctx context.Context) (*collector.FetchResult, error) {
			return r.collector.FetchSite(ctx, job.SourceURL)
		}, nil)
	if err != nil {
		return nil, err
	}

	err = r.governor.RecordCostEvent(ctx, domain.CostEvent{
		JobID:     job.ID,
		EventType: domain.CostEventExternalFetch,
		Provider:  "collector",
		Quantity:  decimal.NewFromInt(result.CreditsUsed),
		UnitCost:  r.pricing.CollectorCreditCost,
		EventData: map[string]any{"pages": len(result.Pages)},
	})
	if err != nil {
		return nil, err
	}

	pages := len(result.Pages)
	err = r.jobs.Update(ctx, job.ID, domain.JobPatch{
		Progress: &domain.ProgressPatch{PagesCollected: &pages},
	})
	if err != nil {
		return nil, err
	}

	slog.Info("collection finished", "job", job.ID, "pages", pages, "credits", result.CreditsUsed)
	return result, nil
}

// section is a classified slice of the collected content.
type section struct {
	Pages    []collector.Page
	Category string
}

func (r *Runner) classify(
	ctx context.Context,
	jobID string,
	pages []collector.Page,
) ([]section, error) {
	timer := prometheus.NewTimer(metrics.PipelineStageDuration.WithLabelValues("classify"))
	defer timer.ObserveDuration()

	var sections []section
	for start := 0; start < len(pages); start += r.sectionSize {
		end := min(start+r.sectionSize, len(pages))
		chunk := pages[start:end]

		// Degraded mode: when the gateway is down the section is kept with a
		// default category instead of failing the whole report.
		completion, err := breaker.Execute(ctx, r.inferenceBreaker,
			func(ctx context.Context) (*inference.Completion, error) {
				return r.analyzer.Complete(ctx, classifyPrompt(chunk))
			},
			func(ctx context.Context) (*inference.Completion, error) {
				return &inference.Completion{Text: "uncategorized"}, nil
			})
		if err != nil {
			return nil, err
		}

		if completion.TokensUsed > 0 {
			err = r.governor.RecordCostEvent(ctx, domain.CostEvent{
				JobID:     jobID,
				EventType: domain.CostEventInferenceTokens,
				Provider:  "inference-gateway",
				Quantity:  decimal.NewFromInt(completion.TokensUsed),
				UnitCost:  r.pricing.InferenceTokenCost,
				EventData: map[string]any{"operation": "classify"},
			})
			if err != nil {
				return nil, err
			}
		}

		sections = append(sections, section{
			Pages:    chunk,
			Category: strings.TrimSpace(completion.Text),
		})

		analyzed := len(sections)
		err = r.jobs.Update(ctx, jobID, domain.JobPatch{
			Progress: &domain.ProgressPatch{SectionsAnalyzed: &analyzed},
		})
		if err != nil {
			return nil, err
		}

		// Every section is a paid call; re-check the governor's decision
		// before spending again.
		if stop, err := r.cancelled(ctx, jobID); err != nil {
			return nil, err
		} else if stop {
			return nil, errRunStopped
		}
	}

	return sections, nil
}

func (r *Runner) score(ctx context.Context, jobID string, sections []section) error {
	timer := prometheus.NewTimer(metrics.PipelineStageDuration.WithLabelValues("score"))
	defer timer.ObserveDuration()

	completion, err := breaker.Execute(ctx, r.inferenceBreaker,
		func(ctx context.Context) (*inference.Completion, error) {
			return r.analyzer.Complete(ctx, scorePrompt(sections))
		}, nil)
	if err != nil {
		return err
	}

	if completion.TokensUsed > 0 {
		err = r.governor.RecordCostEvent(ctx, domain.CostEvent{
			JobID:     jobID,
			EventType: domain.CostEventInferenceTokens,
			Provider:  "inference-gateway",
			Quantity:  decimal.NewFromInt(completion.TokensUsed),
			UnitCost:  r.pricing.InferenceTokenCost,
			EventData: map[string]any{"operation": "score"},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) finalize(ctx context.Context, jobID string) error {
	status := domain.JobStatusCompleted
	now := time.Now()
	stage := "done"
	err := r.jobs.Update(ctx, jobID, domain.JobPatch{
		Status:      &status,
		CompletedAt: &now,
		Progress:    &domain.ProgressPatch{Stage: &stage},
	})
	if err != nil {
		return err
	}

	if _, err := r.governor.UpdateAccuracyMetrics(ctx, jobID); err != nil {
		// Jobs created without an estimate simply carry no accuracy figure.
		if !errors.Is(err, budget.ErrMissingCostData) {
			return err
		}
	}

	slog.Info("job completed", "job", jobID)
	return nil
}

// cancelled reports whether the governor has cancelled the job.
func (r *Runner) cancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status == domain.JobStatusCancelled {
		slog.Warn("job cancelled, stopping pipeline", "job", jobID)
		return true, nil
	}
	return false, nil
}

func (r *Runner) enterStage(ctx context.Context, jobID, stage string, markRunning bool) error {
	patch := domain.JobPatch{Progress: &domain.ProgressPatch{Stage: &stage}}
	if markRunning {
		status := domain.JobStatusRunning
		patch.Status = &status
	}
	return r.jobs.Update(ctx, jobID, patch)
}

func (r *Runner) failJob(ctx context.Context, jobID, stage string, cause error) error {
	status := domain.JobStatusFailed
	patchErr := r.jobs.Update(ctx, jobID, domain.JobPatch{
		Status: &status,
		ErrorDetails: &domain.JobError{
			Kind:       domain.JobErrorStageFailed,
			Message:    fmt.Sprintf("stage %s failed: %v", stage, cause),
			OccurredAt: time.Now(),
		},
	})
	if patchErr != nil {
		slog.Error("failed to mark job failed", "job", jobID, "error", patchErr)
	}
	return fmt.Errorf("stage %s: %w", stage, cause)
}

func classifyPrompt(pages []collector.Page) string {
	var b strings.Builder
	b.WriteString("Classify the following site content into a single report category. ")
	b.WriteString("Reply with the category name only.\n\n")
	for _, p := range pages {
		fmt.Fprintf(&b, "# %s (%s)\n%s\n\n", p.Title, p.URL, p.Content)
	}
	return b.String()
}

func scorePrompt(sections []section) string {
	var b strings.Builder
	b.WriteString("Score the overall quality of the following categorized content ")
	b.WriteString("from 0 to 100 per dimension (clarity, depth, credibility).\n\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s (%d pages)\n", s.Category, len(s.Pages))
	}
	return b.String()
}
