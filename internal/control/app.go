// Package control wires storage, guards, collaborator clients and the
// pipeline together and manages the application lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reportpipe/internal/core/config"
	"reportpipe/internal/core/domain"
	"reportpipe/internal/guard/breaker"
	"reportpipe/internal/guard/budget"
	"reportpipe/internal/infra/collector"
	"reportpipe/internal/infra/inference"
	redisclient "reportpipe/internal/infra/redis"
	"reportpipe/internal/infra/storage"
	"reportpipe/internal/infra/storage/memory"
	"reportpipe/internal/infra/storage/postgres"
	"reportpipe/internal/ops"
	"reportpipe/internal/pipeline"
)

// App is the assembled application.
type App struct {
	cfg         *config.AppConfig
	db          *postgres.DB
	redisClient *redisclient.Client
	jobs        storage.JobRepository
	governor    *budget.Governor
	runner      *pipeline.Runner
	breakers    map[string]*breaker.Breaker
	opsServer   *ops.Server

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an App with all dependencies initialized.
func New(cfg *config.AppConfig) (*App, error) {
	// 1. Storage: PostgreSQL when configured, memory otherwise.
	var (
		jobs   storage.JobRepository
		events storage.CostEventRepository
		db     *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		jobs = postgres.NewJobRepo(db)
		events = postgres.NewCostEventRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewStore()
		jobs = memory.NewJobRepo(store)
		events = memory.NewCostEventRepo(store)
		slog.Info("Using memory storage")
	}

	// 2. Budget governor with optional Redis cancellation broadcast.
	governor := budget.NewGovernor(jobs, events, cfg.Budget)

	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		governor.SetNotifier(redisClient)
	}

	// 3. One breaker per guarded dependency, injected explicitly.
	breakers := map[string]*breaker.Breaker{
		"collector": newBreaker(cfg.BreakerByName("collector")),
		"inference": newBreaker(cfg.BreakerByName("inference")),
	}

	// 4. Collaborator clients and pipeline.
	runner := pipeline.NewRunner(
		jobs,
		governor,
		collector.NewClient(cfg.Collector),
		inference.NewClient(cfg.Inference),
		breakers["collector"],
		breakers["inference"],
		pipeline.Pricing{
			CollectorCreditCost: decimal.NewFromFloat(cfg.Pricing.CollectorCreditCost),
			InferenceTokenCost:  decimal.NewFromFloat(cfg.Pricing.InferenceTokenCost),
		},
	)

	app := &App{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		jobs:        jobs,
		governor:    governor,
		runner:      runner,
		breakers:    breakers,
	}

	var checks []ops.Check
	if db != nil {
		checks = append(checks, ops.Check{Name: "database", Probe: db.Health})
	}
	if redisClient != nil {
		checks = append(checks, ops.Check{Name: "redis", Probe: redisClient.Health})
	}
	app.opsServer = ops.NewServer(cfg.Server.Port, governor, app, breakers, checks)

	return app, nil
}

func newBreaker(cfg config.BreakerConfig) *breaker.Breaker {
	return breaker.New(breaker.Config{
		Name:              cfg.Name,
		FailureThreshold:  cfg.FailureThreshold,
		ResetTimeout:      cfg.ResetTimeout,
		MonitoringPeriod:  cfg.MonitoringPeriod,
		MinimumThroughput: cfg.MinimumThroughput,
	})
}

// StartJob creates a job and launches its pipeline run. Implements
// ops.JobStarter.
func (a *App) StartJob(ctx context.Context, req ops.StartJobRequest) (string, error) {
	job := &domain.Job{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Status:    domain.JobStatusPending,
		SourceURL: req.SourceURL,
	}
	if req.EstimatedCost != nil {
		d := decimal.NewFromFloat(*req.EstimatedCost)
		job.EstimatedCost = &d
	}
	if req.BudgetLimit != nil {
		d := decimal.NewFromFloat(*req.BudgetLimit)
		job.BudgetLimit = &d
	}

	if err := a.jobs.Create(ctx, job); err != nil {
		return "", err
	}
	slog.Info("job accepted", "job", job.ID, "source", job.SourceURL)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.runner.Run(a.runCtx, job.ID); err != nil {
			slog.Error("pipeline run failed", "job", job.ID, "error", err)
		}
	}()

	return job.ID, nil
}

// Start launches background workers and the ops server.
func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(context.Background())

	if a.db != nil {
		a.db.StartMetricsCollector(a.runCtx)
	}

	if a.redisClient != nil {
		cancelled := a.redisClient.SubscribeCancellations(a.runCtx)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for jobID := range cancelled {
				slog.Warn("cancellation broadcast received", "job", jobID)
			}
		}()
	}

	go func() {
		slog.Info("ops server listening", "port", a.cfg.Server.Port)
		if err := a.opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the application down gracefully.
func (a *App) Stop(ctx context.Context) error {
	if err := a.opsServer.Stop(ctx); err != nil {
		slog.Warn("ops server shutdown failed", "error", err)
	}

	if a.runCancel != nil {
		a.runCancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for pipeline runs: %w", ctx.Err())
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}
	return nil
}
