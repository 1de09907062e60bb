package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"reportpipe/internal/core/domain"
	"reportpipe/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	ID            string              `db:"id"`
	UserID        string              `db:"user_id"`
	Status        string              `db:"status"`
	SourceURL     string              `db:"source_url"`
	EstimatedCost decimal.NullDecimal `db:"estimated_cost"`
	BudgetLimit   decimal.NullDecimal `db:"budget_limit"`
	ActualCost    decimal.Decimal     `db:"actual_cost"`
	CostAccuracy  sql.NullFloat64     `db:"cost_accuracy"`
	Progress      []byte              `db:"progress"`
	ErrorDetails  []byte              `db:"error_details"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
	CompletedAt   sql.NullTime        `db:"completed_at"`
}

func (r jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:         r.ID,
		UserID:     r.UserID,
		Status:     domain.JobStatus(r.Status),
		SourceURL:  r.SourceURL,
		ActualCost: r.ActualCost,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.EstimatedCost.Valid {
		v := r.EstimatedCost.Decimal
		job.EstimatedCost = &v
	}
	if r.BudgetLimit.Valid {
		v := r.BudgetLimit.Decimal
		job.BudgetLimit = &v
	}
	if r.CostAccuracy.Valid {
		v := r.CostAccuracy.Float64
		job.CostAccuracy = &v
	}
	if r.CompletedAt.Valid {
		v := r.CompletedAt.Time
		job.CompletedAt = &v
	}
	if len(r.Progress) > 0 {
		if err := json.Unmarshal(r.Progress, &job.Progress); err != nil {
			return nil, fmt.Errorf("failed to decode job progress: %w", err)
		}
	}
	if len(r.ErrorDetails) > 0 {
		var je domain.JobError
		if err := json.Unmarshal(r.ErrorDetails, &je); err != nil {
			return nil, fmt.Errorf("failed to decode job error details: %w", err)
		}
		job.ErrorDetails = &je
	}
	return job, nil
}

func encodeJob(job *domain.Job) (progress, errorDetails []byte, err error) {
	progress, err = json.Marshal(job.Progress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode job progress: %w", err)
	}
	if job.ErrorDetails != nil {
		errorDetails, err = json.Marshal(job.ErrorDetails)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode job error details: %w", err)
		}
	}
	return progress, errorDetails, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// Create saves a new job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	progress, errorDetails, err := encodeJob(job)
	if err != nil {
		return err
	}

	accuracy := sql.NullFloat64{}
	if job.CostAccuracy != nil {
		accuracy = sql.NullFloat64{Float64: *job.CostAccuracy, Valid: true}
	}
	completedAt := sql.NullTime{}
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, user_id, status, source_url,
			estimated_cost, budget_limit, actual_cost, cost_accuracy,
			progress, error_details, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now(), $11)`,
		job.ID, job.UserID, string(job.Status), job.SourceURL,
		nullDecimal(job.EstimatedCost), nullDecimal(job.BudgetLimit),
		job.ActualCost, accuracy, progress, errorDetails, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, status, source_url, estimated_cost, budget_limit,
	actual_cost, cost_accuracy, progress, error_details, created_at, updated_at, completed_at`

// Get retrieves a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// Update applies a partial update under per-job serialization.
func (r *JobRepo) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	return r.WithJob(ctx, id, func(ctx context.Context, tx storage.JobTx) error {
		return tx.UpdateJob(ctx, patch)
	})
}

// ListCompleted retrieves completed jobs, optionally filtered by user.
func (r *JobRepo) ListCompleted(ctx context.Context, userID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1`
	args := []any{string(domain.JobStatusCompleted)}
	if userID != "" {
		query += ` AND user_id = $2`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at`

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list completed jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// WithJob locks the job row and runs fn in a single transaction.
func (r *JobRepo) WithJob(
	ctx context.Context,
	id string,
	fn func(ctx context.Context, tx storage.JobTx) error,
) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row jobRow
	err = tx.GetContext(ctx, &row,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock job: %w", err)
	}

	job, err := row.toDomain()
	if err != nil {
		return err
	}

	if err := fn(ctx, &jobTx{tx: tx, job: job}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// jobTx implements storage.JobTx on top of an open row lock.
type jobTx struct {
	tx  *sqlx.Tx
	job *domain.Job
}

func (t *jobTx) Job() *domain.Job {
	return t.job
}

func (t *jobTx) InsertCostEvent(ctx context.Context, ev *domain.CostEvent) error {
	data := ev.EventData
	if data == nil {
		data = map[string]any{}
	}
	eventData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO cost_events (
			id, job_id, event_type, provider,
			quantity, unit_cost, total_cost, event_data, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.JobID, string(ev.EventType), ev.Provider,
		ev.Quantity, ev.UnitCost, ev.TotalCost, eventData, ev.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cost event: %w", err)
	}
	return nil
}

func (t *jobTx) UpdateJob(ctx context.Context, patch domain.JobPatch) error {
	t.job.Apply(patch)

	progress, errorDetails, err := encodeJob(t.job)
	if err != nil {
		return err
	}
	accuracy := sql.NullFloat64{}
	if t.job.CostAccuracy != nil {
		accuracy = sql.NullFloat64{Float64: *t.job.CostAccuracy, Valid: true}
	}
	completedAt := sql.NullTime{}
	if t.job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *t.job.CompletedAt, Valid: true}
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = $2, actual_cost = $3, cost_accuracy = $4,
			progress = $5, error_details = $6, completed_at = $7,
			updated_at = now()
		WHERE id = $1`,
		t.job.ID, string(t.job.Status), t.job.ActualCost, accuracy,
		progress, errorDetails, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}
