package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"reportpipe/internal/core/domain"
)

// CostEventRepo implements storage.CostEventRepository using PostgreSQL.
type CostEventRepo struct {
	db *DB
}

// NewCostEventRepo creates a new PostgreSQL cost event repository.
func NewCostEventRepo(db *DB) *CostEventRepo {
	return &CostEventRepo{db: db}
}

type costEventRow struct {
	ID         string          `db:"id"`
	JobID      string          `db:"job_id"`
	EventType  string          `db:"event_type"`
	Provider   string          `db:"provider"`
	Quantity   decimal.Decimal `db:"quantity"`
	UnitCost   decimal.Decimal `db:"unit_cost"`
	TotalCost  decimal.Decimal `db:"total_cost"`
	EventData  []byte          `db:"event_data"`
	RecordedAt time.Time       `db:"recorded_at"`
}

// ListByJob retrieves all cost events for a job in recording order.
func (r *CostEventRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.CostEvent, error) {
	var rows []costEventRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, job_id, event_type, provider,
		       quantity, unit_cost, total_cost, event_data, recorded_at
		FROM cost_events
		WHERE job_id = $1
		ORDER BY recorded_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost events: %w", err)
	}

	events := make([]*domain.CostEvent, 0, len(rows))
	for _, row := range rows {
		ev := &domain.CostEvent{
			ID:         row.ID,
			JobID:      row.JobID,
			EventType:  domain.CostEventType(row.EventType),
			Provider:   row.Provider,
			Quantity:   row.Quantity,
			UnitCost:   row.UnitCost,
			TotalCost:  row.TotalCost,
			RecordedAt: row.RecordedAt,
		}
		if len(row.EventData) > 0 {
			if err := json.Unmarshal(row.EventData, &ev.EventData); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
