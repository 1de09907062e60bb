package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostEventType categorizes the metered resource behind a cost event.
type CostEventType string

const (
	CostEventExternalFetch   CostEventType = "external-fetch"
	CostEventInferenceTokens CostEventType = "inference-tokens"
)

// CostEvent is an immutable record of one unit of metered spend against a
// job. TotalCost is fixed at recording time and never recomputed.
type CostEvent struct {
	ID         string
	JobID      string
	EventType  CostEventType
	Provider   string
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	TotalCost  decimal.Decimal
	EventData  map[string]any
	RecordedAt time.Time
}
