package budget

import (
	"context"

	"github.com/shopspring/decimal"

	"reportpipe/internal/core/domain"
)

// OtherCategory collects event types without an explicit mapping.
const OtherCategory = "other"

// CategoryMap maps event types to named breakdown buckets.
type CategoryMap map[domain.CostEventType]string

// DefaultCategories buckets collection spend separately from analysis spend.
func DefaultCategories() CategoryMap {
	return CategoryMap{
		domain.CostEventExternalFetch:   "collection",
		domain.CostEventInferenceTokens: "analysis",
	}
}

// Breakdown is the per-category spend of one job.
type Breakdown struct {
	Buckets map[string]decimal.Decimal `json:"buckets"`
	Total   decimal.Decimal            `json:"total"`
}

// GetAnalysisCostBreakdown buckets a job's cost events strictly by event
// type. An empty event set yields all-zero buckets.
func (g *Governor) GetAnalysisCostBreakdown(ctx context.Context, jobID string) (*Breakdown, error) {
	events, err := g.events.ListByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]decimal.Decimal, len(g.categories)+1)
	for _, name := range g.categories {
		buckets[name] = decimal.Zero
	}
	buckets[OtherCategory] = decimal.Zero

	total := decimal.Zero
	for _, ev := range events {
		name, ok := g.categories[ev.EventType]
		if !ok {
			name = OtherCategory
		}
		buckets[name] = buckets[name].Add(ev.TotalCost)
		total = total.Add(ev.TotalCost)
	}

	return &Breakdown{Buckets: buckets, Total: total}, nil
}
