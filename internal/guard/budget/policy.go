package budget

import "github.com/shopspring/decimal"

// BudgetStatus classifies a job's spend against its budget.
type BudgetStatus string

const (
	StatusWithinBudget     BudgetStatus = "within_budget"
	StatusApproachingLimit BudgetStatus = "approaching_limit"
	StatusExceeded         BudgetStatus = "exceeded"
	// StatusStopped is reported for cancelled jobs regardless of the
	// numeric classification.
	StatusStopped BudgetStatus = "stopped"
)

// Policy is the pure budget-enforcement policy: a function of accumulated
// spend and the approved limit only.
type Policy struct {
	// SafetyMargin is the fraction of the budget limit at which enforcement
	// trips. Kept strictly below 1 so in-flight work can still be billed
	// without exceeding the approved budget.
	SafetyMargin float64 `yaml:"safety_margin"`
	// WarnRatio is the fraction of the limit at which tracking status
	// reports approaching_limit.
	WarnRatio float64 `yaml:"warn_ratio"`
}

// DefaultPolicy trips at 95% of budget and warns at 80%.
func DefaultPolicy() Policy {
	return Policy{SafetyMargin: 0.95, WarnRatio: 0.80}
}

func (p Policy) normalized() Policy {
	if p.SafetyMargin <= 0 || p.SafetyMargin >= 1 {
		p.SafetyMargin = 0.95
	}
	if p.WarnRatio <= 0 || p.WarnRatio >= p.SafetyMargin {
		p.WarnRatio = 0.80
	}
	return p
}

// ShouldTrip reports whether accumulated spend has crossed the enforcement
// threshold. A missing or non-positive limit never trips.
func (p Policy) ShouldTrip(actualCost decimal.Decimal, budgetLimit *decimal.Decimal) bool {
	if budgetLimit == nil || budgetLimit.Sign() <= 0 {
		return false
	}
	threshold := budgetLimit.Mul(decimal.NewFromFloat(p.SafetyMargin))
	return actualCost.GreaterThanOrEqual(threshold)
}

// Classify returns the budget status for a spend level against a limit.
func (p Policy) Classify(currentCost decimal.Decimal, budgetLimit *decimal.Decimal) BudgetStatus {
	if budgetLimit == nil || budgetLimit.Sign() <= 0 {
		return StatusWithinBudget
	}
	if p.ShouldTrip(currentCost, budgetLimit) {
		return StatusExceeded
	}
	warn := budgetLimit.Mul(decimal.NewFromFloat(p.WarnRatio))
	if currentCost.GreaterThanOrEqual(warn) {
		return StatusApproachingLimit
	}
	return StatusWithinBudget
}
