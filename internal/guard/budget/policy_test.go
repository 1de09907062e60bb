package budget

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestShouldTrip(t *testing.T) {
	p := DefaultPolicy()
	limit := dec("100")

	tests := []struct {
		name   string
		actual string
		limit  *decimal.Decimal
		want   bool
	}{
		{"well under", "50", &limit, false},
		{"just under margin", "94.99", &limit, false},
		{"at margin", "95", &limit, true},
		{"over limit", "120", &limit, true},
		{"no limit", "1000000", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldTrip(dec(tt.actual), tt.limit); got != tt.want {
				t.Errorf("ShouldTrip(%s) = %v, want %v", tt.actual, got, tt.want)
			}
		})
	}
}

func TestShouldTripNonPositiveLimit(t *testing.T) {
	p := DefaultPolicy()
	zero := decimal.Zero
	neg := dec("-5")

	if p.ShouldTrip(dec("100"), &zero) {
		t.Error("zero limit must never trip")
	}
	if p.ShouldTrip(dec("100"), &neg) {
		t.Error("negative limit must never trip")
	}
}

func TestClassify(t *testing.T) {
	p := DefaultPolicy()
	limit := dec("10")

	tests := []struct {
		actual string
		want   BudgetStatus
	}{
		{"0", StatusWithinBudget},
		{"7.99", StatusWithinBudget},
		{"8", StatusApproachingLimit},
		{"9.49", StatusApproachingLimit},
		{"9.5", StatusExceeded},
		{"15", StatusExceeded},
	}
	for _, tt := range tests {
		if got := p.Classify(dec(tt.actual), &limit); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.actual, got, tt.want)
		}
	}

	if got := p.Classify(dec("100"), nil); got != StatusWithinBudget {
		t.Errorf("Classify without limit = %s, want %s", got, StatusWithinBudget)
	}
}

func TestPolicyNormalized(t *testing.T) {
	tests := []struct {
		name       string
		in         Policy
		wantMargin float64
		wantWarn   float64
	}{
		{"zero value", Policy{}, 0.95, 0.80},
		{"margin at or above one rejected", Policy{SafetyMargin: 1.0, WarnRatio: 0.5}, 0.95, 0.5},
		{"warn above margin rejected", Policy{SafetyMargin: 0.9, WarnRatio: 0.95}, 0.9, 0.80},
		{"valid passes through", Policy{SafetyMargin: 0.85, WarnRatio: 0.6}, 0.85, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.normalized()
			if got.SafetyMargin != tt.wantMargin || got.WarnRatio != tt.wantWarn {
				t.Errorf("normalized() = %+v, want margin %v warn %v", got, tt.wantMargin, tt.wantWarn)
			}
		})
	}
}
