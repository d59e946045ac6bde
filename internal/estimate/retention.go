// Package estimate derives the expected value preserved by a successful save.
package estimate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/saveflow/internal/model"
)

// assumedTenureMonths is the average remaining tenure assumed for a retained
// customer. The estimate is deliberately coarse (monthly value times a flat
// tenure) rather than a cohort-based LTV model; swap the Estimator
// implementation to refine it without touching the state machine.
const assumedTenureMonths = 12

// SubscriptionFinder looks up a customer's active subscription. Returns
// (nil, nil) when none exists. The store satisfies it.
type SubscriptionFinder interface {
	FindActiveSubscription(ctx context.Context, tenantID, customerID string) (*model.Subscription, error)
}

// RetentionEstimator computes revenue preserved from active-subscription data.
type RetentionEstimator struct {
	subs SubscriptionFinder
}

// NewRetentionEstimator creates an estimator over the given subscription
// source. Returns nil if subs is nil.
func NewRetentionEstimator(subs SubscriptionFinder) *RetentionEstimator {
	if subs == nil {
		return nil
	}
	return &RetentionEstimator{subs: subs}
}

// Estimate returns monthlyValue × assumed tenure for the customer's active
// subscription, or 0 when no active subscription exists.
func (e *RetentionEstimator) Estimate(ctx context.Context, tenantID, customerID string) (float64, error) {
	sub, err := e.subs.FindActiveSubscription(ctx, tenantID, customerID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, nil
	}

	preserved := sub.MonthlyValue * assumedTenureMonths

	zap.L().Debug("estimate: revenue preserved computed",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.Float64("monthly_value", sub.MonthlyValue),
		zap.Float64("revenue_preserved", preserved),
	)

	return preserved, nil
}

// FormatRevenue formats a revenue amount in human-readable form.
func FormatRevenue(amount float64) string {
	switch {
	case amount >= 1_000_000:
		return fmt.Sprintf("$%.1fM", amount/1_000_000)
	case amount >= 1_000:
		return fmt.Sprintf("$%.1fK", amount/1_000)
	default:
		return fmt.Sprintf("$%.2f", amount)
	}
}
