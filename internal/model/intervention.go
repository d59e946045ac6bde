package model

import "time"

// InterventionStatus is the coarse lifecycle of an intervention record.
type InterventionStatus string

const (
	InterventionPending    InterventionStatus = "PENDING"
	InterventionInProgress InterventionStatus = "IN_PROGRESS"
	InterventionCompleted  InterventionStatus = "COMPLETED"
	InterventionFailed     InterventionStatus = "FAILED"
)

// InterventionKindSaveFlow tags interventions created by the save-flow
// engine; downstream reporting spans other engagement kinds as well.
const InterventionKindSaveFlow = "save_flow"

// Intervention mirrors a save attempt at a coarser granularity for reporting
// that spans multiple engagement types.
type Intervention struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenant_id"`
	CustomerID    string             `json:"customer_id"`
	AttemptID     string             `json:"attempt_id"`
	Kind          string             `json:"kind"`
	Status        InterventionStatus `json:"status"`
	Outcome       string             `json:"outcome,omitempty"`
	RevenueImpact float64            `json:"revenue_impact,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// InterventionOutcome maps an attempt outcome onto the generic intervention
// vocabulary: every SAVED_* variant collapses to SAVED, everything else
// passes through unchanged.
func InterventionOutcome(o Outcome) string {
	if o.Saved() {
		return "SAVED"
	}
	return string(o)
}

// Subscription is the active-subscription view consumed by the revenue
// estimator.
type Subscription struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	CustomerID   string    `json:"customer_id"`
	Status       string    `json:"status"`
	MonthlyValue float64   `json:"monthly_value"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubscriptionActive is the status the estimator looks for.
const SubscriptionActive = "active"
