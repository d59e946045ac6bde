// Package store provides persistence for save attempts, flow configurations,
// interventions, and subscriptions, with Postgres, SQLite, and in-memory
// backends.
package store

import (
	"context"
	"time"

	"github.com/sells-group/saveflow/internal/model"
)

// AttemptFilter specifies criteria for querying attempts.
type AttemptFilter struct {
	TenantID   string        `json:"tenant_id,omitempty"`
	CustomerID string        `json:"customer_id,omitempty"`
	Outcome    model.Outcome `json:"outcome,omitempty"`
	Since      time.Time     `json:"since,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// ProgressUpdate carries the fields persisted when an attempt advances a
// stage. StageHistory is the full history including the stamped exit on the
// previous entry and the appended entry for the new stage.
type ProgressUpdate struct {
	CurrentStage       model.Stage
	StageHistory       []model.StageHistoryEntry
	CancellationReason string
	ReasonCategory     model.ReasonCategory
}

// Completion carries the terminal fields persisted when an attempt completes.
// The attempt row and its paired intervention row are updated as one logical
// unit; a backend must not commit one without the other.
type Completion struct {
	Outcome          model.Outcome
	SavedBy          string
	OfferAccepted    map[string]any
	RevenuePreserved float64
	CompletedAt      time.Time
	StageHistory     []model.StageHistoryEntry

	// Cancellation diagnosis staged during the same progression step, if any.
	CancellationReason string
	ReasonCategory     model.ReasonCategory

	// InterventionOutcome is the generic vocabulary value mirrored onto the
	// paired intervention record.
	InterventionOutcome string
}

// Store is the persistence interface for the save-flow engine. Find methods
// return (nil, nil) when the entity does not exist; absence is a valid state.
type Store interface {
	// Attempts. CreateAttempt persists the attempt and its paired
	// intervention record together.
	CreateAttempt(ctx context.Context, a *model.SaveAttempt, iv *model.Intervention) error
	FindAttempt(ctx context.Context, id string) (*model.SaveAttempt, error)
	FindNonTerminalAttempt(ctx context.Context, tenantID, customerID string) (*model.SaveAttempt, error)
	UpdateAttemptProgress(ctx context.Context, id string, upd ProgressUpdate) error
	CompleteAttempt(ctx context.Context, id string, c Completion) error
	QueryAttempts(ctx context.Context, filter AttemptFilter) ([]model.SaveAttempt, error)

	// Flow configuration.
	GetFlowConfig(ctx context.Context, tenantID string) (*model.SaveFlowConfiguration, error)
	UpsertFlowConfig(ctx context.Context, cfg *model.SaveFlowConfiguration) error

	// Interventions.
	ListOpenInterventions(ctx context.Context) ([]model.Intervention, error)
	CompleteIntervention(ctx context.Context, attemptID, outcome string, revenueImpact float64) error

	// Subscriptions.
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	FindActiveSubscription(ctx context.Context, tenantID, customerID string) (*model.Subscription, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
