// Package flow implements the save-flow state machine: attempt initiation,
// stage progression, save detection, and completion.
package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/saveflow/internal/events"
	"github.com/sells-group/saveflow/internal/flowcfg"
	"github.com/sells-group/saveflow/internal/model"
	"github.com/sells-group/saveflow/internal/reason"
	"github.com/sells-group/saveflow/internal/store"
)

// RevenueEstimator derives the expected value preserved by a save. The
// interface exists so the formula can be swapped without touching the engine.
type RevenueEstimator interface {
	Estimate(ctx context.Context, tenantID, customerID string) (float64, error)
}

// Engine owns the attempt lifecycle. Each operation is a short synchronous
// unit of work; read-then-write sequences are serialized per key with a
// striped mutex, and concurrent duplicate initiations additionally collapse
// through singleflight. The storage layer's partial unique index backs the
// one-live-attempt-per-customer invariant.
type Engine struct {
	store     store.Store
	resolver  *flowcfg.Resolver
	estimator RevenueEstimator
	events    events.Sink

	locks     keyedMutex
	initGroup singleflight.Group
}

// NewEngine wires the engine's collaborators.
func NewEngine(st store.Store, resolver *flowcfg.Resolver, estimator RevenueEstimator, sink events.Sink) *Engine {
	return &Engine{
		store:     st,
		resolver:  resolver,
		estimator: estimator,
		events:    sink,
	}
}

// InitiateResult pairs the attempt with the configuration block for its
// current stage.
type InitiateResult struct {
	Attempt     *model.SaveAttempt `json:"attempt"`
	StageConfig any                `json:"stage_config"`
}

// ProgressResult is the outcome of one progression step. Completed is true
// when the step terminated the attempt (save or cancellation).
type ProgressResult struct {
	Attempt        *model.SaveAttempt   `json:"attempt"`
	StageConfig    any                  `json:"stage_config,omitempty"`
	ReasonCategory model.ReasonCategory `json:"reason_category,omitempty"`
	Completed      bool                 `json:"completed"`
}

// CompleteDetails carries optional attribution data for a completion.
type CompleteDetails struct {
	Intervention string         `json:"intervention,omitempty"`
	Offer        map[string]any `json:"offer,omitempty"`
}

// Initiate starts a save flow for a customer, or returns the existing live
// attempt unchanged: a second initiation is a no-op, not an error.
func (e *Engine) Initiate(ctx context.Context, tenantID, customerID, trigger string) (*InitiateResult, error) {
	cfg, err := e.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, eris.Wrapf(ErrFlowDisabled, "tenant %s", tenantID)
	}

	key := tenantID + "|" + customerID
	v, err, _ := e.initGroup.Do(key, func() (any, error) {
		return e.initiateLocked(ctx, key, cfg, tenantID, customerID, trigger)
	})
	if err != nil {
		return nil, err
	}
	return v.(*InitiateResult), nil
}

func (e *Engine) initiateLocked(ctx context.Context, key string, cfg *model.SaveFlowConfiguration, tenantID, customerID, trigger string) (*InitiateResult, error) {
	unlock := e.locks.lock(key)
	defer unlock()

	existing, err := e.store.FindNonTerminalAttempt(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &InitiateResult{Attempt: existing, StageConfig: cfg.StageConfig(existing.CurrentStage)}, nil
	}

	now := time.Now().UTC()
	attempt := &model.SaveAttempt{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		CustomerID:   customerID,
		FlowConfigID: cfg.ID,
		Trigger:      trigger,
		CurrentStage: model.FirstStage,
		StageHistory: []model.StageHistoryEntry{{Stage: model.FirstStage, EnteredAt: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	intervention := &model.Intervention{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		CustomerID: customerID,
		AttemptID:  attempt.ID,
		Kind:       model.InterventionKindSaveFlow,
		Status:     model.InterventionInProgress,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.CreateAttempt(ctx, attempt, intervention); err != nil {
		return nil, err
	}

	e.publish(ctx, events.FlowInitiated, map[string]any{
		"tenant_id":   tenantID,
		"customer_id": customerID,
		"attempt_id":  attempt.ID,
		"trigger":     trigger,
	})

	zap.L().Info("flow: attempt initiated",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", customerID),
		zap.String("attempt_id", attempt.ID),
		zap.String("trigger", trigger),
	)

	return &InitiateResult{Attempt: attempt, StageConfig: cfg.StageConfig(model.FirstStage)}, nil
}

// Progress records the customer's response at the current stage, detects a
// save, and either completes the attempt or advances it to the next enabled
// stage. An attempt that moves past the last stage completes as CANCELLED.
func (e *Engine) Progress(ctx context.Context, attemptID string, resp model.StageResponse, selectedOption string) (*ProgressResult, error) {
	unlock := e.locks.lock("attempt|" + attemptID)
	defer unlock()

	attempt, err := e.store.FindAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, eris.Wrapf(ErrNotFound, "attempt %s", attemptID)
	}
	if attempt.Terminal() {
		return nil, eris.Wrapf(ErrAlreadyCompleted, "attempt %s", attemptID)
	}
	if !attempt.CurrentStage.Valid() {
		return nil, eris.Wrapf(ErrInvalidStage, "attempt %s at stage %d", attemptID, attempt.CurrentStage)
	}

	cfg, err := e.resolver.Resolve(ctx, attempt.TenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if last := attempt.LastHistory(); last != nil {
		last.ExitedAt = &now
		last.Response = resp
		last.SelectedOption = selectedOption
		last.Outcome = selectedOption
	}

	if outcome, saved := detectSave(attempt.CurrentStage, resp, selectedOption); saved {
		details := CompleteDetails{}
		switch r := resp.(type) {
		case model.Stage3Response:
			details.Intervention = r.SelectedBranch
		case model.Stage4Response:
			details.Offer = r.Offer
		}
		completed, err := e.complete(ctx, attempt, outcome, details)
		if err != nil {
			return nil, err
		}
		return &ProgressResult{Attempt: completed, Completed: true}, nil
	}

	cancelReason := attempt.CancellationReason
	category := attempt.ReasonCategory
	if r, ok := resp.(model.Stage2Response); ok && attempt.CurrentStage == model.StageDiagnosis && r.Reason != "" {
		cancelReason = r.Reason
		category = reason.Categorize(r.Reason)
	}

	next := attempt.CurrentStage + 1
	for next <= model.LastStage && !cfg.StageEnabled(next) {
		next++
	}

	if next > model.LastStage {
		attempt.CancellationReason = cancelReason
		attempt.ReasonCategory = category
		completed, err := e.complete(ctx, attempt, model.OutcomeCancelled, CompleteDetails{})
		if err != nil {
			return nil, err
		}
		return &ProgressResult{Attempt: completed, ReasonCategory: category, Completed: true}, nil
	}

	attempt.StageHistory = append(attempt.StageHistory, model.StageHistoryEntry{Stage: next, EnteredAt: now})
	attempt.CurrentStage = next
	attempt.CancellationReason = cancelReason
	attempt.ReasonCategory = category

	err = e.store.UpdateAttemptProgress(ctx, attempt.ID, store.ProgressUpdate{
		CurrentStage:       next,
		StageHistory:       attempt.StageHistory,
		CancellationReason: cancelReason,
		ReasonCategory:     category,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("flow: attempt advanced",
		zap.String("attempt_id", attempt.ID),
		zap.Int("stage", int(next)),
	)

	return &ProgressResult{
		Attempt:        attempt,
		StageConfig:    cfg.StageConfig(next),
		ReasonCategory: category,
	}, nil
}

// Complete terminates an attempt with the given outcome. Re-completing a
// terminal attempt is rejected: the first recorded outcome is authoritative.
func (e *Engine) Complete(ctx context.Context, attemptID string, outcome model.Outcome, details CompleteDetails) (*model.SaveAttempt, error) {
	unlock := e.locks.lock("attempt|" + attemptID)
	defer unlock()

	attempt, err := e.store.FindAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, eris.Wrapf(ErrNotFound, "attempt %s", attemptID)
	}
	if attempt.Terminal() {
		return nil, eris.Wrapf(ErrAlreadyCompleted, "attempt %s", attemptID)
	}

	return e.complete(ctx, attempt, outcome, details)
}

// complete persists terminal state on a loaded, non-terminal attempt. The
// attempt row and its intervention row are written as one transaction by the
// store; the completion event is best-effort after commit.
func (e *Engine) complete(ctx context.Context, attempt *model.SaveAttempt, outcome model.Outcome, details CompleteDetails) (*model.SaveAttempt, error) {
	var revenue float64
	switch outcome {
	case model.OutcomeCancelled, model.OutcomePaused, model.OutcomeDowngraded:
		// No revenue preserved on a lost or deferred customer.
	default:
		var err error
		revenue, err = e.estimator.Estimate(ctx, attempt.TenantID, attempt.CustomerID)
		if err != nil {
			return nil, err
		}
	}

	savedBy := savedByLabel(outcome, details)
	now := time.Now().UTC()

	err := e.store.CompleteAttempt(ctx, attempt.ID, store.Completion{
		Outcome:             outcome,
		SavedBy:             savedBy,
		OfferAccepted:       details.Offer,
		RevenuePreserved:    revenue,
		CompletedAt:         now,
		StageHistory:        attempt.StageHistory,
		CancellationReason:  attempt.CancellationReason,
		ReasonCategory:      attempt.ReasonCategory,
		InterventionOutcome: model.InterventionOutcome(outcome),
	})
	if err != nil {
		return nil, err
	}

	attempt.Outcome = outcome
	attempt.SavedBy = savedBy
	attempt.OfferAccepted = details.Offer
	attempt.RevenuePreserved = revenue
	attempt.CompletedAt = &now
	attempt.UpdatedAt = now

	e.publish(ctx, events.FlowCompleted, map[string]any{
		"tenant_id":         attempt.TenantID,
		"customer_id":       attempt.CustomerID,
		"attempt_id":        attempt.ID,
		"outcome":           string(outcome),
		"revenue_preserved": revenue,
		"saved_by":          savedBy,
	})

	zap.L().Info("flow: attempt completed",
		zap.String("attempt_id", attempt.ID),
		zap.String("outcome", string(outcome)),
		zap.String("saved_by", savedBy),
		zap.Float64("revenue_preserved", revenue),
	)

	return attempt, nil
}

// savedByLabel attributes the outcome to what drove it.
func savedByLabel(outcome model.Outcome, details CompleteDetails) string {
	switch outcome {
	case model.OutcomeCancelled:
		return "not_saved"
	case model.OutcomePaused:
		return "pause_offer"
	case model.OutcomeDowngraded:
		return "downgrade_offer"
	case model.OutcomeSavedVoice:
		return "voice_ai"
	}

	intervention := details.Intervention
	if intervention == "" {
		intervention = "general"
	}
	if stage, ok := outcome.SavedAtStage(); ok {
		return fmt.Sprintf("stage_%d_%s", stage, intervention)
	}
	return intervention
}

// publish sends a domain event; failures are logged and never propagated
// because the attempt's durable state is already committed.
func (e *Engine) publish(ctx context.Context, name string, payload any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, name, payload); err != nil {
		zap.L().Warn("flow: event publish failed",
			zap.String("event", name),
			zap.Error(err),
		)
	}
}
