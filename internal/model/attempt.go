package model

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the terminal result of a save attempt. It is nil-equivalent
// (empty) while the attempt is in progress.
type Outcome string

const (
	OutcomeSavedStage1 Outcome = "SAVED_STAGE_1"
	OutcomeSavedStage2 Outcome = "SAVED_STAGE_2"
	OutcomeSavedStage3 Outcome = "SAVED_STAGE_3"
	OutcomeSavedStage4 Outcome = "SAVED_STAGE_4"
	OutcomeSavedStage5 Outcome = "SAVED_STAGE_5"
	OutcomeSavedVoice  Outcome = "SAVED_VOICE"
	OutcomeCancelled   Outcome = "CANCELLED"
	OutcomePaused      Outcome = "PAUSED"
	OutcomeDowngraded  Outcome = "DOWNGRADED"
)

// Saved reports whether the outcome retained the customer.
func (o Outcome) Saved() bool {
	return strings.HasPrefix(string(o), "SAVED")
}

// SavedAtStage returns the stage a SAVED_STAGE_n outcome attributes the save
// to, or (0, false) for any other outcome.
func (o Outcome) SavedAtStage() (Stage, bool) {
	var n int
	if _, err := fmt.Sscanf(string(o), "SAVED_STAGE_%d", &n); err != nil {
		return 0, false
	}
	s := Stage(n)
	if !s.Valid() {
		return 0, false
	}
	return s, true
}

// SavedStageOutcome returns the outcome attributing a save to the given
// stage, or ("", false) when no direct mapping exists (stages 6 and 7).
func SavedStageOutcome(s Stage) (Outcome, bool) {
	switch s {
	case StagePatternInterrupt:
		return OutcomeSavedStage1, true
	case StageDiagnosis:
		return OutcomeSavedStage2, true
	case StageBranching:
		return OutcomeSavedStage3, true
	case StageNuclearOffer:
		return OutcomeSavedStage4, true
	case StageLossVisualization:
		return OutcomeSavedStage5, true
	default:
		return "", false
	}
}

// ReasonCategory is one of six fixed buckets a free-text cancellation reason
// is classified into.
type ReasonCategory string

const (
	ReasonTooExpensive   ReasonCategory = "too_expensive"
	ReasonWrongProduct   ReasonCategory = "wrong_product"
	ReasonTooMuch        ReasonCategory = "too_much"
	ReasonShippingIssues ReasonCategory = "shipping_issues"
	ReasonNotUsing       ReasonCategory = "not_using"
	ReasonOther          ReasonCategory = "other"
)

// StageHistoryEntry records one visit to a stage. The history is append-only;
// entries are stamped with exit data when the customer responds.
type StageHistoryEntry struct {
	Stage          Stage      `json:"stage"`
	EnteredAt      time.Time  `json:"entered_at"`
	ExitedAt       *time.Time `json:"exited_at,omitempty"`
	Response       any        `json:"response,omitempty"`
	SelectedOption string     `json:"selected_option,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
}

// SaveAttempt is one customer's traversal of the save flow, from trigger to
// terminal outcome. Once Outcome is set the attempt is terminal and immutable;
// it is never deleted and serves as the audit trail for analytics.
type SaveAttempt struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	CustomerID   string `json:"customer_id"`
	FlowConfigID string `json:"flow_config_id"`
	Trigger      string `json:"trigger,omitempty"`

	CurrentStage Stage               `json:"current_stage"`
	StageHistory []StageHistoryEntry `json:"stage_history"`

	CancellationReason string         `json:"cancellation_reason,omitempty"`
	ReasonCategory     ReasonCategory `json:"reason_category,omitempty"`

	Outcome          Outcome        `json:"outcome,omitempty"`
	SavedBy          string         `json:"saved_by,omitempty"`
	OfferAccepted    map[string]any `json:"offer_accepted,omitempty"`
	RevenuePreserved float64        `json:"revenue_preserved,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the attempt has reached a terminal outcome.
func (a *SaveAttempt) Terminal() bool {
	return a.Outcome != ""
}

// LastHistory returns the most recent history entry, or nil for an attempt
// with no history (which the engine never produces).
func (a *SaveAttempt) LastHistory() *StageHistoryEntry {
	if len(a.StageHistory) == 0 {
		return nil
	}
	return &a.StageHistory[len(a.StageHistory)-1]
}
