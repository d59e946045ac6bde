package model

import "time"

// SaveFlowConfiguration holds one tenant's save-flow setup: a master switch
// plus one config block per stage. Stage blocks carry their own enabled flag;
// a disabled stage is skipped during progression but keeps its number.
type SaveFlowConfiguration struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`

	PatternInterrupt  PatternInterruptConfig  `json:"pattern_interrupt" yaml:"pattern_interrupt"`
	Diagnosis         DiagnosisConfig         `json:"diagnosis" yaml:"diagnosis"`
	Branching         BranchingConfig         `json:"branching" yaml:"branching"`
	NuclearOffer      NuclearOfferConfig      `json:"nuclear_offer" yaml:"nuclear_offer"`
	LossVisualization LossVisualizationConfig `json:"loss_visualization" yaml:"loss_visualization"`
	ExitSurvey        ExitSurveyConfig        `json:"exit_survey" yaml:"exit_survey"`
	Winback           WinbackConfig           `json:"winback" yaml:"winback"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// PatternInterruptConfig configures stage 1: the initial interrupt screen.
type PatternInterruptConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Headline string `json:"headline" yaml:"headline"`
	Message  string `json:"message" yaml:"message"`
}

// DiagnosisConfig configures stage 2: the "why are you leaving" question.
type DiagnosisConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Question string   `json:"question" yaml:"question"`
	Options  []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Branch is one configured intervention path, selected by reason category.
type Branch struct {
	Intervention    string  `json:"intervention" yaml:"intervention"`
	Message         string  `json:"message,omitempty" yaml:"message,omitempty"`
	DiscountPercent float64 `json:"discount_percent,omitempty" yaml:"discount_percent,omitempty"`
}

// BranchingConfig configures stage 3: reason-specific interventions.
type BranchingConfig struct {
	Enabled  bool                      `json:"enabled" yaml:"enabled"`
	Branches map[ReasonCategory]Branch `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// NuclearOfferConfig configures stage 4: the best-and-final offer.
type NuclearOfferConfig struct {
	Enabled         bool    `json:"enabled" yaml:"enabled"`
	DiscountPercent float64 `json:"discount_percent" yaml:"discount_percent"`
	DurationMonths  int     `json:"duration_months" yaml:"duration_months"`
	OfferPause      bool    `json:"offer_pause" yaml:"offer_pause"`
	OfferDowngrade  bool    `json:"offer_downgrade" yaml:"offer_downgrade"`
}

// LossVisualizationConfig configures stage 5: what the customer gives up.
type LossVisualizationConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	ShowUsageStats bool   `json:"show_usage_stats" yaml:"show_usage_stats"`
	Message        string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ExitSurveyConfig configures stage 6: the final feedback survey.
type ExitSurveyConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Questions []string `json:"questions,omitempty" yaml:"questions,omitempty"`
}

// WinbackStep is one step of the post-cancellation winback sequence.
type WinbackStep struct {
	DelayDays int    `json:"delay_days" yaml:"delay_days"`
	Channel   string `json:"channel" yaml:"channel"`
	Template  string `json:"template" yaml:"template"`
}

// WinbackConfig configures stage 7: the winback sequence.
type WinbackConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Steps   []WinbackStep `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// StageEnabled reports whether the given stage is active in this
// configuration. Unknown stages are disabled.
func (c *SaveFlowConfiguration) StageEnabled(s Stage) bool {
	switch s {
	case StagePatternInterrupt:
		return c.PatternInterrupt.Enabled
	case StageDiagnosis:
		return c.Diagnosis.Enabled
	case StageBranching:
		return c.Branching.Enabled
	case StageNuclearOffer:
		return c.NuclearOffer.Enabled
	case StageLossVisualization:
		return c.LossVisualization.Enabled
	case StageExitSurvey:
		return c.ExitSurvey.Enabled
	case StageWinback:
		return c.Winback.Enabled
	default:
		return false
	}
}

// StageConfig returns the configuration block for the given stage for
// presentation to the caller alongside the attempt.
func (c *SaveFlowConfiguration) StageConfig(s Stage) any {
	switch s {
	case StagePatternInterrupt:
		return c.PatternInterrupt
	case StageDiagnosis:
		return c.Diagnosis
	case StageBranching:
		return c.Branching
	case StageNuclearOffer:
		return c.NuclearOffer
	case StageLossVisualization:
		return c.LossVisualization
	case StageExitSurvey:
		return c.ExitSurvey
	case StageWinback:
		return c.Winback
	default:
		return nil
	}
}

// ConfigPatch is a partial update to a tenant's configuration. Nil fields are
// left untouched; non-nil stage blocks replace the stored block wholesale.
type ConfigPatch struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	PatternInterrupt  *PatternInterruptConfig  `json:"pattern_interrupt,omitempty" yaml:"pattern_interrupt,omitempty"`
	Diagnosis         *DiagnosisConfig         `json:"diagnosis,omitempty" yaml:"diagnosis,omitempty"`
	Branching         *BranchingConfig         `json:"branching,omitempty" yaml:"branching,omitempty"`
	NuclearOffer      *NuclearOfferConfig      `json:"nuclear_offer,omitempty" yaml:"nuclear_offer,omitempty"`
	LossVisualization *LossVisualizationConfig `json:"loss_visualization,omitempty" yaml:"loss_visualization,omitempty"`
	ExitSurvey        *ExitSurveyConfig        `json:"exit_survey,omitempty" yaml:"exit_survey,omitempty"`
	Winback           *WinbackConfig           `json:"winback,omitempty" yaml:"winback,omitempty"`
}
