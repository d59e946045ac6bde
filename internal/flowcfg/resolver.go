// Package flowcfg resolves and updates per-tenant save-flow configurations.
package flowcfg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saveflow/internal/model"
)

// ConfigStore abstracts the persistence the resolver needs.
type ConfigStore interface {
	GetFlowConfig(ctx context.Context, tenantID string) (*model.SaveFlowConfiguration, error)
	UpsertFlowConfig(ctx context.Context, cfg *model.SaveFlowConfiguration) error
}

// Resolver loads tenant configurations, falling back to system defaults, and
// centralizes partial-update merging so stage sibling fields are never
// clobbered at call sites.
type Resolver struct {
	store ConfigStore
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store ConfigStore) *Resolver {
	return &Resolver{store: store}
}

// Default returns the system default configuration: flow on, all seven stages
// enabled, baseline branch and offer parameters.
func Default(tenantID string) *model.SaveFlowConfiguration {
	return &model.SaveFlowConfiguration{
		TenantID: tenantID,
		Enabled:  true,
		PatternInterrupt: model.PatternInterruptConfig{
			Enabled:  true,
			Headline: "Before you go...",
			Message:  "You've been with us a while. Let's see if we can make this right.",
		},
		Diagnosis: model.DiagnosisConfig{
			Enabled:  true,
			Question: "What's the main reason you're cancelling?",
		},
		Branching: model.BranchingConfig{
			Enabled: true,
			Branches: map[model.ReasonCategory]model.Branch{
				model.ReasonTooExpensive:   {Intervention: "discount_offer", DiscountPercent: 20},
				model.ReasonWrongProduct:   {Intervention: "product_swap"},
				model.ReasonTooMuch:        {Intervention: "frequency_change"},
				model.ReasonShippingIssues: {Intervention: "shipping_credit"},
				model.ReasonNotUsing:       {Intervention: "pause_offer"},
				model.ReasonOther:          {Intervention: "general_offer", DiscountPercent: 10},
			},
		},
		NuclearOffer: model.NuclearOfferConfig{
			Enabled:         true,
			DiscountPercent: 50,
			DurationMonths:  3,
			OfferPause:      true,
			OfferDowngrade:  true,
		},
		LossVisualization: model.LossVisualizationConfig{
			Enabled:        true,
			ShowUsageStats: true,
			Message:        "Here's everything you'll lose access to.",
		},
		ExitSurvey: model.ExitSurveyConfig{
			Enabled:   true,
			Questions: []string{"What could we have done better?"},
		},
		Winback: model.WinbackConfig{
			Enabled: true,
			Steps: []model.WinbackStep{
				{DelayDays: 7, Channel: "email", Template: "winback_check_in"},
				{DelayDays: 30, Channel: "email", Template: "winback_offer"},
			},
		},
	}
}

// Resolve returns the tenant's stored configuration, or the system default
// when none exists. An unknown tenant is not an error; absence is a valid
// state mapped to defaults.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*model.SaveFlowConfiguration, error) {
	cfg, err := r.store.GetFlowConfig(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrapf(err, "flowcfg: resolve %s", tenantID)
	}
	if cfg == nil {
		return Default(tenantID), nil
	}
	return cfg, nil
}

// Update merges a partial patch onto the tenant's existing (or default)
// configuration and persists the result. Merging is per top-level key: a
// non-nil stage block in the patch replaces the stored block wholesale.
// Callers that want to change a single field within a stage should resolve,
// modify that stage's block, and pass the whole block back.
func (r *Resolver) Update(ctx context.Context, tenantID string, patch model.ConfigPatch) (*model.SaveFlowConfiguration, error) {
	cfg, err := r.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.PatternInterrupt != nil {
		cfg.PatternInterrupt = *patch.PatternInterrupt
	}
	if patch.Diagnosis != nil {
		cfg.Diagnosis = *patch.Diagnosis
	}
	if patch.Branching != nil {
		cfg.Branching = *patch.Branching
	}
	if patch.NuclearOffer != nil {
		cfg.NuclearOffer = *patch.NuclearOffer
	}
	if patch.LossVisualization != nil {
		cfg.LossVisualization = *patch.LossVisualization
	}
	if patch.Winback != nil {
		cfg.Winback = *patch.Winback
	}
	if patch.ExitSurvey != nil {
		cfg.ExitSurvey = *patch.ExitSurvey
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := r.store.UpsertFlowConfig(ctx, cfg); err != nil {
		return nil, eris.Wrapf(err, "flowcfg: update %s", tenantID)
	}

	zap.L().Info("flowcfg: configuration updated",
		zap.String("tenant_id", tenantID),
		zap.Bool("enabled", cfg.Enabled),
	)

	return cfg, nil
}
