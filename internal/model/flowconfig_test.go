package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaveFlowConfiguration_StageEnabled(t *testing.T) {
	cfg := &SaveFlowConfiguration{
		PatternInterrupt: PatternInterruptConfig{Enabled: true},
		Branching:        BranchingConfig{Enabled: true},
		Winback:          WinbackConfig{Enabled: true},
	}

	assert.True(t, cfg.StageEnabled(StagePatternInterrupt))
	assert.False(t, cfg.StageEnabled(StageDiagnosis))
	assert.True(t, cfg.StageEnabled(StageBranching))
	assert.False(t, cfg.StageEnabled(StageNuclearOffer))
	assert.True(t, cfg.StageEnabled(StageWinback))
	assert.False(t, cfg.StageEnabled(Stage(0)))
	assert.False(t, cfg.StageEnabled(Stage(8)))
}

func TestSaveFlowConfiguration_StageConfig(t *testing.T) {
	cfg := &SaveFlowConfiguration{
		NuclearOffer: NuclearOfferConfig{Enabled: true, DiscountPercent: 50, DurationMonths: 3},
	}

	got, ok := cfg.StageConfig(StageNuclearOffer).(NuclearOfferConfig)
	assert.True(t, ok)
	assert.Equal(t, 50.0, got.DiscountPercent)
	assert.Equal(t, 3, got.DurationMonths)

	assert.Nil(t, cfg.StageConfig(Stage(99)))
}
