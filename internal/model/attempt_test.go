package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutcome_Saved(t *testing.T) {
	tests := []struct {
		outcome Outcome
		saved   bool
	}{
		{OutcomeSavedStage1, true},
		{OutcomeSavedStage3, true},
		{OutcomeSavedStage5, true},
		{OutcomeSavedVoice, true},
		{OutcomeCancelled, false},
		{OutcomePaused, false},
		{OutcomeDowngraded, false},
		{Outcome(""), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.saved, tt.outcome.Saved(), "outcome %q", tt.outcome)
	}
}

func TestOutcome_SavedAtStage(t *testing.T) {
	stage, ok := OutcomeSavedStage4.SavedAtStage()
	assert.True(t, ok)
	assert.Equal(t, StageNuclearOffer, stage)

	_, ok = OutcomeSavedVoice.SavedAtStage()
	assert.False(t, ok)

	_, ok = OutcomeCancelled.SavedAtStage()
	assert.False(t, ok)
}

func TestSavedStageOutcome(t *testing.T) {
	for s := FirstStage; s <= StageLossVisualization; s++ {
		o, ok := SavedStageOutcome(s)
		assert.True(t, ok, "stage %d", s)
		got, _ := o.SavedAtStage()
		assert.Equal(t, s, got)
	}

	// Exit survey and winback have no direct save outcome.
	_, ok := SavedStageOutcome(StageExitSurvey)
	assert.False(t, ok)
	_, ok = SavedStageOutcome(StageWinback)
	assert.False(t, ok)
}

func TestSaveAttempt_Terminal(t *testing.T) {
	a := &SaveAttempt{}
	assert.False(t, a.Terminal())

	a.Outcome = OutcomeCancelled
	assert.True(t, a.Terminal())
}

func TestSaveAttempt_LastHistory(t *testing.T) {
	a := &SaveAttempt{}
	assert.Nil(t, a.LastHistory())

	now := time.Now().UTC()
	a.StageHistory = []StageHistoryEntry{
		{Stage: StagePatternInterrupt, EnteredAt: now},
		{Stage: StageDiagnosis, EnteredAt: now.Add(time.Minute)},
	}
	last := a.LastHistory()
	assert.Equal(t, StageDiagnosis, last.Stage)

	// The returned entry aliases the slice so the engine can stamp exits.
	last.SelectedOption = "continue"
	assert.Equal(t, "continue", a.StageHistory[1].SelectedOption)
}

func TestInterventionOutcome(t *testing.T) {
	assert.Equal(t, "SAVED", InterventionOutcome(OutcomeSavedStage2))
	assert.Equal(t, "SAVED", InterventionOutcome(OutcomeSavedVoice))
	assert.Equal(t, "CANCELLED", InterventionOutcome(OutcomeCancelled))
	assert.Equal(t, "DOWNGRADED", InterventionOutcome(OutcomeDowngraded))
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "pattern_interrupt", StagePatternInterrupt.String())
	assert.Equal(t, "winback", StageWinback.String())
	assert.Equal(t, "unknown", Stage(99).String())
}

func TestStages_Order(t *testing.T) {
	stages := Stages()
	assert.Len(t, stages, 7)
	for i, s := range stages {
		assert.Equal(t, Stage(i+1), s)
	}
}
