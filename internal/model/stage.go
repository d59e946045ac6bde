// Package model defines the domain types for the retention save-flow engine.
package model

// Stage identifies one step of the seven-stage retention cascade. Stage
// numbers are immutable identifiers: disabling a stage skips it, it is never
// renumbered.
type Stage int

const (
	StagePatternInterrupt  Stage = 1
	StageDiagnosis         Stage = 2
	StageBranching         Stage = 3
	StageNuclearOffer      Stage = 4
	StageLossVisualization Stage = 5
	StageExitSurvey        Stage = 6
	StageWinback           Stage = 7
)

// FirstStage and LastStage bound the cascade.
const (
	FirstStage Stage = StagePatternInterrupt
	LastStage  Stage = StageWinback
)

var stageNames = map[Stage]string{
	StagePatternInterrupt:  "pattern_interrupt",
	StageDiagnosis:         "diagnosis",
	StageBranching:         "branching",
	StageNuclearOffer:      "nuclear_offer",
	StageLossVisualization: "loss_visualization",
	StageExitSurvey:        "exit_survey",
	StageWinback:           "winback",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the stage number falls inside the cascade.
func (s Stage) Valid() bool {
	return s >= FirstStage && s <= LastStage
}

// Stages returns all seven stages in cascade order.
func Stages() []Stage {
	out := make([]Stage, 0, int(LastStage))
	for s := FirstStage; s <= LastStage; s++ {
		out = append(out, s)
	}
	return out
}
