package flow

import (
	"go.uber.org/zap"

	"github.com/sells-group/saveflow/internal/model"
)

// selectedOptionStay is the selected-option value that short-circuits the
// flow at any stage.
const selectedOptionStay = "stay"

// detectSave evaluates the save-detection rules for a response at a stage.
// The explicit stay decision is checked first and wins at any stage; the
// stage-specific acceptance signals follow. Returns ("", false) when the
// customer has not been saved.
func detectSave(stage model.Stage, resp model.StageResponse, selectedOption string) (model.Outcome, bool) {
	if selectedOption == selectedOptionStay || (resp != nil && resp.Stayed()) {
		return staySaveOutcome(stage), true
	}

	switch r := resp.(type) {
	case model.Stage1Response:
		if stage == model.StagePatternInterrupt && r.ContinueJourney {
			return model.OutcomeSavedStage1, true
		}
	case model.Stage3Response:
		if stage == model.StageBranching && r.AcceptedIntervention {
			return model.OutcomeSavedStage3, true
		}
	case model.Stage4Response:
		if stage == model.StageNuclearOffer && r.AcceptedOffer {
			return model.OutcomeSavedStage4, true
		}
	case model.Stage5Response:
		if stage == model.StageLossVisualization && r.Reconsidered {
			return model.OutcomeSavedStage5, true
		}
	}

	return "", false
}

// staySaveOutcome maps a stay decision to the outcome attributing the save to
// the current stage. The exit survey and winback stages have no dedicated
// save outcome; those saves are attributed to stage 1 and logged so the
// mislabeled attribution is visible in operations.
func staySaveOutcome(stage model.Stage) model.Outcome {
	if o, ok := model.SavedStageOutcome(stage); ok {
		return o
	}
	zap.L().Warn("flow: stay decision at stage without dedicated save outcome, attributing to stage 1",
		zap.Int("stage", int(stage)),
	)
	return model.OutcomeSavedStage1
}
