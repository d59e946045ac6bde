package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// DecodeStageResponse unmarshals a raw JSON payload into the response type
// for the given stage. Used by transport layers that receive responses as
// untyped JSON.
func DecodeStageResponse(stage Stage, raw json.RawMessage) (StageResponse, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var (
		resp StageResponse
		err  error
	)
	switch stage {
	case StagePatternInterrupt:
		var r Stage1Response
		err = json.Unmarshal(raw, &r)
		resp = r
	case StageDiagnosis:
		var r Stage2Response
		err = json.Unmarshal(raw, &r)
		resp = r
	case StageBranching:
		var r Stage3Response
		err = json.Unmarshal(raw, &r)
		resp = r
	case StageNuclearOffer:
		var r Stage4Response
		err = json.Unmarshal(raw, &r)
		resp = r
	case StageLossVisualization:
		var r Stage5Response
		err = json.Unmarshal(raw, &r)
		resp = r
	case StageExitSurvey:
		var r Stage6Response
		err = json.Unmarshal(raw, &r)
		resp = r
	case StageWinback:
		var r Stage7Response
		err = json.Unmarshal(raw, &r)
		resp = r
	default:
		return nil, eris.Errorf("model: no response type for stage %d", stage)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "model: decode stage %d response", stage)
	}
	return resp, nil
}
