package model

// StageResponse is the customer's answer at a stage. Each stage has its own
// payload type so save detection is an exhaustive type switch rather than
// property probing on a free-form map.
type StageResponse interface {
	// Stayed reports an explicit stay decision, which short-circuits the
	// flow at any stage.
	Stayed() bool
}

// Stage1Response answers the pattern-interrupt screen.
type Stage1Response struct {
	ContinueJourney bool `json:"continue_journey,omitempty"`
	StayDecision    bool `json:"stay_decision,omitempty"`
}

// Stage2Response answers the diagnosis question with a free-text reason.
type Stage2Response struct {
	Reason       string `json:"reason,omitempty"`
	StayDecision bool   `json:"stay_decision,omitempty"`
}

// Stage3Response answers the reason-specific branch intervention.
type Stage3Response struct {
	AcceptedIntervention bool   `json:"accepted_intervention,omitempty"`
	SelectedBranch       string `json:"selected_branch,omitempty"`
	StayDecision         bool   `json:"stay_decision,omitempty"`
}

// Stage4Response answers the nuclear offer.
type Stage4Response struct {
	AcceptedOffer bool           `json:"accepted_offer,omitempty"`
	Offer         map[string]any `json:"offer,omitempty"`
	StayDecision  bool           `json:"stay_decision,omitempty"`
}

// Stage5Response answers the loss visualization.
type Stage5Response struct {
	Reconsidered bool `json:"reconsidered,omitempty"`
	StayDecision bool `json:"stay_decision,omitempty"`
}

// Stage6Response carries exit survey answers.
type Stage6Response struct {
	Answers      map[string]string `json:"answers,omitempty"`
	StayDecision bool              `json:"stay_decision,omitempty"`
}

// Stage7Response records winback sequence opt-in.
type Stage7Response struct {
	OptIn        bool `json:"opt_in,omitempty"`
	StayDecision bool `json:"stay_decision,omitempty"`
}

func (r Stage1Response) Stayed() bool { return r.StayDecision }
func (r Stage2Response) Stayed() bool { return r.StayDecision }
func (r Stage3Response) Stayed() bool { return r.StayDecision }
func (r Stage4Response) Stayed() bool { return r.StayDecision }
func (r Stage5Response) Stayed() bool { return r.StayDecision }
func (r Stage6Response) Stayed() bool { return r.StayDecision }
func (r Stage7Response) Stayed() bool { return r.StayDecision }
