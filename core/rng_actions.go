package core

// Randomness crosses the reducer boundary as actions: the reducer asks via
// RngEffectDraw and the service answers with RngDrawResult, consuming
// exactly one draw. Replays re-dispatch the recorded RngDrawResult actions
// and therefore deliver the same values at the same steps.

// RngAction tags randomness transitions.
type RngAction interface {
	Action
	isRngAction()
}

type rngTag struct{}

func (rngTag) isRngAction() {}

const (
	KindRngDrawResult ActionKind = "RngDrawResult"
	KindRngEffectDraw ActionKind = "RngEffectDraw"
)

func init() {
	registerAction(KindRngDrawResult, func() Action { return &RngDrawResult{} })
	registerAction(KindRngEffectDraw, func() Action { return &RngEffectDraw{} })
}

// RngEffectDraw requests one draw for a named purpose.
type RngEffectDraw struct {
	rngTag
	Effect
	Purpose RngPurpose `json:"purpose"`
}

func (*RngEffectDraw) Kind() ActionKind                      { return KindRngEffectDraw }
func (a *RngEffectDraw) Enabled(s *State, now Timestamp) bool { return true }

// RngDrawResult delivers the value back to the reducer.
type RngDrawResult struct {
	rngTag
	Purpose RngPurpose `json:"purpose"`
	Value   uint64     `json:"value"`
}

func (*RngDrawResult) Kind() ActionKind                      { return KindRngDrawResult }
func (a *RngDrawResult) Enabled(s *State, now Timestamp) bool { return true }

func reduceRng(s *State, a RngAction, now Timestamp, emit Emitter) {
	if act, ok := a.(*RngDrawResult); ok {
		s.Stats.RngDraws++
		s.Stats.LastRngValue = act.Value
	}
}
