package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// The replayer re-executes a recording: it dispatches the recorded input
// actions against a fresh store and asserts that every effect the reducer
// re-derives matches the recorded one in kind and time. Any divergence is
// fatal and names the exact step.

// ReplayReport is the successful outcome.
type ReplayReport struct {
	InputActions   uint64    `json:"input_actions"`
	TotalActions   uint64    `json:"total_actions"`
	FinalStateHash StateHash `json:"final_state_hash"`
}

// Replayer drives one recording directory.
type Replayer struct {
	dir    string
	logger *logrus.Logger
	// ForceBuildEnv skips the build descriptor comparison; the interactive
	// CLI sets it after prompting.
	ForceBuildEnv bool
}

// NewReplayer points at a recording directory.
func NewReplayer(dir string, lg *logrus.Logger) *Replayer {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Replayer{dir: dir, logger: lg}
}

// Run replays the whole log. Any divergence, build-env mismatch or
// unexpected effect returns an error identifying the step.
func (rp *Replayer) Run(current BuildEnv) (*ReplayReport, error) {
	head, err := LoadInitialState(rp.dir)
	if err != nil {
		return nil, err
	}
	if !head.BuildEnv.Matches(current) && !rp.ForceBuildEnv {
		return nil, fmt.Errorf("build env mismatch: recorded %+v, running %+v", head.BuildEnv, current)
	}
	records, err := LoadActionLog(rp.dir)
	if err != nil {
		return nil, err
	}
	summary, err := LoadFinalSummary(rp.dir)
	if err != nil {
		return nil, err
	}

	state := head.State
	state.Record.Mode = RecordModeReplaying
	clock := NewReplayClock(state.Clock.Time)

	// The expected queue holds every recorded effect, in order.
	var expected []ActionMeta
	for _, rec := range records {
		if _, isEffect := rec.Action.(EffectAction); isEffect {
			expected = append(expected, rec.Meta)
		}
	}
	cursor := 0

	store := NewStore(state, clock, nil, rp.logger)
	store.SetEffectObserver(func(a EffectAction, meta ActionMeta) error {
		if cursor >= len(expected) {
			return fmt.Errorf("replay diverged: unexpected effect %s at t=%d past the recorded log", meta.Kind, meta.Time)
		}
		want := expected[cursor]
		cursor++
		if want.Kind != meta.Kind || want.Time != meta.Time {
			return fmt.Errorf("replay diverged at effect %d: recorded %s t=%d, re-executed %s t=%d",
				cursor-1, want.Kind, want.Time, meta.Kind, meta.Time)
		}
		return nil
	})

	var inputs uint64
	for i, rec := range records {
		if _, isEffect := rec.Action.(EffectAction); isEffect || rec.Meta.Depth != 0 {
			continue
		}
		clock.Advance(rec.Meta.Time)
		store.Dispatch(rec.Action)
		if err := store.Err(); err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.Meta.Kind, err)
		}
		inputs++
	}
	if cursor != len(expected) {
		return nil, fmt.Errorf("replay diverged: %d recorded effects never re-executed (next: %s t=%d)",
			len(expected)-cursor, expected[cursor].Kind, expected[cursor].Time)
	}

	var total uint64
	var hash StateHash
	store.WithState(func(s *State) {
		total = s.AppliedActionsCount
		hash, err = s.Hash()
	})
	if err != nil {
		return nil, err
	}
	if total != uint64(len(records)) {
		return nil, fmt.Errorf("replay diverged: applied %d actions, log holds %d", total, len(records))
	}
	if summary != nil {
		if summary.FinalStateHash != hash {
			return nil, fmt.Errorf("replay diverged: final state hash %s, recorded %s", hash, summary.FinalStateHash)
		}
		if summary.ActionCount != total {
			return nil, fmt.Errorf("replay diverged: action count %d, recorded %d", total, summary.ActionCount)
		}
	}
	rp.logger.WithFields(logrus.Fields{
		"inputs": inputs,
		"total":  total,
		"hash":   hash.String(),
	}).Info("replay completed without divergence")
	return &ReplayReport{InputActions: inputs, TotalActions: total, FinalStateHash: hash}, nil
}
