package core

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// EffectRouter hands effect actions to whichever service executes them. The
// node wires the real services; tests plug in recorders of their own.
type EffectRouter interface {
	Route(a EffectAction, meta ActionMeta)
}

// EffectObserver is consulted before an effect action reaches its service.
// The replayer uses it to assert the effect against the expected queue; a
// returned error is fatal to the store.
type EffectObserver func(a EffectAction, meta ActionMeta) error

// EffectHook is an optional re-entrant hook on effect dispatch. It is nil
// unless installed with SetEffectHook; nothing in the module installs one.
type EffectHook func(a EffectAction, meta ActionMeta, dispatch func(Action))

// Store owns the state tree and runs the dispatch contract: gate, record,
// reduce, route. Effects enqueue onto a FIFO drained iteratively, so effect
// fan-out is bounded by the queue and never by the call stack.
type Store struct {
	mu       sync.Mutex
	state    *State
	clock    ClockService
	router   EffectRouter
	recorder *Recorder
	observer EffectObserver
	hook     EffectHook
	logger   *logrus.Logger

	pending  []pendingAction
	draining bool
	failure  error
}

type pendingAction struct {
	action Action
	depth  int
}

// NewStore wires a store over a freshly built or deserialized state.
func NewStore(state *State, clock ClockService, router EffectRouter, lg *logrus.Logger) *Store {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Store{state: state, clock: clock, router: router, logger: lg}
}

// SetRecorder attaches the action-log recorder.
func (st *Store) SetRecorder(r *Recorder) { st.recorder = r }

// SetEffectObserver attaches the replay assertion hook.
func (st *Store) SetEffectObserver(obs EffectObserver) { st.observer = obs }

// SetEffectHook installs the test-only re-entrant effect hook.
func (st *Store) SetEffectHook(h EffectHook) { st.hook = h }

// Err reports the first fatal failure (invariant violation or replay
// divergence), if any.
func (st *Store) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.failure
}

// WithState runs fn under the store lock for read access. RPC handlers that
// answer synchronously from state use this.
func (st *Store) WithState(fn func(s *State)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st.state)
}

// Dispatch feeds one input action through the contract. It returns false if
// the action's enabling predicate rejected it. Re-entrant dispatches (a
// service reacting inline to a routed effect) enqueue behind the current
// drain instead of recursing.
func (st *Store) Dispatch(a Action) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.failure != nil {
		return false
	}
	if st.draining {
		st.pending = append(st.pending, pendingAction{action: a, depth: 0})
		return true
	}
	return st.drainFrom(a)
}

// drainFrom applies the given action and then every effect it fans out,
// strictly FIFO. The whole drain shares one timestamp: effects re-executed
// on replay then carry times identical to the recording. Caller holds the
// lock.
func (st *Store) drainFrom(root Action) bool {
	st.draining = true
	defer func() {
		st.draining = false
		st.pending = st.pending[:0]
	}()

	now := st.clock.Now()
	applied := st.applyOne(root, 0, now)
	for i := 0; i < len(st.pending); i++ {
		if st.failure != nil {
			return applied
		}
		p := st.pending[i]
		st.applyOne(p.action, p.depth, now)
	}
	return applied
}

func (st *Store) applyOne(a Action, depth int, now Timestamp) bool {
	if !a.Enabled(st.state, now) {
		st.state.Stats.DroppedActions++
		return false
	}
	meta := ActionMeta{Kind: a.Kind(), Time: now, Depth: depth}

	if st.recorder != nil && st.state.Record.Mode == RecordModeRecording {
		if err := st.recorder.RecordAction(ActionWithMeta{Meta: meta, Action: a}); err != nil {
			st.fail(fmt.Errorf("record action %s: %w", meta.Kind, err))
			return false
		}
	}

	st.state.Clock.Time = now
	emit := func(next Action) {
		st.pending = append(st.pending, pendingAction{action: next, depth: depth + 1})
	}
	reduce(st.state, a, now, emit)

	st.state.LastAction = meta.Kind
	st.state.AppliedActionsCount++
	st.state.Stats.record(meta)

	if err := checkInvariants(st.state, meta); err != nil {
		st.fail(err)
		return false
	}

	if eff, ok := a.(EffectAction); ok {
		if st.observer != nil {
			if err := st.observer(eff, meta); err != nil {
				st.fail(err)
				return false
			}
		}
		if st.hook != nil {
			st.hook(eff, meta, func(next Action) {
				st.pending = append(st.pending, pendingAction{action: next, depth: depth + 1})
			})
		}
		if st.router != nil {
			st.router.Route(eff, meta)
		}
	}
	return true
}

func (st *Store) fail(err error) {
	st.failure = err
	st.logger.WithFields(logrus.Fields{
		"last_action": st.state.LastAction,
		"applied":     st.state.AppliedActionsCount,
	}).WithError(err).Error("store entered fatal state")
}
