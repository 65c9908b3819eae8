package core

import (
	"encoding/json"
	"fmt"
)

// State is the single tree every reducer operates on. The store owns it
// exclusively; services keep only rebuildable things (sockets, caches) and
// never anything reducer correctness depends on.
type State struct {
	Config *Config    `json:"config"`
	Clock  ClockState `json:"clock"`

	P2p                P2pState                `json:"p2p"`
	TransitionFrontier TransitionFrontierState `json:"transition_frontier"`
	SnarkPool          SnarkPoolState          `json:"snark_pool"`
	BlockProducer      BlockProducerState      `json:"block_producer"`
	LedgerWrite        LedgerWriteState        `json:"ledger_write"`
	WatchedAccounts    WatchedAccountsState    `json:"watched_accounts"`
	Rpc                RpcState                `json:"rpc"`
	Record             RecordState             `json:"record"`
	Stats              StatsState              `json:"stats"`

	LastAction          ActionKind `json:"last_action"`
	AppliedActionsCount uint64     `json:"applied_actions_count"`
}

// RecordMode selects the recorder/replayer behaviour.
type RecordMode string

const (
	RecordModeNone      RecordMode = "none"
	RecordModeRecording RecordMode = "recording"
	RecordModeReplaying RecordMode = "replaying"
)

// RecordState is the recorder partition. The expected-actions queue of a
// replay lives in the replayer service, not here: it is derived from the
// log, not part of node state.
type RecordState struct {
	Mode RecordMode `json:"mode"`
	Path string     `json:"path,omitempty"`
}

// NewState builds the initial tree from an immutable config.
func NewState(cfg *Config) *State {
	s := &State{Config: cfg}
	s.P2p = newP2pState(cfg)
	s.TransitionFrontier = newTransitionFrontierState(cfg)
	s.SnarkPool = newSnarkPoolState()
	s.BlockProducer = newBlockProducerState(cfg)
	s.LedgerWrite = newLedgerWriteState()
	s.WatchedAccounts = newWatchedAccountsState(cfg)
	s.Rpc = newRpcState()
	s.Record = RecordState{Mode: RecordModeNone}
	if cfg.RecordDir != "" {
		s.Record = RecordState{Mode: RecordModeRecording, Path: cfg.RecordDir}
	}
	s.Stats = newStatsState()
	return s
}

// Hash digests the canonical JSON encoding of the tree. Replay compares it
// against the recorded final hash; struct field order makes the encoding
// canonical as long as the schema is fixed, which the closed action set
// already guarantees. The recorder partition is normalized out: whether a
// run was recorded or replayed is not part of its semantics.
func (s *State) Hash() (StateHash, error) {
	tmp := *s
	tmp.Record = RecordState{}
	raw, err := json.Marshal(&tmp)
	if err != nil {
		return StateHash{}, fmt.Errorf("hash state: %w", err)
	}
	return HashBytes(raw), nil
}

// Clone deep-copies the tree via its JSON codec.
func (s *State) Clone() (*State, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var out State
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	return &out, nil
}
