package core

// StatsState is the derived-counters partition. Counters feed the metrics
// exporter and the invariant checks; nothing else reads them.
type StatsState struct {
	ActionCounts map[ActionKind]uint64 `json:"action_counts"`

	DroppedActions uint64 `json:"dropped_actions"`

	BlocksApplied  uint64 `json:"blocks_applied"`
	BlocksRejected uint64 `json:"blocks_rejected"`

	SyncTargetUpdates uint64 `json:"sync_target_updates"`
	SyncRestarts      uint64 `json:"sync_restarts"`
	SyncFetchStalls   uint64 `json:"sync_fetch_stalls"`
	SyncsCompleted    uint64 `json:"syncs_completed"`

	RpcHeartbeats          uint64 `json:"rpc_heartbeats"`
	RpcTimeouts            uint64 `json:"rpc_timeouts"`
	RpcUnexpectedResponses uint64 `json:"rpc_unexpected_responses"`

	GossipDuplicates uint64 `json:"gossip_duplicates"`
	GossipMalformed  uint64 `json:"gossip_malformed"`

	SignalDecryptFailures uint64 `json:"signal_decrypt_failures"`

	LedgerWriteErrors     uint64 `json:"ledger_write_errors"`
	LedgerWriteViolations uint64 `json:"ledger_write_violations"`

	SlotsDiscarded uint64 `json:"slots_discarded"`

	RngDraws     uint64 `json:"rng_draws"`
	LastRngValue uint64 `json:"last_rng_value"`
}

func newStatsState() StatsState {
	return StatsState{ActionCounts: make(map[ActionKind]uint64)}
}

// record tallies one applied action.
func (st *StatsState) record(meta ActionMeta) {
	if st.ActionCounts == nil {
		st.ActionCounts = make(map[ActionKind]uint64)
	}
	st.ActionCounts[meta.Kind]++
}
