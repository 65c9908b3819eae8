package core

import (
	"encoding/json"
	"testing"
)

func TestRpcIdsAreMonotonic(t *testing.T) {
	store, state, _, _ := testStore(nil)
	store.Dispatch(&RpcRequestReceived{Kind_: RpcKindStateSnapshot})
	store.Dispatch(&RpcRequestReceived{Kind_: RpcKindSyncStatus})
	if state.Rpc.LastAddedReqID != 2 || state.Rpc.NextID != 3 {
		t.Fatalf("ids = last %d next %d", state.Rpc.LastAddedReqID, state.Rpc.NextID)
	}
	// Settled requests never return their id to the pool.
	store.Dispatch(&RpcRequestReceived{Kind_: RpcKindStateSnapshot})
	if state.Rpc.LastAddedReqID != 3 {
		t.Fatalf("id reused: %d", state.Rpc.LastAddedReqID)
	}
}

func TestRpcSnapshotAnsweredAndFinished(t *testing.T) {
	store, state, _, log := testStore(nil)
	store.Dispatch(&RpcRequestReceived{Kind_: RpcKindStateSnapshot})
	if log.count(KindRpcEffectRespond) != 1 {
		t.Fatal("snapshot not answered")
	}
	if len(state.Rpc.Pending) != 0 {
		t.Fatal("settled request still pending")
	}
}

func TestRpcTableFullBackpressure(t *testing.T) {
	store, state, _, _ := testStore(nil)
	for i := RpcId(0); i < maxPendingRpcs; i++ {
		state.Rpc.Pending[1000+i] = &PendingRpc{ID: 1000 + i, Kind: RpcKindSyncStatus}
	}
	before := state.AppliedActionsCount
	if store.Dispatch(&RpcRequestReceived{Kind_: RpcKindStateSnapshot}) {
		t.Fatal("request admitted past the table cap")
	}
	if state.AppliedActionsCount != before {
		t.Fatal("rejected request mutated state")
	}
}

func TestRpcPeerConnectDispatchesDial(t *testing.T) {
	store, state, _, log := testStore(nil)
	params, _ := json.Marshal(map[string]string{"addr": "10.3.0.1:8302"})
	store.Dispatch(&RpcRequestReceived{Kind_: RpcKindPeerConnect, Params: params})
	if log.count(KindP2pEffectDial) != 1 {
		t.Fatal("connect request did not dial")
	}
	if _, ok := state.P2p.Connections["10.3.0.1:8302"]; !ok {
		t.Fatal("connection record missing")
	}
}

func TestRpcWatchedAccountsAddRoutes(t *testing.T) {
	store, state, _, _ := testStore(nil)
	params, _ := json.Marshal(map[string]string{"account": "acct-9"})
	store.Dispatch(&RpcRequestReceived{Kind_: RpcKindWatchedAccountsAdd, Params: params})
	if _, ok := state.WatchedAccounts.Accounts["acct-9"]; !ok {
		t.Fatal("rpc add did not register the account")
	}
}
