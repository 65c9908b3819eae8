package core

import (
	"encoding/json"
	"reflect"
	"testing"
)

// disabledAction is never enabled.
type disabledAction struct{ p2pTag }

func (*disabledAction) Kind() ActionKind                    { return "TestDisabled" }
func (*disabledAction) Enabled(*State, Timestamp) bool      { return false }

func init() {
	registerAction("TestDisabled", func() Action { return &disabledAction{} })
}

// reentrantRouter dispatches back into the store from inside effect
// routing, the way a service reacting inline would.
type reentrantRouter struct {
	store *Store
	fired bool
}

func (r *reentrantRouter) Route(a EffectAction, meta ActionMeta) {
	if !r.fired {
		r.fired = true
		r.store.Dispatch(&P2pPubsubSubscribe{Topic: PubsubTopicTransactions})
	}
}

func TestDisabledActionLeavesStateUntouched(t *testing.T) {
	store, state, _, log := testStore(nil)
	before, err := state.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	beforeCount := state.AppliedActionsCount

	if store.Dispatch(&disabledAction{}) {
		t.Fatal("disabled action reported applied")
	}
	after, err := state.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if state.AppliedActionsCount != beforeCount {
		t.Fatalf("applied count moved: %d -> %d", beforeCount, state.AppliedActionsCount)
	}
	if len(log.effects) != 0 {
		t.Fatalf("disabled action produced %d effects", len(log.effects))
	}
	// The dropped-action counter is the only thing allowed to move.
	state.Stats.DroppedActions = 0
	after2, _ := state.Hash()
	_ = after
	if before != after2 {
		t.Fatal("disabled action mutated state beyond the dropped counter")
	}
}

func TestReduceIsDeterministic(t *testing.T) {
	run := func() StateHash {
		store, state, clock, _ := testStore(nil)
		clock.set(100)
		store.Dispatch(&P2pPubsubSubscribe{Topic: PubsubTopicBlocks})
		store.Dispatch(&P2pConnectionOutgoingInit{Addr: "10.0.0.1:8302"})
		clock.advance(0)
		store.Dispatch(&P2pConnectionEstablished{Addr: "10.0.0.1:8302"})
		h, err := state.Hash()
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		return h
	}
	if run() != run() {
		t.Fatal("identical dispatch sequences produced different states")
	}
}

func TestReentrantDispatchQueuesBehindDrain(t *testing.T) {
	cfg := testConfig()
	state := NewState(cfg)
	clock := &fakeClock{now: 1}
	router := &reentrantRouter{}
	store := NewStore(state, clock, router, nil)
	router.store = store

	store.Dispatch(&P2pPubsubSubscribe{Topic: PubsubTopicBlocks})
	if !state.P2p.Pubsub.Subscribed[PubsubTopicBlocks] {
		t.Fatal("outer subscription missing")
	}
	if !state.P2p.Pubsub.Subscribed[PubsubTopicTransactions] {
		t.Fatal("re-entrant subscription never applied")
	}
	if err := store.Err(); err != nil {
		t.Fatalf("store failed: %v", err)
	}
}

func TestEffectOrderIsFIFO(t *testing.T) {
	store, state, _, log := testStore(nil)
	readyPeer(state, "peer-a", "10.0.0.9:1")
	// Subscribing emits the subscribe effect before any later publish.
	store.Dispatch(&P2pPubsubSubscribe{Topic: PubsubTopicSnarks})
	store.Dispatch(&P2pPubsubPublish{Topic: PubsubTopicSnarks, Data: []byte("x"), Nonce: 1})
	kinds := log.kinds()
	if len(kinds) != 2 || kinds[0] != KindP2pEffectSubscribe || kinds[1] != KindP2pEffectPublish {
		t.Fatalf("effect order wrong: %v", kinds)
	}
}

func TestActionRegistryRoundTrip(t *testing.T) {
	orig := ActionWithMeta{
		Meta:   ActionMeta{Kind: KindP2pConnectionOutgoingInit, Time: 42},
		Action: &P2pConnectionOutgoingInit{Addr: "1.2.3.4:5", Peer: "abc"},
	}
	raw, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ActionWithMeta
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Meta != orig.Meta {
		t.Fatalf("meta mismatch: %+v vs %+v", back.Meta, orig.Meta)
	}
	if !reflect.DeepEqual(back.Action, orig.Action) {
		t.Fatalf("action mismatch: %+v vs %+v", back.Action, orig.Action)
	}
}

func TestAppliedActionsCountTracksEveryAction(t *testing.T) {
	store, state, _, _ := testStore(nil)
	store.Dispatch(&P2pPubsubSubscribe{Topic: PubsubTopicBlocks})
	// Subscribe applies itself plus one effect action.
	if state.AppliedActionsCount != 2 {
		t.Fatalf("applied count = %d, want 2", state.AppliedActionsCount)
	}
	if state.LastAction != KindP2pEffectSubscribe {
		t.Fatalf("last action = %s", state.LastAction)
	}
}
