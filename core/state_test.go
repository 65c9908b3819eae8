package core

import (
	"testing"
)

func TestStateHashDeterministicAndModeIndependent(t *testing.T) {
	cfg := testConfig()
	a := NewState(cfg)
	b := NewState(cfg)
	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, _ := b.Hash()
	if ha != hb {
		t.Fatal("fresh states hash differently")
	}
	// The recorder mode is normalized out of the hash.
	b.Record = RecordState{Mode: RecordModeRecording, Path: "/tmp/x"}
	hb2, _ := b.Hash()
	if ha != hb2 {
		t.Fatal("recorder mode leaked into the state hash")
	}
}

func TestStateCloneIsIndependent(t *testing.T) {
	s := NewState(testConfig())
	s.P2p.Pubsub.Subscribed["topic"] = true
	c, err := s.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	c.P2p.Pubsub.Subscribed["other"] = true
	if s.P2p.Pubsub.Subscribed["other"] {
		t.Fatal("clone shares the subscription map")
	}
	if !c.P2p.Pubsub.Subscribed["topic"] {
		t.Fatal("clone lost existing data")
	}
}

func TestRegisteredActionKindsAreClosedAndSorted(t *testing.T) {
	kinds := RegisteredActionKinds()
	if len(kinds) == 0 {
		t.Fatal("no registered kinds")
	}
	seen := map[ActionKind]bool{}
	for i, k := range kinds {
		if seen[k] {
			t.Fatalf("duplicate kind %s", k)
		}
		seen[k] = true
		if i > 0 && kinds[i-1] >= k {
			t.Fatal("kinds not sorted")
		}
	}
	for _, want := range []ActionKind{
		KindP2pIncomingData, KindCandidateBlockReceived, KindSnarkPoolJobsUpdate,
		KindProducerInject, KindLedgerWriteInit, KindWatchedAccountsAdd,
		KindRpcRequestReceived, KindRngDrawResult,
	} {
		if !seen[want] {
			t.Fatalf("kind %s missing from the registry", want)
		}
	}
}

func TestInvariantContiguityTripsOnBrokenChain(t *testing.T) {
	s := NewState(testConfig())
	a := testHeader(nil, Hash{}, 1, "a")
	b := testHeader(nil, Hash{}, 2, "b") // pred hash does not link
	b.BlockchainLength = a.BlockchainLength + 1
	s.TransitionFrontier.AppliedChain = []AppliedBlock{
		{Hash: a.HashOf(), Header: a},
		{Hash: b.HashOf(), Header: b},
	}
	if err := checkInvariants(s, ActionMeta{Kind: "test"}); err == nil {
		t.Fatal("broken chain passed the contiguity check")
	}
}
