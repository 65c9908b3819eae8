package core

import (
	"bytes"
	"testing"
)

func TestShortRangeForkPrefersLength(t *testing.T) {
	constants := DefaultProtocolConstants()
	seed := HashBytes([]byte("epoch"))
	a := &BlockHeader{EpochSeed: seed, GlobalSlot: 10, BlockchainLength: 5, VrfOutput: []byte{1}}
	b := &BlockHeader{EpochSeed: seed, GlobalSlot: 11, BlockchainLength: 6, VrfOutput: []byte{0}}
	if !consensusTakes(a, b, HashBytes([]byte("a")), HashBytes([]byte("b")), constants) {
		t.Fatal("longer chain lost a short-range fork")
	}
	if consensusTakes(b, a, HashBytes([]byte("b")), HashBytes([]byte("a")), constants) {
		t.Fatal("shorter chain won a short-range fork")
	}
}

func TestShortRangeTieBreaksOnVrfThenHash(t *testing.T) {
	constants := DefaultProtocolConstants()
	seed := HashBytes([]byte("epoch"))
	base := BlockHeader{EpochSeed: seed, GlobalSlot: 10, BlockchainLength: 5}

	lowVrf := base
	lowVrf.VrfOutput = []byte{0x01}
	highVrf := base
	highVrf.VrfOutput = []byte{0xff}
	if !consensusTakes(&lowVrf, &highVrf, HashBytes([]byte("l")), HashBytes([]byte("h")), constants) {
		t.Fatal("greater vrf output did not win the tie")
	}

	// Full VRF tie falls through to the state hash.
	same := base
	same.VrfOutput = []byte{0x42}
	ha := HashBytes([]byte("candidate-a"))
	hb := HashBytes([]byte("candidate-b"))
	expect := bytes.Compare(hb.Bytes(), ha.Bytes()) > 0
	if got := consensusTakes(&same, &same, ha, hb, constants); got != expect {
		t.Fatalf("hash tie-break = %v, want %v", got, expect)
	}
}

func TestLongRangeForkComparesMinWindowDensity(t *testing.T) {
	constants := DefaultProtocolConstants()
	// Different epoch seeds force the long-range rule.
	cur := &BlockHeader{EpochSeed: HashBytes([]byte("e1")), GlobalSlot: 10, BlockchainLength: 100, MinWindowDensity: 5, VrfOutput: []byte{9}}
	cand := &BlockHeader{EpochSeed: HashBytes([]byte("e2")), GlobalSlot: 900, BlockchainLength: 50, MinWindowDensity: 7, VrfOutput: []byte{1}}
	if !consensusTakes(cur, cand, HashBytes([]byte("c")), HashBytes([]byte("d")), constants) {
		t.Fatal("denser fork lost the long-range comparison")
	}
	// Equal density falls back to length.
	cand.MinWindowDensity = 5
	if consensusTakes(cur, cand, HashBytes([]byte("c")), HashBytes([]byte("d")), constants) {
		t.Fatal("shorter equal-density fork won")
	}
}

// Best-tip race: two candidates extend the same parent at the same height;
// the one with greater vrf output must win and the loser must be pruned.
func TestBestTipRacePrefersGreaterVrf(t *testing.T) {
	store, state, _, _ := testStore(nil)
	tf := &state.TransitionFrontier

	parent := testHeader(nil, Hash{}, 9, "parent-vrf")
	parentHash := parent.HashOf()
	tf.AppliedChain = append(tf.AppliedChain, AppliedBlock{Hash: parentHash, Header: parent})

	low := testHeader(&parent, parentHash, 10, "low")
	low.VrfOutput = []byte{0x01}
	high := testHeader(&parent, parentHash, 10, "high")
	high.VrfOutput = []byte{0xf0}

	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: low}})
	store.Dispatch(&CandidateBlockSnarkVerifySuccess{Hash: low.HashOf()})
	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: high}})
	store.Dispatch(&CandidateBlockSnarkVerifySuccess{Hash: high.HashOf()})

	if tf.BestCandidate != high.HashOf() {
		t.Fatalf("best candidate = %s, want the greater-vrf block", tf.BestCandidate)
	}
	store.Dispatch(&CandidatePrune{})
	if _, kept := tf.Candidates[low.HashOf()]; kept {
		t.Fatal("losing candidate survived the prune")
	}
}
