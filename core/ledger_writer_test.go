package core

import (
	"strings"
	"testing"
)

func TestLedgerWriteSingleWriterQueues(t *testing.T) {
	store, state, _, log := testStore(nil)

	first := LedgerWriteRequest{Kind: LedgerWriteBlockApply, ApplyHash: HashBytes([]byte("a")), Callback: CallbackSyncBlockApply}
	second := LedgerWriteRequest{Kind: LedgerWriteBlockApply, ApplyHash: HashBytes([]byte("b")), Callback: CallbackSyncBlockApply}

	store.Dispatch(&LedgerWriteInit{Request: first})
	store.Dispatch(&LedgerWriteInit{Request: second})

	if state.LedgerWrite.InFlight == nil || state.LedgerWrite.InFlight.Key() != first.Key() {
		t.Fatal("first request not in flight")
	}
	if len(state.LedgerWrite.Queue) != 1 {
		t.Fatalf("queue = %d, want the second request held back", len(state.LedgerWrite.Queue))
	}
	if log.count(KindLedgerWriteEffectExec) != 1 {
		t.Fatalf("worker saw %d requests, want exactly 1", log.count(KindLedgerWriteEffectExec))
	}
}

func TestLedgerWriteResponseStartsNext(t *testing.T) {
	store, state, _, log := testStore(nil)
	state.TransitionFrontier.Sync.Status = SyncBlocksApplyPending
	state.TransitionFrontier.Sync.BlocksToFetch = []BlockHash{HashBytes([]byte("a"))}
	blkA := Block{Header: testHeader(nil, Hash{}, 1, "a")}
	state.TransitionFrontier.Sync.FetchedBlocks = map[BlockHash]*Block{HashBytes([]byte("a")): &blkA}

	first := LedgerWriteRequest{Kind: LedgerWriteCommit, CommitHash: HashBytes([]byte("t1")), Callback: CallbackSyncCommit}
	second := LedgerWriteRequest{Kind: LedgerWriteCommit, CommitHash: HashBytes([]byte("t2")), Callback: CallbackSyncCommit}
	store.Dispatch(&LedgerWriteInit{Request: first})
	store.Dispatch(&LedgerWriteInit{Request: second})

	state.TransitionFrontier.Sync.Status = SyncCommitPending
	store.Dispatch(&LedgerWriteSuccess{Key: first.Key(), Result: LedgerWriteResult{}})
	if state.LedgerWrite.InFlight == nil || state.LedgerWrite.InFlight.Key() != second.Key() {
		t.Fatal("queued request did not start after the response")
	}
	if log.count(KindLedgerWriteEffectExec) != 2 {
		t.Fatal("second request never reached the worker")
	}
}

func TestLedgerWriteKeyMismatchIsFatal(t *testing.T) {
	store, state, _, _ := testStore(nil)
	req := LedgerWriteRequest{Kind: LedgerWriteBlockApply, ApplyHash: HashBytes([]byte("a")), Callback: CallbackSyncBlockApply}
	store.Dispatch(&LedgerWriteInit{Request: req})
	store.Dispatch(&LedgerWriteSuccess{Key: "apply:ffff", Result: LedgerWriteResult{}})
	err := store.Err()
	if err == nil {
		t.Fatal("mismatched response key accepted")
	}
	if !strings.Contains(err.Error(), "in-flight key") {
		t.Fatalf("unexpected failure: %v", err)
	}
	_ = state
}

func TestLedgerWriteErrorDiscardsProducerSlot(t *testing.T) {
	store, state, _, _ := testStore(producerConfig())
	seedProducer(state)
	state.BlockProducer.Status = ProducerDiffCreatePending
	state.BlockProducer.WonSlot = &WonSlot{Slot: 6}

	req := LedgerWriteRequest{Kind: LedgerWriteDiffCreate, DiffPredHash: HashBytes([]byte("p")), DiffSlot: 6, Callback: CallbackProducerDiffCreate}
	store.Dispatch(&LedgerWriteInit{Request: req})
	store.Dispatch(&LedgerWriteError{Key: req.Key(), Error: "worker aborted"})

	if state.BlockProducer.LastDiscard != DiscardLedgerFailure {
		t.Fatalf("discard = %s, want ledger failure", state.BlockProducer.LastDiscard)
	}
	if state.Stats.LedgerWriteErrors != 1 {
		t.Fatal("error not counted")
	}
}

func TestLedgerWriteKeysAreDistinctPerKind(t *testing.T) {
	h := HashBytes([]byte("x"))
	keys := map[string]bool{}
	for _, r := range []LedgerWriteRequest{
		{Kind: LedgerWriteReconstruct, ReconstructHash: h},
		{Kind: LedgerWriteDiffCreate, DiffPredHash: h, DiffSlot: 3},
		{Kind: LedgerWriteBlockApply, ApplyHash: h},
		{Kind: LedgerWriteCommit, CommitHash: h},
	} {
		k := r.Key()
		if keys[k] {
			t.Fatalf("duplicate key %q", k)
		}
		keys[k] = true
	}
}
