package core

import (
	"testing"
)

func TestPrevalidateRejectsBadLengthForever(t *testing.T) {
	store, state, _, _ := testStore(nil)
	tf := &state.TransitionFrontier

	parent := testHeader(nil, Hash{}, 5, "p")
	parentHash := parent.HashOf()
	tf.AppliedChain = append(tf.AppliedChain, AppliedBlock{Hash: parentHash, Header: parent})

	bad := testHeader(&parent, parentHash, 6, "bad")
	bad.BlockchainLength = parent.BlockchainLength + 3
	badHash := bad.HashOf()

	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: bad}})
	if _, kept := tf.Candidates[badHash]; kept {
		t.Fatal("structurally invalid candidate kept")
	}
	if _, remembered := tf.ForeverInvalid[badHash]; !remembered {
		t.Fatal("structurally invalid hash not remembered")
	}
	// A second delivery of the same block is refused at the gate.
	if store.Dispatch(&CandidateBlockReceived{Block: Block{Header: bad}}) {
		t.Fatal("forever-invalid block re-admitted")
	}
}

func TestPrevalidateMissingSignatureIsForeverInvalid(t *testing.T) {
	store, state, _, _ := testStore(nil)
	hdr := testHeader(nil, Hash{}, 3, "unsigned")
	hdr.Signature = nil
	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: hdr}})
	if _, remembered := state.TransitionFrontier.ForeverInvalid[hdr.HashOf()]; !remembered {
		t.Fatal("unsigned block not remembered as invalid")
	}
}

func TestSnarkVerifyErrorRemembersHash(t *testing.T) {
	store, state, _, _ := testStore(nil)
	hdr := testHeader(nil, Hash{}, 3, "verify-fail")
	h := hdr.HashOf()
	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: hdr}})
	store.Dispatch(&CandidateBlockSnarkVerifyError{Hash: h, Error: "proof invalid"})
	if _, kept := state.TransitionFrontier.Candidates[h]; kept {
		t.Fatal("candidate kept after verify failure")
	}
	if _, remembered := state.TransitionFrontier.ForeverInvalid[h]; !remembered {
		t.Fatal("verify failure not remembered")
	}
}

func TestDirectExtensionAppliesWithoutSync(t *testing.T) {
	store, state, _, log := testStore(nil)
	tf := &state.TransitionFrontier

	parent := testHeader(nil, Hash{}, 5, "tip")
	parentHash := parent.HashOf()
	tf.AppliedChain = append(tf.AppliedChain, AppliedBlock{Hash: parentHash, Header: parent})

	next := testHeader(&parent, parentHash, 6, "next")
	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: next}})
	store.Dispatch(&CandidateBlockSnarkVerifySuccess{Hash: next.HashOf()})

	if tf.Sync.Status != SyncIdle {
		t.Fatalf("sync started for a direct extension: %s", tf.Sync.Status)
	}
	if log.count(KindLedgerWriteEffectExec) != 1 {
		t.Fatal("block apply not submitted to the ledger worker")
	}
	// The worker answers; the chain extends.
	req := state.LedgerWrite.InFlight
	store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{}})
	if got := tf.bestTip().Hash; got != next.HashOf() {
		t.Fatalf("best tip = %s, want applied extension", got)
	}
}

func TestNonExtensionStartsSyncPipeline(t *testing.T) {
	store, state, _, _ := testStore(nil)
	tf := &state.TransitionFrontier
	readyPeer(state, "peer-sync", "10.1.0.1:8302")

	parent := testHeader(nil, Hash{}, 5, "old-tip")
	parentHash := parent.HashOf()
	tf.AppliedChain = append(tf.AppliedChain, AppliedBlock{Hash: parentHash, Header: parent})

	// A far-ahead candidate whose parent we do not hold.
	remoteParent := testHeader(nil, Hash{}, 90, "remote-parent")
	remoteParent.BlockchainLength = 49
	remote := testHeader(&remoteParent, remoteParent.HashOf(), 100, "remote")
	remoteHash := remote.HashOf()

	store.Dispatch(&CandidateBlockReceived{
		Block:      Block{Header: remote},
		ChainProof: []BlockHash{remoteParent.HashOf()},
	})
	store.Dispatch(&CandidateBlockSnarkVerifySuccess{Hash: remoteHash})

	if tf.Sync.Status != SyncSnarkedRootPending {
		t.Fatalf("sync status = %s, want snarked root pending", tf.Sync.Status)
	}
	if tf.Sync.TargetHash != remoteHash {
		t.Fatal("sync target not the new best tip")
	}
	if !tf.Sync.LedgerQueryPending {
		t.Fatal("no ledger query issued")
	}

	// Ledger stage completes.
	store.Dispatch(&FrontierSyncLedgerNumAccounts{Num: 4})
	store.Dispatch(&FrontierSyncLedgerPartReceived{Accounts: 4})
	if tf.Sync.Status != SyncStagedReconstruct {
		t.Fatalf("sync status = %s, want staged reconstruct", tf.Sync.Status)
	}

	// Reconstruct answers with the matching staged hash.
	req := state.LedgerWrite.InFlight
	store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{StagedLedgerHash: remote.StagedLedgerHash}})
	if tf.Sync.Status != SyncBlocksFetchPending {
		t.Fatalf("sync status = %s, want blocks fetch", tf.Sync.Status)
	}
	if len(tf.Sync.BlocksToFetch) != 2 {
		t.Fatalf("blocks to fetch = %d, want chain proof + target", len(tf.Sync.BlocksToFetch))
	}

	// Both blocks arrive.
	store.Dispatch(&FrontierSyncBlockFetchSuccess{Hash: remoteParent.HashOf(), Block: Block{Header: remoteParent}})
	store.Dispatch(&FrontierSyncBlockFetchSuccess{Hash: remoteHash, Block: Block{Header: remote}})
	if tf.Sync.Status != SyncBlocksApplyPending {
		t.Fatalf("sync status = %s, want blocks apply", tf.Sync.Status)
	}

	// Applies run in order through the single-writer queue.
	for tf.Sync.Status == SyncBlocksApplyPending {
		req := state.LedgerWrite.InFlight
		if req == nil {
			t.Fatal("no apply request in flight")
		}
		store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{}})
	}
	if tf.Sync.Status != SyncCommitPending {
		t.Fatalf("sync status = %s, want commit pending", tf.Sync.Status)
	}
	req = state.LedgerWrite.InFlight
	store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{}})
	if tf.Sync.Status != SyncSynced {
		t.Fatalf("sync status = %s, want synced", tf.Sync.Status)
	}
	if err := store.Err(); err != nil {
		t.Fatalf("store failed during sync: %v", err)
	}
}

func TestAppliedChainBoundedByK(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol.K = 3
	store, state, _, _ := testStore(cfg)
	tf := &state.TransitionFrontier

	hdr := testHeader(nil, Hash{}, 1, "g")
	tf.AppliedChain = append(tf.AppliedChain, AppliedBlock{Hash: hdr.HashOf(), Header: hdr})
	prev := hdr
	for i := 0; i < 10; i++ {
		next := testHeader(&prev, prev.HashOf(), GlobalSlot(2+i), "chain")
		next.VrfOutput = HashBytes([]byte{byte(i)}).Bytes()
		store.Dispatch(&CandidateBlockReceived{Block: Block{Header: next}})
		store.Dispatch(&CandidateBlockSnarkVerifySuccess{Hash: next.HashOf()})
		req := state.LedgerWrite.InFlight
		if req == nil {
			t.Fatalf("iteration %d: no apply in flight", i)
		}
		store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{}})
		prev = next
		if err := store.Err(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
	if got, want := len(tf.AppliedChain), int(cfg.Protocol.K)+1; got != want {
		t.Fatalf("applied chain length = %d, want %d", got, want)
	}
	// The chain never regresses: the newest block is always the tip.
	if tf.bestTip().Hash != prev.HashOf() {
		t.Fatal("tip is not the newest applied block")
	}
}

func TestGenesisGateSeedsEmptyChain(t *testing.T) {
	store, state, _, log := testStore(nil)
	store.Dispatch(&GenesisLoadInit{})
	if state.TransitionFrontier.Genesis.Status != GenesisLoadPending {
		t.Fatal("genesis load not pending")
	}
	if log.count(KindGenesisEffectLoad) != 1 {
		t.Fatal("genesis load effect missing")
	}
	blk := Block{Header: testHeader(nil, Hash{}, 0, "genesis")}
	store.Dispatch(&GenesisLoadSuccess{Block: blk})
	if state.TransitionFrontier.Genesis.Status != GenesisProven {
		t.Fatal("genesis not proven after load")
	}
	if len(state.TransitionFrontier.AppliedChain) != 1 {
		t.Fatal("empty chain not seeded with genesis")
	}
}
