package core

import (
	"testing"
	"time"
)

func producerConfig() *Config {
	cfg := testConfig()
	cfg.Producer.Enabled = true
	cfg.Producer.PublicKey = cfg.PublicKey
	return cfg
}

// seedProducer installs a best tip and a proven genesis so the producer
// may run.
func seedProducer(state *State) (BlockHeader, BlockHash) {
	tip := testHeader(nil, Hash{}, 5, "tip")
	tipHash := tip.HashOf()
	state.TransitionFrontier.AppliedChain = append(state.TransitionFrontier.AppliedChain, AppliedBlock{Hash: tipHash, Header: tip})
	state.TransitionFrontier.Genesis.Status = GenesisProven
	state.TransitionFrontier.Genesis.Block = &Block{Header: testHeader(nil, Hash{}, 0, "genesis")}
	state.BlockProducer.TipHash = tipHash
	state.BlockProducer.TipHeader = tip
	state.BlockProducer.Status = ProducerWonSlotSearch
	return tip, tipHash
}

func TestProducerHappyPathProducesAndInjects(t *testing.T) {
	store, state, clock, log := testStore(producerConfig())
	state.P2p.Pubsub.Subscribed[PubsubTopicBlocks] = true
	_, tipHash := seedProducer(state)
	bp := &state.BlockProducer

	// A slot already due: discovery goes straight to production.
	clock.set(Timestamp(time.Hour.Nanoseconds()))
	bp.Vrf.WonSlots = []WonSlot{{Slot: 6, SlotTime: clock.Now() - 10, VrfOutput: HashBytes([]byte("won")).Bytes()}}
	if !store.Dispatch(&ProducerWonSlotCheck{}) {
		t.Fatal("won slot check not enabled")
	}
	if bp.Status != ProducerDiffCreatePending {
		t.Fatalf("status = %s, want diff create pending", bp.Status)
	}
	req := state.LedgerWrite.InFlight
	if req == nil || req.Kind != LedgerWriteDiffCreate {
		t.Fatalf("in flight = %+v, want diff create", req)
	}
	if req.DiffPredHash != tipHash || req.DiffSlot != 6 {
		t.Fatalf("diff key = (%s, %d)", req.DiffPredHash, req.DiffSlot)
	}

	store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{
		Diff:             []byte("diff"),
		StagedLedgerHash: HashBytes([]byte("staged")),
	}})
	if bp.Status != ProducerBlockProvePending {
		t.Fatalf("status = %s, want prove pending", bp.Status)
	}
	if bp.UnprovenBlock == nil || bp.UnprovenBlock.Header.PredHash != tipHash {
		t.Fatal("unproven block not built on the tip")
	}
	if log.count(KindProducerEffectProve) != 1 {
		t.Fatal("prover not asked")
	}

	store.Dispatch(&ProducerProveSuccess{Proof: []byte("proof")})
	if bp.Status != ProducerWonSlotSearch {
		t.Fatalf("status = %s, want back to search after inject", bp.Status)
	}
	if bp.Produced != 1 {
		t.Fatalf("produced = %d", bp.Produced)
	}
	if log.count(KindP2pEffectPublish) != 1 {
		t.Fatal("produced block not broadcast")
	}
	// The injected block entered our own candidate set.
	found := false
	for _, c := range state.TransitionFrontier.Candidates {
		if c.Header.GlobalSlot == 6 {
			found = true
		}
	}
	if !found {
		t.Fatal("produced block not inserted as a candidate")
	}
}

func TestProducerWaitsForFutureSlot(t *testing.T) {
	store, state, clock, _ := testStore(producerConfig())
	seedProducer(state)
	bp := &state.BlockProducer

	clock.set(1000)
	future := clock.Now().Add(10 * time.Minute)
	bp.Vrf.WonSlots = []WonSlot{{Slot: 6, SlotTime: future, VrfOutput: HashBytes([]byte("w")).Bytes()}}
	store.Dispatch(&ProducerWonSlotCheck{})
	if bp.Status != ProducerWonSlotWaiting {
		t.Fatalf("status = %s, want waiting", bp.Status)
	}
	// The slot check stays disabled until the slot time arrives.
	if store.Dispatch(&ProducerSlotCheck{}) {
		t.Fatal("slot check fired early")
	}
	clock.set(future + 1)
	if !store.Dispatch(&ProducerSlotCheck{}) {
		t.Fatal("slot check rejected at slot time")
	}
	if bp.Status != ProducerDiffCreatePending {
		t.Fatalf("status = %s after slot time", bp.Status)
	}
}

func TestProducerSlotCheckGatedOnGenesisAndCommit(t *testing.T) {
	store, state, clock, _ := testStore(producerConfig())
	seedProducer(state)
	bp := &state.BlockProducer
	clock.set(1000)
	bp.Status = ProducerWonSlotWaiting
	bp.WonSlot = &WonSlot{Slot: 6, SlotTime: 500, VrfOutput: HashBytes([]byte("w")).Bytes()}

	state.TransitionFrontier.Genesis.Status = GenesisLoadPending
	if store.Dispatch(&ProducerSlotCheck{}) {
		t.Fatal("produced without a proven genesis")
	}
	state.TransitionFrontier.Genesis.Status = GenesisProven

	state.LedgerWrite.InFlight = &LedgerWriteRequest{Kind: LedgerWriteCommit}
	if store.Dispatch(&ProducerSlotCheck{}) {
		t.Fatal("produced while a commit was pending")
	}
	state.LedgerWrite.InFlight = nil
	if !store.Dispatch(&ProducerSlotCheck{}) {
		t.Fatal("slot check rejected with all gates open")
	}
}

// A producer waiting on a won slot abandons it when the network's best tip
// advances past the slot.
func TestProducerAbandonsSlotOnBestTipAdvance(t *testing.T) {
	store, state, clock, _ := testStore(producerConfig())
	tip, tipHash := seedProducer(state)
	bp := &state.BlockProducer
	clock.set(1000)

	bp.Status = ProducerWonSlotWaiting
	bp.WonSlot = &WonSlot{Slot: 6, SlotTime: clock.Now().Add(time.Hour), VrfOutput: HashBytes([]byte("w")).Bytes()}

	advanced := testHeader(&tip, tipHash, 7, "network-block")
	store.Dispatch(&ProducerBestTipUpdate{Hash: advanced.HashOf(), Header: advanced})

	if bp.Status != ProducerWonSlotSearch {
		t.Fatalf("status = %s, want back to search", bp.Status)
	}
	if bp.LastDiscard != DiscardBestTipAdvanced {
		t.Fatalf("discard reason = %s, want best tip advanced", bp.LastDiscard)
	}
	if bp.WonSlot != nil {
		t.Fatal("won slot not cleared on discard")
	}
}

func TestProducerDiscardsWhenSameSlotTaken(t *testing.T) {
	store, state, clock, _ := testStore(producerConfig())
	tip, tipHash := seedProducer(state)
	bp := &state.BlockProducer
	clock.set(1000)

	bp.Status = ProducerWonSlotWaiting
	bp.WonSlot = &WonSlot{Slot: 6, SlotTime: clock.Now().Add(time.Hour), VrfOutput: HashBytes([]byte("w")).Bytes()}

	rival := testHeader(&tip, tipHash, 6, "rival")
	store.Dispatch(&ProducerBestTipUpdate{Hash: rival.HashOf(), Header: rival})

	if bp.LastDiscard != DiscardOtherBlockWon {
		t.Fatalf("discard reason = %s, want other block won", bp.LastDiscard)
	}
}

// A producer waiting on a won slot abandons it when the frontier falls
// back into a sync pipeline.
func TestProducerAbandonsSlotOnSyncLoss(t *testing.T) {
	store, state, clock, _ := testStore(producerConfig())
	seedProducer(state)
	bp := &state.BlockProducer
	clock.set(1000)

	bp.Status = ProducerWonSlotWaiting
	bp.WonSlot = &WonSlot{Slot: 6, SlotTime: clock.Now().Add(time.Hour), VrfOutput: HashBytes([]byte("w")).Bytes()}

	// While the frontier is synced (or idle) the check stays disabled.
	if store.Dispatch(&ProducerSyncCheck{}) {
		t.Fatal("sync check fired while the frontier was not syncing")
	}
	state.TransitionFrontier.Sync.Status = SyncBlocksFetchPending
	if !store.Dispatch(&ProducerSyncCheck{}) {
		t.Fatal("sync check rejected while the frontier was syncing")
	}
	if bp.LastDiscard != DiscardSyncLost {
		t.Fatalf("discard reason = %s, want sync lost", bp.LastDiscard)
	}
	if bp.Status != ProducerWonSlotSearch || bp.WonSlot != nil {
		t.Fatalf("producer not back in search: status=%s", bp.Status)
	}
}

func TestProducerProverFailureDiscards(t *testing.T) {
	store, state, clock, _ := testStore(producerConfig())
	seedProducer(state)
	bp := &state.BlockProducer
	clock.set(Timestamp(time.Hour.Nanoseconds()))
	bp.Vrf.WonSlots = []WonSlot{{Slot: 6, SlotTime: clock.Now() - 10, VrfOutput: HashBytes([]byte("w")).Bytes()}}
	store.Dispatch(&ProducerWonSlotCheck{})
	req := state.LedgerWrite.InFlight
	store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: LedgerWriteResult{Diff: []byte("d")}})

	store.Dispatch(&ProducerProveError{Error: "prover crashed"})
	if bp.LastDiscard != DiscardProverFailure {
		t.Fatalf("discard reason = %s", bp.LastDiscard)
	}
	if bp.Status != ProducerWonSlotSearch {
		t.Fatalf("status = %s", bp.Status)
	}
}

func TestProducerMempoolDedupesAndCaps(t *testing.T) {
	store, state, _, _ := testStore(producerConfig())
	tx := TransactionInfo{ID: "tx-1", Fee: 10}
	store.Dispatch(&ProducerTransactionReceived{Transaction: tx})
	store.Dispatch(&ProducerTransactionReceived{Transaction: tx})
	if len(state.BlockProducer.Pending) != 1 {
		t.Fatalf("mempool = %d entries, want deduped 1", len(state.BlockProducer.Pending))
	}

	// Selection orders by descending fee.
	store.Dispatch(&ProducerTransactionReceived{Transaction: TransactionInfo{ID: "tx-2", Fee: 99}})
	got := state.BlockProducer.pendingTransactions(2)
	if got[0].ID != "tx-2" {
		t.Fatalf("selection order wrong: %+v", got)
	}
}
