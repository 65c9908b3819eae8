package core

import (
	"encoding/binary"
	"sort"
	"time"
)

// The block producer walks one state machine per won slot: search, wait,
// pull transactions, create the staged-ledger diff, build and sign the
// unproven block, request the blockchain snark, inject. Every exit is a
// named discard reason.

// ProducerStatus is the pipeline position.
type ProducerStatus string

const (
	ProducerIdle                  ProducerStatus = "idle"
	ProducerWonSlotSearch         ProducerStatus = "won_slot_search"
	ProducerWonSlotDiscovered     ProducerStatus = "won_slot_discovered"
	ProducerWonSlotWaiting        ProducerStatus = "won_slot_waiting"
	ProducerWonSlotProduceInit    ProducerStatus = "won_slot_produce_init"
	ProducerTransactionsGet       ProducerStatus = "won_slot_transactions_get"
	ProducerDiffCreatePending     ProducerStatus = "staged_ledger_diff_create_pending"
	ProducerDiffCreateSuccessStat ProducerStatus = "staged_ledger_diff_create_success"
	ProducerBlockUnprovenBuilt    ProducerStatus = "block_unproven_built"
	ProducerBlockProvePending     ProducerStatus = "block_prove_pending"
	ProducerBlockProveSuccessStat ProducerStatus = "block_prove_success"
	ProducerBlockProduced         ProducerStatus = "block_produced"
	ProducerBlockInjected         ProducerStatus = "block_injected"
)

// DiscardReason names why a won slot was abandoned.
type DiscardReason string

const (
	DiscardBestTipAdvanced DiscardReason = "best_tip_advanced"
	DiscardOtherBlockWon   DiscardReason = "other_block_won"
	DiscardSyncLost        DiscardReason = "sync_lost"
	DiscardLedgerFailure   DiscardReason = "ledger_failure"
	DiscardProverFailure   DiscardReason = "prover_failure"
)

// maxPendingTransactions caps the producer mempool.
const maxPendingTransactions = 1024

// slotWaitSlack is the early-wakeup margin before a won slot's time.
const slotWaitSlack = 100 * time.Millisecond

// BlockProducerState is the producer partition.
type BlockProducerState struct {
	Enabled bool              `json:"enabled"`
	Status  ProducerStatus    `json:"status"`
	Vrf     VrfEvaluatorState `json:"vrf"`

	TipHash   BlockHash   `json:"tip_hash,omitempty"`
	TipHeader BlockHeader `json:"tip_header,omitempty"`

	WonSlot *WonSlot `json:"won_slot,omitempty"`

	Pending []TransactionInfo `json:"pending,omitempty"`

	SelectedTransactions []TransactionInfo `json:"selected_transactions,omitempty"`
	Diff                 []byte            `json:"diff,omitempty"`
	DiffStagedHash       LedgerHash        `json:"diff_staged_hash,omitempty"`
	UnprovenBlock        *Block            `json:"unproven_block,omitempty"`
	ProducedBlock        *Block            `json:"produced_block,omitempty"`

	LastDiscard DiscardReason `json:"last_discard,omitempty"`
	Produced    uint64        `json:"produced"`
}

func newBlockProducerState(cfg *Config) BlockProducerState {
	st := BlockProducerState{
		Enabled: cfg.Producer.Enabled,
		Status:  ProducerIdle,
		Vrf:     VrfEvaluatorState{Status: VrfEvaluatorIdle},
	}
	return st
}

// pendingTransactions lists up to n mempool entries by descending fee.
func (bp *BlockProducerState) pendingTransactions(n int) []TransactionInfo {
	out := append([]TransactionInfo(nil), bp.Pending...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Fee > out[j].Fee })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// resetSlot clears per-slot scratch.
func (bp *BlockProducerState) resetSlot() {
	bp.WonSlot = nil
	bp.SelectedTransactions = nil
	bp.Diff = nil
	bp.DiffStagedHash = LedgerHash{}
	bp.UnprovenBlock = nil
	bp.ProducedBlock = nil
}

// --- actions ---

// ProducerAction tags producer transitions.
type ProducerAction interface {
	Action
	isProducerAction()
}

type producerTag struct{}

func (producerTag) isProducerAction() {}

const (
	KindProducerBestTipUpdate        ActionKind = "ProducerBestTipUpdate"
	KindProducerVrfEvaluationSuccess ActionKind = "ProducerVrfEvaluationSuccess"
	KindProducerWonSlotCheck         ActionKind = "ProducerWonSlotCheck"
	KindProducerSlotCheck            ActionKind = "ProducerSlotCheck"
	KindProducerSyncCheck            ActionKind = "ProducerSyncCheck"
	KindProducerTransactionReceived  ActionKind = "ProducerTransactionReceived"
	KindProducerDiffCreateSuccess    ActionKind = "ProducerDiffCreateSuccess"
	KindProducerProveSuccess         ActionKind = "ProducerProveSuccess"
	KindProducerProveError           ActionKind = "ProducerProveError"
	KindProducerInject               ActionKind = "ProducerInject"
	KindProducerDiscard              ActionKind = "ProducerDiscard"

	KindProducerEffectVrfEvaluate ActionKind = "ProducerEffectVrfEvaluate"
	KindProducerEffectProve       ActionKind = "ProducerEffectProve"
)

func init() {
	registerAction(KindProducerBestTipUpdate, func() Action { return &ProducerBestTipUpdate{} })
	registerAction(KindProducerVrfEvaluationSuccess, func() Action { return &ProducerVrfEvaluationSuccess{} })
	registerAction(KindProducerWonSlotCheck, func() Action { return &ProducerWonSlotCheck{} })
	registerAction(KindProducerSlotCheck, func() Action { return &ProducerSlotCheck{} })
	registerAction(KindProducerSyncCheck, func() Action { return &ProducerSyncCheck{} })
	registerAction(KindProducerTransactionReceived, func() Action { return &ProducerTransactionReceived{} })
	registerAction(KindProducerDiffCreateSuccess, func() Action { return &ProducerDiffCreateSuccess{} })
	registerAction(KindProducerProveSuccess, func() Action { return &ProducerProveSuccess{} })
	registerAction(KindProducerProveError, func() Action { return &ProducerProveError{} })
	registerAction(KindProducerInject, func() Action { return &ProducerInject{} })
	registerAction(KindProducerDiscard, func() Action { return &ProducerDiscard{} })
	registerAction(KindProducerEffectVrfEvaluate, func() Action { return &ProducerEffectVrfEvaluate{} })
	registerAction(KindProducerEffectProve, func() Action { return &ProducerEffectProve{} })
}

// ProducerBestTipUpdate reacts to a new best tip: refresh epoch data,
// abandon overtaken slots, start searching when idle.
type ProducerBestTipUpdate struct {
	producerTag
	Hash   BlockHash   `json:"hash"`
	Header BlockHeader `json:"header"`
}

func (*ProducerBestTipUpdate) Kind() ActionKind                      { return KindProducerBestTipUpdate }
func (a *ProducerBestTipUpdate) Enabled(s *State, now Timestamp) bool { return true }

// ProducerVrfEvaluationSuccess lands the evaluator's won slots.
type ProducerVrfEvaluationSuccess struct {
	producerTag
	WonSlots []WonSlot  `json:"won_slots,omitempty"`
	Cursor   GlobalSlot `json:"cursor"`
}

func (*ProducerVrfEvaluationSuccess) Kind() ActionKind { return KindProducerVrfEvaluationSuccess }
func (a *ProducerVrfEvaluationSuccess) Enabled(s *State, now Timestamp) bool {
	return s.BlockProducer.Vrf.Status == VrfEvaluatorEvaluating
}

// ProducerWonSlotCheck pops the next won slot off the queue.
type ProducerWonSlotCheck struct {
	producerTag
}

func (*ProducerWonSlotCheck) Kind() ActionKind { return KindProducerWonSlotCheck }
func (a *ProducerWonSlotCheck) Enabled(s *State, now Timestamp) bool {
	bp := &s.BlockProducer
	return bp.Enabled && bp.Status == ProducerWonSlotSearch && len(bp.Vrf.WonSlots) > 0
}

// ProducerSlotCheck fires once the won slot's time arrived, the genesis
// block is proven and no ledger commit is pending.
type ProducerSlotCheck struct {
	producerTag
}

func (*ProducerSlotCheck) Kind() ActionKind { return KindProducerSlotCheck }
func (a *ProducerSlotCheck) Enabled(s *State, now Timestamp) bool {
	bp := &s.BlockProducer
	if bp.Status != ProducerWonSlotWaiting || bp.WonSlot == nil {
		return false
	}
	if now < bp.WonSlot.SlotTime {
		return false
	}
	if s.TransitionFrontier.Genesis.Status != GenesisProven {
		return false
	}
	return !commitPending(s)
}

// ProducerSyncCheck abandons a won slot when the frontier fell out of sync
// while the slot was discovered or waiting.
type ProducerSyncCheck struct {
	producerTag
}

func (*ProducerSyncCheck) Kind() ActionKind { return KindProducerSyncCheck }
func (a *ProducerSyncCheck) Enabled(s *State, now Timestamp) bool {
	bp := &s.BlockProducer
	if bp.WonSlot == nil {
		return false
	}
	if bp.Status != ProducerWonSlotDiscovered && bp.Status != ProducerWonSlotWaiting {
		return false
	}
	sy := s.TransitionFrontier.Sync.Status
	return sy != SyncIdle && sy != SyncSynced
}

// commitPending reports a ledger Commit in flight or queued.
func commitPending(s *State) bool {
	if r := s.LedgerWrite.InFlight; r != nil && r.Kind == LedgerWriteCommit {
		return true
	}
	for i := range s.LedgerWrite.Queue {
		if s.LedgerWrite.Queue[i].Kind == LedgerWriteCommit {
			return true
		}
	}
	return false
}

// ProducerTransactionReceived adds one command to the mempool.
type ProducerTransactionReceived struct {
	producerTag
	Transaction TransactionInfo `json:"transaction"`
}

func (*ProducerTransactionReceived) Kind() ActionKind { return KindProducerTransactionReceived }
func (a *ProducerTransactionReceived) Enabled(s *State, now Timestamp) bool {
	return len(s.BlockProducer.Pending) < maxPendingTransactions
}

// ProducerDiffCreateSuccess lands the staged-ledger diff from the worker.
type ProducerDiffCreateSuccess struct {
	producerTag
	Diff             []byte     `json:"diff"`
	StagedLedgerHash LedgerHash `json:"staged_ledger_hash"`
}

func (*ProducerDiffCreateSuccess) Kind() ActionKind { return KindProducerDiffCreateSuccess }
func (a *ProducerDiffCreateSuccess) Enabled(s *State, now Timestamp) bool {
	return s.BlockProducer.Status == ProducerDiffCreatePending
}

// ProducerProveSuccess lands the blockchain snark.
type ProducerProveSuccess struct {
	producerTag
	Proof []byte `json:"proof"`
}

func (*ProducerProveSuccess) Kind() ActionKind { return KindProducerProveSuccess }
func (a *ProducerProveSuccess) Enabled(s *State, now Timestamp) bool {
	return s.BlockProducer.Status == ProducerBlockProvePending
}

// ProducerProveError abandons the slot on a prover failure.
type ProducerProveError struct {
	producerTag
	Error string `json:"error"`
}

func (*ProducerProveError) Kind() ActionKind { return KindProducerProveError }
func (a *ProducerProveError) Enabled(s *State, now Timestamp) bool {
	return s.BlockProducer.Status == ProducerBlockProvePending
}

// ProducerInject broadcasts the produced block and feeds it to our own
// frontier.
type ProducerInject struct {
	producerTag
}

func (*ProducerInject) Kind() ActionKind { return KindProducerInject }
func (a *ProducerInject) Enabled(s *State, now Timestamp) bool {
	bp := &s.BlockProducer
	return bp.Status == ProducerBlockProduced && bp.ProducedBlock != nil
}

// ProducerDiscard abandons the current slot for a named reason.
type ProducerDiscard struct {
	producerTag
	Reason DiscardReason `json:"reason"`
}

func (*ProducerDiscard) Kind() ActionKind { return KindProducerDiscard }
func (a *ProducerDiscard) Enabled(s *State, now Timestamp) bool {
	st := s.BlockProducer.Status
	return st != ProducerIdle && st != ProducerWonSlotSearch
}

// ProducerEffectVrfEvaluate hands a slot range to the vrf service.
type ProducerEffectVrfEvaluate struct {
	producerTag
	Effect
	FromSlot  GlobalSlot     `json:"from_slot"`
	ToSlot    GlobalSlot     `json:"to_slot"`
	EpochSeed Hash           `json:"epoch_seed"`
	Stake     CurrencyAmount `json:"stake"`
	Total     CurrencyAmount `json:"total"`
}

func (*ProducerEffectVrfEvaluate) Kind() ActionKind                      { return KindProducerEffectVrfEvaluate }
func (a *ProducerEffectVrfEvaluate) Enabled(s *State, now Timestamp) bool { return true }

// ProducerEffectProve hands the unproven block to the prover.
type ProducerEffectProve struct {
	producerTag
	Effect
	Block Block `json:"block"`
}

func (*ProducerEffectProve) Kind() ActionKind                      { return KindProducerEffectProve }
func (a *ProducerEffectProve) Enabled(s *State, now Timestamp) bool { return true }

// vrfEvaluationWindow is how many slots one evaluator pass covers.
const vrfEvaluationWindow = 128

func reduceProducer(s *State, a ProducerAction, now Timestamp, emit Emitter) {
	bp := &s.BlockProducer
	switch act := a.(type) {

	case *ProducerBestTipUpdate:
		bp.TipHash = act.Hash
		bp.TipHeader = act.Header
		bp.Vrf.EpochSeed = act.Header.EpochSeed
		bp.Vrf.EpochLedgerHash = act.Header.SnarkedLedgerHash
		if !bp.Enabled {
			return
		}
		// A slot already won may be overtaken by the network.
		if bp.WonSlot != nil {
			switch {
			case act.Header.GlobalSlot > bp.WonSlot.Slot:
				emit(&ProducerDiscard{Reason: DiscardBestTipAdvanced})
				return
			case act.Header.GlobalSlot == bp.WonSlot.Slot:
				emit(&ProducerDiscard{Reason: DiscardOtherBlockWon})
				return
			}
		}
		if bp.Status == ProducerIdle {
			bp.Status = ProducerWonSlotSearch
		}
		if bp.Status == ProducerWonSlotSearch && bp.Vrf.Status != VrfEvaluatorEvaluating {
			startVrfEvaluation(s, act.Header.GlobalSlot+1, emit)
		}

	case *ProducerVrfEvaluationSuccess:
		bp.Vrf.Status = VrfEvaluatorReady
		bp.Vrf.SlotCursor = act.Cursor
		bp.Vrf.WonSlots = append(bp.Vrf.WonSlots, act.WonSlots...)
		sort.Slice(bp.Vrf.WonSlots, func(i, j int) bool {
			return bp.Vrf.WonSlots[i].Slot < bp.Vrf.WonSlots[j].Slot
		})
		if bp.Status == ProducerWonSlotSearch && len(bp.Vrf.WonSlots) > 0 {
			emit(&ProducerWonSlotCheck{})
		}

	case *ProducerWonSlotCheck:
		// Skip slots the chain already passed.
		for len(bp.Vrf.WonSlots) > 0 && bp.Vrf.WonSlots[0].Slot <= bp.TipHeader.GlobalSlot {
			bp.Vrf.WonSlots = bp.Vrf.WonSlots[1:]
		}
		if len(bp.Vrf.WonSlots) == 0 {
			if bp.Vrf.Status != VrfEvaluatorEvaluating {
				startVrfEvaluation(s, bp.Vrf.SlotCursor, emit)
			}
			return
		}
		won := bp.Vrf.WonSlots[0]
		bp.Vrf.WonSlots = bp.Vrf.WonSlots[1:]
		bp.WonSlot = &won
		bp.Status = ProducerWonSlotDiscovered
		if won.SlotTime > now.Add(slotWaitSlack) {
			bp.Status = ProducerWonSlotWaiting
		} else {
			startProduction(s, now, emit)
		}

	case *ProducerSlotCheck:
		startProduction(s, now, emit)

	case *ProducerSyncCheck:
		emit(&ProducerDiscard{Reason: DiscardSyncLost})

	case *ProducerTransactionReceived:
		for i := range bp.Pending {
			if bp.Pending[i].ID == act.Transaction.ID {
				return
			}
		}
		bp.Pending = append(bp.Pending, act.Transaction)

	case *ProducerDiffCreateSuccess:
		bp.Status = ProducerDiffCreateSuccessStat
		bp.Diff = act.Diff
		bp.DiffStagedHash = act.StagedLedgerHash
		buildUnprovenBlock(s, now, emit)

	case *ProducerProveSuccess:
		bp.Status = ProducerBlockProveSuccessStat
		blk := *bp.UnprovenBlock
		blk.Proof = act.Proof
		bp.ProducedBlock = &blk
		bp.Status = ProducerBlockProduced
		emit(&ProducerInject{})

	case *ProducerProveError:
		emit(&ProducerDiscard{Reason: DiscardProverFailure})

	case *ProducerInject:
		blk := *bp.ProducedBlock
		bp.Status = ProducerBlockInjected
		bp.Produced++
		payload, _ := marshalGossip(GossipPayload{Kind: GossipKindBlock, Block: &blk})
		emit(&P2pPubsubPublish{Topic: PubsubTopicBlocks, Data: payload, Nonce: gossipNonce(s, payload)})
		emit(&CandidateBlockReceived{Block: blk})
		bp.resetSlot()
		bp.Status = ProducerWonSlotSearch
		emit(&ProducerWonSlotCheck{})

	case *ProducerDiscard:
		bp.LastDiscard = act.Reason
		bp.resetSlot()
		bp.Status = ProducerWonSlotSearch
		s.Stats.SlotsDiscarded++
		emit(&ProducerWonSlotCheck{})
	}
}

// startVrfEvaluation kicks one evaluator window.
func startVrfEvaluation(s *State, from GlobalSlot, emit Emitter) {
	bp := &s.BlockProducer
	bp.Vrf.Status = VrfEvaluatorEvaluating
	bp.Vrf.SlotCursor = from + vrfEvaluationWindow
	emit(&ProducerEffectVrfEvaluate{
		FromSlot:  from,
		ToSlot:    from + vrfEvaluationWindow - 1,
		EpochSeed: bp.Vrf.EpochSeed,
		Stake:     bp.Vrf.DelegatedStake,
		Total:     bp.Vrf.TotalCurrency,
	})
}

// startProduction pulls the transaction set and requests the diff.
func startProduction(s *State, now Timestamp, emit Emitter) {
	bp := &s.BlockProducer
	bp.Status = ProducerWonSlotProduceInit
	bp.Status = ProducerTransactionsGet
	bp.SelectedTransactions = bp.pendingTransactions(128)
	bp.Status = ProducerDiffCreatePending
	emit(&LedgerWriteInit{Request: LedgerWriteRequest{
		Kind:             LedgerWriteDiffCreate,
		DiffPredHash:     bp.TipHash,
		DiffSlot:         bp.WonSlot.Slot,
		DiffTransactions: bp.SelectedTransactions,
		Callback:         CallbackProducerDiffCreate,
	}})
}

// buildUnprovenBlock assembles and signs the header, then requests the
// proof.
func buildUnprovenBlock(s *State, now Timestamp, emit Emitter) {
	bp := &s.BlockProducer
	tip := bp.TipHeader
	slotDelta := uint32(bp.WonSlot.Slot) - uint32(tip.GlobalSlot)
	header := BlockHeader{
		PredHash:               bp.TipHash,
		BlockchainLength:       tip.BlockchainLength + 1,
		GlobalSlot:             bp.WonSlot.Slot,
		GlobalSlotSinceGenesis: tip.GlobalSlotSinceGenesis + GlobalSlot(slotDelta),
		Timestamp:              bp.WonSlot.SlotTime,
		VrfOutput:              bp.WonSlot.VrfOutput,
		MinWindowDensity:       tip.MinWindowDensity,
		SubWindowDensities:     append([]uint32(nil), tip.SubWindowDensities...),
		EpochSeed:              tip.EpochSeed,
		SnarkedLedgerHash:      tip.SnarkedLedgerHash,
		StagedLedgerHash:       bp.DiffStagedHash,
		ProducerKey:            append([]byte(nil), s.Config.Producer.PublicKey...),
		ProtocolVersion:        supportedBlockProtocolVersion,
	}
	header.Signature = signBlockHeader(s, &header)
	blk := Block{
		Header: header,
		Body:   BlockBody{Diff: bp.Diff, Commands: bp.SelectedTransactions},
	}
	bp.UnprovenBlock = &blk
	bp.Status = ProducerBlockUnprovenBuilt
	bp.Status = ProducerBlockProvePending
	emit(&ProducerEffectProve{Block: blk})
}

// signBlockHeader derives the producer signature digest; the service swaps
// in the real schnorr signature on the wire, keyed by the secret it owns.
func signBlockHeader(s *State, h *BlockHeader) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], h.BlockchainLength)
	digest := HashBytes(h.PredHash.Bytes(), length[:], s.Config.Producer.PublicKey)
	return digest.Bytes()
}
