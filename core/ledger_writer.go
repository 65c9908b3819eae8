package core

import "fmt"

// The ledger-write coordinator serializes every staged-ledger mutation onto
// the external worker: one request in flight, the rest queued FIFO.
// Responses must match the in-flight request by (kind, key); anything else
// is a protocol violation and fatal. Callbacks are registered action
// constructors, never closures, which keeps the reducer pure while giving
// call sites continuation semantics.

// LedgerWriteKind selects the worker operation.
type LedgerWriteKind string

const (
	LedgerWriteReconstruct LedgerWriteKind = "staged_ledger_reconstruct"
	LedgerWriteDiffCreate  LedgerWriteKind = "staged_ledger_diff_create"
	LedgerWriteBlockApply  LedgerWriteKind = "block_apply"
	LedgerWriteCommit      LedgerWriteKind = "commit"
)

// CallbackKind names the action constructor dispatched on response.
type CallbackKind string

const (
	CallbackSyncStagedReconstruct CallbackKind = "sync_staged_reconstruct"
	CallbackSyncBlockApply        CallbackKind = "sync_block_apply"
	CallbackSyncCommit            CallbackKind = "sync_commit"
	CallbackCandidateApply        CallbackKind = "candidate_apply"
	CallbackProducerDiffCreate    CallbackKind = "producer_diff_create"
)

// LedgerWriteRequest is one queued worker operation.
type LedgerWriteRequest struct {
	Kind LedgerWriteKind `json:"kind"`

	ReconstructHash LedgerHash `json:"reconstruct_hash,omitempty"`

	DiffPredHash     BlockHash         `json:"diff_pred_hash,omitempty"`
	DiffSlot         GlobalSlot        `json:"diff_slot,omitempty"`
	DiffTransactions []TransactionInfo `json:"diff_transactions,omitempty"`
	DiffCoinbase     CurrencyAmount    `json:"diff_coinbase,omitempty"`

	ApplyHash  BlockHash `json:"apply_hash,omitempty"`
	ApplyBlock *Block    `json:"apply_block,omitempty"`

	CommitHash BlockHash `json:"commit_hash,omitempty"`

	Callback CallbackKind `json:"callback"`
}

// Key identifies the request for response matching: reconstruct keys on the
// snarked hash, diff creation on (pred hash, slot), apply on the block
// hash, commit on the best-tip hash.
func (r *LedgerWriteRequest) Key() string {
	switch r.Kind {
	case LedgerWriteReconstruct:
		return fmt.Sprintf("reconstruct:%s", r.ReconstructHash.Hex())
	case LedgerWriteDiffCreate:
		return fmt.Sprintf("diff:%s:%d", r.DiffPredHash.Hex(), r.DiffSlot)
	case LedgerWriteBlockApply:
		return fmt.Sprintf("apply:%s", r.ApplyHash.Hex())
	case LedgerWriteCommit:
		return fmt.Sprintf("commit:%s", r.CommitHash.Hex())
	default:
		return string(r.Kind)
	}
}

// LedgerWriteResult is the worker's answer.
type LedgerWriteResult struct {
	StagedLedgerHash LedgerHash     `json:"staged_ledger_hash,omitempty"`
	Diff             []byte         `json:"diff,omitempty"`
	AvailableJobs    []SnarkJobInfo `json:"available_jobs,omitempty"`
}

// LedgerWriteState is the coordinator partition.
type LedgerWriteState struct {
	InFlight *LedgerWriteRequest  `json:"in_flight,omitempty"`
	Queue    []LedgerWriteRequest `json:"queue,omitempty"`
	Since    Timestamp            `json:"since,omitempty"`
}

func newLedgerWriteState() LedgerWriteState {
	return LedgerWriteState{}
}

// LedgerWriteAction tags coordinator transitions.
type LedgerWriteAction interface {
	Action
	isLedgerWriteAction()
}

type ledgerWriteTag struct{}

func (ledgerWriteTag) isLedgerWriteAction() {}

const (
	KindLedgerWriteInit       ActionKind = "LedgerWriteInit"
	KindLedgerWriteSuccess    ActionKind = "LedgerWriteSuccess"
	KindLedgerWriteError      ActionKind = "LedgerWriteError"
	KindLedgerWriteEffectExec ActionKind = "LedgerWriteEffectExec"
)

func init() {
	registerAction(KindLedgerWriteInit, func() Action { return &LedgerWriteInit{} })
	registerAction(KindLedgerWriteSuccess, func() Action { return &LedgerWriteSuccess{} })
	registerAction(KindLedgerWriteError, func() Action { return &LedgerWriteError{} })
	registerAction(KindLedgerWriteEffectExec, func() Action { return &LedgerWriteEffectExec{} })
}

// LedgerWriteInit enqueues a request, starting it immediately when the
// worker is free.
type LedgerWriteInit struct {
	ledgerWriteTag
	Request LedgerWriteRequest `json:"request"`
}

func (*LedgerWriteInit) Kind() ActionKind                      { return KindLedgerWriteInit }
func (a *LedgerWriteInit) Enabled(s *State, now Timestamp) bool { return true }

// LedgerWriteSuccess delivers the worker response for the in-flight key.
type LedgerWriteSuccess struct {
	ledgerWriteTag
	Key    string            `json:"key"`
	Result LedgerWriteResult `json:"result"`
}

func (*LedgerWriteSuccess) Kind() ActionKind { return KindLedgerWriteSuccess }
func (a *LedgerWriteSuccess) Enabled(s *State, now Timestamp) bool {
	return s.LedgerWrite.InFlight != nil
}

// LedgerWriteError fails the in-flight request.
type LedgerWriteError struct {
	ledgerWriteTag
	Key   string `json:"key"`
	Error string `json:"error"`
}

func (*LedgerWriteError) Kind() ActionKind { return KindLedgerWriteError }
func (a *LedgerWriteError) Enabled(s *State, now Timestamp) bool {
	return s.LedgerWrite.InFlight != nil
}

// LedgerWriteEffectExec hands the in-flight request to the worker service.
type LedgerWriteEffectExec struct {
	ledgerWriteTag
	Effect
	Request LedgerWriteRequest `json:"request"`
}

func (*LedgerWriteEffectExec) Kind() ActionKind                      { return KindLedgerWriteEffectExec }
func (a *LedgerWriteEffectExec) Enabled(s *State, now Timestamp) bool { return true }

func reduceLedgerWrite(s *State, a LedgerWriteAction, now Timestamp, emit Emitter) {
	lw := &s.LedgerWrite
	switch act := a.(type) {

	case *LedgerWriteInit:
		if lw.InFlight == nil {
			req := act.Request
			lw.InFlight = &req
			lw.Since = now
			emit(&LedgerWriteEffectExec{Request: req})
		} else {
			lw.Queue = append(lw.Queue, act.Request)
		}

	case *LedgerWriteSuccess:
		req := lw.InFlight
		if req.Key() != act.Key {
			// Key mismatch breaks the single-writer protocol; the
			// invariant checker turns this marker into a fatal stop.
			s.Stats.LedgerWriteViolations++
			return
		}
		lw.InFlight = nil
		dispatchLedgerCallback(req, act.Result, emit)
		startNextLedgerWrite(lw, now, emit)

	case *LedgerWriteError:
		req := lw.InFlight
		if req.Key() != act.Key {
			s.Stats.LedgerWriteViolations++
			return
		}
		lw.InFlight = nil
		s.Stats.LedgerWriteErrors++
		// The owning subsystem recovers through its own timeouts; the
		// producer additionally discards its slot.
		if req.Callback == CallbackProducerDiffCreate {
			emit(&ProducerDiscard{Reason: DiscardLedgerFailure})
		}
		startNextLedgerWrite(lw, now, emit)
	}
}

func startNextLedgerWrite(lw *LedgerWriteState, now Timestamp, emit Emitter) {
	if len(lw.Queue) == 0 {
		return
	}
	req := lw.Queue[0]
	lw.Queue = lw.Queue[1:]
	lw.InFlight = &req
	lw.Since = now
	emit(&LedgerWriteEffectExec{Request: req})
}

// dispatchLedgerCallback resolves the registered constructor for the
// finished request.
func dispatchLedgerCallback(req *LedgerWriteRequest, res LedgerWriteResult, emit Emitter) {
	switch req.Callback {
	case CallbackSyncStagedReconstruct:
		emit(&FrontierSyncStagedReconstructSuccess{StagedLedgerHash: res.StagedLedgerHash})
	case CallbackSyncBlockApply:
		emit(&FrontierSyncBlockApplySuccess{Hash: req.ApplyHash, AvailableJobs: res.AvailableJobs})
	case CallbackSyncCommit:
		emit(&FrontierSyncCommitSuccess{Hash: req.CommitHash})
	case CallbackCandidateApply:
		emit(&CandidateBlockApplySuccess{Hash: req.ApplyHash, AvailableJobs: res.AvailableJobs})
	case CallbackProducerDiffCreate:
		emit(&ProducerDiffCreateSuccess{Diff: res.Diff, StagedLedgerHash: res.StagedLedgerHash})
	}
}
