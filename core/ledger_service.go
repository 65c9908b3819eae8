package core

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// LedgerWorker is the external staged-ledger worker contract. The core
// calls exactly these four operations, strictly one at a time.
type LedgerWorker interface {
	StagedLedgerReconstruct(snarkedHash LedgerHash) (LedgerWriteResult, error)
	StagedLedgerDiffCreate(predHash BlockHash, slot GlobalSlot, txs []TransactionInfo) (LedgerWriteResult, error)
	BlockApply(block *Block) (LedgerWriteResult, error)
	Commit(bestTip BlockHash) (LedgerWriteResult, error)
}

// LedgerService runs worker requests off-thread and posts the results back
// as actions keyed to the in-flight request.
type LedgerService struct {
	logger *logrus.Logger
	store  *Store
	worker LedgerWorker
}

// NewLedgerService wires a worker.
func NewLedgerService(worker LedgerWorker, store *Store, lg *logrus.Logger) *LedgerService {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &LedgerService{logger: lg, store: store, worker: worker}
}

// HandleEffect executes one routed ledger-write request.
func (l *LedgerService) HandleEffect(a EffectAction) {
	exec, ok := a.(*LedgerWriteEffectExec)
	if !ok {
		return
	}
	req := exec.Request
	go func() {
		res, err := l.run(&req)
		if err != nil {
			l.store.Dispatch(&LedgerWriteError{Key: req.Key(), Error: err.Error()})
			return
		}
		l.store.Dispatch(&LedgerWriteSuccess{Key: req.Key(), Result: res})
	}()
}

func (l *LedgerService) run(req *LedgerWriteRequest) (LedgerWriteResult, error) {
	switch req.Kind {
	case LedgerWriteReconstruct:
		return l.worker.StagedLedgerReconstruct(req.ReconstructHash)
	case LedgerWriteDiffCreate:
		return l.worker.StagedLedgerDiffCreate(req.DiffPredHash, req.DiffSlot, req.DiffTransactions)
	case LedgerWriteBlockApply:
		return l.worker.BlockApply(req.ApplyBlock)
	case LedgerWriteCommit:
		return l.worker.Commit(req.CommitHash)
	default:
		return LedgerWriteResult{}, fmt.Errorf("unknown ledger write kind %s", req.Kind)
	}
}

// InMemoryLedgerWorker is the in-process worker used by tests and the solo
// development mode. The production deployment speaks the same contract to
// the external worker process.
type InMemoryLedgerWorker struct {
	mu sync.Mutex
	// stagedHashes pins reconstruct results per snarked hash; tests seed
	// it to drive the sync pipeline.
	stagedHashes map[LedgerHash]LedgerHash
	appliedJobs  map[BlockHash][]SnarkJobInfo
}

// NewInMemoryLedgerWorker builds an empty worker.
func NewInMemoryLedgerWorker() *InMemoryLedgerWorker {
	return &InMemoryLedgerWorker{
		stagedHashes: make(map[LedgerHash]LedgerHash),
		appliedJobs:  make(map[BlockHash][]SnarkJobInfo),
	}
}

// SeedReconstruct pins the staged hash returned for a snarked root.
func (w *InMemoryLedgerWorker) SeedReconstruct(snarked, staged LedgerHash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stagedHashes[snarked] = staged
}

// SeedJobs pins the available-work set surfaced after applying a block.
func (w *InMemoryLedgerWorker) SeedJobs(block BlockHash, jobs []SnarkJobInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appliedJobs[block] = jobs
}

func (w *InMemoryLedgerWorker) StagedLedgerReconstruct(snarkedHash LedgerHash) (LedgerWriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	staged, ok := w.stagedHashes[snarkedHash]
	if !ok {
		staged = HashBytes([]byte("staged"), snarkedHash.Bytes())
	}
	return LedgerWriteResult{StagedLedgerHash: staged}, nil
}

func (w *InMemoryLedgerWorker) StagedLedgerDiffCreate(predHash BlockHash, slot GlobalSlot, txs []TransactionInfo) (LedgerWriteResult, error) {
	var parts [][]byte
	parts = append(parts, predHash.Bytes())
	for _, tx := range txs {
		parts = append(parts, []byte(tx.ID))
	}
	diff := HashBytes(parts...)
	return LedgerWriteResult{
		Diff:             diff.Bytes(),
		StagedLedgerHash: HashBytes([]byte("staged-diff"), diff.Bytes()),
	}, nil
}

func (w *InMemoryLedgerWorker) BlockApply(block *Block) (LedgerWriteResult, error) {
	if block == nil {
		return LedgerWriteResult{}, fmt.Errorf("nil block")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	h := block.Header.HashOf()
	return LedgerWriteResult{
		StagedLedgerHash: block.Header.StagedLedgerHash,
		AvailableJobs:    w.appliedJobs[h],
	}, nil
}

func (w *InMemoryLedgerWorker) Commit(bestTip BlockHash) (LedgerWriteResult, error) {
	return LedgerWriteResult{}, nil
}
