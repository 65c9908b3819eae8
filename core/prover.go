package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Prover is the blockchain-snark contract: a witness goes in, opaque proof
// bytes come out. Circuit internals stay behind this interface.
type Prover interface {
	ProveBlock(block *Block) ([]byte, error)
}

// BlockVerifier checks a candidate header's proof and signature.
type BlockVerifier interface {
	VerifyHeader(header *BlockHeader) error
}

// ProverService owns the prover context, the verifier indices and the vrf
// evaluation loop; the reducer drives all three through effects.
type ProverService struct {
	logger   *logrus.Logger
	store    *Store
	cfg      *Config
	prover   Prover
	verifier BlockVerifier
}

// NewProverService wires the proof collaborators.
func NewProverService(cfg *Config, prover Prover, verifier BlockVerifier, store *Store, lg *logrus.Logger) *ProverService {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &ProverService{logger: lg, store: store, cfg: cfg, prover: prover, verifier: verifier}
}

// HandleEffect executes one routed proving or verification request.
func (p *ProverService) HandleEffect(a EffectAction) {
	switch act := a.(type) {
	case *FrontierEffectSnarkVerify:
		hdr := act.Header
		go func() {
			if err := p.verifier.VerifyHeader(&hdr); err != nil {
				p.store.Dispatch(&CandidateBlockSnarkVerifyError{Hash: act.Hash, Error: err.Error()})
				return
			}
			p.store.Dispatch(&CandidateBlockSnarkVerifySuccess{Hash: act.Hash})
		}()
	case *ProducerEffectProve:
		blk := act.Block
		go func() {
			proof, err := p.prover.ProveBlock(&blk)
			if err != nil {
				p.store.Dispatch(&ProducerProveError{Error: err.Error()})
				return
			}
			p.store.Dispatch(&ProducerProveSuccess{Proof: proof})
		}()
	case *ProducerEffectVrfEvaluate:
		req := *act
		go p.evaluateSlots(&req)
	}
}

// evaluateSlots scans the requested slot window against the staking
// distribution and posts the winners.
func (p *ProverService) evaluateSlots(req *ProducerEffectVrfEvaluate) {
	var won []WonSlot
	slotNs := p.cfg.Protocol.SlotDuration.Nanoseconds()
	for slot := req.FromSlot; slot <= req.ToSlot; slot++ {
		out := EvaluateVrf(req.EpochSeed, slot, p.cfg.Producer.PublicKey)
		if VrfThresholdMet(out, req.Stake, req.Total, p.cfg.Protocol) {
			won = append(won, WonSlot{
				Slot:      slot,
				SlotTime:  Timestamp(int64(slot) * slotNs),
				VrfOutput: out,
				Stake:     req.Stake,
			})
		}
	}
	p.store.Dispatch(&ProducerVrfEvaluationSuccess{WonSlots: won, Cursor: req.ToSlot + 1})
}

// StubProver hashes the header in place of the real pickles pipeline. The
// production binary swaps in the external prover.
type StubProver struct{}

func (StubProver) ProveBlock(block *Block) ([]byte, error) {
	if block == nil {
		return nil, fmt.Errorf("nil block")
	}
	h := block.Header.HashOf()
	proof := HashBytes([]byte("block-proof"), h.Bytes())
	return proof.Bytes(), nil
}

// StubVerifier accepts structurally complete headers.
type StubVerifier struct{}

func (StubVerifier) VerifyHeader(header *BlockHeader) error {
	if header == nil {
		return fmt.Errorf("nil header")
	}
	if len(header.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	if len(header.VrfOutput) == 0 {
		return fmt.Errorf("missing vrf output")
	}
	return nil
}
