package core

import (
	"encoding/binary"
	"math/big"
)

// The VRF evaluator decides slot leadership: for each slot of the epoch,
// vrf(sk, seed, slot) wins when its fractional value over 2^253 stays
// under the threshold 1 - (1 - f)^(stake/total). The threshold is computed
// as a closed-form series approximation at fixed precision so every node
// derives the same rationals.

// vrfFloatPrec is the fixed big.Float precision of the threshold math.
const vrfFloatPrec = 256

// vrfSeriesTerms bounds both series expansions.
const vrfSeriesTerms = 64

// VrfEvaluatorStatus is the evaluator lifecycle.
type VrfEvaluatorStatus string

const (
	VrfEvaluatorIdle       VrfEvaluatorStatus = "idle"
	VrfEvaluatorReady      VrfEvaluatorStatus = "ready"
	VrfEvaluatorEvaluating VrfEvaluatorStatus = "evaluating"
)

// WonSlot is one slot our stake won.
type WonSlot struct {
	Slot      GlobalSlot     `json:"slot"`
	SlotTime  Timestamp      `json:"slot_time"`
	VrfOutput []byte         `json:"vrf_output"`
	Stake     CurrencyAmount `json:"stake"`
}

// VrfEvaluatorState drives the slot scan over the staking epoch ledger.
type VrfEvaluatorState struct {
	Status              VrfEvaluatorStatus `json:"status"`
	EpochSeed           Hash               `json:"epoch_seed,omitempty"`
	EpochLedgerHash     LedgerHash         `json:"epoch_ledger_hash,omitempty"`
	NextEpochLedgerHash LedgerHash         `json:"next_epoch_ledger_hash,omitempty"`
	DelegatedStake      CurrencyAmount     `json:"delegated_stake"`
	TotalCurrency       CurrencyAmount     `json:"total_currency"`
	SlotCursor          GlobalSlot         `json:"slot_cursor"`
	WonSlots            []WonSlot          `json:"won_slots,omitempty"`
}

// vrfThreshold computes 1 - (1 - f)^(stake/total) at fixed precision.
func vrfThreshold(stake, total CurrencyAmount, constants ProtocolConstants) *big.Float {
	if total == 0 || stake == 0 {
		return big.NewFloat(0).SetPrec(vrfFloatPrec)
	}
	f := new(big.Float).SetPrec(vrfFloatPrec).Quo(
		new(big.Float).SetPrec(vrfFloatPrec).SetUint64(constants.FNumerator),
		new(big.Float).SetPrec(vrfFloatPrec).SetUint64(constants.FDenominator),
	)
	x := new(big.Float).SetPrec(vrfFloatPrec).Quo(
		new(big.Float).SetPrec(vrfFloatPrec).SetUint64(uint64(stake)),
		new(big.Float).SetPrec(vrfFloatPrec).SetUint64(uint64(total)),
	)
	// ln(1-f) = -(f + f^2/2 + f^3/3 + …)
	lnOneMinusF := new(big.Float).SetPrec(vrfFloatPrec)
	pow := new(big.Float).SetPrec(vrfFloatPrec).SetInt64(1)
	for k := 1; k <= vrfSeriesTerms; k++ {
		pow.Mul(pow, f)
		term := new(big.Float).SetPrec(vrfFloatPrec).Quo(pow, big.NewFloat(float64(k)).SetPrec(vrfFloatPrec))
		lnOneMinusF.Sub(lnOneMinusF, term)
	}
	// y = x * ln(1-f); exp(y) = Σ y^k / k!
	y := new(big.Float).SetPrec(vrfFloatPrec).Mul(x, lnOneMinusF)
	expY := new(big.Float).SetPrec(vrfFloatPrec).SetInt64(1)
	term := new(big.Float).SetPrec(vrfFloatPrec).SetInt64(1)
	for k := 1; k <= vrfSeriesTerms; k++ {
		term.Mul(term, y)
		term.Quo(term, big.NewFloat(float64(k)).SetPrec(vrfFloatPrec))
		expY.Add(expY, term)
	}
	// threshold = 1 - (1-f)^x = 1 - exp(y)
	one := new(big.Float).SetPrec(vrfFloatPrec).SetInt64(1)
	return new(big.Float).SetPrec(vrfFloatPrec).Sub(one, expY)
}

// vrfOutputFraction interprets the low 253 bits of the output as a ratio
// over 2^253.
func vrfOutputFraction(output []byte) *big.Float {
	n := new(big.Int).SetBytes(output)
	mask := new(big.Int).Lsh(big.NewInt(1), 253)
	mask.Sub(mask, big.NewInt(1))
	n.And(n, mask)
	num := new(big.Float).SetPrec(vrfFloatPrec).SetInt(n)
	den := new(big.Float).SetPrec(vrfFloatPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), 253))
	return num.Quo(num, den)
}

// VrfThresholdMet reports whether an output wins the slot for the given
// stake.
func VrfThresholdMet(output []byte, stake, total CurrencyAmount, constants ProtocolConstants) bool {
	if len(output) == 0 {
		return false
	}
	return vrfOutputFraction(output).Cmp(vrfThreshold(stake, total, constants)) <= 0
}

// EvaluateVrf is the deterministic stand-in evaluation the vrf service
// runs per slot: a keyed digest of (seed, slot, producer key). The real
// curve evaluation plugs in behind the same signature.
func EvaluateVrf(seed Hash, slot GlobalSlot, producerKey []byte) []byte {
	var slotBytes [4]byte
	binary.BigEndian.PutUint32(slotBytes[:], uint32(slot))
	h := HashBytes(seed.Bytes(), slotBytes[:], producerKey)
	return h.Bytes()
}
