package core

import "bytes"

// Fork choice implements the two-case longest-chain selection. Forks that
// diverge within the same sub-window compare blockchain length directly;
// anything older compares minimum window density. Ties break on VRF output
// and then on state hash, so every decision is total and deterministic.

// consensusTakes reports whether candidate wins against current.
func consensusTakes(current, candidate *BlockHeader, currentHash, candidateHash BlockHash, constants ProtocolConstants) bool {
	if isShortRangeFork(current, candidate, constants) {
		return takesByLength(current, candidate, currentHash, candidateHash)
	}
	cd := current.MinWindowDensity
	nd := candidate.MinWindowDensity
	if nd != cd {
		return nd > cd
	}
	return takesByLength(current, candidate, currentHash, candidateHash)
}

// takesByLength is the short-range rule: greater length, then greater VRF
// output, then greater state hash.
func takesByLength(current, candidate *BlockHeader, currentHash, candidateHash BlockHash) bool {
	if candidate.BlockchainLength != current.BlockchainLength {
		return candidate.BlockchainLength > current.BlockchainLength
	}
	if c := bytes.Compare(candidate.VrfOutput, current.VrfOutput); c != 0 {
		return c > 0
	}
	return bytes.Compare(candidateHash.Bytes(), currentHash.Bytes()) > 0
}

// isShortRangeFork reports whether the two tips diverged within the same
// sub-window: same epoch seed lineage and both slots in the same
// sub-window (equal slot / slots-per-sub-window).
func isShortRangeFork(a, b *BlockHeader, constants ProtocolConstants) bool {
	if a.EpochSeed != b.EpochSeed {
		return false
	}
	span := GlobalSlot(constants.SlotsPerSubWindow)
	sa := a.GlobalSlot / span
	sb := b.GlobalSlot / span
	return sa == sb
}

// forkRangeKind classifies the comparison for candidate bookkeeping.
func forkRangeKind(a, b *BlockHeader, constants ProtocolConstants) ForkRangeKind {
	if isShortRangeFork(a, b, constants) {
		return ForkRangeShort
	}
	return ForkRangeLong
}
