package core

import "fmt"

// Runtime invariants asserted at the reducer boundary after every applied
// action. A violation is fatal: the store logs state and stops.

func checkInvariants(s *State, meta ActionMeta) error {
	if err := checkFrontierContiguity(s); err != nil {
		return fmt.Errorf("after %s: %w", meta.Kind, err)
	}
	if err := checkLedgerWriteSingle(s); err != nil {
		return fmt.Errorf("after %s: %w", meta.Kind, err)
	}
	if err := checkCommitmentUniqueness(s); err != nil {
		return fmt.Errorf("after %s: %w", meta.Kind, err)
	}
	if s.Stats.LedgerWriteViolations > 0 {
		return fmt.Errorf("after %s: ledger write response did not match in-flight key", meta.Kind)
	}
	return nil
}

// checkFrontierContiguity asserts the applied chain links by pred hash,
// increments length by one per block and never exceeds k+1 entries.
func checkFrontierContiguity(s *State) error {
	chain := s.TransitionFrontier.AppliedChain
	maxLen := int(s.Config.Protocol.K) + 1
	if len(chain) > maxLen {
		return fmt.Errorf("applied chain length %d exceeds k+1 = %d", len(chain), maxLen)
	}
	for i := 1; i < len(chain); i++ {
		prev, cur := &chain[i-1], &chain[i]
		if cur.Header.PredHash != prev.Hash {
			return fmt.Errorf("applied chain broken at %d: pred %s != %s", i, cur.Header.PredHash, prev.Hash)
		}
		if cur.Header.BlockchainLength != prev.Header.BlockchainLength+1 {
			return fmt.Errorf("applied chain length jump at %d: %d after %d", i, cur.Header.BlockchainLength, prev.Header.BlockchainLength)
		}
	}
	return nil
}

// checkLedgerWriteSingle asserts the single-writer discipline.
func checkLedgerWriteSingle(s *State) error {
	// The state shape already allows only one in-flight pointer; what can
	// break is a queued duplicate of the in-flight key.
	r := s.LedgerWrite.InFlight
	if r == nil {
		return nil
	}
	key := r.Key()
	for i := range s.LedgerWrite.Queue {
		if s.LedgerWrite.Queue[i].Key() == key {
			return fmt.Errorf("ledger write %s queued while in flight", key)
		}
	}
	return nil
}

// checkCommitmentUniqueness asserts at most one live commitment per job.
// The map shape enforces it structurally; the check guards the snark/fee
// relation instead: a delivered snark next to a live commitment must not
// exceed its fee.
func checkCommitmentUniqueness(s *State) error {
	for id, j := range s.SnarkPool.Jobs {
		if j.Snark == nil || j.Commitment == nil {
			continue
		}
		if j.Commitment.timedOut(j.Job, s.Clock.Time) {
			continue
		}
		if j.Snark.Fee > j.Commitment.Fee {
			return fmt.Errorf("job %s: snark fee %d above live commitment fee %d", id, j.Snark.Fee, j.Commitment.Fee)
		}
	}
	return nil
}
