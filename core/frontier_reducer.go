package core

import (
	"fmt"
	"sort"
)

// supportedBlockProtocolVersion is the protocol line this node follows.
const supportedBlockProtocolVersion = "3.0"

// syncFetchParallelism bounds concurrent GetTransitionChain requests.
const syncFetchParallelism = 4

// sortedReadyPeers returns ready peers in a fixed order so peer selection
// replays identically.
func sortedReadyPeers(s *State) []PeerID {
	peers := s.P2p.readyPeers()
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func reduceFrontier(s *State, a FrontierAction, now Timestamp, emit Emitter) {
	tf := &s.TransitionFrontier
	switch act := a.(type) {

	case *CandidateBlockReceived:
		h := act.Block.Header.HashOf()
		body := act.Block.Body
		tf.Candidates[h] = &CandidateState{
			Hash:       h,
			Header:     act.Block.Header,
			Body:       &body,
			ChainProof: act.ChainProof,
			Status:     CandidateReceived,
			Sender:     act.Sender,
			ReceivedAt: now,
		}
		emit(&CandidateBlockPrevalidate{Hash: h})

	case *CandidateBlockPrevalidate:
		c := tf.Candidates[act.Hash]
		if reason, forever := prevalidate(s, c, now); reason != "" {
			c.Status = CandidatePrevalidateError
			c.Error = reason
			if forever {
				tf.markForeverInvalid(c.Hash, reason)
			}
			delete(tf.Candidates, c.Hash)
			s.Stats.BlocksRejected++
			return
		}
		c.Status = CandidateSnarkVerifyPending
		emit(&FrontierEffectSnarkVerify{Hash: c.Hash, Header: c.Header})

	case *CandidateBlockSnarkVerifySuccess:
		c := tf.Candidates[act.Hash]
		c.Status = CandidateSnarkVerifySuccess
		if tip := tf.bestTip(); tip != nil {
			c.ForkRange = forkRangeKind(&tip.Header, &c.Header, s.Config.Protocol)
			c.ComparedWith = tip.Hash
			c.Status = CandidateForkRangeDetected
		}
		emit(&CandidateBestTipUpdate{Hash: c.Hash})

	case *CandidateBlockSnarkVerifyError:
		c := tf.Candidates[act.Hash]
		c.Status = CandidateSnarkVerifyError
		c.Error = act.Error
		tf.markForeverInvalid(act.Hash, act.Error)
		delete(tf.Candidates, act.Hash)
		s.Stats.BlocksRejected++

	case *CandidateBestTipUpdate:
		c := tf.Candidates[act.Hash]
		c.Status = CandidateBestTip
		tf.BestCandidate = act.Hash
		emit(&ProducerBestTipUpdate{Hash: c.Hash, Header: c.Header})
		tip := tf.bestTip()
		directExtension := tip != nil && c.Header.PredHash == tip.Hash
		if tip == nil && tf.Genesis.Block != nil {
			directExtension = c.Header.PredHash == tf.Genesis.Block.Header.HashOf()
		}
		if directExtension {
			blk := Block{Header: c.Header}
			if c.Body != nil {
				blk.Body = *c.Body
			}
			emit(&LedgerWriteInit{Request: LedgerWriteRequest{
				Kind:       LedgerWriteBlockApply,
				ApplyHash:  c.Hash,
				ApplyBlock: &blk,
				Callback:   CallbackCandidateApply,
			}})
		} else {
			emit(&FrontierSyncTargetUpdate{Hash: c.Hash})
		}

	case *CandidateBlockApplySuccess:
		c := tf.Candidates[act.Hash]
		applyBlockToChain(s, AppliedBlock{Hash: c.Hash, Header: c.Header}, now, emit)
		if len(act.AvailableJobs) > 0 {
			emit(&SnarkPoolJobsUpdate{Jobs: act.AvailableJobs})
		}
		emit(&CandidatePrune{})

	case *CandidatePrune:
		pruneCandidates(tf)

	case *FrontierSyncTargetUpdate:
		c := tf.Candidates[act.Hash]
		sy := &tf.Sync
		sy.Status = SyncSnarkedRootPending
		sy.TargetHash = c.Hash
		sy.TargetHeader = c.Header
		sy.RootHash = c.Header.PredHash
		sy.SnarkedLedgerHash = c.Header.SnarkedLedgerHash
		sy.NumAccountsExpected = 0
		sy.AccountsReceived = 0
		sy.BlocksToFetch = nil
		sy.FetchAttempts = make(map[BlockHash]*BlockFetchAttempt)
		sy.FetchedBlocks = make(map[BlockHash]*Block)
		sy.ApplyCursor = 0
		s.Stats.SyncTargetUpdates++
		startLedgerQuery(s, now, emit)

	case *FrontierSyncLedgerNumAccounts:
		sy := &tf.Sync
		sy.NumAccountsExpected = act.Num
		sy.LedgerQueryPending = false
		if act.Num == 0 {
			finishSnarkedRoot(s, emit)
		}

	case *FrontierSyncLedgerPartReceived:
		sy := &tf.Sync
		sy.AccountsReceived += act.Accounts
		sy.LedgerQuerySince = now
		if sy.AccountsReceived >= sy.NumAccountsExpected {
			sy.LedgerQueryPending = false
			finishSnarkedRoot(s, emit)
		}

	case *FrontierSyncLedgerQueryTimeout:
		// Rotate to the next ready peer and re-issue.
		startLedgerQuery(s, now, emit)

	case *FrontierSyncStagedReconstructSuccess:
		sy := &tf.Sync
		if act.StagedLedgerHash != sy.TargetHeader.StagedLedgerHash {
			// Reconstructed ledger does not match the target: restart the
			// snarked-root stage from scratch.
			sy.Status = SyncSnarkedRootPending
			sy.NumAccountsExpected = 0
			sy.AccountsReceived = 0
			s.Stats.SyncRestarts++
			startLedgerQuery(s, now, emit)
			return
		}
		sy.Status = SyncBlocksFetchPending
		c := tf.Candidates[sy.TargetHash]
		if c != nil {
			sy.BlocksToFetch = append([]BlockHash(nil), c.ChainProof...)
		}
		sy.BlocksToFetch = append(sy.BlocksToFetch, sy.TargetHash)
		scheduleBlockFetches(s, now, emit)

	case *FrontierSyncBlockFetchInit:
		sy := &tf.Sync
		at := sy.FetchAttempts[act.Hash]
		if at == nil {
			at = &BlockFetchAttempt{}
			sy.FetchAttempts[act.Hash] = at
		}
		at.Peer = act.Peer
		at.SentAt = now
		at.Attempts++
		payload, _ := act.Hash.MarshalJSON()
		emit(&P2pRpcQuerySend{Peer: act.Peer, Tag: RpcTagGetTransitionChain, Version: 1, Payload: payload})

	case *FrontierSyncBlockFetchSuccess:
		sy := &tf.Sync
		blk := act.Block
		sy.FetchedBlocks[act.Hash] = &blk
		delete(sy.FetchAttempts, act.Hash)
		scheduleBlockFetches(s, now, emit)
		if len(sy.FetchedBlocks) == len(sy.BlocksToFetch) {
			sy.Status = SyncBlocksApplyPending
			sy.ApplyCursor = 0
			submitNextApply(s, emit)
		}

	case *FrontierSyncBlockFetchTimeout:
		sy := &tf.Sync
		at := sy.FetchAttempts[act.Hash]
		peers := sortedReadyPeers(s)
		if len(peers) == 0 || at.Attempts >= len(peers) {
			// Peers exhausted: pause and rely on gossip to refresh the
			// candidate.
			delete(sy.FetchAttempts, act.Hash)
			s.Stats.SyncFetchStalls++
			return
		}
		next := peers[at.Attempts%len(peers)]
		emit(&FrontierSyncBlockFetchInit{Hash: act.Hash, Peer: next})

	case *FrontierSyncBlockApplySuccess:
		sy := &tf.Sync
		h := sy.BlocksToFetch[sy.ApplyCursor]
		blk := sy.FetchedBlocks[h]
		if sy.ApplyCursor == 0 {
			// The first synced block re-roots the frontier unless it
			// happens to extend the old tip directly.
			if tip := tf.bestTip(); tip == nil || blk.Header.PredHash != tip.Hash {
				tf.AppliedChain = nil
			}
		}
		applyBlockToChain(s, AppliedBlock{Hash: h, Header: blk.Header}, now, emit)
		if len(act.AvailableJobs) > 0 {
			emit(&SnarkPoolJobsUpdate{Jobs: act.AvailableJobs})
		}
		sy.ApplyCursor++
		if sy.ApplyCursor < len(sy.BlocksToFetch) {
			submitNextApply(s, emit)
			return
		}
		sy.Status = SyncCommitPending
		emit(&LedgerWriteInit{Request: LedgerWriteRequest{
			Kind:       LedgerWriteCommit,
			CommitHash: sy.TargetHash,
			Callback:   CallbackSyncCommit,
		}})

	case *FrontierSyncCommitSuccess:
		sy := &tf.Sync
		sy.Status = SyncSynced
		sy.FetchedBlocks = nil
		sy.FetchAttempts = nil
		s.Stats.SyncsCompleted++
		emit(&CandidatePrune{})

	case *GenesisLoadInit:
		tf.Genesis.Status = GenesisLoadPending
		emit(&GenesisEffectLoad{Path: s.Config.GenesisFile})

	case *GenesisLoadSuccess:
		blk := act.Block
		tf.Genesis.Status = GenesisProven
		tf.Genesis.Block = &blk
		if len(tf.AppliedChain) == 0 {
			tf.AppliedChain = append(tf.AppliedChain, AppliedBlock{
				Hash:   blk.Header.HashOf(),
				Header: blk.Header,
			})
		}
	}
}

// prevalidate runs the pure header checks. A non-empty reason rejects;
// forever marks the hash unrecoverable.
func prevalidate(s *State, c *CandidateState, now Timestamp) (reason string, forever bool) {
	tf := &s.TransitionFrontier
	if c.Header.ProtocolVersion != "" && c.Header.ProtocolVersion != supportedBlockProtocolVersion {
		return fmt.Sprintf("protocol version %s unsupported", c.Header.ProtocolVersion), true
	}
	if parent := tf.knownHeader(c.Header.PredHash); parent != nil {
		if c.Header.BlockchainLength != parent.BlockchainLength+1 {
			return fmt.Sprintf("length %d does not extend parent %d", c.Header.BlockchainLength, parent.BlockchainLength), true
		}
	} else if len(c.ChainProof) == 0 && len(tf.AppliedChain) > 0 {
		// Unknown parent and nothing to sync against: forget, do not ban.
		return "unknown parent", false
	}
	// A timestamp far in the future is rejected unless the block's global
	// slot runs ahead of the best tip by more than the configured
	// allowance, a concession to slow transports.
	if tip := tf.bestTip(); tip != nil {
		slotDiff := int64(c.Header.GlobalSlot) - int64(tip.Header.GlobalSlot)
		slack := Timestamp(s.Config.Protocol.SlotDuration.Nanoseconds())
		if c.Header.Timestamp > now+slack && slotDiff <= int64(s.Config.AllowedGlobalSlotDiff) {
			return "timestamp too far in the future", false
		}
	}
	if len(c.Header.Signature) == 0 {
		return "missing producer signature", true
	}
	return "", false
}

// applyBlockToChain extends the applied chain, enforcing contiguity and
// the k+1 length bound, and notifies the trackers.
func applyBlockToChain(s *State, blk AppliedBlock, now Timestamp, emit Emitter) {
	tf := &s.TransitionFrontier
	tf.AppliedChain = append(tf.AppliedChain, blk)
	maxLen := int(s.Config.Protocol.K) + 1
	for len(tf.AppliedChain) > maxLen {
		tf.AppliedChain = tf.AppliedChain[1:]
	}
	s.Stats.BlocksApplied++
	var commands []TransactionInfo
	if c, ok := tf.Candidates[blk.Hash]; ok && c.Body != nil {
		commands = c.Body.Commands
	} else if sb, ok := tf.Sync.FetchedBlocks[blk.Hash]; ok {
		commands = sb.Body.Commands
	}
	emit(&WatchedAccountsBlockApplied{Hash: blk.Hash, Commands: commands})
}

// pruneCandidates drops every candidate that is neither the best candidate
// nor on its ancestor path (chain proof or candidate-set walk) and whose
// length does not exceed the best candidate's. Longer candidates are kept.
// Candidates that failed validation were already removed when they failed.
func pruneCandidates(tf *TransitionFrontierState) {
	best, ok := tf.Candidates[tf.BestCandidate]
	if !ok {
		return
	}
	keep := map[BlockHash]bool{best.Hash: true}
	for _, h := range best.ChainProof {
		keep[h] = true
	}
	// Ancestor walk through the candidate set.
	cur := best.Header.PredHash
	for {
		c, ok := tf.Candidates[cur]
		if !ok {
			break
		}
		keep[cur] = true
		cur = c.Header.PredHash
	}
	for h, c := range tf.Candidates {
		if keep[h] {
			continue
		}
		if c.Header.BlockchainLength <= best.Header.BlockchainLength {
			delete(tf.Candidates, h)
		}
	}
}

// startLedgerQuery picks the next ready peer and asks for the snarked
// ledger root, starting with NumAccounts.
func startLedgerQuery(s *State, now Timestamp, emit Emitter) {
	sy := &s.TransitionFrontier.Sync
	peers := sortedReadyPeers(s)
	if len(peers) == 0 {
		sy.LedgerQueryPending = false
		return
	}
	idx := 0
	for i, p := range peers {
		if p == sy.LedgerQueryPeer {
			idx = (i + 1) % len(peers)
			break
		}
	}
	sy.LedgerQueryPeer = peers[idx]
	sy.LedgerQueryPending = true
	sy.LedgerQuerySince = now
	payload, _ := sy.SnarkedLedgerHash.MarshalJSON()
	emit(&P2pRpcQuerySend{Peer: sy.LedgerQueryPeer, Tag: RpcTagAnswerSyncLedgerQuery, Version: 3, Payload: payload})
}

// finishSnarkedRoot transitions to staged-ledger reconstruction.
func finishSnarkedRoot(s *State, emit Emitter) {
	sy := &s.TransitionFrontier.Sync
	sy.Status = SyncStagedReconstruct
	emit(&LedgerWriteInit{Request: LedgerWriteRequest{
		Kind:            LedgerWriteReconstruct,
		ReconstructHash: sy.SnarkedLedgerHash,
		Callback:        CallbackSyncStagedReconstruct,
	}})
}

// scheduleBlockFetches keeps up to syncFetchParallelism fetches in flight,
// distributing hashes across ready peers round-robin.
func scheduleBlockFetches(s *State, now Timestamp, emit Emitter) {
	sy := &s.TransitionFrontier.Sync
	peers := sortedReadyPeers(s)
	if len(peers) == 0 {
		return
	}
	inFlight := len(sy.FetchAttempts)
	next := 0
	for _, h := range sy.BlocksToFetch {
		if inFlight >= syncFetchParallelism {
			return
		}
		if _, done := sy.FetchedBlocks[h]; done {
			continue
		}
		if _, pending := sy.FetchAttempts[h]; pending {
			continue
		}
		peer := peers[next%len(peers)]
		next++
		inFlight++
		emit(&FrontierSyncBlockFetchInit{Hash: h, Peer: peer})
	}
}

// submitNextApply queues the next fetched block for the ledger worker.
func submitNextApply(s *State, emit Emitter) {
	sy := &s.TransitionFrontier.Sync
	h := sy.BlocksToFetch[sy.ApplyCursor]
	blk := sy.FetchedBlocks[h]
	emit(&LedgerWriteInit{Request: LedgerWriteRequest{
		Kind:       LedgerWriteBlockApply,
		ApplyHash:  h,
		ApplyBlock: blk,
		Callback:   CallbackSyncBlockApply,
	}})
}
