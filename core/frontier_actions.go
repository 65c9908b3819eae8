package core

// FrontierAction tags every transition-frontier transition.
type FrontierAction interface {
	Action
	isFrontierAction()
}

type frontierTag struct{}

func (frontierTag) isFrontierAction() {}

const (
	KindCandidateBlockReceived          ActionKind = "CandidateBlockReceived"
	KindCandidateBlockPrevalidate       ActionKind = "CandidateBlockPrevalidate"
	KindCandidateBlockSnarkVerifySuccess ActionKind = "CandidateBlockSnarkVerifySuccess"
	KindCandidateBlockSnarkVerifyError  ActionKind = "CandidateBlockSnarkVerifyError"
	KindCandidateBestTipUpdate          ActionKind = "CandidateBestTipUpdate"
	KindCandidateBlockApplySuccess      ActionKind = "CandidateBlockApplySuccess"
	KindCandidatePrune                  ActionKind = "CandidatePrune"

	KindFrontierSyncTargetUpdate           ActionKind = "FrontierSyncTargetUpdate"
	KindFrontierSyncLedgerNumAccounts      ActionKind = "FrontierSyncLedgerNumAccounts"
	KindFrontierSyncLedgerPartReceived     ActionKind = "FrontierSyncLedgerPartReceived"
	KindFrontierSyncLedgerQueryTimeout     ActionKind = "FrontierSyncLedgerQueryTimeout"
	KindFrontierSyncStagedReconstructSuccess ActionKind = "FrontierSyncStagedReconstructSuccess"
	KindFrontierSyncBlockFetchInit         ActionKind = "FrontierSyncBlockFetchInit"
	KindFrontierSyncBlockFetchSuccess      ActionKind = "FrontierSyncBlockFetchSuccess"
	KindFrontierSyncBlockFetchTimeout      ActionKind = "FrontierSyncBlockFetchTimeout"
	KindFrontierSyncBlockApplySuccess      ActionKind = "FrontierSyncBlockApplySuccess"
	KindFrontierSyncCommitSuccess          ActionKind = "FrontierSyncCommitSuccess"

	KindGenesisLoadInit    ActionKind = "GenesisLoadInit"
	KindGenesisLoadSuccess ActionKind = "GenesisLoadSuccess"

	KindFrontierEffectSnarkVerify ActionKind = "FrontierEffectSnarkVerify"
	KindGenesisEffectLoad         ActionKind = "GenesisEffectLoad"
)

func init() {
	registerAction(KindCandidateBlockReceived, func() Action { return &CandidateBlockReceived{} })
	registerAction(KindCandidateBlockPrevalidate, func() Action { return &CandidateBlockPrevalidate{} })
	registerAction(KindCandidateBlockSnarkVerifySuccess, func() Action { return &CandidateBlockSnarkVerifySuccess{} })
	registerAction(KindCandidateBlockSnarkVerifyError, func() Action { return &CandidateBlockSnarkVerifyError{} })
	registerAction(KindCandidateBestTipUpdate, func() Action { return &CandidateBestTipUpdate{} })
	registerAction(KindCandidateBlockApplySuccess, func() Action { return &CandidateBlockApplySuccess{} })
	registerAction(KindCandidatePrune, func() Action { return &CandidatePrune{} })
	registerAction(KindFrontierSyncTargetUpdate, func() Action { return &FrontierSyncTargetUpdate{} })
	registerAction(KindFrontierSyncLedgerNumAccounts, func() Action { return &FrontierSyncLedgerNumAccounts{} })
	registerAction(KindFrontierSyncLedgerPartReceived, func() Action { return &FrontierSyncLedgerPartReceived{} })
	registerAction(KindFrontierSyncLedgerQueryTimeout, func() Action { return &FrontierSyncLedgerQueryTimeout{} })
	registerAction(KindFrontierSyncStagedReconstructSuccess, func() Action { return &FrontierSyncStagedReconstructSuccess{} })
	registerAction(KindFrontierSyncBlockFetchInit, func() Action { return &FrontierSyncBlockFetchInit{} })
	registerAction(KindFrontierSyncBlockFetchSuccess, func() Action { return &FrontierSyncBlockFetchSuccess{} })
	registerAction(KindFrontierSyncBlockFetchTimeout, func() Action { return &FrontierSyncBlockFetchTimeout{} })
	registerAction(KindFrontierSyncBlockApplySuccess, func() Action { return &FrontierSyncBlockApplySuccess{} })
	registerAction(KindFrontierSyncCommitSuccess, func() Action { return &FrontierSyncCommitSuccess{} })
	registerAction(KindGenesisLoadInit, func() Action { return &GenesisLoadInit{} })
	registerAction(KindGenesisLoadSuccess, func() Action { return &GenesisLoadSuccess{} })
	registerAction(KindFrontierEffectSnarkVerify, func() Action { return &FrontierEffectSnarkVerify{} })
	registerAction(KindGenesisEffectLoad, func() Action { return &GenesisEffectLoad{} })
}

// CandidateBlockReceived brings a gossiped or injected block into the
// candidate set. Forever-invalid hashes are refused here.
type CandidateBlockReceived struct {
	frontierTag
	Block      Block       `json:"block"`
	ChainProof []BlockHash `json:"chain_proof,omitempty"`
	Sender     PeerID      `json:"sender,omitempty"`
}

func (*CandidateBlockReceived) Kind() ActionKind { return KindCandidateBlockReceived }
func (a *CandidateBlockReceived) Enabled(s *State, now Timestamp) bool {
	h := a.Block.Header.HashOf()
	tf := &s.TransitionFrontier
	if _, bad := tf.ForeverInvalid[h]; bad {
		return false
	}
	if _, dup := tf.Candidates[h]; dup {
		return false
	}
	for i := range tf.AppliedChain {
		if tf.AppliedChain[i].Hash == h {
			return false
		}
	}
	return true
}

// CandidateBlockPrevalidate runs the pure header checks.
type CandidateBlockPrevalidate struct {
	frontierTag
	Hash BlockHash `json:"hash"`
}

func (*CandidateBlockPrevalidate) Kind() ActionKind { return KindCandidateBlockPrevalidate }
func (a *CandidateBlockPrevalidate) Enabled(s *State, now Timestamp) bool {
	c, ok := s.TransitionFrontier.Candidates[a.Hash]
	return ok && c.Status == CandidateReceived
}

// CandidateBlockSnarkVerifySuccess reports the verifier accepting the
// header proof and signature.
type CandidateBlockSnarkVerifySuccess struct {
	frontierTag
	Hash BlockHash `json:"hash"`
}

func (*CandidateBlockSnarkVerifySuccess) Kind() ActionKind { return KindCandidateBlockSnarkVerifySuccess }
func (a *CandidateBlockSnarkVerifySuccess) Enabled(s *State, now Timestamp) bool {
	c, ok := s.TransitionFrontier.Candidates[a.Hash]
	return ok && c.Status == CandidateSnarkVerifyPending
}

// CandidateBlockSnarkVerifyError rejects the block forever.
type CandidateBlockSnarkVerifyError struct {
	frontierTag
	Hash  BlockHash `json:"hash"`
	Error string    `json:"error"`
}

func (*CandidateBlockSnarkVerifyError) Kind() ActionKind { return KindCandidateBlockSnarkVerifyError }
func (a *CandidateBlockSnarkVerifyError) Enabled(s *State, now Timestamp) bool {
	c, ok := s.TransitionFrontier.Candidates[a.Hash]
	return ok && c.Status == CandidateSnarkVerifyPending
}

// CandidateBestTipUpdate promotes a verified candidate that wins fork
// choice against every applied tip.
type CandidateBestTipUpdate struct {
	frontierTag
	Hash BlockHash `json:"hash"`
}

func (*CandidateBestTipUpdate) Kind() ActionKind { return KindCandidateBestTipUpdate }
func (a *CandidateBestTipUpdate) Enabled(s *State, now Timestamp) bool {
	tf := &s.TransitionFrontier
	c, ok := tf.Candidates[a.Hash]
	if !ok {
		return false
	}
	if c.Status != CandidateSnarkVerifySuccess && c.Status != CandidateForkRangeDetected {
		return false
	}
	tip := tf.bestTip()
	if tip == nil {
		return true
	}
	return consensusTakes(&tip.Header, &c.Header, tip.Hash, c.Hash, s.Config.Protocol)
}

// CandidateBlockApplySuccess lands a direct-extension block on the applied
// chain. Arrives via the ledger-write callback.
type CandidateBlockApplySuccess struct {
	frontierTag
	Hash          BlockHash       `json:"hash"`
	AvailableJobs []SnarkJobInfo  `json:"available_jobs,omitempty"`
}

func (*CandidateBlockApplySuccess) Kind() ActionKind { return KindCandidateBlockApplySuccess }
func (a *CandidateBlockApplySuccess) Enabled(s *State, now Timestamp) bool {
	_, ok := s.TransitionFrontier.Candidates[a.Hash]
	return ok
}

// CandidatePrune drops candidates no longer reachable from the best tip.
type CandidatePrune struct {
	frontierTag
}

func (*CandidatePrune) Kind() ActionKind { return KindCandidatePrune }
func (a *CandidatePrune) Enabled(s *State, now Timestamp) bool {
	return len(s.TransitionFrontier.Candidates) > 0
}

// FrontierSyncTargetUpdate points the sync pipeline at a new best tip that
// is not a direct extension.
type FrontierSyncTargetUpdate struct {
	frontierTag
	Hash BlockHash `json:"hash"`
}

func (*FrontierSyncTargetUpdate) Kind() ActionKind { return KindFrontierSyncTargetUpdate }
func (a *FrontierSyncTargetUpdate) Enabled(s *State, now Timestamp) bool {
	c, ok := s.TransitionFrontier.Candidates[a.Hash]
	if !ok {
		return false
	}
	return c.Status == CandidateBestTip && s.TransitionFrontier.Sync.TargetHash != a.Hash
}

// FrontierSyncLedgerNumAccounts answers the NumAccounts subtree query.
type FrontierSyncLedgerNumAccounts struct {
	frontierTag
	Num uint64 `json:"num"`
}

func (*FrontierSyncLedgerNumAccounts) Kind() ActionKind { return KindFrontierSyncLedgerNumAccounts }
func (a *FrontierSyncLedgerNumAccounts) Enabled(s *State, now Timestamp) bool {
	sy := &s.TransitionFrontier.Sync
	return sy.Status == SyncSnarkedRootPending && sy.NumAccountsExpected == 0
}

// FrontierSyncLedgerPartReceived accounts one answered subtree query
// (WhatChildHashes / WhatContents).
type FrontierSyncLedgerPartReceived struct {
	frontierTag
	Accounts uint64 `json:"accounts"`
}

func (*FrontierSyncLedgerPartReceived) Kind() ActionKind { return KindFrontierSyncLedgerPartReceived }
func (a *FrontierSyncLedgerPartReceived) Enabled(s *State, now Timestamp) bool {
	sy := &s.TransitionFrontier.Sync
	return sy.Status == SyncSnarkedRootPending && sy.NumAccountsExpected > 0
}

// FrontierSyncLedgerQueryTimeout rotates the ledger-query peer.
type FrontierSyncLedgerQueryTimeout struct {
	frontierTag
}

func (*FrontierSyncLedgerQueryTimeout) Kind() ActionKind { return KindFrontierSyncLedgerQueryTimeout }
func (a *FrontierSyncLedgerQueryTimeout) Enabled(s *State, now Timestamp) bool {
	sy := &s.TransitionFrontier.Sync
	if sy.Status != SyncSnarkedRootPending || !sy.LedgerQueryPending {
		return false
	}
	return now.After(sy.LedgerQuerySince.Add(s.Config.Timeouts.LedgerQuery))
}

// FrontierSyncStagedReconstructSuccess lands the reconstructed staged
// ledger; the hash must match the sync target.
type FrontierSyncStagedReconstructSuccess struct {
	frontierTag
	StagedLedgerHash LedgerHash `json:"staged_ledger_hash"`
}

func (*FrontierSyncStagedReconstructSuccess) Kind() ActionKind {
	return KindFrontierSyncStagedReconstructSuccess
}
func (a *FrontierSyncStagedReconstructSuccess) Enabled(s *State, now Timestamp) bool {
	return s.TransitionFrontier.Sync.Status == SyncStagedReconstruct
}

// FrontierSyncBlockFetchInit issues one GetTransitionChain towards a ready
// peer.
type FrontierSyncBlockFetchInit struct {
	frontierTag
	Hash BlockHash `json:"hash"`
	Peer PeerID    `json:"peer"`
}

func (*FrontierSyncBlockFetchInit) Kind() ActionKind { return KindFrontierSyncBlockFetchInit }
func (a *FrontierSyncBlockFetchInit) Enabled(s *State, now Timestamp) bool {
	sy := &s.TransitionFrontier.Sync
	if sy.Status != SyncBlocksFetchPending {
		return false
	}
	if _, fetched := sy.FetchedBlocks[a.Hash]; fetched {
		return false
	}
	ps, ok := s.P2p.Peers[a.Peer]
	return ok && ps.Status == PeerStatusReady
}

// FrontierSyncBlockFetchSuccess stores one fetched block.
type FrontierSyncBlockFetchSuccess struct {
	frontierTag
	Hash  BlockHash `json:"hash"`
	Block Block     `json:"block"`
}

func (*FrontierSyncBlockFetchSuccess) Kind() ActionKind { return KindFrontierSyncBlockFetchSuccess }
func (a *FrontierSyncBlockFetchSuccess) Enabled(s *State, now Timestamp) bool {
	sy := &s.TransitionFrontier.Sync
	if sy.Status != SyncBlocksFetchPending {
		return false
	}
	_, pending := sy.FetchAttempts[a.Hash]
	return pending
}

// FrontierSyncBlockFetchTimeout expires one fetch and rotates the peer.
type FrontierSyncBlockFetchTimeout struct {
	frontierTag
	Hash BlockHash `json:"hash"`
}

func (*FrontierSyncBlockFetchTimeout) Kind() ActionKind { return KindFrontierSyncBlockFetchTimeout }
func (a *FrontierSyncBlockFetchTimeout) Enabled(s *State, now Timestamp) bool {
	sy := &s.TransitionFrontier.Sync
	if sy.Status != SyncBlocksFetchPending {
		return false
	}
	at, ok := sy.FetchAttempts[a.Hash]
	if !ok {
		return false
	}
	return now.After(at.SentAt.Add(s.Config.Timeouts.BlockFetch))
}

// FrontierSyncBlockApplySuccess lands one synced block on the chain.
type FrontierSyncBlockApplySuccess struct {
	frontierTag
	Hash          BlockHash      `json:"hash"`
	AvailableJobs []SnarkJobInfo `json:"available_jobs,omitempty"`
}

func (*FrontierSyncBlockApplySuccess) Kind() ActionKind { return KindFrontierSyncBlockApplySuccess }
func (a *FrontierSyncBlockApplySuccess) Enabled(s *State, now Timestamp) bool {
	return s.TransitionFrontier.Sync.Status == SyncBlocksApplyPending
}

// FrontierSyncCommitSuccess finishes the pipeline after re-rooting.
type FrontierSyncCommitSuccess struct {
	frontierTag
	Hash BlockHash `json:"hash"`
}

func (*FrontierSyncCommitSuccess) Kind() ActionKind { return KindFrontierSyncCommitSuccess }
func (a *FrontierSyncCommitSuccess) Enabled(s *State, now Timestamp) bool {
	return s.TransitionFrontier.Sync.Status == SyncCommitPending
}

// GenesisLoadInit starts loading the proven genesis block.
type GenesisLoadInit struct {
	frontierTag
}

func (*GenesisLoadInit) Kind() ActionKind { return KindGenesisLoadInit }
func (a *GenesisLoadInit) Enabled(s *State, now Timestamp) bool {
	return s.TransitionFrontier.Genesis.Status == GenesisNotLoaded
}

// GenesisLoadSuccess installs the proven genesis block.
type GenesisLoadSuccess struct {
	frontierTag
	Block Block `json:"block"`
}

func (*GenesisLoadSuccess) Kind() ActionKind { return KindGenesisLoadSuccess }
func (a *GenesisLoadSuccess) Enabled(s *State, now Timestamp) bool {
	return s.TransitionFrontier.Genesis.Status == GenesisLoadPending
}

// FrontierEffectSnarkVerify asks the verifier service to check a header.
type FrontierEffectSnarkVerify struct {
	frontierTag
	Effect
	Hash   BlockHash   `json:"hash"`
	Header BlockHeader `json:"header"`
}

func (*FrontierEffectSnarkVerify) Kind() ActionKind                      { return KindFrontierEffectSnarkVerify }
func (a *FrontierEffectSnarkVerify) Enabled(s *State, now Timestamp) bool { return true }

// GenesisEffectLoad asks the service to load and prove genesis.
type GenesisEffectLoad struct {
	frontierTag
	Effect
	Path string `json:"path"`
}

func (*GenesisEffectLoad) Kind() ActionKind                      { return KindGenesisEffectLoad }
func (a *GenesisEffectLoad) Enabled(s *State, now Timestamp) bool { return true }
