package core

import "encoding/json"

// BlockHeader carries the consensus-relevant header fields. Everything the
// proof system owns stays opaque behind the verifier service.
type BlockHeader struct {
	PredHash               BlockHash  `json:"pred_hash"`
	BlockchainLength       uint32     `json:"blockchain_length"`
	GlobalSlot             GlobalSlot `json:"global_slot"`
	GlobalSlotSinceGenesis GlobalSlot `json:"global_slot_since_genesis"`
	Timestamp              Timestamp  `json:"timestamp"`
	VrfOutput              []byte     `json:"vrf_output"`
	MinWindowDensity       uint32     `json:"min_window_density"`
	SubWindowDensities     []uint32   `json:"sub_window_densities"`
	EpochSeed              Hash       `json:"epoch_seed"`
	SnarkedLedgerHash      LedgerHash `json:"snarked_ledger_hash"`
	StagedLedgerHash       LedgerHash `json:"staged_ledger_hash"`
	ProducerKey            []byte     `json:"producer_key"`
	Signature              []byte     `json:"signature"`
	ProtocolVersion        string     `json:"protocol_version"`
}

// HashOf digests the header. Candidates and the applied chain key on it.
func (h *BlockHeader) HashOf() BlockHash {
	raw, err := json.Marshal(h)
	if err != nil {
		panic(err)
	}
	return HashBytes(raw)
}

// BlockBody is the staged-ledger diff plus the commands it carries. The
// diff itself is opaque; commands are surfaced so the watched-accounts
// tracker can scan them.
type BlockBody struct {
	Diff     []byte            `json:"diff"`
	Commands []TransactionInfo `json:"commands,omitempty"`
}

// Block is a full block as gossiped. Proof is the opaque blockchain snark.
type Block struct {
	Header BlockHeader `json:"header"`
	Body   BlockBody   `json:"body"`
	Proof  []byte      `json:"proof,omitempty"`
}

// TransactionInfo is one user command in the minimal shape the core needs:
// fee ordering for diff creation and account references for the tracker.
type TransactionInfo struct {
	ID             string         `json:"id"`
	Fee            CurrencyAmount `json:"fee"`
	AccountUpdates int            `json:"account_updates"`
	Accounts       []AccountId    `json:"accounts"`
	Payload        []byte         `json:"payload"`
}

// CandidateStatus is the candidate-block lifecycle.
type CandidateStatus string

const (
	CandidateReceived           CandidateStatus = "received"
	CandidatePrevalidateError   CandidateStatus = "prevalidate_error"
	CandidatePrevalidated       CandidateStatus = "prevalidated"
	CandidateSnarkVerifyPending CandidateStatus = "snark_verify_pending"
	CandidateSnarkVerifyError   CandidateStatus = "snark_verify_error"
	CandidateSnarkVerifySuccess CandidateStatus = "snark_verify_success"
	CandidateForkRangeDetected  CandidateStatus = "fork_range_detected"
	CandidateBestTip            CandidateStatus = "best_tip"
)

// ForkRangeKind distinguishes the two consensus comparison cases.
type ForkRangeKind string

const (
	ForkRangeShort ForkRangeKind = "short"
	ForkRangeLong  ForkRangeKind = "long"
)

// CandidateState is one received block working through validation.
type CandidateState struct {
	Hash       BlockHash       `json:"hash"`
	Header     BlockHeader     `json:"header"`
	Body       *BlockBody      `json:"body,omitempty"`
	ChainProof []BlockHash     `json:"chain_proof,omitempty"`
	Status     CandidateStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Sender     PeerID          `json:"sender,omitempty"`
	ReceivedAt Timestamp       `json:"received_at"`

	ForkRange    ForkRangeKind `json:"fork_range,omitempty"`
	ComparedWith BlockHash     `json:"compared_with,omitempty"`
}

// AppliedBlock is one entry of the applied chain.
type AppliedBlock struct {
	Hash   BlockHash   `json:"hash"`
	Header BlockHeader `json:"header"`
}

// SyncStatus names the sync pipeline stages.
type SyncStatus string

const (
	SyncIdle                SyncStatus = "idle"
	SyncSnarkedRootPending  SyncStatus = "snarked_root_pending"
	SyncStagedReconstruct   SyncStatus = "staged_reconstruct_pending"
	SyncBlocksFetchPending  SyncStatus = "blocks_fetch_pending"
	SyncBlocksApplyPending  SyncStatus = "blocks_apply_pending"
	SyncCommitPending       SyncStatus = "commit_pending"
	SyncSynced              SyncStatus = "synced"
)

// BlockFetchAttempt tracks one outstanding GetTransitionChain request.
type BlockFetchAttempt struct {
	Peer     PeerID    `json:"peer"`
	SentAt   Timestamp `json:"sent_at"`
	Attempts int       `json:"attempts"`
}

// SyncState drives the five-stage pipeline towards a sync target.
type SyncState struct {
	Status       SyncStatus  `json:"status"`
	TargetHash   BlockHash   `json:"target_hash,omitempty"`
	TargetHeader BlockHeader `json:"target_header,omitempty"`
	RootHash     BlockHash   `json:"root_hash,omitempty"`

	SnarkedLedgerHash    LedgerHash `json:"snarked_ledger_hash,omitempty"`
	NumAccountsExpected  uint64     `json:"num_accounts_expected"`
	AccountsReceived     uint64     `json:"accounts_received"`
	LedgerQueryPeer      PeerID     `json:"ledger_query_peer,omitempty"`
	LedgerQueryPending   bool       `json:"ledger_query_pending"`
	LedgerQuerySince     Timestamp  `json:"ledger_query_since,omitempty"`

	BlocksToFetch []BlockHash                       `json:"blocks_to_fetch,omitempty"`
	FetchAttempts map[BlockHash]*BlockFetchAttempt  `json:"fetch_attempts,omitempty"`
	FetchedBlocks map[BlockHash]*Block              `json:"fetched_blocks,omitempty"`
	ApplyCursor   int                               `json:"apply_cursor"`
}

// GenesisStatus gates block production on the proven genesis block.
type GenesisStatus string

const (
	GenesisNotLoaded   GenesisStatus = "not_loaded"
	GenesisLoadPending GenesisStatus = "load_pending"
	GenesisProven      GenesisStatus = "proven"
)

// GenesisState holds the proven genesis block once loaded.
type GenesisState struct {
	Status GenesisStatus `json:"status"`
	Block  *Block        `json:"block,omitempty"`
}

// maxForeverInvalid bounds the remembered-bad-block set.
const maxForeverInvalid = 2048

// TransitionFrontierState is the frontier partition.
type TransitionFrontierState struct {
	Candidates    map[BlockHash]*CandidateState `json:"candidates"`
	BestCandidate BlockHash                     `json:"best_candidate,omitempty"`

	AppliedChain []AppliedBlock `json:"applied_chain"`

	Sync    SyncState    `json:"sync"`
	Genesis GenesisState `json:"genesis"`

	// ForeverInvalid remembers structurally bad hashes so they are never
	// reconsidered; InvalidOrder is the eviction FIFO.
	ForeverInvalid map[BlockHash]string `json:"forever_invalid"`
	InvalidOrder   []BlockHash          `json:"invalid_order,omitempty"`
}

func newTransitionFrontierState(cfg *Config) TransitionFrontierState {
	return TransitionFrontierState{
		Candidates:     make(map[BlockHash]*CandidateState),
		Sync:           SyncState{Status: SyncIdle},
		Genesis:        GenesisState{Status: GenesisNotLoaded},
		ForeverInvalid: make(map[BlockHash]string),
	}
}

// bestTip returns the applied chain head, if any.
func (tf *TransitionFrontierState) bestTip() *AppliedBlock {
	if len(tf.AppliedChain) == 0 {
		return nil
	}
	return &tf.AppliedChain[len(tf.AppliedChain)-1]
}

// root returns the applied chain root, if any.
func (tf *TransitionFrontierState) root() *AppliedBlock {
	if len(tf.AppliedChain) == 0 {
		return nil
	}
	return &tf.AppliedChain[0]
}

// knownHeader resolves a hash against candidates, the applied chain and
// genesis.
func (tf *TransitionFrontierState) knownHeader(h BlockHash) *BlockHeader {
	if c, ok := tf.Candidates[h]; ok {
		hdr := c.Header
		return &hdr
	}
	for i := range tf.AppliedChain {
		if tf.AppliedChain[i].Hash == h {
			hdr := tf.AppliedChain[i].Header
			return &hdr
		}
	}
	if tf.Genesis.Block != nil {
		if tf.Genesis.Block.Header.HashOf() == h {
			hdr := tf.Genesis.Block.Header
			return &hdr
		}
	}
	return nil
}

// markForeverInvalid remembers a structurally bad hash, evicting the
// oldest entries past the cap.
func (tf *TransitionFrontierState) markForeverInvalid(h BlockHash, reason string) {
	if _, exists := tf.ForeverInvalid[h]; exists {
		return
	}
	tf.ForeverInvalid[h] = reason
	tf.InvalidOrder = append(tf.InvalidOrder, h)
	for len(tf.InvalidOrder) > maxForeverInvalid {
		delete(tf.ForeverInvalid, tf.InvalidOrder[0])
		tf.InvalidOrder = tf.InvalidOrder[1:]
	}
}
