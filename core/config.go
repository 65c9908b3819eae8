package core

import (
	"time"
)

// Config is the immutable configuration partition of the state tree. It is
// fixed at init and serialized verbatim into recordings; anything secret
// (the identity private key) lives in the services and never enters state.
type Config struct {
	ChainID     string   `json:"chain_id"`
	NetworkName string   `json:"network_name"`
	GenesisFile string   `json:"genesis_file"`
	PeerID      PeerID   `json:"peer_id"`
	PublicKey   []byte   `json:"public_key"`
	ListenAddrs []string `json:"listen_addrs"`
	LibP2PPort  int      `json:"libp2p_port"`
	RPCAddr     string   `json:"rpc_addr"`

	InitialPeers []string `json:"initial_peers"`
	MaxPeers     int      `json:"max_peers"`

	Protocol ProtocolConstants `json:"protocol"`
	Timeouts TimeoutConfig     `json:"timeouts"`

	Producer    ProducerConfig    `json:"producer"`
	SnarkWorker SnarkWorkerConfig `json:"snark_worker"`

	WatchedAccounts []AccountId `json:"watched_accounts"`

	// AllowedGlobalSlotDiff is the largest slot lead over the local best tip
	// at which a received block's future-timestamp check is still enforced;
	// a block further ahead skips that check. Kept as a knob because the
	// value is a transport concession, not a protocol rule.
	AllowedGlobalSlotDiff uint32 `json:"allowed_global_slot_diff"`

	// DiscoveryFilterAddrs drops loopback and private addresses from
	// kademlia results. Toggled by OPENMINA_DISCOVERY_FILTER_ADDR.
	DiscoveryFilterAddrs bool `json:"discovery_filter_addrs"`

	RngSeed int64 `json:"rng_seed"`

	RecordDir string `json:"record_dir,omitempty"`

	BuildEnv BuildEnv `json:"build_env"`
}

// ProtocolConstants are the Mina constraint constants the core consults.
type ProtocolConstants struct {
	K                   uint32        `json:"k"`
	SlotDuration        time.Duration `json:"slot_duration"`
	SlotsPerEpoch       uint32        `json:"slots_per_epoch"`
	SlotsPerSubWindow   uint32        `json:"slots_per_sub_window"`
	SubWindowsPerWindow uint32        `json:"sub_windows_per_window"`
	// F is the active-slot coefficient of the slot-leader formula,
	// expressed as a rational f = FNumerator/FDenominator.
	FNumerator   uint64 `json:"f_numerator"`
	FDenominator uint64 `json:"f_denominator"`
}

// DefaultProtocolConstants returns mainnet-shaped constants.
func DefaultProtocolConstants() ProtocolConstants {
	return ProtocolConstants{
		K:                   290,
		SlotDuration:        3 * time.Minute,
		SlotsPerEpoch:       7140,
		SlotsPerSubWindow:   7,
		SubWindowsPerWindow: 11,
		FNumerator:          3,
		FDenominator:        4,
	}
}

// TimeoutConfig carries every pending-operation deadline. Timeout actions
// become enabled once now exceeds pending_since plus the matching entry.
type TimeoutConfig struct {
	Connect      time.Duration `json:"connect"`
	StreamOpen   time.Duration `json:"stream_open"`
	Rpc          time.Duration `json:"rpc"`
	KadQuery     time.Duration `json:"kad_query"`
	Signaling    time.Duration `json:"signaling"`
	LedgerQuery  time.Duration `json:"ledger_query"`
	BlockFetch   time.Duration `json:"block_fetch"`
	AccountRetry time.Duration `json:"account_retry"`
}

// DefaultTimeouts mirrors the values the node ships with.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		Connect:      15 * time.Second,
		StreamOpen:   10 * time.Second,
		Rpc:          30 * time.Second,
		KadQuery:     10 * time.Second,
		Signaling:    20 * time.Second,
		LedgerQuery:  10 * time.Second,
		BlockFetch:   10 * time.Second,
		AccountRetry: 3 * time.Second,
	}
}

// ProducerConfig enables block production for one key.
type ProducerConfig struct {
	Enabled      bool   `json:"enabled"`
	PublicKey    []byte `json:"public_key,omitempty"`
	CoinbaseAddr string `json:"coinbase_addr,omitempty"`
}

// SnarkWorkerConfig enables the local snark worker.
type SnarkWorkerConfig struct {
	Enabled bool           `json:"enabled"`
	Fee     CurrencyAmount `json:"fee"`
	// WorkerBin is the external prover subprocess; empty selects the
	// in-process stub used by tests.
	WorkerBin string `json:"worker_bin,omitempty"`
}

// BuildEnv describes the build that produced a recording. Replay refuses to
// proceed on a mismatch unless forced interactively.
type BuildEnv struct {
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	ModHash   string `json:"mod_hash"`
}

// Matches reports whether two build descriptors are byte-equal.
func (b BuildEnv) Matches(other BuildEnv) bool {
	return b == other
}
