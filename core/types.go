package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/blake2b"
)

// Timestamp is a logical time in nanoseconds since the clock origin. All
// reducer-visible time is of this type; wall-clock time never crosses the
// service boundary.
type Timestamp int64

// Add returns the timestamp shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d.Nanoseconds())
}

// Sub returns the duration elapsed between u and t.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(int64(t) - int64(u))
}

// After reports whether t is strictly later than u.
func (t Timestamp) After(u Timestamp) bool { return t > u }

// Hash is a blake2b-256 digest. Block hashes, ledger hashes and state
// hashes are all of this shape.
type Hash [32]byte

// Convenience aliases keeping call sites readable.
type (
	BlockHash  = Hash
	LedgerHash = Hash
	StateHash  = Hash
)

// HashBytes digests the concatenation of the given byte slices.
func HashBytes(parts ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Bytes returns the digest as a slice.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool { return h == Hash{} }

// String renders the hash in base58, the form used in logs and RPC output.
func (h Hash) String() string { return base58.Encode(h[:]) }

// Hex renders the hash in lowercase hex.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h[:]))
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("decode hash: want %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

// HashFromHex parses a lowercase hex digest.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("parse hash %q: bad length %d", s, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// PeerID is the base58 multihash of a peer's long-lived public key.
type PeerID string

// PeerIDFromPublicKey derives the peer id from raw public key bytes.
func PeerIDFromPublicKey(pub []byte) (PeerID, error) {
	mh, err := multihash.Sum(pub, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("derive peer id: %w", err)
	}
	return PeerID(base58.Encode(mh)), nil
}

func (p PeerID) String() string { return string(p) }

// SocketAddr identifies one transport endpoint, e.g. "10.0.0.1:8302" or a
// webrtc connection token. Connections are keyed by it.
type SocketAddr string

func (a SocketAddr) String() string { return string(a) }

// SnarkJobId identifies one scan-state work bundle.
type SnarkJobId string

// AccountId identifies a ledger account (public key plus token id).
type AccountId string

// RpcId is the monotonically increasing id of a locally registered RPC
// request. It survives restarts via the state serialization.
type RpcId uint64

// CurrencyAmount is a nanomina-denominated amount.
type CurrencyAmount uint64

// GlobalSlot counts slots since genesis.
type GlobalSlot uint32

// EpochSlot counts slots within one epoch.
type EpochSlot uint32
