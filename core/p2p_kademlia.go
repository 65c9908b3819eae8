package core

import (
	"math/bits"
	"net"
	"strings"
)

// Kademlia discovery speaks FIND_NODE only on a dedicated stream protocol.
// Bootstrap runs a breadth-limited random walk over the routing table until
// twenty peers answered or the candidate frontier is exhausted.

// KadProtocolID is the discovery stream protocol.
const KadProtocolID = "/coda/kad/1.0.0"

const (
	kadBucketCount     = 256
	kadBucketSize      = 20
	kadBootstrapTarget = 20
)

// KadEntry is one routing-table resident.
type KadEntry struct {
	Peer    PeerID    `json:"peer"`
	Addrs   []string  `json:"addrs"`
	AddedAt Timestamp `json:"added_at"`
}

// KadQueryStatus is the lifecycle of one FIND_NODE query.
type KadQueryStatus string

const (
	KadQueryPending KadQueryStatus = "pending"
	KadQuerySuccess KadQueryStatus = "success"
	KadQueryError   KadQueryStatus = "error"
)

// KadQueryState is one in-flight or settled FIND_NODE.
type KadQueryState struct {
	ID           string         `json:"id"`
	Peer         PeerID         `json:"peer"`
	Target       Hash           `json:"target"`
	Status       KadQueryStatus `json:"status"`
	PendingSince Timestamp      `json:"pending_since"`
	Error        string         `json:"error,omitempty"`
}

// KadBootstrapStatus is the walk lifecycle.
type KadBootstrapStatus string

const (
	KadBootstrapIdle    KadBootstrapStatus = "idle"
	KadBootstrapWalking KadBootstrapStatus = "walking"
	KadBootstrapDone    KadBootstrapStatus = "done"
)

// KadBootstrapState drives the random walk.
type KadBootstrapState struct {
	Status       KadBootstrapStatus `json:"status"`
	SuccessCount int                `json:"success_count"`
	Frontier     []PeerID           `json:"frontier,omitempty"`
	Queried      map[PeerID]bool    `json:"queried,omitempty"`
}

// KademliaState is the discovery partition.
type KademliaState struct {
	SelfKey     Hash                      `json:"self_key"`
	FilterAddrs bool                      `json:"filter_addrs"`
	Buckets     map[int][]*KadEntry       `json:"buckets"`
	Queries     map[string]*KadQueryState `json:"queries"`
	Bootstrap   KadBootstrapState         `json:"bootstrap"`
	NextQueryID uint64                    `json:"next_query_id"`
}

func newKademliaState(cfg *Config) KademliaState {
	return KademliaState{
		SelfKey:     kadKey(cfg.PeerID),
		FilterAddrs: cfg.DiscoveryFilterAddrs,
		Buckets:     make(map[int][]*KadEntry),
		Queries:     make(map[string]*KadQueryState),
		Bootstrap:   KadBootstrapState{Status: KadBootstrapIdle},
	}
}

// kadKey maps a peer id onto the keyspace.
func kadKey(id PeerID) Hash {
	return HashBytes([]byte(id))
}

// bucketIndex is the index of the bucket holding key relative to self:
// the position of the highest differing bit.
func (k *KademliaState) bucketIndex(key Hash) int {
	for i := 0; i < len(key); i++ {
		x := k.SelfKey[i] ^ key[i]
		if x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return kadBucketCount - 1
}

// addEntry inserts or refreshes a peer. Full buckets reject newcomers, the
// classic kademlia stability bias.
func (k *KademliaState) addEntry(peer PeerID, addrs []string, now Timestamp) bool {
	if peer == "" {
		return false
	}
	key := kadKey(peer)
	if key == k.SelfKey {
		return false
	}
	if k.FilterAddrs {
		addrs = filterDiscoveryAddrs(addrs)
		if len(addrs) == 0 {
			return false
		}
	}
	idx := k.bucketIndex(key)
	bucket := k.Buckets[idx]
	for _, e := range bucket {
		if e.Peer == peer {
			e.Addrs = addrs
			return false
		}
	}
	if len(bucket) >= kadBucketSize {
		return false
	}
	k.Buckets[idx] = append(bucket, &KadEntry{Peer: peer, Addrs: addrs, AddedAt: now})
	return true
}

// closestPeers returns up to n table entries closest to target.
func (k *KademliaState) closestPeers(target Hash, n int) []*KadEntry {
	var all []*KadEntry
	for _, bucket := range k.Buckets {
		all = append(all, bucket...)
	}
	// Selection sort on xor distance; tables are small (≤ 20 per bucket).
	for i := 0; i < len(all) && i < n; i++ {
		best := i
		for j := i + 1; j < len(all); j++ {
			if kadCloser(kadKey(all[j].Peer), kadKey(all[best].Peer), target) {
				best = j
			}
		}
		all[i], all[best] = all[best], all[i]
	}
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// kadCloser reports whether a is xor-closer to target than b.
func kadCloser(a, b, target Hash) bool {
	for i := 0; i < len(target); i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			return da < db
		}
	}
	return false
}

// filterDiscoveryAddrs drops loopback and private addresses, keeping the
// table routable on the public network.
func filterDiscoveryAddrs(addrs []string) []string {
	var out []string
	for _, a := range addrs {
		host := a
		if h, _, err := net.SplitHostPort(a); err == nil {
			host = h
		} else if strings.Contains(a, "/ip4/") || strings.Contains(a, "/ip6/") {
			parts := strings.Split(a, "/")
			for i := 0; i+1 < len(parts); i++ {
				if parts[i] == "ip4" || parts[i] == "ip6" {
					host = parts[i+1]
					break
				}
			}
		}
		ip := net.ParseIP(host)
		if ip == nil {
			out = append(out, a)
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			continue
		}
		out = append(out, a)
	}
	return out
}
