package core

import (
	"fmt"
	"testing"
)

func kadTestState() *KademliaState {
	cfg := testConfig()
	k := newKademliaState(cfg)
	return &k
}

func TestKadBucketCapacityTwenty(t *testing.T) {
	k := kadTestState()
	// Synthesize peers landing in one bucket by brute force: insert many
	// and verify no bucket exceeds the cap.
	for i := 0; i < 500; i++ {
		k.addEntry(PeerID(fmt.Sprintf("peer-%d", i)), []string{"1.2.3.4:1"}, 1)
	}
	for idx, bucket := range k.Buckets {
		if len(bucket) > kadBucketSize {
			t.Fatalf("bucket %d holds %d entries", idx, len(bucket))
		}
	}
}

func TestKadRefreshDoesNotDuplicate(t *testing.T) {
	k := kadTestState()
	if !k.addEntry("peer-a", []string{"1.2.3.4:1"}, 1) {
		t.Fatal("first insert rejected")
	}
	if k.addEntry("peer-a", []string{"5.6.7.8:1"}, 2) {
		t.Fatal("refresh reported as a new entry")
	}
	idx := k.bucketIndex(kadKey("peer-a"))
	if len(k.Buckets[idx]) != 1 {
		t.Fatal("refresh duplicated the entry")
	}
	if k.Buckets[idx][0].Addrs[0] != "5.6.7.8:1" {
		t.Fatal("refresh did not update addrs")
	}
}

func TestKadClosestPeersOrdering(t *testing.T) {
	k := kadTestState()
	for i := 0; i < 50; i++ {
		k.addEntry(PeerID(fmt.Sprintf("peer-%d", i)), []string{"9.9.9.9:1"}, 1)
	}
	target := kadKey("peer-17")
	got := k.closestPeers(target, 5)
	if len(got) != 5 {
		t.Fatalf("closest returned %d", len(got))
	}
	if got[0].Peer != "peer-17" {
		t.Fatalf("closest[0] = %s, want the target itself", got[0].Peer)
	}
	for i := 1; i < len(got); i++ {
		if kadCloser(kadKey(got[i].Peer), kadKey(got[i-1].Peer), target) {
			t.Fatal("closest list not ordered by distance")
		}
	}
}

func TestKadAddrFilterDropsPrivate(t *testing.T) {
	got := filterDiscoveryAddrs([]string{
		"127.0.0.1:8302",
		"10.0.0.5:8302",
		"192.168.1.9:8302",
		"8.8.8.8:8302",
		"/ip4/172.16.0.1/tcp/8302",
		"/ip4/1.1.1.1/tcp/8302",
	})
	if len(got) != 2 {
		t.Fatalf("filtered set = %v", got)
	}
}

func TestKadBootstrapWalkStopsAtTargetSuccesses(t *testing.T) {
	store, state, _, log := testStore(nil)
	for i := 0; i < 30; i++ {
		readyPeer(state, PeerID(fmt.Sprintf("peer-%02d", i)), SocketAddr(fmt.Sprintf("10.4.0.%d:1", i)))
	}
	if !store.Dispatch(&P2pKadBootstrap{}) {
		t.Fatal("bootstrap not enabled with ready peers")
	}
	bs := &state.P2p.Kademlia.Bootstrap
	if bs.Status != KadBootstrapWalking {
		t.Fatalf("bootstrap status = %s", bs.Status)
	}
	if log.count(KindP2pEffectKadQuery) != kadWalkAlpha {
		t.Fatalf("in-flight queries = %d, want alpha %d", log.count(KindP2pEffectKadQuery), kadWalkAlpha)
	}

	// Answer every query until the walk declares itself done.
	for i := 0; i < 100 && bs.Status == KadBootstrapWalking; i++ {
		var pending []string
		for id, q := range state.P2p.Kademlia.Queries {
			if q.Status == KadQueryPending {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}
		store.Dispatch(&P2pKadQueryResult{QueryID: pending[0], Entries: nil})
	}
	if bs.Status != KadBootstrapDone {
		t.Fatalf("bootstrap status = %s, want done (successes %d)", bs.Status, bs.SuccessCount)
	}
	if bs.SuccessCount < kadBootstrapTarget && len(bs.Frontier) != 0 {
		t.Fatal("walk stopped with work left")
	}
}

func TestKadQueryTimeoutContinuesWalk(t *testing.T) {
	store, state, clock, _ := testStore(nil)
	for i := 0; i < 5; i++ {
		readyPeer(state, PeerID(fmt.Sprintf("p-%d", i)), SocketAddr(fmt.Sprintf("10.5.0.%d:1", i)))
	}
	store.Dispatch(&P2pKadBootstrap{})
	var anyID string
	for id := range state.P2p.Kademlia.Queries {
		anyID = id
		break
	}
	if store.Dispatch(&P2pKadTimeout{QueryID: anyID}) {
		t.Fatal("kad timeout fired before the deadline")
	}
	clock.advance(state.Config.Timeouts.KadQuery + 1)
	if !store.Dispatch(&P2pKadTimeout{QueryID: anyID}) {
		t.Fatal("kad timeout rejected after the deadline")
	}
	if state.P2p.Kademlia.Queries[anyID].Status != KadQueryError {
		t.Fatal("timed out query not failed")
	}
	pending := 0
	for _, q := range state.P2p.Kademlia.Queries {
		if q.Status == KadQueryPending {
			pending++
		}
	}
	if pending != kadWalkAlpha {
		t.Fatalf("pending queries after timeout = %d, want alpha %d (walk did not continue)", pending, kadWalkAlpha)
	}
}
