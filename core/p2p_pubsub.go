package core

// Gossip delivery is floodsub-shaped: every message carries a nonce derived
// from the seeded RNG, and a bounded seen-set deduplicates re-deliveries.
// The wire side runs on the libp2p pubsub service; this partition holds
// only what the reducer needs for dedup and routing.

// Gossip topics.
const (
	PubsubTopicBlocks       = "samasika/blocks/1.0.0"
	PubsubTopicTransactions = "samasika/transactions/1.0.0"
	PubsubTopicSnarks       = "samasika/snarks/1.0.0"
)

// maxSeenNonces bounds the dedup window.
const maxSeenNonces = 4096

// PubsubState is the mesh partition.
type PubsubState struct {
	Subscribed map[string]bool `json:"subscribed"`
	// SeenNonces is a FIFO of recently delivered message nonces.
	SeenNonces []uint64        `json:"seen_nonces"`
	seenIndex  map[uint64]bool `json:"-"`
}

func newPubsubState() PubsubState {
	return PubsubState{Subscribed: make(map[string]bool)}
}

// subscribe records an explicit subscription.
func (p *PubsubState) subscribe(topic string) bool {
	if p.Subscribed[topic] {
		return false
	}
	p.Subscribed[topic] = true
	return true
}

// unsubscribe drops a subscription.
func (p *PubsubState) unsubscribe(topic string) bool {
	if !p.Subscribed[topic] {
		return false
	}
	delete(p.Subscribed, topic)
	return true
}

// markSeen records a nonce; false means the message was already delivered.
func (p *PubsubState) markSeen(nonce uint64) bool {
	if p.seenIndex == nil {
		p.rebuildSeenIndex()
	}
	if p.seenIndex[nonce] {
		return false
	}
	p.SeenNonces = append(p.SeenNonces, nonce)
	p.seenIndex[nonce] = true
	for len(p.SeenNonces) > maxSeenNonces {
		delete(p.seenIndex, p.SeenNonces[0])
		p.SeenNonces = p.SeenNonces[1:]
	}
	return true
}

// rebuildSeenIndex restores the lookup map after deserialization.
func (p *PubsubState) rebuildSeenIndex() {
	p.seenIndex = make(map[uint64]bool, len(p.SeenNonces))
	for _, n := range p.SeenNonces {
		p.seenIndex[n] = true
	}
}
