package core

import (
	"sync"
	"time"
)

// fakeClock is a hand-cranked clock for reducer tests.
type fakeClock struct {
	mu  sync.Mutex
	now Timestamp
}

func (c *fakeClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) set(t Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// effectLog records routed effects for assertions.
type effectLog struct {
	mu      sync.Mutex
	effects []EffectAction
}

func (e *effectLog) Route(a EffectAction, meta ActionMeta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.effects = append(e.effects, a)
}

func (e *effectLog) kinds() []ActionKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ActionKind, 0, len(e.effects))
	for _, a := range e.effects {
		out = append(out, a.Kind())
	}
	return out
}

func (e *effectLog) count(kind ActionKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, a := range e.effects {
		if a.Kind() == kind {
			n++
		}
	}
	return n
}

func testConfig() *Config {
	pub := HashBytes([]byte("test-identity"))
	peerID, err := PeerIDFromPublicKey(pub.Bytes())
	if err != nil {
		panic(err)
	}
	return &Config{
		ChainID:               "samasika-test",
		PeerID:                peerID,
		PublicKey:             pub.Bytes(),
		MaxPeers:              16,
		Protocol:              DefaultProtocolConstants(),
		Timeouts:              DefaultTimeouts(),
		AllowedGlobalSlotDiff: 2,
		RngSeed:               7,
	}
}

// testStore wires a store over a fresh state with a hand-cranked clock.
func testStore(cfg *Config) (*Store, *State, *fakeClock, *effectLog) {
	if cfg == nil {
		cfg = testConfig()
	}
	state := NewState(cfg)
	clock := &fakeClock{now: 1}
	log := &effectLog{}
	store := NewStore(state, clock, log, nil)
	return store, state, clock, log
}

// readyPeer installs one fully connected peer with an open rpc stream.
func readyPeer(s *State, id PeerID, addr SocketAddr) *PeerState {
	ps := s.P2p.peer(id)
	ps.Status = PeerStatusReady
	ps.ConnAddr = addr
	s.P2p.Connections[addr] = &ConnectionState{
		Addr:   addr,
		PeerID: id,
		Status: ConnStatusReady,
		Mux:    newYamuxState(true),
	}
	ch := s.P2p.channels(id)
	ch.Rpc.StreamID = 1
	ch.Rpc.HandshakeSent = true
	ch.Rpc.HandshakeReceived = true
	return ps
}

// testHeader builds a minimal valid header extending parent.
func testHeader(parent *BlockHeader, parentHash BlockHash, slot GlobalSlot, vrfSeed string) BlockHeader {
	length := uint32(1)
	if parent != nil {
		length = parent.BlockchainLength + 1
	}
	h := BlockHeader{
		PredHash:         parentHash,
		BlockchainLength: length,
		GlobalSlot:       slot,
		VrfOutput:        HashBytes([]byte(vrfSeed)).Bytes(),
		Signature:        HashBytes([]byte("sig-" + vrfSeed)).Bytes(),
		ProtocolVersion:  supportedBlockProtocolVersion,
	}
	if parent != nil {
		h.EpochSeed = parent.EpochSeed
		h.MinWindowDensity = parent.MinWindowDensity
	}
	return h
}
