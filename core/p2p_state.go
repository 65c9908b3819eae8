package core

import "sort"

// TransportKind distinguishes the two wire transports.
type TransportKind string

const (
	TransportTCP    TransportKind = "tcp"
	TransportWebRTC TransportKind = "webrtc"
)

// PeerStatus is the coarse lifecycle of one known peer.
type PeerStatus string

const (
	PeerStatusDisconnected PeerStatus = "disconnected"
	PeerStatusConnecting   PeerStatus = "connecting"
	PeerStatusReady        PeerStatus = "ready"
	PeerStatusFailed       PeerStatus = "failed"
)

// PeerState tracks one peer across connections.
type PeerState struct {
	ID             PeerID     `json:"id"`
	Addrs          []string   `json:"addrs"`
	Status         PeerStatus `json:"status"`
	ConnAddr       SocketAddr `json:"conn_addr,omitempty"`
	ConnectedSince Timestamp  `json:"connected_since,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Identify       *IdentifyInfo `json:"identify,omitempty"`
}

// ConnStatus is the lifecycle of one transport connection: protocol select,
// then noise auth, then ready with yamux streams. The reducer moves a
// connection from auth straight to ready; ConnStatusMuxing is not entered.
type ConnStatus string

const (
	ConnStatusConnecting     ConnStatus = "connecting"
	ConnStatusSelecting      ConnStatus = "selecting"
	ConnStatusAuthenticating ConnStatus = "authenticating"
	ConnStatusMuxing         ConnStatus = "muxing"
	ConnStatusReady          ConnStatus = "ready"
	ConnStatusError          ConnStatus = "error"
)

// ConnectionState is the scheduler's nested machine for one connection. The
// select, auth and mux layers each keep their own sub-state; every byte the
// service reads lands here via IncomingData and every byte written leaves
// as an OutgoingData effect.
type ConnectionState struct {
	Addr         SocketAddr    `json:"addr"`
	PeerID       PeerID        `json:"peer_id,omitempty"`
	Incoming     bool          `json:"incoming"`
	Transport    TransportKind `json:"transport"`
	Status       ConnStatus    `json:"status"`
	PendingSince Timestamp     `json:"pending_since"`
	Error        string        `json:"error,omitempty"`

	Select SelectState `json:"select"`
	Auth   NoiseState  `json:"auth"`
	Mux    YamuxState  `json:"mux"`
}

// PeerChannels groups the per-peer protocol channels that live on yamux
// streams once a connection is ready.
type PeerChannels struct {
	Rpc             RpcChannelState     `json:"rpc"`
	Snark           PropagationChannel  `json:"snark"`
	SnarkCommitment PropagationChannel  `json:"snark_commitment"`
	Transaction     PropagationChannel  `json:"transaction"`
	StreamingRpc    PropagationChannel  `json:"streaming_rpc"`
	Signaling       SignalingState      `json:"signaling"`
}

// P2pState is the networking partition.
type P2pState struct {
	PeerID      PeerID   `json:"peer_id"`
	Listeners   []string `json:"listeners"`
	MaxPeers    int      `json:"max_peers"`

	Peers       map[PeerID]*PeerState           `json:"peers"`
	Connections map[SocketAddr]*ConnectionState `json:"connections"`
	Channels    map[PeerID]*PeerChannels        `json:"channels"`

	Kademlia KademliaState `json:"kademlia"`
	Pubsub   PubsubState   `json:"pubsub"`
}

func newP2pState(cfg *Config) P2pState {
	return P2pState{
		PeerID:      cfg.PeerID,
		Listeners:   append([]string(nil), cfg.ListenAddrs...),
		MaxPeers:    cfg.MaxPeers,
		Peers:       make(map[PeerID]*PeerState),
		Connections: make(map[SocketAddr]*ConnectionState),
		Channels:    make(map[PeerID]*PeerChannels),
		Kademlia:    newKademliaState(cfg),
		Pubsub:      newPubsubState(),
	}
}

// peer returns the record for id, creating it on first sight.
func (p *P2pState) peer(id PeerID) *PeerState {
	ps, ok := p.Peers[id]
	if !ok {
		ps = &PeerState{ID: id, Status: PeerStatusDisconnected}
		p.Peers[id] = ps
	}
	return ps
}

// readyPeers lists peers whose connection completed the full stack, in a
// fixed order so reducers iterating it replay identically.
func (p *P2pState) readyPeers() []PeerID {
	var out []PeerID
	for id, ps := range p.Peers {
		if ps.Status == PeerStatusReady {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// channels returns the channel book for a peer, creating it when the peer
// first becomes ready.
func (p *P2pState) channels(id PeerID) *PeerChannels {
	ch, ok := p.Channels[id]
	if !ok {
		ch = &PeerChannels{
			Rpc:             newRpcChannelState(),
			Snark:           newPropagationChannel(),
			SnarkCommitment: newPropagationChannel(),
			Transaction:     newPropagationChannel(),
			StreamingRpc:    newPropagationChannel(),
		}
		p.Channels[id] = ch
	}
	return ch
}
