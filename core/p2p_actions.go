package core

// P2pAction tags every networking transition.
type P2pAction interface {
	Action
	isP2pAction()
}

type p2pTag struct{}

func (p2pTag) isP2pAction() {}

// Action kinds, networking.
const (
	KindP2pConnectionOutgoingInit  ActionKind = "P2pConnectionOutgoingInit"
	KindP2pConnectionEstablished   ActionKind = "P2pConnectionEstablished"
	KindP2pConnectionIncomingInit  ActionKind = "P2pConnectionIncomingInit"
	KindP2pConnectionError         ActionKind = "P2pConnectionError"
	KindP2pConnectionTimeout       ActionKind = "P2pConnectionTimeout"
	KindP2pDisconnect              ActionKind = "P2pDisconnect"
	KindP2pPeerDisconnected        ActionKind = "P2pPeerDisconnected"
	KindP2pIncomingData            ActionKind = "P2pIncomingData"
	KindP2pNoiseHandshakeMessage   ActionKind = "P2pNoiseHandshakeMessage"
	KindP2pPeerReady               ActionKind = "P2pPeerReady"
	KindP2pRpcQuerySend            ActionKind = "P2pRpcQuerySend"
	KindP2pRpcRespond              ActionKind = "P2pRpcRespond"
	KindP2pRpcTimeout              ActionKind = "P2pRpcTimeout"
	KindP2pKadBootstrap            ActionKind = "P2pKadBootstrap"
	KindP2pKadQueryResult          ActionKind = "P2pKadQueryResult"
	KindP2pKadQueryError           ActionKind = "P2pKadQueryError"
	KindP2pKadTimeout              ActionKind = "P2pKadTimeout"
	KindP2pPubsubSubscribe         ActionKind = "P2pPubsubSubscribe"
	KindP2pPubsubUnsubscribe       ActionKind = "P2pPubsubUnsubscribe"
	KindP2pPubsubPublish           ActionKind = "P2pPubsubPublish"
	KindP2pPubsubMessageReceived   ActionKind = "P2pPubsubMessageReceived"
	KindP2pIdentifyReceived        ActionKind = "P2pIdentifyReceived"
	KindP2pSignalingOfferSend      ActionKind = "P2pSignalingOfferSend"
	KindP2pSignalingOfferReceived  ActionKind = "P2pSignalingOfferReceived"
	KindP2pSignalingAnswerReceived ActionKind = "P2pSignalingAnswerReceived"
	KindP2pSignalingAnswerDecrypted ActionKind = "P2pSignalingAnswerDecrypted"
	KindP2pSignalingDecryptFailed  ActionKind = "P2pSignalingDecryptFailed"
	KindP2pChannelRequestSend      ActionKind = "P2pChannelRequestSend"
	KindP2pChannelRequestReceived  ActionKind = "P2pChannelRequestReceived"
	KindP2pChannelResponseReceived ActionKind = "P2pChannelResponseReceived"

	KindP2pEffectDial          ActionKind = "P2pEffectDial"
	KindP2pEffectAuthStart     ActionKind = "P2pEffectAuthStart"
	KindP2pEffectChannelRequest  ActionKind = "P2pEffectChannelRequest"
	KindP2pEffectChannelResponse ActionKind = "P2pEffectChannelResponse"
	KindP2pEffectDisconnect    ActionKind = "P2pEffectDisconnect"
	KindP2pEffectOutgoingData  ActionKind = "P2pEffectOutgoingData"
	KindP2pEffectRpcIncoming   ActionKind = "P2pEffectRpcIncoming"
	KindP2pEffectRpcResponse   ActionKind = "P2pEffectRpcResponse"
	KindP2pEffectKadQuery      ActionKind = "P2pEffectKadQuery"
	KindP2pEffectSubscribe     ActionKind = "P2pEffectSubscribe"
	KindP2pEffectUnsubscribe   ActionKind = "P2pEffectUnsubscribe"
	KindP2pEffectPublish       ActionKind = "P2pEffectPublish"
	KindP2pEffectIdentifySend  ActionKind = "P2pEffectIdentifySend"
	KindP2pEffectSignalingSend ActionKind = "P2pEffectSignalingSend"
	KindP2pEffectSignalingAnswer ActionKind = "P2pEffectSignalingAnswer"
	KindP2pEffectSignalingDecrypt ActionKind = "P2pEffectSignalingDecrypt"
)

func init() {
	registerAction(KindP2pConnectionOutgoingInit, func() Action { return &P2pConnectionOutgoingInit{} })
	registerAction(KindP2pConnectionEstablished, func() Action { return &P2pConnectionEstablished{} })
	registerAction(KindP2pConnectionIncomingInit, func() Action { return &P2pConnectionIncomingInit{} })
	registerAction(KindP2pConnectionError, func() Action { return &P2pConnectionError{} })
	registerAction(KindP2pConnectionTimeout, func() Action { return &P2pConnectionTimeout{} })
	registerAction(KindP2pDisconnect, func() Action { return &P2pDisconnect{} })
	registerAction(KindP2pPeerDisconnected, func() Action { return &P2pPeerDisconnected{} })
	registerAction(KindP2pIncomingData, func() Action { return &P2pIncomingData{} })
	registerAction(KindP2pNoiseHandshakeMessage, func() Action { return &P2pNoiseHandshakeMessage{} })
	registerAction(KindP2pPeerReady, func() Action { return &P2pPeerReady{} })
	registerAction(KindP2pRpcQuerySend, func() Action { return &P2pRpcQuerySend{} })
	registerAction(KindP2pRpcRespond, func() Action { return &P2pRpcRespond{} })
	registerAction(KindP2pRpcTimeout, func() Action { return &P2pRpcTimeout{} })
	registerAction(KindP2pKadBootstrap, func() Action { return &P2pKadBootstrap{} })
	registerAction(KindP2pKadQueryResult, func() Action { return &P2pKadQueryResult{} })
	registerAction(KindP2pKadQueryError, func() Action { return &P2pKadQueryError{} })
	registerAction(KindP2pKadTimeout, func() Action { return &P2pKadTimeout{} })
	registerAction(KindP2pPubsubSubscribe, func() Action { return &P2pPubsubSubscribe{} })
	registerAction(KindP2pPubsubUnsubscribe, func() Action { return &P2pPubsubUnsubscribe{} })
	registerAction(KindP2pPubsubPublish, func() Action { return &P2pPubsubPublish{} })
	registerAction(KindP2pPubsubMessageReceived, func() Action { return &P2pPubsubMessageReceived{} })
	registerAction(KindP2pIdentifyReceived, func() Action { return &P2pIdentifyReceived{} })
	registerAction(KindP2pSignalingOfferSend, func() Action { return &P2pSignalingOfferSend{} })
	registerAction(KindP2pSignalingOfferReceived, func() Action { return &P2pSignalingOfferReceived{} })
	registerAction(KindP2pSignalingAnswerReceived, func() Action { return &P2pSignalingAnswerReceived{} })
	registerAction(KindP2pSignalingAnswerDecrypted, func() Action { return &P2pSignalingAnswerDecrypted{} })
	registerAction(KindP2pSignalingDecryptFailed, func() Action { return &P2pSignalingDecryptFailed{} })
	registerAction(KindP2pChannelRequestSend, func() Action { return &P2pChannelRequestSend{} })
	registerAction(KindP2pChannelRequestReceived, func() Action { return &P2pChannelRequestReceived{} })
	registerAction(KindP2pChannelResponseReceived, func() Action { return &P2pChannelResponseReceived{} })

	registerAction(KindP2pEffectDial, func() Action { return &P2pEffectDial{} })
	registerAction(KindP2pEffectAuthStart, func() Action { return &P2pEffectAuthStart{} })
	registerAction(KindP2pEffectChannelRequest, func() Action { return &P2pEffectChannelRequest{} })
	registerAction(KindP2pEffectChannelResponse, func() Action { return &P2pEffectChannelResponse{} })
	registerAction(KindP2pEffectDisconnect, func() Action { return &P2pEffectDisconnect{} })
	registerAction(KindP2pEffectOutgoingData, func() Action { return &P2pEffectOutgoingData{} })
	registerAction(KindP2pEffectRpcIncoming, func() Action { return &P2pEffectRpcIncoming{} })
	registerAction(KindP2pEffectRpcResponse, func() Action { return &P2pEffectRpcResponse{} })
	registerAction(KindP2pEffectKadQuery, func() Action { return &P2pEffectKadQuery{} })
	registerAction(KindP2pEffectSubscribe, func() Action { return &P2pEffectSubscribe{} })
	registerAction(KindP2pEffectUnsubscribe, func() Action { return &P2pEffectUnsubscribe{} })
	registerAction(KindP2pEffectPublish, func() Action { return &P2pEffectPublish{} })
	registerAction(KindP2pEffectIdentifySend, func() Action { return &P2pEffectIdentifySend{} })
	registerAction(KindP2pEffectSignalingSend, func() Action { return &P2pEffectSignalingSend{} })
	registerAction(KindP2pEffectSignalingAnswer, func() Action { return &P2pEffectSignalingAnswer{} })
	registerAction(KindP2pEffectSignalingDecrypt, func() Action { return &P2pEffectSignalingDecrypt{} })
}

// --- connection lifecycle ---

// P2pConnectionOutgoingInit opens a dial towards addr.
type P2pConnectionOutgoingInit struct {
	p2pTag
	Addr SocketAddr `json:"addr"`
	Peer PeerID     `json:"peer,omitempty"`
}

func (*P2pConnectionOutgoingInit) Kind() ActionKind { return KindP2pConnectionOutgoingInit }
func (a *P2pConnectionOutgoingInit) Enabled(s *State, now Timestamp) bool {
	if _, exists := s.P2p.Connections[a.Addr]; exists {
		return false
	}
	return len(s.P2p.Peers) < s.P2p.MaxPeers || s.P2p.MaxPeers == 0
}

// P2pConnectionEstablished reports the transport socket open; protocol
// negotiation starts here.
type P2pConnectionEstablished struct {
	p2pTag
	Addr SocketAddr `json:"addr"`
}

func (*P2pConnectionEstablished) Kind() ActionKind { return KindP2pConnectionEstablished }
func (a *P2pConnectionEstablished) Enabled(s *State, now Timestamp) bool {
	c, ok := s.P2p.Connections[a.Addr]
	return ok && c.Status == ConnStatusConnecting
}

// P2pConnectionIncomingInit registers an accepted socket.
type P2pConnectionIncomingInit struct {
	p2pTag
	Addr      SocketAddr    `json:"addr"`
	Transport TransportKind `json:"transport"`
}

func (*P2pConnectionIncomingInit) Kind() ActionKind { return KindP2pConnectionIncomingInit }
func (a *P2pConnectionIncomingInit) Enabled(s *State, now Timestamp) bool {
	_, exists := s.P2p.Connections[a.Addr]
	return !exists
}

// P2pConnectionError records a failure on a live connection.
type P2pConnectionError struct {
	p2pTag
	Addr  SocketAddr `json:"addr"`
	Error string     `json:"error"`
}

func (*P2pConnectionError) Kind() ActionKind { return KindP2pConnectionError }
func (a *P2pConnectionError) Enabled(s *State, now Timestamp) bool {
	c, ok := s.P2p.Connections[a.Addr]
	return ok && c.Status != ConnStatusError
}

// P2pConnectionTimeout fires when a pending connection exceeded its
// deadline. Enabled strictly by elapsed time, so replay fires it at the
// same step.
type P2pConnectionTimeout struct {
	p2pTag
	Addr SocketAddr `json:"addr"`
}

func (*P2pConnectionTimeout) Kind() ActionKind { return KindP2pConnectionTimeout }
func (a *P2pConnectionTimeout) Enabled(s *State, now Timestamp) bool {
	c, ok := s.P2p.Connections[a.Addr]
	if !ok || c.Status == ConnStatusReady || c.Status == ConnStatusError {
		return false
	}
	return now.After(c.PendingSince.Add(s.Config.Timeouts.Connect))
}

// P2pDisconnect tears a connection down on purpose.
type P2pDisconnect struct {
	p2pTag
	Addr   SocketAddr `json:"addr"`
	Reason string     `json:"reason"`
}

func (*P2pDisconnect) Kind() ActionKind { return KindP2pDisconnect }
func (a *P2pDisconnect) Enabled(s *State, now Timestamp) bool {
	_, ok := s.P2p.Connections[a.Addr]
	return ok
}

// P2pPeerDisconnected reports the socket gone.
type P2pPeerDisconnected struct {
	p2pTag
	Addr SocketAddr `json:"addr"`
}

func (*P2pPeerDisconnected) Kind() ActionKind { return KindP2pPeerDisconnected }
func (a *P2pPeerDisconnected) Enabled(s *State, now Timestamp) bool {
	_, ok := s.P2p.Connections[a.Addr]
	return ok
}

// P2pIncomingData feeds raw bytes from the service into the connection
// machine. Post-auth the service delivers decrypted bytes.
type P2pIncomingData struct {
	p2pTag
	Addr SocketAddr `json:"addr"`
	Data []byte     `json:"data"`
}

func (*P2pIncomingData) Kind() ActionKind { return KindP2pIncomingData }
func (a *P2pIncomingData) Enabled(s *State, now Timestamp) bool {
	c, ok := s.P2p.Connections[a.Addr]
	return ok && c.Status != ConnStatusError
}

// P2pNoiseHandshakeMessage advances the auth layer with one handshake
// message; the service did the crypto and extracted the remote static key.
type P2pNoiseHandshakeMessage struct {
	p2pTag
	Addr         SocketAddr `json:"addr"`
	RemoteStatic []byte     `json:"remote_static"`
	RemotePeer   PeerID     `json:"remote_peer"`
}

func (*P2pNoiseHandshakeMessage) Kind() ActionKind { return KindP2pNoiseHandshakeMessage }
func (a *P2pNoiseHandshakeMessage) Enabled(s *State, now Timestamp) bool {
	c, ok := s.P2p.Connections[a.Addr]
	return ok && c.Status == ConnStatusAuthenticating
}

// P2pPeerReady completes the stack for a connection's peer.
type P2pPeerReady struct {
	p2pTag
	Addr SocketAddr `json:"addr"`
	Peer PeerID     `json:"peer"`
}

func (*P2pPeerReady) Kind() ActionKind { return KindP2pPeerReady }
func (a *P2pPeerReady) Enabled(s *State, now Timestamp) bool {
	c, ok := s.P2p.Connections[a.Addr]
	return ok && c.Status == ConnStatusReady && a.Peer != ""
}

// --- rpc channel ---

// P2pRpcQuerySend issues one query to a ready peer. Not enabled while the
// per-peer pending map is at cap: callers observe the drop and retry.
type P2pRpcQuerySend struct {
	p2pTag
	Peer       PeerID `json:"peer"`
	Tag        string `json:"tag"`
	Version    int32  `json:"version"`
	Payload    []byte `json:"payload,omitempty"`
	LocalRpcID RpcId  `json:"local_rpc_id,omitempty"`
}

func (*P2pRpcQuerySend) Kind() ActionKind { return KindP2pRpcQuerySend }
func (a *P2pRpcQuerySend) Enabled(s *State, now Timestamp) bool {
	ps, ok := s.P2p.Peers[a.Peer]
	if !ok || ps.Status != PeerStatusReady {
		return false
	}
	ch, ok := s.P2p.Channels[a.Peer]
	if !ok {
		return false
	}
	return len(ch.Rpc.Pending) < maxPendingRpcQueries
}

// P2pRpcRespond answers a previously received query.
type P2pRpcRespond struct {
	p2pTag
	Peer    PeerID `json:"peer"`
	QueryID int64  `json:"query_id"`
	Payload []byte `json:"payload"`
}

func (*P2pRpcRespond) Kind() ActionKind { return KindP2pRpcRespond }
func (a *P2pRpcRespond) Enabled(s *State, now Timestamp) bool {
	ps, ok := s.P2p.Peers[a.Peer]
	return ok && ps.Status == PeerStatusReady
}

// P2pRpcTimeout expires one pending query.
type P2pRpcTimeout struct {
	p2pTag
	Peer    PeerID `json:"peer"`
	QueryID int64  `json:"query_id"`
}

func (*P2pRpcTimeout) Kind() ActionKind { return KindP2pRpcTimeout }
func (a *P2pRpcTimeout) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Peer]
	if !ok {
		return false
	}
	q, ok := ch.Rpc.Pending[a.QueryID]
	if !ok {
		return false
	}
	return now.After(q.SentAt.Add(s.Config.Timeouts.Rpc))
}

// --- kademlia ---

// P2pKadBootstrap launches the discovery walk.
type P2pKadBootstrap struct {
	p2pTag
}

func (*P2pKadBootstrap) Kind() ActionKind { return KindP2pKadBootstrap }
func (a *P2pKadBootstrap) Enabled(s *State, now Timestamp) bool {
	if s.P2p.Kademlia.Bootstrap.Status == KadBootstrapWalking {
		return false
	}
	return len(s.P2p.readyPeers()) > 0
}

// KadPeerInfo is one FIND_NODE result entry.
type KadPeerInfo struct {
	Peer  PeerID   `json:"peer"`
	Addrs []string `json:"addrs"`
}

// P2pKadQueryResult delivers a FIND_NODE answer.
type P2pKadQueryResult struct {
	p2pTag
	QueryID string        `json:"query_id"`
	Entries []KadPeerInfo `json:"entries"`
}

func (*P2pKadQueryResult) Kind() ActionKind { return KindP2pKadQueryResult }
func (a *P2pKadQueryResult) Enabled(s *State, now Timestamp) bool {
	q, ok := s.P2p.Kademlia.Queries[a.QueryID]
	return ok && q.Status == KadQueryPending
}

// P2pKadQueryError fails one query.
type P2pKadQueryError struct {
	p2pTag
	QueryID string `json:"query_id"`
	Error   string `json:"error"`
}

func (*P2pKadQueryError) Kind() ActionKind { return KindP2pKadQueryError }
func (a *P2pKadQueryError) Enabled(s *State, now Timestamp) bool {
	q, ok := s.P2p.Kademlia.Queries[a.QueryID]
	return ok && q.Status == KadQueryPending
}

// P2pKadTimeout expires one query by deadline.
type P2pKadTimeout struct {
	p2pTag
	QueryID string `json:"query_id"`
}

func (*P2pKadTimeout) Kind() ActionKind { return KindP2pKadTimeout }
func (a *P2pKadTimeout) Enabled(s *State, now Timestamp) bool {
	q, ok := s.P2p.Kademlia.Queries[a.QueryID]
	if !ok || q.Status != KadQueryPending {
		return false
	}
	return now.After(q.PendingSince.Add(s.Config.Timeouts.KadQuery))
}

// --- pubsub ---

// P2pPubsubSubscribe joins a topic.
type P2pPubsubSubscribe struct {
	p2pTag
	Topic string `json:"topic"`
}

func (*P2pPubsubSubscribe) Kind() ActionKind { return KindP2pPubsubSubscribe }
func (a *P2pPubsubSubscribe) Enabled(s *State, now Timestamp) bool {
	return !s.P2p.Pubsub.Subscribed[a.Topic]
}

// P2pPubsubUnsubscribe leaves a topic.
type P2pPubsubUnsubscribe struct {
	p2pTag
	Topic string `json:"topic"`
}

func (*P2pPubsubUnsubscribe) Kind() ActionKind { return KindP2pPubsubUnsubscribe }
func (a *P2pPubsubUnsubscribe) Enabled(s *State, now Timestamp) bool {
	return s.P2p.Pubsub.Subscribed[a.Topic]
}

// P2pPubsubPublish broadcasts one payload with its dedup nonce.
type P2pPubsubPublish struct {
	p2pTag
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
	Nonce uint64 `json:"nonce"`
}

func (*P2pPubsubPublish) Kind() ActionKind { return KindP2pPubsubPublish }
func (a *P2pPubsubPublish) Enabled(s *State, now Timestamp) bool {
	return s.P2p.Pubsub.Subscribed[a.Topic]
}

// P2pPubsubMessageReceived delivers one gossiped payload.
type P2pPubsubMessageReceived struct {
	p2pTag
	Topic string `json:"topic"`
	From  PeerID `json:"from"`
	Data  []byte `json:"data"`
	Nonce uint64 `json:"nonce"`
}

func (*P2pPubsubMessageReceived) Kind() ActionKind { return KindP2pPubsubMessageReceived }
func (a *P2pPubsubMessageReceived) Enabled(s *State, now Timestamp) bool {
	return s.P2p.Pubsub.Subscribed[a.Topic]
}

// --- identify ---

// P2pIdentifyReceived stores the peer descriptor.
type P2pIdentifyReceived struct {
	p2pTag
	Peer PeerID       `json:"peer"`
	Info IdentifyInfo `json:"info"`
}

func (*P2pIdentifyReceived) Kind() ActionKind { return KindP2pIdentifyReceived }
func (a *P2pIdentifyReceived) Enabled(s *State, now Timestamp) bool {
	_, ok := s.P2p.Peers[a.Peer]
	return ok
}

// --- signaling ---

// P2pSignalingOfferSend relays our SDP offer towards target via relay.
type P2pSignalingOfferSend struct {
	p2pTag
	Relay  PeerID `json:"relay"`
	Target PeerID `json:"target"`
	SDP    string `json:"sdp"`
	ID     string `json:"id"`
}

func (*P2pSignalingOfferSend) Kind() ActionKind { return KindP2pSignalingOfferSend }
func (a *P2pSignalingOfferSend) Enabled(s *State, now Timestamp) bool {
	ps, ok := s.P2p.Peers[a.Relay]
	if !ok || ps.Status != PeerStatusReady {
		return false
	}
	ch := s.P2p.Channels[a.Relay]
	return ch == nil || ch.Signaling.OutgoingOffer == nil
}

// P2pSignalingOfferReceived delivers a relayed offer addressed to us.
type P2pSignalingOfferReceived struct {
	p2pTag
	Via   PeerID         `json:"via"`
	Offer SignalingOffer `json:"offer"`
}

func (*P2pSignalingOfferReceived) Kind() ActionKind { return KindP2pSignalingOfferReceived }
func (a *P2pSignalingOfferReceived) Enabled(s *State, now Timestamp) bool {
	if a.Offer.To != s.P2p.PeerID {
		return false
	}
	ch := s.P2p.Channels[a.Via]
	return ch == nil || ch.Signaling.PendingOffer == nil
}

// P2pSignalingAnswerReceived delivers the encrypted answer to our offer.
type P2pSignalingAnswerReceived struct {
	p2pTag
	Via    PeerID          `json:"via"`
	Answer SignalingAnswer `json:"answer"`
}

func (*P2pSignalingAnswerReceived) Kind() ActionKind { return KindP2pSignalingAnswerReceived }
func (a *P2pSignalingAnswerReceived) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Via]
	return ok && ch.Signaling.OutgoingOffer != nil && ch.Signaling.OutgoingOffer.ID == a.Answer.OfferID
}

// P2pSignalingAnswerDecrypted carries the decrypted SDP answer back in.
type P2pSignalingAnswerDecrypted struct {
	p2pTag
	Via     PeerID `json:"via"`
	OfferID string `json:"offer_id"`
	SDP     string `json:"sdp"`
	Peer    PeerID `json:"peer"`
}

func (*P2pSignalingAnswerDecrypted) Kind() ActionKind { return KindP2pSignalingAnswerDecrypted }
func (a *P2pSignalingAnswerDecrypted) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Via]
	return ok && ch.Signaling.OutgoingOffer != nil && ch.Signaling.OutgoingOffer.ID == a.OfferID
}

// P2pSignalingDecryptFailed drops an offer whose answer would not decrypt.
type P2pSignalingDecryptFailed struct {
	p2pTag
	Via     PeerID `json:"via"`
	OfferID string `json:"offer_id"`
	Error   string `json:"error"`
}

func (*P2pSignalingDecryptFailed) Kind() ActionKind { return KindP2pSignalingDecryptFailed }
func (a *P2pSignalingDecryptFailed) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Via]
	return ok && ch.Signaling.OutgoingOffer != nil && ch.Signaling.OutgoingOffer.ID == a.OfferID
}

// --- propagation channels ---

// ChannelKind selects one propagation channel.
type ChannelKind string

const (
	ChannelSnark           ChannelKind = "snark"
	ChannelSnarkCommitment ChannelKind = "snark_commitment"
	ChannelTransaction     ChannelKind = "transaction"
	ChannelStreamingRpc    ChannelKind = "streaming_rpc"
)

// propagation returns the addressed channel within the book.
func (pc *PeerChannels) propagation(kind ChannelKind) *PropagationChannel {
	switch kind {
	case ChannelSnark:
		return &pc.Snark
	case ChannelSnarkCommitment:
		return &pc.SnarkCommitment
	case ChannelTransaction:
		return &pc.Transaction
	case ChannelStreamingRpc:
		return &pc.StreamingRpc
	default:
		return nil
	}
}

// P2pChannelRequestSend asks the peer for up to Limit items.
type P2pChannelRequestSend struct {
	p2pTag
	Peer    PeerID      `json:"peer"`
	Channel ChannelKind `json:"channel"`
	Limit   uint8       `json:"limit"`
}

func (*P2pChannelRequestSend) Kind() ActionKind { return KindP2pChannelRequestSend }
func (a *P2pChannelRequestSend) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Peer]
	if !ok {
		return false
	}
	pch := ch.propagation(a.Channel)
	return pch != nil && pch.nextRequestReady() && a.Limit > 0
}

// P2pChannelRequestReceived records the peer's request for our items.
type P2pChannelRequestReceived struct {
	p2pTag
	Peer    PeerID      `json:"peer"`
	Channel ChannelKind `json:"channel"`
	Limit   uint8       `json:"limit"`
}

func (*P2pChannelRequestReceived) Kind() ActionKind { return KindP2pChannelRequestReceived }
func (a *P2pChannelRequestReceived) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Peer]
	if !ok {
		return false
	}
	pch := ch.propagation(a.Channel)
	return pch != nil && pch.Status == PropagationReady
}

// P2pChannelResponseReceived delivers one item from the peer.
type P2pChannelResponseReceived struct {
	p2pTag
	Peer    PeerID      `json:"peer"`
	Channel ChannelKind `json:"channel"`
	Index   uint64      `json:"index"`
	Done    bool        `json:"done"`
	Payload []byte      `json:"payload"`
}

func (*P2pChannelResponseReceived) Kind() ActionKind { return KindP2pChannelResponseReceived }
func (a *P2pChannelResponseReceived) Enabled(s *State, now Timestamp) bool {
	ch, ok := s.P2p.Channels[a.Peer]
	if !ok {
		return false
	}
	pch := ch.propagation(a.Channel)
	if pch == nil || pch.Status != PropagationReady {
		return false
	}
	return pch.Remote.Status == SideRequested || pch.Remote.Status == SideResponding
}

// --- effects ---

// P2pEffectDial tells the service to open a socket.
type P2pEffectDial struct {
	p2pTag
	Effect
	Addr SocketAddr `json:"addr"`
}

func (*P2pEffectDial) Kind() ActionKind                      { return KindP2pEffectDial }
func (a *P2pEffectDial) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectAuthStart tells the service to run the noise handshake now that
// protocol negotiation selected it.
type P2pEffectAuthStart struct {
	p2pTag
	Effect
	Addr      SocketAddr `json:"addr"`
	Initiator bool       `json:"initiator"`
}

func (*P2pEffectAuthStart) Kind() ActionKind                      { return KindP2pEffectAuthStart }
func (a *P2pEffectAuthStart) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectChannelRequest carries our propagation-channel request to the
// wire.
type P2pEffectChannelRequest struct {
	p2pTag
	Effect
	Peer    PeerID      `json:"peer"`
	Channel ChannelKind `json:"channel"`
	Limit   uint8       `json:"limit"`
}

func (*P2pEffectChannelRequest) Kind() ActionKind                      { return KindP2pEffectChannelRequest }
func (a *P2pEffectChannelRequest) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectChannelResponse pushes one of our items to a requesting peer.
type P2pEffectChannelResponse struct {
	p2pTag
	Effect
	Peer    PeerID      `json:"peer"`
	Channel ChannelKind `json:"channel"`
	Index   uint64      `json:"index"`
	Done    bool        `json:"done"`
	Payload []byte      `json:"payload"`
}

func (*P2pEffectChannelResponse) Kind() ActionKind                      { return KindP2pEffectChannelResponse }
func (a *P2pEffectChannelResponse) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectDisconnect tells the service to close a socket.
type P2pEffectDisconnect struct {
	p2pTag
	Effect
	Addr   SocketAddr `json:"addr"`
	Reason string     `json:"reason"`
}

func (*P2pEffectDisconnect) Kind() ActionKind                      { return KindP2pEffectDisconnect }
func (a *P2pEffectDisconnect) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectOutgoingData carries wire bytes and their exact yamux flag set.
type P2pEffectOutgoingData struct {
	p2pTag
	Effect
	Addr  SocketAddr `json:"addr"`
	Data  []byte     `json:"data"`
	Flags uint16     `json:"flags,omitempty"`
}

func (*P2pEffectOutgoingData) Kind() ActionKind                      { return KindP2pEffectOutgoingData }
func (a *P2pEffectOutgoingData) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectRpcIncoming routes a received query to the owning subsystem's
// handler in the node service.
type P2pEffectRpcIncoming struct {
	p2pTag
	Effect
	Peer    PeerID `json:"peer"`
	QueryID int64  `json:"query_id"`
	Tag     string `json:"tag"`
	Version int32  `json:"version"`
	Payload []byte `json:"payload"`
}

func (*P2pEffectRpcIncoming) Kind() ActionKind                      { return KindP2pEffectRpcIncoming }
func (a *P2pEffectRpcIncoming) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectRpcResponse hands a matched response to its consumer.
type P2pEffectRpcResponse struct {
	p2pTag
	Effect
	Peer       PeerID `json:"peer"`
	Tag        string `json:"tag"`
	QueryID    int64  `json:"query_id"`
	LocalRpcID RpcId  `json:"local_rpc_id,omitempty"`
	Payload    []byte `json:"payload"`
}

func (*P2pEffectRpcResponse) Kind() ActionKind                      { return KindP2pEffectRpcResponse }
func (a *P2pEffectRpcResponse) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectKadQuery tells the service to run one FIND_NODE.
type P2pEffectKadQuery struct {
	p2pTag
	Effect
	QueryID string `json:"query_id"`
	Peer    PeerID `json:"peer"`
	Target  Hash   `json:"target"`
}

func (*P2pEffectKadQuery) Kind() ActionKind                      { return KindP2pEffectKadQuery }
func (a *P2pEffectKadQuery) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectSubscribe joins the libp2p topic.
type P2pEffectSubscribe struct {
	p2pTag
	Effect
	Topic string `json:"topic"`
}

func (*P2pEffectSubscribe) Kind() ActionKind                      { return KindP2pEffectSubscribe }
func (a *P2pEffectSubscribe) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectUnsubscribe leaves the libp2p topic.
type P2pEffectUnsubscribe struct {
	p2pTag
	Effect
	Topic string `json:"topic"`
}

func (*P2pEffectUnsubscribe) Kind() ActionKind                      { return KindP2pEffectUnsubscribe }
func (a *P2pEffectUnsubscribe) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectPublish pushes one payload onto the wire.
type P2pEffectPublish struct {
	p2pTag
	Effect
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
	Nonce uint64 `json:"nonce"`
}

func (*P2pEffectPublish) Kind() ActionKind                      { return KindP2pEffectPublish }
func (a *P2pEffectPublish) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectIdentifySend pushes our descriptor to the peer.
type P2pEffectIdentifySend struct {
	p2pTag
	Effect
	Peer PeerID       `json:"peer"`
	Info IdentifyInfo `json:"info"`
}

func (*P2pEffectIdentifySend) Kind() ActionKind                      { return KindP2pEffectIdentifySend }
func (a *P2pEffectIdentifySend) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectSignalingSend relays an offer through the relay peer.
type P2pEffectSignalingSend struct {
	p2pTag
	Effect
	Relay PeerID         `json:"relay"`
	Offer SignalingOffer `json:"offer"`
}

func (*P2pEffectSignalingSend) Kind() ActionKind                      { return KindP2pEffectSignalingSend }
func (a *P2pEffectSignalingSend) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectSignalingAnswer tells the service to answer a pending offer:
// create the webrtc answer, encrypt it under the shared secret and relay
// it back.
type P2pEffectSignalingAnswer struct {
	p2pTag
	Effect
	Via   PeerID         `json:"via"`
	Offer SignalingOffer `json:"offer"`
}

func (*P2pEffectSignalingAnswer) Kind() ActionKind                      { return KindP2pEffectSignalingAnswer }
func (a *P2pEffectSignalingAnswer) Enabled(s *State, now Timestamp) bool { return true }

// P2pEffectSignalingDecrypt tells the service to open a received answer.
type P2pEffectSignalingDecrypt struct {
	p2pTag
	Effect
	Via    PeerID          `json:"via"`
	Answer SignalingAnswer `json:"answer"`
}

func (*P2pEffectSignalingDecrypt) Kind() ActionKind                      { return KindP2pEffectSignalingDecrypt }
func (a *P2pEffectSignalingDecrypt) Enabled(s *State, now Timestamp) bool { return true }
