package core

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	pool "github.com/libp2p/go-buffer-pool"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// P2pService owns every socket. It shuttles bytes between the wire and the
// scheduler state machine, runs the noise crypto the reducer sequences,
// and backs gossip, discovery, identify and signaling with libp2p and pion
// transports. Nothing it holds matters to reducer correctness; every
// observable change goes through the action stream.

// gossipEnvelope frames pubsub payloads with their dedup nonce.
type gossipEnvelope struct {
	Nonce uint64 `json:"nonce"`
	Data  []byte `json:"data"`
}

// kadWireQuery is the FIND_NODE request on the discovery stream.
type kadWireQuery struct {
	Target Hash `json:"target"`
}

// kadWireResponse is its answer.
type kadWireResponse struct {
	Entries []KadPeerInfo `json:"entries"`
}

// channelWireMsg carries propagation-channel requests and responses.
type channelWireMsg struct {
	Channel ChannelKind `json:"channel"`
	Request bool        `json:"request"`
	Limit   uint8       `json:"limit,omitempty"`
	Index   uint64      `json:"index,omitempty"`
	Done    bool        `json:"done,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
}

// signalingWireMsg relays offers and encrypted answers.
type signalingWireMsg struct {
	Offer  *SignalingOffer  `json:"offer,omitempty"`
	Answer *SignalingAnswer `json:"answer,omitempty"`
}

// tcpConn is one raw transport connection owned by the service. The read
// loop is the only socket reader; during the noise handshake it feeds raw
// chunks to the handshake goroutine through hsIn instead of the store.
type tcpConn struct {
	conn net.Conn
	// enc/dec are nil until the noise handshake completed; afterwards all
	// wire traffic is framed and sealed.
	mu       sync.Mutex
	enc      *noise.CipherState
	dec      *noise.CipherState
	hsActive bool
	hsIn     chan []byte
}

// P2pService wires the transports.
type P2pService struct {
	logger *logrus.Logger
	store  *Store
	cfg    *Config

	noiseKey noise.DHKey
	privKey  libp2pcrypto.PrivKey

	host   host.Host
	pubsub *pubsub.PubSub
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	mu      sync.Mutex
	conns   map[SocketAddr]*tcpConn
	rtc     map[PeerID]*webrtc.PeerConnection
	rtcData map[PeerID]*webrtc.DataChannel

	ctx    context.Context
	cancel context.CancelFunc
}

// NewP2pService builds the service; Start brings the transports up.
func NewP2pService(cfg *Config, store *Store, lg *logrus.Logger) (*P2pService, error) {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	static, err := noiseCipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate noise identity: %w", err)
	}
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate libp2p identity: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &P2pService{
		logger:   lg,
		store:    store,
		cfg:      cfg,
		noiseKey: static,
		privKey:  priv,
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[string]*pubsub.Subscription),
		conns:    make(map[SocketAddr]*tcpConn),
		rtc:      make(map[PeerID]*webrtc.PeerConnection),
		rtcData:  make(map[PeerID]*webrtc.DataChannel),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start brings up the libp2p host and gossip layer.
func (p *P2pService) Start() error {
	var addrs []string
	for _, a := range p.cfg.ListenAddrs {
		if _, err := ma.NewMultiaddr(a); err == nil {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		addrs = []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", p.cfg.LibP2PPort)}
	}
	psk := NoisePSK(p.cfg.ChainID)
	h, err := libp2p.New(
		libp2p.Identity(p.privKey),
		libp2p.ListenAddrStrings(addrs...),
		libp2p.PrivateNetwork(psk[:]),
	)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	p.host = h

	ps, err := pubsub.NewGossipSub(p.ctx, h)
	if err != nil {
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	p.pubsub = ps

	h.SetStreamHandler(protocol.ID(KadProtocolID), p.handleKadStream)
	h.SetStreamHandler(protocol.ID(SignalingProtocolID), p.handleSignalingStream)
	for _, proto := range []string{SnarkChannelProtocol, SnarkCommitmentChannelProtocol, TransactionChannelProtocol, StreamingRpcChannelProtocol} {
		h.SetStreamHandler(protocol.ID(proto), p.handleChannelStream)
	}
	return nil
}

// Close tears every transport down.
func (p *P2pService) Close() error {
	p.cancel()
	p.mu.Lock()
	for _, c := range p.conns {
		c.conn.Close()
	}
	for _, pc := range p.rtc {
		pc.Close()
	}
	p.mu.Unlock()
	if p.host != nil {
		return p.host.Close()
	}
	return nil
}

// HandleEffect executes one routed networking effect.
func (p *P2pService) HandleEffect(a EffectAction) {
	switch act := a.(type) {
	case *P2pEffectDial:
		go p.dial(act.Addr)
	case *P2pEffectDisconnect:
		p.disconnect(act.Addr)
	case *P2pEffectAuthStart:
		go p.runNoiseHandshake(act.Addr, act.Initiator)
	case *P2pEffectOutgoingData:
		p.write(act.Addr, act.Data)
	case *P2pEffectKadQuery:
		go p.kadQuery(act)
	case *P2pEffectSubscribe:
		p.subscribe(act.Topic)
	case *P2pEffectUnsubscribe:
		p.unsubscribe(act.Topic)
	case *P2pEffectPublish:
		p.publish(act)
	case *P2pEffectIdentifySend:
		go p.sendIdentify(act)
	case *P2pEffectSignalingSend:
		go p.sendSignaling(act.Relay, signalingWireMsg{Offer: &act.Offer})
	case *P2pEffectSignalingAnswer:
		go p.answerSignaling(act)
	case *P2pEffectSignalingDecrypt:
		go p.decryptSignaling(act)
	case *P2pEffectChannelRequest:
		go p.sendChannelMsg(act.Peer, channelWireMsg{Channel: act.Channel, Request: true, Limit: act.Limit})
	case *P2pEffectChannelResponse:
		go p.sendChannelMsg(act.Peer, channelWireMsg{Channel: act.Channel, Index: act.Index, Done: act.Done, Payload: act.Payload})
	}
}

// --- raw transport ---

func (p *P2pService) dial(addr SocketAddr) {
	if transportForAddr(addr) == TransportWebRTC {
		p.dialWebRTC(PeerID(addr[len("webrtc:"):]))
		return
	}
	conn, err := net.DialTimeout("tcp", string(addr), p.cfg.Timeouts.Connect)
	if err != nil {
		p.store.Dispatch(&P2pConnectionError{Addr: addr, Error: err.Error()})
		return
	}
	tc := &tcpConn{conn: conn, hsIn: make(chan []byte, 16)}
	p.mu.Lock()
	p.conns[addr] = tc
	p.mu.Unlock()
	p.store.Dispatch(&P2pConnectionEstablished{Addr: addr})
	go p.readLoop(addr, tc)
}

func (p *P2pService) disconnect(addr SocketAddr) {
	p.mu.Lock()
	tc, ok := p.conns[addr]
	if ok {
		delete(p.conns, addr)
	}
	p.mu.Unlock()
	if ok {
		tc.conn.Close()
	}
}

func (p *P2pService) write(addr SocketAddr, data []byte) {
	p.mu.Lock()
	tc, ok := p.conns[addr]
	p.mu.Unlock()
	if !ok {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := data
	if tc.enc != nil {
		sealed, err := tc.enc.Encrypt(nil, nil, data)
		if err != nil {
			p.store.Dispatch(&P2pConnectionError{Addr: addr, Error: err.Error()})
			return
		}
		out = encodeNoiseFrame(sealed)
	}
	if _, err := tc.conn.Write(out); err != nil {
		p.store.Dispatch(&P2pConnectionError{Addr: addr, Error: err.Error()})
	}
}

// readLoop moves raw or decrypted bytes into the scheduler.
func (p *P2pService) readLoop(addr SocketAddr, tc *tcpConn) {
	buf := pool.Get(32 * 1024)
	defer pool.Put(buf)
	var sealedRest []byte
	for {
		n, err := tc.conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				p.logger.WithField("addr", addr).WithError(err).Debug("read failed")
			}
			p.store.Dispatch(&P2pPeerDisconnected{Addr: addr})
			return
		}
		tc.mu.Lock()
		dec := tc.dec
		hsActive := tc.hsActive
		tc.mu.Unlock()
		if hsActive {
			tc.hsIn <- append([]byte(nil), buf[:n]...)
			continue
		}
		if dec == nil {
			p.store.Dispatch(&P2pIncomingData{Addr: addr, Data: append([]byte(nil), buf[:n]...)})
			continue
		}
		sealedRest = append(sealedRest, buf[:n]...)
		for {
			frame, rest, ok := decodeNoiseFrame(sealedRest)
			if !ok {
				break
			}
			sealedRest = rest
			plain, err := dec.Decrypt(nil, nil, frame)
			if err != nil {
				p.store.Dispatch(&P2pConnectionError{Addr: addr, Error: fmt.Sprintf("noise decrypt: %v", err)})
				return
			}
			p.store.Dispatch(&P2pIncomingData{Addr: addr, Data: plain})
		}
	}
}

// runNoiseHandshake executes IX over the raw socket and installs the
// transport ciphers. The reducer sees each handshake message as an action.
func (p *P2pService) runNoiseHandshake(addr SocketAddr, initiator bool) {
	p.mu.Lock()
	tc, ok := p.conns[addr]
	p.mu.Unlock()
	if !ok {
		return
	}
	hs, err := NewNoiseHandshake(initiator, p.noiseKey)
	if err != nil {
		p.store.Dispatch(&P2pConnectionError{Addr: addr, Error: err.Error()})
		return
	}
	tc.mu.Lock()
	tc.hsActive = true
	tc.mu.Unlock()
	done := func() {
		tc.mu.Lock()
		tc.hsActive = false
		tc.mu.Unlock()
	}
	defer done()

	fail := func(err error) {
		p.store.Dispatch(&P2pConnectionError{Addr: addr, Error: fmt.Sprintf("noise handshake: %v", err)})
	}
	var hsBuf []byte
	readMsg := func() ([]byte, error) {
		for {
			if msg, rest, ok := decodeNoiseFrame(hsBuf); ok {
				hsBuf = rest
				return msg, nil
			}
			select {
			case chunk := <-tc.hsIn:
				hsBuf = append(hsBuf, chunk...)
			case <-time.After(p.cfg.Timeouts.Connect):
				return nil, fmt.Errorf("handshake read timed out")
			}
		}
	}
	writeMsg := func(msg []byte) error {
		_, err := tc.conn.Write(encodeNoiseFrame(msg))
		return err
	}

	var enc, dec *noise.CipherState
	if initiator {
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			fail(err)
			return
		}
		if err := writeMsg(msg); err != nil {
			fail(err)
			return
		}
		reply, err := readMsg()
		if err != nil {
			fail(err)
			return
		}
		if _, dec, enc, err = hs.ReadMessage(nil, reply); err != nil {
			fail(err)
			return
		}
		// flynn/noise returns (cs0, cs1) ordered for the initiator.
		enc, dec = dec, enc
	} else {
		first, err := readMsg()
		if err != nil {
			fail(err)
			return
		}
		if _, _, _, err = hs.ReadMessage(nil, first); err != nil {
			fail(err)
			return
		}
		msg, cs0, cs1, err := hs.WriteMessage(nil, nil)
		if err != nil {
			fail(err)
			return
		}
		if err := writeMsg(msg); err != nil {
			fail(err)
			return
		}
		dec, enc = cs0, cs1
	}

	remote := hs.PeerStatic()
	remoteID, err := PeerIDFromPublicKey(remote)
	if err != nil {
		fail(err)
		return
	}
	tc.mu.Lock()
	tc.enc = enc
	tc.dec = dec
	tc.hsActive = false
	tc.mu.Unlock()
	p.store.Dispatch(&P2pNoiseHandshakeMessage{Addr: addr, RemoteStatic: remote, RemotePeer: remoteID})
}

// --- webrtc transport ---

func (p *P2pService) dialWebRTC(target PeerID) {
	p.mu.Lock()
	pc, ok := p.rtc[target]
	p.mu.Unlock()
	if !ok {
		// Answer path: a decrypted answer for an unknown connection means
		// the offer side state was lost.
		p.store.Dispatch(&P2pConnectionError{Addr: webrtcAddr(target), Error: "no pending webrtc connection"})
		return
	}
	dc, err := pc.CreateDataChannel("samasika", nil)
	if err != nil {
		p.store.Dispatch(&P2pConnectionError{Addr: webrtcAddr(target), Error: err.Error()})
		return
	}
	p.bindDataChannel(target, dc)
}

// bindDataChannel routes datachannel traffic into the scheduler.
func (p *P2pService) bindDataChannel(target PeerID, dc *webrtc.DataChannel) {
	addr := webrtcAddr(target)
	p.mu.Lock()
	p.rtcData[target] = dc
	p.mu.Unlock()
	dc.OnOpen(func() {
		p.store.Dispatch(&P2pConnectionEstablished{Addr: addr})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.store.Dispatch(&P2pIncomingData{Addr: addr, Data: msg.Data})
	})
	dc.OnClose(func() {
		p.store.Dispatch(&P2pPeerDisconnected{Addr: addr})
	})
}

// --- gossip ---

func (p *P2pService) subscribe(topic string) {
	t, ok := p.topics[topic]
	if !ok {
		var err error
		t, err = p.pubsub.Join(topic)
		if err != nil {
			p.logger.WithField("topic", topic).WithError(err).Warn("pubsub join failed")
			return
		}
		p.topics[topic] = t
	}
	sub, err := t.Subscribe()
	if err != nil {
		p.logger.WithField("topic", topic).WithError(err).Warn("pubsub subscribe failed")
		return
	}
	p.subs[topic] = sub
	go p.pumpTopic(topic, sub)
}

func (p *P2pService) unsubscribe(topic string) {
	if sub, ok := p.subs[topic]; ok {
		sub.Cancel()
		delete(p.subs, topic)
	}
}

func (p *P2pService) publish(act *P2pEffectPublish) {
	t, ok := p.topics[act.Topic]
	if !ok {
		return
	}
	raw, err := json.Marshal(gossipEnvelope{Nonce: act.Nonce, Data: act.Data})
	if err != nil {
		return
	}
	if err := t.Publish(p.ctx, raw); err != nil {
		p.logger.WithField("topic", act.Topic).WithError(err).Warn("publish failed")
	}
}

func (p *P2pService) pumpTopic(topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(p.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == p.host.ID() {
			continue
		}
		var env gossipEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			continue
		}
		p.store.Dispatch(&P2pPubsubMessageReceived{
			Topic: topic,
			From:  PeerID(msg.ReceivedFrom.String()),
			Data:  env.Data,
			Nonce: env.Nonce,
		})
	}
}

// --- discovery ---

func (p *P2pService) kadQuery(act *P2pEffectKadQuery) {
	pid, err := peer.Decode(string(act.Peer))
	if err != nil {
		p.store.Dispatch(&P2pKadQueryError{QueryID: act.QueryID, Error: err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeouts.KadQuery)
	defer cancel()
	st, err := p.host.NewStream(ctx, pid, protocol.ID(KadProtocolID))
	if err != nil {
		p.store.Dispatch(&P2pKadQueryError{QueryID: act.QueryID, Error: err.Error()})
		return
	}
	defer st.Close()
	if err := json.NewEncoder(st).Encode(kadWireQuery{Target: act.Target}); err != nil {
		p.store.Dispatch(&P2pKadQueryError{QueryID: act.QueryID, Error: err.Error()})
		return
	}
	var resp kadWireResponse
	if err := json.NewDecoder(st).Decode(&resp); err != nil {
		p.store.Dispatch(&P2pKadQueryError{QueryID: act.QueryID, Error: err.Error()})
		return
	}
	p.store.Dispatch(&P2pKadQueryResult{QueryID: act.QueryID, Entries: resp.Entries})
}

// handleKadStream serves FIND_NODE from our routing table.
func (p *P2pService) handleKadStream(st network.Stream) {
	defer st.Close()
	var q kadWireQuery
	if err := json.NewDecoder(st).Decode(&q); err != nil {
		return
	}
	var resp kadWireResponse
	p.store.WithState(func(s *State) {
		for _, e := range s.P2p.Kademlia.closestPeers(q.Target, kadBucketSize) {
			resp.Entries = append(resp.Entries, KadPeerInfo{Peer: e.Peer, Addrs: e.Addrs})
		}
	})
	json.NewEncoder(st).Encode(resp)
}

// --- identify ---

func (p *P2pService) sendIdentify(act *P2pEffectIdentifySend) {
	pid, err := peer.Decode(string(act.Peer))
	if err != nil {
		return
	}
	st, err := p.host.NewStream(p.ctx, pid, protocol.ID(IdentifyProtocolID))
	if err != nil {
		return
	}
	defer st.Close()
	json.NewEncoder(st).Encode(act.Info)
	var theirs IdentifyInfo
	if err := json.NewDecoder(st).Decode(&theirs); err == nil {
		p.store.Dispatch(&P2pIdentifyReceived{Peer: act.Peer, Info: theirs})
	}
}

// --- signaling ---

func (p *P2pService) sendSignaling(relay PeerID, msg signalingWireMsg) {
	pid, err := peer.Decode(string(relay))
	if err != nil {
		return
	}
	st, err := p.host.NewStream(p.ctx, pid, protocol.ID(SignalingProtocolID))
	if err != nil {
		return
	}
	defer st.Close()
	json.NewEncoder(st).Encode(msg)
}

// handleSignalingStream relays and terminates signaling messages.
func (p *P2pService) handleSignalingStream(st network.Stream) {
	defer st.Close()
	var msg signalingWireMsg
	if err := json.NewDecoder(st).Decode(&msg); err != nil {
		return
	}
	from := PeerID(st.Conn().RemotePeer().String())
	if msg.Offer != nil {
		p.store.Dispatch(&P2pSignalingOfferReceived{Via: from, Offer: *msg.Offer})
	}
	if msg.Answer != nil {
		p.store.Dispatch(&P2pSignalingAnswerReceived{Via: from, Answer: *msg.Answer})
	}
}

// answerSignaling builds the webrtc answer and relays it encrypted under
// the pairwise secret.
func (p *P2pService) answerSignaling(act *P2pEffectSignalingAnswer) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		p.logger.WithError(err).Warn("webrtc answer: peer connection")
		return
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.bindDataChannel(act.Offer.From, dc)
	})
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: act.Offer.SDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return
	}
	p.mu.Lock()
	p.rtc[act.Offer.From] = pc
	p.mu.Unlock()

	offererPub := p.peerStaticKey(act.Offer.From)
	ciphertext, err := EncryptSignalingAnswer(p.noiseKey, offererPub, act.Offer.From, act.Offer.To, answer.SDP)
	if err != nil {
		p.logger.WithError(err).Warn("webrtc answer: encrypt")
		return
	}
	p.sendSignaling(act.Via, signalingWireMsg{Answer: &SignalingAnswer{
		OfferID:    act.Offer.ID,
		From:       act.Offer.To,
		Ciphertext: ciphertext,
	}})
}

func (p *P2pService) decryptSignaling(act *P2pEffectSignalingDecrypt) {
	answererPub := p.peerStaticKey(act.Answer.From)
	var offerID string
	var offerer PeerID
	p.store.WithState(func(s *State) {
		if ch, ok := s.P2p.Channels[act.Via]; ok && ch.Signaling.OutgoingOffer != nil {
			offerID = ch.Signaling.OutgoingOffer.ID
			offerer = ch.Signaling.OutgoingOffer.From
		}
	})
	sdp, err := DecryptSignalingAnswer(p.noiseKey, answererPub, offerer, act.Answer.From, act.Answer.Ciphertext)
	if err != nil {
		p.store.Dispatch(&P2pSignalingDecryptFailed{Via: act.Via, OfferID: offerID, Error: err.Error()})
		return
	}
	p.mu.Lock()
	pc := p.rtc[act.Answer.From]
	p.mu.Unlock()
	if pc != nil {
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
		if err := pc.SetRemoteDescription(desc); err != nil {
			p.store.Dispatch(&P2pSignalingDecryptFailed{Via: act.Via, OfferID: offerID, Error: err.Error()})
			return
		}
	}
	p.store.Dispatch(&P2pSignalingAnswerDecrypted{Via: act.Via, OfferID: offerID, SDP: sdp, Peer: act.Answer.From})
}

// peerStaticKey resolves a peer's identify-advertised public key.
func (p *P2pService) peerStaticKey(id PeerID) []byte {
	var key []byte
	p.store.WithState(func(s *State) {
		if ps, ok := s.P2p.Peers[id]; ok && ps.Identify != nil {
			key = append([]byte(nil), ps.Identify.PublicKey...)
		}
	})
	return key
}

// --- propagation channels ---

func (p *P2pService) sendChannelMsg(target PeerID, msg channelWireMsg) {
	pid, err := peer.Decode(string(target))
	if err != nil {
		return
	}
	proto := SnarkChannelProtocol
	switch msg.Channel {
	case ChannelSnarkCommitment:
		proto = SnarkCommitmentChannelProtocol
	case ChannelTransaction:
		proto = TransactionChannelProtocol
	case ChannelStreamingRpc:
		proto = StreamingRpcChannelProtocol
	}
	st, err := p.host.NewStream(p.ctx, pid, protocol.ID(proto))
	if err != nil {
		return
	}
	defer st.Close()
	json.NewEncoder(st).Encode(msg)
}

func (p *P2pService) handleChannelStream(st network.Stream) {
	defer st.Close()
	var msg channelWireMsg
	if err := json.NewDecoder(st).Decode(&msg); err != nil {
		return
	}
	from := PeerID(st.Conn().RemotePeer().String())
	if msg.Request {
		p.store.Dispatch(&P2pChannelRequestReceived{Peer: from, Channel: msg.Channel, Limit: msg.Limit})
		return
	}
	p.store.Dispatch(&P2pChannelResponseReceived{Peer: from, Channel: msg.Channel, Index: msg.Index, Done: msg.Done, Payload: msg.Payload})
}
