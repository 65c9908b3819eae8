package core

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRpcHandshakeConstant(t *testing.T) {
	want := []byte{0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0xfd, 0x52, 0x50, 0x43, 0x00, 0x01}
	if !bytes.Equal(rpcHandshakeMsg, want) {
		t.Fatalf("handshake bytes %x, want %x", rpcHandshakeMsg, want)
	}
	// "RPC\0\0\0\0\0" little-endian.
	var buf [8]byte
	copy(buf[:], "RPC")
	if int64(binary.LittleEndian.Uint64(buf[:])) != rpcHandshakeResponseID {
		t.Fatalf("handshake response id %#x", rpcHandshakeResponseID)
	}
}

func TestRpcMessageCodecRoundTrip(t *testing.T) {
	var wire []byte
	wire = append(wire, encodeRpcHeartbeat()...)
	wire = append(wire, encodeRpcQuery(RpcTagGetTransitionChain, 1, 42, []byte("hash"))...)
	wire = append(wire, encodeRpcResponse(42, []byte("block"))...)

	msgs, rest, err := decodeRpcMessages(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 || len(msgs) != 3 {
		t.Fatalf("decoded %d msgs, %d leftover", len(msgs), len(rest))
	}
	if msgs[0].Header != rpcMsgHeartbeat {
		t.Fatalf("msg0 header %d", msgs[0].Header)
	}
	q := msgs[1]
	if q.Tag != RpcTagGetTransitionChain || q.Version != 1 || q.ID != 42 || !bytes.Equal(q.Payload, []byte("hash")) {
		t.Fatalf("query mangled: %+v", q)
	}
	r := msgs[2]
	if r.ID != 42 || !bytes.Equal(r.Payload, []byte("block")) {
		t.Fatalf("response mangled: %+v", r)
	}
}

func TestRpcMalformedFrameIsFatalToChannel(t *testing.T) {
	wire := make([]byte, 8)
	binary.LittleEndian.PutUint64(wire, 0) // zero-length frame
	if _, _, err := decodeRpcMessages(wire); err == nil {
		t.Fatal("zero-length frame accepted")
	}
}

func TestRpcQuerySendRegistersPendingAndFrames(t *testing.T) {
	store, state, _, log := testStore(nil)
	addr := SocketAddr("10.0.0.4:8302")
	readyPeer(state, "peer-q", addr)

	if !store.Dispatch(&P2pRpcQuerySend{Peer: "peer-q", Tag: RpcTagGetBestTip, Version: 3}) {
		t.Fatal("query send not enabled")
	}
	ch := state.P2p.Channels["peer-q"]
	if len(ch.Rpc.Pending) != 1 {
		t.Fatalf("pending = %d", len(ch.Rpc.Pending))
	}
	if log.count(KindP2pEffectOutgoingData) != 1 {
		t.Fatal("no wire frame emitted")
	}
}

func TestRpcQuerySendBackpressureAtCap(t *testing.T) {
	store, state, _, _ := testStore(nil)
	addr := SocketAddr("10.0.0.5:8302")
	readyPeer(state, "peer-cap", addr)
	ch := state.P2p.channels("peer-cap")
	for i := 0; i < maxPendingRpcQueries; i++ {
		ch.Rpc.registerQuery(RpcTagGetBestTip, 3, 0, 1)
	}
	before := state.AppliedActionsCount
	if store.Dispatch(&P2pRpcQuerySend{Peer: "peer-cap", Tag: RpcTagGetBestTip, Version: 3}) {
		t.Fatal("query send enabled at cap")
	}
	if state.AppliedActionsCount != before {
		t.Fatal("dropped action still counted as applied")
	}
}

func TestRpcResponseMatchesPendingAndRoutes(t *testing.T) {
	store, state, _, log := testStore(nil)
	addr := SocketAddr("10.0.0.6:8302")
	readyPeer(state, "peer-r", addr)
	store.Dispatch(&P2pRpcQuerySend{Peer: "peer-r", Tag: RpcTagGetBestTip, Version: 3})

	resp := encodeRpcResponse(1, []byte("tip"))
	frame := encodeYamuxFrame(YamuxFrame{Type: YamuxTypeData, StreamID: 1, Data: resp})
	store.Dispatch(&P2pIncomingData{Addr: addr, Data: frame})

	ch := state.P2p.Channels["peer-r"]
	if len(ch.Rpc.Pending) != 0 {
		t.Fatalf("pending not cleared: %d", len(ch.Rpc.Pending))
	}
	if log.count(KindP2pEffectRpcResponse) != 1 {
		t.Fatal("matched response not routed")
	}
}

func TestRpcUnknownResponseDroppedWithCounter(t *testing.T) {
	store, state, _, log := testStore(nil)
	addr := SocketAddr("10.0.0.7:8302")
	readyPeer(state, "peer-u", addr)

	resp := encodeRpcResponse(999, []byte("stray"))
	frame := encodeYamuxFrame(YamuxFrame{Type: YamuxTypeData, StreamID: 1, Data: resp})
	store.Dispatch(&P2pIncomingData{Addr: addr, Data: frame})

	if state.Stats.RpcUnexpectedResponses != 1 {
		t.Fatalf("unexpected-response counter = %d", state.Stats.RpcUnexpectedResponses)
	}
	if log.count(KindP2pEffectRpcResponse) != 0 {
		t.Fatal("stray response routed")
	}
	if _, alive := state.P2p.Connections[addr]; !alive {
		t.Fatal("stray response killed the connection")
	}
}

func TestRpcMenuQueryAnswered(t *testing.T) {
	store, state, _, log := testStore(nil)
	addr := SocketAddr("10.0.0.8:8302")
	readyPeer(state, "peer-m", addr)

	q := encodeRpcQuery(RpcTagMenu, 1, 5, nil)
	frame := encodeYamuxFrame(YamuxFrame{Type: YamuxTypeData, StreamID: 1, Data: q})
	store.Dispatch(&P2pIncomingData{Addr: addr, Data: frame})

	answered := false
	for _, a := range log.effects {
		if out, ok := a.(*P2pEffectOutgoingData); ok && bytes.Contains(out.Data, []byte(RpcTagGetTransitionChain)) {
			answered = true
		}
	}
	if !answered {
		t.Fatal("menu query not answered with the supported tag set")
	}
}

func TestRpcTimeoutEnabledOnlyAfterDeadline(t *testing.T) {
	store, state, clock, _ := testStore(nil)
	addr := SocketAddr("10.0.0.9:8302")
	readyPeer(state, "peer-t", addr)
	store.Dispatch(&P2pRpcQuerySend{Peer: "peer-t", Tag: RpcTagGetBestTip, Version: 3})

	if store.Dispatch(&P2pRpcTimeout{Peer: "peer-t", QueryID: 1}) {
		t.Fatal("timeout fired before the deadline")
	}
	clock.advance(state.Config.Timeouts.Rpc + 1)
	if !store.Dispatch(&P2pRpcTimeout{Peer: "peer-t", QueryID: 1}) {
		t.Fatal("timeout rejected after the deadline")
	}
	if len(state.P2p.Channels["peer-t"].Rpc.Pending) != 0 {
		t.Fatal("timed out query still pending")
	}
}
