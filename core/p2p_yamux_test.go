package core

import (
	"bytes"
	"testing"
)

func TestYamuxFrameCodecRoundTrip(t *testing.T) {
	frames := []YamuxFrame{
		{Type: YamuxTypeWindowUpdate, Flags: YamuxFlagSYN, StreamID: 1, Length: 0},
		{Type: YamuxTypeData, Flags: YamuxFlagACK, StreamID: 2, Data: []byte("payload")},
		{Type: YamuxTypePing, Flags: YamuxFlagSYN, Length: 99},
		{Type: YamuxTypeGoAway, Length: 0},
	}
	var wire []byte
	for _, f := range frames {
		wire = append(wire, encodeYamuxFrame(f)...)
	}
	got, rest, err := decodeYamuxFrames(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("leftover %d bytes", len(rest))
	}
	if len(got) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(frames))
	}
	if got[1].StreamID != 2 || !bytes.Equal(got[1].Data, []byte("payload")) {
		t.Fatalf("data frame mangled: %+v", got[1])
	}
	if got[2].Length != 99 {
		t.Fatalf("ping opaque value lost: %d", got[2].Length)
	}
}

func TestYamuxPartialFrameWaits(t *testing.T) {
	wire := encodeYamuxFrame(YamuxFrame{Type: YamuxTypeData, StreamID: 1, Data: []byte("abcdef")})
	frames, rest, err := decodeYamuxFrames(wire[:len(wire)-3])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("decoded %d frames from a partial buffer", len(frames))
	}
	if len(rest) != len(wire)-3 {
		t.Fatal("partial buffer not preserved")
	}
}

func TestYamuxStreamIDParity(t *testing.T) {
	dialer := newYamuxState(true)
	st1, _ := dialer.openStream(RpcStreamProtocol)
	st2, _ := dialer.openStream(SnarkChannelProtocol)
	if st1.ID != 1 || st2.ID != 3 {
		t.Fatalf("dialer stream ids = %d, %d; want odd 1, 3", st1.ID, st2.ID)
	}
	if dialer.incomingParityOK(3) {
		t.Fatal("dialer accepted odd incoming stream id")
	}
	if !dialer.incomingParityOK(2) {
		t.Fatal("dialer rejected even incoming stream id")
	}

	listener := newYamuxState(false)
	st, _ := listener.openStream(RpcStreamProtocol)
	if st.ID != 2 {
		t.Fatalf("listener stream id = %d, want even 2", st.ID)
	}
	if !listener.incomingParityOK(1) {
		t.Fatal("listener rejected odd incoming stream id")
	}
}

func TestYamuxParityViolationDropsConnection(t *testing.T) {
	store, state, _, log := testStore(nil)
	addr := SocketAddr("10.0.0.2:8302")
	readyPeer(state, "peer-x", addr)
	conn := state.P2p.Connections[addr]

	// An odd stream id from the peer violates parity for a dialer.
	syn := encodeYamuxFrame(YamuxFrame{Type: YamuxTypeWindowUpdate, Flags: YamuxFlagSYN, StreamID: 5})
	store.Dispatch(&P2pIncomingData{Addr: addr, Data: syn})

	if _, alive := state.P2p.Connections[addr]; alive {
		t.Fatal("connection survived a parity violation")
	}
	if log.count(KindP2pEffectDisconnect) == 0 {
		t.Fatal("no disconnect effect emitted")
	}
	_ = conn
}

func TestYamuxInitialWindow(t *testing.T) {
	y := newYamuxState(true)
	st, syn := y.openStream(RpcStreamProtocol)
	if st.SendWindow != YamuxInitialWindow || st.RecvWindow != YamuxInitialWindow {
		t.Fatalf("windows = %d/%d, want %d", st.SendWindow, st.RecvWindow, YamuxInitialWindow)
	}
	if syn.Flags != YamuxFlagSYN {
		t.Fatalf("open frame flags = %#x, want SYN", syn.Flags)
	}
}

func TestYamuxPingAnswered(t *testing.T) {
	store, state, _, log := testStore(nil)
	addr := SocketAddr("10.0.0.3:8302")
	readyPeer(state, "peer-y", addr)

	ping := encodeYamuxFrame(YamuxFrame{Type: YamuxTypePing, Flags: YamuxFlagSYN, Length: 7})
	store.Dispatch(&P2pIncomingData{Addr: addr, Data: ping})

	found := false
	for _, a := range log.effects {
		out, ok := a.(*P2pEffectOutgoingData)
		if !ok {
			continue
		}
		frames, _, err := decodeYamuxFrames(out.Data)
		if err != nil || len(frames) != 1 {
			continue
		}
		if frames[0].Type == YamuxTypePing && frames[0].Flags == YamuxFlagACK && frames[0].Length == 7 {
			found = true
		}
	}
	if !found {
		t.Fatal("ping not answered with matching ack")
	}
}
