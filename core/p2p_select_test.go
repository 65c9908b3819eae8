package core

import (
	"bytes"
	"testing"
)

func TestSelectTokenCodecRoundTrip(t *testing.T) {
	for _, tok := range []string{selectHeaderToken, protocolNoise, selectNaToken, RpcStreamProtocol} {
		wire := encodeSelectToken(tok)
		got, rest, ok, err := decodeSelectToken(wire)
		if err != nil || !ok {
			t.Fatalf("decode %q: ok=%v err=%v", tok, ok, err)
		}
		if got != tok {
			t.Fatalf("round trip %q -> %q", tok, got)
		}
		if len(rest) != 0 {
			t.Fatalf("leftover bytes after %q: %d", tok, len(rest))
		}
	}
}

func TestSelectTokenDecodePartial(t *testing.T) {
	wire := encodeSelectToken(protocolNoise)
	_, _, ok, err := decodeSelectToken(wire[:3])
	if err != nil {
		t.Fatalf("partial frame errored: %v", err)
	}
	if ok {
		t.Fatal("partial frame decoded")
	}
}

func TestSelectNegotiationInitiatorResponder(t *testing.T) {
	ini := newSelectState(true, protocolNoise)
	res := newSelectState(false, "")

	iniOut := ini.drainTokens()
	resOut := res.drainTokens()

	// Responder consumes the initiator's header + proposal.
	rest, done := res.selectFeed(map[string]bool{protocolNoise: true}, iniOut)
	if !done || res.Negotiated != protocolNoise {
		t.Fatalf("responder state: done=%v negotiated=%q status=%s", done, res.Negotiated, res.Status)
	}
	if len(rest) != 0 {
		t.Fatalf("responder leftover: %d bytes", len(rest))
	}
	resOut = append(resOut, res.drainTokens()...)

	// Initiator consumes the responder's header + echo.
	_, done = ini.selectFeed(nil, resOut)
	if !done || ini.Negotiated != protocolNoise {
		t.Fatalf("initiator state: done=%v negotiated=%q status=%s", done, ini.Negotiated, ini.Status)
	}
}

func TestSelectRejectionMovesToError(t *testing.T) {
	ini := newSelectState(true, protocolNoise)
	ini.drainTokens()
	var wire []byte
	wire = append(wire, encodeSelectToken(selectHeaderToken)...)
	wire = append(wire, encodeSelectToken(selectNaToken)...)
	ini.selectFeed(nil, wire)
	if ini.Status != SelectError {
		t.Fatalf("status after na = %s, want error", ini.Status)
	}
}

func TestSelectUnparseableTokenMovesToError(t *testing.T) {
	res := newSelectState(false, "")
	res.drainTokens()
	var wire []byte
	wire = append(wire, encodeSelectToken(selectHeaderToken)...)
	// A frame without the trailing newline is malformed.
	bad := encodeSelectToken(protocolNoise)
	bad[len(bad)-1] = 'x'
	wire = append(wire, bad...)
	res.selectFeed(map[string]bool{protocolNoise: true}, wire)
	if res.Status != SelectError {
		t.Fatalf("status after malformed token = %s, want error", res.Status)
	}
}

func TestSelectResponderRejectsUnknownProtocol(t *testing.T) {
	res := newSelectState(false, "")
	res.drainTokens()
	var wire []byte
	wire = append(wire, encodeSelectToken(selectHeaderToken)...)
	wire = append(wire, encodeSelectToken("/unknown/1.0.0")...)
	_, done := res.selectFeed(map[string]bool{protocolNoise: true}, wire)
	if done {
		t.Fatal("negotiation completed on unknown protocol")
	}
	out := res.drainTokens()
	if !bytes.Contains(out, []byte(selectNaToken)) {
		t.Fatalf("responder did not answer na: %q", out)
	}
	if res.Status != SelectResponder {
		t.Fatalf("status = %s, want responder awaiting another proposal", res.Status)
	}
}
