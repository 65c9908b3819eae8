package core

import (
	"crypto/rand"
	"testing"
)

func TestSignalingAnswerRoundTrip(t *testing.T) {
	offerer, err := noiseCipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	answerer, err := noiseCipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	ciphertext, err := EncryptSignalingAnswer(answerer, offerer.Public, "offerer", "answerer", "sdp-answer")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sdp, err := DecryptSignalingAnswer(offerer, answerer.Public, "offerer", "answerer", ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if sdp != "sdp-answer" {
		t.Fatalf("round trip %q", sdp)
	}
}

func TestSignalingDecryptFailsForWrongIdentity(t *testing.T) {
	offerer, _ := noiseCipherSuite.GenerateKeypair(rand.Reader)
	answerer, _ := noiseCipherSuite.GenerateKeypair(rand.Reader)
	intruder, _ := noiseCipherSuite.GenerateKeypair(rand.Reader)

	ciphertext, err := EncryptSignalingAnswer(answerer, offerer.Public, "offerer", "answerer", "secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptSignalingAnswer(intruder, answerer.Public, "offerer", "answerer", ciphertext); err == nil {
		t.Fatal("third identity decrypted the answer")
	}
	// The same DH pair under swapped peer ids must also fail: the key is
	// bound to the (offerer, answerer) pair.
	if _, err := DecryptSignalingAnswer(offerer, answerer.Public, "answerer", "offerer", ciphertext); err == nil {
		t.Fatal("answer replayed across a different peer pair")
	}
}

func TestSignalingOfferFlowInReducer(t *testing.T) {
	store, state, _, log := testStore(nil)
	readyPeer(state, "relay", "10.6.0.1:8302")

	store.Dispatch(&P2pSignalingOfferSend{Relay: "relay", Target: "far-peer", SDP: "offer-sdp", ID: "offer-1"})
	ch := state.P2p.Channels["relay"]
	if ch.Signaling.OutgoingOffer == nil || ch.Signaling.OutgoingOffer.ID != "offer-1" {
		t.Fatal("outgoing offer not tracked")
	}
	if log.count(KindP2pEffectSignalingSend) != 1 {
		t.Fatal("offer not relayed")
	}
	// A second offer through the same relay is held back until the first
	// settles.
	if store.Dispatch(&P2pSignalingOfferSend{Relay: "relay", Target: "other", SDP: "x", ID: "offer-2"}) {
		t.Fatal("second offer admitted while one is outstanding")
	}

	store.Dispatch(&P2pSignalingAnswerReceived{Via: "relay", Answer: SignalingAnswer{OfferID: "offer-1", From: "far-peer"}})
	if log.count(KindP2pEffectSignalingDecrypt) != 1 {
		t.Fatal("answer not handed to the decryptor")
	}

	store.Dispatch(&P2pSignalingAnswerDecrypted{Via: "relay", OfferID: "offer-1", SDP: "answer", Peer: "far-peer"})
	if ch.Signaling.OutgoingOffer != nil {
		t.Fatal("offer not cleared after the answer")
	}
	if _, dialing := state.P2p.Connections[webrtcAddr("far-peer")]; !dialing {
		t.Fatal("webrtc connection not initiated")
	}
}

func TestSignalingDecryptFailureDropsOffer(t *testing.T) {
	store, state, _, _ := testStore(nil)
	readyPeer(state, "relay", "10.6.0.2:8302")
	store.Dispatch(&P2pSignalingOfferSend{Relay: "relay", Target: "far", SDP: "o", ID: "offer-9"})
	store.Dispatch(&P2pSignalingDecryptFailed{Via: "relay", OfferID: "offer-9", Error: "bad mac"})
	ch := state.P2p.Channels["relay"]
	if ch.Signaling.OutgoingOffer != nil {
		t.Fatal("offer survived a decrypt failure")
	}
	if state.Stats.SignalDecryptFailures != 1 {
		t.Fatal("decrypt failure not counted")
	}
}

func TestSignalingIncomingOfferAnswered(t *testing.T) {
	store, state, _, log := testStore(nil)
	cfg := state.Config
	readyPeer(state, "relay", "10.6.0.3:8302")
	offer := SignalingOffer{ID: "in-1", From: "far-peer", To: cfg.PeerID, SDP: "their-offer"}
	store.Dispatch(&P2pSignalingOfferReceived{Via: "relay", Offer: offer})
	if log.count(KindP2pEffectSignalingAnswer) != 1 {
		t.Fatal("incoming offer not answered")
	}
	// Offers addressed to someone else are refused.
	wrong := SignalingOffer{ID: "in-2", From: "x", To: "not-us", SDP: "y"}
	if store.Dispatch(&P2pSignalingOfferReceived{Via: "relay", Offer: wrong}) {
		t.Fatal("mis-addressed offer admitted")
	}
}
