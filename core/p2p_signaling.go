package core

import (
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/blake2b"
)

// WebRTC signaling runs over an auxiliary, already-connected peer: the
// dialer sends an SDP offer, the answerer replies with an answer encrypted
// under a secret derived from both identities. An answer that fails to
// decrypt yields P2pSignalingDecryptFailed and the offer is dropped.

// SignalingOffer is one relayed SDP offer.
type SignalingOffer struct {
	ID         string    `json:"id"`
	From       PeerID    `json:"from"`
	To         PeerID    `json:"to"`
	SDP        string    `json:"sdp"`
	ReceivedAt Timestamp `json:"received_at"`
}

// SignalingAnswer is the encrypted reply.
type SignalingAnswer struct {
	OfferID    string `json:"offer_id"`
	From       PeerID `json:"from"`
	Ciphertext []byte `json:"ciphertext"`
}

// SignalingState is the per-peer exchange book.
type SignalingState struct {
	PendingOffer  *SignalingOffer `json:"pending_offer,omitempty"`
	OutgoingOffer *SignalingOffer `json:"outgoing_offer,omitempty"`
	PendingSince  Timestamp       `json:"pending_since,omitempty"`
}

// onOfferReceived stores a relayed offer; one at a time per peer.
func (s *SignalingState) onOfferReceived(offer SignalingOffer, now Timestamp) bool {
	if s.PendingOffer != nil {
		return false
	}
	o := offer
	o.ReceivedAt = now
	s.PendingOffer = &o
	return true
}

// onOfferSent records our own outgoing offer awaiting an answer.
func (s *SignalingState) onOfferSent(offer SignalingOffer, now Timestamp) bool {
	if s.OutgoingOffer != nil {
		return false
	}
	o := offer
	s.OutgoingOffer = &o
	s.PendingSince = now
	return true
}

// clearPending drops the inbound offer, answered or failed.
func (s *SignalingState) clearPending() { s.PendingOffer = nil }

// clearOutgoing drops the outbound offer, answered or failed to decrypt.
func (s *SignalingState) clearOutgoing() {
	s.OutgoingOffer = nil
	s.PendingSince = 0
}

// signalingSharedKey derives the answer encryption key. Both sides compute
// DH over the two static identities and bind the key to the pair of peer
// ids, so an answer cannot be replayed between different peer pairs.
func signalingSharedKey(local noise.DHKey, remotePub []byte, offerer, answerer PeerID) ([32]byte, error) {
	var key [32]byte
	secret, err := noiseCipherSuite.DH(local.Private, remotePub)
	if err != nil {
		return key, fmt.Errorf("signaling dh: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return key, err
	}
	h.Write(secret)
	h.Write([]byte(offerer))
	h.Write([]byte(answerer))
	copy(key[:], h.Sum(nil))
	return key, nil
}

// EncryptSignalingAnswer seals an SDP answer for the offerer.
func EncryptSignalingAnswer(local noise.DHKey, offererPub []byte, offerer, answerer PeerID, sdp string) ([]byte, error) {
	key, err := signalingSharedKey(local, offererPub, offerer, answerer)
	if err != nil {
		return nil, err
	}
	c := noiseCipherSuite.Cipher(key)
	return c.Encrypt(nil, 0, nil, []byte(sdp)), nil
}

// DecryptSignalingAnswer opens a received answer. Failure is surfaced as a
// P2pSignalingDecryptFailed action by the caller, never as a panic.
func DecryptSignalingAnswer(local noise.DHKey, answererPub []byte, offerer, answerer PeerID, ciphertext []byte) (string, error) {
	key, err := signalingSharedKey(local, answererPub, offerer, answerer)
	if err != nil {
		return "", err
	}
	c := noiseCipherSuite.Cipher(key)
	plain, err := c.Decrypt(nil, 0, nil, ciphertext)
	if err != nil {
		return "", fmt.Errorf("signaling answer decrypt: %w", err)
	}
	return string(plain), nil
}
