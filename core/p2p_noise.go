package core

import (
	"encoding/binary"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/blake2b"
)

// NoiseStage tracks the IX handshake progress. The reducer only sequences
// the two handshake messages; the DH and cipher work happens in the p2p
// service, which owns the secret key and the per-connection cipher states.
type NoiseStage string

const (
	NoiseStageInit        NoiseStage = "init"
	NoiseStageAwaitFirst  NoiseStage = "await_first"
	NoiseStageAwaitSecond NoiseStage = "await_second"
	NoiseStageDone        NoiseStage = "done"
	NoiseStageError       NoiseStage = "error"
)

// NoiseState is the auth layer sub-state of a connection.
type NoiseState struct {
	Stage        NoiseStage `json:"stage"`
	Initiator    bool       `json:"initiator"`
	RemoteStatic []byte     `json:"remote_static,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func newNoiseState(initiator bool) NoiseState {
	st := NoiseState{Initiator: initiator}
	if initiator {
		// Initiator writes message one immediately; it waits for the reply.
		st.Stage = NoiseStageAwaitSecond
	} else {
		st.Stage = NoiseStageAwaitFirst
	}
	return st
}

// onHandshakeMessage advances the stage for one received handshake message
// carrying the sender's static key. Returns true when auth completed.
func (st *NoiseState) onHandshakeMessage(remoteStatic []byte) bool {
	switch st.Stage {
	case NoiseStageAwaitFirst:
		st.RemoteStatic = append([]byte(nil), remoteStatic...)
		st.Stage = NoiseStageAwaitSecond
		// Responder's reply completes the handshake on its side.
		if !st.Initiator {
			st.Stage = NoiseStageDone
			return true
		}
		return false
	case NoiseStageAwaitSecond:
		st.RemoteStatic = append([]byte(nil), remoteStatic...)
		st.Stage = NoiseStageDone
		return true
	default:
		st.Error = fmt.Sprintf("handshake message in stage %s", st.Stage)
		st.Stage = NoiseStageError
		return false
	}
}

func (st *NoiseState) toError(reason string) {
	st.Stage = NoiseStageError
	st.Error = reason
}

// noiseCipherSuite is the libp2p noise suite: 25519 DH, ChaChaPoly AEAD,
// SHA-256 hash.
var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// NewNoiseHandshake builds the service-side IX handshake state for one
// connection. The reducer never touches the returned object.
func NewNoiseHandshake(initiator bool, static noise.DHKey) (*noise.HandshakeState, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseCipherSuite,
		Pattern:       noise.HandshakeIX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("noise handshake init: %w", err)
	}
	return hs, nil
}

// NoisePSK derives the private-network pre-shared key from the chain id,
// so nodes of different chains cannot complete the transport handshake.
func NoisePSK(chainID string) [32]byte {
	return blake2b.Sum256([]byte("samasika-pnet:" + chainID))
}

// Noise messages travel length-prefixed with a 2-byte big-endian header.

func encodeNoiseFrame(msg []byte) []byte {
	out := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(out[:2], uint16(len(msg)))
	copy(out[2:], msg)
	return out
}

// decodeNoiseFrame pops one frame; ok is false on a short buffer.
func decodeNoiseFrame(buf []byte) (msg, rest []byte, ok bool) {
	if len(buf) < 2 {
		return nil, buf, false
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	if len(buf) < 2+n {
		return nil, buf, false
	}
	return buf[2 : 2+n], buf[2+n:], true
}
