package core

import (
	"encoding/binary"
	"fmt"
)

// multistream-select tokens. The select layer negotiates the connection's
// auth protocol and then the protocol of each stream. The mux layer is not
// negotiated: yamux starts as soon as auth completes.
const (
	selectHeaderToken = "/multistream/1.0.0"
	selectNaToken     = "na"

	protocolNoise = "/noise"
	protocolYamux = "/yamux/1.0.0"
)

// SelectStatus is the negotiation role state.
type SelectStatus string

const (
	SelectInitiator SelectStatus = "initiator"
	SelectResponder SelectStatus = "responder"
	SelectUncertain SelectStatus = "uncertain"
	SelectError     SelectStatus = "error"
)

// SelectState is the per-layer multistream-select machine. Outgoing tokens
// queue here and leave as OutgoingData effects; any unparseable token or
// unexpected na transitions to Error and the connection is torn down.
type SelectState struct {
	Status     SelectStatus `json:"status"`
	Proposed   string       `json:"proposed,omitempty"`
	Negotiated string       `json:"negotiated,omitempty"`
	ErrReason  string       `json:"err_reason,omitempty"`
	SentHeader bool         `json:"sent_header"`
	GotHeader  bool         `json:"got_header"`
	TokenQueue []string     `json:"token_queue,omitempty"`
	Recv       []byte       `json:"recv,omitempty"`
}

// newSelectState starts negotiation. The initiator proposes; the responder
// waits in Uncertain until the proposal arrives.
func newSelectState(initiator bool, propose string) SelectState {
	st := SelectState{}
	if initiator {
		st.Status = SelectInitiator
		st.Proposed = propose
		st.TokenQueue = []string{selectHeaderToken, propose}
	} else {
		st.Status = SelectUncertain
		st.TokenQueue = []string{selectHeaderToken}
	}
	st.SentHeader = true
	return st
}

// selectFeed consumes incoming bytes, advancing the machine. It returns the
// bytes left over once negotiation completed (they belong to the next
// layer) and whether the layer finished.
func (st *SelectState) selectFeed(supported map[string]bool, data []byte) (rest []byte, done bool) {
	st.Recv = append(st.Recv, data...)
	for {
		tok, remainder, ok, err := decodeSelectToken(st.Recv)
		if err != nil {
			st.toError(err.Error())
			return nil, false
		}
		if !ok {
			return nil, false
		}
		st.Recv = remainder
		if finished := st.onToken(supported, tok); finished {
			rest = st.Recv
			st.Recv = nil
			return rest, true
		}
		if st.Status == SelectError {
			return nil, false
		}
	}
}

// onToken applies one received token. Returns true when the layer is done.
func (st *SelectState) onToken(supported map[string]bool, tok string) bool {
	switch st.Status {
	case SelectInitiator:
		switch tok {
		case selectHeaderToken:
			st.GotHeader = true
			return false
		case st.Proposed:
			if !st.GotHeader {
				st.toError("protocol echo before multistream header")
				return false
			}
			st.Negotiated = tok
			return true
		case selectNaToken:
			st.toError(fmt.Sprintf("peer rejected %s", st.Proposed))
			return false
		default:
			st.toError(fmt.Sprintf("unexpected select token %q", tok))
			return false
		}
	case SelectUncertain, SelectResponder:
		if tok == selectHeaderToken {
			st.GotHeader = true
			return false
		}
		if !st.GotHeader {
			st.toError("proposal before multistream header")
			return false
		}
		st.Status = SelectResponder
		if supported[tok] {
			st.Negotiated = tok
			st.TokenQueue = append(st.TokenQueue, tok)
			return true
		}
		st.TokenQueue = append(st.TokenQueue, selectNaToken)
		// Stay and wait for another proposal.
		return false
	default:
		st.toError(fmt.Sprintf("token %q in terminal select state", tok))
		return false
	}
}

func (st *SelectState) toError(reason string) {
	st.Status = SelectError
	st.ErrReason = reason
	st.TokenQueue = nil
}

// drainTokens pops the queued outgoing tokens as wire bytes.
func (st *SelectState) drainTokens() []byte {
	if len(st.TokenQueue) == 0 {
		return nil
	}
	var out []byte
	for _, tok := range st.TokenQueue {
		out = append(out, encodeSelectToken(tok)...)
	}
	st.TokenQueue = nil
	return out
}

// encodeSelectToken frames a token as uvarint length plus token plus
// newline, the multistream wire form.
func encodeSelectToken(tok string) []byte {
	line := append([]byte(tok), '\n')
	var lenbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(line)))
	return append(lenbuf[:n], line...)
}

// decodeSelectToken parses one framed token. ok is false when the buffer
// holds an incomplete frame.
func decodeSelectToken(buf []byte) (tok string, rest []byte, ok bool, err error) {
	length, n := binary.Uvarint(buf)
	if n == 0 {
		return "", buf, false, nil
	}
	if n < 0 {
		return "", nil, false, fmt.Errorf("malformed select varint")
	}
	if length == 0 || length > 1024 {
		return "", nil, false, fmt.Errorf("select token length %d out of range", length)
	}
	frame := buf[n:]
	if uint64(len(frame)) < length {
		return "", buf, false, nil
	}
	line := frame[:length]
	if line[len(line)-1] != '\n' {
		return "", nil, false, fmt.Errorf("select token missing newline")
	}
	return string(line[:len(line)-1]), frame[length:], true, nil
}
