package core

import (
	"encoding/binary"
	"fmt"
)

// Yamux framing constants. One-byte version and type, two-byte flags,
// four-byte stream id and length, all big-endian.
const (
	yamuxVersion = 0

	YamuxTypeData         = 0x0
	YamuxTypeWindowUpdate = 0x1
	YamuxTypePing         = 0x2
	YamuxTypeGoAway       = 0x3

	YamuxFlagSYN uint16 = 0x1
	YamuxFlagACK uint16 = 0x2
	YamuxFlagFIN uint16 = 0x4
	YamuxFlagRST uint16 = 0x8

	yamuxHeaderLen = 12

	// YamuxInitialWindow is the per-stream receive window at open.
	YamuxInitialWindow uint32 = 256 * 1024
)

// YamuxFrame is one decoded frame.
type YamuxFrame struct {
	Type     uint8  `json:"type"`
	Flags    uint16 `json:"flags"`
	StreamID uint32 `json:"stream_id"`
	Length   uint32 `json:"length"`
	Data     []byte `json:"data,omitempty"`
}

// YamuxStreamState is the per-stream book: windows, half-close flags and
// the stream-level protocol negotiation.
type YamuxStreamState struct {
	ID           uint32      `json:"id"`
	SendWindow   uint32      `json:"send_window"`
	RecvWindow   uint32      `json:"recv_window"`
	Established  bool        `json:"established"`
	LocalClosed  bool        `json:"local_closed"`
	RemoteClosed bool        `json:"remote_closed"`
	Protocol     string      `json:"protocol,omitempty"`
	Select       SelectState `json:"select"`
}

// YamuxState is the mux layer sub-state of one connection. Stream id parity
// is strict: ids we open are odd, ids the peer opens are even (from the
// dialer's point of view); a peer violating parity is dropped.
type YamuxState struct {
	Initiator    bool                         `json:"initiator"`
	NextStreamID uint32                       `json:"next_stream_id"`
	Streams      map[uint32]*YamuxStreamState `json:"streams"`
	Recv         []byte                       `json:"recv,omitempty"`
	GoAwaySent   bool                         `json:"go_away_sent"`
	Error        string                       `json:"error,omitempty"`
}

func newYamuxState(initiator bool) YamuxState {
	next := uint32(1)
	if !initiator {
		next = 2
	}
	return YamuxState{
		Initiator:    initiator,
		NextStreamID: next,
		Streams:      make(map[uint32]*YamuxStreamState),
	}
}

// openStream allocates the next outgoing stream id and its SYN frame.
func (y *YamuxState) openStream(protocol string) (*YamuxStreamState, YamuxFrame) {
	id := y.NextStreamID
	y.NextStreamID += 2
	st := &YamuxStreamState{
		ID:         id,
		SendWindow: YamuxInitialWindow,
		RecvWindow: YamuxInitialWindow,
		Protocol:   protocol,
		Select:     newSelectState(true, protocol),
	}
	y.Streams[id] = st
	return st, YamuxFrame{Type: YamuxTypeWindowUpdate, Flags: YamuxFlagSYN, StreamID: id}
}

// incomingParityOK reports whether a peer-opened stream id has the parity
// the peer is allowed to use.
func (y *YamuxState) incomingParityOK(id uint32) bool {
	if y.Initiator {
		return id%2 == 0
	}
	return id%2 == 1
}

// acceptStream registers a peer-opened stream after its SYN.
func (y *YamuxState) acceptStream(id uint32) *YamuxStreamState {
	st := &YamuxStreamState{
		ID:         id,
		SendWindow: YamuxInitialWindow,
		RecvWindow: YamuxInitialWindow,
		Select:     newSelectState(false, ""),
	}
	y.Streams[id] = st
	return st
}

func (y *YamuxState) toError(reason string) {
	y.Error = reason
}

// encodeYamuxFrame serializes one frame, header plus payload.
func encodeYamuxFrame(f YamuxFrame) []byte {
	out := make([]byte, yamuxHeaderLen+len(f.Data))
	out[0] = yamuxVersion
	out[1] = f.Type
	binary.BigEndian.PutUint16(out[2:4], f.Flags)
	binary.BigEndian.PutUint32(out[4:8], f.StreamID)
	length := f.Length
	if f.Type == YamuxTypeData {
		length = uint32(len(f.Data))
	}
	binary.BigEndian.PutUint32(out[8:12], length)
	copy(out[yamuxHeaderLen:], f.Data)
	return out
}

// decodeYamuxFrames pops every complete frame from buf.
func decodeYamuxFrames(buf []byte) (frames []YamuxFrame, rest []byte, err error) {
	rest = buf
	for {
		if len(rest) < yamuxHeaderLen {
			return frames, rest, nil
		}
		if rest[0] != yamuxVersion {
			return nil, nil, fmt.Errorf("yamux version %d", rest[0])
		}
		f := YamuxFrame{
			Type:     rest[1],
			Flags:    binary.BigEndian.Uint16(rest[2:4]),
			StreamID: binary.BigEndian.Uint32(rest[4:8]),
			Length:   binary.BigEndian.Uint32(rest[8:12]),
		}
		if f.Type > YamuxTypeGoAway {
			return nil, nil, fmt.Errorf("yamux frame type %d", f.Type)
		}
		body := rest[yamuxHeaderLen:]
		if f.Type == YamuxTypeData {
			if f.Length > 16*1024*1024 {
				return nil, nil, fmt.Errorf("yamux data frame length %d", f.Length)
			}
			if uint32(len(body)) < f.Length {
				return frames, rest, nil
			}
			f.Data = append([]byte(nil), body[:f.Length]...)
			rest = body[f.Length:]
		} else {
			rest = body
		}
		frames = append(frames, f)
	}
}
