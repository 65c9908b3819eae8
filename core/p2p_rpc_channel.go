package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Mina RPC channel framing: an 8-byte little-endian length prefix, then one
// header byte selecting Heartbeat, Query or Response, then the opaque
// binprot payload. Payload internals are out of scope; the core routes them
// by (tag, version) only.

// rpcHandshakeMsg is sent first on every newly established RPC stream by
// the initiator.
var rpcHandshakeMsg = []byte{
	0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x02, 0xfd, 0x52, 0x50, 0x43, 0x00, 0x01,
}

// rpcHandshakeResponseID is "RPC\0\0\0\0\0" read as a little-endian i64.
const rpcHandshakeResponseID = int64(0x0000000000435052)

const (
	rpcMsgHeartbeat = 0x00
	rpcMsgQuery     = 0x01
	rpcMsgResponse  = 0x02
)

// Supported query tags. The menu query advertises this set.
const (
	RpcTagMenu                  = "__Versioned_rpc.Menu"
	RpcTagGetBestTip            = "get_best_tip"
	RpcTagGetTransitionChain    = "get_transition_chain"
	RpcTagAnswerSyncLedgerQuery = "answer_sync_ledger_query"
	RpcTagGetStagedLedgerAux    = "get_staged_ledger_aux_and_pending_coinbases_at_hash"
	RpcTagGetAccount            = "get_account"
)

// RpcTagVersion is one advertised (tag, version) pair.
type RpcTagVersion struct {
	Tag     string `json:"tag"`
	Version int32  `json:"version"`
}

// SupportedRpcMenu is the local (tag, version) set.
func SupportedRpcMenu() []RpcTagVersion {
	return []RpcTagVersion{
		{Tag: RpcTagMenu, Version: 1},
		{Tag: RpcTagGetBestTip, Version: 3},
		{Tag: RpcTagGetTransitionChain, Version: 1},
		{Tag: RpcTagAnswerSyncLedgerQuery, Version: 3},
		{Tag: RpcTagGetStagedLedgerAux, Version: 2},
		{Tag: RpcTagGetAccount, Version: 1},
	}
}

// RpcMessage is one decoded channel message.
type RpcMessage struct {
	Header  uint8  `json:"header"`
	Tag     string `json:"tag,omitempty"`
	Version int32  `json:"version,omitempty"`
	ID      int64  `json:"id,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// PendingRpcQuery tracks one outgoing query awaiting its response.
type PendingRpcQuery struct {
	ID      int64     `json:"id"`
	Tag     string    `json:"tag"`
	Version int32     `json:"version"`
	SentAt  Timestamp `json:"sent_at"`
	// LocalRpcID links the query back to the local RPC table when the
	// request originated there; zero otherwise.
	LocalRpcID RpcId `json:"local_rpc_id,omitempty"`
}

// RpcChannelState is the per-peer request/response book over one yamux
// stream.
type RpcChannelState struct {
	StreamID          uint32                     `json:"stream_id,omitempty"`
	HandshakeSent     bool                       `json:"handshake_sent"`
	HandshakeReceived bool                       `json:"handshake_received"`
	NextQueryID       int64                      `json:"next_query_id"`
	Pending           map[int64]*PendingRpcQuery `json:"pending"`
	PeerMenu          []RpcTagVersion            `json:"peer_menu,omitempty"`
	MenuOptedOut      bool                       `json:"menu_opted_out"`
	Recv              []byte                     `json:"recv,omitempty"`
}

func newRpcChannelState() RpcChannelState {
	return RpcChannelState{NextQueryID: 1, Pending: make(map[int64]*PendingRpcQuery)}
}

// maxPendingRpcQueries bounds the per-peer outgoing request map. Request
// sends are not enabled at the cap; callers retry.
const maxPendingRpcQueries = 64

// registerQuery allocates a query id and pending entry.
func (c *RpcChannelState) registerQuery(tag string, version int32, localID RpcId, now Timestamp) *PendingRpcQuery {
	q := &PendingRpcQuery{
		ID:         c.NextQueryID,
		Tag:        tag,
		Version:    version,
		SentAt:     now,
		LocalRpcID: localID,
	}
	c.NextQueryID++
	c.Pending[q.ID] = q
	return q
}

// encodeRpcHeartbeat frames a heartbeat.
func encodeRpcHeartbeat() []byte {
	return frameRpc([]byte{rpcMsgHeartbeat})
}

// encodeRpcQuery frames a query with its opaque payload.
func encodeRpcQuery(tag string, version int32, id int64, payload []byte) []byte {
	var body bytes.Buffer
	body.WriteByte(rpcMsgQuery)
	writeRpcString(&body, tag)
	binary.Write(&body, binary.LittleEndian, version)
	binary.Write(&body, binary.LittleEndian, id)
	writeRpcBytes(&body, payload)
	return frameRpc(body.Bytes())
}

// encodeRpcResponse frames a response for a previously received query id.
func encodeRpcResponse(id int64, payload []byte) []byte {
	var body bytes.Buffer
	body.WriteByte(rpcMsgResponse)
	binary.Write(&body, binary.LittleEndian, id)
	writeRpcBytes(&body, payload)
	return frameRpc(body.Bytes())
}

// encodeRpcHandshakeResponse is the responder's completion of the stream
// handshake: Response{id = "RPC\0\0\0\0\0"} with a single 0x01 payload.
func encodeRpcHandshakeResponse() []byte {
	return encodeRpcResponse(rpcHandshakeResponseID, []byte{0x01})
}

func frameRpc(body []byte) []byte {
	out := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint64(out[:8], uint64(len(body)))
	copy(out[8:], body)
	return out
}

func writeRpcString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func writeRpcBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

// decodeRpcMessages pops every complete message from buf. A malformed frame
// poisons the whole channel: the connection is torn down.
func decodeRpcMessages(buf []byte) (msgs []RpcMessage, rest []byte, err error) {
	rest = buf
	for {
		if len(rest) < 8 {
			return msgs, rest, nil
		}
		length := binary.LittleEndian.Uint64(rest[:8])
		if length == 0 || length > 64*1024*1024 {
			return nil, nil, fmt.Errorf("rpc frame length %d out of range", length)
		}
		if uint64(len(rest)-8) < length {
			return msgs, rest, nil
		}
		body := rest[8 : 8+length]
		msg, derr := decodeRpcBody(body)
		if derr != nil {
			return nil, nil, derr
		}
		msgs = append(msgs, msg)
		rest = rest[8+length:]
	}
}

func decodeRpcBody(body []byte) (RpcMessage, error) {
	if len(body) == 0 {
		return RpcMessage{}, fmt.Errorf("empty rpc body")
	}
	r := bytes.NewReader(body)
	header, _ := r.ReadByte()
	msg := RpcMessage{Header: header}
	switch header {
	case rpcMsgHeartbeat:
		return msg, nil
	case rpcMsgQuery:
		tag, err := readRpcString(r)
		if err != nil {
			return msg, fmt.Errorf("rpc query tag: %w", err)
		}
		msg.Tag = tag
		if err := binary.Read(r, binary.LittleEndian, &msg.Version); err != nil {
			return msg, fmt.Errorf("rpc query version: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &msg.ID); err != nil {
			return msg, fmt.Errorf("rpc query id: %w", err)
		}
		payload, err := readRpcBytes(r)
		if err != nil {
			return msg, fmt.Errorf("rpc query payload: %w", err)
		}
		msg.Payload = payload
		return msg, nil
	case rpcMsgResponse:
		if err := binary.Read(r, binary.LittleEndian, &msg.ID); err != nil {
			return msg, fmt.Errorf("rpc response id: %w", err)
		}
		payload, err := readRpcBytes(r)
		if err != nil {
			return msg, fmt.Errorf("rpc response payload: %w", err)
		}
		msg.Payload = payload
		return msg, nil
	default:
		// The raw handshake blob is matched byte-wise and stripped before
		// decode, so it never reaches this switch; any other header byte is
		// malformed.
		return msg, fmt.Errorf("rpc header byte %#x", header)
	}
}

func readRpcString(r *bytes.Reader) (string, error) {
	b, err := readRpcBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readRpcBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d", n, r.Len())
	}
	out := make([]byte, n)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}
