package core

import "encoding/json"

// The local RPC surface maps front-end requests onto the action stream.
// Every request registers under a monotonically increasing RpcId with a
// responder token; answers always travel back as effects, never as
// blocking calls into the reducer.

// RpcRequestKind selects the owning subsystem.
type RpcRequestKind string

const (
	RpcKindStateSnapshot      RpcRequestKind = "state_snapshot"
	RpcKindSyncStatus         RpcRequestKind = "sync_status"
	RpcKindPeersGet           RpcRequestKind = "peers_get"
	RpcKindPeerConnect        RpcRequestKind = "peer_connect"
	RpcKindSnarkPoolGet       RpcRequestKind = "snark_pool_get"
	RpcKindProducerStatus     RpcRequestKind = "producer_status"
	RpcKindWatchedAccountsAdd RpcRequestKind = "watched_accounts_add"
	RpcKindWatchedAccountsGet RpcRequestKind = "watched_accounts_get"
)

// maxPendingRpcs caps the local request table; at the cap new requests are
// not enabled and callers must retry.
const maxPendingRpcs = 256

// PendingRpc is one registered request.
type PendingRpc struct {
	ID          RpcId           `json:"id"`
	Kind        RpcRequestKind  `json:"kind"`
	Params      json.RawMessage `json:"params,omitempty"`
	RequestedAt Timestamp       `json:"requested_at"`
}

// RpcState is the request table. NextID is serialized, so ids stay
// monotonic across restarts.
type RpcState struct {
	NextID         RpcId                `json:"next_id"`
	LastAddedReqID RpcId                `json:"last_added_req_id"`
	Pending        map[RpcId]*PendingRpc `json:"pending"`
}

func newRpcState() RpcState {
	return RpcState{NextID: 1, Pending: make(map[RpcId]*PendingRpc)}
}

// RpcAction tags RPC-surface transitions.
type RpcAction interface {
	Action
	isRpcAction()
}

type rpcTag struct{}

func (rpcTag) isRpcAction() {}

const (
	KindRpcRequestReceived ActionKind = "RpcRequestReceived"
	KindRpcFinish          ActionKind = "RpcFinish"
	KindRpcEffectRespond   ActionKind = "RpcEffectRespond"
)

func init() {
	registerAction(KindRpcRequestReceived, func() Action { return &RpcRequestReceived{} })
	registerAction(KindRpcFinish, func() Action { return &RpcFinish{} })
	registerAction(KindRpcEffectRespond, func() Action { return &RpcEffectRespond{} })
}

// RpcRequestReceived registers one front-end request.
type RpcRequestReceived struct {
	rpcTag
	Kind_  RpcRequestKind  `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (*RpcRequestReceived) Kind() ActionKind { return KindRpcRequestReceived }
func (a *RpcRequestReceived) Enabled(s *State, now Timestamp) bool {
	return len(s.Rpc.Pending) < maxPendingRpcs
}

// RpcFinish drops a settled request from the table.
type RpcFinish struct {
	rpcTag
	ID RpcId `json:"id"`
}

func (*RpcFinish) Kind() ActionKind { return KindRpcFinish }
func (a *RpcFinish) Enabled(s *State, now Timestamp) bool {
	_, ok := s.Rpc.Pending[a.ID]
	return ok
}

// RpcEffectRespond delivers the answer to the responder token held by the
// rpc server service.
type RpcEffectRespond struct {
	rpcTag
	Effect
	ID       RpcId           `json:"id"`
	Response json.RawMessage `json:"response"`
}

func (*RpcEffectRespond) Kind() ActionKind                      { return KindRpcEffectRespond }
func (a *RpcEffectRespond) Enabled(s *State, now Timestamp) bool { return true }

func reduceRpc(s *State, a RpcAction, now Timestamp, emit Emitter) {
	r := &s.Rpc
	switch act := a.(type) {

	case *RpcRequestReceived:
		id := r.NextID
		r.NextID++
		r.LastAddedReqID = id
		r.Pending[id] = &PendingRpc{ID: id, Kind: act.Kind_, Params: act.Params, RequestedAt: now}
		answerRpc(s, id, act, now, emit)

	case *RpcFinish:
		delete(r.Pending, act.ID)
	}
}

// answerRpc routes the request to its owner. Synchronous reads answer
// immediately; side-effecting requests dispatch the owning action first.
func answerRpc(s *State, id RpcId, act *RpcRequestReceived, now Timestamp, emit Emitter) {
	respond := func(v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			raw, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		emit(&RpcEffectRespond{ID: id, Response: raw})
		emit(&RpcFinish{ID: id})
	}

	switch act.Kind_ {
	case RpcKindStateSnapshot:
		respond(map[string]any{
			"last_action":           s.LastAction,
			"applied_actions_count": s.AppliedActionsCount,
			"best_tip":              s.TransitionFrontier.BestCandidate,
			"chain_length":          len(s.TransitionFrontier.AppliedChain),
		})
	case RpcKindSyncStatus:
		respond(s.TransitionFrontier.Sync)
	case RpcKindPeersGet:
		respond(s.P2p.Peers)
	case RpcKindPeerConnect:
		var params struct {
			Addr SocketAddr `json:"addr"`
			Peer PeerID     `json:"peer"`
		}
		if err := json.Unmarshal(act.Params, &params); err != nil {
			respond(map[string]string{"error": err.Error()})
			return
		}
		emit(&P2pConnectionOutgoingInit{Addr: params.Addr, Peer: params.Peer})
		respond(map[string]string{"status": "connecting"})
	case RpcKindSnarkPoolGet:
		respond(map[string]any{
			"jobs":       s.SnarkPool.jobsByOrder(),
			"next_order": s.SnarkPool.NextOrder,
		})
	case RpcKindProducerStatus:
		respond(map[string]any{
			"status":       s.BlockProducer.Status,
			"won_slot":     s.BlockProducer.WonSlot,
			"produced":     s.BlockProducer.Produced,
			"last_discard": s.BlockProducer.LastDiscard,
		})
	case RpcKindWatchedAccountsAdd:
		var params struct {
			Account AccountId `json:"account"`
		}
		if err := json.Unmarshal(act.Params, &params); err != nil {
			respond(map[string]string{"error": err.Error()})
			return
		}
		emit(&WatchedAccountsAdd{ID: params.Account})
		respond(map[string]string{"status": "watching"})
	case RpcKindWatchedAccountsGet:
		respond(s.WatchedAccounts.Accounts)
	default:
		respond(map[string]string{"error": "unknown rpc kind"})
	}
}
