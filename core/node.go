package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"samasika-node/pkg/utils"
)

// Node bundles the store and every service, routes effects, and runs the
// timeout scan loop. Services push events straight into the store; the
// action log is the single source of ordering truth, which is exactly what
// the replayer re-executes.

// tickInterval paces the timeout scan.
const tickInterval = 100 * time.Millisecond

// Node is the assembled process.
type Node struct {
	logger *logrus.Logger
	cfg    *Config

	store    *Store
	clock    *SystemClock
	rng      *RngService
	p2p      *P2pService
	ledger   *LedgerService
	prover   *ProverService
	snark    *SnarkWorkerService
	rpc      *RpcServer
	recorder *Recorder

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode builds the full service graph over a fresh state.
func NewNode(cfg *Config, lg *logrus.Logger) (*Node, error) {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	cfg.BuildEnv = CurrentBuildEnv()
	state := NewState(cfg)
	clock := NewSystemClock()
	state.Clock.OriginUnixNano = clock.Origin().UnixNano()

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		logger: lg,
		cfg:    cfg,
		clock:  clock,
		rng:    NewRngService(cfg.RngSeed),
		ctx:    ctx,
		cancel: cancel,
	}
	n.store = NewStore(state, clock, n, lg)

	var err error
	if n.p2p, err = NewP2pService(cfg, n.store, lg); err != nil {
		cancel()
		return nil, err
	}
	n.ledger = NewLedgerService(NewInMemoryLedgerWorker(), n.store, lg)
	n.prover = NewProverService(cfg, StubProver{}, StubVerifier{}, n.store, lg)
	n.snark = NewSnarkWorkerService(cfg, n.store, lg)
	n.rpc = NewRpcServer(cfg.RPCAddr, n.store, lg)

	if cfg.RecordDir != "" {
		rec, err := NewRecorder(cfg.RecordDir)
		if err != nil {
			cancel()
			return nil, err
		}
		if err := rec.RecordInitial(state, cfg.BuildEnv); err != nil {
			cancel()
			return nil, err
		}
		n.recorder = rec
		n.store.SetRecorder(rec)
	}
	return n, nil
}

// Store exposes the store for the CLI and tests.
func (n *Node) Store() *Store { return n.store }

// Route implements EffectRouter: every effect action goes to exactly one
// service.
func (n *Node) Route(a EffectAction, meta ActionMeta) {
	switch act := a.(type) {
	case *P2pEffectDial, *P2pEffectDisconnect, *P2pEffectAuthStart, *P2pEffectOutgoingData,
		*P2pEffectKadQuery, *P2pEffectSubscribe, *P2pEffectUnsubscribe, *P2pEffectPublish,
		*P2pEffectIdentifySend, *P2pEffectSignalingSend, *P2pEffectSignalingAnswer,
		*P2pEffectSignalingDecrypt, *P2pEffectChannelRequest, *P2pEffectChannelResponse:
		n.p2p.HandleEffect(a)
	case *LedgerWriteEffectExec:
		n.ledger.HandleEffect(a)
	case *FrontierEffectSnarkVerify, *ProducerEffectProve, *ProducerEffectVrfEvaluate:
		n.prover.HandleEffect(a)
	case *SnarkPoolEffectWorkerStart:
		n.snark.HandleEffect(a)
	case *RpcEffectRespond:
		n.rpc.HandleEffect(a)
	case *GenesisEffectLoad:
		go n.loadGenesis(act.Path)
	case *RngEffectDraw:
		n.store.Dispatch(&RngDrawResult{Purpose: act.Purpose, Value: n.rng.Draw()})
	case *P2pEffectRpcIncoming:
		go n.answerPeerRpc(act)
	case *P2pEffectRpcResponse:
		n.routePeerRpcResponse(act)
	default:
		n.logger.WithField("kind", meta.Kind).Warn("effect with no owning service")
	}
}

// Run starts the transports and blocks until ctx is cancelled or the store
// hits a fatal error.
func (n *Node) Run() error {
	if err := n.p2p.Start(); err != nil {
		return err
	}
	go func() {
		if err := n.rpc.Serve(); err != nil {
			n.logger.WithError(err).Error("rpc server stopped")
		}
	}()

	n.store.Dispatch(&GenesisLoadInit{})
	for _, topic := range []string{PubsubTopicBlocks, PubsubTopicTransactions, PubsubTopicSnarks} {
		n.store.Dispatch(&P2pPubsubSubscribe{Topic: topic})
	}
	for _, addr := range n.cfg.InitialPeers {
		n.store.Dispatch(&P2pConnectionOutgoingInit{Addr: SocketAddr(addr)})
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return nil
		case <-ticker.C:
			n.tick()
			if err := n.store.Err(); err != nil {
				return err
			}
		}
	}
}

// Close stops everything and finalizes the recording.
func (n *Node) Close() error {
	n.cancel()
	if n.recorder != nil {
		n.store.WithState(func(s *State) {
			if err := n.recorder.Finalize(s); err != nil {
				n.logger.WithError(err).Warn("finalize recording")
			}
		})
	}
	n.rpc.Close()
	return n.p2p.Close()
}

// tick scans state for expired deadlines and due work, then dispatches the
// matching actions. Each action's enabling predicate re-checks the
// condition, so a stale scan is harmless.
func (n *Node) tick() {
	var due []Action
	n.store.WithState(func(s *State) {
		now := s.Clock.Time
		for addr, conn := range s.P2p.Connections {
			if conn.Status != ConnStatusReady && conn.Status != ConnStatusError &&
				now.After(conn.PendingSince.Add(s.Config.Timeouts.Connect)) {
				due = append(due, &P2pConnectionTimeout{Addr: addr})
			}
		}
		for peer, ch := range s.P2p.Channels {
			for id, q := range ch.Rpc.Pending {
				if now.After(q.SentAt.Add(s.Config.Timeouts.Rpc)) {
					due = append(due, &P2pRpcTimeout{Peer: peer, QueryID: id})
				}
			}
		}
		for id, q := range s.P2p.Kademlia.Queries {
			if q.Status == KadQueryPending && now.After(q.PendingSince.Add(s.Config.Timeouts.KadQuery)) {
				due = append(due, &P2pKadTimeout{QueryID: id})
			}
		}
		sy := &s.TransitionFrontier.Sync
		if sy.LedgerQueryPending && now.After(sy.LedgerQuerySince.Add(s.Config.Timeouts.LedgerQuery)) {
			due = append(due, &FrontierSyncLedgerQueryTimeout{})
		}
		for h, at := range sy.FetchAttempts {
			if now.After(at.SentAt.Add(s.Config.Timeouts.BlockFetch)) {
				due = append(due, &FrontierSyncBlockFetchTimeout{Hash: h})
			}
		}
		for id, w := range s.WatchedAccounts.Accounts {
			if w.InitStatus == WatchedAccountIdle ||
				(w.InitStatus == WatchedAccountError && now.After(w.InitAttemptAt.Add(s.Config.Timeouts.AccountRetry))) {
				due = append(due, &WatchedAccountsInitFetch{ID: id})
			}
		}
		if s.BlockProducer.Status == ProducerWonSlotWaiting {
			due = append(due, &ProducerSlotCheck{})
		}
		if s.BlockProducer.WonSlot != nil {
			due = append(due, &ProducerSyncCheck{})
		}
		if s.Config.SnarkWorker.Enabled && s.SnarkPool.ProvingJob == "" {
			due = append(due, &SnarkPoolAutoCommit{})
		}
	})
	for _, a := range due {
		n.store.Dispatch(a)
	}
}

// loadGenesis reads the proven genesis block from disk.
func (n *Node) loadGenesis(path string) {
	if path == "" {
		// Solo mode synthesizes a genesis block.
		blk := Block{Header: BlockHeader{
			BlockchainLength: 1,
			ProtocolVersion:  supportedBlockProtocolVersion,
			VrfOutput:        HashBytes([]byte("genesis-vrf")).Bytes(),
			Signature:        HashBytes([]byte("genesis-sig")).Bytes(),
		}}
		n.store.Dispatch(&GenesisLoadSuccess{Block: blk})
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		n.logger.WithError(err).Error("load genesis")
		return
	}
	var blk Block
	if err := json.Unmarshal(raw, &blk); err != nil {
		n.logger.WithError(err).Error("decode genesis")
		return
	}
	n.store.Dispatch(&GenesisLoadSuccess{Block: blk})
}

// answerPeerRpc serves incoming peer queries from local state.
func (n *Node) answerPeerRpc(q *P2pEffectRpcIncoming) {
	var payload []byte
	n.store.WithState(func(s *State) {
		switch q.Tag {
		case RpcTagGetBestTip:
			if tip := s.TransitionFrontier.bestTip(); tip != nil {
				payload, _ = json.Marshal(tip)
			}
		case RpcTagGetTransitionChain:
			var h Hash
			if err := h.UnmarshalJSON(q.Payload); err == nil {
				if c, ok := s.TransitionFrontier.Candidates[h]; ok && c.Body != nil {
					payload, _ = json.Marshal(Block{Header: c.Header, Body: *c.Body})
				} else if b, ok := s.TransitionFrontier.Sync.FetchedBlocks[h]; ok {
					payload, _ = json.Marshal(b)
				}
			}
		case RpcTagAnswerSyncLedgerQuery:
			// Ledger subtree answers come from the worker's mask; the stub
			// answers empty and real deployments delegate.
			payload, _ = json.Marshal(map[string]uint64{"num_accounts": 0})
		case RpcTagGetAccount:
			payload, _ = json.Marshal(map[string]string{"account": string(q.Payload)})
		}
	})
	if payload == nil {
		payload, _ = json.Marshal(map[string]string{"error": "not found"})
	}
	n.store.Dispatch(&P2pRpcRespond{Peer: q.Peer, QueryID: q.QueryID, Payload: payload})
}

// routePeerRpcResponse decodes a matched response and feeds the consumer
// subsystem. A payload of the wrong shape is dropped with a log line; the
// choice is fixed at build time so replays agree.
func (n *Node) routePeerRpcResponse(r *P2pEffectRpcResponse) {
	switch r.Tag {
	case RpcTagGetTransitionChain:
		var blk Block
		if err := json.Unmarshal(r.Payload, &blk); err != nil {
			n.logger.WithField("tag", r.Tag).WithError(err).Warn("unexpected response type")
			return
		}
		n.store.Dispatch(&FrontierSyncBlockFetchSuccess{Hash: blk.Header.HashOf(), Block: blk})
	case RpcTagAnswerSyncLedgerQuery:
		var resp struct {
			NumAccounts *uint64 `json:"num_accounts"`
			Accounts    uint64  `json:"accounts"`
		}
		if err := json.Unmarshal(r.Payload, &resp); err != nil {
			n.logger.WithField("tag", r.Tag).WithError(err).Warn("unexpected response type")
			return
		}
		if resp.NumAccounts != nil {
			n.store.Dispatch(&FrontierSyncLedgerNumAccounts{Num: *resp.NumAccounts})
			return
		}
		n.store.Dispatch(&FrontierSyncLedgerPartReceived{Accounts: resp.Accounts})
	case RpcTagGetAccount:
		var resp struct {
			Account string `json:"account"`
		}
		if err := json.Unmarshal(r.Payload, &resp); err != nil {
			n.logger.WithField("tag", r.Tag).WithError(err).Warn("unexpected response type")
			return
		}
		n.store.Dispatch(&WatchedAccountsInitSuccess{ID: AccountId(resp.Account), Account: r.Payload})
	}
}

// CurrentBuildEnv captures the descriptor recorded with every log and
// compared on replay.
func CurrentBuildEnv() BuildEnv {
	env := BuildEnv{GoVersion: runtime.Version()}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, kv := range info.Settings {
			if kv.Key == "vcs.revision" {
				env.GitCommit = kv.Value
			}
		}
		env.ModHash = info.Main.Sum
	}
	if env.GitCommit == "" {
		env.GitCommit = utils.EnvOrDefault("SAMASIKA_BUILD_COMMIT", "dev")
	}
	return env
}

// Err surfaces the store's fatal error for callers that poll.
func (n *Node) Err() error { return n.store.Err() }

// String renders a short identity line for logs.
func (n *Node) String() string {
	return fmt.Sprintf("samasika-node(%s)", n.cfg.PeerID)
}
