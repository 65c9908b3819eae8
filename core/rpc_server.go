package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RpcServer is the local HTTP front. Every request becomes an
// RpcRequestReceived action; the answer comes back through the
// RpcEffectRespond effect addressed to the responder token registered
// here.
type RpcServer struct {
	logger *logrus.Logger
	store  *Store
	srv    *http.Server

	mu         sync.Mutex
	responders map[RpcId]chan json.RawMessage
	// dispatchMu serializes dispatch-then-read-id so each request pairs
	// with its own RpcId.
	dispatchMu sync.Mutex
}

// NewRpcServer wires the HTTP surface onto the store.
func NewRpcServer(addr string, store *Store, lg *logrus.Logger) *RpcServer {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	s := &RpcServer{
		logger:     lg,
		store:      store,
		responders: make(map[RpcId]chan json.RawMessage),
	}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handle(RpcKindStateSnapshot)).Methods(http.MethodGet)
	r.HandleFunc("/sync", s.handle(RpcKindSyncStatus)).Methods(http.MethodGet)
	r.HandleFunc("/peers", s.handle(RpcKindPeersGet)).Methods(http.MethodGet)
	r.HandleFunc("/peers/connect", s.handle(RpcKindPeerConnect)).Methods(http.MethodPost)
	r.HandleFunc("/snark-pool", s.handle(RpcKindSnarkPoolGet)).Methods(http.MethodGet)
	r.HandleFunc("/producer", s.handle(RpcKindProducerStatus)).Methods(http.MethodGet)
	r.HandleFunc("/watched-accounts", s.handle(RpcKindWatchedAccountsGet)).Methods(http.MethodGet)
	r.HandleFunc("/watched-accounts", s.handle(RpcKindWatchedAccountsAdd)).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.srv = &http.Server{Addr: addr, Handler: r}
	s.registerMetrics()
	return s
}

// Serve blocks on the listener.
func (s *RpcServer) Serve() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the listener down.
func (s *RpcServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// HandleEffect delivers an answer to its responder token.
func (s *RpcServer) HandleEffect(a EffectAction) {
	resp, ok := a.(*RpcEffectRespond)
	if !ok {
		return
	}
	s.mu.Lock()
	ch, found := s.responders[resp.ID]
	if found {
		delete(s.responders, resp.ID)
	}
	s.mu.Unlock()
	if found {
		ch <- resp.Response
	}
}

func (s *RpcServer) handle(kind RpcRequestKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params json.RawMessage
		if r.Body != nil {
			raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if len(raw) > 0 {
				params = raw
			}
		}

		s.dispatchMu.Lock()
		ok := s.store.Dispatch(&RpcRequestReceived{Kind_: kind, Params: params})
		var id RpcId
		if ok {
			s.store.WithState(func(st *State) { id = st.Rpc.LastAddedReqID })
		}
		s.dispatchMu.Unlock()
		if !ok {
			// The request table is at cap; the caller retries.
			http.Error(w, "rpc table full", http.StatusServiceUnavailable)
			return
		}

		ch := make(chan json.RawMessage, 1)
		s.mu.Lock()
		s.responders[id] = ch
		s.mu.Unlock()

		select {
		case raw := <-ch:
			w.Header().Set("Content-Type", "application/json")
			w.Write(raw)
		case <-time.After(30 * time.Second):
			s.mu.Lock()
			delete(s.responders, id)
			s.mu.Unlock()
			http.Error(w, fmt.Sprintf("rpc %d timed out", id), http.StatusGatewayTimeout)
		}
	}
}

// registerMetrics exposes the stats partition as prometheus gauges.
func (s *RpcServer) registerMetrics() {
	gauges := []struct {
		name string
		help string
		read func(st *State) float64
	}{
		{"samasika_applied_actions_total", "actions applied by the reducer", func(st *State) float64 { return float64(st.AppliedActionsCount) }},
		{"samasika_blocks_applied_total", "blocks landed on the applied chain", func(st *State) float64 { return float64(st.Stats.BlocksApplied) }},
		{"samasika_peers_ready", "peers with a completed connection stack", func(st *State) float64 { return float64(len(st.P2p.readyPeers())) }},
		{"samasika_snark_jobs", "open snark pool jobs", func(st *State) float64 { return float64(len(st.SnarkPool.Jobs)) }},
		{"samasika_chain_length", "applied chain length", func(st *State) float64 { return float64(len(st.TransitionFrontier.AppliedChain)) }},
	}
	for _, g := range gauges {
		read := g.read
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: g.name, Help: g.help}, func() float64 {
			var v float64
			s.store.WithState(func(st *State) { v = read(st) })
			return v
		})
		if err := prometheus.Register(gf); err != nil {
			s.logger.WithField("metric", g.name).WithError(err).Debug("metric already registered")
		}
	}
}
