package core

import (
	"encoding/binary"
	"sort"
	"time"
)

// The snark pool tracks the scan-state's available work set, the
// distributed commitment protocol over it, and the snarks delivered for
// it. Job ids never reuse an order number, even after removal.

// SnarkJobKind distinguishes base transaction proofs from merges.
type SnarkJobKind string

const (
	SnarkJobTx    SnarkJobKind = "tx"
	SnarkJobMerge SnarkJobKind = "merge"
)

// SnarkJobSummary is what the duration estimate is computed from.
type SnarkJobSummary struct {
	Kind   SnarkJobKind `json:"kind"`
	Pieces int          `json:"pieces"`
}

// EstimatedDuration is the commitment validity window: ten seconds per
// piece plus ten seconds of latency.
func (s SnarkJobSummary) EstimatedDuration() time.Duration {
	n := s.Pieces
	if n < 1 {
		n = 1
	}
	return time.Duration(n)*10*time.Second + 10*time.Second
}

// SnarkJobInfo describes one available job as discovered from the scan
// state.
type SnarkJobInfo struct {
	ID      SnarkJobId      `json:"id"`
	Summary SnarkJobSummary `json:"summary"`
}

// SnarkJobCommitment is a worker's broadcast promise to prove a job.
type SnarkJobCommitment struct {
	JobID     SnarkJobId     `json:"job_id"`
	Fee       CurrencyAmount `json:"fee"`
	Timestamp Timestamp      `json:"timestamp"`
	Prover    string         `json:"prover"`
	Signature []byte         `json:"signature"`
}

// timedOut reports whether the commitment outlived the job's estimated
// duration.
func (c *SnarkJobCommitment) timedOut(summary SnarkJobSummary, now Timestamp) bool {
	return now.Sub(c.Timestamp) > summary.EstimatedDuration()
}

// SnarkInfo is one delivered snark.
type SnarkInfo struct {
	JobID  SnarkJobId     `json:"job_id"`
	Fee    CurrencyAmount `json:"fee"`
	Prover string         `json:"prover"`
	Proof  []byte         `json:"proof"`
}

// JobState is one pool entry.
type JobState struct {
	ID         SnarkJobId          `json:"id"`
	Order      uint64              `json:"order"`
	Job        SnarkJobSummary     `json:"job"`
	Commitment *SnarkJobCommitment `json:"commitment,omitempty"`
	Snark      *SnarkInfo          `json:"snark,omitempty"`
}

// MaxPeerPendingSnarks caps the per-peer candidate backlog; commitments and
// snarks from a peer at the cap are not enabled until its backlog drains.
const MaxPeerPendingSnarks = 32

// PeerSnarkCandidates tracks work and commitment summaries seen from one
// peer.
type PeerSnarkCandidates struct {
	Seen    []SnarkJobId `json:"seen,omitempty"`
	Pending int          `json:"pending"`
}

// SnarkPoolState is the pool partition.
type SnarkPoolState struct {
	NextOrder uint64                          `json:"next_order"`
	Jobs      map[SnarkJobId]*JobState        `json:"jobs"`
	Candidates map[PeerID]*PeerSnarkCandidates `json:"candidates"`
	// ProvingJob is the job our own worker is currently on, if any.
	ProvingJob SnarkJobId `json:"proving_job,omitempty"`
}

func newSnarkPoolState() SnarkPoolState {
	return SnarkPoolState{
		NextOrder:  1,
		Jobs:       make(map[SnarkJobId]*JobState),
		Candidates: make(map[PeerID]*PeerSnarkCandidates),
	}
}

// jobsByOrder lists jobs sorted by age, oldest (lowest order) first.
func (sp *SnarkPoolState) jobsByOrder() []*JobState {
	out := make([]*JobState, 0, len(sp.Jobs))
	for _, j := range sp.Jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// selectNextJob picks the highest-priority open job whose live commitment
// is absent, ours, or timed out.
func (sp *SnarkPoolState) selectNextJob(localProver string, now Timestamp) *JobState {
	for _, j := range sp.jobsByOrder() {
		if j.Snark != nil {
			continue
		}
		c := j.Commitment
		if c == nil || c.Prover == localProver || c.timedOut(j.Job, now) {
			return j
		}
	}
	return nil
}

// completedSnarks lists up to n delivered snarks, oldest job first.
func (sp *SnarkPoolState) completedSnarks(n int) []SnarkInfo {
	var out []SnarkInfo
	for _, j := range sp.jobsByOrder() {
		if j.Snark == nil {
			continue
		}
		out = append(out, *j.Snark)
		if len(out) == n {
			break
		}
	}
	return out
}

// liveCommitments lists up to n commitments, oldest job first.
func (sp *SnarkPoolState) liveCommitments(n int) []SnarkJobCommitment {
	var out []SnarkJobCommitment
	for _, j := range sp.jobsByOrder() {
		if j.Commitment == nil {
			continue
		}
		out = append(out, *j.Commitment)
		if len(out) == n {
			break
		}
	}
	return out
}

// --- actions ---

// SnarkPoolAction tags pool transitions.
type SnarkPoolAction interface {
	Action
	isSnarkPoolAction()
}

type snarkPoolTag struct{}

func (snarkPoolTag) isSnarkPoolAction() {}

const (
	KindSnarkPoolJobsUpdate          ActionKind = "SnarkPoolJobsUpdate"
	KindSnarkPoolCommitmentReceived  ActionKind = "SnarkPoolCommitmentReceived"
	KindSnarkPoolWorkReceived        ActionKind = "SnarkPoolWorkReceived"
	KindSnarkPoolCommitmentCreate    ActionKind = "SnarkPoolCommitmentCreate"
	KindSnarkPoolAutoCommit          ActionKind = "SnarkPoolAutoCommit"
	KindSnarkPoolWorkerResult        ActionKind = "SnarkPoolWorkerResult"
	KindSnarkPoolEffectWorkerStart   ActionKind = "SnarkPoolEffectWorkerStart"
)

func init() {
	registerAction(KindSnarkPoolJobsUpdate, func() Action { return &SnarkPoolJobsUpdate{} })
	registerAction(KindSnarkPoolCommitmentReceived, func() Action { return &SnarkPoolCommitmentReceived{} })
	registerAction(KindSnarkPoolWorkReceived, func() Action { return &SnarkPoolWorkReceived{} })
	registerAction(KindSnarkPoolCommitmentCreate, func() Action { return &SnarkPoolCommitmentCreate{} })
	registerAction(KindSnarkPoolAutoCommit, func() Action { return &SnarkPoolAutoCommit{} })
	registerAction(KindSnarkPoolWorkerResult, func() Action { return &SnarkPoolWorkerResult{} })
	registerAction(KindSnarkPoolEffectWorkerStart, func() Action { return &SnarkPoolEffectWorkerStart{} })
}

// SnarkPoolJobsUpdate reconciles the pool against the scan-state available
// set after a ledger transition. Jobs absent from the new set were
// committed and are destroyed; their order numbers are never reused.
type SnarkPoolJobsUpdate struct {
	snarkPoolTag
	Jobs []SnarkJobInfo `json:"jobs"`
}

func (*SnarkPoolJobsUpdate) Kind() ActionKind                      { return KindSnarkPoolJobsUpdate }
func (a *SnarkPoolJobsUpdate) Enabled(s *State, now Timestamp) bool { return true }

// SnarkPoolCommitmentReceived merges a gossiped commitment.
type SnarkPoolCommitmentReceived struct {
	snarkPoolTag
	Commitment SnarkJobCommitment `json:"commitment"`
	Sender     PeerID             `json:"sender,omitempty"`
}

func (*SnarkPoolCommitmentReceived) Kind() ActionKind { return KindSnarkPoolCommitmentReceived }
func (a *SnarkPoolCommitmentReceived) Enabled(s *State, now Timestamp) bool {
	if len(a.Commitment.Signature) == 0 {
		return false
	}
	if a.Sender != "" {
		if cand, ok := s.SnarkPool.Candidates[a.Sender]; ok && cand.Pending >= MaxPeerPendingSnarks {
			return false
		}
	}
	_, open := s.SnarkPool.Jobs[a.Commitment.JobID]
	return open
}

// SnarkPoolWorkReceived merges a delivered snark.
type SnarkPoolWorkReceived struct {
	snarkPoolTag
	Snark  SnarkInfo `json:"snark"`
	Sender PeerID    `json:"sender,omitempty"`
}

func (*SnarkPoolWorkReceived) Kind() ActionKind { return KindSnarkPoolWorkReceived }
func (a *SnarkPoolWorkReceived) Enabled(s *State, now Timestamp) bool {
	if a.Sender != "" {
		if cand, ok := s.SnarkPool.Candidates[a.Sender]; ok && cand.Pending >= MaxPeerPendingSnarks {
			return false
		}
	}
	_, open := s.SnarkPool.Jobs[a.Snark.JobID]
	return open
}

// SnarkPoolCommitmentCreate commits our own worker to a job.
type SnarkPoolCommitmentCreate struct {
	snarkPoolTag
	JobID SnarkJobId `json:"job_id"`
}

func (*SnarkPoolCommitmentCreate) Kind() ActionKind { return KindSnarkPoolCommitmentCreate }
func (a *SnarkPoolCommitmentCreate) Enabled(s *State, now Timestamp) bool {
	if !s.Config.SnarkWorker.Enabled {
		return false
	}
	j, ok := s.SnarkPool.Jobs[a.JobID]
	if !ok || j.Snark != nil {
		return false
	}
	c := j.Commitment
	return c == nil || c.Prover == localProver(s) || c.timedOut(j.Job, now)
}

// SnarkPoolAutoCommit is the worker's selection tick.
type SnarkPoolAutoCommit struct {
	snarkPoolTag
}

func (*SnarkPoolAutoCommit) Kind() ActionKind { return KindSnarkPoolAutoCommit }
func (a *SnarkPoolAutoCommit) Enabled(s *State, now Timestamp) bool {
	if !s.Config.SnarkWorker.Enabled || s.SnarkPool.ProvingJob != "" {
		return false
	}
	return s.SnarkPool.selectNextJob(localProver(s), now) != nil
}

// SnarkPoolWorkerResult lands our worker's finished proof.
type SnarkPoolWorkerResult struct {
	snarkPoolTag
	JobID SnarkJobId `json:"job_id"`
	Proof []byte     `json:"proof"`
}

func (*SnarkPoolWorkerResult) Kind() ActionKind { return KindSnarkPoolWorkerResult }
func (a *SnarkPoolWorkerResult) Enabled(s *State, now Timestamp) bool {
	return s.SnarkPool.ProvingJob == a.JobID
}

// SnarkPoolEffectWorkerStart hands a job to the snark worker subprocess.
type SnarkPoolEffectWorkerStart struct {
	snarkPoolTag
	Effect
	JobID   SnarkJobId      `json:"job_id"`
	Summary SnarkJobSummary `json:"summary"`
}

func (*SnarkPoolEffectWorkerStart) Kind() ActionKind                      { return KindSnarkPoolEffectWorkerStart }
func (a *SnarkPoolEffectWorkerStart) Enabled(s *State, now Timestamp) bool { return true }

// localProver is our worker identity on the commitment wire.
func localProver(s *State) string {
	return string(s.Config.PeerID)
}

// gossipNonce derives a deterministic per-message nonce; the applied action
// counter makes it unique within a run and identical across replays.
func gossipNonce(s *State, payload []byte) uint64 {
	h := HashBytes(payload, binary.BigEndian.AppendUint64(nil, s.AppliedActionsCount))
	return binary.BigEndian.Uint64(h[:8])
}

func reduceSnarkPool(s *State, a SnarkPoolAction, now Timestamp, emit Emitter) {
	sp := &s.SnarkPool
	switch act := a.(type) {

	case *SnarkPoolJobsUpdate:
		next := make(map[SnarkJobId]bool, len(act.Jobs))
		for _, info := range act.Jobs {
			next[info.ID] = true
			if _, exists := sp.Jobs[info.ID]; exists {
				continue
			}
			sp.Jobs[info.ID] = &JobState{
				ID:    info.ID,
				Order: sp.NextOrder,
				Job:   info.Summary,
			}
			sp.NextOrder++
		}
		for id := range sp.Jobs {
			if !next[id] {
				if sp.ProvingJob == id {
					sp.ProvingJob = ""
				}
				delete(sp.Jobs, id)
			}
		}
		// The reconcile settles every peer's backlog.
		for peer := range sp.Candidates {
			sp.drainPeerCandidates(peer)
		}

	case *SnarkPoolCommitmentReceived:
		j := sp.Jobs[act.Commitment.JobID]
		c := act.Commitment
		notePeerCandidate(sp, act.Sender, c.JobID)
		if j.Commitment == nil || j.Commitment.timedOut(j.Job, now) {
			j.Commitment = &c
			return
		}
		// An incumbent is displaced only by a strictly lower fee; on equal
		// fees the incumbent stays, whatever the timestamps or provers.
		if c.Fee < j.Commitment.Fee {
			j.Commitment = &c
		}

	case *SnarkPoolWorkReceived:
		j := sp.Jobs[act.Snark.JobID]
		sn := act.Snark
		notePeerCandidate(sp, act.Sender, sn.JobID)
		if c := j.Commitment; c != nil && !c.timedOut(j.Job, now) && sn.Fee > c.Fee {
			// A live cheaper commitment outbids this snark.
			return
		}
		if j.Snark == nil || sn.Fee < j.Snark.Fee {
			j.Snark = &sn
		}

	case *SnarkPoolCommitmentCreate:
		j := sp.Jobs[act.JobID]
		c := SnarkJobCommitment{
			JobID:     act.JobID,
			Fee:       s.Config.SnarkWorker.Fee,
			Timestamp: now,
			Prover:    localProver(s),
			Signature: signCommitment(s, act.JobID, now),
		}
		j.Commitment = &c
		sp.ProvingJob = act.JobID
		payload, _ := marshalGossip(GossipPayload{Kind: GossipKindCommitment, Commitment: &c})
		emit(&P2pPubsubPublish{Topic: PubsubTopicSnarks, Data: payload, Nonce: gossipNonce(s, payload)})
		emit(&SnarkPoolEffectWorkerStart{JobID: act.JobID, Summary: j.Job})

	case *SnarkPoolAutoCommit:
		if j := sp.selectNextJob(localProver(s), now); j != nil {
			emit(&SnarkPoolCommitmentCreate{JobID: j.ID})
		}

	case *SnarkPoolWorkerResult:
		sp.ProvingJob = ""
		j, ok := sp.Jobs[act.JobID]
		if !ok {
			// The job's transition committed while we proved; the work is
			// stale and dropped.
			return
		}
		sn := SnarkInfo{
			JobID:  act.JobID,
			Fee:    s.Config.SnarkWorker.Fee,
			Prover: localProver(s),
			Proof:  act.Proof,
		}
		j.Snark = &sn
		payload, _ := marshalGossip(GossipPayload{Kind: GossipKindSnark, Snark: &sn})
		emit(&P2pPubsubPublish{Topic: PubsubTopicSnarks, Data: payload, Nonce: gossipNonce(s, payload)})
	}
}

// notePeerCandidate bumps the per-peer seen book, bounded by the pending
// cap.
func notePeerCandidate(sp *SnarkPoolState, peer PeerID, job SnarkJobId) {
	if peer == "" {
		return
	}
	cand, ok := sp.Candidates[peer]
	if !ok {
		cand = &PeerSnarkCandidates{}
		sp.Candidates[peer] = cand
	}
	cand.Seen = append(cand.Seen, job)
	if len(cand.Seen) > MaxPeerPendingSnarks {
		cand.Seen = cand.Seen[len(cand.Seen)-MaxPeerPendingSnarks:]
	}
	cand.Pending = len(cand.Seen)
}

// drainPeerCandidates releases a peer's backlog once its items were
// reconciled into the pool.
func (sp *SnarkPoolState) drainPeerCandidates(peer PeerID) {
	if cand, ok := sp.Candidates[peer]; ok {
		cand.Seen = nil
		cand.Pending = 0
	}
}

// signCommitment binds the commitment to our identity. The real signature
// lives with the secret key in the service; state carries a deterministic
// digest the service replaces on the wire.
func signCommitment(s *State, job SnarkJobId, now Timestamp) []byte {
	h := HashBytes([]byte(job), []byte(localProver(s)), binary.BigEndian.AppendUint64(nil, uint64(now)))
	return h[:]
}
