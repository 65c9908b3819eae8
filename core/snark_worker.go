package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SnarkWorkerService drives the external snark worker subprocess: one job
// in, one proof out. Without a configured binary it proves in-process with
// the stub, which keeps solo mode and tests self-contained.
type SnarkWorkerService struct {
	logger *logrus.Logger
	store  *Store
	cfg    *Config
}

// snarkWorkerRequest is the subprocess stdin contract. ReqID is a fresh
// token per request; the response carries no ReqID and is matched by job id.
type snarkWorkerRequest struct {
	ReqID   string          `json:"req_id"`
	JobID   SnarkJobId      `json:"job_id"`
	Summary SnarkJobSummary `json:"summary"`
	Fee     CurrencyAmount  `json:"fee"`
}

// snarkWorkerResponse is the subprocess stdout contract.
type snarkWorkerResponse struct {
	JobID SnarkJobId `json:"job_id"`
	Proof []byte     `json:"proof"`
	Error string     `json:"error,omitempty"`
}

// NewSnarkWorkerService wires the worker.
func NewSnarkWorkerService(cfg *Config, store *Store, lg *logrus.Logger) *SnarkWorkerService {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &SnarkWorkerService{logger: lg, store: store, cfg: cfg}
}

// HandleEffect starts one proving job.
func (w *SnarkWorkerService) HandleEffect(a EffectAction) {
	start, ok := a.(*SnarkPoolEffectWorkerStart)
	if !ok {
		return
	}
	job := *start
	go func() {
		proof, err := w.prove(&job)
		if err != nil {
			// A dead worker fails the subsystem: nothing is dispatched, the
			// job stays the pool's proving job and auto-commit stays paused
			// until a jobs update drops that job.
			w.logger.WithFields(logrus.Fields{"job": job.JobID}).WithError(err).Error("snark worker failed")
			return
		}
		w.store.Dispatch(&SnarkPoolWorkerResult{JobID: job.JobID, Proof: proof})
	}()
}

func (w *SnarkWorkerService) prove(job *SnarkPoolEffectWorkerStart) ([]byte, error) {
	if w.cfg.SnarkWorker.WorkerBin == "" {
		h := HashBytes([]byte("snark-proof"), []byte(job.JobID))
		return h.Bytes(), nil
	}
	req, err := json.Marshal(snarkWorkerRequest{
		ReqID:   uuid.NewString(),
		JobID:   job.JobID,
		Summary: job.Summary,
		Fee:     w.cfg.SnarkWorker.Fee,
	})
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(w.cfg.SnarkWorker.WorkerBin)
	cmd.Stdin = bytes.NewReader(req)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w", w.cfg.SnarkWorker.WorkerBin, err)
	}
	var resp snarkWorkerResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode worker response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("worker: %s", resp.Error)
	}
	if resp.JobID != job.JobID {
		return nil, fmt.Errorf("worker answered job %s, wanted %s", resp.JobID, job.JobID)
	}
	return resp.Proof, nil
}
