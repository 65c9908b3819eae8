package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// The recorder persists the canonical log: the initial state once, then
// every applied action with its meta, in append-only chunks. Replays
// re-dispatch the input actions and assert the effects.

const (
	initialStateFileName = "initial_state.bin"
	finalSummaryFileName = "final.bin"
	actionsDirName       = "actions"
	recordsPerChunk      = 1000
	recordFormatVersion  = 1
)

// InitialStateFile is the serialized head of a recording.
type InitialStateFile struct {
	Version  int      `json:"version"`
	BuildEnv BuildEnv `json:"build_env"`
	State    *State   `json:"state"`
}

// FinalSummaryFile closes a recording with the expected replay outcome.
type FinalSummaryFile struct {
	FinalStateHash StateHash `json:"final_state_hash"`
	ActionCount    uint64    `json:"action_count"`
}

// Recorder appends the action log under one recording directory.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	chunk    *os.File
	writer   *bufio.Writer
	chunkIdx int
	count    int
}

// NewRecorder opens (creating) the recording directory.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Join(dir, actionsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{dir: dir}, nil
}

// RecordInitial writes the initial state once, before any action.
func (r *Recorder) RecordInitial(s *State, env BuildEnv) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := json.Marshal(InitialStateFile{Version: recordFormatVersion, BuildEnv: env, State: s})
	if err != nil {
		return fmt.Errorf("marshal initial state: %w", err)
	}
	return os.WriteFile(filepath.Join(r.dir, initialStateFileName), raw, 0o644)
}

// RecordAction appends one applied action, rotating chunks.
func (r *Recorder) RecordAction(a ActionWithMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chunk == nil || r.count >= recordsPerChunk {
		if err := r.rotateLocked(); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal action %s: %w", a.Meta.Kind, err)
	}
	if _, err := r.writer.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	r.count++
	return nil
}

// Finalize writes the replay summary and closes the log.
func (r *Recorder) Finalize(s *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	hash, err := s.Hash()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(FinalSummaryFile{FinalStateHash: hash, ActionCount: s.AppliedActionsCount})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.dir, finalSummaryFileName), raw, 0o644); err != nil {
		return err
	}
	return r.closeLocked()
}

// Close flushes and closes the current chunk.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.chunk == nil {
		return nil
	}
	if err := r.writer.Flush(); err != nil {
		return err
	}
	err := r.chunk.Close()
	r.chunk = nil
	r.writer = nil
	return err
}

func (r *Recorder) rotateLocked() error {
	if err := r.closeLocked(); err != nil {
		return err
	}
	name := filepath.Join(r.dir, actionsDirName, fmt.Sprintf("%04d.bin", r.chunkIdx))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk %s: %w", name, err)
	}
	r.chunk = f
	r.writer = bufio.NewWriter(f)
	r.chunkIdx++
	r.count = 0
	return nil
}

// LoadInitialState reads the recording head.
func LoadInitialState(dir string) (*InitialStateFile, error) {
	raw, err := os.ReadFile(filepath.Join(dir, initialStateFileName))
	if err != nil {
		return nil, fmt.Errorf("read initial state: %w", err)
	}
	var f InitialStateFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode initial state: %w", err)
	}
	if f.Version != recordFormatVersion {
		return nil, fmt.Errorf("initial state version %d, want %d", f.Version, recordFormatVersion)
	}
	return &f, nil
}

// LoadFinalSummary reads the expected replay outcome, if recorded.
func LoadFinalSummary(dir string) (*FinalSummaryFile, error) {
	raw, err := os.ReadFile(filepath.Join(dir, finalSummaryFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var f FinalSummaryFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode final summary: %w", err)
	}
	return &f, nil
}

// LoadActionLog reads every chunk in order.
func LoadActionLog(dir string) ([]ActionWithMeta, error) {
	chunkDir := filepath.Join(dir, actionsDirName)
	entries, err := os.ReadDir(chunkDir)
	if err != nil {
		return nil, fmt.Errorf("read actions dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bin") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var out []ActionWithMeta
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(chunkDir, name))
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", name, err)
		}
		for i, line := range strings.Split(string(raw), "\n") {
			if line == "" {
				continue
			}
			var rec ActionWithMeta
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, fmt.Errorf("chunk %s record %d: %w", name, i, err)
			}
			out = append(out, rec)
		}
	}
	return out, nil
}
