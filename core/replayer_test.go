package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// recordSession drives a store through a scripted run under a recorder and
// returns the recording directory.
func recordSession(t *testing.T) (string, StateHash, uint64) {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig()
	cfg.RecordDir = dir

	state := NewState(cfg)
	clock := &fakeClock{now: 1}
	store := NewStore(state, clock, &effectLog{}, nil)

	rec, err := NewRecorder(dir)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	env := BuildEnv{GitCommit: "test", GoVersion: "go-test", ModHash: "h"}
	if err := rec.RecordInitial(state, env); err != nil {
		t.Fatalf("record initial: %v", err)
	}
	store.SetRecorder(rec)

	// A scripted run touching several subsystems.
	store.Dispatch(&P2pPubsubSubscribe{Topic: PubsubTopicBlocks})
	clock.advance(5)
	store.Dispatch(&P2pConnectionOutgoingInit{Addr: "10.9.0.1:8302"})
	clock.advance(5)
	store.Dispatch(&P2pConnectionEstablished{Addr: "10.9.0.1:8302"})
	clock.advance(5)
	store.Dispatch(&SnarkPoolJobsUpdate{Jobs: poolJobs("j-1", "j-2")})
	clock.advance(5)
	hdr := testHeader(nil, Hash{}, 2, "recorded-block")
	store.Dispatch(&CandidateBlockReceived{Block: Block{Header: hdr}})

	if err := store.Err(); err != nil {
		t.Fatalf("recording run failed: %v", err)
	}
	if err := rec.Finalize(state); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	hash, err := state.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return dir, hash, state.AppliedActionsCount
}

func TestReplayReproducesRecordedRun(t *testing.T) {
	dir, wantHash, wantCount := recordSession(t)
	rp := NewReplayer(dir, nil)
	report, err := rp.Run(BuildEnv{GitCommit: "test", GoVersion: "go-test", ModHash: "h"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.FinalStateHash != wantHash {
		t.Fatalf("final hash %s, recorded %s", report.FinalStateHash, wantHash)
	}
	if report.TotalActions != wantCount {
		t.Fatalf("total actions %d, recorded %d", report.TotalActions, wantCount)
	}
}

func TestReplayRejectsBuildEnvMismatch(t *testing.T) {
	dir, _, _ := recordSession(t)
	rp := NewReplayer(dir, nil)
	_, err := rp.Run(BuildEnv{GitCommit: "other", GoVersion: "go-test", ModHash: "h"})
	if err == nil || !strings.Contains(err.Error(), "build env mismatch") {
		t.Fatalf("mismatch not rejected: %v", err)
	}
	// The interactive override proceeds.
	rp.ForceBuildEnv = true
	if _, err := rp.Run(BuildEnv{GitCommit: "other"}); err != nil {
		t.Fatalf("forced replay failed: %v", err)
	}
}

func TestReplayDetectsTamperedLog(t *testing.T) {
	dir, _, _ := recordSession(t)

	// Append a forged effect record: the re-execution will never produce
	// it and the expected queue stays non-empty.
	records, err := LoadActionLog(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	forged := ActionWithMeta{
		Meta:   ActionMeta{Kind: KindP2pEffectDial, Time: records[len(records)-1].Meta.Time, Depth: 1},
		Action: &P2pEffectDial{Addr: "6.6.6.6:1"},
	}
	raw, err := forged.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	chunk := filepath.Join(dir, actionsDirName, "0000.bin")
	f, err := os.OpenFile(chunk, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open chunk: %v", err)
	}
	f.Write(append(raw, '\n'))
	f.Close()

	rp := NewReplayer(dir, nil)
	if _, err := rp.Run(BuildEnv{GitCommit: "test", GoVersion: "go-test", ModHash: "h"}); err == nil {
		t.Fatal("tampered log replayed clean")
	}
}

func TestActionLogChunksRotate(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	for i := 0; i < recordsPerChunk+10; i++ {
		err := rec.RecordAction(ActionWithMeta{
			Meta:   ActionMeta{Kind: KindP2pPubsubSubscribe, Time: Timestamp(i)},
			Action: &P2pPubsubSubscribe{Topic: "t"},
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, actionsDirName))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("chunks = %d, want rotation into 2", len(entries))
	}
	records, err := LoadActionLog(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != recordsPerChunk+10 {
		t.Fatalf("records = %d", len(records))
	}
}
