package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestUpsertAndList(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	id, err := s.Upsert(ctx, "vault-bench", "/repos/vault", "/gt/vault.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected non-zero id")
	}

	benchmarks, err := s.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(benchmarks) != 1 || benchmarks[0].Name != "vault-bench" {
		t.Fatalf("expected one registered benchmark, got %+v", benchmarks)
	}
}

func TestRecordAndQueryRuns(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	id, err := s.Upsert(ctx, "vault-bench", "/repos/vault", "/gt/vault.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 1; i <= 3; i++ {
		err := s.RecordRun(ctx, RunRecord{
			BenchmarkID:   id,
			Mode:          "detect",
			RunIndex:      i,
			ResultPath:    "run.json",
			TruePositives: i,
		})
		if err != nil {
			t.Fatalf("unexpected error recording run %d: %v", i, err)
		}
	}

	runs, err := s.RunsForMode(ctx, id, "detect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, r := range runs {
		if r.RunIndex != i+1 {
			t.Fatalf("expected runs ordered by run_index, got %+v", runs)
		}
	}
}
