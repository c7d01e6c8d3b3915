// Package store is the benchmark registry index: which benchmarks exist,
// which modes have been run against them, and where each run's completed
// result file lives, backed by an embedded sqlite database exactly as
// apps/ReleaseParty's backend store embeds its own (modernc.org/sqlite,
// single open connection, migrate-on-open).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the registry's sqlite-backed index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// migrates it to the current schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS benchmarks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			repo_path TEXT NOT NULL,
			ground_truth_path TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			benchmark_id INTEGER NOT NULL,
			mode TEXT NOT NULL,
			run_index INTEGER NOT NULL,
			result_path TEXT NOT NULL,
			true_positives INTEGER NOT NULL DEFAULT 0,
			false_positives INTEGER NOT NULL DEFAULT 0,
			false_negatives INTEGER NOT NULL DEFAULT 0,
			placeholder_tests INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(benchmark_id, mode, run_index)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrating: %w", err)
		}
	}
	return nil
}

// Benchmark is one registry entry.
type Benchmark struct {
	ID               int64
	Name             string
	RepoPath         string
	GroundTruthPath  string
	CreatedAt        time.Time
}

// Upsert registers or updates a benchmark by name.
func (s *Store) Upsert(ctx context.Context, name, repoPath, groundTruthPath string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO benchmarks (name, repo_path, ground_truth_path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET repo_path = excluded.repo_path, ground_truth_path = excluded.ground_truth_path
	`, name, repoPath, groundTruthPath, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("store: upserting benchmark %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		return s.idByName(ctx, name)
	}
	return id, nil
}

func (s *Store) idByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM benchmarks WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: looking up benchmark %s: %w", name, err)
	}
	return id, nil
}

// List returns every registered benchmark, ordered by name.
func (s *Store) List(ctx context.Context) ([]Benchmark, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, repo_path, ground_truth_path, created_at FROM benchmarks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: listing benchmarks: %w", err)
	}
	defer rows.Close()

	var out []Benchmark
	for rows.Next() {
		var b Benchmark
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Name, &b.RepoPath, &b.GroundTruthPath, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scanning benchmark row: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// RunRecord is one persisted run's scoring summary.
type RunRecord struct {
	BenchmarkID      int64
	Mode             string
	RunIndex         int
	ResultPath       string
	TruePositives    int
	FalsePositives   int
	FalseNegatives   int
	PlaceholderTests bool
}

// RecordRun persists a completed run's result, write-once per
// (benchmark, mode, run_index).
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	placeholder := 0
	if r.PlaceholderTests {
		placeholder = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (benchmark_id, mode, run_index, result_path, true_positives, false_positives, false_negatives, placeholder_tests, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.BenchmarkID, r.Mode, r.RunIndex, r.ResultPath, r.TruePositives, r.FalsePositives, r.FalseNegatives, placeholder, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: recording run for benchmark %d mode %s: %w", r.BenchmarkID, r.Mode, err)
	}
	return nil
}

// RunsForMode returns every completed run for benchmarkID under mode, in
// run_index order — the set aggregation reads at summary time.
func (s *Store) RunsForMode(ctx context.Context, benchmarkID int64, mode string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT benchmark_id, mode, run_index, result_path, true_positives, false_positives, false_negatives, placeholder_tests
		FROM runs WHERE benchmark_id = ? AND mode = ? ORDER BY run_index
	`, benchmarkID, mode)
	if err != nil {
		return nil, fmt.Errorf("store: querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var placeholder int
		if err := rows.Scan(&r.BenchmarkID, &r.Mode, &r.RunIndex, &r.ResultPath, &r.TruePositives, &r.FalsePositives, &r.FalseNegatives, &placeholder); err != nil {
			return nil, fmt.Errorf("store: scanning run row: %w", err)
		}
		r.PlaceholderTests = placeholder != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
