package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxPasses != 2 {
		t.Fatalf("expected default maxPasses=2, got %d", cfg.MaxPasses)
	}
	if cfg.CoverageThreshold != 90 {
		t.Fatalf("expected default coverageThreshold=90, got %f", cfg.CoverageThreshold)
	}
	if cfg.SecondaryTimeout.Seconds() != 900 {
		t.Fatalf("expected default secondaryTimeout=900s, got %v", cfg.SecondaryTimeout)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPasses != 2 {
		t.Fatalf("expected defaults when file missing, got %+v", cfg)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("maxPasses: 4\ncoverageThreshold: 75\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPasses != 4 {
		t.Fatalf("expected maxPasses=4 from file, got %d", cfg.MaxPasses)
	}
	if cfg.CoverageThreshold != 75 {
		t.Fatalf("expected coverageThreshold=75 from file, got %f", cfg.CoverageThreshold)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("maxPasses: 4\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	t.Setenv("AUDIT_MAX_PASSES", "7")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPasses != 7 {
		t.Fatalf("expected env override to win, got %d", cfg.MaxPasses)
	}
}
