package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"auditpipeline/internal/config"
	"auditpipeline/internal/runctx"
	"auditpipeline/pkg/supervisor"
)

const fakeSecondaryFindingsJSON = `[{"severity":"HIGH","title":"reentrancy bug","file":"src/Vault.sol","line":10,"mechanism":"reentrancy","source":"secondary"}]`

func writeTestRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, "src"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(repo, "test"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	contract := "pragma solidity ^0.8.0;\n\ncontract Vault {\n    function withdraw(uint256 amount) external {\n    }\n}\n"
	if err := os.WriteFile(filepath.Join(repo, "src", "Vault.sol"), []byte(contract), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo
}

func fakeSupervisor() *supervisor.Supervisor {
	backend := supervisor.MapBackend{
		supervisor.ToolSecondaryModel: {
			Path:     "/bin/sh",
			BaseArgs: []string{"-c", "echo '" + fakeSecondaryFindingsJSON + "'"},
		},
	}
	return supervisor.New(backend)
}

func TestRunEndToEndProducesConsolidatedFindings(t *testing.T) {
	repo := writeTestRepo(t)
	cfg := config.Default()
	cfg.CoverageThreshold = 90
	cfg.MaxPasses = 2
	cfg.SecondaryTimeout = 5 * time.Second

	rc := runctx.New(context.Background(), repo, "test-run", t.TempDir(), cfg)
	sup := fakeSupervisor()

	summary, err := Run(rc, sup, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.PassesPerformed != 1 {
		t.Fatalf("expected exactly one hinted re-detect pass (maxPasses-1), got %d", summary.PassesPerformed)
	}
	if summary.CoverageMet {
		t.Fatalf("expected coverage not met since the fake secondary never references withdraw")
	}
	if len(summary.Findings) != 1 {
		t.Fatalf("expected the repeated identical-location secondary finding to collapse to one consolidated finding, got %d: %+v", len(summary.Findings), summary.Findings)
	}
	if summary.Findings[0].ID != "RT-001" {
		t.Fatalf("expected first consolidated finding to be RT-001, got %s", summary.Findings[0].ID)
	}
	if summary.SingleSourceSecondary == 0 {
		t.Fatalf("expected single-source-secondary findings to be counted")
	}
}

func TestRunFailsWhenNoFindingsAndNothingPreseeded(t *testing.T) {
	repo := writeTestRepo(t)
	cfg := config.Default()
	cfg.SkipSecondary = true

	rc := runctx.New(context.Background(), repo, "test-run-empty", t.TempDir(), cfg)
	sup := supervisor.New(supervisor.MapBackend{})

	_, err := Run(rc, sup, nil)
	if err == nil {
		t.Fatalf("expected error when neither primary nor secondary produce findings")
	}
}
