package pipelineworkflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"auditpipeline/internal/config"
	"auditpipeline/pkg/coverage"
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

func TestRunDetectPipelineActivityProducesFindings(t *testing.T) {
	repo := writeTestRepo(t)
	cfg := config.Default()
	cfg.MaxPasses = 1

	activities := &Activities{
		Backend: supervisor.MapBackend{
			supervisor.ToolSecondaryModel: {
				Path:     "/bin/sh",
				BaseArgs: []string{"-c", "echo '" + fakeSecondaryFindingsJSON + "'"},
			},
		},
		Extractor: coverage.RegexExtractor{},
	}

	summary, err := activities.RunDetectPipeline(context.Background(), Request{
		RepoPath: repo,
		RunID:    "activity-test-run",
		BaseDir:  t.TempDir(),
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalFindings == 0 {
		t.Fatalf("expected at least one finding from the fake secondary detector")
	}
}

func TestRunDetectPipelineActivityRejectsEmptyRequest(t *testing.T) {
	activities := &Activities{Backend: supervisor.MapBackend{}, Extractor: coverage.RegexExtractor{}}
	if _, err := activities.RunDetectPipeline(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error for a request with no repo path or run id")
	}
}
