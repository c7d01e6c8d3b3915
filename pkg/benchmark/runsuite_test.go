package benchmark

import (
	"context"
	"testing"

	"auditpipeline/internal/config"
)

func TestCompareAgainstBaselineSkipsSinksWhenNotSignificant(t *testing.T) {
	s := &Suite{}
	cfg := config.Default()
	cfg.Benchmark.GitHubReport = true
	cfg.Benchmark.TelegramAlert = true

	baseline := []float64{0.8, 0.81, 0.79}
	candidate := []float64{0.8, 0.8, 0.8}

	cmp, err := s.CompareAgainstBaseline(context.Background(), "reentrancy-suite", ModeDetect, baseline, candidate, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmp.Significant && cmp.Direction == "significant regression" {
		t.Fatalf("expected near-identical samples not to report a regression")
	}
}

func TestCompareAgainstBaselineRegressionWithNoSinksConfiguredDoesNotError(t *testing.T) {
	s := &Suite{}
	cfg := config.Default()

	baseline := []float64{0.95, 0.96, 0.94, 0.95, 0.97}
	candidate := []float64{0.10, 0.12, 0.09, 0.11, 0.08}

	cmp, err := s.CompareAgainstBaseline(context.Background(), "reentrancy-suite", ModeDetect, baseline, candidate, cfg)
	if err != nil {
		t.Fatalf("unexpected error with unconfigured sinks: %v", err)
	}
	if !cmp.Significant || cmp.Direction != "significant regression" {
		t.Fatalf("expected a significant regression to be detected, got %+v", cmp)
	}
}
