package report

import (
	"strings"
	"testing"
)

func TestNewGitHubAppRejectsEmptyKey(t *testing.T) {
	if _, err := NewGitHubApp(1, 2, "   "); err == nil {
		t.Fatalf("expected error for blank private key")
	}
}

func TestNewGitHubAppTrimsKey(t *testing.T) {
	app, err := NewGitHubApp(1, 2, "  -----BEGIN KEY-----  \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(app.PrivateKeyPEM) != "-----BEGIN KEY-----" {
		t.Fatalf("expected trimmed key, got %q", app.PrivateKeyPEM)
	}
}

func TestFormatRegressionBodyIncludesBothIntervals(t *testing.T) {
	reg := Regression{
		Benchmark:   "reentrancy-suite",
		Metric:      "recall",
		BaselineCI:  [2]float64{0.80, 0.90},
		CandidateCI: [2]float64{0.55, 0.65},
	}
	body := formatRegressionBody(reg)
	if !strings.Contains(body, "reentrancy-suite") || !strings.Contains(body, "recall") {
		t.Fatalf("expected body to name benchmark and metric, got %q", body)
	}
	if !strings.Contains(body, "0.8000") || !strings.Contains(body, "0.5500") {
		t.Fatalf("expected body to include both confidence intervals, got %q", body)
	}
}
