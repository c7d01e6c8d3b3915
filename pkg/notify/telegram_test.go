package notify

import (
	"strings"
	"testing"
)

func TestFormatAlertIncludesCIsAndIssueLink(t *testing.T) {
	text := formatAlert(RegressionAlert{
		Benchmark:   "vault-bench",
		Metric:      "recall",
		BaselineCI:  [2]float64{0.70, 0.80},
		CandidateCI: [2]float64{0.40, 0.50},
		IssueURL:    "https://github.com/example/audit/issues/42",
	})
	if !strings.Contains(text, "vault-bench") || !strings.Contains(text, "recall") {
		t.Fatalf("expected alert text to name benchmark and metric, got %q", text)
	}
	if !strings.Contains(text, "https://github.com/example/audit/issues/42") {
		t.Fatalf("expected alert text to include issue URL, got %q", text)
	}
}

func TestFormatAlertOmitsIssueLinkWhenAbsent(t *testing.T) {
	text := formatAlert(RegressionAlert{Benchmark: "vault-bench", Metric: "recall"})
	if strings.Contains(text, "http") {
		t.Fatalf("expected no URL in alert text when IssueURL is empty, got %q", text)
	}
}
