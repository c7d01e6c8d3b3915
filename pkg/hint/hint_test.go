package hint

import (
	"testing"

	"auditpipeline/pkg/finding"
)

func TestClassifyMechanismOracleBeforeFlashLoan(t *testing.T) {
	f := finding.Finding{
		Title:       "Flashloan-based price manipulation",
		Description: "attacker borrows via flash loan then manipulates the oracle spot price",
	}
	got := ClassifyMechanism(f)
	if got != finding.MechanismOracleManipulation {
		t.Fatalf("expected oracle-manipulation to win precedence over flash-loan, got %s", got)
	}
}

func TestClassifyMechanismReentrancyFirst(t *testing.T) {
	f := finding.Finding{Description: "reentrancy allows unauthorized access control bypass via callback"}
	got := ClassifyMechanism(f)
	if got != finding.MechanismReentrancy {
		t.Fatalf("expected reentrancy to win precedence, got %s", got)
	}
}

func TestClassifyMechanismDefaultsToOther(t *testing.T) {
	f := finding.Finding{Description: "nothing matches any keyword here"}
	if got := ClassifyMechanism(f); got != finding.MechanismOther {
		t.Fatalf("expected other, got %s", got)
	}
}

func TestGenerateFiltersLowSeverity(t *testing.T) {
	findings := []finding.Finding{
		{Severity: finding.SeverityHigh, File: "a.sol", Line: 1},
		{Severity: finding.SeverityLow, File: "b.sol", Line: 2},
		{Severity: finding.SeverityInfo, File: "c.sol", Line: 3},
	}
	hints := Generate(findings, LevelLow, "HINT")
	if len(hints) != 1 {
		t.Fatalf("expected only the HIGH finding to produce a hint, got %d", len(hints))
	}
}

func TestGenerateLevelsAreStrictlyLayered(t *testing.T) {
	findings := []finding.Finding{
		{Severity: finding.SeverityHigh, File: "a.sol", Line: 1, Title: "Reentrancy in withdraw", Description: "reentranc attack", ExploitScenario: "call withdraw twice"},
	}

	low := Generate(findings, LevelLow, "H")[0]
	if low.Mechanism != "" || low.Title != "" {
		t.Fatalf("expected low level to omit mechanism and title, got %+v", low)
	}

	medium := Generate(findings, LevelMedium, "H")[0]
	if medium.Mechanism == "" {
		t.Fatalf("expected medium level to include mechanism")
	}
	if medium.Title != "" {
		t.Fatalf("expected medium level to omit title, got %q", medium.Title)
	}

	high := Generate(findings, LevelHigh, "H")[0]
	if high.Title == "" || high.Description == "" || high.ExploitScenario == "" {
		t.Fatalf("expected high level to include title/description/exploitScenario, got %+v", high)
	}
}
