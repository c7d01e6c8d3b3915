package staticimport

import (
	"testing"

	"auditpipeline/pkg/finding"
)

func TestParseSlitherSeverityMapping(t *testing.T) {
	data := []byte(`{
		"results": {
			"detectors": [
				{"check": "reentrancy-eth", "impact": "High", "confidence": "High", "description": "reentrancy", "elements": [
					{"source_mapping": {"filename_relative": "src/Vault.sol", "lines": [42]}}
				]}
			]
		}
	}`)
	findings, err := ParseSlither(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].Severity != finding.SeverityCritical {
		t.Fatalf("expected High/High to map to CRITICAL, got %s", findings[0].Severity)
	}
	if findings[0].Line != 42 {
		t.Fatalf("expected line 42, got %d", findings[0].Line)
	}
}

func TestParseSemgrepSeverityMapping(t *testing.T) {
	data := []byte(`{"results": [
		{"check_id": "rule-1", "path": "src/Vault.sol", "start": {"line": 10}, "extra": {"severity": "ERROR", "message": "bad thing"}}
	]}`)
	findings, err := ParseSemgrep(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].Severity != finding.SeverityHigh {
		t.Fatalf("expected ERROR to map to HIGH, got %+v", findings)
	}
}

func TestExtractInvariantsOnlyNumberedExpressions(t *testing.T) {
	text := `
# Threat Model

Some narrative prose about attacker classes.

IC-1: total supply never decreases except via burn
IS-2: vault balance equals sum of deposits minus withdrawals

More prose that should not appear in the output.
`
	got := ExtractInvariants(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 invariants, got %d: %+v", len(got), got)
	}
	if got[0].Category != "integrity-of-control" || got[0].Number != 1 {
		t.Fatalf("unexpected first invariant: %+v", got[0])
	}
	if got[1].Category != "integrity-of-state" || got[1].Number != 2 {
		t.Fatalf("unexpected second invariant: %+v", got[1])
	}
}

func TestExtractPublicAPIOmitsInternal(t *testing.T) {
	src := []byte(`contract Vault {
    event Withdrawn(address indexed who, uint256 amount);
    error InsufficientBalance();
    struct Position { uint256 amount; }
    enum State { Open, Closed }

    function withdraw(uint256 amount) external {
    }

    function _helper() internal {
    }
}`)
	sigs := ExtractPublicAPI("src/Vault.sol", src)
	kinds := map[string]int{}
	for _, s := range sigs {
		kinds[s.Kind]++
	}
	if kinds["function"] != 1 {
		t.Fatalf("expected 1 public function (internal omitted), got %d", kinds["function"])
	}
	if kinds["event"] != 1 || kinds["error"] != 1 || kinds["struct"] != 1 || kinds["enum"] != 1 {
		t.Fatalf("expected one of each event/error/struct/enum, got %+v", kinds)
	}
}
