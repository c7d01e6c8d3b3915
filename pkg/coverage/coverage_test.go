package coverage

import (
	"testing"

	"auditpipeline/pkg/finding"
)

func TestRegexExtractorModulesAndEntrypoints(t *testing.T) {
	src := []byte(`pragma solidity ^0.8.0;

contract Vault {
    function withdraw(uint256 amount) external {
    }

    function _internalHelper() private {
    }

    function balanceOf(address who) public view returns (uint256) {
    }
}
`)
	var ext RegexExtractor
	modules := ext.ExtractModules("src/Vault.sol", src)
	if len(modules) != 1 || modules[0].Name != "Vault" || modules[0].Type != "contract" {
		t.Fatalf("expected single Vault contract module, got %+v", modules)
	}

	entrypoints := ext.ExtractEntrypoints("src/Vault.sol", src)
	if len(entrypoints) != 2 {
		t.Fatalf("expected 2 external/public entrypoints (internal omitted), got %d: %+v", len(entrypoints), entrypoints)
	}
	if entrypoints[0].Key() != "Vault.withdraw" {
		t.Fatalf("expected Vault.withdraw first, got %s", entrypoints[0].Key())
	}
}

func TestCheckZeroTotalIsFullCoverage(t *testing.T) {
	report := Check(nil, nil, nil, 80)
	if report.Percentage != 100 {
		t.Fatalf("expected 100%% coverage when total is 0, got %f", report.Percentage)
	}
	if report.PassRequired {
		t.Fatalf("expected passRequired=false when coverage is full")
	}
}

func TestCheckThresholdGating(t *testing.T) {
	entrypoints := []Entrypoint{
		{Contract: "Vault", Function: "withdraw", File: "src/Vault.sol", Line: 4},
		{Contract: "Vault", Function: "deposit", File: "src/Vault.sol", Line: 8},
	}
	findings := []finding.Finding{
		{File: "src/Vault.sol", Affected: "Vault::withdraw"},
	}

	report := Check(entrypoints, nil, findings, 80)
	if report.Percentage != 50 {
		t.Fatalf("expected 50%% coverage, got %f", report.Percentage)
	}
	if !report.PassRequired {
		t.Fatalf("expected passRequired=true below threshold")
	}

	hints := report.ToHints()
	if len(hints.UncoveredEntrypoints) != 1 || hints.UncoveredEntrypoints[0] != "Vault.deposit" {
		t.Fatalf("expected Vault.deposit uncovered, got %v", hints.UncoveredEntrypoints)
	}
}
