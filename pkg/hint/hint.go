// Package hint derives the projection of one party's findings that is safe
// to share with another party at a calibrated information level, and
// implements the deterministic mechanism classifier both the hint
// generator and the coverage hinting flow depend on.
package hint

import (
	"strconv"
	"strings"

	"auditpipeline/pkg/finding"
)

// Level is the calibrated amount of detail a hint may carry.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Hint is a projection of a finding at one of the three strictly layered
// levels. Fields absent at a given level are left zero.
type Hint struct {
	HintID          string            `json:"hintId"`
	File            string            `json:"file"`
	Line            int               `json:"line"`
	Severity        finding.Severity  `json:"severity"`
	Mechanism       finding.Mechanism `json:"mechanism,omitempty"`
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description,omitempty"`
	ExploitScenario string            `json:"exploitScenario,omitempty"`
}

// classifierRules is the precedence-ordered keyword table. Order matters:
// earlier entries are checked first, so a finding matching keywords for
// two mechanisms classifies as whichever comes first in this list. This
// is deliberate and test-locked behavior (see the TestClassifyMechanism
// tests), not
// an artifact of map iteration order — hence a slice, not a map.
var classifierRules = []struct {
	mechanism finding.Mechanism
	keywords  []string
}{
	{finding.MechanismReentrancy, []string{"reentranc", "reenter", "callback before state"}},
	{finding.MechanismAccessControl, []string{"access control", "unauthorized", "onlyowner", "missing modifier", "permission"}},
	{finding.MechanismArithmetic, []string{"overflow", "underflow", "arithmetic", "rounding error", "precision loss"}},
	{finding.MechanismOracleManipulation, []string{"oracle", "price manipulation", "twap", "spot price"}},
	{finding.MechanismFlashLoan, []string{"flash loan", "flashloan"}},
	{finding.MechanismFrontRunning, []string{"front-run", "front run", "sandwich", "mev", "mempool"}},
	{finding.MechanismDosGriefing, []string{"denial of service", "griefing", "dos", "gas limit", "unbounded loop"}},
	{finding.MechanismStateCorruption, []string{"state corruption", "inconsistent state", "invariant violat"}},
	{finding.MechanismUpgradeSafety, []string{"upgrade", "storage collision", "proxy", "delegatecall"}},
	{finding.MechanismTokenHandling, []string{"erc20", "erc721", "fee-on-transfer", "token approval", "transfer hook"}},
	{finding.MechanismCrossContract, []string{"cross-contract", "external call", "composability", "reentrant call"}},
	{finding.MechanismEconomic, []string{"economic", "incentive", "arbitrage", "game-theoretic"}},
	{finding.MechanismLogicError, []string{"logic error", "off-by-one", "incorrect condition", "wrong operator"}},
	{finding.MechanismInitialization, []string{"initializ", "constructor", "uninitialized"}},
}

// ClassifyMechanism applies the precedence-ordered keyword rules to the
// concatenation of a finding's title, description, rootCause, and any
// extra type/category text supplied by the caller. It returns
// finding.MechanismOther when nothing matches. Because the rules are
// checked strictly in the table's order, a phrase like
// "flashloan-based price manipulation" classifies as oracle-manipulation:
// the oracle rule is tested before the flash-loan rule.
func ClassifyMechanism(f finding.Finding, extra ...string) finding.Mechanism {
	var sb strings.Builder
	sb.WriteString(f.Title)
	sb.WriteByte(' ')
	sb.WriteString(f.Description)
	sb.WriteByte(' ')
	sb.WriteString(f.RootCause)
	for _, e := range extra {
		sb.WriteByte(' ')
		sb.WriteString(e)
	}
	text := strings.ToLower(sb.String())

	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.mechanism
			}
		}
	}
	return finding.MechanismOther
}

// Generate projects each HIGH/MEDIUM/CRITICAL finding in findings into a
// Hint at the requested level. Lower-severity findings produce no hint at
// all, per the filtering rule.
func Generate(findings []finding.Finding, level Level, idPrefix string) []Hint {
	hints := make([]Hint, 0, len(findings))
	n := 0
	for _, f := range findings {
		switch f.Severity {
		case finding.SeverityCritical, finding.SeverityHigh, finding.SeverityMedium:
		default:
			continue
		}
		n++
		h := Hint{
			HintID:   hintID(idPrefix, n),
			File:     f.File,
			Line:     f.Line,
			Severity: f.Severity,
		}
		if level == LevelMedium || level == LevelHigh {
			mechanism := f.Mechanism
			if mechanism == "" {
				mechanism = ClassifyMechanism(f)
			}
			h.Mechanism = mechanism
		}
		if level == LevelHigh {
			h.Title = f.Title
			h.Description = f.Description
			h.ExploitScenario = f.ExploitScenario
		}
		hints = append(hints, h)
	}
	return hints
}

func hintID(prefix string, n int) string {
	if prefix == "" {
		prefix = "HINT"
	}
	return prefix + "-" + strconv.Itoa(n)
}
