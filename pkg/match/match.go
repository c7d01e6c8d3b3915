// Package match scores a set of detected findings against a curated
// ground-truth list, per the benchmark's three-tier matching algorithm:
// exact (file ±5 lines + mechanism keyword), broad (file + compatible
// mechanism), and an optional semantic tier delegated to a judge.
package match

import (
	"regexp"
	"strings"

	"auditpipeline/pkg/finding"
)

// GroundTruthFinding extends finding.Finding with benchmark-only fields.
type GroundTruthFinding struct {
	finding.Finding
	ExploitScript  string `json:"exploitScript,omitempty"`
	UnseenTestFile string `json:"unseenTestFile,omitempty"`
}

// Judge resolves the semantic tier: given a ground-truth finding and a
// report view of the detected findings (with already-consumed indices
// marked unavailable), it decides whether one of the available detected
// findings describes the same vulnerability.
type Judge interface {
	MatchGroundTruth(gt GroundTruthFinding, detected []DetectedView) (SemanticVerdict, error)
}

// DetectedView is what a Judge sees for each detected finding: the finding
// itself plus whether it has already been consumed by an earlier tier.
type DetectedView struct {
	Index     int
	Finding   finding.Finding
	Available bool
}

// SemanticVerdict is the Judge's decision for the semantic tier.
type SemanticVerdict struct {
	Match        bool
	MatchedIndex int
	Reasoning    string
}

// Tier records which tier matched a ground-truth finding, if any.
type Tier string

const (
	TierExact    Tier = "exact"
	TierBroad    Tier = "broad"
	TierSemantic Tier = "semantic"
	TierNone     Tier = "none"
)

// Match pairs a ground-truth finding with the detected finding that
// satisfied it, or records that none did.
type Match struct {
	GroundTruth    GroundTruthFinding
	DetectedIndex  int
	Tier           Tier
}

// Result is the scoring outcome of matching a detected collection against
// ground truth.
type Result struct {
	Matches         []Match
	TruePositives   int
	FalsePositives  int
	FalseNegatives  int
	Precision       float64
	Recall          float64
	F1              float64
}

// mechanismKeywords lists a few representative tokens per mechanism for the
// exact-tier keyword check. It is an unordered keyword set separate from
// package hint's precedence-ordered classifier table, since the two serve
// different decisions (classification vs. confirming a claimed mechanism).
var mechanismKeywords = map[finding.Mechanism][]string{
	finding.MechanismReentrancy:         {"reentranc", "reenter", "callback"},
	finding.MechanismAccessControl:      {"access control", "unauthorized", "onlyowner", "permission"},
	finding.MechanismArithmetic:         {"overflow", "underflow", "arithmetic", "rounding"},
	finding.MechanismOracleManipulation: {"oracle", "price manipulation", "twap"},
	finding.MechanismFlashLoan:          {"flash loan", "flashloan"},
	finding.MechanismFrontRunning:       {"front-run", "front run", "sandwich", "mev"},
	finding.MechanismDosGriefing:        {"denial of service", "griefing", "dos"},
	finding.MechanismStateCorruption:    {"state corruption", "inconsistent state"},
	finding.MechanismUpgradeSafety:      {"upgrade", "storage collision", "proxy"},
	finding.MechanismTokenHandling:      {"erc20", "erc721", "transfer fee", "token"},
	finding.MechanismCrossContract:      {"cross-contract", "external call", "composability"},
	finding.MechanismEconomic:          {"economic", "incentive", "arbitrage"},
	finding.MechanismLogicError:        {"logic error", "off-by-one", "incorrect condition"},
	finding.MechanismInitialization:    {"initializ", "constructor"},
}

// keywordMatches reports whether text contains a keyword associated with
// mechanism, or true unconditionally when mechanism has no registered
// keyword set (so unknown/other mechanisms don't block the exact tier).
func keywordMatches(mechanism finding.Mechanism, text string) bool {
	keywords, ok := mechanismKeywords[mechanism]
	if !ok {
		return true
	}
	text = strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// MatchAll scores detected against groundTruth with strict one-to-one
// enforcement: once a detected finding is consumed by any tier, no later
// ground-truth finding may match it. judge may be nil to skip the
// semantic tier.
func MatchAll(groundTruth []GroundTruthFinding, detected []finding.Finding, judge Judge) Result {
	consumed := make([]bool, len(detected))
	var matches []Match
	var unmatchedGT []GroundTruthFinding

	// Tier 1: exact — same normalized file, within ±5 lines, keyword
	// match on the claimed mechanism, only considered when the
	// ground-truth line is positive.
	remaining := make([]GroundTruthFinding, 0, len(groundTruth))
	for _, gt := range groundTruth {
		if gt.Line <= 0 {
			remaining = append(remaining, gt)
			continue
		}
		idx := findExact(gt, detected, consumed)
		if idx >= 0 {
			consumed[idx] = true
			matches = append(matches, Match{GroundTruth: gt, DetectedIndex: idx, Tier: TierExact})
			continue
		}
		remaining = append(remaining, gt)
	}

	// Tier 2: broad — same file, compatible mechanism, any line.
	stillRemaining := make([]GroundTruthFinding, 0, len(remaining))
	for _, gt := range remaining {
		idx := findBroad(gt, detected, consumed)
		if idx >= 0 {
			consumed[idx] = true
			matches = append(matches, Match{GroundTruth: gt, DetectedIndex: idx, Tier: TierBroad})
			continue
		}
		stillRemaining = append(stillRemaining, gt)
	}

	// Tier 3: semantic, delegated to judge.
	for _, gt := range stillRemaining {
		if judge == nil {
			unmatchedGT = append(unmatchedGT, gt)
			continue
		}
		views := make([]DetectedView, len(detected))
		for i, d := range detected {
			views[i] = DetectedView{Index: i, Finding: d, Available: !consumed[i]}
		}
		verdict, err := judge.MatchGroundTruth(gt, views)
		if err != nil || !verdict.Match {
			unmatchedGT = append(unmatchedGT, gt)
			continue
		}
		if verdict.MatchedIndex < 0 || verdict.MatchedIndex >= len(detected) || consumed[verdict.MatchedIndex] {
			unmatchedGT = append(unmatchedGT, gt)
			continue
		}
		consumed[verdict.MatchedIndex] = true
		matches = append(matches, Match{GroundTruth: gt, DetectedIndex: verdict.MatchedIndex, Tier: TierSemantic})
	}

	tp := len(matches)
	fp := len(detected) - tp
	if fp < 0 {
		fp = 0
	}
	fn := len(groundTruth) - tp

	var precision, recall, f1 float64
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	return Result{
		Matches:        matches,
		TruePositives:  tp,
		FalsePositives: fp,
		FalseNegatives: fn,
		Precision:      precision,
		Recall:         recall,
		F1:             f1,
	}
}

func findExact(gt GroundTruthFinding, detected []finding.Finding, consumed []bool) int {
	gtFile := finding.NormalizeFile(gt.File)
	for i, d := range detected {
		if consumed[i] {
			continue
		}
		if finding.NormalizeFile(d.File) != gtFile {
			continue
		}
		if abs(d.Line-gt.Line) > 5 {
			continue
		}
		text := d.Title + " " + d.Description
		if keywordMatches(gt.Mechanism, text) {
			return i
		}
	}
	return -1
}

func findBroad(gt GroundTruthFinding, detected []finding.Finding, consumed []bool) int {
	gtFile := finding.NormalizeFile(gt.File)
	for i, d := range detected {
		if consumed[i] {
			continue
		}
		if finding.NormalizeFile(d.File) != gtFile {
			continue
		}
		if finding.MechanismCompatible(gt.Mechanism, d.Mechanism) {
			return i
		}
	}
	return -1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// placeholderRevertRe matches the stub body a ground-truth unseen test is
// seeded with before a real assertion is written in: a revert() call
// carrying a "PLACEHOLDER" marker string. A match anywhere in the source
// counts; the rest of the file is not inspected.
var placeholderRevertRe = regexp.MustCompile(`revert\(\s*"PLACEHOLDER[^"]*"\s*\)`)

// IsPlaceholderTest reports whether an unseen test's source is still the
// seeded placeholder stub rather than a real assertion, so patch-mode
// scoring can tell "nobody wrote this test" apart from "the patch failed
// this test".
func IsPlaceholderTest(content []byte) bool {
	return placeholderRevertRe.Match(content)
}
