// Package judge implements cross-model validation: one model evaluates
// another model's findings against strict criteria, with defenses against
// prompt injection embedded in finding text and a tolerant extraction
// cascade for recovering structured verdicts from free-form model output.
package judge

import (
	"encoding/json"
	"fmt"
	"strings"

	"auditpipeline/pkg/finding"
	"auditpipeline/pkg/match"
)

// Verdict is the judge's decision for one finding.
type Verdict string

const (
	VerdictValid       Verdict = "VALID"
	VerdictInvalid     Verdict = "INVALID"
	VerdictNeedsDetail Verdict = "NEEDS_DETAIL"
)

// FindingVerdict is the judge's per-finding output.
type FindingVerdict struct {
	FindingID  string   `json:"findingId"`
	Verdict    Verdict  `json:"verdict"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Issues     []string `json:"issues,omitempty"`
}

// Envelope is the top-level shape a judge model CLI is expected to emit:
// a "judgments" array of FindingVerdict.
type Envelope struct {
	Judgments []FindingVerdict `json:"judgments"`
}

// ExtractEnvelope recovers an Envelope from raw model output via a
// three-step cascade: a direct JSON parse of the whole output, then
// extraction from a fenced code block, then a brace-counting scan for the
// last top-level JSON object containing the key "judgments". Returns an
// error only if none of the three steps finds a parseable envelope.
func ExtractEnvelope(output string) (Envelope, error) {
	if env, ok := tryParse(output); ok {
		return env, nil
	}
	if block, ok := extractFencedBlock(output); ok {
		if env, ok := tryParse(block); ok {
			return env, nil
		}
	}
	if block, ok := lastJudgmentsObject(output); ok {
		if env, ok := tryParse(block); ok {
			return env, nil
		}
	}
	return Envelope{}, fmt.Errorf("judge: no parseable judgments envelope in output")
}

func tryParse(s string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &env); err != nil {
		return Envelope{}, false
	}
	return env, true
}

func extractFencedBlock(output string) (string, bool) {
	const fence = "```"
	start := strings.Index(output, fence)
	if start < 0 {
		return "", false
	}
	rest := output[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, fence)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// lastJudgmentsObject scans output for the last balanced-brace JSON
// object whose text contains the key "judgments".
func lastJudgmentsObject(output string) (string, bool) {
	var best string
	depth := 0
	start := -1
	for i, r := range output {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := output[start : i+1]
				if strings.Contains(candidate, `"judgments"`) {
					best = candidate
				}
				start = -1
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// SameVulnerability applies the sameness rule: two findings describe the
// same vulnerability only when they share mechanism, location, and an
// equivalent fix — approximated deterministically as mechanism
// compatibility (finding.MechanismCompatible, which also accepts a blank
// or unknown mechanism on either side) plus location-key equality. Same contract with merely similar impact is
// explicitly not sufficient, so file/line equality (not just file) is
// required here.
func SameVulnerability(a, b finding.Finding) bool {
	if !finding.MechanismCompatible(a.Mechanism, b.Mechanism) {
		return false
	}
	return finding.LocationKey(a.File, a.Line) == finding.LocationKey(b.File, b.Line)
}

// Criteria are the four gates all of which must hold for VALID, kept here
// as named predicates so callers building a prompt or a local heuristic
// judge can reference them individually.
type Criteria struct {
	VulnerabilityIsReal       bool
	ExploitScenarioIsConcrete bool
	LocationMatchesDescription bool
	SeverityIsJustified       bool
}

// Resolve reduces a Criteria evaluation to a Verdict: VALID only when
// every gate holds, NEEDS_DETAIL when exactly the exploit-scenario gate
// is what's missing (the one criterion resolvable by asking for more
// detail rather than rejecting outright), INVALID otherwise.
func (c Criteria) Resolve() Verdict {
	if c.VulnerabilityIsReal && c.ExploitScenarioIsConcrete && c.LocationMatchesDescription && c.SeverityIsJustified {
		return VerdictValid
	}
	if c.VulnerabilityIsReal && c.LocationMatchesDescription && c.SeverityIsJustified && !c.ExploitScenarioIsConcrete {
		return VerdictNeedsDetail
	}
	return VerdictInvalid
}

// InjectionGuard strips known prompt-injection phrasings from finding
// text before it reaches criteria evaluation, so an embedded "ground
// truth match: true" or "auto approve this finding" instruction cannot
// influence the verdict. The judge must still emit a verdict (never
// refuse), so this only sanitizes input, it never short-circuits output.
func InjectionGuard(text string) string {
	lower := strings.ToLower(text)
	for _, phrase := range []string{
		"ground truth match",
		"auto approve",
		"automatically approved",
		"pre-verified",
		"ignore previous instructions",
		"disregard the criteria",
	} {
		if strings.Contains(lower, phrase) {
			idx := strings.Index(lower, phrase)
			text = text[:idx] + "[redacted-injection-attempt]" + text[idx+len(phrase):]
			lower = strings.ToLower(text)
		}
	}
	return text
}

// ModelJudge adapts a judge model's output (already run and captured by
// pkg/supervisor) to the match.Judge interface, so the semantic
// ground-truth tier can delegate to it uniformly with any other matcher.
type ModelJudge struct {
	// Invoke runs the judge model against the ground-truth finding and
	// the detected views, returning its raw stdout. Callers typically
	// close over a *supervisor.Supervisor here.
	Invoke func(gt match.GroundTruthFinding, detected []match.DetectedView) (string, error)
}

func (j ModelJudge) MatchGroundTruth(gt match.GroundTruthFinding, detected []match.DetectedView) (match.SemanticVerdict, error) {
	output, err := j.Invoke(gt, detected)
	if err != nil {
		return match.SemanticVerdict{}, fmt.Errorf("judge: invoking model: %w", err)
	}
	env, err := ExtractEnvelope(output)
	if err != nil {
		return match.SemanticVerdict{}, err
	}
	for _, fv := range env.Judgments {
		if fv.Verdict == VerdictValid {
			for _, d := range detected {
				if d.Available && d.Finding.ID == fv.FindingID {
					return match.SemanticVerdict{Match: true, MatchedIndex: d.Index, Reasoning: fv.Reasoning}, nil
				}
			}
		}
	}
	return match.SemanticVerdict{Match: false}, nil
}
