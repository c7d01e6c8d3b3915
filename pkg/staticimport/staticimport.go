// Package staticimport parses third-party static-analyzer output (Slither,
// Semgrep) into finding.Finding values, and extracts the two other
// Phase-0 pre-seed artifacts: narrative invariants and the shallow public-
// API surface of the target repository.
package staticimport

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"auditpipeline/pkg/finding"
)

// slitherReport mirrors the subset of Slither's JSON output this importer
// consumes.
type slitherReport struct {
	Results struct {
		Detectors []struct {
			Check       string `json:"check"`
			Impact      string `json:"impact"`
			Confidence  string `json:"confidence"`
			Description string `json:"description"`
			Elements    []struct {
				SourceMapping struct {
					FilenameRelative string `json:"filename_relative"`
					Lines            []int  `json:"lines"`
				} `json:"source_mapping"`
			} `json:"elements"`
		} `json:"detectors"`
	} `json:"results"`
}

// slitherSeverity maps impact x confidence onto the pipeline's severity
// set per the documented table: CRITICAL (H/H), HIGH (H/M, M/H), MEDIUM
// (H/L, M/M), LOW (M/L, L/*), INFO (Informational/*).
func slitherSeverity(impact, confidence string) finding.Severity {
	impact = strings.ToLower(strings.TrimSpace(impact))
	confidence = strings.ToLower(strings.TrimSpace(confidence))

	if impact == "informational" {
		return finding.SeverityInfo
	}
	switch impact {
	case "high":
		switch confidence {
		case "high":
			return finding.SeverityCritical
		case "medium":
			return finding.SeverityHigh
		default:
			return finding.SeverityMedium
		}
	case "medium":
		switch confidence {
		case "high":
			return finding.SeverityHigh
		case "medium":
			return finding.SeverityMedium
		default:
			return finding.SeverityLow
		}
	case "low":
		return finding.SeverityLow
	default:
		return finding.SeverityInfo
	}
}

// ParseSlither converts Slither JSON into findings, one per detector
// element (a single detector finding spanning multiple elements produces
// one finding per element, matching the per-location nature of merge's
// location keying).
func ParseSlither(data []byte) ([]finding.Finding, error) {
	var report slitherReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("staticimport: parsing slither report: %w", err)
	}
	var out []finding.Finding
	for i, d := range report.Results.Detectors {
		sev := slitherSeverity(d.Impact, d.Confidence)
		if len(d.Elements) == 0 {
			out = append(out, finding.Finding{
				ID:          fmt.Sprintf("SLITHER-%d", i+1),
				Severity:    sev,
				Title:       d.Check,
				Description: d.Description,
				Source:      finding.SourceStaticAnalysis,
			})
			continue
		}
		for j, el := range d.Elements {
			line := 0
			if len(el.SourceMapping.Lines) > 0 {
				line = el.SourceMapping.Lines[0]
			}
			out = append(out, finding.Finding{
				ID:          fmt.Sprintf("SLITHER-%d-%d", i+1, j+1),
				Severity:    sev,
				Title:       d.Check,
				File:        el.SourceMapping.FilenameRelative,
				Line:        line,
				Description: d.Description,
				Source:      finding.SourceStaticAnalysis,
			})
		}
	}
	return out, nil
}

// semgrepReport mirrors the subset of Semgrep's JSON output this importer
// consumes.
type semgrepReport struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		Extra struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"extra"`
	} `json:"results"`
}

// ParseSemgrep converts Semgrep JSON into findings, remapping its
// ERROR/WARNING/INFO severities onto the closed severity vocabulary and
// passing any other value through finding.NormalizeSeverity.
func ParseSemgrep(data []byte) ([]finding.Finding, error) {
	var report semgrepReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("staticimport: parsing semgrep report: %w", err)
	}
	out := make([]finding.Finding, 0, len(report.Results))
	for i, r := range report.Results {
		out = append(out, finding.Finding{
			ID:          fmt.Sprintf("SEMGREP-%d", i+1),
			Severity:    semgrepSeverity(r.Extra.Severity),
			Title:       r.CheckID,
			File:        r.Path,
			Line:        r.Start.Line,
			Description: r.Extra.Message,
			Source:      finding.SourceStaticAnalysis,
		})
	}
	return out, nil
}

func semgrepSeverity(raw string) finding.Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ERROR":
		return finding.SeverityHigh
	case "WARNING":
		return finding.SeverityMedium
	case "INFO":
		return finding.SeverityInfo
	default:
		return finding.NormalizeSeverity(raw)
	}
}

// Invariant is one numbered invariant extracted from a narrative threat-
// model document.
type Invariant struct {
	Category   string `json:"category"`
	Number     int    `json:"number"`
	Expression string `json:"expression"`
}

var invariantPrefixes = map[string]string{
	"IC": "integrity-of-control",
	"IS": "integrity-of-state",
	"IA": "integrity-of-accounting",
	"IT": "integrity-of-transfer",
	"IB": "integrity-of-balance",
}

var invariantRe = regexp.MustCompile(`\b(IC|IS|IA|IT|IB)-(\d+):\s*(.+)`)

// ExtractInvariants scans narrative text (prose and fenced code blocks
// alike — the extractor does not distinguish them) for `{prefix}-{n}:
// {expression}` occurrences across the five recognized category
// prefixes, normalized with the category name. The output contains only
// the numbered expressions, never the surrounding prose.
func ExtractInvariants(text string) []Invariant {
	var out []Invariant
	for _, line := range strings.Split(text, "\n") {
		m := invariantRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num := 0
		fmt.Sscanf(m[2], "%d", &num)
		out = append(out, Invariant{
			Category:   invariantPrefixes[m[1]],
			Number:     num,
			Expression: strings.TrimSpace(m[3]),
		})
	}
	return out
}

// Signature is one public-API surface member: a function, event, error,
// struct, or enum declaration.
type Signature struct {
	Contract string `json:"contract"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

var (
	contractDeclRe = regexp.MustCompile(`^\s*(abstract\s+contract|contract|interface|library)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	publicFnRe     = regexp.MustCompile(`^\s*function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^)]*\)[^{;]*\b(external|public)\b`)
	eventRe        = regexp.MustCompile(`^\s*event\s+([A-Za-z_][A-Za-z0-9_]*)`)
	errorRe        = regexp.MustCompile(`^\s*error\s+([A-Za-z_][A-Za-z0-9_]*)`)
	structRe       = regexp.MustCompile(`^\s*struct\s+([A-Za-z_][A-Za-z0-9_]*)`)
	enumRe         = regexp.MustCompile(`^\s*enum\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExtractPublicAPI scans one Solidity file's source for
// contract/interface/library/abstract-contract declarations and, within
// each, external/public function signatures plus event, error, struct,
// and enum declarations. Internal and private functions are omitted; the
// extractor is shallow and regex-based, not a parser.
func ExtractPublicAPI(path string, src []byte) []Signature {
	var out []Signature
	currentContract := ""
	for lineNo, line := range strings.Split(string(src), "\n") {
		lineNo++
		if m := contractDeclRe.FindStringSubmatch(line); m != nil {
			currentContract = m[2]
			continue
		}
		if currentContract == "" {
			continue
		}
		if m := publicFnRe.FindStringSubmatch(line); m != nil {
			out = append(out, Signature{Contract: currentContract, Kind: "function", Name: m[1], File: path, Line: lineNo})
		} else if m := eventRe.FindStringSubmatch(line); m != nil {
			out = append(out, Signature{Contract: currentContract, Kind: "event", Name: m[1], File: path, Line: lineNo})
		} else if m := errorRe.FindStringSubmatch(line); m != nil {
			out = append(out, Signature{Contract: currentContract, Kind: "error", Name: m[1], File: path, Line: lineNo})
		} else if m := structRe.FindStringSubmatch(line); m != nil {
			out = append(out, Signature{Contract: currentContract, Kind: "struct", Name: m[1], File: path, Line: lineNo})
		} else if m := enumRe.FindStringSubmatch(line); m != nil {
			out = append(out, Signature{Contract: currentContract, Kind: "enum", Name: m[1], File: path, Line: lineNo})
		}
	}
	return out
}
