// Package coverage tracks which public entrypoints and modules of the
// target repository have been referenced by at least one finding, and
// gates whether another detection pass is needed.
package coverage

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"auditpipeline/pkg/finding"
)

// Entrypoint is one external/public function of a contract or library,
// identified by the shallow regex extractor.
type Entrypoint struct {
	Contract string `json:"contract"`
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Key returns the "Contract.Function" identifier used for coverage
// matching.
func (e Entrypoint) Key() string {
	return e.Contract + "." + e.Function
}

// Module is a top-level Solidity declaration: a contract, interface,
// library, or abstract contract.
type Module struct {
	Name string `json:"name"`
	Type string `json:"type"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// SymbolExtractor extracts entrypoints and modules from Solidity source.
// The shallow regex extractor below is the default implementation; tests
// substitute fakes to pin extraction without parsing real Solidity.
type SymbolExtractor interface {
	ExtractEntrypoints(path string, src []byte) []Entrypoint
	ExtractModules(path string, src []byte) []Module
}

var (
	declRe = regexp.MustCompile(`^\s*(abstract\s+contract|contract|interface|library)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	fnRe   = regexp.MustCompile(`^\s*function\s+([A-Za-z_][A-Za-z0-9_]*)\s*\([^)]*\)[^{;]*\b(external|public)\b`)
)

// RegexExtractor is the shallow, lossy, deterministic default
// SymbolExtractor: it scans source line by line for declaration and
// function headers without parsing the Solidity grammar.
type RegexExtractor struct{}

// ExtractModules returns one Module per top-level contract/interface/
// library/abstract-contract declaration found by line scan.
func (RegexExtractor) ExtractModules(path string, src []byte) []Module {
	var out []Module
	scanner := bufio.NewScanner(strings.NewReader(string(src)))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		m := declRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		out = append(out, Module{
			Name: m[2],
			Type: normalizeDeclType(m[1]),
			File: path,
			Line: line,
		})
	}
	return out
}

// ExtractEntrypoints returns one Entrypoint per external/public function
// header, associated with the nearest preceding module declaration on the
// same file (internal/private functions are omitted).
func (RegexExtractor) ExtractEntrypoints(path string, src []byte) []Entrypoint {
	var out []Entrypoint
	scanner := bufio.NewScanner(strings.NewReader(string(src)))
	line := 0
	currentContract := ""
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if m := declRe.FindStringSubmatch(text); m != nil {
			currentContract = m[2]
			continue
		}
		if m := fnRe.FindStringSubmatch(text); m != nil && currentContract != "" {
			out = append(out, Entrypoint{
				Contract: currentContract,
				Function: m[1],
				File:     path,
				Line:     line,
			})
		}
	}
	return out
}

func normalizeDeclType(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if strings.HasPrefix(raw, "abstract") {
		return "abstract-contract"
	}
	return raw
}

// ExtractFile reads a Solidity file from disk and extracts its
// entrypoints and modules with extractor.
func ExtractFile(extractor SymbolExtractor, path string) (entrypoints []Entrypoint, modules []Module, err error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return extractor.ExtractEntrypoints(path, src), extractor.ExtractModules(path, src), nil
}

// Report is the outcome of checking a set of findings against extracted
// entrypoints/modules.
type Report struct {
	TotalEntrypoints     int
	CoveredEntrypoints   []Entrypoint
	UncoveredEntrypoints []Entrypoint
	TotalModules         int
	CoveredModules       []Module
	UncoveredModules     []Module
	Percentage           float64
	PassRequired         bool
}

// Check reports coverage of entrypoints and modules by the given
// findings. A finding covers a module if its normalized file matches the
// module's file. It covers an entrypoint if the normalized file matches
// and either its Affected field contains the entrypoint in
// "Contract::Function" or "Contract.Function" form (case-insensitive),
// or, lacking an Affected value, its title or description contains the
// function name (case-insensitive). Threshold is a percentage in [0,100]; pass is
// required when the combined coverage percentage is below it.
func Check(entrypoints []Entrypoint, modules []Module, findings []finding.Finding, threshold float64) Report {
	coveredEP := map[string]bool{}
	coveredMod := map[string]bool{}

	for _, f := range findings {
		normFile := finding.NormalizeFile(f.File)
		affected := strings.ToLower(strings.ReplaceAll(f.Affected, "::", "."))
		for _, ep := range entrypoints {
			if finding.NormalizeFile(ep.File) != normFile {
				continue
			}
			if affected != "" && strings.Contains(affected, strings.ToLower(ep.Key())) {
				coveredEP[ep.Key()] = true
				continue
			}
			if affected == "" && strings.Contains(strings.ToLower(f.Description+f.Title), strings.ToLower(ep.Function)) {
				coveredEP[ep.Key()] = true
			}
		}
		for _, mod := range modules {
			if finding.NormalizeFile(mod.File) != normFile {
				continue
			}
			coveredMod[mod.Name] = true
		}
	}

	var coveredEntrypoints, uncoveredEntrypoints []Entrypoint
	for _, ep := range entrypoints {
		if coveredEP[ep.Key()] {
			coveredEntrypoints = append(coveredEntrypoints, ep)
		} else {
			uncoveredEntrypoints = append(uncoveredEntrypoints, ep)
		}
	}
	var coveredModules, uncoveredModules []Module
	for _, mod := range modules {
		if coveredMod[mod.Name] {
			coveredModules = append(coveredModules, mod)
		} else {
			uncoveredModules = append(uncoveredModules, mod)
		}
	}

	total := len(entrypoints) + len(modules)
	covered := len(coveredEntrypoints) + len(coveredModules)
	percentage := 100.0
	if total > 0 {
		percentage = float64(covered) / float64(total) * 100.0
	}

	return Report{
		TotalEntrypoints:     len(entrypoints),
		CoveredEntrypoints:   coveredEntrypoints,
		UncoveredEntrypoints: uncoveredEntrypoints,
		TotalModules:         len(modules),
		CoveredModules:       coveredModules,
		UncoveredModules:     uncoveredModules,
		Percentage:           percentage,
		PassRequired:         percentage < threshold,
	}
}

// Hints is the coverage-hints artifact shape consumed by the hinted
// re-detect phase.
type Hints struct {
	UncoveredModules     []string `json:"uncovered_modules"`
	UncoveredEntrypoints []string `json:"uncovered_entrypoints"`
}

// ToHints reduces a Report to the serializable hints artifact.
func (r Report) ToHints() Hints {
	h := Hints{
		UncoveredModules:     make([]string, 0, len(r.UncoveredModules)),
		UncoveredEntrypoints: make([]string, 0, len(r.UncoveredEntrypoints)),
	}
	for _, m := range r.UncoveredModules {
		h.UncoveredModules = append(h.UncoveredModules, m.Name)
	}
	for _, e := range r.UncoveredEntrypoints {
		h.UncoveredEntrypoints = append(h.UncoveredEntrypoints, e.Key())
	}
	return h
}
