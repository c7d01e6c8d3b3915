// Package consolidate implements cross-stage finding consolidation: folding
// the outputs of the exploit-hunt, attack-plan, deep-exploit, and
// dispute-resolution stages into a single canonical list with sequential
// RT-identifiers. Findings of every severity are kept; no HIGH/MEDIUM
// filtering is applied. Unlike package merge, which reconciles two
// producers within one pass, consolidate runs a two-pass dedup over an
// arbitrary number of upstream sources.
package consolidate

import (
	"fmt"

	"auditpipeline/pkg/finding"
)

// Input pairs a raw finding with the stage name that produced it, so
// provenance survives into ConsolidatedFinding.Sources.
type Input struct {
	Finding finding.Finding
	Stage   string
}

// ConsolidatedFinding is a finding merged across stages and assigned its
// RT-identifier.
type ConsolidatedFinding struct {
	ID                  string           `json:"id"`
	Severity            string           `json:"severity"`
	Title               string           `json:"title"`
	File                string           `json:"file"`
	Line                int              `json:"line"`
	Mechanism           finding.Mechanism `json:"mechanism"`
	Description         string           `json:"description"`
	RegressionRequired  string           `json:"regressionTestRequired,omitempty"`
	OriginalIdentifiers []string         `json:"originalIdentifiers"`
	Sources             []string         `json:"sources"`
	MultiSource         bool             `json:"multiSource"`
}

type bucket struct {
	finding             finding.Finding
	originalIdentifiers []string
	sources             map[string]bool
	sourceOrder         []string
	description         string
	regressionRequired  string
}

// Consolidate runs the two-pass dedup (exact location, then broad
// file+mechanism excluding distinct positive lines) over every input and
// assigns RT-001, RT-002, … in list order.
func Consolidate(inputs []Input) []ConsolidatedFinding {
	var buckets []*bucket
	byLocation := make(map[string]*bucket)

	// Pass 1: exact location key.
	for _, in := range inputs {
		key := finding.LocationKey(in.Finding.File, in.Finding.Line)
		if b, ok := byLocation[key]; ok {
			mergeInto(b, in)
			continue
		}
		b := newBucket(in)
		byLocation[key] = b
		buckets = append(buckets, b)
	}

	// Pass 2: broad file + compatible mechanism, excluding the case where
	// both sides carry distinct positive line numbers (those are distinct
	// bugs even in the same file).
	merged := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		placed := false
		for _, m := range merged {
			if broadMatch(m, b) {
				mergeBucket(m, b)
				placed = true
				break
			}
		}
		if !placed {
			merged = append(merged, b)
		}
	}

	out := make([]ConsolidatedFinding, 0, len(merged))
	for i, b := range merged {
		out = append(out, ConsolidatedFinding{
			ID:                  fmt.Sprintf("RT-%03d", i+1),
			Severity:            finding.SchemaSeverity(b.finding.Severity),
			Title:               b.finding.Title,
			File:                b.finding.File,
			Line:                b.finding.Line,
			Mechanism:           b.finding.Mechanism,
			Description:         b.description,
			RegressionRequired:  b.regressionRequired,
			OriginalIdentifiers: b.originalIdentifiers,
			Sources:             b.sourceOrder,
			MultiSource:         len(b.sourceOrder) > 1,
		})
	}
	return out
}

func newBucket(in Input) *bucket {
	b := &bucket{
		finding:             in.Finding,
		originalIdentifiers: []string{in.Finding.ID},
		sources:             map[string]bool{in.Stage: true},
		sourceOrder:         []string{in.Stage},
		description:         in.Finding.Description,
		regressionRequired:  in.Finding.ExploitScenario,
	}
	return b
}

func mergeInto(b *bucket, in Input) {
	b.finding.Severity = finding.MaxSeverity(b.finding.Severity, in.Finding.Severity)
	b.finding.Mechanism = finding.ResolvedMechanism(b.finding.Mechanism, in.Finding.Mechanism)
	b.originalIdentifiers = append(b.originalIdentifiers, in.Finding.ID)
	if !b.sources[in.Stage] {
		b.sources[in.Stage] = true
		b.sourceOrder = append(b.sourceOrder, in.Stage)
	}
	if b.description == "" {
		b.description = in.Finding.Description
	}
	if b.regressionRequired == "" {
		b.regressionRequired = in.Finding.ExploitScenario
	}
}

// broadMatch reports whether two buckets should be merged under the
// broad-tier rule: same normalized file, compatible mechanism, and not
// both carrying distinct positive line numbers.
func broadMatch(a, b *bucket) bool {
	if finding.BroadKey(a.finding.File) != finding.BroadKey(b.finding.File) {
		return false
	}
	if !finding.MechanismCompatible(a.finding.Mechanism, b.finding.Mechanism) {
		return false
	}
	al, bl := a.finding.Line, b.finding.Line
	if al > 0 && bl > 0 && al != bl {
		return false
	}
	return true
}

func mergeBucket(dst, src *bucket) {
	dst.finding.Severity = finding.MaxSeverity(dst.finding.Severity, src.finding.Severity)
	dst.finding.Mechanism = finding.ResolvedMechanism(dst.finding.Mechanism, src.finding.Mechanism)
	dst.originalIdentifiers = append(dst.originalIdentifiers, src.originalIdentifiers...)
	for _, s := range src.sourceOrder {
		if !dst.sources[s] {
			dst.sources[s] = true
			dst.sourceOrder = append(dst.sourceOrder, s)
		}
	}
	if dst.description == "" {
		dst.description = src.description
	}
	if dst.regressionRequired == "" {
		dst.regressionRequired = src.regressionRequired
	}
	if dst.finding.Line == 0 && src.finding.Line != 0 {
		dst.finding.Line = src.finding.Line
	}
}
