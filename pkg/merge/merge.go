// Package merge implements the cross-model finding merge described for a
// single pipeline run: combining PRIMARY and SECONDARY detections into one
// collection tagged with confidence, ahead of cross-stage consolidation in
// package consolidate.
package merge

import (
	"fmt"

	"auditpipeline/pkg/finding"
)

// MatchType records how a secondary finding was reconciled against the
// primary collection.
type MatchType string

const (
	MatchExact     MatchType = "exact_location_match"
	MatchBroadFile MatchType = "broad_file_match"
	MatchNone      MatchType = "no_match"
)

// Category is the merge outcome bucket each record is sorted into before
// sequential identifiers are assigned.
type Category string

const (
	CategoryDual            Category = "DUAL_CONFIRMED"
	CategorySingleSecondary Category = "SINGLE_SECONDARY"
	CategorySinglePrimary   Category = "SINGLE_PRIMARY"
)

// Record is one entry of the merged collection: a finding plus the merge
// bookkeeping that produced it.
type Record struct {
	ID            string            `json:"id"`
	Category      Category          `json:"category"`
	MatchType     MatchType         `json:"matchType,omitempty"`
	Finding       finding.Finding   `json:"finding"`
	Severity      finding.Severity  `json:"severity"`
	Sources       []finding.Source  `json:"sources"`
	NeedsScrutiny bool              `json:"needsScrutiny,omitempty"`
}

// Merge combines primary and secondary collections per the cross-model
// merge algorithm: exact location match, then broad file+mechanism match,
// then no-match, with primary leftovers emitted last. Identifiers are
// assigned sequentially within each category: DUAL-n, SINGLE-SECONDARY-n,
// SINGLE-PRIMARY-n.
func Merge(primary, secondary []finding.Finding) []Record {
	byLocation := make(map[string]int, len(primary))
	byBroad := make(map[string][]int, len(primary))
	for i, f := range primary {
		byLocation[finding.LocationKey(f.File, f.Line)] = i
	}
	for i, f := range primary {
		key := finding.BroadKey(f.File)
		byBroad[key] = append(byBroad[key], i)
	}
	consumed := make(map[int]bool, len(primary))

	var dual, singleSecondary []Record

	for _, sf := range secondary {
		locKey := finding.LocationKey(sf.File, sf.Line)
		if pi, ok := byLocation[locKey]; ok && !consumed[pi] {
			pf := primary[pi]
			consumed[pi] = true
			dual = append(dual, Record{
				Category:  CategoryDual,
				MatchType: MatchExact,
				Finding:   pf,
				Severity:  finding.MaxSeverity(pf.Severity, sf.Severity),
				Sources:   []finding.Source{finding.SourcePrimary, finding.SourceSecondary},
			})
			continue
		}

		matched := false
		for _, pi := range byBroad[finding.BroadKey(sf.File)] {
			if consumed[pi] {
				continue
			}
			pf := primary[pi]
			if sf.Line == 0 || pf.Line == 0 || finding.MechanismCompatible(pf.Mechanism, sf.Mechanism) {
				consumed[pi] = true
				dual = append(dual, Record{
					Category:  CategoryDual,
					MatchType: MatchBroadFile,
					Finding:   pf,
					Severity:  finding.MaxSeverity(pf.Severity, sf.Severity),
					Sources:   []finding.Source{finding.SourcePrimary, finding.SourceSecondary},
				})
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		singleSecondary = append(singleSecondary, Record{
			Category:      CategorySingleSecondary,
			MatchType:     MatchNone,
			Finding:       sf,
			Severity:      sf.Severity,
			Sources:       []finding.Source{finding.SourceSecondary},
			NeedsScrutiny: true,
		})
	}

	var singlePrimary []Record
	for i, pf := range primary {
		if consumed[i] {
			continue
		}
		singlePrimary = append(singlePrimary, Record{
			Category: CategorySinglePrimary,
			Finding:  pf,
			Severity: pf.Severity,
			Sources:  []finding.Source{finding.SourcePrimary},
		})
	}

	assignIDs(dual, "DUAL")
	assignIDs(singleSecondary, "SINGLE-SECONDARY")
	assignIDs(singlePrimary, "SINGLE-PRIMARY")

	out := make([]Record, 0, len(dual)+len(singleSecondary)+len(singlePrimary))
	out = append(out, dual...)
	out = append(out, singleSecondary...)
	out = append(out, singlePrimary...)
	return out
}

func assignIDs(records []Record, prefix string) {
	for i := range records {
		records[i].ID = fmt.Sprintf("%s-%d", prefix, i+1)
	}
}
