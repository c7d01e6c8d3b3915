// Package benchmark runs the pipeline across a registry of benchmarks in
// one of four modes, aggregates results across both benchmarks and
// multi-run repetitions, and provides the bootstrap confidence interval
// comparison utility used to judge whether one configuration's recall
// beats another's.
package benchmark

import (
	"fmt"
	"sort"
)

// Mode is one of the four benchmark execution modes.
type Mode string

const (
	ModeDetect   Mode = "detect"
	ModeExploit  Mode = "exploit"
	ModePatch    Mode = "patch"
	ModePipeline Mode = "pipeline"
)

// ScoreCounts is the raw true/false positive/negative tally for one
// benchmark run, independent of mode.
type ScoreCounts struct {
	TruePositives  int
	FalsePositives int
	FalseNegatives int
}

// Rates derives precision/recall/F1 from the counts; all three return 0
// when their denominator is 0.
func (c ScoreCounts) Rates() (precision, recall, f1 float64) {
	if c.TruePositives+c.FalsePositives > 0 {
		precision = float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
	}
	if c.TruePositives+c.FalseNegatives > 0 {
		recall = float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}

// BenchmarkResult is one benchmark's outcome for a single run.
type BenchmarkResult struct {
	Name   string
	Mode   Mode
	Counts ScoreCounts

	// Exploit mode: denominator is the ground-truth count, not the
	// number of tests written, so skipping hard vulnerabilities cannot
	// inflate the score.
	GroundTruthCount int
	ExploitsGraded   int

	// Patch mode: when every unseen test for this benchmark is a
	// placeholder scaffold, the pass rate is nullified.
	PlaceholderTests bool
	UnseenTestsRun   int
	UnseenTestsPassed int
}

// ExploitScore returns graded/groundTruthCount, 0 when groundTruthCount
// is 0.
func (r BenchmarkResult) ExploitScore() float64 {
	if r.GroundTruthCount == 0 {
		return 0
	}
	return float64(r.ExploitsGraded) / float64(r.GroundTruthCount)
}

// PatchPassRate returns nil when PlaceholderTests is true (scores
// nullified) or there were no unseen tests to run; otherwise the pass
// ratio.
func (r BenchmarkResult) PatchPassRate() *float64 {
	if r.PlaceholderTests || r.UnseenTestsRun == 0 {
		return nil
	}
	rate := float64(r.UnseenTestsPassed) / float64(r.UnseenTestsRun)
	return &rate
}

// Aggregate is the pooled outcome across a set of BenchmarkResults:
// detect mode sums counts and recomputes rates from the pooled totals
// (never averages per-benchmark rates); exploit mode sums GT-count
// denominators; patch mode excludes placeholder-test benchmarks from the
// pass-rate numerator and records their count separately.
type Aggregate struct {
	Mode Mode

	PooledCounts         ScoreCounts
	Precision, Recall, F1 float64

	ExploitGroundTruthTotal int
	ExploitGradedTotal      int
	ExploitAggregateScore   float64

	PatchEligibleBenchmarks int
	PatchPlaceholderCount   int
	PatchTotalRun           int
	PatchTotalPassed        int
	PatchAggregatePassRate  *float64
}

// AggregateResults pools results according to the documented per-mode rules.
// All results must share the same mode.
func AggregateResults(results []BenchmarkResult) (Aggregate, error) {
	if len(results) == 0 {
		return Aggregate{}, nil
	}
	mode := results[0].Mode
	agg := Aggregate{Mode: mode}

	for _, r := range results {
		if r.Mode != mode {
			return Aggregate{}, fmt.Errorf("benchmark: cannot aggregate mixed modes %s and %s", mode, r.Mode)
		}
		agg.PooledCounts.TruePositives += r.Counts.TruePositives
		agg.PooledCounts.FalsePositives += r.Counts.FalsePositives
		agg.PooledCounts.FalseNegatives += r.Counts.FalseNegatives

		agg.ExploitGroundTruthTotal += r.GroundTruthCount
		agg.ExploitGradedTotal += r.ExploitsGraded

		if r.PlaceholderTests {
			agg.PatchPlaceholderCount++
			continue
		}
		agg.PatchEligibleBenchmarks++
		agg.PatchTotalRun += r.UnseenTestsRun
		agg.PatchTotalPassed += r.UnseenTestsPassed
	}

	agg.Precision, agg.Recall, agg.F1 = agg.PooledCounts.Rates()

	if agg.ExploitGroundTruthTotal > 0 {
		agg.ExploitAggregateScore = float64(agg.ExploitGradedTotal) / float64(agg.ExploitGroundTruthTotal)
	}

	if agg.PatchTotalRun > 0 {
		rate := float64(agg.PatchTotalPassed) / float64(agg.PatchTotalRun)
		agg.PatchAggregatePassRate = &rate
	}

	return agg, nil
}

// RunSummary is the mean/min/max across a benchmark's independent
// repeated runs (default 3), reported for recall specifically since that
// is what the spec calls out, but computed the same way for precision/F1.
type RunSummary struct {
	Mean, Min, Max float64
	Range          float64
}

// SummarizeRuns reduces a slice of per-run values (e.g. recall across
// three independent runs of the same benchmark) to a RunSummary.
func SummarizeRuns(values []float64) RunSummary {
	if len(values) == 0 {
		return RunSummary{}
	}
	sum, min, max := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))
	return RunSummary{Mean: mean, Min: min, Max: max, Range: max - min}
}

// BootstrapResult is the outcome of comparing two recall (or any bounded
// metric) samples via bootstrap resampling.
type BootstrapResult struct {
	BaselineCI   [2]float64
	CandidateCI  [2]float64
	Significant  bool
	Direction    string
}

// DefaultBootstrapResamples is the resample count BootstrapCompare uses
// when a caller doesn't need a specific N (§8's general case: 10,000
// resamples for a stable 95% CI).
const DefaultBootstrapResamples = 10_000

const bootstrapAlpha = 0.05

// RandSource abstracts the resampling draw so bootstrap comparisons stay
// deterministic under test; production callers pass a seeded
// math/rand.Rand wrapped to satisfy this signature.
type RandSource func(n int) int

// BootstrapCompare computes 95% bootstrap confidence intervals for
// baseline and candidate samples and reports whether the intervals
// overlap. Overlapping CIs are "not statistically significant";
// non-overlapping CIs report the direction.
func BootstrapCompare(baseline, candidate []float64, rnd RandSource) BootstrapResult {
	return BootstrapCompareN(baseline, candidate, rnd, DefaultBootstrapResamples)
}

// BootstrapCompareN is BootstrapCompare with an explicit resample count,
// needed by scenarios (e.g. §8 scenario 5's N=1000 case) that specify a
// particular N rather than the default.
func BootstrapCompareN(baseline, candidate []float64, rnd RandSource, resamples int) BootstrapResult {
	baselineCI := bootstrapCI(baseline, rnd, resamples)
	candidateCI := bootstrapCI(candidate, rnd, resamples)

	overlap := baselineCI[0] <= candidateCI[1] && candidateCI[0] <= baselineCI[1]
	result := BootstrapResult{BaselineCI: baselineCI, CandidateCI: candidateCI}
	if overlap {
		result.Direction = "not statistically significant"
		result.Significant = false
		return result
	}
	result.Significant = true
	if candidateCI[0] > baselineCI[1] {
		result.Direction = "significant improvement"
	} else {
		result.Direction = "significant regression"
	}
	return result
}

// bootstrapCI resamples values with replacement `resamples` times,
// computing the mean of each resample, then returns the
// floor(alpha/2*N) and floor((1-alpha/2)*N) sorted samples as the CI
// bounds.
func bootstrapCI(values []float64, rnd RandSource, resamples int) [2]float64 {
	if len(values) == 0 {
		return [2]float64{0, 0}
	}
	means := make([]float64, resamples)
	for i := 0; i < resamples; i++ {
		sum := 0.0
		for j := 0; j < len(values); j++ {
			sum += values[rnd(len(values))]
		}
		means[i] = sum / float64(len(values))
	}
	sort.Float64s(means)
	lowIdx := int(float64(resamples) * (bootstrapAlpha / 2))
	highIdx := int(float64(resamples) * (1 - bootstrapAlpha/2))
	if highIdx >= len(means) {
		highIdx = len(means) - 1
	}
	return [2]float64{means[lowIdx], means[highIdx]}
}
