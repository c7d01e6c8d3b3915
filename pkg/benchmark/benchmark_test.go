package benchmark

import (
	"math/rand"
	"testing"
)

func TestAggregateResultsPoolsNotAverages(t *testing.T) {
	results := []BenchmarkResult{
		{Mode: ModeDetect, Counts: ScoreCounts{TruePositives: 1, FalsePositives: 1, FalseNegatives: 0}},
		{Mode: ModeDetect, Counts: ScoreCounts{TruePositives: 3, FalsePositives: 0, FalseNegatives: 1}},
	}
	agg, err := AggregateResults(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Pooled: TP=4, FP=1, FN=1 -> precision=4/5=0.8, recall=4/5=0.8
	if agg.Precision != 0.8 || agg.Recall != 0.8 {
		t.Fatalf("expected pooled precision/recall of 0.8/0.8, got %f/%f", agg.Precision, agg.Recall)
	}
}

func TestAggregateResultsMixedModeErrors(t *testing.T) {
	results := []BenchmarkResult{
		{Mode: ModeDetect},
		{Mode: ModePatch},
	}
	if _, err := AggregateResults(results); err == nil {
		t.Fatalf("expected error for mixed modes")
	}
}

func TestPatchPassRateNullifiedWhenAllPlaceholder(t *testing.T) {
	results := []BenchmarkResult{
		{Mode: ModePatch, PlaceholderTests: true, UnseenTestsRun: 3, UnseenTestsPassed: 3},
	}
	agg, err := AggregateResults(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.PatchAggregatePassRate != nil {
		t.Fatalf("expected nil aggregate pass rate when all benchmarks are placeholder-only, got %v", *agg.PatchAggregatePassRate)
	}
	if agg.PatchPlaceholderCount != 1 {
		t.Fatalf("expected placeholder count 1, got %d", agg.PatchPlaceholderCount)
	}

	for _, r := range results {
		rate := r.PatchPassRate()
		if rate != nil {
			t.Fatalf("expected per-benchmark pass rate nil for placeholder test, got %v", *rate)
		}
	}
}

func TestPatchPassRateExcludesPlaceholderFromNumerator(t *testing.T) {
	results := []BenchmarkResult{
		{Mode: ModePatch, PlaceholderTests: true, UnseenTestsRun: 5, UnseenTestsPassed: 5},
		{Mode: ModePatch, PlaceholderTests: false, UnseenTestsRun: 4, UnseenTestsPassed: 2},
	}
	agg, err := AggregateResults(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.PatchAggregatePassRate == nil || *agg.PatchAggregatePassRate != 0.5 {
		t.Fatalf("expected aggregate pass rate 0.5 excluding placeholder benchmark, got %v", agg.PatchAggregatePassRate)
	}
}

func TestExploitScoreUsesGroundTruthDenominator(t *testing.T) {
	r := BenchmarkResult{Mode: ModeExploit, GroundTruthCount: 10, ExploitsGraded: 3}
	if got := r.ExploitScore(); got != 0.3 {
		t.Fatalf("expected 0.3, got %f", got)
	}
}

func TestBootstrapCompareUniformOnesHasZeroWidthCI(t *testing.T) {
	ones := []float64{1, 1, 1, 1, 1}
	rnd := func(n int) int { return rand.Intn(n) }

	result := BootstrapCompare(ones, ones, rnd)
	if result.BaselineCI[0] != 1 || result.BaselineCI[1] != 1 {
		t.Fatalf("expected zero-width CI of [1,1] for uniform ones, got %v", result.BaselineCI)
	}
	if result.Significant {
		t.Fatalf("expected identical uniform samples to be not statistically significant")
	}
}

func TestBootstrapCompareNonOverlappingReportsDirection(t *testing.T) {
	low := []float64{0.1, 0.1, 0.1, 0.1, 0.1}
	high := []float64{0.9, 0.9, 0.9, 0.9, 0.9}
	rnd := func(n int) int { return rand.Intn(n) }

	result := BootstrapCompare(low, high, rnd)
	if !result.Significant {
		t.Fatalf("expected significant difference between 0.1 and 0.9 uniform samples")
	}
	if result.Direction != "significant improvement" {
		t.Fatalf("expected improvement direction, got %s", result.Direction)
	}
}

func TestBootstrapCompareNWithSmallerResampleCount(t *testing.T) {
	low := []float64{0.1, 0.1, 0.1, 0.1, 0.1}
	high := []float64{0.9, 0.9, 0.9, 0.9, 0.9}
	rnd := func(n int) int { return rand.Intn(n) }

	result := BootstrapCompareN(low, high, rnd, 1000)
	if !result.Significant {
		t.Fatalf("expected significant difference with N=1000 resamples")
	}
	if result.Direction != "significant improvement" {
		t.Fatalf("expected improvement direction, got %s", result.Direction)
	}
}

func TestSummarizeRunsMeanMinMax(t *testing.T) {
	summary := SummarizeRuns([]float64{0.5, 0.7, 0.9})
	if summary.Min != 0.5 || summary.Max != 0.9 {
		t.Fatalf("unexpected min/max: %+v", summary)
	}
	if summary.Mean < 0.699 || summary.Mean > 0.701 {
		t.Fatalf("unexpected mean: %f", summary.Mean)
	}
}
