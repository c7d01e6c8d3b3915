package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"auditpipeline/internal/config"
	"auditpipeline/internal/runctx"
	"auditpipeline/pkg/benchmark/k8sprovision"
	"auditpipeline/pkg/benchmark/store"
	"auditpipeline/pkg/bundle"
	"auditpipeline/pkg/consolidate"
	"auditpipeline/pkg/coverage"
	"auditpipeline/pkg/finding"
	"auditpipeline/pkg/match"
	"auditpipeline/pkg/notify"
	"auditpipeline/pkg/pipeline"
	"auditpipeline/pkg/replay"
	"auditpipeline/pkg/report"
	"auditpipeline/pkg/supervisor"
)

// Suite wires the registry, the pipeline orchestrator, and the optional
// chain-provisioning/notification/issue-filing sinks into the single
// "run this benchmark's configured repetitions and score them" loop,
// following the same sequential per-item driver shape as
// pkg/pipeline.Run's own pass loop: one clear owner function, the
// supporting packages doing the actual work.
type Suite struct {
	Store     *store.Store
	Backend   supervisor.Backend
	Extractor coverage.SymbolExtractor
	Judge     match.Judge // optional; nil skips the semantic matching tier

	Chain    *k8sprovision.Client // optional; used only when Benchmark.K8sProvision is set
	Telegram *notify.Telegram     // optional
	GitHub   *report.GitHubApp    // optional
	GHOwner  string
	GHRepo   string
}

// patchFile is one file a patch-mode agent rewrites, the same
// LastJSONLine-terminated-output convention pkg/pipeline's SECONDARY
// invocation uses for its finding array.
type patchFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RunBenchmark executes cfg.Benchmark.Runs independent repetitions of
// mode against b, recording each run in the registry and returning the
// pooled aggregate plus the per-run metric samples (recall for
// detect/pipeline, exploit score for exploit, patch pass rate for patch)
// the caller needs for a bootstrap comparison against a prior baseline.
func (s *Suite) RunBenchmark(ctx context.Context, b store.Benchmark, cfg config.Config, mode Mode) (Aggregate, []float64, error) {
	groundTruth, err := loadGroundTruth(b.GroundTruthPath)
	if err != nil {
		return Aggregate{}, nil, err
	}

	runs := cfg.Benchmark.Runs
	if runs <= 0 {
		runs = 1
	}

	var results []BenchmarkResult
	var metrics []float64

	for i := 0; i < runs; i++ {
		result, metric, err := s.runOnce(ctx, b, groundTruth, cfg, mode, i)
		if err != nil {
			return Aggregate{}, nil, fmt.Errorf("benchmark: run %d/%d of %s in %s mode: %w", i+1, runs, b.Name, mode, err)
		}
		results = append(results, result)
		metrics = append(metrics, metric)
	}

	agg, err := AggregateResults(results)
	if err != nil {
		return Aggregate{}, nil, err
	}
	return agg, metrics, nil
}

// MetricName names the scalar a mode reports per run, for labeling
// comparisons and regression alerts.
func MetricName(mode Mode) string {
	switch mode {
	case ModeExploit:
		return "exploit score"
	case ModePatch:
		return "patch pass rate"
	default:
		return "recall"
	}
}

// runOnce provisions (if configured) a fresh chain, builds the run
// context, dispatches to the mode-specific driver, then persists the
// artifact and registry record common to every mode. Modes vary in how
// they produce a BenchmarkResult and its artifact payload; they never
// vary in how that result gets recorded.
func (s *Suite) runOnce(ctx context.Context, b store.Benchmark, groundTruth []match.GroundTruthFinding, cfg config.Config, mode Mode, runIndex int) (BenchmarkResult, float64, error) {
	runID := fmt.Sprintf("%s-%d", runctx.GenerateRunID(b.Name, time.Now()), runIndex)

	if cfg.Benchmark.K8sProvision && s.Chain != nil {
		handle, err := s.Chain.ProvisionAnvil(ctx, runID, "")
		if err != nil {
			return BenchmarkResult{}, 0, err
		}
		defer func() { _ = s.Chain.Teardown(context.Background(), handle) }()
	}

	rc := runctx.New(ctx, b.RepoPath, runID, cfg.Benchmark.RegistryPath, cfg)
	sup := supervisor.New(s.Backend)

	var (
		result  BenchmarkResult
		metric  float64
		payload any
		err     error
	)
	switch mode {
	case ModeExploit:
		result, metric, payload, err = s.runExploit(rc, sup, groundTruth)
	case ModePatch:
		result, metric, payload, err = s.runPatch(rc, sup, groundTruth)
	case ModePipeline:
		result, metric, payload, err = s.runPipeline(rc, sup, groundTruth)
	case ModeDetect, "":
		result, metric, payload, err = s.runDetect(rc, sup, groundTruth)
	default:
		return BenchmarkResult{}, 0, fmt.Errorf("benchmark: unrecognized mode %q", mode)
	}
	if err != nil {
		return BenchmarkResult{}, 0, err
	}
	result.Name = b.Name
	result.Mode = mode

	resultPath, err := writeModeArtifact(cfg.Benchmark.RegistryPath, b.Name, mode, runIndex, payload)
	if err != nil {
		return BenchmarkResult{}, 0, err
	}

	if s.Store != nil {
		if err := s.Store.RecordRun(ctx, store.RunRecord{
			BenchmarkID:      b.ID,
			Mode:             string(mode),
			RunIndex:         runIndex,
			ResultPath:       resultPath,
			TruePositives:    result.Counts.TruePositives,
			FalsePositives:   result.Counts.FalsePositives,
			FalseNegatives:   result.Counts.FalseNegatives,
			PlaceholderTests: result.PlaceholderTests,
		}); err != nil {
			return BenchmarkResult{}, 0, err
		}
	}

	return result, metric, nil
}

// runDetect drives the blind-detect pipeline once and scores its output
// against groundTruth via the three-tier matcher. This is the mode every
// other mode either runs first (pipeline) or skips in favor of seeding
// ground truth directly (exploit, patch).
func (s *Suite) runDetect(rc runctx.RunContext, sup *supervisor.Supervisor, groundTruth []match.GroundTruthFinding) (BenchmarkResult, float64, any, error) {
	summary, err := pipeline.Run(rc, sup, s.Extractor)
	if err != nil {
		return BenchmarkResult{}, 0, nil, err
	}

	detected := consolidatedFindings(summary.Findings)
	scored := match.MatchAll(groundTruth, detected, s.Judge)

	result := BenchmarkResult{
		Counts: ScoreCounts{
			TruePositives:  scored.TruePositives,
			FalsePositives: scored.FalsePositives,
			FalseNegatives: scored.FalseNegatives,
		},
	}
	payload := struct {
		Summary pipeline.Summary `json:"summary"`
		Scoring match.Result     `json:"scoring"`
	}{Summary: summary, Scoring: scored}
	return result, scored.Recall, payload, nil
}

// runExploit seeds groundTruth directly as the known vulnerabilities
// (skipping detection), has the secondary model write one exploit PoC
// per ground-truth entry that names an ExploitScript, then grades each
// PoC with the grading-script tool — a grader independent of the model
// that wrote the PoC — reading the JSON verdict the script prints via
// replay.ParseScriptVerdict. The
// denominator is len(groundTruth), not the number of PoCs actually
// written, so skipping hard vulnerabilities cannot inflate the score.
func (s *Suite) runExploit(rc runctx.RunContext, sup *supervisor.Supervisor, groundTruth []match.GroundTruthFinding) (BenchmarkResult, float64, any, error) {
	bundleDir := rc.Artifacts.Path("bundle-exploit")
	_, seedData, err := buildSeededBundle(rc, bundleDir, bundle.KindDeepExploitSecond, groundTruth)
	if err != nil {
		return BenchmarkResult{}, 0, nil, err
	}

	type verdict struct {
		FindingID string              `json:"findingId"`
		Verdict   replay.ScriptVerdict `json:"verdict"`
	}
	var verdicts []verdict

	graded := 0
	for _, gt := range groundTruth {
		if gt.ExploitScript == "" {
			continue
		}
		pocResult, err := sup.Run(rc.Ctx, supervisor.ToolSecondaryModel, []string{bundleDir, "--finding-id", gt.ID, "--mode", "exploit"}, seedData, rc.Config.SecondaryTimeout)
		if err != nil {
			return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: generating exploit PoC for %s: %w", gt.ID, err)
		}
		pocPath := filepath.Join(rc.RepoPath, gt.ExploitScript)
		if err := os.MkdirAll(filepath.Dir(pocPath), 0o755); err != nil {
			return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: preparing exploit PoC path %s: %w", pocPath, err)
		}
		if err := os.WriteFile(pocPath, []byte(pocResult.Stdout), 0o644); err != nil {
			return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: writing exploit PoC %s: %w", pocPath, err)
		}

		graderResult, err := sup.Run(rc.Ctx, supervisor.ToolGradingScript, []string{"--script", gt.ExploitScript}, nil, rc.Config.SecondaryTimeout)
		if err != nil {
			return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: running grading script for %s: %w", gt.ID, err)
		}
		sv, err := replay.ParseScriptVerdict([]byte(supervisor.LastJSONLine(graderResult.Stdout)))
		if err != nil {
			// Grader produced no parsable verdict — counts as ungraded,
			// not a crash; the PoC simply scores as not exploited.
			verdicts = append(verdicts, verdict{FindingID: gt.ID})
			continue
		}
		verdicts = append(verdicts, verdict{FindingID: gt.ID, Verdict: sv})
		if sv.Verdict == replay.VerdictExploitSuccess {
			graded++
		}
	}

	result := BenchmarkResult{
		GroundTruthCount: len(groundTruth),
		ExploitsGraded:   graded,
	}
	return result, result.ExploitScore(), verdicts, nil
}

// runPatch seeds groundTruth directly, has the secondary model write a
// patch (a JSON array of replacement file contents), applies it in
// place, then runs each ground-truth entry's unseen verification test
// against the patched repository. A test whose content is still the
// seeded revert("PLACEHOLDER...") stub is excluded from the pass rate;
// when every unseen test for this run is a placeholder the whole run's
// pass rate is nullified (PlaceholderTests=true), since a benchmark with
// no real unseen assertions proves nothing about the patch.
func (s *Suite) runPatch(rc runctx.RunContext, sup *supervisor.Supervisor, groundTruth []match.GroundTruthFinding) (BenchmarkResult, float64, any, error) {
	bundleDir := rc.Artifacts.Path("bundle-patch")
	_, seedData, err := buildSeededBundle(rc, bundleDir, bundle.KindDeepExploitSecond, groundTruth)
	if err != nil {
		return BenchmarkResult{}, 0, nil, err
	}

	patchResult, err := sup.Run(rc.Ctx, supervisor.ToolSecondaryModel, []string{bundleDir, "--mode", "patch"}, seedData, rc.Config.SecondaryTimeout)
	if err != nil {
		return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: generating patches: %w", err)
	}
	if err := applyPatches(rc.RepoPath, patchResult.Stdout); err != nil {
		return BenchmarkResult{}, 0, nil, err
	}

	type testOutcome struct {
		FindingID     string `json:"findingId"`
		TestFile      string `json:"testFile"`
		Placeholder   bool   `json:"placeholder"`
		Passed        bool   `json:"passed,omitempty"`
	}
	var outcomes []testOutcome

	anyUnseen := false
	allPlaceholder := true
	run, passed := 0, 0
	for _, gt := range groundTruth {
		if gt.UnseenTestFile == "" {
			continue
		}
		anyUnseen = true
		content, err := os.ReadFile(filepath.Join(rc.RepoPath, gt.UnseenTestFile))
		if err != nil {
			return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: reading unseen test %s: %w", gt.UnseenTestFile, err)
		}
		if match.IsPlaceholderTest(content) {
			outcomes = append(outcomes, testOutcome{FindingID: gt.ID, TestFile: gt.UnseenTestFile, Placeholder: true})
			continue
		}
		allPlaceholder = false
		run++
		testResult, err := sup.Run(rc.Ctx, supervisor.ToolForgeTest, []string{"--match-path", gt.UnseenTestFile}, nil, rc.Config.SecondaryTimeout)
		if err != nil {
			return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: running unseen test %s: %w", gt.UnseenTestFile, err)
		}
		ok := testResult.ExitCode == 0 && !testResult.TimedOut
		if ok {
			passed++
		}
		outcomes = append(outcomes, testOutcome{FindingID: gt.ID, TestFile: gt.UnseenTestFile, Passed: ok})
	}

	result := BenchmarkResult{
		PlaceholderTests:  anyUnseen && allPlaceholder,
		UnseenTestsRun:    run,
		UnseenTestsPassed: passed,
	}
	metric := 0.0
	if rate := result.PatchPassRate(); rate != nil {
		metric = *rate
	}
	return result, metric, outcomes, nil
}

// runPipeline chains detect, then exploit and patch against the
// ground-truth subset the detector itself found — not the full registry
// ground truth — since pipeline mode measures the agent's own findings
// end to end rather than re-running EVMbench-independent exploit/patch
// scoring. Its reported metric is the detect stage's recall; the
// exploit/patch fields ride along in the result for inspection.
func (s *Suite) runPipeline(rc runctx.RunContext, sup *supervisor.Supervisor, groundTruth []match.GroundTruthFinding) (BenchmarkResult, float64, any, error) {
	detectResult, recall, detectPayload, err := s.runDetect(rc, sup, groundTruth)
	if err != nil {
		return BenchmarkResult{}, 0, nil, err
	}

	scoring, ok := detectPayload.(struct {
		Summary pipeline.Summary `json:"summary"`
		Scoring match.Result     `json:"scoring"`
	})
	if !ok {
		return BenchmarkResult{}, 0, nil, fmt.Errorf("benchmark: pipeline mode: unexpected detect payload type %T", detectPayload)
	}

	matchedGT := make([]match.GroundTruthFinding, 0, len(scoring.Scoring.Matches))
	for _, m := range scoring.Scoring.Matches {
		matchedGT = append(matchedGT, m.GroundTruth)
	}

	exploitResult, _, exploitPayload, err := s.runExploit(rc, sup, matchedGT)
	if err != nil {
		return BenchmarkResult{}, 0, nil, err
	}
	patchResult, _, patchPayload, err := s.runPatch(rc, sup, matchedGT)
	if err != nil {
		return BenchmarkResult{}, 0, nil, err
	}

	result := BenchmarkResult{
		Counts:            detectResult.Counts,
		GroundTruthCount:  exploitResult.GroundTruthCount,
		ExploitsGraded:    exploitResult.ExploitsGraded,
		PlaceholderTests:  patchResult.PlaceholderTests,
		UnseenTestsRun:    patchResult.UnseenTestsRun,
		UnseenTestsPassed: patchResult.UnseenTestsPassed,
	}
	payload := struct {
		Detect  any `json:"detect"`
		Exploit any `json:"exploit"`
		Patch   any `json:"patch"`
	}{Detect: detectPayload, Exploit: exploitPayload, Patch: patchPayload}
	return result, recall, payload, nil
}

// buildSeededBundle assembles a bundle directory from the repo's src/
// and test/ trees plus a ground-truth.json seed file, validates it
// against kind, and publishes its manifest. It returns the bundle's file
// list and the marshaled seed so callers can forward the same bytes as
// subprocess stdin.
func buildSeededBundle(rc runctx.RunContext, bundleDir string, kind bundle.Kind, groundTruth []match.GroundTruthFinding) ([]string, []byte, error) {
	files, err := bundle.Build(bundleDir, []string{filepath.Join(rc.RepoPath, "src"), filepath.Join(rc.RepoPath, "test")})
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: building bundle: %w", err)
	}

	seedData, err := json.MarshalIndent(groundTruth, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("benchmark: marshaling ground truth seed: %w", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "ground-truth.json"), seedData, 0o644); err != nil {
		return nil, nil, fmt.Errorf("benchmark: writing ground truth seed: %w", err)
	}
	files = append(files, "ground-truth.json")

	manifest, verr := bundle.Validate(kind, bundleDir, files)
	if pubErr := bundle.Publish(bundleDir, manifest); pubErr != nil {
		return nil, nil, fmt.Errorf("benchmark: publishing bundle manifest: %w", pubErr)
	}
	if verr != nil {
		return nil, nil, fmt.Errorf("benchmark: bundle isolation violation: %w", verr)
	}
	return files, seedData, nil
}

// applyPatches parses the patch model's last JSON line as a []patchFile
// and writes each file's content into repoPath at its relative path.
func applyPatches(repoPath, stdout string) error {
	line := supervisor.LastJSONLine(stdout)
	if line == "" {
		return fmt.Errorf("benchmark: patch model produced no JSON output")
	}
	var patches []patchFile
	if err := json.Unmarshal([]byte(line), &patches); err != nil {
		return fmt.Errorf("benchmark: parsing patch output: %w", err)
	}
	for _, p := range patches {
		dest := filepath.Join(repoPath, p.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("benchmark: preparing patch destination %s: %w", dest, err)
		}
		if err := os.WriteFile(dest, []byte(p.Content), 0o644); err != nil {
			return fmt.Errorf("benchmark: writing patched file %s: %w", dest, err)
		}
	}
	return nil
}

func consolidatedFindings(cf []consolidate.ConsolidatedFinding) []finding.Finding {
	detected := make([]finding.Finding, 0, len(cf))
	for _, f := range cf {
		detected = append(detected, finding.Finding{
			ID:        f.ID,
			Severity:  finding.Severity(f.Severity),
			Title:     f.Title,
			File:      f.File,
			Line:      f.Line,
			Mechanism: f.Mechanism,
		})
	}
	return detected
}

// CompareAgainstBaseline runs BootstrapCompare on candidate vs. baseline
// metric samples and, when the comparison reports a significant
// regression, fires the configured notification and issue-filing sinks.
// Sinks that are nil (not configured) are skipped silently — the
// registry remains the source of truth regardless.
func (s *Suite) CompareAgainstBaseline(ctx context.Context, benchmarkName string, mode Mode, baseline, candidate []float64, cfg config.Config) (BootstrapResult, error) {
	cmp := BootstrapCompare(baseline, candidate, rand.Intn)
	if !cmp.Significant || cmp.Direction != "significant regression" {
		return cmp, nil
	}

	metric := MetricName(mode)
	var issueURL string
	if cfg.Benchmark.GitHubReport && s.GitHub != nil {
		client, err := s.GitHub.Client()
		if err != nil {
			return cmp, err
		}
		issueURL, err = report.FileRegressionIssue(ctx, client, s.GHOwner, s.GHRepo, report.Regression{
			Benchmark:   benchmarkName,
			Metric:      metric,
			BaselineCI:  cmp.BaselineCI,
			CandidateCI: cmp.CandidateCI,
		})
		if err != nil {
			return cmp, err
		}
	}

	if cfg.Benchmark.TelegramAlert && s.Telegram != nil {
		if _, err := s.Telegram.SendRegression(notify.RegressionAlert{
			Benchmark:   benchmarkName,
			Metric:      metric,
			BaselineCI:  cmp.BaselineCI,
			CandidateCI: cmp.CandidateCI,
			IssueURL:    issueURL,
		}); err != nil {
			return cmp, err
		}
	}

	return cmp, nil
}

func loadGroundTruth(path string) ([]match.GroundTruthFinding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("benchmark: reading ground truth %s: %w", path, err)
	}
	var gt []match.GroundTruthFinding
	if err := json.Unmarshal(data, &gt); err != nil {
		return nil, fmt.Errorf("benchmark: parsing ground truth %s: %w", path, err)
	}
	return gt, nil
}

// writeModeArtifact persists a run's mode-specific payload as a JSON
// artifact under the registry directory, the durable record the sqlite
// index is rebuildable from.
func writeModeArtifact(registryPath, benchmarkName string, mode Mode, runIndex int, payload any) (string, error) {
	dir := filepath.Join(registryPath, "runs", benchmarkName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("benchmark: creating run artifact directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.json", mode, runIndex))

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("benchmark: marshaling run artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("benchmark: writing run artifact %s: %w", path, err)
	}
	return path, nil
}
