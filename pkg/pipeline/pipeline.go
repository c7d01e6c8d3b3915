// Package pipeline drives the five-phase detection pipeline documented
// for a single repository and run identifier: static pre-seed, blind
// detect, merge, coverage check, and — looping up to maxPasses−1 times —
// hinted re-detect, before emitting a consolidated finding list. It is
// the single-owner state machine the rest of the packages (bundle,
// staticimport, merge, consolidate, coverage, hint, supervisor) are
// composed under, following the same "one function drives the state,
// signals/activities do the work" shape as
// agents/manager/internal/beam/workflow.go's BeamWorkflow, translated
// from a Temporal workflow function into a plain Go function that the
// Temporal wrapper in internal/controller/pipelineworkflow calls from
// inside an activity.
package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"auditpipeline/internal/artifact"
	"auditpipeline/internal/pipelineerrors"
	"auditpipeline/internal/runctx"
	"auditpipeline/pkg/bundle"
	"auditpipeline/pkg/consolidate"
	"auditpipeline/pkg/coverage"
	"auditpipeline/pkg/finding"
	"auditpipeline/pkg/hint"
	"auditpipeline/pkg/merge"
	"auditpipeline/pkg/staticimport"
	"auditpipeline/pkg/supervisor"
)

// Summary is the public result of one pipeline run: the counts, pass
// count, and coverage outcome the orchestrator's contract promises.
type Summary struct {
	TotalFindings         int
	DualConfirmed         int
	SingleSourcePrimary   int
	SingleSourceSecondary int
	PassesPerformed       int
	CoverageMet           bool
	DurationMs            int64
	Findings              []consolidate.ConsolidatedFinding
}

// externalPrimaryFindings is the artifact name an externally-run
// PRIMARY detector is expected to have written before Run is called;
// the orchestrator never invokes PRIMARY itself (spec: "PRIMARY
// expected externally").
const externalPrimaryFindings = "primary-findings.json"

// Run executes the five-phase state machine against rc.RepoPath,
// spawning SECONDARY (and, during hinted re-detect passes, SECONDARY
// again with fresh hints) via sup, and extracting repository symbols
// with extractor (nil defaults to coverage.RegexExtractor{}).
func Run(rc runctx.RunContext, sup *supervisor.Supervisor, extractor coverage.SymbolExtractor) (Summary, error) {
	start := time.Now()
	if extractor == nil {
		extractor = coverage.RegexExtractor{}
	}
	cfg := rc.Config

	if !cfg.SkipStaticPreseed {
		if err := phaseStaticPreseed(rc); err != nil {
			return Summary{}, err
		}
	}

	primary, secondary, err := phaseBlindDetect(rc, sup, nil)
	if err != nil {
		return Summary{}, err
	}

	records := merge.Merge(primary, secondary)
	if err := writeMergedFindings(rc, records); err != nil {
		return Summary{}, err
	}

	entrypoints, modules, err := extractRepoSymbols(rc.RepoPath, extractor)
	if err != nil {
		return Summary{}, pipelineerrors.New(pipelineerrors.KindSubprocessFailure, "coverage", err)
	}

	allFindings := recordFindings(records)
	report := coverage.Check(entrypoints, modules, allFindings, cfg.CoverageThreshold)
	if err := rc.Artifacts.WriteJSON(artifact.DetectCoverage, report); err != nil {
		return Summary{}, pipelineerrors.New(pipelineerrors.KindPrecondition, "coverage", err)
	}

	passes := 0
	for report.PassRequired && passes < cfg.MaxPasses-1 {
		passes++
		hints := hint.Generate(allFindings, hint.LevelHigh, fmt.Sprintf("pass-%d", passes))
		if err := rc.Artifacts.WriteJSON(artifact.HintPath("coverage", "secondary"), hints); err != nil {
			return Summary{}, pipelineerrors.New(pipelineerrors.KindPrecondition, "hinted-redetect", err)
		}

		_, rehinted, err := phaseBlindDetect(rc, sup, hints)
		if err != nil {
			return Summary{}, err
		}
		records = merge.Merge(primary, append(secondary, rehinted...))
		secondary = append(secondary, rehinted...)
		if err := writeMergedFindings(rc, records); err != nil {
			return Summary{}, err
		}

		allFindings = recordFindings(records)
		report = coverage.Check(entrypoints, modules, allFindings, cfg.CoverageThreshold)
		if err := rc.Artifacts.WriteJSON(artifact.DetectCoverage, report); err != nil {
			return Summary{}, pipelineerrors.New(pipelineerrors.KindPrecondition, "coverage", err)
		}
	}

	consolidated := phaseEmit(records)
	if err := rc.Artifacts.WriteJSON(artifact.ConsolidatedFindings, consolidated); err != nil {
		return Summary{}, pipelineerrors.New(pipelineerrors.KindPrecondition, "emit", err)
	}

	summary := Summary{
		TotalFindings:   len(records),
		PassesPerformed: passes,
		CoverageMet:     !report.PassRequired,
		DurationMs:      time.Since(start).Milliseconds(),
		Findings:        consolidated,
	}
	for _, r := range records {
		switch r.Category {
		case merge.CategoryDual:
			summary.DualConfirmed++
		case merge.CategorySinglePrimary:
			summary.SingleSourcePrimary++
		case merge.CategorySingleSecondary:
			summary.SingleSourceSecondary++
		}
	}
	if summary.TotalFindings == 0 && len(primary) == 0 && len(secondary) == 0 {
		return summary, pipelineerrors.Newf(pipelineerrors.KindValidation, "blind-detect", "no findings produced by primary or secondary and none pre-seeded")
	}
	if err := rc.Artifacts.WriteJSON(artifact.DetectPipelineSummary, summary); err != nil {
		return summary, pipelineerrors.New(pipelineerrors.KindPrecondition, "emit", err)
	}
	return summary, nil
}

// phaseStaticPreseed parses any static-analysis reports already present
// at the repo root (slither.json, semgrep.json) and a narrative
// threat-model file (threat-model.md) into the invariants/public-API
// artifacts the detect bundles require.
func phaseStaticPreseed(rc runctx.RunContext) error {
	if data, err := readRepoFile(rc.RepoPath, "slither.json"); err == nil {
		findings, err := staticimport.ParseSlither(data)
		if err != nil {
			return pipelineerrors.New(pipelineerrors.KindValidation, "static-preseed", err)
		}
		if err := rc.Artifacts.WriteJSON("static-slither-findings.json", findings); err != nil {
			return pipelineerrors.New(pipelineerrors.KindPrecondition, "static-preseed", err)
		}
	}
	if data, err := readRepoFile(rc.RepoPath, "semgrep.json"); err == nil {
		findings, err := staticimport.ParseSemgrep(data)
		if err != nil {
			return pipelineerrors.New(pipelineerrors.KindValidation, "static-preseed", err)
		}
		if err := rc.Artifacts.WriteJSON("static-semgrep-findings.json", findings); err != nil {
			return pipelineerrors.New(pipelineerrors.KindPrecondition, "static-preseed", err)
		}
	}
	if data, err := readRepoFile(rc.RepoPath, "threat-model.md"); err == nil {
		invariants := staticimport.ExtractInvariants(string(data))
		if err := rc.Artifacts.WriteJSON("invariants.json", invariants); err != nil {
			return pipelineerrors.New(pipelineerrors.KindPrecondition, "static-preseed", err)
		}
	}

	solFiles, err := findSolidityFiles(rc.RepoPath)
	if err != nil {
		return pipelineerrors.New(pipelineerrors.KindPrecondition, "static-preseed", err)
	}
	var signatures []staticimport.Signature
	for _, path := range solFiles {
		data, err := readFile(path)
		if err != nil {
			continue
		}
		signatures = append(signatures, staticimport.ExtractPublicAPI(path, data)...)
	}
	if err := rc.Artifacts.WriteJSON("public-api.json", signatures); err != nil {
		return pipelineerrors.New(pipelineerrors.KindPrecondition, "static-preseed", err)
	}
	return nil
}

// phaseBlindDetect publishes the detect-secondary bundle and spawns
// SECONDARY via sup; PRIMARY is expected to have
// been run externally and its output read from
// externalPrimaryFindings, never invoked by the orchestrator itself.
// When hints is non-nil this is a hinted re-detect pass: only
// SECONDARY is re-spawned, against a bundle augmented with the hints
// artifact.
func phaseBlindDetect(rc runctx.RunContext, sup *supervisor.Supervisor, hints []hint.Hint) ([]finding.Finding, []finding.Finding, error) {
	var primary []finding.Finding
	if rc.Artifacts.Exists(externalPrimaryFindings) {
		if err := rc.Artifacts.ReadJSON(externalPrimaryFindings, &primary); err != nil {
			return nil, nil, pipelineerrors.New(pipelineerrors.KindValidation, "blind-detect", err)
		}
	}

	kind := bundle.KindDetectSecondary
	bundleDir := rc.Artifacts.Path(artifact.BundleDetectSecondary)
	if hints != nil {
		bundleDir = rc.Artifacts.Path(artifact.BundleDetectSecondary + "-rehint")
	}

	if rc.Config.SkipSecondary {
		return primary, nil, nil
	}

	files, err := bundle.Build(bundleDir, []string{filepath.Join(rc.RepoPath, "src"), filepath.Join(rc.RepoPath, "test")})
	if err != nil {
		return nil, nil, pipelineerrors.New(pipelineerrors.KindPrecondition, "blind-detect", err)
	}
	if hints != nil {
		hintsPath := filepath.Join(bundleDir, "hints.json")
		data, _ := json.MarshalIndent(hints, "", "  ")
		if err := writeFile(hintsPath, data); err != nil {
			return nil, nil, pipelineerrors.New(pipelineerrors.KindPrecondition, "blind-detect", err)
		}
		files = append(files, "hints.json")
	}

	manifest, verr := bundle.Validate(kind, bundleDir, files)
	if pubErr := bundle.Publish(bundleDir, manifest); pubErr != nil {
		return nil, nil, pipelineerrors.New(pipelineerrors.KindPrecondition, "blind-detect", pubErr)
	}
	if verr != nil {
		return nil, nil, pipelineerrors.New(pipelineerrors.KindBundleViolation, "blind-detect", verr)
	}

	result, err := sup.Run(rc.Ctx, supervisor.ToolSecondaryModel, []string{bundleDir}, nil, rc.Config.SecondaryTimeout)
	if err != nil {
		return nil, nil, pipelineerrors.New(pipelineerrors.KindSubprocessFailure, "blind-detect", err)
	}
	if result.TimedOut {
		return nil, nil, pipelineerrors.Newf(pipelineerrors.KindTimeout, "blind-detect", "secondary detection timed out after %s", rc.Config.SecondaryTimeout)
	}

	var secondary []finding.Finding
	line := supervisor.LastJSONLine(result.Stdout)
	if line != "" {
		if err := json.Unmarshal([]byte(line), &secondary); err != nil {
			return nil, nil, pipelineerrors.New(pipelineerrors.KindValidation, "blind-detect", fmt.Errorf("parsing secondary output: %w", err))
		}
	}
	return primary, secondary, nil
}

// phaseEmit consolidates the final merge records into the canonical
// RT-identified list, tagging each record's merge category as its
// consolidation-stage provenance.
func phaseEmit(records []merge.Record) []consolidate.ConsolidatedFinding {
	inputs := make([]consolidate.Input, 0, len(records))
	for _, r := range records {
		inputs = append(inputs, consolidate.Input{Finding: r.Finding, Stage: strings.ToLower(string(r.Category))})
	}
	return consolidate.Consolidate(inputs)
}

func writeMergedFindings(rc runctx.RunContext, records []merge.Record) error {
	if err := rc.Artifacts.WriteJSON(artifact.MergedFindings, records); err != nil {
		return pipelineerrors.New(pipelineerrors.KindPrecondition, "merge", err)
	}
	return nil
}

func recordFindings(records []merge.Record) []finding.Finding {
	out := make([]finding.Finding, 0, len(records))
	for _, r := range records {
		out = append(out, r.Finding)
	}
	return out
}

func extractRepoSymbols(repoPath string, extractor coverage.SymbolExtractor) ([]coverage.Entrypoint, []coverage.Module, error) {
	files, err := findSolidityFiles(repoPath)
	if err != nil {
		return nil, nil, err
	}
	var entrypoints []coverage.Entrypoint
	var modules []coverage.Module
	for _, path := range files {
		ep, mod, err := coverage.ExtractFile(extractor, path)
		if err != nil {
			continue
		}
		entrypoints = append(entrypoints, ep...)
		modules = append(modules, mod...)
	}
	return entrypoints, modules, nil
}
