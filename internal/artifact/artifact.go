// Package artifact is the run's on-disk store: every stage reads and
// writes through it instead of constructing paths under .task/<runId>/
// inline, so the layout documented in SPEC_FULL.md stays centralized in
// one place.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store roots all artifact paths at a run's base directory,
// `.task/<runId>/` by default.
type Store struct {
	Root string
}

// New returns a Store rooted at root. The directory is created lazily by
// WriteJSON/AppendLine, not here, so a Store can be constructed before a
// run is known to produce any output.
func New(root string) *Store {
	return &Store{Root: root}
}

// Path joins elem onto the store's root.
func (s *Store) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Root}, elem...)...)
}

// WriteJSON marshals v as indented JSON to the given relative path,
// creating parent directories as needed.
func (s *Store) WriteJSON(relPath string, v any) error {
	full := s.Path(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("artifact: creating directory for %s: %w", relPath, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshaling %s: %w", relPath, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("artifact: writing %s: %w", relPath, err)
	}
	return nil
}

// ReadJSON unmarshals the given relative path into v.
func (s *Store) ReadJSON(relPath string, v any) error {
	data, err := os.ReadFile(s.Path(relPath))
	if err != nil {
		return fmt.Errorf("artifact: reading %s: %w", relPath, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifact: parsing %s: %w", relPath, err)
	}
	return nil
}

// Exists reports whether a relative path exists under the store's root.
// Several stages gate on artifact presence/absence rather than content.
func (s *Store) Exists(relPath string) bool {
	_, err := os.Stat(s.Path(relPath))
	return err == nil
}

// AppendLine appends line plus a trailing newline to relPath, creating
// parent directories and the file as needed. Used for the append-only
// JSON-lines artifacts (gatekeeper-audit-trail.jsonl).
func (s *Store) AppendLine(relPath, line string) error {
	full := s.Path(relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("artifact: creating directory for %s: %w", relPath, err)
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("artifact: opening %s: %w", relPath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("artifact: appending to %s: %w", relPath, err)
	}
	return nil
}

// Canonical artifact paths, relative to a run's root, matching the layout
// documented for §6.
const (
	BundleDetectPrimary   = "bundle-detect-primary"
	BundleDetectSecondary = "bundle-detect-secondary"
	BundleStage4B         = "bundle-stage4b"
	BundleStage4C         = "bundle-stage4c"
	BundleFinal           = "bundle-final"

	MergedFindings        = "merged-findings.json"
	ConsolidatedFindings  = "consolidated-findings.json"
	CoverageHints         = "coverage-hints.json"
	DetectCoverage        = "detect-coverage.json"
	DetectPipelineSummary = "detect-pipeline-summary.json"
	GatekeeperAuditTrail  = "gatekeeper-audit-trail.jsonl"
	ExploitProof          = "codex-exploit-proof.json"
	PatchVerify           = "codex-patch-verify.json"
	PatchClosure          = "patch-closure.json"
	ExploitLiveGrade      = "exploit-live-grade.json"
	ExploitForgeGrade     = "exploit-forge-grade.json"
)

// HintPath names the hints-{source}-to-{target}.json artifact.
func HintPath(source, target string) string {
	return fmt.Sprintf("hints-%s-to-%s.json", source, target)
}

// JudgeVerdictsPath names the judge-verdicts-{source}.json artifact.
func JudgeVerdictsPath(source string) string {
	return fmt.Sprintf("judge-verdicts-%s.json", source)
}
