// Package bundle assembles per-stage input directories and validates them
// against stage-specific isolation rules before a stage may read them.
// Every stage in the pipeline that hands files to a model CLI goes
// through a Bundle rather than constructing its working directory inline.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind names a recognized bundle stage; each kind carries its own
// isolation predicates.
type Kind string

const (
	KindDetectPrimary     Kind = "detect-primary"
	KindDetectSecondary   Kind = "detect-secondary"
	KindDeepExploitSecond Kind = "deep-exploit-secondary"
	KindDisputeResolution Kind = "dispute-resolution"
	KindFinalGate         Kind = "final-gate"
)

// Manifest describes a published bundle: the files it contains and
// whether isolation validation found a violation.
type Manifest struct {
	Kind       Kind     `json:"kind"`
	Files      []string `json:"files"`
	Violated   bool     `json:"violated"`
	Violations []string `json:"violations,omitempty"`
}

// ViolationError is returned when a bundle fails isolation validation; the
// manifest is still written to disk with violated=true so callers can
// inspect exactly what tripped.
type ViolationError struct {
	Manifest Manifest
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("bundle: isolation violation in %s bundle: %v", e.Manifest.Kind, e.Manifest.Violations)
}

var specProseFilenames = regexp.MustCompile(`(?i)(threat-model|design|test-plan)`)

var specProseHeaders = []string{
	"Trust Assumptions",
	"Attack Surface",
	"Attacker Classes",
	"Assets at Risk",
	"Motivation",
}

// crossModelIdentifierRe matches the opposite model's bracketed finding
// identifiers, e.g. [ECON-12] or [DOS-3].
var crossModelIdentifierRe = regexp.MustCompile(`\[(?:ECON|DOS)-\d+\]`)

// Build walks srcDirs (each a directory to copy recursively) into destDir,
// flattening nothing — relative paths are preserved — and returns the
// list of files copied, relative to destDir.
func Build(destDir string, srcDirs []string) ([]string, error) {
	var files []string
	for _, src := range srcDirs {
		err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			destPath := filepath.Join(destDir, filepath.Base(src), rel)
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := os.WriteFile(destPath, data, info.Mode()); err != nil {
				return err
			}
			files = append(files, filepath.Join(filepath.Base(src), rel))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("bundle: copying %s: %w", src, err)
		}
	}
	return files, nil
}

// Validate runs the isolation predicates appropriate to kind against
// dir's contents and returns a Manifest. When violations are found the
// returned error is a *ViolationError wrapping the same manifest; callers
// must still persist the manifest (e.g. via Publish) before aborting.
func Validate(kind Kind, dir string, files []string) (Manifest, error) {
	manifest := Manifest{Kind: kind, Files: files}

	needsNoSpecProse := kind != KindFinalGate
	needsNoCrossModel := kind == KindDetectPrimary || kind == KindDetectSecondary || kind == KindDeepExploitSecond

	if needsNoSpecProse {
		violations, err := checkNoSpecProse(dir, files)
		if err != nil {
			return manifest, err
		}
		manifest.Violations = append(manifest.Violations, violations...)
	}
	if needsNoCrossModel {
		violations, err := checkNoCrossModelOutput(dir, files)
		if err != nil {
			return manifest, err
		}
		manifest.Violations = append(manifest.Violations, violations...)
	}

	if len(manifest.Violations) > 0 {
		manifest.Violated = true
		return manifest, &ViolationError{Manifest: manifest}
	}
	return manifest, nil
}

// checkNoSpecProse scans files outside src/, test/, and reviews/ for
// filenames or content matching known spec-document signatures.
func checkNoSpecProse(dir string, files []string) ([]string, error) {
	var violations []string
	for _, rel := range files {
		if underAllowedDir(rel) {
			continue
		}
		if specProseFilenames.MatchString(filepath.Base(rel)) {
			violations = append(violations, fmt.Sprintf("spec-prose filename: %s", rel))
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("bundle: reading %s: %w", rel, err)
		}
		text := string(data)
		for _, header := range specProseHeaders {
			if strings.Contains(text, header) {
				violations = append(violations, fmt.Sprintf("spec-prose header %q in %s", header, rel))
				break
			}
		}
	}
	return violations, nil
}

func underAllowedDir(rel string) bool {
	rel = filepath.ToSlash(rel)
	parts := strings.SplitN(rel, "/", 2)
	switch parts[0] {
	case "src", "test", "reviews":
		return true
	}
	return false
}

// checkNoCrossModelOutput scans for filenames or content matching the
// opposite model's known output identifier patterns.
func checkNoCrossModelOutput(dir string, files []string) ([]string, error) {
	var violations []string
	for _, rel := range files {
		base := strings.ToLower(filepath.Base(rel))
		if strings.Contains(base, "secondary-output") || strings.Contains(base, "primary-output") {
			violations = append(violations, fmt.Sprintf("cross-model output filename: %s", rel))
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("bundle: reading %s: %w", rel, err)
		}
		if crossModelIdentifierRe.Match(data) {
			violations = append(violations, fmt.Sprintf("cross-model identifier pattern in %s", rel))
		}
	}
	return violations, nil
}

// Publish writes MANIFEST.json into dir regardless of validation outcome,
// so a violated bundle's manifest remains inspectable.
func Publish(dir string, manifest Manifest) error {
	path := filepath.Join(dir, "MANIFEST.json")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle: creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("bundle: marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bundle: writing manifest %s: %w", path, err)
	}
	return nil
}
