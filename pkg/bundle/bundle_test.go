package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestValidateRejectsSpecProseFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "threat-model.md"), "narrative")

	_, err := Validate(KindDetectPrimary, dir, []string{"docs/threat-model.md"})
	if err == nil {
		t.Fatalf("expected a ViolationError for spec-prose filename")
	}
	var verr *ViolationError
	if !as(err, &verr) {
		t.Fatalf("expected *ViolationError, got %T", err)
	}
	if !verr.Manifest.Violated {
		t.Fatalf("expected manifest.Violated=true")
	}
}

func TestValidateRejectsSpecProseHeader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "notes.md"), "## Trust Assumptions\nattacker controls X")

	_, err := Validate(KindDetectSecondary, dir, []string{"docs/notes.md"})
	if err == nil {
		t.Fatalf("expected violation for spec-prose header")
	}
}

func TestValidateAllowsSrcContentRegardlessOfHeaders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Vault.sol"), "// Trust Assumptions are documented elsewhere\ncontract Vault {}")

	manifest, err := Validate(KindDetectPrimary, dir, []string{"src/Vault.sol"})
	if err != nil {
		t.Fatalf("expected src/ content to be exempt, got error: %v", err)
	}
	if manifest.Violated {
		t.Fatalf("expected no violation, got %+v", manifest)
	}
}

func TestValidateRejectsCrossModelIdentifier(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes", "extra.txt"), "see finding [ECON-12] for details")

	_, err := Validate(KindDetectSecondary, dir, []string{"notes/extra.txt"})
	if err == nil {
		t.Fatalf("expected cross-model identifier violation")
	}
}

func TestValidatePassesCleanBundle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "Vault.sol"), "contract Vault {}")
	writeFile(t, filepath.Join(dir, "test", "Vault.t.sol"), "contract VaultTest {}")

	manifest, err := Validate(KindDetectPrimary, dir, []string{"src/Vault.sol", "test/Vault.t.sol"})
	if err != nil {
		t.Fatalf("unexpected violation: %v", err)
	}
	if manifest.Violated {
		t.Fatalf("expected clean manifest, got %+v", manifest)
	}
}

func TestValidateFinalGateAllowsSpecProse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "threat-model.md"), "## Trust Assumptions\nattacker controls X")
	writeFile(t, filepath.Join(dir, "reviews", "review-1.md"), "see finding [ECON-12] for details")

	manifest, err := Validate(KindFinalGate, dir, []string{"docs/threat-model.md", "reviews/review-1.md"})
	if err != nil {
		t.Fatalf("unexpected violation for final-gate bundle: %v", err)
	}
	if manifest.Violated {
		t.Fatalf("expected final-gate to allow spec prose and cross-model content, got %+v", manifest)
	}
}

func as(err error, target **ViolationError) bool {
	if verr, ok := err.(*ViolationError); ok {
		*target = verr
		return true
	}
	return false
}
