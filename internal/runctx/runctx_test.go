package runctx

import (
	"context"
	"testing"
	"time"

	"auditpipeline/internal/config"
)

func TestGenerateRunIDFormat(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	got := GenerateRunID("detect", now)
	want := "detect-1700000000000"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewRootsArtifactsUnderRunID(t *testing.T) {
	rc := New(context.Background(), "/repo", "detect-123", "/base", config.Default())
	if rc.Artifacts.Root != "/base/detect-123" {
		t.Fatalf("expected artifacts rooted at /base/detect-123, got %s", rc.Artifacts.Root)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	rc := New(context.Background(), "/repo", "detect-123", "/base", config.Default())
	derived, cancel := rc.WithTimeout(10 * time.Millisecond)
	defer cancel()
	time.Sleep(30 * time.Millisecond)
	if !derived.Done() {
		t.Fatalf("expected derived context to be done after timeout")
	}
}

func TestDoneFalseWithoutCancellation(t *testing.T) {
	rc := New(context.Background(), "/repo", "detect-123", "/base", config.Default())
	if rc.Done() {
		t.Fatalf("expected fresh context to not be done")
	}
}
