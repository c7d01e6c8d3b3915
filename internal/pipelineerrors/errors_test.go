package pipelineerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindPrecondition, 1},
		{KindBundleViolation, 1},
		{KindSubprocessFailure, 2},
		{KindTimeout, 3},
		{KindValidation, 1},
	}
	for _, c := range cases {
		err := New(c.kind, "detect", errors.New("boom"))
		if got := ExitCode(err); got != c.want {
			t.Fatalf("kind %s: expected exit %d, got %d", c.kind, c.want, got)
		}
	}
}

func TestExitCodeWrappedError(t *testing.T) {
	inner := New(KindTimeout, "detect", errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("stage failed: %w", inner)
	if got := ExitCode(wrapped); got != 3 {
		t.Fatalf("expected exit 3 for wrapped timeout error, got %d", got)
	}
}

func TestExitCodeNilIsZero(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected exit 0 for nil error, got %d", got)
	}
}

func TestExitCodeUntypedErrorDefaultsToOne(t *testing.T) {
	if got := ExitCode(errors.New("plain")); got != 1 {
		t.Fatalf("expected exit 1 for untyped error, got %d", got)
	}
}
