// Package pipelineerrors defines the typed error taxonomy the orchestrator
// uses to decide process exit codes and whether a failure is retryable.
// Stages wrap underlying errors with a Kind rather than inventing new Go
// error types per failure mode, mirroring the free-form "Kind" tagging the
// teacher uses for task classification (agents/manager/internal/beam).
package pipelineerrors

import "fmt"

// Kind classifies why a stage failed.
type Kind string

const (
	KindPrecondition      Kind = "precondition"
	KindBundleViolation   Kind = "bundle_violation"
	KindSubprocessFailure Kind = "subprocess_failure"
	KindTimeout           Kind = "timeout"
	KindValidation        Kind = "validation"
	KindGradingFailure    Kind = "grading_failure"
	KindJudgeFailure      Kind = "judge_failure"
	KindPlaceholderDetected Kind = "placeholder_detected"
)

// Error wraps an underlying error with a Kind and the stage that raised
// it, so the orchestrator's exit-code mapping never has to string-match
// error text.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and stage.
func New(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Newf formats a message and wraps it with kind and stage.
func Newf(kind Kind, stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps a pipeline error onto the process exit-code convention:
// 0 success, 1 hard precondition/bundle failure, 2 external-tool error,
// 3 timeout. Errors not wrapped in *Error (or nil) map to 0/generic
// failure per the caller's own fallback.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *Error
	if !asError(err, &pe) {
		return 1
	}
	switch pe.Kind {
	case KindPrecondition, KindBundleViolation:
		return 1
	case KindSubprocessFailure:
		return 2
	case KindTimeout:
		return 3
	default:
		return 1
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if pe, ok := err.(*Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
