// Package runctx carries the single value threaded through every pipeline
// stage, replacing the scattered global state the teacher's scripts would
// otherwise accumulate one file at a time: the repository root, run
// identifier, configuration, an artifact store, and the cancellation
// context.
package runctx

import (
	"context"
	"fmt"
	"time"

	"auditpipeline/internal/artifact"
	"auditpipeline/internal/config"
)

// RunContext is passed by value (it holds only references) through every
// stage function; stages never read ambient global state.
type RunContext struct {
	Ctx       context.Context
	RepoPath  string
	RunID     string
	Config    config.Config
	Artifacts *artifact.Store
}

// New constructs a RunContext rooted at repoPath, with artifacts stored
// under baseDir/<runID>.
func New(ctx context.Context, repoPath, runID, baseDir string, cfg config.Config) RunContext {
	return RunContext{
		Ctx:       ctx,
		RepoPath:  repoPath,
		RunID:     runID,
		Config:    cfg,
		Artifacts: artifact.New(fmt.Sprintf("%s/%s", baseDir, runID)),
	}
}

// GenerateRunID builds the orchestrator's default run identifier,
// `<stage>-<epoch-ms>`, used when the caller supplies none.
func GenerateRunID(stage string, now time.Time) string {
	return fmt.Sprintf("%s-%d", stage, now.UnixMilli())
}

// WithTimeout returns a derived RunContext whose Ctx carries the given
// timeout, plus the cancel function the caller must invoke.
func (rc RunContext) WithTimeout(timeout time.Duration) (RunContext, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(rc.Ctx, timeout)
	rc.Ctx = ctx
	return rc, cancel
}

// Done reports whether the run's context has been cancelled or timed out.
func (rc RunContext) Done() bool {
	select {
	case <-rc.Ctx.Done():
		return true
	default:
		return false
	}
}
