// Package pipelineworkflow wraps pkg/pipeline's direct-mode state
// machine in a durable Temporal workflow, the way
// agents/manager/internal/beam/workflow.go wraps its own dyad-bootstrap
// state machine: the workflow function is a thin activity-dispatch
// shell with ActivityOptions/RetryPolicy per call, and the actual work
// (every subprocess invocation, every bundle write) happens inside a
// single activity so Temporal's deterministic-replay constraint never
// has to reason about exec.Cmd or the filesystem.
package pipelineworkflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"auditpipeline/internal/config"
	"auditpipeline/internal/pipelineerrors"
	"auditpipeline/internal/runctx"
	"auditpipeline/pkg/coverage"
	"auditpipeline/pkg/pipeline"
	"auditpipeline/pkg/supervisor"
)

const activityRunPipeline = "RunDetectPipeline"

// TaskQueue is the Temporal task queue this workflow and its activities
// are registered against.
const TaskQueue = "audit-detect-pipeline"

// Request starts one pipeline run against a checked-out repository.
type Request struct {
	RepoPath string
	RunID    string
	BaseDir  string
	Config   config.Config
}

// PipelineWorkflow drives a single run end to end: one activity,
// retried up to the bundle-violation/precondition boundary (those
// failures are not retried — they indicate a malformed bundle or repo,
// not a transient subprocess failure) and otherwise retried with
// backoff against transient tool-CLI failures.
func PipelineWorkflow(ctx workflow.Context, req Request) (pipeline.Summary, error) {
	if req.RepoPath == "" || req.RunID == "" {
		return pipeline.Summary{}, fmt.Errorf("pipelineworkflow: repo path and run id required")
	}

	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * req.Config.SecondaryTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    60 * time.Second,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				string(pipelineerrors.KindBundleViolation),
				string(pipelineerrors.KindPrecondition),
			},
		},
	}

	var summary pipeline.Summary
	err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), activityRunPipeline, req).Get(ctx, &summary)
	return summary, err
}

// Activities holds the dependencies the RunDetectPipeline activity
// needs to construct a RunContext and Supervisor per invocation.
type Activities struct {
	Backend   supervisor.Backend
	Extractor coverage.SymbolExtractor
}

// RunDetectPipeline is the sole activity this workflow calls: it builds
// a fresh RunContext and Supervisor from req and delegates to
// pipeline.Run.
func (a *Activities) RunDetectPipeline(ctx context.Context, req Request) (pipeline.Summary, error) {
	if req.RepoPath == "" || req.RunID == "" {
		return pipeline.Summary{}, fmt.Errorf("pipelineworkflow: repo path and run id required")
	}
	rc := runctx.New(ctx, req.RepoPath, req.RunID, req.BaseDir, req.Config)
	sup := supervisor.New(a.Backend)
	summary, err := pipeline.Run(rc, sup, a.Extractor)
	var pe *pipelineerrors.Error
	if errors.As(err, &pe) {
		// Report the pipeline error kind as the Temporal error type so the
		// retry policy's NonRetryableErrorTypes can match it.
		return summary, temporal.NewApplicationErrorWithCause(pe.Error(), string(pe.Kind), pe)
	}
	return summary, err
}
