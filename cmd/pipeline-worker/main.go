// Command pipeline-worker hosts the Temporal worker that executes
// PipelineWorkflow runs, following agents/manager/cmd/worker/main.go's
// dial-register-run shape.
package main

import (
	"log"
	"os"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"auditpipeline/internal/controller/pipelineworkflow"
	"auditpipeline/pkg/coverage"
	"auditpipeline/pkg/supervisor"
)

func main() {
	logger := log.New(os.Stdout, "pipeline-worker ", log.LstdFlags|log.LUTC)
	addr := env("TEMPORAL_ADDRESS", "localhost:7233")
	namespace := env("TEMPORAL_NAMESPACE", "default")
	taskQueue := env("TEMPORAL_TASK_QUEUE", pipelineworkflow.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  addr,
		Namespace: namespace,
	})
	if err != nil {
		logger.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(pipelineworkflow.PipelineWorkflow)

	activities := &pipelineworkflow.Activities{
		Backend:   backendFromEnv(),
		Extractor: coverage.RegexExtractor{},
	}
	w.RegisterActivity(activities)

	logger.Printf("worker started (task queue: %s)", taskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatalf("worker error: %v", err)
	}
}

// backendFromEnv resolves the secondary-model CLI from environment
// variables, the same convention internal/config uses for its own
// overrides.
func backendFromEnv() supervisor.Backend {
	path := env("SECONDARY_MODEL_PATH", "secondary-model")
	args := os.Getenv("SECONDARY_MODEL_ARGS")
	baseArgs := splitArgs(args)
	return supervisor.MapBackend{
		supervisor.ToolSecondaryModel: {Path: path, BaseArgs: baseArgs},
	}
}

func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
