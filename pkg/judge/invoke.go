package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auditpipeline/pkg/match"
	"auditpipeline/pkg/supervisor"
)

// NewSupervisedJudge builds a ModelJudge that invokes the judge model CLI
// through sup: the ground-truth finding and the available detected
// findings are sent as a JSON stdin payload, and the captured stdout is
// handed to ExtractEnvelope. This is the semantic tier's production
// wiring — match.MatchAll's optional third tier, enabled whenever a
// Judge is supplied.
func NewSupervisedJudge(sup *supervisor.Supervisor, timeout time.Duration) ModelJudge {
	return ModelJudge{
		Invoke: func(gt match.GroundTruthFinding, detected []match.DetectedView) (string, error) {
			payload, err := json.Marshal(struct {
				GroundTruth match.GroundTruthFinding `json:"groundTruth"`
				Detected    []match.DetectedView     `json:"detected"`
			}{GroundTruth: gt, Detected: detected})
			if err != nil {
				return "", fmt.Errorf("judge: marshaling invocation payload: %w", err)
			}
			result, err := sup.Run(context.Background(), supervisor.ToolJudgeModel, nil, payload, timeout)
			if err != nil {
				return "", fmt.Errorf("judge: invoking judge model: %w", err)
			}
			return result.Stdout, nil
		},
	}
}
