package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/research"
)

// RunDeepResearchActivity is the registered name of Activities.RunDeepResearch.
const RunDeepResearchActivity = "RunDeepResearch"

const (
	researchStartToClose = 2 * time.Hour
	researchHeartbeat    = 30 * time.Second
)

// DeepResearchInput starts one research run. Fields set in Config override
// the worker's runtime configuration one by one.
type DeepResearchInput struct {
	Request research.Input    `json:"request"`
	Config  *config.Overrides `json:"config,omitempty"`
}

// DeepResearchWorkflow runs the research pipeline as a single activity. The
// pipeline is not idempotent, so the activity is never retried.
func DeepResearchWorkflow(ctx workflow.Context, in DeepResearchInput) (*research.Result, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting DeepResearchWorkflow",
		"message_id", in.Request.MessageID,
		"request_id", in.Request.RequestID,
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: researchStartToClose,
		HeartbeatTimeout:    researchHeartbeat,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result research.Result
	if err := workflow.ExecuteActivity(ctx, RunDeepResearchActivity, in).Get(ctx, &result); err != nil {
		logger.Error("Deep research failed", "message_id", in.Request.MessageID, "error", err)
		return nil, err
	}
	logger.Info("Deep research finished", "message_id", in.Request.MessageID, "type", string(result.Type))
	return &result, nil
}
