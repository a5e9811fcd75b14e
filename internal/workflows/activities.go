package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/research"
)

const heartbeatInterval = 10 * time.Second

// Runner executes one research request.
type Runner interface {
	Run(ctx context.Context, opts research.AgentOptions, in research.Input) (*research.Result, error)
}

// Activities hosts the research activity on a worker.
type Activities struct {
	runner  Runner
	runtime func() config.RuntimeConfig
	logger  *zap.Logger
}

// NewActivities binds the activity to a runner. runtime is consulted for
// every run that carries no config override.
func NewActivities(runner Runner, runtime func() config.RuntimeConfig, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, runtime: runtime, logger: logger}
}

// RunDeepResearch heartbeats while the pipeline runs. Cancelling the activity
// cancels the pipeline. Run-fatal failures are not retryable.
func (a *Activities) RunDeepResearch(ctx context.Context, in DeepResearchInput) (*research.Result, error) {
	cfg := runtimeFor(a.runtime, in.Config)
	info := activity.GetInfo(ctx)
	logger := a.logger.With(
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.String("message_id", in.Request.MessageID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go heartbeat(runCtx, heartbeatInterval)

	res, err := a.runner.Run(runCtx, research.AgentOptions{Config: cfg}, in.Request)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, research.ErrCancelled):
		logger.Info("Deep research cancelled")
		return nil, temporal.NewCanceledError(err.Error())
	case errors.Is(err, research.ErrRunFailed):
		logger.Warn("Deep research failed", zap.Error(err))
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "RunFailed", err)
	default:
		return nil, err
	}
}

// runtimeFor merges a request's overrides onto the worker config.
func runtimeFor(base func() config.RuntimeConfig, o *config.Overrides) config.RuntimeConfig {
	cfg := base()
	if o != nil {
		cfg = o.Apply(cfg, config.AvailabilityFromEnv())
	}
	return cfg
}

func heartbeat(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			activity.RecordHeartbeat(ctx, "running")
		}
	}
}
