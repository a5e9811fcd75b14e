package workflows

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/research"
)

var (
	ErrRunNotFound   = errors.New("research run not found")
	ErrAlreadyExists = errors.New("research run already exists")
)

// RunState is the coarse lifecycle of a launched run.
type RunState string

const (
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunStatus is what a launcher knows about one run.
type RunStatus struct {
	ID     string           `json:"id"`
	State  RunState         `json:"state"`
	Result *research.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Launcher starts research runs and reports on them. Run ids are message ids.
type Launcher interface {
	Start(ctx context.Context, in DeepResearchInput) (string, error)
	Status(ctx context.Context, id string) (*RunStatus, error)
	Cancel(ctx context.Context, id string) error
}

// WorkflowID is the Temporal workflow id for a message.
func WorkflowID(messageID string) string {
	return "deep-research-" + messageID
}

func ensureMessageID(in *DeepResearchInput) {
	if in.Request.MessageID == "" {
		in.Request.MessageID = uuid.NewString()
	}
}

// TemporalLauncher runs research as DeepResearchWorkflow executions.
type TemporalLauncher struct {
	client    client.Client
	taskQueue string
	logger    *zap.Logger
}

func NewTemporalLauncher(c client.Client, taskQueue string, logger *zap.Logger) *TemporalLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalLauncher{client: c, taskQueue: taskQueue, logger: logger}
}

func (l *TemporalLauncher) Start(ctx context.Context, in DeepResearchInput) (string, error) {
	ensureMessageID(&in)
	opts := client.StartWorkflowOptions{
		ID:                    WorkflowID(in.Request.MessageID),
		TaskQueue:             l.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,

		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	we, err := l.client.ExecuteWorkflow(ctx, opts, DeepResearchWorkflow, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, in.Request.MessageID)
		}
		return "", fmt.Errorf("start workflow: %w", err)
	}
	l.logger.Info("Started deep research workflow",
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()))
	return in.Request.MessageID, nil
}

func (l *TemporalLauncher) Status(ctx context.Context, id string) (*RunStatus, error) {
	wid := WorkflowID(id)
	desc, err := l.client.DescribeWorkflowExecution(ctx, wid, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("describe workflow: %w", err)
	}
	st := &RunStatus{ID: id}
	switch desc.GetWorkflowExecutionInfo().GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		st.State = StateRunning
		return st, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		st.State = StateCancelled
		return st, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var res research.Result
		if err := l.client.GetWorkflow(ctx, wid, "").Get(ctx, &res); err != nil {
			return nil, fmt.Errorf("workflow result: %w", err)
		}
		st.State = StateCompleted
		st.Result = &res
		return st, nil
	default:
		st.State = StateFailed
		if err := l.client.GetWorkflow(ctx, wid, "").Get(ctx, nil); err != nil {
			st.Error = err.Error()
		}
		return st, nil
	}
}

func (l *TemporalLauncher) Cancel(ctx context.Context, id string) error {
	if err := l.client.CancelWorkflow(ctx, WorkflowID(id), ""); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return ErrRunNotFound
		}
		return err
	}
	return nil
}

// LocalLauncher runs research in-process. Status is kept in memory.
type LocalLauncher struct {
	runner  Runner
	runtime func() config.RuntimeConfig
	logger  *zap.Logger
	base    context.Context

	mu   sync.Mutex
	runs map[string]*localRun
}

type localRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	status RunStatus
}

// NewLocalLauncher runs requests on runner. Runs are cancelled when ctx is.
func NewLocalLauncher(ctx context.Context, runner Runner, runtime func() config.RuntimeConfig, logger *zap.Logger) *LocalLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalLauncher{
		runner:  runner,
		runtime: runtime,
		logger:  logger,
		base:    ctx,
		runs:    make(map[string]*localRun),
	}
}

func (l *LocalLauncher) Start(_ context.Context, in DeepResearchInput) (string, error) {
	ensureMessageID(&in)
	id := in.Request.MessageID

	l.mu.Lock()
	if _, ok := l.runs[id]; ok {
		l.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	ctx, cancel := context.WithCancel(l.base)
	lr := &localRun{cancel: cancel, done: make(chan struct{}), status: RunStatus{ID: id, State: StateRunning}}
	l.runs[id] = lr
	l.mu.Unlock()

	cfg := runtimeFor(l.runtime, in.Config)
	go func() {
		defer close(lr.done)
		defer cancel()
		res, err := l.runner.Run(ctx, research.AgentOptions{Config: cfg}, in.Request)

		l.mu.Lock()
		defer l.mu.Unlock()
		switch {
		case err == nil:
			lr.status.State = StateCompleted
			lr.status.Result = res
		case errors.Is(err, research.ErrCancelled):
			lr.status.State = StateCancelled
			lr.status.Error = err.Error()
		default:
			lr.status.State = StateFailed
			lr.status.Error = err.Error()
			l.logger.Warn("Local research run failed", zap.String("message_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

func (l *LocalLauncher) Status(_ context.Context, id string) (*RunStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lr, ok := l.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	st := lr.status
	return &st, nil
}

func (l *LocalLauncher) Cancel(_ context.Context, id string) error {
	l.mu.Lock()
	lr, ok := l.runs[id]
	l.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	lr.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (l *LocalLauncher) Wait(ctx context.Context, id string) (*RunStatus, error) {
	l.mu.Lock()
	lr, ok := l.runs[id]
	l.mu.Unlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	select {
	case <-lr.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.Status(ctx, id)
}
