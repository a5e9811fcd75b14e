package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/budget"
	"github.com/sparka-ai/deepresearch/internal/documents"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/metrics"
	"github.com/sparka-ai/deepresearch/internal/pricing"
	"github.com/sparka-ai/deepresearch/internal/search"
	"github.com/sparka-ai/deepresearch/internal/streaming"
	"github.com/sparka-ai/deepresearch/internal/tracing"
)

// Pricer prices model usage and search queries.
type Pricer interface {
	budget.Pricer
	SearchCostCents(api string, queries int) (float64, bool)
}

// Pipeline runs deep research requests. It is safe for concurrent runs.
type Pipeline struct {
	llm      llm.Client
	searcher search.Searcher
	docs     documents.Store
	planner  Planner
	pricing  func() Pricer
	recorder *budget.Recorder
	stream   *streaming.Manager
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSearcher enables web search for runs whose SearchAPI is not none.
func WithSearcher(s search.Searcher) Option {
	return func(p *Pipeline) { p.searcher = s }
}

// WithPlanner replaces the default LLMPlanner.
func WithPlanner(pl Planner) Option {
	return func(p *Pipeline) { p.planner = pl }
}

// WithPricing sets the price source consulted at the start of every run.
func WithPricing(fn func() Pricer) Option {
	return func(p *Pipeline) { p.pricing = fn }
}

// WithRecorder persists each run's cost ledger.
func WithRecorder(rec *budget.Recorder) Option {
	return func(p *Pipeline) { p.recorder = rec }
}

// WithStream publishes updates of runs without an explicit emitter to m,
// keyed by message id.
func WithStream(m *streaming.Manager) Option {
	return func(p *Pipeline) { p.stream = m }
}

func NewPipeline(client llm.Client, docs documents.Store, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		llm:     client,
		docs:    docs,
		planner: LLMPlanner{},
		pricing: func() Pricer { return pricing.Current() },
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries one execution of the pipeline.
type run struct {
	*Pipeline
	opts   AgentOptions
	pricer Pricer
	logger *zap.Logger
}

func (r *run) emit(ctx context.Context, u Update) {
	r.opts.Emitter.Emit(ctx, u)
}

// prepare fills ids from in and creates the emitter and accumulator when absent.
func (p *Pipeline) prepare(opts AgentOptions, in Input, pricer Pricer) AgentOptions {
	if opts.MessageID == "" {
		opts.MessageID = in.MessageID
	}
	if opts.RequestID == "" {
		opts.RequestID = in.RequestID
	}
	if opts.ToolCallID == "" {
		opts.ToolCallID = in.ToolCallID
	}
	if opts.ToolCallID == "" {
		opts.ToolCallID = uuid.NewString()
	}
	if opts.Emitter == nil {
		opts.Emitter = NewEmitter(opts.ToolCallID, nil)
		if p.stream != nil && opts.MessageID != "" {
			opts.Emitter.WithStream(p.stream, opts.MessageID, p.logger)
		}
	}
	if opts.Costs == nil {
		opts.Costs = budget.NewAccumulator(pricer)
	}
	return opts
}

// Run executes one research request. It returns a clarifying question or a
// stored report. Run-fatal failures wrap ErrRunFailed and cancellation
// returns ErrCancelled; in both cases a Problem update closes the stream.
func (p *Pipeline) Run(ctx context.Context, opts AgentOptions, in Input) (*Result, error) {
	pricer := p.pricing()
	opts = p.prepare(opts, in, pricer)
	r := &run{
		Pipeline: p,
		opts:     opts,
		pricer:   pricer,
		logger: p.logger.With(
			zap.String("message_id", opts.MessageID),
			zap.String("request_id", opts.RequestID),
			zap.String("tool_call_id", opts.ToolCallID)),
	}

	ctx, span := tracing.StartSpan(ctx, "research.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("research.message_id", opts.MessageID),
		attribute.String("research.request_id", opts.RequestID),
	)

	started := time.Now()
	metrics.RunsStarted.Inc()
	r.emit(ctx, Started{UpdateHeader{ToolCallID: opts.ToolCallID, Title: "Starting research"}})

	res, err := r.execute(ctx, in.Messages)
	outcome := ""
	switch {
	case err == nil:
		outcome = string(res.Type)
		title := "Research complete"
		if res.Type == ResultClarifyingQuestion {
			title = "Clarification needed"
		}
		r.emit(ctx, Completed{UpdateHeader{ToolCallID: opts.ToolCallID, Title: title}})
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		outcome = "cancelled"
		err = fmt.Errorf("%w: %v", ErrCancelled, err)
		r.emit(ctx, Problem{UpdateHeader{ToolCallID: opts.ToolCallID, Title: "Research cancelled"}, "research was cancelled"})
	default:
		outcome = "problem"
		if !errors.Is(err, ErrRunFailed) {
			err = fmt.Errorf("%w: %w", ErrRunFailed, err)
		}
		r.emit(ctx, Problem{UpdateHeader{ToolCallID: opts.ToolCallID, Title: "Research could not complete"}, err.Error()})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	r.finish(ctx, outcome, started)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *run) execute(ctx context.Context, messages []llm.Message) (*Result, error) {
	decision, err := r.clarify(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("clarification: %w", err)
	}
	if decision.NeedClarification {
		return ClarifyingQuestion(decision.Question), nil
	}

	brief, err := r.writeBrief(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("research brief: %w", err)
	}
	r.emit(ctx, Thoughts{UpdateHeader{ToolCallID: r.opts.ToolCallID, Title: brief.Title}, brief.Brief})

	findings, err := r.coordinate(ctx, brief)
	if err != nil {
		return nil, err
	}

	doc, err := r.writeReport(ctx, brief, findings)
	if err != nil {
		return nil, err
	}
	return ReportResult(doc), nil
}

// finish records run metrics and persists the cost ledger.
func (r *run) finish(ctx context.Context, outcome string, started time.Time) {
	costs := r.opts.Costs
	metrics.RunsCompleted.WithLabelValues(outcome).Inc()
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	cents := costs.TotalCostCents()
	metrics.RunCostCents.Observe(float64(cents))

	if r.recorder != nil && costs.HasEntries() {
		if err := r.recorder.Record(context.WithoutCancel(ctx), r.opts.MessageID, costs.Entries()); err != nil {
			r.logger.Warn("Failed to persist cost ledger", zap.Error(err))
		}
	}
	r.logger.Info("Research run finished",
		zap.String("outcome", outcome),
		zap.Int("cost_cents", cents),
		zap.Duration("duration", time.Since(started)))
}
