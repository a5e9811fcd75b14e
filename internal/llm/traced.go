package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/metrics"
	"github.com/sparka-ai/deepresearch/internal/tracing"
)

// Traced tags every call with its function id and run metadata: one span per
// call, Prometheus counters and a debug log line. It never changes results.
type Traced struct {
	next   Client
	tracer trace.Tracer
	logger *zap.Logger
}

// NewTraced wraps next. A nil tracer uses the service tracer.
func NewTraced(next Client, tracer trace.Tracer, logger *zap.Logger) *Traced {
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	return &Traced{next: next, tracer: tracer, logger: logger}
}

func (t *Traced) start(ctx context.Context, op string, req Request) (context.Context, trace.Span) {
	fn := req.FunctionID
	if fn == "" {
		fn = "unnamed"
	}
	return t.tracer.Start(ctx, "llm."+op+" "+fn, trace.WithAttributes(
		attribute.String("llm.function_id", fn),
		attribute.String("llm.model", req.Model),
		attribute.String("research.message_id", req.Metadata.MessageID),
		attribute.String("research.request_id", req.Metadata.RequestID),
		attribute.Bool("llm.structured", req.Schema != nil),
	))
}

func (t *Traced) finish(span trace.Span, req Request, started time.Time, resp *Response, err error) {
	fn := req.FunctionID
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if resp != nil {
		span.SetAttributes(
			attribute.Int("llm.usage.input_tokens", resp.Usage.Input),
			attribute.Int("llm.usage.output_tokens", resp.Usage.Output),
			attribute.Int("llm.usage.cached_tokens", resp.Usage.Cached),
		)
		metrics.ModelTokens.WithLabelValues(req.Model, "input").Add(float64(resp.Usage.Input))
		metrics.ModelTokens.WithLabelValues(req.Model, "output").Add(float64(resp.Usage.Output))
		metrics.ModelTokens.WithLabelValues(req.Model, "cached").Add(float64(resp.Usage.Cached))
	}
	span.End()

	elapsed := time.Since(started)
	metrics.ModelCalls.WithLabelValues(fn, req.Model, status).Inc()
	metrics.ModelLatency.WithLabelValues(fn, req.Model).Observe(elapsed.Seconds())
	t.logger.Debug("Model call finished",
		zap.String("function_id", fn),
		zap.String("model", req.Model),
		zap.String("message_id", req.Metadata.MessageID),
		zap.String("request_id", req.Metadata.RequestID),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
}

// Generate implements Client.
func (t *Traced) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, span := t.start(ctx, "generate", req)
	started := time.Now()
	resp, err := t.next.Generate(ctx, req)
	t.finish(span, req, started, resp, err)
	return resp, err
}

// Stream implements Client.
func (t *Traced) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	ctx, span := t.start(ctx, "stream", req)
	started := time.Now()
	resp, err := t.next.Stream(ctx, req, onChunk)
	t.finish(span, req, started, resp, err)
	return resp, err
}
