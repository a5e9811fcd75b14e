package research

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/budget"
	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/metrics"
	"github.com/sparka-ai/deepresearch/internal/retry"
)

// StructuredCall runs one schema-validated model call under the run's retry
// and cost policy. decode is applied to every response and its error decides
// whether the attempt is retried.
type StructuredCall func(ctx context.Context, functionID string, req llm.Request, decode func(text string) error) error

func isInvalidOutput(err error) bool {
	return errors.Is(err, llm.ErrInvalidStructuredOutput)
}

// callStructured issues at most 1+MaxStructuredOutputRetries model calls.
func (r *run) callStructured(ctx context.Context, spec config.ModelSpec, functionID string, req llm.Request, decode func(text string) error) error {
	_, err := retryStructured(ctx, r, spec, functionID, req, func(ctx context.Context, req llm.Request) (struct{}, *llm.Response, error) {
		resp, err := r.llm.Generate(ctx, req)
		if err != nil {
			return struct{}{}, resp, err
		}
		return struct{}{}, resp, decode(resp.Text)
	})
	return err
}

// generateObject decodes into a fresh T per attempt.
func generateObject[T any](ctx context.Context, r *run, spec config.ModelSpec, functionID string, req llm.Request) (T, error) {
	return retryStructured(ctx, r, spec, functionID, req, func(ctx context.Context, req llm.Request) (T, *llm.Response, error) {
		return llm.GenerateObject[T](ctx, r.llm, req)
	})
}

// retryStructured runs attempt under the run's retry policy, retrying only
// invalid output, and charges every response it gets back.
func retryStructured[T any](ctx context.Context, r *run, spec config.ModelSpec, functionID string, req llm.Request,
	attempt func(context.Context, llm.Request) (T, *llm.Response, error)) (T, error) {
	req.Model = spec.ID
	req.MaxTokens = spec.MaxTokens
	req.FunctionID = functionID
	req.Metadata = r.opts.metadata()

	return retry.Do(ctx, retry.Config{
		MaxRetries:  r.opts.Config.MaxStructuredOutputRetries,
		ShouldRetry: isInvalidOutput,
		OnRetry: func(n int, err error) {
			metrics.StructuredRetries.WithLabelValues(functionID).Inc()
			r.logger.Debug("Retrying structured output",
				zap.String("function_id", functionID),
				zap.Int("attempt", n),
				zap.Error(err))
		},
	}, func(ctx context.Context, _ int) (T, error) {
		out, resp, err := attempt(ctx, req)
		r.recordUsage(spec.ID, resp, functionID)
		return out, err
	})
}

func (r *run) recordUsage(modelID string, resp *llm.Response, label string) {
	if resp == nil {
		return
	}
	r.opts.Costs.AddLLMUsage(modelID, budget.Usage{
		InputTokens:  resp.Usage.Input,
		OutputTokens: resp.Usage.Output,
		CachedTokens: resp.Usage.Cached,
	}, label)
}
