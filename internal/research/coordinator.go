package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sparka-ai/deepresearch/internal/llm"
)

// coordinate fans the brief out into at most MaxResearchUnits research units,
// running at most MaxConcurrentResearchUnits at a time, and returns their
// findings in sub-question order.
func (r *run) coordinate(ctx context.Context, brief ResearchBrief) ([]Findings, error) {
	limit := r.opts.Config.MaxConcurrentResearchUnits
	if limit < 1 {
		return nil, fmt.Errorf("%w: max concurrent research units must be at least 1, got %d", ErrRunFailed, limit)
	}
	questions := r.plan(ctx, brief)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.emit(ctx, Thoughts{
		UpdateHeader{ToolCallID: r.opts.ToolCallID, Title: fmt.Sprintf("Planned %d research tasks", len(questions))},
		"- " + strings.Join(questions, "\n- "),
	})

	findings := make([]Findings, len(questions))
	for i, q := range questions {
		findings[i] = Findings{Index: i, Question: q, Status: UnitAborted, Placeholder: true}
	}

	// A unit starts only after it holds a slot; Acquire gives up when ctx is done.
	sem := semaphore.NewWeighted(int64(limit))
	var g errgroup.Group
	for i, q := range questions {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			findings[i] = r.runUnit(ctx, i, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	succeeded := 0
	for _, f := range findings {
		if !f.Placeholder {
			succeeded++
		}
	}
	r.logger.Info("Research units finished",
		zap.Int("units", len(findings)),
		zap.Int("succeeded", succeeded))
	if succeeded == 0 {
		return findings, fmt.Errorf("%w: all %d research units failed", ErrRunFailed, len(findings))
	}
	return findings, nil
}

// plan asks the planner for sub-questions. A failed plan falls back to
// researching the brief directly.
func (r *run) plan(ctx context.Context, brief ResearchBrief) []string {
	cfg := r.opts.Config
	call := func(ctx context.Context, functionID string, req llm.Request, decode func(string) error) error {
		return r.callStructured(ctx, cfg.ResearchModel, functionID, req, decode)
	}
	questions, err := r.planner.Plan(ctx, brief, cfg.MaxResearchUnits, call)
	if err != nil || len(questions) == 0 {
		if ctx.Err() == nil {
			r.logger.Warn("Planning failed, researching the brief directly", zap.Error(err))
		}
		questions, _ = DirectPlanner{}.Plan(ctx, brief, cfg.MaxResearchUnits, nil)
	}
	if len(questions) > cfg.MaxResearchUnits {
		questions = questions[:cfg.MaxResearchUnits]
	}
	return questions
}
