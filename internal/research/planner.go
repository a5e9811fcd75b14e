package research

import (
	"context"
	"errors"
	"strings"

	"github.com/sparka-ai/deepresearch/internal/llm"
)

// Planner decomposes a brief into sub-questions, one per research unit.
// limit is the maximum number of units for the run. How many of them run at
// once is decided by the coordinator, not the planner.
type Planner interface {
	Plan(ctx context.Context, brief ResearchBrief, limit int, call StructuredCall) ([]string, error)
}

// DirectPlanner researches the brief as a single unit.
type DirectPlanner struct{}

func (DirectPlanner) Plan(_ context.Context, brief ResearchBrief, _ int, _ StructuredCall) ([]string, error) {
	return []string{brief.Brief}, nil
}

// LLMPlanner asks the research model for the sub-questions.
type LLMPlanner struct{}

type plan struct {
	SubQuestions []string `json:"sub_questions"`
}

func (p *plan) Validate() error {
	for _, q := range p.SubQuestions {
		if strings.TrimSpace(q) != "" {
			return nil
		}
	}
	return errors.New("no sub-questions")
}

func (LLMPlanner) Plan(ctx context.Context, brief ResearchBrief, limit int, call StructuredCall) ([]string, error) {
	var out plan
	err := call(ctx, "plan-research", llm.Request{
		System: planSystemPrompt(limit),
		Prompt: "Research brief:\n" + brief.Brief,
		Schema: planSchema,
	}, func(text string) error {
		var p plan
		if err := llm.DecodeObject(text, &p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	questions := make([]string, 0, len(out.SubQuestions))
	for _, q := range out.SubQuestions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if limit > 0 && len(questions) > limit {
		questions = questions[:limit]
	}
	return questions, nil
}
