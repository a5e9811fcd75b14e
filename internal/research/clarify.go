package research

import (
	"context"

	"github.com/sparka-ai/deepresearch/internal/llm"
)

// clarify decides whether the conversation needs a clarifying question.
// When clarification is disabled the model is not called.
func (r *run) clarify(ctx context.Context, messages []llm.Message) (ClarificationDecision, error) {
	if !r.opts.Config.AllowClarification {
		return ClarificationDecision{}, nil
	}
	return generateObject[ClarificationDecision](ctx, r, r.opts.Config.StatusUpdateModel, "clarify-with-user", llm.Request{
		System:   clarifySystemPrompt(),
		Messages: messages,
		Schema:   clarificationSchema,
	})
}
