package research

import (
	"context"
	"strings"

	"github.com/sparka-ai/deepresearch/internal/llm"
)

func (r *run) writeBrief(ctx context.Context, messages []llm.Message) (ResearchBrief, error) {
	brief, err := generateObject[ResearchBrief](ctx, r, r.opts.Config.ResearchModel, "write-research-brief", llm.Request{
		System:   briefSystemPrompt(),
		Messages: messages,
		Schema:   briefSchema,
	})
	if err != nil {
		return ResearchBrief{}, err
	}
	brief.Brief = strings.TrimSpace(brief.Brief)
	brief.Title = strings.TrimSpace(brief.Title)
	return brief, nil
}
