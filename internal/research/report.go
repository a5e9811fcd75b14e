package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/llm"
)

const (
	// context-length retries of the report call
	maxReportTruncations = 3
	// share of each findings block kept per truncation
	truncationRatio = 0.6
)

// findingsBlocks renders findings in order. Placeholder blocks are flagged.
func findingsBlocks(findings []Findings) []string {
	blocks := make([]string, len(findings))
	for i, f := range findings {
		if f.Placeholder {
			blocks[i] = fmt.Sprintf("## Research task %d: %s\n[MISSING: this task produced no usable findings. Do not present it as researched.]", f.Index+1, f.Question)
			continue
		}
		blocks[i] = fmt.Sprintf("## Research task %d: %s\n%s", f.Index+1, f.Question, f.Text)
	}
	return blocks
}

// truncateBlocks keeps ratio of every non-placeholder block.
func truncateBlocks(blocks []string, findings []Findings, ratio float64) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		if findings[i].Placeholder {
			out[i] = b
			continue
		}
		out[i] = truncate(b, int(float64(len(b))*ratio))
	}
	return out
}

// writeReport streams the final report, forwarding every chunk as a Writing
// update, and stores it as a document.
func (r *run) writeReport(ctx context.Context, brief ResearchBrief, findings []Findings) (DocumentToolResult, error) {
	spec := r.opts.Config.FinalReportModel
	blocks := findingsBlocks(findings)
	header := UpdateHeader{ToolCallID: r.opts.ToolCallID, Title: brief.Title}

	var text string
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return DocumentToolResult{}, err
		}
		var (
			b         strings.Builder
			delivered bool
		)
		resp, err := r.llm.Stream(ctx, llm.Request{
			Model:      spec.ID,
			MaxTokens:  spec.MaxTokens,
			System:     reportSystemPrompt(),
			Prompt:     reportPrompt(brief, blocks),
			FunctionID: "final-report",
			Metadata:   r.opts.metadata(),
		}, func(delta string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if delta == "" {
				return nil
			}
			delivered = true
			b.WriteString(delta)
			r.emit(ctx, Writing{header, delta})
			return nil
		})
		r.recordUsage(spec.ID, resp, "final-report")
		if err == nil {
			text = b.String()
			if resp != nil && resp.Text != "" {
				text = resp.Text
			}
			break
		}
		if errors.Is(err, llm.ErrContextLength) && !delivered && attempt < maxReportTruncations {
			r.logger.Warn("Report exceeded context window, truncating findings", zap.Int("attempt", attempt+1))
			blocks = truncateBlocks(blocks, findings, truncationRatio)
			continue
		}
		return DocumentToolResult{}, fmt.Errorf("write report: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return DocumentToolResult{}, errors.New("write report: empty report")
	}
	doc, err := r.docs.Create(ctx, brief.Title, text)
	if err != nil {
		return DocumentToolResult{}, fmt.Errorf("store report: %w", err)
	}
	return DocumentToolResult{ID: doc.ID, Title: doc.Title, Kind: doc.Kind, Content: doc.Content}, nil
}
