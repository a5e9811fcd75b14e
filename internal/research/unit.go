package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/metrics"
	"github.com/sparka-ai/deepresearch/internal/search"
	"github.com/sparka-ai/deepresearch/internal/util"
)

const (
	// pages longer than this are summarized before entering the transcript
	summarizeThreshold = 6000
	// input cap for the summarization model
	maxSummaryInput = 50000
	// content preview length in web updates
	webPreviewLength = 280
)

type unitAction string

const (
	actionSearch   unitAction = "search"
	actionThink    unitAction = "think"
	actionComplete unitAction = "complete"
)

type unitDecision struct {
	Action     unitAction `json:"action"`
	Queries    []string   `json:"queries"`
	Reflection string     `json:"reflection"`
}

func (d *unitDecision) Validate() error {
	switch d.Action {
	case actionThink, actionComplete:
		return nil
	case actionSearch:
		for _, q := range d.Queries {
			if strings.TrimSpace(q) != "" {
				return nil
			}
		}
		return errors.New("search action without queries")
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
}

// researchUnit is one investigation thread. It is owned by a single goroutine.
type researchUnit struct {
	index      int
	question   string
	toolCallID string
	transcript []llm.Message
	iterations int
	status     UnitStatus
	findings   string
	err        error
}

// runUnit executes the research loop for one sub-question and compresses the
// transcript into findings. Failures stay inside the unit.
func (r *run) runUnit(ctx context.Context, index int, question string) Findings {
	u := &researchUnit{
		index:      index,
		question:   question,
		toolCallID: r.opts.unitToolCallID(index),
		transcript: []llm.Message{{Role: llm.RoleUser, Content: unitTaskPrompt(question)}},
	}
	if ctx.Err() != nil {
		u.status = UnitAborted
		return u.result()
	}

	metrics.UnitsInFlight.Inc()
	defer metrics.UnitsInFlight.Dec()

	logger := r.logger.With(zap.String("tool_call_id", u.toolCallID), zap.Int("unit", index+1))
	r.emit(ctx, Thoughts{UpdateHeader{ToolCallID: u.toolCallID, Title: "Researching"}, question})

	r.iterate(ctx, u, logger)
	if u.status == "" {
		if ctx.Err() != nil {
			u.status = UnitAborted
		} else {
			r.compress(ctx, u, logger)
		}
	}

	metrics.UnitIterations.Observe(float64(u.iterations))
	metrics.UnitsCompleted.WithLabelValues(string(u.status)).Inc()
	logger.Info("Research unit finished",
		zap.String("status", string(u.status)),
		zap.Int("iterations", u.iterations),
		zap.Int("findings_len", len(u.findings)))
	return u.result()
}

// iterate runs at most MaxResearcherIterations decision steps. It sets a
// status only when the unit ends without compression.
func (r *run) iterate(ctx context.Context, u *researchUnit, logger *zap.Logger) {
	cfg := r.opts.Config
	searchEnabled := r.searchEnabled()
	for u.iterations < cfg.MaxResearcherIterations {
		if ctx.Err() != nil {
			u.status = UnitAborted
			return
		}
		u.iterations++

		decision, err := generateObject[unitDecision](ctx, r, cfg.ResearchModel, "research-step", llm.Request{
			System:   unitSystemPrompt(searchEnabled, cfg.SearchAPIMaxQueries, u.iterations, cfg.MaxResearcherIterations),
			Messages: u.transcript,
			Schema:   unitDecisionSchema(searchEnabled),
		})
		if err != nil {
			if ctx.Err() != nil {
				u.status = UnitAborted
				return
			}
			logger.Warn("Research step failed", zap.Int("iteration", u.iterations), zap.Error(err))
			u.status = UnitFailed
			u.err = err
			return
		}
		decisionJSON, _ := json.Marshal(decision)
		u.transcript = append(u.transcript, llm.Message{Role: llm.RoleAssistant, Content: string(decisionJSON)})

		switch decision.Action {
		case actionComplete:
			return
		case actionSearch:
			if !searchEnabled {
				u.transcript = append(u.transcript, llm.Message{Role: llm.RoleUser, Content: "Web search is not available. Choose think or complete."})
				continue
			}
			r.searchRound(ctx, u, decision.Queries, logger)
		default:
			if text := strings.TrimSpace(decision.Reflection); text != "" {
				r.emit(ctx, Thoughts{UpdateHeader{ToolCallID: u.toolCallID, Title: "Reflecting"}, text})
			}
			u.transcript = append(u.transcript, llm.Message{Role: llm.RoleUser, Content: "Reflection recorded. Continue."})
		}
	}
}

func (r *run) searchEnabled() bool {
	return r.opts.Config.SearchAPI.Enabled() && r.searcher != nil
}

// capQueries drops blanks and keeps at most limit queries.
func capQueries(queries []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, q := range queries {
		if len(out) == limit {
			break
		}
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func (r *run) searchRound(ctx context.Context, u *researchUnit, requested []string, logger *zap.Logger) {
	queries := capQueries(requested, r.opts.Config.SearchAPIMaxQueries)
	if len(requested) > len(queries) {
		logger.Debug("Truncated search queries", zap.Int("requested", len(requested)), zap.Int("issued", len(queries)))
	}

	resp, err := r.searcher.Search(ctx, queries)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("Search failed", zap.Strings("queries", queries), zap.Error(err))
		u.transcript = append(u.transcript, llm.Message{Role: llm.RoleUser, Content: "Search failed: " + err.Error()})
		return
	}
	api := string(r.opts.Config.SearchAPI)
	if resp.Billed > 0 {
		if cents, ok := r.pricer.SearchCostCents(api, resp.Billed); ok {
			r.opts.Costs.AddAPICost(api, cents)
		}
	}

	results := r.summarizeResults(ctx, resp.Results, logger)
	r.emit(ctx, Web{
		UpdateHeader: UpdateHeader{ToolCallID: u.toolCallID, Title: "Searching the web"},
		Queries:      queries,
		Results:      previews(results),
	})
	u.transcript = append(u.transcript, llm.Message{Role: llm.RoleUser, Content: searchResultsPrompt(queries, results)})
}

// summarizeResults shortens long pages with the summarization model. A page
// whose summary fails keeps a truncated copy of its raw content.
func (r *run) summarizeResults(ctx context.Context, results []search.Result, logger *zap.Logger) []search.Result {
	spec := r.opts.Config.SummarizationModel
	out := make([]search.Result, len(results))
	for i, res := range results {
		out[i] = res
		if len(res.Content) <= summarizeThreshold || ctx.Err() != nil {
			continue
		}
		resp, err := r.llm.Generate(ctx, llm.Request{
			Model:      spec.ID,
			MaxTokens:  spec.MaxTokens,
			System:     summarizeSystemPrompt(),
			Prompt:     truncate(res.Content, maxSummaryInput),
			FunctionID: "summarize-webpage",
			Metadata:   r.opts.metadata(),
		})
		r.recordUsage(spec.ID, resp, "summarize-webpage")
		if err != nil || strings.TrimSpace(resp.Text) == "" {
			logger.Debug("Webpage summary failed", zap.String("url", res.URL), zap.Error(err))
			out[i].Content = truncate(res.Content, summarizeThreshold)
			continue
		}
		out[i].Content = strings.TrimSpace(resp.Text)
	}
	return out
}

func (r *run) compress(ctx context.Context, u *researchUnit, logger *zap.Logger) {
	spec := r.opts.Config.CompressionModel
	messages := append(append([]llm.Message(nil), u.transcript...), llm.Message{Role: llm.RoleUser, Content: compressRequest})
	resp, err := r.llm.Generate(ctx, llm.Request{
		Model:      spec.ID,
		MaxTokens:  spec.MaxTokens,
		System:     compressSystemPrompt(),
		Messages:   messages,
		FunctionID: "compress-research",
		Metadata:   r.opts.metadata(),
	})
	r.recordUsage(spec.ID, resp, "compress-research")
	switch {
	case ctx.Err() != nil:
		u.status = UnitAborted
	case err != nil:
		logger.Warn("Compression failed", zap.Error(err))
		u.status = UnitFailed
		u.err = fmt.Errorf("compress findings: %w", err)
	default:
		u.status = UnitCompleted
		u.findings = strings.TrimSpace(resp.Text)
	}
}

func (u *researchUnit) result() Findings {
	f := Findings{
		Index:      u.index,
		Question:   u.question,
		Status:     u.status,
		Text:       u.findings,
		Iterations: u.iterations,
	}
	if u.err != nil {
		f.Err = u.err.Error()
	}
	if u.status != UnitCompleted || f.Text == "" {
		f.Placeholder = true
		f.Text = ""
	}
	return f
}

func previews(results []search.Result) []search.Result {
	out := make([]search.Result, len(results))
	for i, r := range results {
		r.Content = util.TruncateString(r.Content, webPreviewLength, true)
		out[i] = r
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
