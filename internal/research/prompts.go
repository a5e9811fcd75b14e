package research

import (
	"fmt"
	"strings"
	"time"

	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/search"
)

func today() string {
	return time.Now().Format("Mon Jan 2, 2006")
}

var clarificationSchema = &llm.Schema{
	Name: "clarification_decision",
	Definition: llm.ObjectSchema(map[string]any{
		"need_clarification": map[string]any{"type": "boolean", "description": "Whether the user must answer a question before research can start."},
		"question":           map[string]any{"type": "string", "description": "The clarifying question to ask, empty when none is needed."},
		"verification":       map[string]any{"type": "string", "description": "Acknowledgement that research will start, empty when a question is asked."},
	}),
}

func clarifySystemPrompt() string {
	return fmt.Sprintf(`You decide whether a research request can be researched as stated.
Today's date is %s.

Ask for clarification only when the request is genuinely ambiguous: unknown acronyms,
an unclear scope, or missing information that would change what gets researched.
If earlier turns already contain a clarifying question and its answer, do not ask again.

When a question is needed, set need_clarification to true and write one concise question
(bullet points are fine when several details are missing). Otherwise set need_clarification
to false and write a short verification message that restates the scope you understood.`, today())
}

var briefSchema = &llm.Schema{
	Name: "research_brief",
	Definition: llm.ObjectSchema(map[string]any{
		"research_brief": map[string]any{"type": "string", "description": "A detailed research question in the first person that guides the research."},
		"title":          map[string]any{"type": "string", "description": "A short title for the final report."},
	}),
}

func briefSystemPrompt() string {
	return fmt.Sprintf(`Translate the conversation into one detailed research brief.
Today's date is %s.

Keep every requirement, preference and constraint the user stated. Mark dimensions the
user left open as open rather than inventing constraints. Write the brief in the first
person from the user's point of view. Prefer primary and official sources where relevant.
Also produce a short, specific title for the final report.`, today())
}

var planSchema = &llm.Schema{
	Name: "research_plan",
	Definition: llm.ObjectSchema(map[string]any{
		"sub_questions": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Independent, self-contained sub-questions that together cover the brief.",
		},
	}),
}

func planSystemPrompt(limit int) string {
	return fmt.Sprintf(`You split a research brief into independent sub-questions that separate
researchers can investigate independently. Return at most %d sub-questions. Use a single
sub-question when the brief is narrow. Each sub-question must be self-contained because
the researcher will not see the other sub-questions or the conversation.`, limit)
}

func unitDecisionSchema(searchEnabled bool) *llm.Schema {
	actions := []string{"think", "complete"}
	if searchEnabled {
		actions = []string{"search", "think", "complete"}
	}
	return &llm.Schema{
		Name: "research_step",
		Definition: llm.ObjectSchema(map[string]any{
			"action":     map[string]any{"type": "string", "enum": actions},
			"queries":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"reflection": map[string]any{"type": "string"},
		}),
	}
}

func unitSystemPrompt(searchEnabled bool, maxQueries, iteration, maxIterations int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a researcher investigating one question. Today's date is %s.\n\n", today())
	b.WriteString("At every step choose exactly one action:\n")
	if searchEnabled {
		fmt.Fprintf(&b, "- search: run up to %d web search queries listed in queries.\n", maxQueries)
	}
	b.WriteString("- think: write your reasoning about what you know and what is missing in reflection.\n")
	b.WriteString("- complete: stop when you can answer the question comprehensively.\n\n")
	if !searchEnabled {
		b.WriteString("Web search is not available. Work from the conversation and your own knowledge.\n")
	}
	fmt.Fprintf(&b, "This is step %d of at most %d. Stop early once additional searches stop adding new information.", iteration, maxIterations)
	return b.String()
}

func unitTaskPrompt(question string) string {
	return "Research question:\n" + question
}

func searchResultsPrompt(queries []string, results []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %s:\n", strings.Join(quoteAll(queries), ", "))
	if len(results) == 0 {
		b.WriteString("No results.\n")
	}
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- SOURCE %d: %s ---\nURL: %s\n\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	return b.String()
}

func summarizeSystemPrompt() string {
	return fmt.Sprintf(`Summarize the web page below for a researcher. Today's date is %s.
Keep facts, figures, dates, names and direct quotes that matter. Drop navigation,
ads and boilerplate. Keep roughly a quarter of the original length.`, today())
}

func compressSystemPrompt() string {
	return fmt.Sprintf(`You clean up the notes of a research session. Today's date is %s.

Rewrite every relevant finding from the session without losing information, keeping
source attributions. End with a "Sources" section listing each cited URL once with a
sequential number that the findings reference inline as [n]. Do not add conclusions that
are not supported by the session. If the session produced nothing useful, reply with an
empty message.`, today())
}

const compressRequest = "Clean up the findings of this research session now."

func reportSystemPrompt() string {
	return fmt.Sprintf(`You write the final research report in markdown. Today's date is %s.

Use the findings of every research unit. Some units may be marked as missing; do not
present missing topics as researched, mention the gap briefly instead. Cite sources
inline as [n] and finish with a "Sources" section. Write in the language of the user's
request.`, today())
}

func reportPrompt(brief ResearchBrief, blocks []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\nResearch brief:\n%s\n\nFindings:\n", brief.Title, brief.Brief)
	for _, block := range blocks {
		b.WriteString("\n")
		b.WriteString(block)
		b.WriteString("\n")
	}
	return b.String()
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
