package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparka-ai/deepresearch/internal/budget"
	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/search"
)

func searchConfig() config.RuntimeConfig {
	cfg := testConfig()
	cfg.SearchAPI = config.SearchTavily
	return cfg
}

func TestUnitCapsQueriesPerRound(t *testing.T) {
	h := newHarness()
	searcher := &fakeSearcher{}
	h.llm.on("research-step", func(_ llm.Request, _ string, n int) (string, error) {
		if n <= 2 {
			return `{"action":"search","queries":["a","b","c","d","e"],"reflection":""}`, nil
		}
		return `{"action":"complete","queries":[],"reflection":""}`, nil
	})
	cfg := searchConfig()
	cfg.SearchAPIMaxQueries = 2

	_, err := h.run(context.Background(), cfg, WithSearcher(searcher), WithPlanner(DirectPlanner{}))
	require.NoError(t, err)

	require.Equal(t, 2, searcher.roundCount())
	for _, round := range searcher.rounds {
		assert.LessOrEqual(t, len(round), cfg.SearchAPIMaxQueries)
	}
	webs := h.log.ofKind(KindWeb)
	require.Len(t, webs, 2)
	web := webs[0].(Web)
	assert.Equal(t, []string{"a", "b"}, web.Queries)
	assert.Equal(t, "call-1-unit-1", web.ToolCallID)
	assert.Len(t, web.Results, 2)
}

func TestUnitStopsAtIterationCapAndStillCompresses(t *testing.T) {
	h := newHarness()
	h.llm.on("research-step", func(llm.Request, string, int) (string, error) {
		return `{"action":"think","queries":[],"reflection":"still thinking"}`, nil
	})
	cfg := testConfig()
	cfg.MaxResearcherIterations = 3

	res, err := h.run(context.Background(), cfg, WithPlanner(staticPlanner{"only"}))
	require.NoError(t, err)
	assert.Equal(t, ResultReport, res.Type)
	assert.Equal(t, 3, h.llm.countFor("research-step", "only"))
	assert.Equal(t, 1, h.llm.countFor("compress-research", "only"))

	thoughts := 0
	for _, u := range h.log.ofKind(KindThoughts) {
		if u.(Thoughts).Text == "still thinking" {
			thoughts++
		}
	}
	assert.Equal(t, 3, thoughts)
}

func TestUnitSearchFailureIsContained(t *testing.T) {
	h := newHarness()
	searcher := &fakeSearcher{err: errors.New("tavily: status 502")}
	h.llm.on("research-step", func(req llm.Request, _ string, n int) (string, error) {
		if n == 1 {
			return `{"action":"search","queries":["solar"],"reflection":""}`, nil
		}
		last := req.Messages[len(req.Messages)-1]
		assert.Contains(t, last.Content, "Search failed")
		return `{"action":"complete","queries":[],"reflection":""}`, nil
	})

	res, err := h.run(context.Background(), searchConfig(), WithSearcher(searcher), WithPlanner(DirectPlanner{}))
	require.NoError(t, err)
	assert.Equal(t, ResultReport, res.Type)
	assert.Empty(t, h.log.ofKind(KindWeb))
	for _, e := range h.costs.Entries() {
		assert.NotEqual(t, budget.EntryAPI, e.Kind)
	}
}

func TestUnitSummarizesLongPagesAndChargesSearch(t *testing.T) {
	h := newHarness()
	searcher := &fakeSearcher{content: strings.Repeat("long page text ", 1000)}
	h.llm.on("research-step", func(req llm.Request, _ string, n int) (string, error) {
		if n == 1 {
			return `{"action":"search","queries":["solar","wind"],"reflection":""}`, nil
		}
		last := req.Messages[len(req.Messages)-1]
		assert.Contains(t, last.Content, "short summary")
		assert.NotContains(t, last.Content, "long page text long page text long page text")
		return `{"action":"complete","queries":[],"reflection":""}`, nil
	})

	_, err := h.run(context.Background(), searchConfig(), WithSearcher(searcher), WithPlanner(DirectPlanner{}))
	require.NoError(t, err)
	assert.Equal(t, 2, h.llm.count("summarize-webpage"))

	web := h.log.ofKind(KindWeb)[0].(Web)
	for _, r := range web.Results {
		assert.LessOrEqual(t, len(r.Content), webPreviewLength)
	}

	var api []budget.Entry
	labels := map[string]bool{}
	for _, e := range h.costs.Entries() {
		if e.Kind == budget.EntryAPI {
			api = append(api, e)
		}
		labels[e.Label] = true
	}
	require.Len(t, api, 1)
	assert.Equal(t, "tavily", api[0].APIName)
	assert.InDelta(t, 1.6, api[0].CostCents, 1e-9)
	assert.True(t, labels["summarize-webpage"])
	assert.True(t, labels["research-step"])
	assert.True(t, labels["final-report"])
}

func TestCapQueries(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, capQueries([]string{" a ", "", "b", "c"}, 2))
	assert.Empty(t, capQueries([]string{"  "}, 3))
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "hé", truncate("héllo", 3))
	assert.Equal(t, "h", truncate("héllo", 2))
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestCachedSearchesAreNotCharged(t *testing.T) {
	h := newHarness()
	inner := &fakeSearcher{}
	cached, err := search.NewCached(inner, 16)
	require.NoError(t, err)
	h.llm.on("research-step", func(_ llm.Request, _ string, n int) (string, error) {
		if n == 1 {
			return `{"action":"search","queries":["solar"],"reflection":""}`, nil
		}
		return `{"action":"complete","queries":[],"reflection":""}`, nil
	})
	cfg := searchConfig()
	cfg.MaxConcurrentResearchUnits = 1

	_, err = h.run(context.Background(), cfg, WithSearcher(cached), WithPlanner(staticPlanner{"a", "b", "c"}))
	require.NoError(t, err)
	assert.Equal(t, 1, inner.roundCount())
	assert.Len(t, h.log.ofKind(KindWeb), 3)

	var api []budget.Entry
	for _, e := range h.costs.Entries() {
		if e.Kind == budget.EntryAPI {
			api = append(api, e)
		}
	}
	require.Len(t, api, 1)
	assert.InDelta(t, 0.8, api[0].CostCents, 1e-9)
}
