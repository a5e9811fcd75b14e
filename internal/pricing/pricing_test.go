package pricing

import (
	"math"
	"testing"
)

const testYAML = `
pricing:
  models:
    openai:
      gpt-4.1:
        input_per_1k: 0.002
        output_per_1k: 0.008
        cached_input_per_1k: 0.0005
    google:
      gemini-2.5-flash:
        input_per_1k: 0.0003
        output_per_1k: 0.0025
  search:
    tavily:
      per_query_cents: 0.8
`

func mustParse(t *testing.T) *Table {
	t.Helper()
	tbl, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tbl
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func TestCostForUsage_SplitAndCached(t *testing.T) {
	tbl := mustParse(t)

	cost, ok := tbl.CostForUsage("openai:gpt-4.1", 2000, 1000, 1000)
	if !ok {
		t.Fatalf("expected gpt-4.1 to be priced")
	}
	// 1000 uncached * 0.002/1k + 1000 cached * 0.0005/1k + 1000 out * 0.008/1k
	if want := 0.002 + 0.0005 + 0.008; !almostEqual(cost, want) {
		t.Fatalf("cost = %v, want %v", cost, want)
	}
}

func TestCostForUsage_CachedFallsBackToInputRate(t *testing.T) {
	tbl := mustParse(t)

	cost, ok := tbl.CostForUsage("gemini-2.5-flash", 1000, 0, 500)
	if !ok {
		t.Fatalf("expected bare model name lookup to succeed")
	}
	if want := 0.0003; !almostEqual(cost, want) {
		t.Fatalf("cost = %v, want %v", cost, want)
	}
}

func TestCostForUsage_UnknownModel(t *testing.T) {
	tbl := mustParse(t)
	for _, model := range []string{"", "openai:gpt-9", "mystery"} {
		if cost, ok := tbl.CostForUsage(model, 100, 100, 0); ok || cost != 0 {
			t.Fatalf("CostForUsage(%q) = %v, %v; want 0, false", model, cost, ok)
		}
	}
}

func TestCostForUsage_ClampsNegativeCounts(t *testing.T) {
	tbl := mustParse(t)
	cost, ok := tbl.CostForUsage("openai:gpt-4.1", -5, -5, 10)
	if !ok || cost != 0 {
		t.Fatalf("expected zero cost for negative counts, got %v %v", cost, ok)
	}
}

func TestSearchCostCents(t *testing.T) {
	tbl := mustParse(t)
	if c, ok := tbl.SearchCostCents("tavily", 3); !ok || !almostEqual(c, 2.4) {
		t.Fatalf("tavily cost = %v %v", c, ok)
	}
	if _, ok := tbl.SearchCostCents("firecrawl", 3); ok {
		t.Fatalf("unpriced api should report ok=false")
	}
	if _, ok := tbl.SearchCostCents("tavily", 0); ok {
		t.Fatalf("zero queries should report ok=false")
	}
}

func TestValidateMap(t *testing.T) {
	good := map[string]interface{}{
		"pricing": map[string]interface{}{
			"models": map[string]interface{}{
				"openai": map[string]interface{}{
					"gpt-4.1": map[string]interface{}{"input_per_1k": 0.002, "output_per_1k": 0.008},
				},
			},
		},
	}
	if err := ValidateMap(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := map[string]interface{}{
		"pricing": map[string]interface{}{
			"search": map[string]interface{}{
				"tavily": map[string]interface{}{"per_query_cents": -1},
			},
		},
	}
	if err := ValidateMap(bad); err == nil {
		t.Fatalf("expected negative search price to be rejected")
	}
}

func TestSetAndCurrent(t *testing.T) {
	prev := Current()
	defer Set(prev)

	tbl := mustParse(t)
	Set(tbl)
	if Current() != tbl {
		t.Fatalf("Current did not return the table passed to Set")
	}
}
