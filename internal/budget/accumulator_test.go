package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flatPricer map[string]float64 // USD per token, input and output alike

func (p flatPricer) CostForUsage(model string, input, output, cached int) (float64, bool) {
	price, ok := p[model]
	if !ok {
		return 0, false
	}
	return float64(input+output) * price, true
}

func TestAccumulatorCeilingInCents(t *testing.T) {
	acc := NewAccumulator(flatPricer{"m": 0.00001})

	require.True(t, acc.AddLLMUsage("m", Usage{InputTokens: 100, OutputTokens: 50}, "research"))
	// 150 tokens * $0.00001 = $0.0015 → 0.15 cents → ceiling 1
	assert.Equal(t, 1, acc.TotalCostCents())

	require.True(t, acc.AddAPICost("tavily", 2.4))
	// 0.15 + 2.4 = 2.55 cents → 3
	assert.Equal(t, 3, acc.TotalCostCents())
}

func TestAccumulatorExactCentsDoNotRoundUp(t *testing.T) {
	acc := NewAccumulator(nil)
	for i := 0; i < 10; i++ {
		acc.AddAPICost("firecrawl", 0.1)
	}
	// ten float additions of 0.001 USD drift slightly above 1 cent
	assert.Equal(t, 1, acc.TotalCostCents())
}

func TestAccumulatorSkipsZeroAndUnpriced(t *testing.T) {
	acc := NewAccumulator(flatPricer{"m": 0.00001, "free": 0})

	assert.False(t, acc.AddLLMUsage("m", Usage{}, "empty"))
	assert.False(t, acc.AddLLMUsage("unknown", Usage{InputTokens: 10}, "unpriced"))
	assert.False(t, acc.AddLLMUsage("free", Usage{InputTokens: 10}, "zero cost"))
	assert.False(t, acc.AddAPICost("tavily", 0))
	assert.False(t, acc.AddAPICost("tavily", -3))

	assert.False(t, acc.HasEntries())
	assert.Equal(t, 0, acc.TotalCostCents())
}

func TestAccumulatorEntriesInInsertionOrder(t *testing.T) {
	acc := NewAccumulator(flatPricer{"m": 0.001})
	acc.AddLLMUsage("m", Usage{InputTokens: 1}, "first")
	acc.AddAPICost("tavily", 1)
	acc.AddLLMUsage("m", Usage{OutputTokens: 1}, "third")

	entries := acc.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "first", entries[0].Label)
	assert.Equal(t, EntryAPI, entries[1].Kind)
	assert.Equal(t, "third", entries[2].Label)

	// the copy is detached from the ledger
	entries[0].Label = "mutated"
	assert.Equal(t, "first", acc.Entries()[0].Label)
}

func TestAccumulatorTotalIsIdempotent(t *testing.T) {
	acc := NewAccumulator(flatPricer{"m": 0.000003})
	acc.AddLLMUsage("m", Usage{InputTokens: 1234, OutputTokens: 567}, "x")

	first := acc.TotalCostCents()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, acc.TotalCostCents())
	}
}

func TestAccumulatorConcurrentWrites(t *testing.T) {
	acc := NewAccumulator(flatPricer{"m": 0.0001})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.AddLLMUsage("m", Usage{InputTokens: 10}, "unit")
			acc.AddAPICost("tavily", 0.5)
		}()
	}
	wg.Wait()

	assert.Len(t, acc.Entries(), 100)
	// 50 * 10 tokens * $0.0001 = $0.05 = 5 cents, plus 50 * 0.5 cents = 25 cents
	assert.Equal(t, 30, acc.TotalCostCents())
}

func TestAccumulatorTinySpendCostsOneCent(t *testing.T) {
	acc := NewAccumulator(flatPricer{"m": 1e-12})
	require.True(t, acc.AddLLMUsage("m", Usage{InputTokens: 10}, "tiny"))
	require.True(t, acc.HasEntries())
	assert.Equal(t, 1, acc.TotalCostCents())
}

func TestAccumulatorTimestampsFollowInsertionOrder(t *testing.T) {
	acc := NewAccumulator(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	acc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.AddAPICost("tavily", 0.8)
		}()
	}
	wg.Wait()

	entries := acc.Entries()
	require.Len(t, entries, 40)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i].At.After(entries[i-1].At), "entry %d is stamped before entry %d", i, i-1)
	}
}
