package budget

import (
	"math"
	"sync"
	"time"
)

// Usage is the token accounting of one model call. InputTokens includes CachedTokens.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// EntryKind distinguishes ledger entries.
type EntryKind string

const (
	EntryLLM EntryKind = "llm"
	EntryAPI EntryKind = "api"
)

// Entry is one ledger line. LLM entries carry ModelID, Usage and Label;
// API entries carry APIName and CostCents. CostUSD is set for both.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	ModelID   string    `json:"model_id,omitempty"`
	Usage     Usage     `json:"usage,omitempty"`
	Label     string    `json:"label,omitempty"`
	APIName   string    `json:"api_name,omitempty"`
	CostCents float64   `json:"cost_cents,omitempty"`
	CostUSD   float64   `json:"cost_usd"`
	At        time.Time `json:"at"`
}

// Pricer prices model usage in USD. ok is false for unknown models.
type Pricer interface {
	CostForUsage(model string, input, output, cached int) (float64, bool)
}

// Accumulator is the append-only cost ledger of one research run.
// It is safe for concurrent use by research units.
type Accumulator struct {
	pricer  Pricer
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// NewAccumulator returns an empty ledger priced by p.
func NewAccumulator(p Pricer) *Accumulator {
	return &Accumulator{pricer: p, now: time.Now}
}

// AddLLMUsage records a model call. Calls with zero usage, unknown pricing or
// zero cost are not recorded; the return value reports whether an entry was added.
func (a *Accumulator) AddLLMUsage(modelID string, u Usage, label string) bool {
	if u.InputTokens <= 0 && u.OutputTokens <= 0 {
		return false
	}
	if a.pricer == nil {
		return false
	}
	cost, ok := a.pricer.CostForUsage(modelID, u.InputTokens, u.OutputTokens, u.CachedTokens)
	if !ok || cost <= 0 {
		return false
	}
	a.append(Entry{Kind: EntryLLM, ModelID: modelID, Usage: u, Label: label, CostUSD: cost})
	return true
}

// AddAPICost records a flat external API charge in cents.
func (a *Accumulator) AddAPICost(apiName string, costCents float64) bool {
	if costCents <= 0 {
		return false
	}
	a.append(Entry{Kind: EntryAPI, APIName: apiName, CostCents: costCents, CostUSD: costCents / 100})
	return true
}

func (a *Accumulator) append(e Entry) {
	a.mu.Lock()
	e.At = a.now()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

// TotalUSD is the dollar sum of all entries.
func (a *Accumulator) TotalUSD() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total float64
	for _, e := range a.entries {
		total += e.CostUSD
	}
	return total
}

// TotalCostCents is the ceiling, in whole cents, of the dollar sum. Any
// positive spend costs at least one cent.
func (a *Accumulator) TotalCostCents() int {
	raw := a.TotalUSD() * 100
	if raw <= 0 {
		return 0
	}
	// absorb float noise such as 12.000000000001 before taking the ceiling
	cents := int(math.Ceil(math.Round(raw*1e6) / 1e6))
	return max(cents, 1)
}

// HasEntries reports whether anything billable was recorded.
func (a *Accumulator) HasEntries() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries) > 0
}

// Entries returns a copy of the ledger in insertion order.
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}
