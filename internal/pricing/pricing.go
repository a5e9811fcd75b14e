package pricing

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sparka-ai/deepresearch/internal/metrics"
)

type modelPrice struct {
	InputPer1K       float64 `yaml:"input_per_1k"`
	OutputPer1K      float64 `yaml:"output_per_1k"`
	CachedInputPer1K float64 `yaml:"cached_input_per_1k"`
}

type searchPrice struct {
	PerQueryCents float64 `yaml:"per_query_cents"`
}

// config mirrors the pricing section of config/models.yaml
type config struct {
	Pricing struct {
		Models map[string]map[string]modelPrice `yaml:"models"`
		Search map[string]searchPrice           `yaml:"search"`
	} `yaml:"pricing"`
}

// Table is an immutable snapshot of model and search prices.
type Table struct {
	models map[string]map[string]modelPrice
	search map[string]searchPrice
}

// Parse decodes a models.yaml document.
func Parse(data []byte) (*Table, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}
	t := &Table{models: cfg.Pricing.Models, search: cfg.Pricing.Search}
	if t.models == nil {
		t.models = map[string]map[string]modelPrice{}
	}
	if t.search == nil {
		t.search = map[string]searchPrice{}
	}
	return t, nil
}

// lookup resolves "provider:model" ids first, then bare model names across providers.
func (t *Table) lookup(model string) (modelPrice, bool) {
	if t == nil || model == "" {
		return modelPrice{}, false
	}
	if provider, name, ok := strings.Cut(model, ":"); ok {
		if m, ok := t.models[provider][name]; ok {
			return m, true
		}
		model = name
	}
	for _, models := range t.models {
		if m, ok := models[model]; ok {
			return m, true
		}
	}
	return modelPrice{}, false
}

// CostForUsage returns the USD cost of a call. input includes cached tokens;
// cached tokens are billed at the cached rate when one is configured.
// ok is false for unknown models.
func (t *Table) CostForUsage(model string, input, output, cached int) (float64, bool) {
	m, ok := t.lookup(model)
	if !ok {
		reason := "unknown_model"
		if model == "" {
			reason = "missing_model"
		}
		metrics.PricingMisses.WithLabelValues(reason).Inc()
		return 0, false
	}
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	if cached < 0 {
		cached = 0
	}
	if cached > input {
		cached = input
	}
	cachedRate := m.CachedInputPer1K
	if cachedRate <= 0 {
		cachedRate = m.InputPer1K
	}
	cost := float64(input-cached)/1000.0*m.InputPer1K +
		float64(cached)/1000.0*cachedRate +
		float64(output)/1000.0*m.OutputPer1K
	return cost, true
}

// SearchCostCents returns the cost in cents of issuing queries against api.
func (t *Table) SearchCostCents(api string, queries int) (float64, bool) {
	if t == nil || queries <= 0 {
		return 0, false
	}
	p, ok := t.search[api]
	if !ok {
		metrics.PricingMisses.WithLabelValues("unknown_search_api").Inc()
		return 0, false
	}
	return p.PerQueryCents * float64(queries), true
}

var (
	mu      sync.RWMutex
	current *Table
	source  string
)

// default locations inside containers / local dev
func defaultPaths() []string {
	return []string{
		os.Getenv("MODELS_CONFIG_PATH"),
		"/app/config/models.yaml",
		"./config/models.yaml",
	}
}

// findUpConfig searches parent directories for config/models.yaml starting at CWD.
func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "models.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func loadLocked() error {
	paths := defaultPaths()
	if p, ok := findUpConfig(); ok {
		paths = append(paths, p)
	}
	var lastErr error
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		t, err := Parse(data)
		if err != nil {
			lastErr = err
			continue
		}
		current = t
		source = p
		return nil
	}
	current = &Table{models: map[string]map[string]modelPrice{}, search: map[string]searchPrice{}}
	source = ""
	if lastErr != nil {
		return lastErr
	}
	return errors.New("models.yaml not found")
}

// Current returns the process-wide pricing table, loading it on first use.
// An empty table is returned when no models.yaml can be found.
func Current() *Table {
	mu.RLock()
	t := current
	mu.RUnlock()
	if t != nil {
		return t
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		_ = loadLocked()
	}
	return current
}

// Reload re-reads models.yaml and returns the path it was loaded from.
func Reload() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	err := loadLocked()
	return source, err
}

// Set replaces the process-wide table.
func Set(t *Table) {
	mu.Lock()
	defer mu.Unlock()
	current = t
}

// ValidateMap validates the pricing section in a raw config map for the config manager.
func ValidateMap(m map[string]interface{}) error {
	p, ok := m["pricing"].(map[string]interface{})
	if !ok {
		return nil
	}
	if provs, ok := p["models"].(map[string]interface{}); ok {
		for provName, pm := range provs {
			models, ok := pm.(map[string]interface{})
			if !ok {
				continue
			}
			for modelName, mv := range models {
				entry, ok := mv.(map[string]interface{})
				if !ok {
					continue
				}
				for _, key := range []string{"input_per_1k", "output_per_1k", "cached_input_per_1k"} {
					if v, ok := toFloat(entry[key]); ok && v < 0 {
						return fmt.Errorf("negative %s for %s:%s", key, provName, modelName)
					}
				}
			}
		}
	}
	if apis, ok := p["search"].(map[string]interface{}); ok {
		for name, sv := range apis {
			entry, ok := sv.(map[string]interface{})
			if !ok {
				continue
			}
			if v, ok := toFloat(entry["per_query_cents"]); ok && v < 0 {
				return fmt.Errorf("negative per_query_cents for %s", name)
			}
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
