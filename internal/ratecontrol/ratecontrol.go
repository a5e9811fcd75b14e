package ratecontrol

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type config struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

// RateLimit is a requests-per-minute budget. Zero means unlimited.
type RateLimit struct {
	RPM int
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
)

func defaultPaths() []string {
	return []string{
		os.Getenv("MODELS_CONFIG_PATH"),
		"/app/config/models.yaml",
		"./config/models.yaml",
	}
}

func loadLocked() {
	var cfg config
	paths := defaultPaths()
	if p, ok := findUpConfig(); ok {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			continue
		}
		cfg = tmp
		break
	}
	loaded = &cfg
	initialized = true
}

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

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// Reload re-reads the rate_limits section of models.yaml.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 500},
	"google":    {RPM: 300},
	"firecrawl": {RPM: 100},
	"tavily":    {RPM: 100},
}

// LimitForProvider resolves configured overrides, then built-ins, then the default RPM.
func LimitForProvider(provider string) RateLimit {
	key := strings.ToLower(strings.TrimSpace(provider))
	cfg := get()
	if cfg != nil {
		if override, ok := cfg.RateLimits.ProviderOverrides[key]; ok {
			return RateLimit{RPM: override.RPM}
		}
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	if cfg != nil {
		return RateLimit{RPM: cfg.RateLimits.DefaultRPM}
	}
	return RateLimit{}
}

// CombineLimits returns the stricter positive limit of a and b.
func CombineLimits(a, b RateLimit) RateLimit {
	return RateLimit{RPM: minPositive(a.RPM, b.RPM)}
}

// NewLimiter builds a token bucket for limit. Unlimited budgets never block.
func NewLimiter(limit RateLimit) *rate.Limiter {
	if limit.RPM <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := limit.RPM / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit.RPM)), burst)
}

// Registry hands out one shared limiter per provider.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	ceiling  RateLimit
}

// NewRegistry creates a registry whose limiters never exceed ceiling (zero = no ceiling).
func NewRegistry(ceiling RateLimit) *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter), ceiling: ceiling}
}

// For returns the limiter for provider, creating it on first use.
func (r *Registry) For(provider string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	l := NewLimiter(CombineLimits(LimitForProvider(provider), r.ceiling))
	r.limiters[provider] = l
	return l
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
