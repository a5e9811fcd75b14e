package ratecontrol

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestCombineLimits(t *testing.T) {
	cases := []struct {
		a, b RateLimit
		want int
	}{
		{RateLimit{RPM: 30}, RateLimit{RPM: 20}, 20},
		{RateLimit{RPM: 0}, RateLimit{RPM: 20}, 20},
		{RateLimit{RPM: 30}, RateLimit{}, 30},
		{RateLimit{}, RateLimit{}, 0},
	}
	for _, tc := range cases {
		if got := CombineLimits(tc.a, tc.b).RPM; got != tc.want {
			t.Fatalf("CombineLimits(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNewLimiterUnlimited(t *testing.T) {
	l := NewLimiter(RateLimit{})
	if l.Limit() != rate.Inf {
		t.Fatalf("expected infinite limit, got %v", l.Limit())
	}
}

func TestNewLimiterRate(t *testing.T) {
	l := NewLimiter(RateLimit{RPM: 120})
	if got := float64(l.Limit()); got < 1.99 || got > 2.01 {
		t.Fatalf("expected 2 events/sec, got %v", got)
	}
	if l.Burst() != 12 {
		t.Fatalf("expected burst 12, got %d", l.Burst())
	}
}

func TestRegistrySharesLimiterPerProvider(t *testing.T) {
	r := NewRegistry(RateLimit{RPM: 60})
	a := r.For("tavily")
	b := r.For("tavily")
	if a != b {
		t.Fatal("expected the same limiter for repeated lookups")
	}
	if float64(a.Limit()) > 1.01 {
		t.Fatalf("ceiling of 60 rpm not applied: %v", a.Limit())
	}
	if r.For("firecrawl") == a {
		t.Fatal("providers must not share limiters")
	}
}

func TestLimitForProviderBuiltIn(t *testing.T) {
	if LimitForProvider("Firecrawl").RPM <= 0 {
		t.Fatal("expected a built-in limit for firecrawl")
	}
}
