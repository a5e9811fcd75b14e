package circuitbreaker

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Transport is an http.RoundTripper guarded by a circuit breaker. Transport
// errors and 5xx responses count as failures; 4xx responses do not.
type Transport struct {
	next http.RoundTripper
	cb   *CircuitBreaker
}

// NewTransport wraps next (http.DefaultTransport when nil) with a breaker named name.
func NewTransport(next http.RoundTripper, name string, config Config, logger *zap.Logger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, cb: NewCircuitBreaker(name, config, logger)}
}

// Breaker exposes the underlying breaker.
func (t *Transport) Breaker() *CircuitBreaker { return t.cb }

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	generation, err := t.cb.Allow()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.cb.Name(), err)
	}
	resp, err := t.next.RoundTrip(req)
	t.cb.Done(generation, err == nil && resp.StatusCode < 500)
	return resp, err
}
