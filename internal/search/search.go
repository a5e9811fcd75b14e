package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sparka-ai/deepresearch/internal/circuitbreaker"
	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/interceptors"
	"github.com/sparka-ai/deepresearch/internal/metrics"
	"github.com/sparka-ai/deepresearch/internal/ratecontrol"
	"github.com/sparka-ai/deepresearch/internal/tracing"
)

// ErrNoSearchProvider is returned by New when the configured API is none.
var ErrNoSearchProvider = errors.New("search: no provider configured")

// Result is one web page returned by a provider.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Response is the merged, URL-deduplicated outcome of a batch of queries.
// Billed counts the queries the provider answered; cache hits and failed
// queries are not billed.
type Response struct {
	Results []Result
	Billed  int
}

// Searcher runs a batch of queries against one provider.
type Searcher interface {
	Search(ctx context.Context, queries []string) (Response, error)
	Provider() config.SearchAPI
}

// Options tunes the HTTP-backed providers.
type Options struct {
	APIKey            string
	BaseURL           string
	MaxResults        int
	Timeout           time.Duration
	RequestsPerMinute int
	CacheSize         int
	HTTPClient        *http.Client
}

// New returns the Searcher for api. It returns ErrNoSearchProvider for none.
func New(api config.SearchAPI, opts Options, logger *zap.Logger) (Searcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var s Searcher
	switch api {
	case config.SearchFirecrawl:
		s = NewFirecrawl(opts, logger)
	case config.SearchTavily:
		s = NewTavily(opts, logger)
	case config.SearchNone, "":
		return nil, ErrNoSearchProvider
	default:
		return nil, fmt.Errorf("search: unknown provider %q", api)
	}
	if opts.CacheSize > 0 {
		return NewCached(s, opts.CacheSize)
	}
	return s, nil
}

// httpProvider holds the plumbing shared by the concrete providers.
type httpProvider struct {
	name       config.SearchAPI
	apiKey     string
	baseURL    string
	maxResults int
	http       *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func newHTTPProvider(name config.SearchAPI, defaultBase string, opts Options, logger *zap.Logger) httpProvider {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: circuitbreaker.NewTransport(interceptors.NewWorkflowHTTPRoundTripper(nil), string(name), circuitbreaker.DefaultConfig(), logger),
		}
	}
	limit := ratecontrol.CombineLimits(
		ratecontrol.LimitForProvider(string(name)),
		ratecontrol.RateLimit{RPM: opts.RequestsPerMinute},
	)
	return httpProvider{
		name:       name,
		apiKey:     opts.APIKey,
		baseURL:    base,
		maxResults: maxResults,
		http:       client,
		limiter:    ratecontrol.NewLimiter(limit),
		logger:     logger,
	}
}

// postJSON sends body to path and decodes the JSON reply into out.
func (p *httpProvider) postJSON(ctx context.Context, path string, headers map[string]string, body, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	url := p.baseURL + path
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	start := time.Now()
	status := "error"
	defer func() {
		metrics.SearchRequests.WithLabelValues(string(p.name), status).Inc()
		metrics.SearchLatency.WithLabelValues(string(p.name)).Observe(time.Since(start).Seconds())
	}()

	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	status = "success"
	return nil
}

// searchAll runs one query at a time, skipping failed queries. It only fails
// when every query fails or ctx is done.
func (p *httpProvider) searchAll(ctx context.Context, queries []string, one func(context.Context, string) ([]Result, error)) (Response, error) {
	var (
		batches  [][]Result
		firstErr error
		failures int
	)
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		res, err := one(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			failures++
			if firstErr == nil {
				firstErr = err
			}
			p.logger.Warn("search query failed",
				zap.String("provider", string(p.name)),
				zap.String("query", q),
				zap.Error(err))
			continue
		}
		batches = append(batches, res)
	}
	if failures > 0 && len(batches) == 0 {
		return Response{}, firstErr
	}
	return Response{Results: Dedupe(batches...), Billed: len(batches)}, nil
}

// Dedupe merges batches keeping the first result seen for each URL.
func Dedupe(batches ...[]Result) []Result {
	seen := make(map[string]struct{})
	var out []Result
	for _, batch := range batches {
		for _, r := range batch {
			key := strings.TrimRight(r.URL, "/")
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
