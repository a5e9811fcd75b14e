package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
)

const firecrawlBaseURL = "https://api.firecrawl.dev"

// Firecrawl searches the web and scrapes each hit to markdown.
type Firecrawl struct {
	httpProvider
}

type firecrawlRequest struct {
	Query         string `json:"query"`
	Limit         int    `json:"limit"`
	ScrapeOptions struct {
		Formats []string `json:"formats"`
	} `json:"scrapeOptions"`
}

type firecrawlResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Markdown    string `json:"markdown"`
	} `json:"data"`
}

// NewFirecrawl builds a Firecrawl client.
func NewFirecrawl(opts Options, logger *zap.Logger) *Firecrawl {
	return &Firecrawl{httpProvider: newHTTPProvider(config.SearchFirecrawl, firecrawlBaseURL, opts, logger)}
}

// Provider implements Searcher.
func (f *Firecrawl) Provider() config.SearchAPI { return config.SearchFirecrawl }

// Search implements Searcher.
func (f *Firecrawl) Search(ctx context.Context, queries []string) (Response, error) {
	return f.searchAll(ctx, queries, f.searchOne)
}

func (f *Firecrawl) searchOne(ctx context.Context, query string) ([]Result, error) {
	body := firecrawlRequest{Query: query, Limit: f.maxResults}
	body.ScrapeOptions.Formats = []string{"markdown"}

	var resp firecrawlResponse
	headers := map[string]string{"Authorization": "Bearer " + f.apiKey}
	if err := f.postJSON(ctx, "/v1/search", headers, body, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.Data))
	for _, d := range resp.Data {
		content := d.Markdown
		if content == "" {
			content = d.Description
		}
		out = append(out, Result{URL: d.URL, Title: d.Title, Content: content, Source: string(config.SearchFirecrawl)})
	}
	return out, nil
}
