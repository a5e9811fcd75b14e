package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily queries the Tavily search API with raw page content included.
type Tavily struct {
	httpProvider
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
	Topic             string `json:"topic,omitempty"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// NewTavily builds a Tavily client.
func NewTavily(opts Options, logger *zap.Logger) *Tavily {
	return &Tavily{httpProvider: newHTTPProvider(config.SearchTavily, tavilyBaseURL, opts, logger)}
}

// Provider implements Searcher.
func (t *Tavily) Provider() config.SearchAPI { return config.SearchTavily }

// Search implements Searcher.
func (t *Tavily) Search(ctx context.Context, queries []string) (Response, error) {
	return t.searchAll(ctx, queries, t.searchOne)
}

func (t *Tavily) searchOne(ctx context.Context, query string) ([]Result, error) {
	body := tavilyRequest{Query: query, MaxResults: t.maxResults, IncludeRawContent: true, Topic: "general"}
	var resp tavilyResponse
	headers := map[string]string{"Authorization": "Bearer " + t.apiKey}
	if err := t.postJSON(ctx, "/search", headers, body, &resp); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		content := r.RawContent
		if content == "" {
			content = r.Content
		}
		out = append(out, Result{URL: r.URL, Title: r.Title, Content: content, Source: string(config.SearchTavily)})
	}
	return out, nil
}
