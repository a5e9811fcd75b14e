package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/llm"
	"github.com/sparka-ai/deepresearch/internal/search"
)

// handler scripts one function id. n is the 1-based call count for that
// function and question.
type handler func(req llm.Request, question string, n int) (string, error)

type fakeLLM struct {
	mu          sync.Mutex
	handlers    map[string]handler
	calls       map[string]int
	perQuestion map[string]int
	requests    map[string][]llm.Request
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeLLM() *fakeLLM {
	f := &fakeLLM{
		calls:       make(map[string]int),
		perQuestion: make(map[string]int),
		requests:    make(map[string][]llm.Request),
		handlers: map[string]handler{
			"clarify-with-user": func(llm.Request, string, int) (string, error) {
				return `{"need_clarification":false,"question":"","verification":"Starting research."}`, nil
			},
			"write-research-brief": func(llm.Request, string, int) (string, error) {
				return `{"research_brief":"I want to know about solar storage.","title":"Solar Storage"}`, nil
			},
			"plan-research": func(llm.Request, string, int) (string, error) {
				return `{"sub_questions":["battery chemistry","grid policy"]}`, nil
			},
			"research-step": func(llm.Request, string, int) (string, error) {
				return `{"action":"complete","queries":[],"reflection":""}`, nil
			},
			"compress-research": func(_ llm.Request, q string, _ int) (string, error) {
				return "findings for " + q, nil
			},
			"summarize-webpage": func(llm.Request, string, int) (string, error) {
				return "short summary", nil
			},
			"final-report": func(llm.Request, string, int) (string, error) {
				return "# Solar Storage\n\nBatteries are getting cheaper [1].", nil
			},
		},
	}
	return f
}

func (f *fakeLLM) on(functionID string, h handler) *fakeLLM {
	f.handlers[functionID] = h
	return f
}

func (f *fakeLLM) count(functionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[functionID]
}

func (f *fakeLLM) countFor(functionID, question string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perQuestion[functionID+"|"+question]
}

func (f *fakeLLM) lastRequest(functionID string) llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[functionID]
	if len(reqs) == 0 {
		return llm.Request{}
	}
	return reqs[len(reqs)-1]
}

// questionOf extracts the unit question from a unit transcript.
func questionOf(req llm.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return strings.TrimPrefix(req.Messages[0].Content, "Research question:\n")
}

func (f *fakeLLM) call(ctx context.Context, req llm.Request) (string, error) {
	q := questionOf(req)
	f.mu.Lock()
	f.calls[req.FunctionID]++
	key := req.FunctionID + "|" + q
	f.perQuestion[key]++
	n := f.perQuestion[key]
	f.requests[req.FunctionID] = append(f.requests[req.FunctionID], req)
	h, ok := f.handlers[req.FunctionID]
	unitCall := req.FunctionID == "research-step" || req.FunctionID == "compress-research"
	if unitCall {
		f.inFlight++
		if f.inFlight > f.maxInFlight {
			f.maxInFlight = f.inFlight
		}
	}
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		if unitCall {
			f.mu.Lock()
			f.inFlight--
			f.mu.Unlock()
		}
	}()
	if !ok {
		return "", fmt.Errorf("unscripted function %q", req.FunctionID)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return h(req, q, n)
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	text, err := f.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: text, Model: req.Model, Usage: llm.Usage{Input: 1000, Output: 200}}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	text, err := f.call(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		if err := onChunk(word); err != nil {
			return nil, err
		}
	}
	return &llm.Response{Text: text, Model: req.Model, Usage: llm.Usage{Input: 2000, Output: 500}}, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	rounds  [][]string
	content string
	err     error
}

func (s *fakeSearcher) Provider() config.SearchAPI { return config.SearchTavily }

func (s *fakeSearcher) Search(_ context.Context, queries []string) (search.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, append([]string(nil), queries...))
	if s.err != nil {
		return search.Response{}, s.err
	}
	out := make([]search.Result, 0, len(queries))
	for _, q := range queries {
		content := s.content
		if content == "" {
			content = "page about " + q
		}
		out = append(out, search.Result{URL: "https://example.com/" + q, Title: q, Content: content, Source: "tavily"})
	}
	return search.Response{Results: out, Billed: len(queries)}, nil
}

func (s *fakeSearcher) roundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rounds)
}

// flatPricer charges every model and search query.
type flatPricer struct{}

func (flatPricer) CostForUsage(_ string, input, output, _ int) (float64, bool) {
	return float64(input)/1e6 + float64(output)/1e5, true
}

func (flatPricer) SearchCostCents(_ string, queries int) (float64, bool) {
	return 0.8 * float64(queries), true
}

type staticPlanner []string

func (p staticPlanner) Plan(context.Context, ResearchBrief, int, StructuredCall) ([]string, error) {
	return p, nil
}

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) sink(u Update) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

func (l *updateLog) all() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Update(nil), l.updates...)
}

func (l *updateLog) kinds() []UpdateKind {
	var out []UpdateKind
	for _, u := range l.all() {
		out = append(out, u.Kind())
	}
	return out
}

func (l *updateLog) ofKind(k UpdateKind) []Update {
	var out []Update
	for _, u := range l.all() {
		if u.Kind() == k {
			out = append(out, u)
		}
	}
	return out
}

func testConfig() config.RuntimeConfig {
	cfg := config.Resolve(config.DefaultSettings(), config.Availability{})
	cfg.MaxStructuredOutputRetries = 2
	return cfg
}

func userRequest(text string) Input {
	return Input{
		MessageID:  "msg-1",
		RequestID:  "req-1",
		ToolCallID: "call-1",
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: text}},
	}
}
