package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/config"
	"github.com/sparka-ai/deepresearch/internal/documents"
	"github.com/sparka-ai/deepresearch/internal/research"
	"github.com/sparka-ai/deepresearch/internal/streaming"
	"github.com/sparka-ai/deepresearch/internal/workflows"
)

type reportRunner struct {
	docs documents.Store
}

func (r reportRunner) Run(ctx context.Context, _ research.AgentOptions, in research.Input) (*research.Result, error) {
	doc, err := r.docs.Create(ctx, "Heat pumps", "# Heat pumps\n\nfindings")
	if err != nil {
		return nil, err
	}
	return research.ReportResult(research.DocumentToolResult{ID: doc.ID, Title: doc.Title, Kind: doc.Kind, Content: doc.Content}), nil
}

func newResearchServer(t *testing.T, token string) (*http.ServeMux, *workflows.LocalLauncher) {
	t.Helper()
	docs := documents.NewMemoryStore()
	runtime := func() config.RuntimeConfig { return config.Resolve(config.DefaultSettings(), config.Availability{}) }
	l := workflows.NewLocalLauncher(context.Background(), reportRunner{docs: docs}, runtime, zap.NewNop())
	mux := http.NewServeMux()
	NewResearchHandler(l, docs, token, zap.NewNop()).RegisterRoutes(mux)
	return mux, l
}

const startBody = `{"message_id":"m-1","messages":[{"role":"user","content":"How efficient are heat pumps in cold climates?"}]}`

func TestResearchStartStatusAndDocument(t *testing.T) {
	mux, l := newResearchServer(t, "")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(startBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, "m-1", started.ID)
	assert.Equal(t, "/stream/sse?message_id=m-1", started.Stream)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := l.Wait(ctx, "m-1")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/research/m-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st workflows.RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, workflows.StateCompleted, st.State)
	require.NotNil(t, st.Result)
	require.NotNil(t, st.Result.Report)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+st.Result.Report.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Heat pumps")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(startBody)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type configRunner struct {
	got chan config.RuntimeConfig
}

func (r configRunner) Run(_ context.Context, opts research.AgentOptions, _ research.Input) (*research.Result, error) {
	r.got <- opts.Config
	return research.ClarifyingQuestion("Which climate zone?"), nil
}

func TestResearchStartMergesPartialConfig(t *testing.T) {
	base := config.Resolve(config.DefaultSettings(), config.Availability{})
	runner := configRunner{got: make(chan config.RuntimeConfig, 1)}
	l := workflows.NewLocalLauncher(context.Background(), runner, func() config.RuntimeConfig { return base }, zap.NewNop())
	mux := http.NewServeMux()
	NewResearchHandler(l, documents.NewMemoryStore(), "", zap.NewNop()).RegisterRoutes(mux)

	body := `{"message_id":"m-cfg","messages":[{"role":"user","content":"Heat pumps?"}],` +
		`"config":{"max_research_units":4,"max_concurrent_research_units":0}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case got := <-runner.got:
		assert.Equal(t, 4, got.MaxResearchUnits)
		assert.Equal(t, base.MaxConcurrentResearchUnits, got.MaxConcurrentResearchUnits)
		assert.Equal(t, base.MaxResearcherIterations, got.MaxResearcherIterations)
		assert.Equal(t, base.FinalReportModel, got.FinalReportModel)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}
}

func TestResearchRejectsBadRequests(t *testing.T) {
	mux, _ := newResearchServer(t, "")

	for _, body := range []string{`{`, `{"messages":[]}`, `{"messages":[{"role":"assistant","content":"hi"}]}`} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/research/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/research/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResearchRequiresToken(t *testing.T) {
	mux, _ := newResearchServer(t, "secret")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(startBody)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(startBody))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func publishRun(mgr *streaming.Manager, id string) {
	for _, typ := range []string{"started", "thoughts", "web", "completed"} {
		mgr.Publish(id, streaming.Event{Type: typ, Payload: json.RawMessage(`{"type":"` + typ + `"}`)})
	}
}

func newStreamServer(t *testing.T) (*httptest.Server, *streaming.Manager) {
	t.Helper()
	mgr := streaming.NewManager(nil, zap.NewNop())
	mux := http.NewServeMux()
	NewStreamingHandler(mgr, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func TestSSEReplaysUntilTerminal(t *testing.T) {
	srv, mgr := newStreamServer(t)
	publishRun(mgr, "m-2")

	resp, err := http.Get(srv.URL + "/stream/sse?message_id=m-2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "id: 1\nevent: started\n")
	assert.Contains(t, out, "event: web\n")
	assert.Contains(t, out, "id: 4\nevent: completed\n")
}

func TestSSEResumesFromLastEventID(t *testing.T) {
	srv, mgr := newStreamServer(t)
	publishRun(mgr, "m-3")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/stream/sse?message_id=m-3&types=completed,web", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var ids []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "id: ") {
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		}
	}
	assert.Equal(t, []string{"3", "4"}, ids)
}

func TestSSERequiresMessageID(t *testing.T) {
	srv, _ := newStreamServer(t)
	resp, err := http.Get(srv.URL + "/stream/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketDeliversLiveEvents(t *testing.T) {
	srv, mgr := newStreamServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/ws?message_id=m-4"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		publishRun(mgr, "m-4")
	}()

	var types []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var evt streaming.Event
		if err := conn.ReadJSON(&evt); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{"started", "thoughts", "web", "completed"}, types)
}
