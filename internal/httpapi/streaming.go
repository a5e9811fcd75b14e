package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/streaming"
)

// StreamingHandler serves progress updates of a run over SSE and WebSocket.
type StreamingHandler struct {
	mgr       *streaming.Manager
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, heartbeat: 15 * time.Second, logger: logger}
}

// RegisterRoutes registers SSE and WebSocket routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
	mux.HandleFunc("GET /stream/ws", h.handleWS)
}

type streamRequest struct {
	id     string
	since  uint64
	filter map[string]struct{}
}

// parseStreamRequest reads message_id, types and the replay cursor from
// Last-Event-ID or last_event_id.
func parseStreamRequest(r *http.Request) (streamRequest, bool) {
	q := r.URL.Query()
	req := streamRequest{id: q.Get("message_id"), filter: map[string]struct{}{}}
	if req.id == "" {
		return req, false
	}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				req.filter[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			req.since = n
		}
	}
	if v := q.Get("last_event_id"); v != "" && req.since == 0 {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			req.since = n
		}
	}
	return req, true
}

func (s streamRequest) wants(evt streaming.Event) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[evt.Type]
	return ok
}

// subscribe tails the stream into a channel that is closed once the
// subscription ends.
func (h *StreamingHandler) subscribe(ctx context.Context, req streamRequest) <-chan streaming.Event {
	out := make(chan streaming.Event, 64)
	go func() {
		defer close(out)
		if err := h.mgr.Subscribe(ctx, req.id, req.since, out); err != nil {
			h.logger.Warn("Stream subscription ended", zap.String("message_id", req.id), zap.Error(err))
		}
	}()
	return out
}

// handleSSE streams events for a run via Server-Sent Events.
// GET /stream/sse?message_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	req, ok := parseStreamRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "message_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := h.subscribe(ctx, req)

	fmt.Fprintf(w, ": connected to %s\n\n", req.id)
	flusher.Flush()

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("message_id", req.id))
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !req.wants(evt) {
				continue
			}
			if evt.Seq > 0 {
				fmt.Fprintf(w, "id: %d\n", evt.Seq)
			}
			if evt.Type != "" {
				fmt.Fprintf(w, "event: %s\n", evt.Type)
			}
			fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
