package research

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/metrics"
	"github.com/sparka-ai/deepresearch/internal/streaming"
)

// Sink receives updates in emission order.
type Sink func(Update)

// Emitter is the append-only progress stream of one run. It is safe for
// concurrent use. The first delivered update is always Started and at most
// one terminal update is delivered. Once a terminal update was delivered or
// cancellation was observed, non-terminal updates are dropped.
type Emitter struct {
	toolCallID string
	sink       Sink
	stream     *streaming.Manager
	streamID   string
	logger     *zap.Logger

	mu        sync.Mutex
	started   bool
	closed    bool
	cancelled bool
}

// NewEmitter returns an emitter delivering to sink, which may be nil.
func NewEmitter(toolCallID string, sink Sink) *Emitter {
	return &Emitter{toolCallID: toolCallID, sink: sink, logger: zap.NewNop()}
}

// WithStream additionally publishes every update to m under streamID.
func (e *Emitter) WithStream(m *streaming.Manager, streamID string, logger *zap.Logger) *Emitter {
	e.stream = m
	e.streamID = streamID
	if logger != nil {
		e.logger = logger
	}
	return e
}

// ToolCallID is the run-level correlation id.
func (e *Emitter) ToolCallID() string { return e.toolCallID }

// Emit delivers u unless the stream is closed or ctx is done. Terminal updates
// are delivered even after cancellation. It reports whether u was delivered.
func (e *Emitter) Emit(ctx context.Context, u Update) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	terminal := IsTerminal(u)
	if e.closed {
		metrics.StreamEventsDropped.WithLabelValues("closed").Inc()
		return false
	}
	if !terminal {
		if e.cancelled || ctx.Err() != nil {
			e.cancelled = true
			metrics.StreamEventsDropped.WithLabelValues("cancelled").Inc()
			return false
		}
	}
	if u.Kind() == KindStarted {
		if e.started {
			metrics.StreamEventsDropped.WithLabelValues("duplicate_start").Inc()
			return false
		}
	} else if !e.started {
		e.deliver(Started{UpdateHeader{ToolCallID: e.toolCallID, Title: "Starting research"}})
	}
	e.started = true
	if terminal {
		e.closed = true
	}
	e.deliver(u)
	return true
}

// Closed reports whether a terminal update was delivered.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) deliver(u Update) {
	if e.sink != nil {
		e.sink(u)
	}
	if e.stream == nil {
		return
	}
	payload, err := json.Marshal(u)
	if err != nil {
		e.logger.Warn("Failed to encode update", zap.String("kind", string(u.Kind())), zap.Error(err))
		return
	}
	e.stream.Publish(e.streamID, streaming.Event{
		StreamID:  e.streamID,
		Type:      string(u.Kind()),
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
