package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/metrics"
)

// Event is one progress update as delivered to SSE/WebSocket consumers.
type Event struct {
	StreamID  string          `json:"stream_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Terminal reports whether the event closes its stream.
func (e Event) Terminal() bool {
	return e.Type == "completed" || e.Type == "problem"
}

const (
	defaultCapacity = 512
	streamTTL       = 24 * time.Hour
	redisTimeout    = 2 * time.Second
)

// Manager fans out events per stream. Every manager keeps an in-memory ring
// for replay; when a Redis client is configured events are also appended to a
// Redis Stream so that other processes can replay and tail them.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int

	redis     *redis.Client
	streamLen int64
	logger    *zap.Logger
}

// NewManager creates a manager. client may be nil for in-process delivery only.
func NewManager(client *redis.Client, logger *zap.Logger) *Manager {
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    defaultCapacity,
		redis:       client,
		streamLen:   1000,
		logger:      logger,
	}
}

// SetStreamLen bounds the Redis Stream length (approximate trimming).
func (m *Manager) SetStreamLen(n int64) {
	if n > 0 {
		m.streamLen = n
	}
}

func streamKey(id string) string { return "deepresearch:events:" + id }
func seqKey(id string) string    { return "deepresearch:seq:" + id }

// Publish stamps evt with the next sequence number and delivers it.
// Slow local subscribers drop events rather than block the publisher.
func (m *Manager) Publish(streamID string, evt Event) Event {
	evt.StreamID = streamID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	var redisSeq uint64
	if m.redis != nil {
		seq, err := m.publishRedis(streamID, &evt)
		if err != nil {
			metrics.StreamEventsDropped.WithLabelValues("redis").Inc()
			m.logger.Warn("Redis stream publish failed",
				zap.String("stream_id", streamID),
				zap.String("type", evt.Type),
				zap.Error(err),
			)
		} else {
			redisSeq = seq
		}
	}

	m.mu.Lock()
	rg := m.history[streamID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[streamID] = rg
	}
	if redisSeq > 0 {
		evt.Seq = redisSeq
		rg.nextSeq = redisSeq + 1
	} else {
		if rg.nextSeq == 0 {
			rg.nextSeq = 1
		}
		evt.Seq = rg.nextSeq
		rg.nextSeq++
	}
	rg.push(evt)
	subs := make([]chan Event, 0, len(m.subscribers[streamID]))
	for ch := range m.subscribers[streamID] {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	metrics.StreamEventsPublished.WithLabelValues(evt.Type).Inc()
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.WithLabelValues("slow_subscriber").Inc()
		}
	}
	return evt
}

func (m *Manager) publishRedis(streamID string, evt *Event) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	seq, err := m.redis.Incr(ctx, seqKey(streamID)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr seq: %w", err)
	}
	evt.Seq = uint64(seq)

	pipe := m.redis.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(streamID),
		MaxLen: m.streamLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":   seq,
			"event": string(evt.Marshal()),
		},
	})
	pipe.Expire(ctx, streamKey(streamID), streamTTL)
	pipe.Expire(ctx, seqKey(streamID), streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("xadd: %w", err)
	}
	return uint64(seq), nil
}

// ReplaySince returns events with Seq > since. Redis is authoritative when
// configured; otherwise the in-memory ring is used (best effort within capacity).
func (m *Manager) ReplaySince(ctx context.Context, streamID string, since uint64) []Event {
	if m.redis != nil {
		events, _, err := m.readRange(ctx, streamID, "-", since)
		if err == nil {
			return events
		}
		m.logger.Warn("Redis replay failed, using local history",
			zap.String("stream_id", streamID),
			zap.Error(err),
		)
	}
	m.mu.RLock()
	rg := m.history[streamID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

func (m *Manager) readRange(ctx context.Context, streamID, start string, since uint64) ([]Event, string, error) {
	msgs, err := m.redis.XRange(ctx, streamKey(streamID), start, "+").Result()
	if err != nil {
		return nil, "", err
	}
	var out []Event
	last := start
	for _, msg := range msgs {
		last = msg.ID
		if evt, ok := decodeMessage(msg); ok && evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, last, nil
}

func decodeMessage(msg redis.XMessage) (Event, bool) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		return Event{}, false
	}
	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return Event{}, false
	}
	if evt.Seq == 0 {
		if s, ok := msg.Values["seq"].(string); ok {
			evt.Seq, _ = strconv.ParseUint(s, 10, 64)
		}
	}
	return evt, true
}

// Subscribe delivers events with Seq > since to out until ctx is done or a
// terminal event has been delivered. It replays history first.
func (m *Manager) Subscribe(ctx context.Context, streamID string, since uint64, out chan<- Event) error {
	if m.redis != nil {
		return m.subscribeRedis(ctx, streamID, since, out)
	}
	return m.subscribeLocal(ctx, streamID, since, out)
}

func (m *Manager) subscribeLocal(ctx context.Context, streamID string, since uint64, out chan<- Event) error {
	ch := make(chan Event, 256)
	m.mu.Lock()
	subs := m.subscribers[streamID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[streamID] = subs
	}
	subs[ch] = struct{}{}
	var backlog []Event
	if rg := m.history[streamID]; rg != nil {
		backlog = rg.since(since)
	}
	m.mu.Unlock()
	defer m.unsubscribe(streamID, ch)

	last := since
	deliver := func(evt Event) (bool, error) {
		if evt.Seq <= last {
			return false, nil
		}
		last = evt.Seq
		select {
		case out <- evt:
		case <-ctx.Done():
			return true, ctx.Err()
		}
		return evt.Terminal(), nil
	}

	for _, evt := range backlog {
		if done, err := deliver(evt); done || err != nil {
			return ignoreCancel(err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			if done, err := deliver(evt); done || err != nil {
				return ignoreCancel(err)
			}
		}
	}
}

func (m *Manager) subscribeRedis(ctx context.Context, streamID string, since uint64, out chan<- Event) error {
	backlog, lastID, err := m.readRange(ctx, streamID, "-", since)
	if err != nil {
		return fmt.Errorf("replay stream: %w", err)
	}
	if lastID == "-" {
		lastID = "0"
	}
	for _, evt := range backlog {
		select {
		case out <- evt:
		case <-ctx.Done():
			return nil
		}
		if evt.Terminal() {
			return nil
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := m.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey(streamID), lastID},
			Block:   time.Second,
			Count:   100,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("xread: %w", err)
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				evt, ok := decodeMessage(msg)
				if !ok || evt.Seq <= since {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return nil
				}
				if evt.Terminal() {
					return nil
				}
			}
		}
	}
}

func (m *Manager) unsubscribe(streamID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[streamID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(m.subscribers, streamID)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
