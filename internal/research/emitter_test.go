package research

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparka-ai/deepresearch/internal/streaming"
)

func header(title string) UpdateHeader {
	return UpdateHeader{ToolCallID: "call-1", Title: title}
}

func TestEmitterStartsFirstAndClosesOnce(t *testing.T) {
	log := &updateLog{}
	e := NewEmitter("call-1", log.sink)
	ctx := context.Background()

	assert.True(t, e.Emit(ctx, Thoughts{header("early"), "before start"}))
	assert.False(t, e.Emit(ctx, Started{header("late start")}))
	assert.True(t, e.Emit(ctx, Completed{header("done")}))
	assert.False(t, e.Emit(ctx, Problem{header("again"), "boom"}))
	assert.False(t, e.Emit(ctx, Writing{header("after"), "chunk"}))
	assert.True(t, e.Closed())

	assert.Equal(t, []UpdateKind{KindStarted, KindThoughts, KindCompleted}, log.kinds())
	assert.Equal(t, "call-1", log.all()[0].Header().ToolCallID)
}

func TestEmitterDropsNonTerminalAfterCancellation(t *testing.T) {
	log := &updateLog{}
	e := NewEmitter("call-1", log.sink)
	ctx, cancel := context.WithCancel(context.Background())

	e.Emit(ctx, Started{header("start")})
	cancel()
	assert.False(t, e.Emit(ctx, Thoughts{header("t"), "dropped"}))
	// cancellation stays observed even for a live context
	assert.False(t, e.Emit(context.Background(), Writing{header("w"), "dropped"}))
	assert.True(t, e.Emit(ctx, Problem{header("cancelled"), "research was cancelled"}))

	assert.Equal(t, []UpdateKind{KindStarted, KindProblem}, log.kinds())
}

func TestEmitterConcurrentWritersKeepPerUnitOrder(t *testing.T) {
	log := &updateLog{}
	e := NewEmitter("call-1", log.sink)
	ctx := context.Background()
	e.Emit(ctx, Started{header("start")})

	var wg sync.WaitGroup
	for unit := 0; unit < 4; unit++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := AgentOptions{ToolCallID: "call-1"}.unitToolCallID(unit)
			for i := 0; i < 50; i++ {
				e.Emit(ctx, Thoughts{UpdateHeader{ToolCallID: id}, string(rune('a' + i%26))})
			}
		}()
	}
	wg.Wait()
	e.Emit(ctx, Completed{header("done")})

	perUnit := map[string][]string{}
	for _, u := range log.ofKind(KindThoughts) {
		th := u.(Thoughts)
		perUnit[th.ToolCallID] = append(perUnit[th.ToolCallID], th.Text)
	}
	require.Len(t, perUnit, 4)
	for id, texts := range perUnit {
		require.Len(t, texts, 50, id)
		for i, text := range texts {
			assert.Equal(t, string(rune('a'+i%26)), text)
		}
	}
}

func TestEmitterPublishesToStream(t *testing.T) {
	mgr := streaming.NewManager(nil, zap.NewNop())
	e := NewEmitter("call-1", nil).WithStream(mgr, "msg-1", zap.NewNop())
	ctx := context.Background()

	e.Emit(ctx, Started{header("start")})
	e.Emit(ctx, Web{UpdateHeader: header("search"), Queries: []string{"solar"}})
	e.Emit(ctx, Completed{header("done")})

	events := mgr.ReplaySince(ctx, "msg-1", 0)
	require.Len(t, events, 3)
	assert.Equal(t, "started", events[0].Type)
	assert.Equal(t, "web", events[1].Type)
	assert.True(t, events[2].Terminal())
	assert.Less(t, events[0].Seq, events[2].Seq)

	var web struct {
		ToolCallID string   `json:"toolCallId"`
		Queries    []string `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(events[1].Payload, &web))
	assert.Equal(t, "call-1", web.ToolCallID)
	assert.Equal(t, []string{"solar"}, web.Queries)
	assert.WithinDuration(t, time.Now(), events[1].Timestamp, time.Minute)
}
