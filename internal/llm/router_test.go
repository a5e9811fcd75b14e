package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDispatchesByPrefix(t *testing.T) {
	oa := &stubClient{text: "from openai"}
	gm := &stubClient{text: "from gemini"}
	r := NewRouter("openai").Register("openai", oa).Register("google", gm)

	resp, err := r.Generate(context.Background(), Request{Model: "google:gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "from gemini", resp.Text)
	require.Len(t, gm.requests, 1)
	assert.Equal(t, "gemini-2.5-flash", gm.requests[0].Model)

	resp, err = r.Generate(context.Background(), Request{Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "from openai", resp.Text)
	assert.Equal(t, "gpt-4.1", oa.requests[0].Model)
}

func TestRouterStream(t *testing.T) {
	oa := &stubClient{text: "abc"}
	r := NewRouter("openai").Register("openai", oa)

	var chunks []string
	_, err := r.Stream(context.Background(), Request{Model: "openai:gpt-4.1"}, func(d string) error {
		chunks = append(chunks, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, chunks)
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter("openai")
	_, err := r.Generate(context.Background(), Request{Model: "anthropic:claude"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Empty(t, r.Providers())
}
