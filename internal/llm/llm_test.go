package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	text     string
	err      error
	requests []Request
}

func (s *stubClient) Generate(ctx context.Context, req Request) (*Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Text: s.text, Model: req.Model, Usage: Usage{Input: 10, Output: 5}}, nil
}

func (s *stubClient) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.text {
		if err := onChunk(string(r)); err != nil {
			return nil, err
		}
	}
	return &Response{Text: s.text, Model: req.Model}, nil
}

type decision struct {
	Verdict string `json:"verdict"`
}

func (d *decision) Validate() error {
	if d.Verdict == "" {
		return errors.New("verdict is empty")
	}
	return nil
}

var testSchema = &Schema{Name: "decision", Definition: ObjectSchema(map[string]any{
	"verdict": map[string]any{"type": "string"},
})}

func TestGenerateObjectDecodesFencedJSON(t *testing.T) {
	c := &stubClient{text: "```json\n{\"verdict\":\"yes\"}\n```"}

	got, resp, err := GenerateObject[decision](context.Background(), c, Request{Model: "m", Schema: testSchema})
	require.NoError(t, err)
	assert.Equal(t, "yes", got.Verdict)
	assert.Equal(t, 10, resp.Usage.Input)
}

func TestGenerateObjectInvalidOutput(t *testing.T) {
	cases := map[string]string{
		"not json":         "sure, here you go",
		"empty":            "   ",
		"fails validation": `{"verdict":""}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			c := &stubClient{text: text}
			_, resp, err := GenerateObject[decision](context.Background(), c, Request{Schema: testSchema})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidStructuredOutput)
			assert.NotNil(t, resp, "usage must be available for accounting")
		})
	}
}

func TestGenerateObjectTransportErrorIsNotStructured(t *testing.T) {
	c := &stubClient{err: errors.New("connection reset")}
	_, _, err := GenerateObject[decision](context.Background(), c, Request{Schema: testSchema})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidStructuredOutput)
}

func TestGenerateObjectRequiresSchema(t *testing.T) {
	c := &stubClient{text: `{"verdict":"yes"}`}
	_, _, err := GenerateObject[decision](context.Background(), c, Request{})
	assert.Error(t, err)
	assert.Empty(t, c.requests)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("  {\"a\":1}  "))
}

func TestObjectSchemaRequiresEveryProperty(t *testing.T) {
	s := ObjectSchema(map[string]any{"b": map[string]any{}, "a": map[string]any{}})
	assert.Equal(t, []string{"a", "b"}, s["required"])
	assert.Equal(t, false, s["additionalProperties"])
}

func TestRequestTurnsAppendsPrompt(t *testing.T) {
	req := Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		Prompt:   "now research",
	}
	turns := req.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, Message{Role: RoleUser, Content: "now research"}, turns[2])
	assert.Len(t, req.Messages, 2)
}
