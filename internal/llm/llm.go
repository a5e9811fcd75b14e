// Package llm is the language-model capability used by the research pipeline:
// whole and streamed text generation plus schema-validated structured output.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrInvalidStructuredOutput marks a response that does not match the requested schema.
	ErrInvalidStructuredOutput = errors.New("llm: invalid structured output")
	// ErrContextLength marks a request rejected for exceeding the model context window.
	ErrContextLength = errors.New("llm: context length exceeded")
	// ErrUnknownProvider is returned by the router for an unregistered provider prefix.
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON object expected from a structured call.
type Schema struct {
	Name       string
	Definition map[string]any
}

// Metadata correlates a model call with its run for telemetry.
type Metadata struct {
	MessageID string
	RequestID string
}

// Request is a single model call. Prompt, when set, is sent as the final user turn.
type Request struct {
	Model      string
	System     string
	Messages   []Message
	Prompt     string
	MaxTokens  int
	Schema     *Schema
	FunctionID string
	Metadata   Metadata
}

// Turns returns Messages followed by Prompt as a user turn.
func (r Request) Turns() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, r.Messages...)
	if r.Prompt != "" {
		out = append(out, Message{Role: RoleUser, Content: r.Prompt})
	}
	return out
}

// Usage is the token accounting reported by the provider. Input includes Cached.
type Usage struct {
	Input  int
	Output int
	Cached int
}

// Response is a completed model call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// ChunkFunc receives streamed text deltas in order. Returning an error aborts the stream.
type ChunkFunc func(delta string) error

// Client is a model provider.
type Client interface {
	// Generate returns the whole response. When req.Schema is set the text is a JSON object.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Stream forwards deltas to onChunk as they arrive and returns the assembled response.
	Stream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error)
}

// Validator is implemented by structured results with invariants beyond the schema.
type Validator interface {
	Validate() error
}

// GenerateObject runs a structured call and decodes the result into T.
// Decode and validation failures wrap ErrInvalidStructuredOutput; the response
// is returned even then so callers can account for the spent tokens.
func GenerateObject[T any](ctx context.Context, c Client, req Request) (T, *Response, error) {
	var out T
	if req.Schema == nil {
		return out, nil, fmt.Errorf("generate object: schema required")
	}
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return out, resp, err
	}
	if err := DecodeObject(resp.Text, &out); err != nil {
		var zero T
		return zero, resp, err
	}
	return out, resp, nil
}

// DecodeObject parses a structured response into out, which must be a pointer.
// Failures wrap ErrInvalidStructuredOutput.
func DecodeObject(text string, out any) error {
	text = StripCodeFences(text)
	if text == "" {
		return fmt.Errorf("%w: empty response", ErrInvalidStructuredOutput)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStructuredOutput, err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidStructuredOutput, err)
		}
	}
	return nil
}

// StripCodeFences removes a surrounding ```json ... ``` block if present.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// SchemaInstruction renders a schema as a prompt suffix for providers that
// only support a JSON response mode.
func SchemaInstruction(s *Schema) string {
	if s == nil {
		return ""
	}
	b, _ := json.MarshalIndent(s.Definition, "", "  ")
	return "Respond with a single JSON object matching this JSON schema, without prose or code fences:\n" + string(b)
}

// ObjectSchema builds a strict object schema with every property required.
func ObjectSchema(properties map[string]any) map[string]any {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	slices.Sort(required)
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}
