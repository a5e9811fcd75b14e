package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClient calls the Chat Completions API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient builds a client from an API key plus optional request options
// (base URL, HTTP client, retries).
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIClient{client: openai.NewClient(all...)}
}

func (c *OpenAIClient) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Turns() {
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	p := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Schema != nil {
		p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Definition,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return p
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	resp := &Response{
		Model: completion.Model,
		Usage: Usage{
			Input:  int(completion.Usage.PromptTokens),
			Output: int(completion.Usage.CompletionTokens),
			Cached: int(completion.Usage.PromptTokensDetails.CachedTokens),
		},
	}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		if choice.Message.Refusal != "" && req.Schema != nil {
			return resp, fmt.Errorf("%w: refusal: %s", ErrInvalidStructuredOutput, choice.Message.Refusal)
		}
		resp.Text = choice.Message.Content
	}
	return resp, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	p := c.params(req)
	p.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, p)
	defer stream.Close()

	var text strings.Builder
	resp := &Response{Model: req.Model}
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			resp.Usage = Usage{
				Input:  int(chunk.Usage.PromptTokens),
				Output: int(chunk.Usage.CompletionTokens),
				Cached: int(chunk.Usage.PromptTokensDetails.CachedTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				resp.Text = text.String()
				return resp, err
			}
		}
	}
	resp.Text = text.String()
	if err := stream.Err(); err != nil {
		return resp, classifyOpenAIError(err)
	}
	return resp, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == "context_length_exceeded" ||
			(apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, "maximum context length")) {
			return fmt.Errorf("%w: %v", ErrContextLength, err)
		}
	}
	return fmt.Errorf("openai: %w", err)
}
