package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API through the official genai SDK.
type GeminiClient struct {
	cli *genai.Client
}

// NewGeminiClient creates a Gemini API client. An empty apiKey lets the SDK
// read GOOGLE_API_KEY / GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{cli: cli}, nil
}

func (g *GeminiClient) request(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(req.Messages)+1)
	for _, m := range req.Turns() {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	system := req.System
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		system = strings.TrimSpace(system + "\n\n" + SchemaInstruction(req.Schema))
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func geminiUsage(resp *genai.GenerateContentResponse) Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		Input:  int(resp.UsageMetadata.PromptTokenCount),
		Output: int(resp.UsageMetadata.CandidatesTokenCount),
		Cached: int(resp.UsageMetadata.CachedContentTokenCount),
	}
}

// Generate implements Client.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	contents, cfg := g.request(req)
	resp, err := g.cli.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	return &Response{Text: resp.Text(), Model: req.Model, Usage: geminiUsage(resp)}, nil
}

// Stream implements Client.
func (g *GeminiClient) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	contents, cfg := g.request(req)
	var text strings.Builder
	out := &Response{Model: req.Model}
	for chunk, err := range g.cli.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			out.Text = text.String()
			return out, classifyGeminiError(err)
		}
		if u := geminiUsage(chunk); u.Input > 0 || u.Output > 0 {
			out.Usage = u
		}
		delta := chunk.Text()
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if onChunk != nil {
			if err := onChunk(delta); err != nil {
				out.Text = text.String()
				return out, err
			}
		}
	}
	out.Text = text.String()
	return out, nil
}

func classifyGeminiError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "exceeds the maximum number of tokens") || strings.Contains(msg, "context length") {
		return fmt.Errorf("%w: %v", ErrContextLength, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
