package llm

import (
	"context"
	"fmt"
	"strings"
)

// Router dispatches "provider:model" ids to the registered provider clients.
// Ids without a provider prefix go to the default provider.
type Router struct {
	providers       map[string]Client
	defaultProvider string
}

// NewRouter creates an empty router whose unprefixed ids use defaultProvider.
func NewRouter(defaultProvider string) *Router {
	return &Router{providers: make(map[string]Client), defaultProvider: defaultProvider}
}

// Register adds or replaces a provider.
func (r *Router) Register(provider string, c Client) *Router {
	r.providers[provider] = c
	return r
}

// Providers lists the registered provider names.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}

func (r *Router) resolve(req Request) (Client, Request, error) {
	provider, model, ok := strings.Cut(req.Model, ":")
	if !ok {
		provider, model = r.defaultProvider, req.Model
	}
	c, found := r.providers[provider]
	if !found {
		return nil, req, fmt.Errorf("%w: %q (model %q)", ErrUnknownProvider, provider, req.Model)
	}
	req.Model = model
	return c, req, nil
}

// Generate implements Client.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	c, req, err := r.resolve(req)
	if err != nil {
		return nil, err
	}
	return c.Generate(ctx, req)
}

// Stream implements Client.
func (r *Router) Stream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error) {
	c, req, err := r.resolve(req)
	if err != nil {
		return nil, err
	}
	return c.Stream(ctx, req, onChunk)
}
