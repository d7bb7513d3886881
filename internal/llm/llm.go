// Package llm provides chat-completion clients for the model providers the
// engine talks to, plus retry handling for transient provider failures.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request describes a single completion call.
type Request struct {
	// Model is the provider model name.
	Model string

	// System is the system prompt, sent separately where the provider
	// supports it.
	System string

	// Messages are the conversation messages, system prompt excluded.
	Messages []Message

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens limits the completion length. Zero means provider default.
	MaxTokens int
}

// Response is the result of one completion call, including the token counts
// reported by the provider.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client sends completion requests to a model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Router dispatches requests to the OpenAI-compatible or Anthropic client
// based on the model name, the way the original service routed calls.
type Router struct {
	openai    Client
	anthropic Client
}

// NewRouter creates a router over the two provider clients. Either client
// may be nil; requests routed to a missing provider fail.
func NewRouter(openai, anthropic Client) *Router {
	return &Router{openai: openai, anthropic: anthropic}
}

// Complete implements Client.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.HasPrefix(req.Model, "claude") {
		if r.anthropic == nil {
			return nil, &APIError{Err: fmt.Errorf("anthropic provider not configured for model %q", req.Model)}
		}
		return r.anthropic.Complete(ctx, req)
	}
	if r.openai == nil {
		return nil, &APIError{Err: fmt.Errorf("openai provider not configured for model %q", req.Model)}
	}
	return r.openai.Complete(ctx, req)
}

// APIError wraps a provider failure with its HTTP status, when known.
// A zero Status means the request never produced a response (network error).
type APIError struct {
	Status int
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying: network errors,
// rate limits, and server-side errors.
func (e *APIError) Transient() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}
