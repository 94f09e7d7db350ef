package llm

import (
	"context"
	"errors"
	"time"
)

// ErrMissingCredential is returned when a provider is used without an API key.
// Callers treat it as an expected condition, not a failure.
var ErrMissingCredential = errors.New("llm: api credential not configured")

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("llm: no content generated")

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// AgentMeta holds operational metadata for one model call.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   TokenUsage
}

// TextGenerator is an interface for generating text from a prompt.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
