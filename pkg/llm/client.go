// Package llm abstracts the chat and embedding models behind a small client
// interface. Production wiring talks to an OpenAI-compatible endpoint; tests
// substitute the scripted client from testing.go.
package llm

import (
	"context"
	"errors"
)

// Role selects which configured model handles a request.
type Role string

const (
	// RolePrimary is the default model for planning, synthesis, and
	// evaluation.
	RolePrimary Role = "primary"
	// RoleLarge is the escalation model used when repeated evaluation
	// attempts on the primary model fail.
	RoleLarge Role = "large"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is a chat completion request against one model role.
type ChatRequest struct {
	Role        Role
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int64
}

// ChatResponse is the completed model output plus token accounting.
type ChatResponse struct {
	Content    string
	TokensUsed int
}

// ErrEmptyResponse is returned when the model produced no usable content.
var ErrEmptyResponse = errors.New("llm returned empty response")

// Client is the model access contract used across the orchestrator.
type Client interface {
	// Chat runs a chat completion and returns the full response text.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
