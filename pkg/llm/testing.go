package llm

import (
	"context"
	"sync"
)

// ScriptedClient is a deterministic Client for tests. Chat responses are
// served in order; when the script runs out, the last response repeats.
// Embeddings are derived from input length so vectors are stable.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	idx       int

	// Requests records every chat request for assertions.
	Requests []ChatRequest
	// EmbedErr, when set, is returned by Embed.
	EmbedErr error
	// EmbedDim is the embedding vector length (default 8).
	EmbedDim int
}

// ScriptedResponse is one scripted chat turn.
type ScriptedResponse struct {
	Content string
	Tokens  int
	Err     error
}

// NewScriptedClient creates a client serving the given responses in order.
func NewScriptedClient(responses ...ScriptedResponse) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// Respond appends a plain text response to the script.
func (s *ScriptedClient) Respond(content string) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{Content: content, Tokens: 10})
	return s
}

// Fail appends an error response to the script.
func (s *ScriptedClient) Fail(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{Err: err})
	return s
}

func (s *ScriptedClient) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if len(s.responses) == 0 {
		return nil, ErrEmptyResponse
	}

	r := s.responses[s.idx]
	if s.idx < len(s.responses)-1 {
		s.idx++
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &ChatResponse{Content: r.Content, TokensUsed: r.Tokens}, nil
}

func (s *ScriptedClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.EmbedErr != nil {
		return nil, s.EmbedErr
	}
	dim := s.EmbedDim
	if dim == 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32((len(t)+i+j)%13) / 13.0
		}
		out[i] = vec
	}
	return out, nil
}

// RequestCount returns the number of chat requests served.
func (s *ScriptedClient) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
