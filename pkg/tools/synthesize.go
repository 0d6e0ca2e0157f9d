package tools

import (
	"context"
	"fmt"

	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
)

// Default prompts used when step enrichment did not supply them.
const (
	defaultSynthesisSystemPrompt = "You are a research assistant. Synthesize the " +
		"provided research material into a clear, well-structured answer. Cite " +
		"facts from the material; do not invent sources."
	defaultSynthesisPromptFormat = "Question: %s\n\nResearch material:\n%s\n\n" +
		"Write a comprehensive answer to the question based on the material above."
)

// SynthesizeExecutor produces the final answer text from accumulated
// research context via the primary chat model. Output is a string.
type SynthesizeExecutor struct {
	client llm.Client
}

// NewSynthesizeExecutor creates a synthesis executor.
func NewSynthesizeExecutor(client llm.Client) *SynthesizeExecutor {
	return &SynthesizeExecutor{client: client}
}

func (e *SynthesizeExecutor) Execute(ctx context.Context, step *models.Step, logID string) (*Result, error) {
	query := stringConfig(step, "query")
	if query == "" {
		return nil, fmt.Errorf("synthesize requires a query")
	}
	researchContext := stringConfig(step, "context")

	system := stringConfig(step, "systemPrompt")
	if system == "" {
		system = defaultSynthesisSystemPrompt
	}
	prompt := stringConfig(step, "prompt")
	if prompt == "" {
		prompt = fmt.Sprintf(defaultSynthesisPromptFormat, query, researchContext)
	}

	resp, err := e.client.Chat(ctx, llm.ChatRequest{
		Role:   llm.RolePrimary,
		System: system,
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	return &Result{
		Output:     resp.Content,
		TokensUsed: resp.TokensUsed,
		Metadata:   map[string]any{"answerLength": len(resp.Content)},
	}, nil
}
