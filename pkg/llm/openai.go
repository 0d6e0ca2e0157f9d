package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Config holds model wiring for the OpenAI-compatible client.
type Config struct {
	APIKey              string `yaml:"apiKey"`
	BaseURL             string `yaml:"baseUrl"`
	PrimaryModel        string `yaml:"primaryModel"`
	LargeModel          string `yaml:"largeModel"`
	EmbeddingModel      string `yaml:"embeddingModel"`
	EmbeddingDimensions int    `yaml:"embeddingDimensions"`
}

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
type OpenAIClient struct {
	client openai.Client
	cfg    Config
}

// NewOpenAIClient builds a client from config. BaseURL may point at a local
// OpenAI-compatible server; empty means the default API host.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.PrimaryModel == "" {
		return nil, fmt.Errorf("llm config missing primary model")
	}
	if cfg.LargeModel == "" {
		cfg.LargeModel = cfg.PrimaryModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Info("LLM client configured",
		"primary_model", cfg.PrimaryModel,
		"large_model", cfg.LargeModel,
		"embedding_model", cfg.EmbeddingModel)

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (c *OpenAIClient) modelFor(role Role) string {
	if role == RoleLarge {
		return c.cfg.LargeModel
	}
	return c.cfg.PrimaryModel
}

// Chat runs a non-streaming chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.modelFor(req.Role)),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(*req.MaxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrEmptyResponse
	}

	return &ChatResponse{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// Embed returns embedding vectors for the given texts.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("llm config missing embedding model")
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if c.cfg.EmbeddingDimensions > 0 {
		params.Dimensions = openai.Int(int64(c.cfg.EmbeddingDimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs",
			len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
