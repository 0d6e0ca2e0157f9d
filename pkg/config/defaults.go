package config

import (
	"github.com/delvekit/delve/pkg/cleanup"
	"github.com/delvekit/delve/pkg/database"
	"github.com/delvekit/delve/pkg/eval"
	"github.com/delvekit/delve/pkg/executor"
	"github.com/delvekit/delve/pkg/knowledge"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/orchestrator"
	"github.com/delvekit/delve/pkg/plan"
	"github.com/delvekit/delve/pkg/tools"
)

// Default returns the built-in configuration. Loading layers the YAML file
// and environment overrides on top of it, so every field here must be safe
// for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: database.Config{
			Host:         "localhost",
			Port:         5432,
			User:         "delve",
			Database:     "delve",
			SSLMode:      "disable",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		LLM: llm.Config{
			PrimaryModel:        "gpt-4o-mini",
			LargeModel:          "gpt-4o",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: knowledge.EmbeddingDimensions,
		},
		WebSearch: tools.WebSearchConfig{},
		Planner: plan.Config{
			MaxPlanningIterations: plan.DefaultMaxPlanningIterations,
			DecompositionEnabled:  true,
		},
		Evaluation: eval.DefaultConfig(),
		Synthesis:  executor.DefaultSynthesisConfig(),
		Sessions: orchestrator.Config{
			MaxConcurrentSessions: orchestrator.DefaultMaxConcurrentSessions,
		},
		Knowledge: KnowledgeConfig{
			Weights:           knowledge.DefaultWeights,
			BackfillBatchSize: 50,
		},
		Retention: cleanup.DefaultRetentionConfig(),
	}
}
