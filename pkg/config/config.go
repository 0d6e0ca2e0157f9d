// Package config loads and validates the service configuration: a single
// delve.yaml with environment-variable templating, layered over built-in
// defaults and environment overrides for secrets.
package config

import (
	"fmt"

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

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// KnowledgeConfig holds knowledge-store tuning.
type KnowledgeConfig struct {
	Weights           knowledge.Weights `yaml:"weights"`
	BackfillBatchSize int               `yaml:"backfillBatchSize"`
	BackfillOnStartup bool              `yaml:"backfillOnStartup"`
}

// Config is the complete resolved service configuration.
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Database   database.Config          `yaml:"database"`
	LLM        llm.Config               `yaml:"llm"`
	WebSearch  tools.WebSearchConfig    `yaml:"webSearch"`
	Planner    plan.Config              `yaml:"planner"`
	Evaluation eval.Config              `yaml:"evaluation"`
	Synthesis  executor.SynthesisConfig `yaml:"synthesis"`
	Sessions   orchestrator.Config      `yaml:"sessions"`
	Knowledge  KnowledgeConfig          `yaml:"knowledge"`
	Retention  cleanup.RetentionConfig  `yaml:"retention"`
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: llm.apiKey (or OPENAI_API_KEY)", ErrMissingSetting)
	}
	if c.LLM.PrimaryModel == "" {
		return fmt.Errorf("%w: llm.primaryModel", ErrMissingSetting)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("%w: database.host", ErrMissingSetting)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("%w: database.database", ErrMissingSetting)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalidSetting, c.Server.Port)
	}
	if w := c.Knowledge.Weights; w.Semantic < 0 || w.FullText < 0 || w.Semantic+w.FullText == 0 {
		return fmt.Errorf("%w: knowledge.weights must be non-negative and not both zero", ErrInvalidSetting)
	}
	return nil
}
