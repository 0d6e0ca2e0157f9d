// Package eval runs rubric evaluations of plans, retrieval output, and
// final answers: role-based scoring in [0,1], bounded improvement
// iteration, and escalation to a larger model on the final attempt.
package eval

import (
	"time"

	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
)

// FailAction governs what the orchestrator does when a rubric fails.
type FailAction string

const (
	// FailActionContinue proceeds unchanged.
	FailActionContinue FailAction = "continue"
	// FailActionWarn proceeds but surfaces the failure in final metadata.
	FailActionWarn FailAction = "warn"
	// FailActionBlock marks the session failed.
	FailActionBlock FailAction = "block"
)

// Role is one evaluator: a prompt/model pair owning a dimension subset.
// The last role to emit a dimension owns its value.
type Role struct {
	Name       string        `yaml:"name"`
	Model      llm.Role      `yaml:"model"`
	Dimensions []string      `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RubricConfig configures one rubric (plan, retrieval, or answer).
type RubricConfig struct {
	Enabled             bool               `yaml:"enabled"`
	MaxAttempts         int                `yaml:"maxAttempts"`
	PassThreshold       float64            `yaml:"passThreshold"`
	DimensionThresholds map[string]float64 `yaml:"dimensionThresholds"`
	IterationEnabled    bool               `yaml:"iterationEnabled"`
	FailAction          FailAction         `yaml:"failAction"`
	Roles               []Role             `yaml:"roles"`
}

// Config holds the three rubric configurations plus escalation wiring.
type Config struct {
	Plan      RubricConfig `yaml:"plan"`
	Retrieval RubricConfig `yaml:"retrieval"`
	Answer    RubricConfig `yaml:"answer"`

	// EscalationEnabled re-runs a still-failing final attempt on the
	// large model.
	EscalationEnabled bool `yaml:"escalationEnabled"`
}

// Seed thresholds.
const (
	DefaultMaxAttempts           = 3
	DefaultPassThreshold         = 0.7
	DefaultSevereThreshold       = 0.5
	DefaultMajorFailureThreshold = 0.5
	DefaultRoleTimeout           = 45 * time.Second
)

// DefaultConfig returns the seed evaluation configuration.
func DefaultConfig() Config {
	return Config{
		Plan: RubricConfig{
			Enabled:          true,
			MaxAttempts:      DefaultMaxAttempts,
			PassThreshold:    DefaultPassThreshold,
			IterationEnabled: true,
			FailAction:       FailActionWarn,
			DimensionThresholds: map[string]float64{
				"coverage":    0.6,
				"feasibility": 0.5,
				"ordering":    0.5,
			},
			Roles: []Role{{
				Name:       "plan-reviewer",
				Model:      llm.RolePrimary,
				Dimensions: []string{"coverage", "feasibility", "ordering"},
				Timeout:    DefaultRoleTimeout,
			}},
		},
		Retrieval: RubricConfig{
			Enabled:       true,
			MaxAttempts:   1,
			PassThreshold: DefaultSevereThreshold,
			FailAction:    FailActionContinue,
			DimensionThresholds: map[string]float64{
				"relevance": 0.5,
				"coverage":  0.5,
			},
			Roles: []Role{{
				Name:       "retrieval-reviewer",
				Model:      llm.RolePrimary,
				Dimensions: []string{"relevance", "coverage"},
				Timeout:    DefaultRoleTimeout,
			}},
		},
		Answer: RubricConfig{
			Enabled:          true,
			MaxAttempts:      DefaultMaxAttempts,
			PassThreshold:    DefaultPassThreshold,
			IterationEnabled: true,
			FailAction:       FailActionWarn,
			DimensionThresholds: map[string]float64{
				"accuracy":     DefaultMajorFailureThreshold,
				"completeness": 0.6,
				"grounding":    0.6,
			},
			Roles: []Role{{
				Name:       "answer-reviewer",
				Model:      llm.RolePrimary,
				Dimensions: []string{"accuracy", "completeness", "grounding"},
				Timeout:    DefaultRoleTimeout,
			}},
		},
		EscalationEnabled: true,
	}
}

func (c Config) rubric(phase models.EvaluationPhase) RubricConfig {
	switch phase {
	case models.EvaluationPhasePlan:
		return c.Plan
	case models.EvaluationPhaseRetrieval:
		return c.Retrieval
	default:
		return c.Answer
	}
}
