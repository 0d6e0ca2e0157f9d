package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delvekit/delve/pkg/eval"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "delve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DB_HOST", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.True(t, cfg.Planner.DecompositionEnabled)
	assert.True(t, cfg.Evaluation.Answer.Enabled)
	assert.InDelta(t, 0.7, cfg.Knowledge.Weights.Semantic, 1e-9)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := writeConfig(t, `
server:
  port: 9090
database:
  host: db.internal
llm:
  primaryModel: gpt-4.1-mini
planner:
  decompositionEnabled: false
evaluation:
  answer:
    enabled: false
    failAction: block
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.PrimaryModel)
	// Explicit false in the file must win over a true default.
	assert.False(t, cfg.Planner.DecompositionEnabled)
	assert.False(t, cfg.Evaluation.Answer.Enabled)
	assert.Equal(t, eval.FailActionBlock, cfg.Evaluation.Answer.FailAction)
	// Untouched sections keep their defaults.
	assert.True(t, cfg.Evaluation.Plan.Enabled)
	assert.Equal(t, "gpt-4o", cfg.LLM.LargeModel)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_HOST", "env-db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("BRAVE_API_KEY", "brave-env")
	path := writeConfig(t, `
llm:
  apiKey: sk-file
database:
  host: file-db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "env-db", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "brave-env", cfg.WebSearch.APIKey)
}

func TestLoadTemplateExpansion(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CUSTOM_DB_USER", "svc_delve")
	path := writeConfig(t, `
database:
  user: "{{.CUSTOM_DB_USER}}"
  password: "p@ss$word"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "svc_delve", cfg.Database.User)
	// Literal dollar signs must survive expansion.
	assert.Equal(t, "p@ss$word", cfg.Database.Password)
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrMissingSetting)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := writeConfig(t, "server: [not a mapping")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := writeConfig(t, "server:\n  port: -1\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidSetting)
}

func TestExpandEnvPassesThroughMalformedTemplates(t *testing.T) {
	in := []byte("pattern: user_{{unclosed")
	assert.Equal(t, in, ExpandEnv(in))
}
