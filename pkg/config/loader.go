package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load resolves the configuration in three layers: built-in defaults, the
// YAML file at path (optional; a missing file just means defaults), and
// environment overrides for secrets and deployment-specific values. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Info("No configuration file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	default:
		// Unmarshalling into the prepopulated defaults keeps unset fields at
		// their default value while letting the file set explicit falses.
		if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
		slog.Info("Configuration file loaded", "path", path)
	}

	if err := mergo.Merge(cfg, envOverrides(), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOverrides builds a sparse Config from well-known environment variables.
// Only set variables produce non-zero fields, so merging it with override
// semantics layers the environment on top of file and defaults.
func envOverrides() Config {
	var o Config
	o.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	o.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	o.WebSearch.APIKey = os.Getenv("BRAVE_API_KEY")

	o.Database.Host = os.Getenv("DB_HOST")
	o.Database.User = os.Getenv("DB_USER")
	o.Database.Password = os.Getenv("DB_PASSWORD")
	o.Database.Database = os.Getenv("DB_NAME")
	if port, ok := envInt("DB_PORT"); ok {
		o.Database.Port = port
	}

	o.Server.Host = os.Getenv("SERVER_HOST")
	if port, ok := envInt("SERVER_PORT"); ok {
		o.Server.Port = port
	}
	return o
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment override", "name", name, "value", raw)
		return 0, false
	}
	return n, true
}
