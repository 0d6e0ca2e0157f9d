package config

import "errors"

var (
	// ErrInvalidYAML indicates the configuration file did not parse.
	ErrInvalidYAML = errors.New("invalid YAML in configuration file")

	// ErrMissingSetting indicates a required setting has no value from any
	// layer (file, environment, defaults).
	ErrMissingSetting = errors.New("missing required setting")

	// ErrInvalidSetting indicates a setting is present but out of range.
	ErrInvalidSetting = errors.New("invalid setting")
)
