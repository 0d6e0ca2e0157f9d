package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// syntax: {{.OPENAI_API_KEY}}. Template syntax is used instead of $VAR so
// that literal dollar signs in values (passwords, regex patterns) survive
// untouched.
//
// Missing variables expand to the empty string; validation catches required
// settings left empty. Content that fails to parse or execute as a template
// is returned as-is and left to the YAML parser.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
