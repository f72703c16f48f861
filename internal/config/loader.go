package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRefPattern matches ${VAR} and ${VAR:-default} references.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// escapedDollar is a placeholder for $$ during expansion, so literal dollar
// signs survive in config values.
const escapedDollar = "\x00$\x00"

// Load reads, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path comes from operator flags
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates configuration from raw YAML. Environment
// variable references are expanded before parsing.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv replaces ${VAR} with the environment value and ${VAR:-default}
// with the default when VAR is unset. $$ escapes a literal dollar sign.
func expandEnv(content string) string {
	content = strings.ReplaceAll(content, "$$", escapedDollar)

	expanded := envRefPattern.ReplaceAllStringFunc(content, func(ref string) string {
		name, fallback, _ := strings.Cut(ref[2:len(ref)-1], ":-")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return fallback
	})

	return strings.ReplaceAll(expanded, escapedDollar, "$")
}
