// Package config loads the instance configuration that scopes a
// reconciliation run: the instance name, the coordinator endpoints with
// their secrets, and the tag settings. It also owns the pre-flight
// checks that must pass before anything talks to a coordinator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known names inside the prefix directory.
const (
	// FileName is the instance configuration file.
	FileName = "runnersync.yaml"

	// ExecutorsDir holds one declaration file per executor.
	ExecutorsDir = "executors"

	// TemplateFile is the optional runner agent config template.
	TemplateFile = "config.template"

	// OutputFile is the rendered runner agent configuration.
	OutputFile = "config.toml"

	// SnapshotFile persists the name to registration mapping between runs.
	SnapshotFile = "runner-data.json"
)

// Config is the instance configuration, loaded from runnersync.yaml in
// the prefix directory.
type Config struct {
	// Instance is the logical deployment name. Defaults to the hostname
	// when empty.
	Instance string `yaml:"instance"`

	// Endpoints lists the coordinators this host's executors register
	// against, keyed by URL.
	Endpoints []Endpoint `yaml:"endpoints"`

	// EnvTags names environment variables whose values become
	// additional tags when set.
	EnvTags []string `yaml:"env_tags"`

	// TagSchema is an optional path to a JSON schema that classifies
	// and validates generated tags. Relative paths resolve against the
	// prefix directory.
	TagSchema string `yaml:"tag_schema"`
}

// Endpoint describes one coordinator and the secrets used against it.
// Each secret may be inline or read from a file; the inline value wins
// when both are set. File contents are trimmed of surrounding
// whitespace.
type Endpoint struct {
	URL                    string `yaml:"url"`
	RegistrationSecret     string `yaml:"registration_secret"`
	RegistrationSecretFile string `yaml:"registration_secret_file"`
	ReadSecret             string `yaml:"read_secret"`
	ReadSecretFile         string `yaml:"read_secret_file"`
}

// Load reads, resolves and validates the instance configuration from
// the prefix directory. Environment variables with the RUNNERSYNC_
// prefix override scalar fields.
func Load(prefix string) (*Config, error) {
	path := filepath.Join(prefix, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Errorf("failed to read instance config %s: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, Errorf("failed to parse instance config %s: %v", path, err)
	}

	cfg.Instance = getEnv("RUNNERSYNC_INSTANCE", cfg.Instance)
	cfg.EnvTags = getEnvStringSlice("RUNNERSYNC_ENV_TAGS", cfg.EnvTags)
	cfg.TagSchema = getEnv("RUNNERSYNC_TAG_SCHEMA", cfg.TagSchema)

	if cfg.TagSchema != "" && !filepath.IsAbs(cfg.TagSchema) {
		cfg.TagSchema = filepath.Join(prefix, cfg.TagSchema)
	}

	if err := cfg.resolveSecrets(prefix); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveSecrets loads file-based secrets. Relative secret paths
// resolve against the prefix directory.
func (c *Config) resolveSecrets(prefix string) error {
	var errs []error
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if ep.RegistrationSecret == "" && ep.RegistrationSecretFile != "" {
			secret, err := readSecretFile(prefix, ep.RegistrationSecretFile)
			if err != nil {
				errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.URL, err))
				continue
			}
			ep.RegistrationSecret = secret
		}
		if ep.ReadSecret == "" && ep.ReadSecretFile != "" {
			secret, err := readSecretFile(prefix, ep.ReadSecretFile)
			if err != nil {
				errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.URL, err))
				continue
			}
			ep.ReadSecret = secret
		}
	}
	if len(errs) > 0 {
		return &ConfigurationError{Errors: errs}
	}
	return nil
}

func readSecretFile(prefix, path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(prefix, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks that the configuration names at least one endpoint
// and that every endpoint carries a URL and a registration secret. The
// read secret is only needed by listing passes and is checked at run
// time by the mode that uses it.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("at least one endpoint is required"))
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.URL == "" {
			errs = append(errs, fmt.Errorf("endpoint %d: url is required", i))
			continue
		}
		if seen[ep.URL] {
			errs = append(errs, fmt.Errorf("endpoint %s: duplicate url", ep.URL))
		}
		seen[ep.URL] = true
		if ep.RegistrationSecret == "" {
			errs = append(errs, fmt.Errorf("endpoint %s: registration secret is required", ep.URL))
		}
	}

	if len(errs) > 0 {
		return &ConfigurationError{Errors: errs}
	}
	return nil
}

// Endpoint returns the endpoint configured for a URL, or nil.
func (c *Config) Endpoint(url string) *Endpoint {
	for i := range c.Endpoints {
		if c.Endpoints[i].URL == url {
			return &c.Endpoints[i]
		}
	}
	return nil
}

// Helper functions for reading environment variables.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
