// Package config provides YAML configuration for the provrun CLI.
//
// Example configuration:
//
//	base_url: https://api.prowler.example.com
//	token: ${PROVRUN_TOKEN}
//	concurrency: 5
//	max_retries: 20
//	delays: [2s, 3s, 5s]
//	accounts:
//	  - "111111111111"
//	  - "222222222222"
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when fields are unset.
const (
	DefaultConcurrency    = 5
	DefaultMaxRetries     = 20
	DefaultRequestTimeout = 30 * time.Second
)

// DefaultDelays is the default wait schedule between poll attempts.
var DefaultDelays = []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}

// Config is the root configuration for the provrun CLI. It maps directly
// to the YAML configuration file structure.
type Config struct {
	// BaseURL is the backend API root, e.g. https://api.prowler.example.com.
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token sent on every request. Supports environment
	// variable substitution: ${VAR} or ${VAR:-default}.
	Token string `yaml:"token"`

	// Concurrency bounds how many connection tests or scan launches run at
	// once. Defaults to 5.
	Concurrency int `yaml:"concurrency"`

	// MaxRetries caps poll attempts per connection-test task. Defaults to 20.
	MaxRetries int `yaml:"max_retries"`

	// Delays is the wait schedule between poll attempts; the last entry
	// repeats. Defaults to [2s, 3s, 5s].
	Delays []Duration `yaml:"delays"`

	// RequestTimeout is the per-request timeout against the backend.
	// Defaults to 30s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Accounts are the cloud account ids to apply and test.
	Accounts []string `yaml:"accounts"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates configuration from raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not a valid URL", c.BaseURL)
	}

	expanded, err := expandEnvVars(c.Token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	c.Token = expanded

	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}

	if len(c.Delays) == 0 {
		for _, d := range DefaultDelays {
			c.Delays = append(c.Delays, Duration(d))
		}
	}
	for i, d := range c.Delays {
		if d.Duration() <= 0 {
			return fmt.Errorf("delays[%d] must be positive, got %v", i, d.Duration())
		}
	}

	if c.RequestTimeout.Duration() == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.RequestTimeout.Duration() < 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout.Duration())
	}

	return nil
}

// DelayDurations returns the delay schedule as plain time.Durations.
func (c *Config) DelayDurations() []time.Duration {
	out := make([]time.Duration, len(c.Delays))
	for i, d := range c.Delays {
		out[i] = d.Duration()
	}
	return out
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment values. A reference to an unset variable without a default
// is an error, so missing credentials fail at load time instead of as a
// 401 mid-batch.
func expandEnvVars(s string) (string, error) {
	var firstErr error
	expanded := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, fallback := groups[1], groups[2] != "", groups[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("environment variable %s is not set", name)
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return expanded, nil
}
