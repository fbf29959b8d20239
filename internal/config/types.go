// Package config provides the configuration types shared by the runboard
// CLI and web server, together with their defaults and validation.
package config

import (
	"time"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// RetryConfig bounds the backoff between retried API requests.
type RetryConfig struct {
	InitialInterval time.Duration `koanf:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval" yaml:"max_interval"`
	MaxElapsed      time.Duration `koanf:"max_elapsed" yaml:"max_elapsed"`
}

// APIConfig holds the evaluation backend connection settings.
type APIConfig struct {
	BaseURL string        `koanf:"base_url" yaml:"base_url"`
	Token   string        `koanf:"token" yaml:"token"`
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	Retry   RetryConfig   `koanf:"retry" yaml:"retry"`
}

// UIConfig holds configuration for the web UI server.
type UIConfig struct {
	Port          int    `koanf:"port" yaml:"port"`
	SessionSecret string `koanf:"session_secret" yaml:"session_secret"`
}

// Config holds all runboard configuration options.
type Config struct {
	API            APIConfig     `koanf:"api" yaml:"api"`
	ProjectID      string        `koanf:"project_id" yaml:"project_id"`
	AppIDs         []string      `koanf:"app_id" yaml:"app_id,omitempty"`
	EvaluationKind string        `koanf:"evaluation_kind" yaml:"evaluation_kind"`
	PageSize       int           `koanf:"page_size" yaml:"page_size"`
	PollInterval   time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	StatePath      string        `koanf:"state_path" yaml:"state_path"`
	OutputFormat   string        `koanf:"output" yaml:"output"`
	Verbose        bool          `koanf:"verbose" yaml:"verbose"`
	NoColor        bool          `koanf:"no_color" yaml:"no_color"`
	UI             UIConfig      `koanf:"ui" yaml:"ui"`
}

// Kind returns the parsed evaluation kind. Invalid kinds fall back to
// auto; Validate reports them.
func (c *Config) Kind() core.EvaluationKind {
	k, err := core.ParseEvaluationKind(c.EvaluationKind)
	if err != nil {
		return core.KindAuto
	}
	return k
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if c.API.Token != "" {
		c.API.Token = redactedValue
	}
	if c.UI.SessionSecret != "" {
		c.UI.SessionSecret = redactedValue
	}
	c.AppIDs = append([]string(nil), c.AppIDs...)
	return c
}

const redactedValue = "********"
