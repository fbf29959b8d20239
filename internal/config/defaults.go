package config

import "time"

// Default configuration values.
const (
	DefaultBaseURL         = "http://localhost:8000/api"
	DefaultTimeout         = 30 * time.Second
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = 1 * time.Second
	DefaultMaxElapsed      = 10 * time.Second
	DefaultEvaluationKind  = "auto"
	DefaultPageSize        = 50
	DefaultPollInterval    = 5 * time.Second
	DefaultStateFile       = ".runboard/state.db"
	DefaultOutput          = "auto" // TTY=text, otherwise json
	DefaultUIPort          = 8766
)

// Output modes.
const (
	OutputAuto = "auto"
	OutputText = "text"
	OutputJSON = "json"
	OutputCSV  = "csv"
)

// OutputModes lists every valid output mode.
var OutputModes = []string{OutputAuto, OutputText, OutputJSON, OutputCSV}

// Defaults returns the default values keyed by their dotted config keys.
// Durations are strings so they decode like values read from a file.
func Defaults() map[string]any {
	return map[string]any{
		"api.base_url":               DefaultBaseURL,
		"api.timeout":                DefaultTimeout.String(),
		"api.retry.initial_interval": DefaultInitialInterval.String(),
		"api.retry.max_interval":     DefaultMaxInterval.String(),
		"api.retry.max_elapsed":      DefaultMaxElapsed.String(),
		"evaluation_kind":            DefaultEvaluationKind,
		"page_size":                  DefaultPageSize,
		"poll_interval":              DefaultPollInterval.String(),
		"state_path":                 DefaultStateFile,
		"output":                     DefaultOutput,
		"verbose":                    false,
		"no_color":                   false,
		"ui.port":                    DefaultUIPort,
	}
}

// ApplyDefaults fills zero values of c with defaults.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultTimeout
	}
	if c.API.Retry.InitialInterval == 0 {
		c.API.Retry.InitialInterval = DefaultInitialInterval
	}
	if c.API.Retry.MaxInterval == 0 {
		c.API.Retry.MaxInterval = DefaultMaxInterval
	}
	if c.API.Retry.MaxElapsed == 0 {
		c.API.Retry.MaxElapsed = DefaultMaxElapsed
	}
	if c.EvaluationKind == "" {
		c.EvaluationKind = DefaultEvaluationKind
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStateFile
	}
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultOutput
	}
	if c.UI.Port == 0 {
		c.UI.Port = DefaultUIPort
	}
}
