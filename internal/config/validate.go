package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks c and joins every problem found.
func (c *Config) Validate() error {
	var errs []error
	if _, err := core.ParseEvaluationKind(c.EvaluationKind); err != nil {
		errs = append(errs, fmt.Errorf("evaluation_kind: %w (valid: %s)", err, kindList()))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout must not be negative, got %s", c.API.Timeout))
	}
	if !slices.Contains(OutputModes, strings.ToLower(c.OutputFormat)) {
		errs = append(errs, fmt.Errorf("output: unknown mode %q (valid: %s)", c.OutputFormat, strings.Join(OutputModes, ", ")))
	}
	if c.UI.Port < 0 || c.UI.Port > 65535 {
		errs = append(errs, fmt.Errorf("ui.port out of range: %d", c.UI.Port))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func kindList() string {
	names := make([]string, len(core.EvaluationKinds))
	for i, k := range core.EvaluationKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
