// Package config loads runboard CLI configuration.
//
// The configuration types live in internal/config so the web server can use
// them without the CLI; they are re-exported here for command code.
package config

import (
	sharedcfg "github.com/leapstack-labs/runboard/internal/config"
)

// Config is an alias for the shared configuration.
type Config = sharedcfg.Config

// APIConfig is an alias for the shared backend connection settings.
type APIConfig = sharedcfg.APIConfig

// UIConfig is an alias for the shared web UI settings.
type UIConfig = sharedcfg.UIConfig

// Default configuration values.
const (
	DefaultStateFile = sharedcfg.DefaultStateFile
	DefaultOutput    = sharedcfg.DefaultOutput
	DefaultUIPort    = sharedcfg.DefaultUIPort
)

// EnvPrefix prefixes every environment variable read by the loader.
const EnvPrefix = "RUNBOARD_"
