// Package config loads the service configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/capture/pkg/audit"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/intercept"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/server"
)

// Environment variables that override file values.
const (
	EnvPort           = "PORT"
	EnvAuthToken      = "CAPTURE_AUTH_TOKEN"
	EnvExecutablePath = "PLAYWRIGHT_CHROMIUM_EXECUTABLE_PATH"
	EnvDebugPort      = "CAPTURE_DEBUG_PORT"
	EnvMaxContexts    = "CAPTURE_MAX_CONTEXTS"
	EnvLogLevel       = "CAPTURE_LOG_LEVEL"
	EnvLogFormat      = "CAPTURE_LOG_FORMAT"
)

// Config is the complete service configuration.
type Config struct {
	Server  server.Config  `yaml:"server" json:"server"`
	Engine  engine.Config  `yaml:"engine" json:"engine"`
	Capture CaptureConfig  `yaml:"capture" json:"capture"`
	Audit   audit.Config   `yaml:"audit" json:"audit"`
	Logging logging.Config `yaml:"logging" json:"logging"`
}

// CaptureConfig controls request execution.
type CaptureConfig struct {
	// TrustedOrigins are URL globs that receive caller-supplied headers.
	TrustedOrigins []string `yaml:"trusted_origins" json:"trusted_origins"`

	// MaxContexts bounds concurrently open isolated contexts. Zero means
	// unbounded.
	MaxContexts int `yaml:"max_contexts" json:"max_contexts"`
}

// DefaultConfig returns a configuration suitable for a single container.
func DefaultConfig() *Config {
	return &Config{
		Server: server.DefaultConfig(),
		Engine: engine.DefaultConfig(),
		Capture: CaptureConfig{
			TrustedOrigins: append([]string(nil), intercept.DefaultTrustedOrigins...),
			MaxContexts:    8,
		},
		Audit: audit.DefaultConfig(),
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment variables that are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	intVar := func(name string, dst *int) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", name, v))
			return
		}
		*dst = n
	}
	stringVar := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	intVar(EnvPort, &c.Server.Port)
	stringVar(EnvAuthToken, &c.Server.AuthToken)
	stringVar(EnvExecutablePath, &c.Engine.ExecutablePath)
	intVar(EnvDebugPort, &c.Engine.DebugPort)
	intVar(EnvMaxContexts, &c.Capture.MaxContexts)
	stringVar(EnvLogLevel, &c.Logging.Level)
	stringVar(EnvLogFormat, &c.Logging.Format)

	return errors.Join(errs...)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be positive")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server max_connections cannot be negative")
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.ShutdownGrace < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}

	if c.Engine.DebugPort < 0 || c.Engine.DebugPort > 65535 {
		return fmt.Errorf("invalid engine debug port: %d", c.Engine.DebugPort)
	}
	if c.Engine.DebugPort == c.Server.Port {
		return fmt.Errorf("engine debug port %d collides with the server port", c.Engine.DebugPort)
	}
	if vp := c.Engine.DefaultViewport; vp.Width <= 0 || vp.Height <= 0 {
		return fmt.Errorf("invalid engine default viewport: %dx%d", vp.Width, vp.Height)
	}

	if c.Capture.MaxContexts < 0 {
		return fmt.Errorf("capture max_contexts cannot be negative")
	}
	if _, err := intercept.NewFilter(c.Capture.TrustedOrigins); err != nil {
		return err
	}

	if c.Audit.Command == "" {
		return fmt.Errorf("audit command is required")
	}
	if c.Audit.Timeout < 0 {
		return fmt.Errorf("audit timeout cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	return nil
}
