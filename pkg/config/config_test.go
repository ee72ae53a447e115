package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 9222, cfg.Engine.DebugPort)
	assert.Equal(t, 8, cfg.Capture.MaxContexts)
	assert.Equal(t, []string{"http://appwrite/*"}, cfg.Capture.TrustedOrigins)
	assert.Equal(t, "lighthouse", cfg.Audit.Command)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.yaml")
	content := `
server:
  port: 8080
  shutdown_grace: 5s
engine:
  headless: false
  default_viewport:
    width: 1920
    height: 1080
  args: ["--disable-gpu"]
capture:
  trusted_origins: ["http://appwrite/*", "http://internal.svc/*"]
  max_contexts: 2
audit:
  command: /usr/local/bin/lighthouse
  extra_flags: ["--throttling-method=provided"]
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownGrace)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes, "unset fields keep their defaults")
	assert.False(t, cfg.Engine.Headless)
	assert.Equal(t, 1920, cfg.Engine.DefaultViewport.Width)
	assert.Equal(t, []string{"--disable-gpu"}, cfg.Engine.Args)
	assert.Equal(t, 9222, cfg.Engine.DebugPort)
	assert.Equal(t, 2, cfg.Capture.MaxContexts)
	assert.Len(t, cfg.Capture.TrustedOrigins, 2)
	assert.Equal(t, "/usr/local/bin/lighthouse", cfg.Audit.Command)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [unclosed"), 0600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "failed to parse config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("capture:\n  max_contexts: -1\n"), 0600))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "max_contexts")
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(env(map[string]string{
		EnvPort:           "4000",
		EnvAuthToken:      "s3cret",
		EnvExecutablePath: "/usr/bin/chromium",
		EnvDebugPort:      "9333",
		EnvMaxContexts:    "0",
		EnvLogLevel:       "warn",
		EnvLogFormat:      "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.AuthToken)
	assert.Equal(t, "/usr/bin/chromium", cfg.Engine.ExecutablePath)
	assert.Equal(t, 9333, cfg.Engine.DebugPort)
	assert.Equal(t, 0, cfg.Capture.MaxContexts)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format, "empty values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_InvalidIntegers(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(env(map[string]string{EnvPort: "eighty", EnvMaxContexts: "many"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvPort)
	assert.Contains(t, err.Error(), EnvMaxContexts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"negative connections", func(c *Config) { c.Server.MaxConnections = -1 }, "max_connections"},
		{"negative grace", func(c *Config) { c.Server.ShutdownGrace = -time.Second }, "timeouts"},
		{"debug port collides", func(c *Config) { c.Engine.DebugPort = c.Server.Port }, "collides"},
		{"bad viewport", func(c *Config) { c.Engine.DefaultViewport.Width = 0 }, "viewport"},
		{"negative contexts", func(c *Config) { c.Capture.MaxContexts = -2 }, "max_contexts"},
		{"bad origin glob", func(c *Config) { c.Capture.TrustedOrigins = []string{"http://[x"} }, "trusted origin"},
		{"no audit command", func(c *Config) { c.Audit.Command = "" }, "audit command"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
