package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp-bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name       string
		configYAML string
		expectErr  bool
	}{
		{
			name: "valid basic config",
			configYAML: `version: "1"
server:
  command: uv
  args: ["run", "mcp-trader"]
  workdir: ../mcp-trader`,
			expectErr: false,
		},
		{
			name: "invalid yaml",
			configYAML: `version: "1"
server:
  command: "uv
  # missing closing quote`,
			expectErr: true,
		},
		{
			name: "wrong version",
			configYAML: `version: "2"
server:
  command: uv`,
			expectErr: true,
		},
		{
			name:       "missing command",
			configYAML: `version: "1"`,
			expectErr:  true,
		},
		{
			name: "invalid duration",
			configYAML: `version: "1"
server:
  command: uv
timeouts:
  tool_call_timeout: soon`,
			expectErr: true,
		},
		{
			name: "zero tool call timeout",
			configYAML: `version: "1"
server:
  command: uv
timeouts:
  tool_call_timeout: 0s`,
			expectErr: true,
		},
		{
			name: "invalid port",
			configYAML: `version: "1"
server:
  command: uv
http:
  port: 70000`,
			expectErr: true,
		},
		{
			name: "invalid logging format",
			configYAML: `version: "1"
server:
  command: uv
logging:
  format: xml`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.configYAML)

			_, err := LoadConfig(path)
			if tt.expectErr && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `version: "1"
server:
  command: uv
  args: ["run", "mcp-trader"]`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.ReadySignal() != "Server ready!" {
		t.Errorf("Expected default ready signal, got %q", cfg.ReadySignal())
	}
	if cfg.Server.ProtocolVersion != "2024-11-05" {
		t.Errorf("Expected default protocol version, got %s", cfg.Server.ProtocolVersion)
	}
	if cfg.Server.ClientName != "mcp-bridge" || cfg.Server.ClientVersion != "1.0.0" {
		t.Errorf("Unexpected client identity %s/%s", cfg.Server.ClientName, cfg.Server.ClientVersion)
	}
	if !cfg.FailPendingOnExit() {
		t.Error("Expected fail_pending_on_exit to default to true")
	}
	if cfg.Address() != "0.0.0.0:8000" {
		t.Errorf("Expected default address, got %s", cfg.Address())
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Unexpected logging defaults %+v", cfg.Logging)
	}

	timeouts, err := cfg.Timeouts.Parse()
	if err != nil {
		t.Fatalf("Parse timeouts failed: %v", err)
	}
	expected := Timeouts{
		HandshakeDelay:      3 * time.Second,
		InitializeTimeout:   15 * time.Second,
		PostInitializeDelay: time.Second,
		NotificationDelay:   time.Second,
		ToolCallTimeout:     30 * time.Second,
	}
	if timeouts != expected {
		t.Errorf("Expected %+v, got %+v", expected, timeouts)
	}

	retention, err := cfg.Activity.RetentionDuration()
	if err != nil || retention != 7*24*time.Hour {
		t.Errorf("Expected 7 day retention, got %v (%v)", retention, err)
	}
}

func TestEmptyReadySignalIsKept(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `version: "1"
server:
  command: python
  ready_signal: ""
bridge:
  fail_pending_on_exit: false`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ReadySignal() != "" {
		t.Errorf("Expected empty ready signal, got %q", cfg.ReadySignal())
	}
	if cfg.FailPendingOnExit() {
		t.Error("Expected fail_pending_on_exit to be false")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TRADER_DIR", "/srv/mcp-trader")
	t.Setenv("TRADER_KEY", "secret")

	path := writeConfig(t, t.TempDir(), `version: "1"
server:
  command: uv
  workdir: ${TRADER_DIR}
  env:
    API_KEY: ${TRADER_KEY}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.WorkDir != "/srv/mcp-trader" {
		t.Errorf("Expected expanded workdir, got %s", cfg.Server.WorkDir)
	}
	if cfg.Server.Env["API_KEY"] != "secret" {
		t.Errorf("Expected expanded env, got %v", cfg.Server.Env)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	content := `version: "1"
server:
  command: uv
  env:
    LOG: info
timeouts:
  tool_call_timeout: 30s
logging:
  level: info
environments:
  production:
    server:
      workdir: /opt/mcp-trader
      env:
        LOG: warning
    timeouts:
      tool_call_timeout: 45s
    logging:
      level: warning
      format: json`

	tests := []struct {
		name        string
		env         string
		workdir     string
		logEnv      string
		toolTimeout time.Duration
		level       string
	}{
		{"development defaults", "", "", "info", 30 * time.Second, "info"},
		{"production overrides", "production", "/opt/mcp-trader", "warning", 45 * time.Second, "warning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MCP_ENV", tt.env)
			path := writeConfig(t, t.TempDir(), content)

			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}

			expectedEnv := tt.env
			if expectedEnv == "" {
				expectedEnv = "development"
			}
			if cfg.CurrentEnv != expectedEnv {
				t.Errorf("Expected env %s, got %s", expectedEnv, cfg.CurrentEnv)
			}
			if cfg.Server.WorkDir != tt.workdir {
				t.Errorf("Expected workdir %q, got %q", tt.workdir, cfg.Server.WorkDir)
			}
			if cfg.Server.Env["LOG"] != tt.logEnv {
				t.Errorf("Expected LOG=%s, got %s", tt.logEnv, cfg.Server.Env["LOG"])
			}
			timeouts, err := cfg.Timeouts.Parse()
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if timeouts.ToolCallTimeout != tt.toolTimeout {
				t.Errorf("Expected tool timeout %v, got %v", tt.toolTimeout, timeouts.ToolCallTimeout)
			}
			if cfg.Logging.Level != tt.level {
				t.Errorf("Expected level %s, got %s", tt.level, cfg.Logging.Level)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.Server.Command != "uv" {
		t.Errorf("Expected default command uv, got %s", cfg.Server.Command)
	}
	if len(cfg.Server.Args) != 2 || cfg.Server.Args[1] != "mcp-trader" {
		t.Errorf("Unexpected default args %v", cfg.Server.Args)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}

	path := writeConfig(t, t.TempDir(), `version: "3"`)
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("Expected an invalid existing file to be reported")
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		name      string
		input     TimeoutsConfig
		expected  time.Duration
		expectErr bool
	}{
		{
			name:     "valid duration",
			input:    TimeoutsConfig{ToolCallTimeout: "30s"},
			expected: 30 * time.Second,
		},
		{
			name:     "valid duration with minutes",
			input:    TimeoutsConfig{ToolCallTimeout: "2m"},
			expected: 2 * time.Minute,
		},
		{
			name:      "invalid duration",
			input:     TimeoutsConfig{ToolCallTimeout: "invalid"},
			expectErr: true,
		},
		{
			name:      "negative duration",
			input:     TimeoutsConfig{ToolCallTimeout: "-1s"},
			expectErr: true,
		},
		{
			name:     "empty string",
			input:    TimeoutsConfig{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.input.Parse()

			if tt.expectErr && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if result.ToolCallTimeout != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result.ToolCallTimeout)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp-bridge.yaml")
	cfg := Default()
	cfg.HTTP.Port = 9100

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.HTTP.Port != 9100 {
		t.Errorf("Expected port 9100, got %d", loaded.HTTP.Port)
	}
	if loaded.Server.WorkDir != cfg.Server.WorkDir {
		t.Errorf("Expected workdir %s, got %s", cfg.Server.WorkDir, loaded.Server.WorkDir)
	}
}

func TestWatcherReloadsConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `version: "1"
server:
  command: uv
logging:
  level: info`)

	logger := logging.NewLogger("error")
	logger.SetOutput(os.Stderr)
	w, err := NewWatcher(path, logger)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.delay = 10 * time.Millisecond

	reloaded := make(chan *BridgeConfig, 4)
	w.Start(func(cfg *BridgeConfig) {
		reloaded <- cfg
	})
	defer w.Stop()

	// Invalid content is ignored.
	writeConfig(t, dir, `version: "9"`)
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, `version: "1"
server:
  command: uv
logging:
  level: debug`)

	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "debug" {
			t.Errorf("Expected reloaded level debug, got %s", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for config reload")
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `version: "1"
server:
  command: uv`)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Stop()
}

func TestChildEnv(t *testing.T) {
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, ".env"), []byte("API_KEY=from-file\nREGION=us\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	cfg := Default()
	cfg.Server.WorkDir = workDir
	cfg.Server.EnvFile = ".env"
	cfg.Server.Env = map[string]string{"API_KEY": "from-config"}

	env, err := cfg.ChildEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if env["API_KEY"] != "from-config" {
		t.Errorf("Expected env map to override env_file, got %q", env["API_KEY"])
	}
	if env["REGION"] != "us" {
		t.Errorf("Expected REGION from env_file, got %q", env["REGION"])
	}

	cfg.Server.EnvFile = "missing.env"
	if _, err := cfg.ChildEnv(); err == nil {
		t.Error("Expected error for missing env_file")
	}
}
