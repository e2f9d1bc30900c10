// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/pkg/utils"
)

// BridgeConfig represents the entire mcp-bridge.yaml file
type BridgeConfig struct {
	Version      string                       `yaml:"version"`
	Server       ServerConfig                 `yaml:"server"`
	Timeouts     TimeoutsConfig               `yaml:"timeouts,omitempty"`
	Bridge       BehaviorConfig               `yaml:"bridge,omitempty"`
	HTTP         HTTPConfig                   `yaml:"http,omitempty"`
	Logging      LoggingConfig                `yaml:"logging,omitempty"`
	Activity     ActivityConfig               `yaml:"activity,omitempty"`
	Environments map[string]EnvironmentConfig `yaml:"environments,omitempty"`
	CurrentEnv   string                       `yaml:"-"`
}

// ServerConfig describes the MCP child process
type ServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// EnvFile is a KEY=VALUE file merged under Env. Relative paths are
	// resolved against WorkDir.
	EnvFile string `yaml:"env_file,omitempty"`
	// ReadySignal is the stderr substring that starts the handshake. An
	// explicit empty string handshakes right after spawn.
	ReadySignal     *string `yaml:"ready_signal,omitempty"`
	ProtocolVersion string  `yaml:"protocol_version,omitempty"`
	ClientName      string  `yaml:"client_name,omitempty"`
	ClientVersion   string  `yaml:"client_version,omitempty"`
}

// TimeoutsConfig holds Go duration strings
type TimeoutsConfig struct {
	HandshakeDelay      string `yaml:"handshake_delay,omitempty"`
	InitializeTimeout   string `yaml:"initialize_timeout,omitempty"`
	PostInitializeDelay string `yaml:"post_initialize_delay,omitempty"`
	NotificationDelay   string `yaml:"notification_delay,omitempty"`
	ToolCallTimeout     string `yaml:"tool_call_timeout,omitempty"`
}

// Timeouts is TimeoutsConfig after parsing
type Timeouts struct {
	HandshakeDelay      time.Duration
	InitializeTimeout   time.Duration
	PostInitializeDelay time.Duration
	NotificationDelay   time.Duration
	ToolCallTimeout     time.Duration
}

// BehaviorConfig tunes bridge failure handling
type BehaviorConfig struct {
	FailPendingOnExit *bool `yaml:"fail_pending_on_exit,omitempty"`
}

// HTTPConfig defines the HTTP listener
type HTTPConfig struct {
	Host           string   `yaml:"host,omitempty"`
	Port           int      `yaml:"port,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// LoggingConfig defines global logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// ActivityConfig defines the activity feed
type ActivityConfig struct {
	Buffer      int    `yaml:"buffer,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
	Retention   string `yaml:"retention,omitempty"`
}

// EnvironmentConfig defines environment-specific configuration overrides
type EnvironmentConfig struct {
	Server   ServerOverrideConfig `yaml:"server,omitempty"`
	Timeouts TimeoutsConfig       `yaml:"timeouts,omitempty"`
	Logging  LoggingConfig        `yaml:"logging,omitempty"`
}

// ServerOverrideConfig defines environment-specific server overrides
type ServerOverrideConfig struct {
	Env     map[string]string `yaml:"env,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`
}

// Default returns the configuration used when no file exists: the bridge
// spawns `uv run mcp-trader` next to this checkout and listens on :8000.
func Default() *BridgeConfig {
	cfg := &BridgeConfig{
		Version: constants.ConfigVersion,
		Server: ServerConfig{
			Command: constants.DefaultChildCommand,
			Args:    []string{"run", "mcp-trader"},
			WorkDir: constants.DefaultChildWorkDir,
		},
	}
	applyDefaults(cfg)
	cfg.CurrentEnv = currentEnvironment()

	return cfg
}

func currentEnvironment() string {
	envName := os.Getenv("MCP_ENV")
	if envName == "" {
		envName = constants.DefaultEnvironment
	}

	return envName
}

// LoadConfig loads and parses the config file with environment support
func LoadConfig(filePath string) (*BridgeConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in '%s': %w", filePath, err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like LoadConfig but falls back to Default when the
// file does not exist.
func LoadOrDefault(filePath string) (*BridgeConfig, error) {
	cfg, err := LoadConfig(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Parse expands ${VAR} references, applies defaults and environment
// overrides, then validates.
func Parse(data []byte) (*BridgeConfig, error) {
	expandedData := os.ExpandEnv(string(data))

	var cfg BridgeConfig
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.CurrentEnv = currentEnvironment()
	if envConfig, exists := cfg.Environments[cfg.CurrentEnv]; exists {
		applyEnvironmentOverrides(&cfg, envConfig)
	}
	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *BridgeConfig) {
	if cfg.Server.ReadySignal == nil {
		signal := constants.DefaultReadySignal
		cfg.Server.ReadySignal = &signal
	}
	if cfg.Server.ProtocolVersion == "" {
		cfg.Server.ProtocolVersion = constants.DefaultProtocolVersion
	}
	if cfg.Server.ClientName == "" {
		cfg.Server.ClientName = constants.DefaultClientName
	}
	if cfg.Server.ClientVersion == "" {
		cfg.Server.ClientVersion = constants.DefaultClientVersion
	}

	t := &cfg.Timeouts
	setDuration(&t.HandshakeDelay, constants.HandshakeDelay)
	setDuration(&t.InitializeTimeout, constants.InitializeTimeout)
	setDuration(&t.PostInitializeDelay, constants.PostInitializeDelay)
	setDuration(&t.NotificationDelay, constants.NotificationSettleDelay)
	setDuration(&t.ToolCallTimeout, constants.ToolCallTimeout)

	if cfg.Bridge.FailPendingOnExit == nil {
		enabled := true
		cfg.Bridge.FailPendingOnExit = &enabled
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = constants.DefaultHostInterface
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = constants.DefaultHTTPPort
	}
	if len(cfg.HTTP.AllowedOrigins) == 0 {
		cfg.HTTP.AllowedOrigins = []string{"*"}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = constants.DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Activity.Buffer == 0 {
		cfg.Activity.Buffer = constants.DefaultActivityBuffer
	}
	if cfg.Activity.Retention == "" {
		cfg.Activity.Retention = constants.DefaultActivityRetention.String()
	}
}

func setDuration(field *string, def time.Duration) {
	if *field == "" {
		*field = def.String()
	}
}

// applyEnvironmentOverrides applies environment-specific overrides to the config
func applyEnvironmentOverrides(cfg *BridgeConfig, envConfig EnvironmentConfig) {
	if len(envConfig.Server.Env) > 0 {
		if cfg.Server.Env == nil {
			cfg.Server.Env = make(map[string]string)
		}
		for k, v := range envConfig.Server.Env {
			cfg.Server.Env[k] = v
		}
	}
	if envConfig.Server.WorkDir != "" {
		cfg.Server.WorkDir = envConfig.Server.WorkDir
	}

	o := envConfig.Timeouts
	for _, pair := range [][2]*string{
		{&cfg.Timeouts.HandshakeDelay, &o.HandshakeDelay},
		{&cfg.Timeouts.InitializeTimeout, &o.InitializeTimeout},
		{&cfg.Timeouts.PostInitializeDelay, &o.PostInitializeDelay},
		{&cfg.Timeouts.NotificationDelay, &o.NotificationDelay},
		{&cfg.Timeouts.ToolCallTimeout, &o.ToolCallTimeout},
	} {
		if *pair[1] != "" {
			*pair[0] = *pair[1]
		}
	}

	if envConfig.Logging.Level != "" {
		cfg.Logging.Level = envConfig.Logging.Level
	}
	if envConfig.Logging.Format != "" {
		cfg.Logging.Format = envConfig.Logging.Format
	}
}

// ValidateConfig checks a config with defaults already applied
func ValidateConfig(cfg *BridgeConfig) error {
	if cfg.Version != constants.ConfigVersion {
		return fmt.Errorf("unsupported version: '%s', expected '%s'", cfg.Version, constants.ConfigVersion)
	}

	if strings.TrimSpace(cfg.Server.Command) == "" {
		return fmt.Errorf("server.command must be specified")
	}

	timeouts, err := cfg.Timeouts.Parse()
	if err != nil {
		return err
	}
	if timeouts.InitializeTimeout <= 0 {
		return fmt.Errorf("timeouts.initialize_timeout must be positive")
	}
	if timeouts.ToolCallTimeout <= 0 {
		return fmt.Errorf("timeouts.tool_call_timeout must be positive")
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", cfg.HTTP.Port)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging level: '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: '%s', expected 'text' or 'json'", cfg.Logging.Format)
	}

	if cfg.Activity.Buffer < 0 {
		return fmt.Errorf("activity.buffer must not be negative")
	}
	if _, err := cfg.Activity.RetentionDuration(); err != nil {
		return err
	}

	return nil
}

// Parse converts the duration strings. Delays may be zero, never negative.
func (t TimeoutsConfig) Parse() (Timeouts, error) {
	var out Timeouts
	for _, field := range []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"handshake_delay", t.HandshakeDelay, &out.HandshakeDelay},
		{"initialize_timeout", t.InitializeTimeout, &out.InitializeTimeout},
		{"post_initialize_delay", t.PostInitializeDelay, &out.PostInitializeDelay},
		{"notification_delay", t.NotificationDelay, &out.NotificationDelay},
		{"tool_call_timeout", t.ToolCallTimeout, &out.ToolCallTimeout},
	} {
		if field.value == "" {
			continue
		}
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return Timeouts{}, fmt.Errorf("invalid timeouts.%s '%s': %w", field.name, field.value, err)
		}
		if d < 0 {
			return Timeouts{}, fmt.Errorf("timeouts.%s must not be negative", field.name)
		}
		*field.dest = d
	}

	return out, nil
}

// RetentionDuration parses the activity retention window
func (a ActivityConfig) RetentionDuration() (time.Duration, error) {
	if a.Retention == "" {
		return constants.DefaultActivityRetention, nil
	}
	d, err := time.ParseDuration(a.Retention)
	if err != nil {
		return 0, fmt.Errorf("invalid activity.retention '%s': %w", a.Retention, err)
	}

	return d, nil
}

// ReadySignal returns the configured readiness substring
func (c *BridgeConfig) ReadySignal() string {
	if c.Server.ReadySignal == nil {
		return constants.DefaultReadySignal
	}

	return *c.Server.ReadySignal
}

// FailPendingOnExit reports whether in-flight calls fail when the child dies
func (c *BridgeConfig) FailPendingOnExit() bool {
	if c.Bridge.FailPendingOnExit == nil {
		return true
	}

	return *c.Bridge.FailPendingOnExit
}

// ChildEnv returns the child's extra environment: env_file entries
// overridden by the env map.
func (c *BridgeConfig) ChildEnv() (map[string]string, error) {
	env := make(map[string]string)
	if c.Server.EnvFile != "" {
		path := c.Server.EnvFile
		if !filepath.IsAbs(path) && c.Server.WorkDir != "" {
			path = filepath.Join(c.Server.WorkDir, path)
		}
		fileEnv, err := utils.ParseEnvFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read env_file: %w", err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for k, v := range c.Server.Env {
		env[k] = v
	}

	return env, nil
}

// Address returns host:port for the HTTP listener
func (c *BridgeConfig) Address() string {

	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// SaveConfig saves the configuration to a file
func SaveConfig(filePath string, cfg *BridgeConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, constants.DefaultFileMode); err != nil {
		return fmt.Errorf("failed to write config file '%s': %w", filePath, err)
	}

	return nil
}
