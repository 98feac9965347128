// Package globals holds the process-wide configuration and logger setup.
package globals

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	CORS      CORSConfig      `yaml:"cors"`
	Hosts     HostsConfig     `yaml:"hosts"`
	Probe     ProbeConfig     `yaml:"probe"`
	Channel   EventBusConfig  `yaml:"channel"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	StaticDir      string `yaml:"static_dir"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds"`
}

// HostsConfig points at the host directory file
type HostsConfig struct {
	File string `yaml:"file"`
}

type ProbeConfig struct {
	ConnectTimeoutMS   int `yaml:"connect_timeout_ms"`
	HandshakeTimeoutMS int `yaml:"handshake_timeout_ms"`
	AuthTimeoutMS      int `yaml:"auth_timeout_ms"`
}

type EventBusConfig struct {
	Capacity            int `yaml:"capacity"`
	KeepaliveIntervalMS int `yaml:"keepalive_interval_ms"`
}

type HeartbeatConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	Count      int `yaml:"count"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded first.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	_ = godotenv.Load() // a missing .env is fine

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = 30000
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = "./public"
	}
	if c.Hosts.File == "" {
		c.Hosts.File = "config/hosts.yaml"
	}
	if c.Probe.ConnectTimeoutMS == 0 {
		c.Probe.ConnectTimeoutMS = 3000
	}
	if c.Probe.HandshakeTimeoutMS == 0 {
		c.Probe.HandshakeTimeoutMS = 10000
	}
	if c.Probe.AuthTimeoutMS == 0 {
		c.Probe.AuthTimeoutMS = 10000
	}
	if c.Channel.Capacity == 0 {
		c.Channel.Capacity = 1024
	}
	if c.Channel.KeepaliveIntervalMS == 0 {
		c.Channel.KeepaliveIntervalMS = 30000
	}
	if c.Heartbeat.IntervalMS == 0 {
		c.Heartbeat.IntervalMS = 1000
	}
	if c.Heartbeat.Count == 0 {
		c.Heartbeat.Count = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate ensures all required configuration values are sane
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Probe.ConnectTimeoutMS < 0 || c.Probe.HandshakeTimeoutMS < 0 || c.Probe.AuthTimeoutMS < 0 {
		return fmt.Errorf("probe timeouts must not be negative")
	}
	if c.Channel.Capacity < 1 {
		return fmt.Errorf("channel.capacity must be positive")
	}
	if c.Heartbeat.Count < 0 {
		return fmt.Errorf("heartbeat.count must not be negative")
	}
	if !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Output {
	case "stdout":
	case "file", "both":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("logging.file_path is required when output is %q", c.Logging.Output)
		}
	default:
		return fmt.Errorf("logging.output must be one of stdout, file, both")
	}
	return nil
}

// applyEnvOverrides checks for environment variables with HOSTPING_ prefix
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOSTPING_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("HOSTPING_SERVER_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Server.Port)
	}
	if v := os.Getenv("HOSTPING_SERVER_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}

	if v := os.Getenv("HOSTPING_HOSTS_FILE"); v != "" {
		cfg.Hosts.File = v
	}

	if v := os.Getenv("HOSTPING_PROBE_CONNECT_TIMEOUT_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Probe.ConnectTimeoutMS)
	}
	if v := os.Getenv("HOSTPING_PROBE_HANDSHAKE_TIMEOUT_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Probe.HandshakeTimeoutMS)
	}
	if v := os.Getenv("HOSTPING_PROBE_AUTH_TIMEOUT_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Probe.AuthTimeoutMS)
	}

	if v := os.Getenv("HOSTPING_CHANNEL_CAPACITY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Channel.Capacity)
	}

	if v := os.Getenv("HOSTPING_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HOSTPING_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// ReadTimeout returns the read timeout as a duration
func (s *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the write timeout as a duration. Zero keeps
// long-lived event streams open.
func (s *ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (p *ProbeConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutMS) * time.Millisecond
}

func (p *ProbeConfig) HandshakeTimeout() time.Duration {
	return time.Duration(p.HandshakeTimeoutMS) * time.Millisecond
}

func (p *ProbeConfig) AuthTimeout() time.Duration {
	return time.Duration(p.AuthTimeoutMS) * time.Millisecond
}

// KeepaliveInterval returns how often idle event streams get a keep-alive frame
func (e *EventBusConfig) KeepaliveInterval() time.Duration {
	return time.Duration(e.KeepaliveIntervalMS) * time.Millisecond
}

func (h *HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMS) * time.Millisecond
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}

// DumpExampleConfig writes an example configuration to the provided writer
func DumpExampleConfig(w io.Writer) error {
	example := Default()
	example.CORS = CORSConfig{
		Enabled:        false,
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAgeSeconds:  3600,
	}
	example.Logging.FilePath = "/var/log/hostping/hostping.log"
	example.Logging.MaxSizeMB = 10
	example.Logging.MaxBackups = 3

	var node yaml.Node
	if err := node.Encode(example); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	header := `# =============================================================================
# hostping example configuration
# =============================================================================
# Copy this file to config.yaml and adjust it.
#
# Environment variable overrides follow the pattern: HOSTPING_<SECTION>_<KEY>
# Example: HOSTPING_SERVER_PORT, HOSTPING_HOSTS_FILE
# =============================================================================

`
	if _, err := fmt.Fprint(w, header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	return nil
}

// -------------------------------------------------------------------------
// Global Configuration Access
// -------------------------------------------------------------------------

var (
	globalConfig *Config
	once         sync.Once
	mu           sync.RWMutex
)

// InitGlobal loads path once and installs it as the global configuration.
// This should be called once at application startup
func InitGlobal(path string) *Config {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		globalConfig = loadConfig(path)
	})

	return globalConfig
}

func loadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

// GetConfig returns the global configuration instance
// Panics if InitGlobal has not been called
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if globalConfig == nil {
		panic("globals.GetConfig() called before InitGlobal()")
	}
	return globalConfig
}

// SetGlobalConfigForTests sets the global configuration instance for testing purposes
func SetGlobalConfigForTests(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}

// InitLogger initializes the global logger based on configuration
func InitLogger(cfg LoggingConfig) *slog.Logger {
	var handler slog.Handler

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	out := logWriter(cfg)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

func logWriter(cfg LoggingConfig) io.Writer {
	if cfg.Output == "stdout" || cfg.FilePath == "" {
		return os.Stdout
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize, // MB
		MaxBackups: cfg.MaxBackups,
		Compress:   false,
	}
	if cfg.Output == "file" {
		return rotator
	}
	return io.MultiWriter(os.Stdout, rotator)
}
