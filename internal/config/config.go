// Package config loads and stores the reviewctl configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

// FormatVersion is the version written into new config files.
const FormatVersion = "0.1.0"

// Environment overrides, applied after the file and any .env file are read.
const (
	EnvServerURL = "REVIEWCTL_SERVER_URL"
	EnvLogLevel  = "REVIEWCTL_LOG_LEVEL"
)

// Defaults mirror the behaviour of the hosted web client.
const (
	DefaultServerURL           = "http://localhost:8080/api/v1/code-review"
	DefaultRequestTimeout      = 30 * time.Second
	DefaultSessionLifetime     = 20 * time.Minute
	DefaultOTPWindow           = 10 * time.Minute
	DefaultExpiryCheckInterval = time.Second
	DefaultPollInterval        = 2 * time.Second
	DefaultPartialInterval     = 3 * time.Second
	DefaultPollBudget          = 300 * time.Second
	DefaultMaxCodeBytes        = 100_000
	DefaultMaxArchiveBytes     = 50 * 1024 * 1024
	DefaultAnalysisQuota       = 5
	DefaultHistoryLimit        = 50
)

// DefaultArchiveExtensions is the allow-list for archive submissions.
var DefaultArchiveExtensions = []string{".zip", ".tar.gz", ".rar"}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	Lifetime            time.Duration `yaml:"lifetime"`              // lifetime of a verified session when the server sends no expiry
	OTPWindow           time.Duration `yaml:"otp_window"`            // how long an unverified session is kept
	ExpiryCheckInterval time.Duration `yaml:"expiry_check_interval"` // expiry watch tick
	AnalysisQuota       int           `yaml:"analysis_quota"`        // analyses per session when the server sends none
}

// AnalysisConfig holds job tracking settings.
type AnalysisConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PartialInterval   time.Duration `yaml:"partial_interval"`
	PollBudget        time.Duration `yaml:"poll_budget"`
	MaxCodeBytes      int           `yaml:"max_code_bytes"`
	MaxArchiveBytes   int64         `yaml:"max_archive_bytes"`
	ArchiveExtensions []string      `yaml:"archive_extensions"`
}

// Config represents the configuration for the reviewctl CLI and client library.
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// ServerURL is the base URL of the code review API
	ServerURL string `yaml:"server_url"`
	// RequestTimeout bounds every HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// SkipTLSVerify disables certificate validation for self-hosted servers
	SkipTLSVerify bool `yaml:"skip_tls_verify"`
	// LogLevel is the zerolog level name
	LogLevel string `yaml:"log_level"`
	// SessionFile stores the single session record; defaults next to the config file
	SessionFile string `yaml:"session_file"`
	// HistoryDB is the SQLite analysis history; defaults next to the config file
	HistoryDB string `yaml:"history_db"`
	// HistoryLimit is the number of analyses kept in history
	HistoryLimit int `yaml:"history_limit"`

	Session  SessionConfig  `yaml:"session"`
	Analysis AnalysisConfig `yaml:"analysis"`

	path string
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Version: FormatVersion}
	c.applyDefaults()
	return c
}

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/reviewctl on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "reviewctl", DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the specified file.
// If no file is specified, it uses the default config location. A missing file yields the
// defaults so the CLI works against a local server out of the box.
func LoadConfig(file string) (*Config, error) {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	c := &Config{}
	yamlStr, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err = yaml.Unmarshal(yamlStr, c); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		c.Version = FormatVersion
	default:
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	c.path = file

	// .env in the working directory is optional
	_ = godotenv.Load()
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}

	c.applyDefaults()
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

func (cfg *Config) applyDefaults() {
	cfg.ServerURL = MorphServer(cfg.ServerURL)
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	s := &cfg.Session
	if s.Lifetime <= 0 {
		s.Lifetime = DefaultSessionLifetime
	}
	if s.OTPWindow <= 0 {
		s.OTPWindow = DefaultOTPWindow
	}
	if s.ExpiryCheckInterval <= 0 {
		s.ExpiryCheckInterval = DefaultExpiryCheckInterval
	}
	if s.AnalysisQuota <= 0 {
		s.AnalysisQuota = DefaultAnalysisQuota
	}

	a := &cfg.Analysis
	if a.PollInterval <= 0 {
		a.PollInterval = DefaultPollInterval
	}
	if a.PartialInterval <= 0 {
		a.PartialInterval = DefaultPartialInterval
	}
	if a.PollBudget <= 0 {
		a.PollBudget = DefaultPollBudget
	}
	if a.MaxCodeBytes <= 0 {
		a.MaxCodeBytes = DefaultMaxCodeBytes
	}
	if a.MaxArchiveBytes <= 0 {
		a.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	if len(a.ArchiveExtensions) == 0 {
		a.ArchiveExtensions = append([]string(nil), DefaultArchiveExtensions...)
	}
}

// ValidateConfig checks the values that have no sensible default.
func (cfg *Config) ValidateConfig() error {
	if cfg.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if !strings.HasPrefix(cfg.ServerURL, "http://") && !strings.HasPrefix(cfg.ServerURL, "https://") {
		return errors.New("server_url must start with http:// or https://")
	}
	if cfg.Analysis.PollBudget < cfg.Analysis.PollInterval {
		return errors.New("analysis.poll_budget must not be shorter than analysis.poll_interval")
	}
	return nil
}

// WriteConfig writes the configuration to the specified file, or to the file it was loaded
// from when file is empty.
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		file = cfg.path
	}
	if file == "" {
		return errors.New("file path cannot be empty")
	}

	err := os.MkdirAll(filepath.Dir(file), 0o700)
	if err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}

	err = os.WriteFile(file, yamlStr, os.FileMode(0600))
	if err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	cfg.path = file
	return nil
}

// Path returns the file the configuration was loaded from or last written to.
func (cfg *Config) Path() string {
	return cfg.path
}

// Dir returns the directory holding the configuration file.
func (cfg *Config) Dir() string {
	if cfg.path == "" {
		if p, err := GetDefaultConfigPath(); err == nil {
			return filepath.Dir(p)
		}
		return "."
	}
	return filepath.Dir(cfg.path)
}

// SessionPath returns the session record location.
func (cfg *Config) SessionPath() string {
	if cfg.SessionFile != "" {
		return cfg.SessionFile
	}
	return filepath.Join(cfg.Dir(), "session.yaml")
}

// HistoryPath returns the analysis history database location.
func (cfg *Config) HistoryPath() string {
	if cfg.HistoryDB != "" {
		return cfg.HistoryDB
	}
	return filepath.Join(cfg.Dir(), "history.db")
}

// MorphServer ensures the server URL is properly formatted.
// Adds http:// if no scheme is given and removes trailing slashes.
func MorphServer(server string) string {
	server = strings.TrimSpace(server)
	if server == "" {
		return server
	}

	server = strings.TrimRight(server, "/")

	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}

	return server
}

// GetServerURL returns the properly formatted server URL
func (cfg *Config) GetServerURL() string {
	return MorphServer(cfg.ServerURL)
}

// GetRequestTimeout returns the per-request timeout
func (cfg *Config) GetRequestTimeout() time.Duration {
	return cfg.RequestTimeout
}

// GetSkipTLSVerify reports whether certificate validation is disabled
func (cfg *Config) GetSkipTLSVerify() bool {
	return cfg.SkipTLSVerify
}
