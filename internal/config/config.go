// Package config provides YAML-based configuration for the station collector.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// FailureMode selects how a batch reacts to a failing line.
type FailureMode string

const (
	// FailureModeContinue keeps writing the remaining lines after a failure.
	FailureModeContinue FailureMode = "continue"
	// FailureModeAtomic writes the batch all-or-nothing.
	FailureModeAtomic FailureMode = "atomic"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                 int    `yaml:"port"`
	BindAddress          string `yaml:"bind_address"`
	ReadTimeout          int    `yaml:"read_timeout_seconds"`
	WriteTimeout         int    `yaml:"write_timeout_seconds"`
	IdleTimeout          int    `yaml:"idle_timeout_seconds"`
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
}

// StorageConfig contains Station Log settings
type StorageConfig struct {
	DataDirectory string `yaml:"data_directory"`
	LogFile       string `yaml:"log_file"`
	// LockFile is the advisory lock sidecar. Empty means "<LogFile>.lock".
	LockFile   string `yaml:"lock_file"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// IngestConfig contains upload validation and batch settings
type IngestConfig struct {
	FormField     string      `yaml:"form_field"`
	MaxUploadSize string      `yaml:"max_upload_size"`
	MaxLines      int         `yaml:"max_lines"`
	FailureMode   FailureMode `yaml:"failure_mode"`
	RecentBatches int         `yaml:"recent_batches"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:                 8080,
			BindAddress:          "0.0.0.0",
			ReadTimeout:          60,
			WriteTimeout:         60,
			IdleTimeout:          120,
			EnableRequestLogging: true,
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			LogFile:       "uploaded-stations-data.txt",
			SyncWrites:    true,
		},
		Ingest: IngestConfig{
			FormField:     "file",
			MaxUploadSize: "8MB",
			MaxLines:      100000,
			FailureMode:   FailureModeContinue,
			RecentBatches: 100,
		},
		Advanced: AdvancedConfig{
			LogLevel: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is
// created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Unset keys keep their defaults.
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Station collector configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be corrected silently.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.LogFile) == "" {
		return fmt.Errorf("storage log_file must not be empty")
	}
	if strings.TrimSpace(c.Ingest.FormField) == "" {
		return fmt.Errorf("ingest form_field must not be empty")
	}
	if _, err := c.MaxUploadBytes(); err != nil {
		return err
	}
	if c.Ingest.MaxLines < 0 {
		return fmt.Errorf("ingest max_lines must not be negative: %d", c.Ingest.MaxLines)
	}
	switch c.Ingest.FailureMode {
	case FailureModeContinue, FailureModeAtomic:
	case "":
		c.Ingest.FailureMode = FailureModeContinue
	default:
		return fmt.Errorf("unknown ingest failure_mode: %q", c.Ingest.FailureMode)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if logFile := os.Getenv("STATION_LOG_FILE"); logFile != "" {
		c.Storage.LogFile = logFile
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.LogFile) {
		c.Storage.LogFile = filepath.Join(c.Storage.DataDirectory, c.Storage.LogFile)
	}
	if c.Storage.LockFile != "" && !filepath.IsAbs(c.Storage.LockFile) {
		c.Storage.LockFile = filepath.Join(c.Storage.DataDirectory, c.Storage.LockFile)
	}
}

// GetLogPath returns the absolute Station Log path
func (c *AppConfig) GetLogPath() string {
	return c.Storage.LogFile
}

// GetLockPath returns the advisory lock path for the Station Log
func (c *AppConfig) GetLockPath() string {
	if c.Storage.LockFile != "" {
		return c.Storage.LockFile
	}
	return c.Storage.LogFile + ".lock"
}

// MaxUploadBytes parses Ingest.MaxUploadSize ("8MB", "512KiB", ...).
// "0" or "" disables the cap.
func (c *AppConfig) MaxUploadBytes() (int64, error) {
	raw := strings.TrimSpace(c.Ingest.MaxUploadSize)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ingest max_upload_size %q: %w", raw, err)
	}
	return int64(n), nil
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		filepath.Dir(c.Storage.LogFile),
		filepath.Dir(c.GetLockPath()),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
