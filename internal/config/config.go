// Package config manages the client shell configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/easyvpn/easyvpn-client/internal/fileutil"
)

const (
	// AppName is the application identifier used for XDG paths.
	AppName = "easyvpn"
	// ConfigFileName is the name of the main configuration file.
	ConfigFileName = "config.json"

	// DefaultGatewaySocketPath is where the gateway daemon listens.
	DefaultGatewaySocketPath = "/run/easyvpn/gateway.sock"
	// DefaultWebLoginPort is the local port the web login receiver binds.
	DefaultWebLoginPort = 34999
)

// Config represents the client shell configuration.
type Config struct {
	GatewaySocketPath          string `json:"gateway_socket_path"`
	AccountPollIntervalSeconds int    `json:"account_poll_interval_seconds"`
	ProxyCheckIntervalSeconds  int    `json:"proxy_check_interval_seconds"`
	WebLoginEnabled            bool   `json:"web_login_enabled"`
	WebLoginPort               int    `json:"web_login_port"`
	RememberSession            bool   `json:"remember_session"`
}

// DefaultConfig returns a configuration with sensible defaults. The proxy
// check interval follows the reference client (10 seconds while connected).
func DefaultConfig() *Config {
	return &Config{
		GatewaySocketPath:          DefaultGatewaySocketPath,
		AccountPollIntervalSeconds: 60,
		ProxyCheckIntervalSeconds:  10,
		WebLoginEnabled:            true,
		WebLoginPort:               DefaultWebLoginPort,
		RememberSession:            true,
	}
}

// AccountPollInterval returns the account poll interval as a duration.
func (c *Config) AccountPollInterval() time.Duration {
	return time.Duration(c.AccountPollIntervalSeconds) * time.Second
}

// ProxyCheckInterval returns the proxy health check interval as a duration.
func (c *Config) ProxyCheckInterval() time.Duration {
	return time.Duration(c.ProxyCheckIntervalSeconds) * time.Second
}

// Paths holds the resolved configuration directories.
type Paths struct {
	ConfigDir  string
	ConfigFile string
}

// GetPaths returns the configuration paths following XDG Base Directory spec.
func GetPaths() (*Paths, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configHome = filepath.Join(homeDir, ".config")
	}

	configDir := filepath.Join(configHome, AppName)
	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, ConfigFileName),
	}, nil
}

// EnsurePaths creates all necessary configuration directories.
func (p *Paths) EnsurePaths() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// Load reads the configuration from disk. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to disk atomically.
func Save(path string, cfg *Config) error {
	if err := fileutil.AtomicWriteJSON(path, cfg, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.GatewaySocketPath == "" {
		return fmt.Errorf("gateway socket path must not be empty")
	}
	if c.AccountPollIntervalSeconds <= 0 {
		return fmt.Errorf("account poll interval must be positive")
	}
	if c.ProxyCheckIntervalSeconds <= 0 {
		return fmt.Errorf("proxy check interval must be positive")
	}
	if c.WebLoginEnabled && (c.WebLoginPort < 1 || c.WebLoginPort > 65535) {
		return fmt.Errorf("web login port must be between 1 and 65535")
	}
	return nil
}

// Manager provides high-level configuration management.
// It is safe for concurrent use from multiple goroutines.
type Manager struct {
	paths  *Paths       // Immutable after construction
	config *Config      // Protected by mu
	mu     sync.RWMutex // Protects config only
}

// NewManager creates a new configuration manager.
// It ensures all necessary directories exist and loads the configuration.
func NewManager() (*Manager, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}

	if err := paths.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("failed to create config directories: %w", err)
	}

	cfg, err := Load(paths.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &Manager{
		paths:  paths,
		config: cfg,
	}, nil
}

// GetConfig returns a copy of the current configuration.
// The returned copy is safe to read without holding locks.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Return a copy to prevent race conditions on the config fields
	cfg := *m.config
	return &cfg
}

// GetConfigDir returns the path to the configuration directory.
func (m *Manager) GetConfigDir() string {
	return m.paths.ConfigDir
}

// SaveConfig saves the current configuration to disk.
func (m *Manager) SaveConfig() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Save(m.paths.ConfigFile, m.config)
}

// UpdateConfig updates the configuration with a new value and saves it.
func (m *Manager) UpdateConfig(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	// Save directly without calling SaveConfig to avoid lock reentry
	return Save(m.paths.ConfigFile, m.config)
}

// UpdateField atomically updates a single config field using a mutator function.
// This avoids read-modify-write race conditions by holding the lock during the entire operation.
// If validation fails, the original config is preserved.
func (m *Manager) UpdateField(mutator func(cfg *Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Create a copy to apply mutation and validate before committing
	configCopy := *m.config
	mutator(&configCopy)
	if err := configCopy.Validate(); err != nil {
		return err
	}

	// Validation passed, apply the change
	*m.config = configCopy
	return Save(m.paths.ConfigFile, m.config)
}
