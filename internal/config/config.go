package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/muurk/httpcore/internal/logging"
)

const (
	appName    = "httpcore"
	configFile = "config.yaml"
)

// Mutex for file writes.
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/httpcore or $HOME/.config/httpcore
//   - macOS: $HOME/.config/httpcore
//   - Windows: %LOCALAPPDATA%\httpcore
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(profile, "AppData", "Local", appName), nil
	case "darwin":
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultPath returns the full path of the default configuration file.
func DefaultPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads path over the defaults and validates the result. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("Config file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var err error
	s := c.Server
	if s.Port < 0 || s.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port %d out of range", s.Port))
	}
	if s.BufferSize < 0 {
		err = multierr.Append(err, fmt.Errorf("server.buffer_size must not be negative"))
	}
	if s.MaxHeaderBytes < 0 {
		err = multierr.Append(err, fmt.Errorf("server.max_header_bytes must not be negative"))
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.ShutdownTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("server timeouts must not be negative"))
	}
	if !s.TLS.SelfSigned && (s.TLS.Cert == "") != (s.TLS.Key == "") {
		err = multierr.Append(err, fmt.Errorf("server.tls needs both cert and key"))
	}
	if s.TLS.SelfSigned && s.TLS.Cert != "" {
		err = multierr.Append(err, fmt.Errorf("server.tls: self_signed and cert are exclusive"))
	}
	if c.Logging.Level != "" {
		if _, lerr := logging.ParseLevel(c.Logging.Level); lerr != nil {
			err = multierr.Append(err, fmt.Errorf("logging.level: %w", lerr))
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		err = multierr.Append(err, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	if c.MDNS.Enabled && c.MDNS.Instance == "" {
		err = multierr.Append(err, fmt.Errorf("mdns.instance must be set when mdns is enabled"))
	}
	return err
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Save writes c to path atomically.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte("# httpcore configuration\n# Durations use Go syntax (5s, 1m30s).\n\n")
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
