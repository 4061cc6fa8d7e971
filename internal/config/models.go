package config

import "time"

// Config is the httpcore configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	MDNS    MDNSConfig    `yaml:"mdns"`
}

// ServerConfig controls the listener and per-connection limits.
type ServerConfig struct {
	Host            string        `yaml:"host"` // empty means all interfaces
	Port            int           `yaml:"port"`
	BufferSize      int           `yaml:"buffer_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig names the certificate pair. SelfSigned generates an in-memory
// certificate instead. Neither set disables TLS.
type TLSConfig struct {
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	SelfSigned bool   `yaml:"self_signed"`
}

// Enabled reports whether the server should speak TLS.
func (t TLSConfig) Enabled() bool { return t.SelfSigned || t.Cert != "" || t.Key != "" }

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MDNSConfig controls the zeroconf announcement of the server.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			BufferSize:      4096,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxHeaderBytes:  64 << 10,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		MDNS:    MDNSConfig{Instance: "httpcore"},
	}
}
