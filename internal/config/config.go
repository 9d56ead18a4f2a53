// Package config loads the proxy's configuration file. The file is
// `name = value` pairs, which is plain TOML, so unknown keys are
// tolerated and a minimal four-key file loads unchanged.
package config

import (
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPort          = 8080
	DefaultThreads       = 8
	DefaultCacheSizeMB   = 200
	DefaultElementSizeMB = 10

	// QueueCapacity bounds the pending-connection FIFO. The listen
	// backlog is left at the system default.
	QueueCapacity = 100

	// MaxThreads caps a misconfigured worker count.
	MaxThreads = 256
)

type Config struct {
	Port          int    `toml:"port"`
	Threads       int    `toml:"threads"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	ElementSizeMB int    `toml:"element_size_mb"`
	LogFile       string `toml:"log_file"`
	LogLevel      string `toml:"log_level"`
	BlocklistFile string `toml:"blocklist_file"`
	ControlPort   int    `toml:"control_port"`

	AccessLog AccessLogConfig `toml:"access_log"`

	LoadedPath string `toml:"-"` // populated after loading
}

type AccessLogConfig struct {
	Enable bool   `toml:"enable"`
	File   string `toml:"file"`
	Stdout bool   `toml:"stdout"`
	Format string `toml:"format"` // "human" or "json"
}

func NewDefaultConfig() *Config {
	return &Config{
		Port:          DefaultPort,
		Threads:       DefaultThreads,
		CacheSizeMB:   DefaultCacheSizeMB,
		ElementSizeMB: DefaultElementSizeMB,
		LogFile:       "proxy.log",
		LogLevel:      "info",
		BlocklistFile: "blocklist.txt",
		ControlPort:   8081,
		AccessLog: AccessLogConfig{
			Enable: false,
			Format: "human",
		},
	}
}

// CacheBytes returns the total cache capacity in bytes.
func (c *Config) CacheBytes() int64 {
	return int64(c.CacheSizeMB) * 1024 * 1024
}

// ElementBytes returns the per-element ceiling in bytes.
func (c *Config) ElementBytes() int64 {
	return int64(c.ElementSizeMB) * 1024 * 1024
}

// ValidateAccessFormat normalizes the access log format key.
func (a *AccessLogConfig) ValidateAccessFormat() string {
	switch a.Format {
	case "human", "json":
		return a.Format
	case "":
		return "human"
	default:
		slog.Warn("config: invalid access_log format, using default", "invalid", a.Format, "default", "human")
		return "human"
	}
}

// LoadConfig reads path on top of the defaults. A missing file is not an
// error: the original deployment ran on defaults when proxy.conf was
// absent, and so does this one.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			slog.Warn("config: file not found, using defaults", "path", path)
			return cfg, nil
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
		cfg.LoadedPath = path
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		slog.Warn("config: invalid port, using default", "invalid", cfg.Port, "default", DefaultPort)
		cfg.Port = DefaultPort
	}
	if cfg.Threads <= 0 {
		slog.Warn("config: invalid threads, using default", "invalid", cfg.Threads, "default", DefaultThreads)
		cfg.Threads = DefaultThreads
	}
	if cfg.Threads > MaxThreads {
		slog.Warn("config: threads exceeds hard limit", "limit", MaxThreads, "configured", cfg.Threads)
		cfg.Threads = MaxThreads
	}
	if cfg.CacheSizeMB <= 0 {
		slog.Warn("config: invalid cache_size_mb, using default", "invalid", cfg.CacheSizeMB, "default", DefaultCacheSizeMB)
		cfg.CacheSizeMB = DefaultCacheSizeMB
	}
	if cfg.ElementSizeMB <= 0 {
		slog.Warn("config: invalid element_size_mb, using default", "invalid", cfg.ElementSizeMB, "default", DefaultElementSizeMB)
		cfg.ElementSizeMB = DefaultElementSizeMB
	}
	cfg.AccessLog.Format = cfg.AccessLog.ValidateAccessFormat()

	return cfg, nil
}
