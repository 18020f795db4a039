// Package config loads daemon configuration from YAML plus a small set of
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML carries as a "30s" style string.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the application configuration
type Config struct {
	Ingress  IngressConfig  `yaml:"ingress"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Rcon     RconConfig     `yaml:"rcon"`
	Journal  JournalConfig  `yaml:"journal"`

	// EncryptionKey is never read from the file; it comes from the
	// ENCRYPTION_KEY environment variable only.
	EncryptionKey string `yaml:"-"`
}

// IngressConfig holds the UDP log listener settings
type IngressConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// AutoRegister creates server records for unknown address pairs instead
	// of dropping their traffic.
	AutoRegister bool   `yaml:"auto_register"`
	DefaultGame  string `yaml:"default_game"`
}

// HTTPConfig holds the admin API settings
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string   `yaml:"jwt_secret"`
	TokenDuration Duration `yaml:"token_duration"`
}

// RconConfig holds the status scraper settings
type RconConfig struct {
	StatusInterval Duration `yaml:"status_interval"`

	// ActiveServerMaxAge bounds which servers get scraped. Overridable via
	// RCON_ACTIVE_SERVER_MAX_AGE_MINUTES.
	ActiveServerMaxAge Duration `yaml:"active_server_max_age"`
}

// JournalConfig holds the raw-line journal settings
type JournalConfig struct {
	// Dir enables the gzip journal when non-empty.
	Dir string `yaml:"dir"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Ingress.ListenAddr == "" {
		cfg.Ingress.ListenAddr = "0.0.0.0:27500"
	}
	if cfg.Ingress.DefaultGame == "" {
		cfg.Ingress.DefaultGame = "cstrike"
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = "127.0.0.1"
	}
	if cfg.HTTP.HTTPPort == 0 {
		cfg.HTTP.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/hlxd/hlxd.db"
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = Duration(24 * time.Hour)
	}
	if cfg.Rcon.StatusInterval == 0 {
		cfg.Rcon.StatusInterval = Duration(30 * time.Second)
	}
	if cfg.Rcon.ActiveServerMaxAge == 0 {
		cfg.Rcon.ActiveServerMaxAge = Duration(60 * time.Minute)
	}

	// Environment overrides
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")
	if v := os.Getenv("RCON_ACTIVE_SERVER_MAX_AGE_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid RCON_ACTIVE_SERVER_MAX_AGE_MINUTES %q", v)
		}
		cfg.Rcon.ActiveServerMaxAge = Duration(time.Duration(minutes) * time.Minute)
	}

	return &cfg, nil
}

// Save writes a config file, used by `init` to lay down a starter config.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
