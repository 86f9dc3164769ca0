// Package config loads the server configuration.
//
// Values are layered: built-in defaults, then environment variables, then an
// optional YAML file, then Validate. CARE_* variables are the canonical names;
// PORT, DB_PATH and JWT_SECRET are honoured as shorter aliases.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/care-assign/internal/matching"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Matching MatchingConfig `yaml:"matching"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// AuthConfig holds token settings and the bootstrap administrator. When
// AdminPassword is set the server upserts AdminLogin with every permission
// at start-up.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminLogin    string        `yaml:"admin_login"`
	AdminPassword string        `yaml:"admin_password"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MatchingConfig embeds the scorer settings and adds the batch limits.
type MatchingConfig struct {
	matching.Config `yaml:",inline"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "data/care.db",
			BusyTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   15 * time.Minute,
			AdminLogin: "admin",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Matching: MatchingConfig{
			Config:       matching.DefaultConfig(),
			MaxBatchSize: 500,
			TxTimeout:    5 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: opening %s: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.AdminPassword != "" && c.Auth.AdminLogin == "" {
		errs = append(errs, errors.New("auth.admin_login is required when admin_password is set"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	if err := c.Matching.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Matching.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("matching.max_batch_size must be positive, got %d", c.Matching.MaxBatchSize))
	}
	if c.Matching.TxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("matching.tx_timeout must be positive, got %s", c.Matching.TxTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := getEnv("CARE_PORT", "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid port %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getEnv("CARE_DB_PATH", "DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := getEnv("CARE_JWT_SECRET", "JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := getEnv("CARE_ADMIN_LOGIN"); v != "" {
		cfg.Auth.AdminLogin = v
	}
	if v := getEnv("CARE_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := getEnv("CARE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getEnv("CARE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := getEnv("CARE_MAX_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid CARE_MAX_BATCH_SIZE %q: %w", v, err)
		}
		cfg.Matching.MaxBatchSize = n
	}
	if v := getEnv("CARE_TX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid CARE_TX_TIMEOUT %q: %w", v, err)
		}
		cfg.Matching.TxTimeout = d
	}
	return nil
}

// getEnv returns the first non-empty variable among keys.
func getEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
