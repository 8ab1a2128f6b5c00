// Package config provides configuration loading and structs for the pdfquery server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Hint     HintConfig     `yaml:"hint"`
	Upload   UploadConfig   `yaml:"upload"`
	Answer   AnswerConfig   `yaml:"answer"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Inbox    InboxConfig    `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds the document database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// HintConfig selects where the last active document is remembered.
type HintConfig struct {
	Backend   string      `yaml:"backend"` // file or redis
	Directory string      `yaml:"directory"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// Password returns the redis password from the configured environment variable.
func (r RedisConfig) Password() string {
	return envValue(r.PasswordEnv)
}

// UploadConfig holds upload limits.
type UploadConfig struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// AnswerConfig selects and configures the answer provider.
type AnswerConfig struct {
	Provider  string `yaml:"provider"` // ollama, anthropic or lorem
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey returns the provider API key from the configured environment variable.
func (a AnswerConfig) APIKey() string {
	return envValue(a.APIKeyEnv)
}

// ExchangeConfig holds question-answer settings.
type ExchangeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig holds bearer token and anonymous cookie settings.
// With neither JWTSecretEnv nor JWKSURL set, every caller is anonymous.
type AuthConfig struct {
	JWTSecretEnv string `yaml:"jwt_secret_env"`
	JWKSURL      string `yaml:"jwks_url"`
	CookieName   string `yaml:"cookie_name"`
	SecureCookie bool   `yaml:"secure_cookie"`
}

// JWTSecret returns the HS256 secret from the configured environment variable.
func (a AuthConfig) JWTSecret() string {
	return envValue(a.JWTSecretEnv)
}

// SessionsConfig controls how long idle owner sessions stay in memory.
type SessionsConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// InboxConfig holds the watched inbox directories. Files land in Owner's documents.
type InboxConfig struct {
	Directories []string `yaml:"directories"`
	Owner       string   `yaml:"owner"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to false when unset.
func (in *InboxConfig) RecursiveOrDefault() bool {
	if in.Recursive != nil {
		return *in.Recursive
	}
	return false
}

// Enabled reports whether any inbox directory is configured.
func (in *InboxConfig) Enabled() bool {
	return len(in.Directories) > 0
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Hint.Directory = expandPath(cfg.Hint.Directory, configDir)
	for i := range cfg.Inbox.Directories {
		cfg.Inbox.Directories[i] = expandPath(cfg.Inbox.Directories[i], configDir)
	}

	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Hint.Backend {
	case "file":
	case "redis":
		if c.Hint.Redis.Addr == "" {
			return fmt.Errorf("hint.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown hint backend %q", c.Hint.Backend)
	}
	switch c.Answer.Provider {
	case "lorem":
	case "ollama", "anthropic":
		if c.Answer.Model == "" {
			return fmt.Errorf("answer.model is required for provider %s", c.Answer.Provider)
		}
	default:
		return fmt.Errorf("unknown answer provider %q", c.Answer.Provider)
	}
	if c.Upload.MaxSizeBytes < 0 {
		return fmt.Errorf("upload.max_size_bytes cannot be negative")
	}
	if c.Sessions.IdleTimeout <= c.Exchange.Timeout {
		return fmt.Errorf("sessions.idle_timeout (%v) must exceed exchange.timeout (%v)",
			c.Sessions.IdleTimeout, c.Exchange.Timeout)
	}
	return nil
}

// Addr returns the listen address host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
