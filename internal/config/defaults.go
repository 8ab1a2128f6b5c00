package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/pdfquery/data/db/documents.db"
	}
	if cfg.Hint.Backend == "" {
		cfg.Hint.Backend = "file"
	}
	if cfg.Hint.Directory == "" {
		cfg.Hint.Directory = "/usr/local/var/pdfquery/data/hints"
	}
	if cfg.Hint.Redis.KeyPrefix == "" {
		cfg.Hint.Redis.KeyPrefix = "pdfquery:hint:"
	}
	if cfg.Upload.MaxSizeBytes == 0 {
		cfg.Upload.MaxSizeBytes = 20 << 20
	}
	if cfg.Answer.Provider == "" {
		cfg.Answer.Provider = "lorem"
	}
	if cfg.Answer.MaxTokens == 0 {
		cfg.Answer.MaxTokens = 1024
	}
	if cfg.Answer.Provider == "anthropic" && cfg.Answer.APIKeyEnv == "" {
		cfg.Answer.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 60 * time.Second
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "pdfquery_owner"
	}
	if cfg.Sessions.IdleTimeout == 0 {
		cfg.Sessions.IdleTimeout = 30 * time.Minute
	}
	if cfg.Sessions.CleanupInterval == 0 {
		cfg.Sessions.CleanupInterval = 5 * time.Minute
	}
	if cfg.Inbox.Owner == "" {
		cfg.Inbox.Owner = "inbox"
	}
}
