package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "SKINVAULT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "skinvault.db"
	defaultLogLevel     = "info"
)

// AppConfig captures runtime configuration for the chat API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	TokenTTL      time.Duration
	ModeratorIDs  []string

	GlobalRecentDays int
	DMRecentDays     int
	RetentionDays    int
	DefaultPageSize  int
	MaxPageSize      int

	ResolveTimeout       time.Duration
	AutomodLookupTimeout time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl", "24h")
	configViper.SetDefault("auth.moderator_ids", "")
	configViper.SetDefault("chat.global_recent_days", 2)
	configViper.SetDefault("chat.dm_recent_days", 7)
	configViper.SetDefault("chat.retention_days", 365)
	configViper.SetDefault("chat.default_page_size", 50)
	configViper.SetDefault("chat.max_page_size", 200)
	configViper.SetDefault("chat.resolve_timeout", "2s")
	configViper.SetDefault("chat.automod_lookup_timeout", "2s")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             configViper.GetDuration("auth.token_ttl"),
		ModeratorIDs:         splitList(configViper.GetString("auth.moderator_ids")),
		GlobalRecentDays:     configViper.GetInt("chat.global_recent_days"),
		DMRecentDays:         configViper.GetInt("chat.dm_recent_days"),
		RetentionDays:        configViper.GetInt("chat.retention_days"),
		DefaultPageSize:      configViper.GetInt("chat.default_page_size"),
		MaxPageSize:          configViper.GetInt("chat.max_page_size"),
		ResolveTimeout:       configViper.GetDuration("chat.resolve_timeout"),
		AutomodLookupTimeout: configViper.GetDuration("chat.automod_lookup_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.GlobalRecentDays < 1 || c.DMRecentDays < 1 {
		return fmt.Errorf("recent-day windows must be at least 1")
	}
	if c.RetentionDays < c.GlobalRecentDays || c.RetentionDays < c.DMRecentDays {
		return fmt.Errorf("chat.retention_days must cover the recent windows")
	}
	if c.DefaultPageSize < 1 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("page size bounds are inconsistent")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
