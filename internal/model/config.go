package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Mailbox auth modes.
const (
	AuthPassword = "password"
	AuthOAuth2   = "oauth2"
)

// OAuthConfig describes how to refresh an access token for an account.
// The refresh token itself lives in the keyring.
type OAuthConfig struct {
	ClientID string   `mapstructure:"client_id" yaml:"client_id"`
	TokenURL string   `mapstructure:"token_url" yaml:"token_url" validate:"omitempty,url"`
	Scopes   []string `mapstructure:"scopes" yaml:"scopes"`
}

// AccountConfig holds the configuration for one connected mailbox.
type AccountConfig struct {
	// ID is the unique identifier for this account; also the keyring key prefix.
	ID string `mapstructure:"id" yaml:"id" validate:"required"`

	TenantID string `mapstructure:"tenant_id" yaml:"tenant_id" validate:"required"`

	// UserID is the syncing user; ingested items are owned by them.
	UserID string `mapstructure:"user_id" yaml:"user_id" validate:"required"`

	// Address is the mailbox address used as the From of replies.
	Address string `mapstructure:"address" yaml:"address" validate:"required,email"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host" validate:"required"`
	IMAPPort int    `mapstructure:"imap_port" yaml:"imap_port" validate:"min=1,max=65535"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host" validate:"required"`
	SMTPPort int    `mapstructure:"smtp_port" yaml:"smtp_port" validate:"min=1,max=65535"`
	Username string `mapstructure:"username" yaml:"username" validate:"required"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Folders lists the mailboxes to sync. Defaults to INBOX.
	Folders []string `mapstructure:"folders" yaml:"folders"`

	Auth  string      `mapstructure:"auth" yaml:"auth" validate:"oneof=password oauth2"`
	OAuth OAuthConfig `mapstructure:"oauth" yaml:"oauth"`

	// Enabled controls whether this account is actively synced.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite pgx"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" validate:"required"`
}

// RedisConfig enables the redis-backed sync lease when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// LoggerConfig controls log level, format and destination.
type LoggerConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output"`
}

// AnalysisConfig holds settings for the analysis provider.
type AnalysisConfig struct {
	Model      string `mapstructure:"model" yaml:"model" validate:"required"`
	MaxTokens  int    `mapstructure:"max_tokens" yaml:"max_tokens" validate:"min=1"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec" validate:"min=1"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	APIKeyEnv  string `mapstructure:"api_key_env" yaml:"api_key_env"`
}

// Timeout returns the bounded timeout for one provider call.
func (c AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// DefaultsConfig holds tenant settings used when a tenant leaves them unset.
type DefaultsConfig struct {
	SLAHours                 int `mapstructure:"sla_hours" yaml:"sla_hours" validate:"min=1"`
	EscalationTimeoutMinutes int `mapstructure:"escalation_timeout_minutes" yaml:"escalation_timeout_minutes" validate:"min=1"`
}

// TriageConfig sizes the analyzer worker pool.
type TriageConfig struct {
	Workers            int `mapstructure:"workers" yaml:"workers" validate:"min=1"`
	QueueSize          int `mapstructure:"queue_size" yaml:"queue_size" validate:"min=1"`
	BacklogIntervalSec int `mapstructure:"backlog_interval_sec" yaml:"backlog_interval_sec" validate:"min=1"`
	BacklogMinAgeSec   int `mapstructure:"backlog_min_age_sec" yaml:"backlog_min_age_sec" validate:"min=1"`
}

// EscalationConfig controls the SLA sweep.
type EscalationConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec" validate:"min=1"`
	BatchSize   int `mapstructure:"batch_size" yaml:"batch_size" validate:"min=1"`
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency" validate:"min=1"`
}

// SyncConfig controls mailbox synchronisation.
type SyncConfig struct {
	IntervalSec          int `mapstructure:"interval_sec" yaml:"interval_sec" validate:"min=1"`
	FetchTimeoutSec      int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec" validate:"min=1"`
	LeaseTTLSec          int `mapstructure:"lease_ttl_sec" yaml:"lease_ttl_sec" validate:"min=1"`
	InitialLookbackHours int `mapstructure:"initial_lookback_hours" yaml:"initial_lookback_hours" validate:"min=1"`
	OverlapMinutes       int `mapstructure:"overlap_minutes" yaml:"overlap_minutes" validate:"min=0"`
}

// HealthConfig holds the ops endpoint address. Empty disables it.
type HealthConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Analysis   AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
	Defaults   DefaultsConfig   `mapstructure:"defaults" yaml:"defaults"`
	Triage     TriageConfig     `mapstructure:"triage" yaml:"triage"`
	Escalation EscalationConfig `mapstructure:"escalation" yaml:"escalation"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Accounts   []AccountConfig  `mapstructure:"accounts" yaml:"accounts" validate:"dive"`
}

// Account returns the account with the given id.
func (c *AppConfig) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/triaged/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "triaged", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "triage.db")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("analysis.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("analysis.max_tokens", 1024)
	v.SetDefault("analysis.timeout_sec", 30)
	v.SetDefault("analysis.base_url", "https://api.anthropic.com")
	v.SetDefault("analysis.api_key_env", "ANTHROPIC_API_KEY")
	v.SetDefault("defaults.sla_hours", 24)
	v.SetDefault("defaults.escalation_timeout_minutes", 60)
	v.SetDefault("triage.workers", 4)
	v.SetDefault("triage.queue_size", 256)
	v.SetDefault("triage.backlog_interval_sec", 120)
	v.SetDefault("triage.backlog_min_age_sec", 60)
	v.SetDefault("escalation.interval_sec", 300)
	v.SetDefault("escalation.batch_size", 200)
	v.SetDefault("escalation.concurrency", 4)
	v.SetDefault("sync.interval_sec", 120)
	v.SetDefault("sync.fetch_timeout_sec", 60)
	v.SetDefault("sync.lease_ttl_sec", 600)
	v.SetDefault("sync.initial_lookback_hours", 24)
	v.SetDefault("sync.overlap_minutes", 10)
	v.SetDefault("health.addr", ":8081")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with TRIAGE_ override file values. A
// missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]
		if len(acct.Folders) == 0 {
			acct.Folders = []string{"INBOX"}
		}
		if acct.Auth == "" {
			acct.Auth = AuthPassword
		}
		if acct.IMAPPort == 0 {
			acct.IMAPPort = 993
		}
		if acct.SMTPPort == 0 {
			acct.SMTPPort = 587
		}
		if !acct.Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("accounts.%d.enabled", i)
			if !v.IsSet(key) {
				acct.Enabled = true
			}
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}
