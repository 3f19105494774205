package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	ListenAddr     string `envconfig:"LISTEN_ADDR" default:":4000"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS" default:"*"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// Persistence
	DatabasePath string `envconfig:"DATABASE_PATH" default:"orchestrator.db"`

	// GitHub prober. A token wins over App credentials; with neither the
	// prober runs anonymously against the public rate limit.
	GitHubToken          string `envconfig:"GITHUB_TOKEN"`
	GitHubAPIURL         string `envconfig:"GITHUB_API_URL"` // GitHub Enterprise base, e.g. https://ghe.example.com/api/v3/
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`

	ProbeTimeout     time.Duration `envconfig:"PROBE_TIMEOUT" default:"15s"`
	ProbeCacheSize   int           `envconfig:"PROBE_CACHE_SIZE" default:"256"`
	ProbeCacheTTL    time.Duration `envconfig:"PROBE_CACHE_TTL" default:"5m"`
	ManifestMaxBytes int           `envconfig:"MANIFEST_MAX_BYTES" default:"500"`

	// Plan materializer
	DefaultSprint string `envconfig:"DEFAULT_SPRINT" default:"fireswarm_phase0"`

	// Notifications (optional, best-effort)
	SlackBotToken    string        `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel     string        `envconfig:"SLACK_CHANNEL"`
	NotifyWebhookURL string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeout    time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	NotifyRetries    int           `envconfig:"NOTIFY_RETRIES" default:"2"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// GitHubAppEnabled returns true if GitHub App credentials are configured
// and no static token overrides them.
func (c *Config) GitHubAppEnabled() bool {
	return c.GitHubToken == "" && c.GitHubAppID > 0 && c.GitHubInstallationID > 0 && c.GitHubPrivateKeyPath != ""
}

// SlackEnabled returns true if a bot token and target channel are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// WebhookEnabled returns true if a notification webhook is configured.
func (c *Config) WebhookEnabled() bool {
	return c.NotifyWebhookURL != ""
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	if c.ManifestMaxBytes < 1 {
		return fmt.Errorf("MANIFEST_MAX_BYTES must be positive, got %d", c.ManifestMaxBytes)
	}
	if c.ProbeCacheSize < 1 {
		return fmt.Errorf("PROBE_CACHE_SIZE must be positive, got %d", c.ProbeCacheSize)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be positive, got %s", c.ProbeTimeout)
	}
	if strings.TrimSpace(c.DefaultSprint) == "" {
		return fmt.Errorf("DEFAULT_SPRINT must not be blank")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
