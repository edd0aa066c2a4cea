package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL         string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen      string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port        int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET_TOKEN"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// ErrorsFile receives a copy of every WARN and ERROR line when Dir is set.
	ErrorsFile string `yaml:"errors_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates (text, commands, locations) for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": text messages, commands and shared locations
// Payment updates are never limited.
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode reads the YAML file at path into dst and overlays environment variables.
// dst may be any struct, so applications can embed Config next to their own sections.
// A missing file is not an error when the environment carries the whole configuration.
func Decode(path string, dst any) error {
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", dst); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// runModeAliases maps accepted spellings onto the canonical run modes.
var runModeAliases = map[string]string{
	"":              RunModeLongpoll,
	RunModeLongpoll: RunModeLongpoll,
	"polling":       RunModeLongpoll,
	"long_polling":  RunModeLongpoll,
	RunModeWebhook:  RunModeWebhook,
	"webhooks":      RunModeWebhook,
}

var (
	logLevels  = []string{"", "debug", "info", "warn", "warning", "error"}
	logFormats = []string{"", "json", "kv", "text", "pretty"}
	updateKeys = []string{UpdateCallback, UpdateMessage}
)

// Normalize canonicalizes run mode, log settings and rate-limit exclusions.
// Every problem found is reported, joined into one error.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		bad("telegram.token is required (BOT_TOKEN)")
	}

	mode, ok := runModeAliases[strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))]
	switch {
	case !ok:
		bad("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	case mode == RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			bad("webhook.url is required in webhook mode")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			bad("webhook.listen is required in webhook mode")
		}
		if cfg.Webhook.Port <= 0 {
			bad("webhook.port must be > 0 in webhook mode")
		}
	case cfg.Telegram.LongPollTimeoutSeconds < 0:
		bad("telegram.longpoll_timeout_seconds must be >= 0")
	}
	if ok {
		cfg.Telegram.RunMode = mode
	}

	lc := &cfg.Logging
	lc.Level = strings.ToLower(strings.TrimSpace(lc.Level))
	if !slices.Contains(logLevels, lc.Level) {
		bad("invalid logging.level %q", lc.Level)
	}
	lc.Format = strings.ToLower(strings.TrimSpace(lc.Format))
	if !slices.Contains(logFormats, lc.Format) {
		bad("invalid logging.format %q", lc.Format)
	}

	if cfg.RateLimit.IntervalMS < 0 {
		bad("rate_limit.interval_ms must be >= 0")
	}
	exclude := cfg.RateLimit.ExcludeUpdates[:0]
	for _, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		switch {
		case key == "":
			continue
		case !slices.Contains(updateKeys, key):
			bad("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		exclude = append(exclude, key)
	}
	cfg.RateLimit.ExcludeUpdates = exclude
	return errors.Join(errs...)
}
