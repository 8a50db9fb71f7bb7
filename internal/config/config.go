// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Store
	DatabaseDriver string
	DatabaseURL    string

	// Redis
	RedisURL    string
	EventsQueue string
	ClaimTTL    time.Duration

	// Discord
	DiscordToken   string
	ChannelID      string
	SupportBotName string
	DiscordBaseURL string

	// Classifier
	ClassifierProvider  string
	ClassifierAPIKey    string
	ClassifierModel     string
	ClassifierBaseURL   string
	ClassifierMaxTokens int

	// Sheets (optional)
	SpreadsheetID         string
	SheetsCredentialsFile string
	SheetName             string

	// Transcript fetching
	FetchTimeout time.Duration
	FetchRetries int // negative disables retrying, 0 selects the default
	FetchBackoff time.Duration
	CDNHosts     []string

	// Process
	Port          int // health check
	WebhookPort   int
	WebhookSecret string
	Workers       int
	PollInterval  time.Duration // 0 disables the channel poller
	MaxAttempts   int
	RetryDelay    time.Duration // first redelivery wait, doubled per attempt
	LogLevel      slog.Level
}

// SheetsEnabled reports whether replication is configured.
func (c *Config) SheetsEnabled() bool { return c.SpreadsheetID != "" }

// PollingEnabled reports whether the channel poller can run.
func (c *Config) PollingEnabled() bool {
	return c.PollInterval > 0 && c.DiscordToken != "" && c.ChannelID != ""
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
		ClaimTTL string `yaml:"claim_ttl"`
	} `yaml:"redis"`
	Discord struct {
		Token          string `yaml:"token"`
		ChannelID      string `yaml:"channel_id"`
		SupportBotName string `yaml:"support_bot_name"`
		APIBaseURL     string `yaml:"api_base_url"`
	} `yaml:"discord"`
	Classifier struct {
		Provider  string `yaml:"provider"`
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		BaseURL   string `yaml:"base_url"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"classifier"`
	Sheets struct {
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		CredentialsFile string `yaml:"credentials_file"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"sheets"`
	Fetch struct {
		Timeout  string   `yaml:"timeout"`
		Retries  *int     `yaml:"retries"`
		Backoff  string   `yaml:"backoff"`
		CDNHosts []string `yaml:"cdn_hosts"`
	} `yaml:"fetch"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseDriver: firstNonEmpty(raw.Database.Driver, envOrDefault("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),

		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue: firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "tix:events")),

		DiscordToken:   firstNonEmpty(raw.Discord.Token, os.Getenv("DISCORD_TOKEN")),
		ChannelID:      firstNonEmpty(raw.Discord.ChannelID, os.Getenv("DISCORD_CHANNEL_ID")),
		SupportBotName: raw.Discord.SupportBotName,
		DiscordBaseURL: raw.Discord.APIBaseURL,

		ClassifierProvider:  strings.ToLower(firstNonEmpty(raw.Classifier.Provider, "anthropic")),
		ClassifierAPIKey:    raw.Classifier.APIKey,
		ClassifierModel:     raw.Classifier.Model,
		ClassifierBaseURL:   raw.Classifier.BaseURL,
		ClassifierMaxTokens: raw.Classifier.MaxTokens,

		SpreadsheetID:         raw.Sheets.SpreadsheetID,
		SheetsCredentialsFile: raw.Sheets.CredentialsFile,
		SheetName:             raw.Sheets.SheetName,

		CDNHosts: raw.Fetch.CDNHosts,

		Port:          envOrDefaultInt("PORT", 8080),
		WebhookPort:   envOrDefaultInt("WEBHOOK_PORT", 8081),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		Workers:       envOrDefaultInt("WORKERS", 4),
		PollInterval:  envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		MaxAttempts:   envOrDefaultInt("MAX_ATTEMPTS", 3),
		RetryDelay:    envOrDefaultDuration("RETRY_DELAY", 30*time.Second),
		LogLevel:      envOrDefaultLevel("LOG_LEVEL", slog.LevelInfo),
	}

	if cfg.ClaimTTL, err = parseDuration("redis.claim_ttl", raw.Redis.ClaimTTL); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = parseDuration("fetch.timeout", raw.Fetch.Timeout); err != nil {
		return nil, err
	}
	if cfg.FetchBackoff, err = parseDuration("fetch.backoff", raw.Fetch.Backoff); err != nil {
		return nil, err
	}
	if raw.Fetch.Retries != nil {
		cfg.FetchRetries = *raw.Fetch.Retries
		if cfg.FetchRetries == 0 {
			cfg.FetchRetries = -1
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or sqlite", c.DatabaseDriver))
	}
	switch c.ClassifierProvider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("classifier.provider %q must be anthropic or openai", c.ClassifierProvider))
	}
	if c.ClassifierAPIKey == "" {
		errs = append(errs, errors.New("classifier.api_key is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

func parseDuration(field, v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrDefaultLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err == nil {
			return level
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
