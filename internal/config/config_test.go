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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CONFIG_PATH", path)
}

const fullConfig = `
database:
  driver: sqlite
  url: "${TEST_DB_PATH}"
redis:
  url: redis://cache:6379/1
  queues:
    events: tix:test
  claim_ttl: 2m
discord:
  token: "${TEST_DISCORD_TOKEN}"
  channel_id: "42"
  support_bot_name: Across Support
classifier:
  provider: OpenAI
  api_key: sk-test
  model: gpt-test
  max_tokens: 512
sheets:
  spreadsheet_id: abc
  sheet_name: Tickets
fetch:
  timeout: 5s
  retries: 0
  backoff: 250ms
  cdn_hosts: [cdn.discordapp.com, media.discordapp.net]
`

func TestLoad_Full(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "/tmp/tix.db")
	t.Setenv("TEST_DISCORD_TOKEN", "bot-token")
	t.Setenv("WORKERS", "8")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "debug")
	writeConfig(t, fullConfig)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "/tmp/tix.db", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, "tix:test", cfg.EventsQueue)
	assert.Equal(t, 2*time.Minute, cfg.ClaimTTL)
	assert.Equal(t, "bot-token", cfg.DiscordToken)
	assert.Equal(t, "Across Support", cfg.SupportBotName)
	assert.Equal(t, "openai", cfg.ClassifierProvider)
	assert.Equal(t, 512, cfg.ClassifierMaxTokens)
	assert.True(t, cfg.SheetsEnabled())
	assert.Equal(t, "Tickets", cfg.SheetName)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, -1, cfg.FetchRetries, "explicit zero disables retries")
	assert.Equal(t, 250*time.Millisecond, cfg.FetchBackoff)
	assert.Len(t, cfg.CDNHosts, 2)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.True(t, cfg.PollingEnabled())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tix")
	writeConfig(t, "classifier:\n  api_key: k\n")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://localhost/tix", cfg.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "tix:events", cfg.EventsQueue)
	assert.Equal(t, "anthropic", cfg.ClassifierProvider)
	assert.Equal(t, 0, cfg.FetchRetries)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8081, cfg.WebhookPort)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.RetryDelay)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.SheetsEnabled())
	assert.False(t, cfg.PollingEnabled(), "no discord token")
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	writeConfig(t, "database:\n  driver: mysql\nclassifier:\n  provider: llama\n")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "classifier.provider")
	assert.Contains(t, err.Error(), "classifier.api_key is required")
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tix")
	writeConfig(t, "classifier:\n  api_key: k\nfetch:\n  timeout: soon\n")

	_, err := Load()
	assert.ErrorContains(t, err, "fetch.timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
