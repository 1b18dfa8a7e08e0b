package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "buildnotify.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "BUILDNOTIFY_PORT")
	setDuration(&cfg.Server.ReadTimeout, "BUILDNOTIFY_READ_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "BUILDNOTIFY_SHUTDOWN_TIMEOUT")

	setString(&cfg.Logging.Level, "BUILDNOTIFY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BUILDNOTIFY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "BUILDNOTIFY_LOG_ASYNC")

	// Slack
	setString(&cfg.Slack.TeamDomain, "BUILDNOTIFY_SLACK_TEAM_DOMAIN")
	setString(&cfg.Slack.Token, "BUILDNOTIFY_SLACK_TOKEN")
	setString(&cfg.Slack.TokenCredentialID, "BUILDNOTIFY_SLACK_TOKEN_CREDENTIAL_ID")
	setString(&cfg.Slack.BaseURL, "BUILDNOTIFY_SLACK_BASE_URL")
	setString(&cfg.Slack.WebhookURL, "BUILDNOTIFY_SLACK_WEBHOOK_URL")
	setString(&cfg.Slack.Rooms, "BUILDNOTIFY_SLACK_ROOMS")
	setString(&cfg.Slack.SendAs, "BUILDNOTIFY_SLACK_SEND_AS")
	setString(&cfg.Slack.IconEmoji, "BUILDNOTIFY_SLACK_ICON_EMOJI")
	setBool(&cfg.Slack.BotUser, "BUILDNOTIFY_SLACK_BOT_USER")
	setDuration(&cfg.Slack.Timeout, "BUILDNOTIFY_SLACK_TIMEOUT")
	setInt(&cfg.Slack.MaxParallel, "BUILDNOTIFY_SLACK_MAX_PARALLEL")

	// Directory
	setInt64(&cfg.Directory.MaxEntries, "BUILDNOTIFY_DIRECTORY_MAX_ENTRIES")
	setDuration(&cfg.Directory.TTL, "BUILDNOTIFY_DIRECTORY_TTL")
	setDuration(&cfg.Directory.RefreshInterval, "BUILDNOTIFY_DIRECTORY_REFRESH_INTERVAL")
	setInt(&cfg.Directory.MaxAttempts, "BUILDNOTIFY_DIRECTORY_MAX_ATTEMPTS")
	setString(&cfg.Directory.Bucket, "BUILDNOTIFY_DIRECTORY_BUCKET")

	setInt(&cfg.Breaker.MaxFailures, "BUILDNOTIFY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BUILDNOTIFY_BREAKER_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "BUILDNOTIFY_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "BUILDNOTIFY_PG_MIN_CONNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "BUILDNOTIFY_NATS_STREAM")
	setString(&cfg.NATS.Subject, "BUILDNOTIFY_NATS_SUBJECT")
	setString(&cfg.NATS.Consumer, "BUILDNOTIFY_NATS_CONSUMER")

	setString(&cfg.Webhook.Token, "BUILDNOTIFY_WEBHOOK_TOKEN")
	setString(&cfg.Webhook.Secret, "BUILDNOTIFY_WEBHOOK_SECRET")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.Service, "OTEL_SERVICE_NAME")

	setString(&cfg.Credentials.File, "BUILDNOTIFY_CREDENTIALS_FILE")

	// Notify defaults
	setString(&cfg.Notify.Defaults.Room, "BUILDNOTIFY_NOTIFY_ROOM")
	setBool(&cfg.Notify.Defaults.StartNotification, "BUILDNOTIFY_NOTIFY_START")
	setBool(&cfg.Notify.Defaults.FailOnError, "BUILDNOTIFY_NOTIFY_FAIL_ON_ERROR")
	setBool(&cfg.Notify.DedupeReasons, "BUILDNOTIFY_NOTIFY_DEDUPE_REASONS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Slack.Token == "" && cfg.Slack.TokenCredentialID == "" && cfg.Slack.WebhookURL == "" {
		return errors.New("slack.token, slack.token_credential_id or slack.webhook_url is required")
	}
	if cfg.Slack.Timeout <= 0 {
		return errors.New("slack.timeout must be > 0")
	}
	if cfg.Slack.MaxParallel < 1 {
		return errors.New("slack.max_parallel must be >= 1")
	}
	if cfg.Directory.MaxEntries < 1 {
		return errors.New("directory.max_entries must be >= 1")
	}
	if cfg.Directory.MaxAttempts < 1 {
		return errors.New("directory.max_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		return errors.New("nats.subject is required when nats.url is set")
	}
	if cfg.Webhook.Token == "" && cfg.Webhook.Secret == "" {
		return errors.New("webhook.token or webhook.secret is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
