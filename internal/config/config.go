// Package config provides hierarchical configuration loading for buildnotify.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/buildnotify/internal/domain/notification"
)

// Config holds all runtime configuration for the buildnotify service.
type Config struct {
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
	Slack       Slack       `yaml:"slack"`
	Directory   Directory   `yaml:"directory"`
	Breaker     Breaker     `yaml:"breaker"`
	Postgres    Postgres    `yaml:"postgres"`
	NATS        NATS        `yaml:"nats"`
	Webhook     Webhook     `yaml:"webhook"`
	OTEL        OTEL        `yaml:"otel"`
	Credentials Credentials `yaml:"credentials"`
	Notify      Notify      `yaml:"notify"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level      string `yaml:"level"`
	Service    string `yaml:"service"`
	Async      bool   `yaml:"async"`
	BufferSize int    `yaml:"buffer_size"`
	Workers    int    `yaml:"workers"`
}

// Slack holds the workspace connection settings.
type Slack struct {
	TeamDomain string `yaml:"team_domain"`
	Token      string `yaml:"token"`
	// TokenCredentialID names a credential holding the token.
	TokenCredentialID string        `yaml:"token_credential_id"`
	BaseURL           string        `yaml:"base_url"`
	WebhookURL        string        `yaml:"webhook_url"`
	Rooms             string        `yaml:"rooms"`
	SendAs            string        `yaml:"send_as"`
	IconEmoji         string        `yaml:"icon_emoji"`
	IconURL           string        `yaml:"icon_url"`
	BotUser           bool          `yaml:"bot_user"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxParallel       int           `yaml:"max_parallel"`
}

// Directory holds the channel directory cache configuration.
type Directory struct {
	MaxEntries      int64         `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	// Bucket names a NATS KV bucket shared by replicas as a second cache
	// level. Ignored without nats.url.
	Bucket string `yaml:"bucket"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Postgres holds PostgreSQL connection configuration. An empty DSN disables
// the build history store.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds NATS JetStream configuration. An empty URL disables the
// event consumer.
type NATS struct {
	URL      string `yaml:"url"`
	Stream   string `yaml:"stream"`
	Subject  string `yaml:"subject"`
	Consumer string `yaml:"consumer"`
}

// Webhook holds the credentials the CI host authenticates with.
type Webhook struct {
	Token  string `yaml:"token"`
	Secret string `yaml:"secret"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Service  string `yaml:"service"`
}

// Credentials points at the credential store used to resolve
// slack.token_credential_id. Environment variables are consulted as well.
type Credentials struct {
	File string `yaml:"file"`
}

// Notify holds notification preferences: global defaults and per-job
// overrides. A job entry is applied on top of the defaults, so it only needs
// the keys it changes.
type Notify struct {
	Defaults      notification.Preferences            `yaml:"defaults"`
	Jobs          map[string]notification.Preferences `yaml:"-"`
	DedupeReasons bool                                `yaml:"dedupe_reasons"`
}

// UnmarshalYAML decodes the defaults first, then overlays each job entry on
// a copy of them.
func (n *Notify) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Defaults      yaml.Node            `yaml:"defaults"`
		Jobs          map[string]yaml.Node `yaml:"jobs"`
		DedupeReasons *bool                `yaml:"dedupe_reasons"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if !raw.Defaults.IsZero() {
		if err := raw.Defaults.Decode(&n.Defaults); err != nil {
			return fmt.Errorf("notify.defaults: %w", err)
		}
	}
	if raw.DedupeReasons != nil {
		n.DedupeReasons = *raw.DedupeReasons
	}
	if len(raw.Jobs) > 0 && n.Jobs == nil {
		n.Jobs = make(map[string]notification.Preferences, len(raw.Jobs))
	}
	for name, node := range raw.Jobs {
		prefs := n.Defaults
		if err := node.Decode(&prefs); err != nil {
			return fmt.Errorf("notify.jobs.%s: %w", name, err)
		}
		n.Jobs[name] = prefs
	}
	return nil
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: Logging{
			Level:      "info",
			Service:    "buildnotify",
			BufferSize: 1024,
			Workers:    1,
		},
		Slack: Slack{
			Timeout:     60 * time.Second,
			MaxParallel: 4,
		},
		Directory: Directory{
			MaxEntries:      10000,
			TTL:             time.Hour,
			RefreshInterval: 30 * time.Minute,
			MaxAttempts:     5,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Stream:   "BUILDS",
			Subject:  "builds.events.>",
			Consumer: "buildnotify",
		},
		OTEL: OTEL{
			Insecure: true,
			Service:  "buildnotify",
		},
		Notify: Notify{
			Defaults: notification.Preferences{
				NotifyFailure:      true,
				NotifyBackToNormal: true,
				CommitInfoChoice:   notification.CommitInfoNone,
			},
		},
	}
}
