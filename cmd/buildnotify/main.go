// Command buildnotify receives CI build events and posts Slack notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	cfhttp "github.com/Strob0t/buildnotify/internal/adapter/http"
	cfnats "github.com/Strob0t/buildnotify/internal/adapter/nats"
	cfotel "github.com/Strob0t/buildnotify/internal/adapter/otel"
	"github.com/Strob0t/buildnotify/internal/adapter/natskv"
	"github.com/Strob0t/buildnotify/internal/adapter/postgres"
	"github.com/Strob0t/buildnotify/internal/adapter/ristretto"
	"github.com/Strob0t/buildnotify/internal/adapter/slack"
	"github.com/Strob0t/buildnotify/internal/adapter/tiered"
	"github.com/Strob0t/buildnotify/internal/config"
	"github.com/Strob0t/buildnotify/internal/logger"
	"github.com/Strob0t/buildnotify/internal/middleware"
	"github.com/Strob0t/buildnotify/internal/port/cache"
	"github.com/Strob0t/buildnotify/internal/secrets"
	"github.com/Strob0t/buildnotify/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"history", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL.Service, cfg.OTEL.Endpoint, cfg.OTEL.Insecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- NATS ---

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Drain() }()
	}

	// --- Slack ---

	token, err := resolveToken(cfg)
	if err != nil {
		return err
	}

	slackCfg := slack.Config{
		TeamDomain:  cfg.Slack.TeamDomain,
		Token:       token,
		BaseURL:     cfg.Slack.BaseURL,
		WebhookURL:  cfg.Slack.WebhookURL,
		Rooms:       cfg.Slack.Rooms,
		Username:    cfg.Slack.SendAs,
		IconEmoji:   cfg.Slack.IconEmoji,
		IconURL:     cfg.Slack.IconURL,
		BotUser:     cfg.Slack.BotUser,
		Timeout:     cfg.Slack.Timeout,
		MaxParallel: cfg.Slack.MaxParallel,
	}
	httpClient := cfotel.HTTPClient()
	opts := []slack.Option{
		slack.WithHTTPClient(httpClient),
		slack.WithBreaker(slack.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)),
	}

	if token != "" {
		api := slack.NewClient(slackCfg, httpClient)

		local, err := ristretto.New[string](cfg.Directory.MaxEntries)
		if err != nil {
			return fmt.Errorf("directory cache: %w", err)
		}
		defer local.Close()

		var channels cache.Cache[string] = local
		if queue != nil && cfg.Directory.Bucket != "" {
			kv, err := queue.KeyValue(ctx, cfg.Directory.Bucket, cfg.Directory.TTL)
			if err != nil {
				return fmt.Errorf("directory bucket: %w", err)
			}
			channels = tiered.New[string](local, natskv.New(kv), cfg.Directory.RefreshInterval)
			slog.Info("channel directory shared", "bucket", cfg.Directory.Bucket)
		}

		directory := slack.NewDirectory(api, channels, slack.DirectoryConfig{
			TTL:             cfg.Directory.TTL,
			RefreshInterval: cfg.Directory.RefreshInterval,
			MaxAttempts:     cfg.Directory.MaxAttempts,
		})
		go directory.Run(ctx)

		opts = append(opts, slack.WithClient(api), slack.WithDirectory(directory))
	}
	transport := slack.NewTransport(slackCfg, opts...)

	// --- Services ---

	checks := map[string]cfhttp.HealthCheck{}
	dispatchOpts := []service.DispatcherOption{
		service.WithMetrics(metrics),
		service.WithDedupe(cfg.Notify.DedupeReasons),
	}

	if cfg.Postgres.DSN != "" {
		pool, err := openHistory(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()
		dispatchOpts = append(dispatchOpts, service.WithHistory(postgres.NewBuildStore(pool)))
		checks["postgres"] = pool.Ping
	}

	dispatcher := service.NewDispatcher(
		service.NewConfigPreferences(cfg.Notify),
		transport,
		service.NewMessageBuilder(service.NewTemplateExpander()),
		dispatchOpts...,
	)

	if queue != nil {
		cancelSub, err := queue.Subscribe(ctx, cfg.NATS.Subject, dispatcher.HandleMessage)
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer cancelSub()

		checks["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
		slog.Info("consuming build events", "subject", cfg.NATS.Subject)
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Dispatcher: dispatcher,
		Steps:      service.NewStepService(transport),
		Checks:     checks,
	}

	r := chi.NewRouter()
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.Service))
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	cfhttp.MountRoutes(r, handlers, cfg.Webhook)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		// Covers the single-send routes. Build events clear their own write
		// deadline since every matched reason sends separately.
		WriteTimeout: cfg.Server.ReadTimeout + 2*cfg.Slack.Timeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// resolveToken returns the bot token, looking up slack.token_credential_id
// in the credential store when no literal token is configured.
func resolveToken(cfg *config.Config) (string, error) {
	id := cfg.Slack.TokenCredentialID
	if cfg.Slack.Token != "" || id == "" {
		return cfg.Slack.Token, nil
	}

	vault, err := secrets.NewVault(secrets.Chain(
		secrets.FileLoader(cfg.Credentials.File),
		secrets.EnvLoader(id),
	))
	if err != nil {
		return "", fmt.Errorf("credentials: %w", err)
	}
	token, err := vault.Resolve(id)
	if err != nil {
		return "", fmt.Errorf("slack token: %w", err)
	}
	slog.Info("slack token resolved", "credential_id", id, "token", vault.Redacted(id))
	return token, nil
}

func openHistory(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	version, err := postgres.MigrationVersion(ctx, cfg.DSN)
	if err != nil {
		slog.Warn("migration version unavailable", "error", err)
	}
	slog.Info("build history enabled", "schema_version", version)
	return pool, nil
}
