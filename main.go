// Command scrollback is the main entrypoint for the chat mirror service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the message store (Postgres or embedded Pebble) and, for
//     Postgres, runs idempotent migrations.
//   - Starts one live adapter per configured connection (Twitch IRC,
//     Telegram Bot API) feeding the sync registry, plus the retention
//     pruner and optional operator alerts.
//   - Exposes an HTTP API with channel status, message queries, an SSE
//     event stream, /healthz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"

	"github.com/beltheas/scrollback/config"
	"github.com/beltheas/scrollback/crypto"
	"github.com/beltheas/scrollback/db"
	"github.com/beltheas/scrollback/gateway"
	"github.com/beltheas/scrollback/mirror"
	"github.com/beltheas/scrollback/notify"
	"github.com/beltheas/scrollback/server"
	"github.com/beltheas/scrollback/store"
	"github.com/beltheas/scrollback/telegram"
	"github.com/beltheas/scrollback/telemetry"
	"github.com/beltheas/scrollback/twitch"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("scrollback", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Content encryption at rest is optional; without a key, message bodies
	// are stored plaintext.
	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		enc, err = crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("content encryption enabled")
	}

	// Store
	var st store.Store
	switch cfg.StoreDriver {
	case config.DriverPebble:
		pst, err := store.NewPebble(cfg.PebblePath, enc)
		if err != nil {
			slog.Error("failed to open pebble store", slog.String("path", cfg.PebblePath), slog.Any("err", err))
			os.Exit(1)
		}
		st = pst
	default: // config.DriverPostgres; Load rejects anything else
		database, err := db.Connect(ctx)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}

		// Run database migrations using dual-system approach:
		// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
		// 2. Fallback: embedded SQL (db.Migrate) for pre-migration deployments
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
				slog.Any("err", err),
				slog.String("component", "db_migrate"))
			if err := db.Migrate(ctx, database); err != nil {
				slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
				os.Exit(1)
			}
			slog.Info("legacy embedded SQL migration completed successfully (consider migrating to versioned migrations)",
				slog.String("component", "db_migrate"))
		} else {
			slog.Info("versioned migrations completed successfully",
				slog.String("component", "db_migrate"))
		}
		st = store.NewPostgres(database, enc)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	// Upstream connections. A missing file is not an error: the service then
	// runs serve-only, answering queries against the existing store.
	conns, err := config.LoadConnections(cfg.ConnectionsFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("connections load failed", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("no connections file; live ingestion disabled", slog.String("path", cfg.ConnectionsFile))
		conns = &config.Connections{}
	}
	if err := conns.Validate(); err != nil {
		slog.Error("connections validation failed", slog.Any("err", err))
		os.Exit(1)
	}

	hub := notify.NewHub()

	// Retention bounds both the store (periodic prune) and the sync
	// pipeline (stale live events dropped before they are written).
	policy := store.LoadRetentionPolicy()
	store.StartRetentionJob(ctx, st, policy)

	reg := mirror.NewRegistry(mirror.RegistryConfig{
		Store:     st,
		Resolver:  historyResolver(conns),
		Assignees: conns.AssigneeFor,
		Notifier:  hub,
		MaxAge:    policy.MaxAge,
	})

	g, gctx := errgroup.WithContext(ctx)

	// Live adapters, one per connection.
	var alertFallback *bot.Bot
	for _, conn := range conns.Connections {
		switch conn.Platform {
		case twitch.Platform:
			rec := twitch.NewRecorder(twitch.RecorderConfig{
				Username:   conn.Username,
				OAuthToken: conn.OAuthToken,
				BotID:      conn.ID,
				Channels:   conn.ChannelNames(),
			}, reg)
			g.Go(func() error { return rec.Run(gctx) })
		case telegram.Platform:
			adapter, err := telegram.New(conn.BotToken, conn.ID, reg)
			if err != nil {
				slog.Error("telegram adapter init failed", slog.String("connection", conn.ID), slog.Any("err", err))
				os.Exit(1)
			}
			if alertFallback == nil {
				alertFallback = adapter.Bot()
			}
			g.Go(func() error { return adapter.Run(gctx) })
		default:
			slog.Info("no live adapter for platform; history backfill only",
				slog.String("platform", conn.Platform), slog.String("connection", conn.ID))
		}
	}

	// Operator alerts go through a dedicated bot when one is configured;
	// with only ALERT_CHAT_ID set, the first telegram connection's bot is
	// reused for sending.
	switch {
	case cfg.ValidateAlertsReady() == nil:
		alertBot, err := bot.New(cfg.AlertBotToken)
		if err != nil {
			slog.Error("alert bot init failed", slog.Any("err", err))
			os.Exit(1)
		}
		alerter := notify.NewTelegramAlerter(alertBot, cfg.AlertChatID)
		g.Go(func() error { alerter.Run(gctx, hub); return nil })
	case cfg.AlertChatID != 0 && alertFallback != nil:
		alerter := notify.NewTelegramAlerter(alertFallback, cfg.AlertChatID)
		g.Go(func() error { alerter.Run(gctx, hub); return nil })
	case cfg.AlertChatID != 0:
		slog.Warn("ALERT_CHAT_ID set without ALERT_BOT_TOKEN or a telegram connection; operator alerts disabled")
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := cfg.PprofAddr
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (channels/messages/events/health/metrics)
	g.Go(func() error {
		return server.Start(gctx, st, reg, hub, cfg.HTTPAddr)
	})

	slog.Info("scrollback started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("store", cfg.StoreDriver),
		slog.Int("connections", len(conns.Connections)))

	// Block until shutdown signal, or until any adapter fails hard (the
	// group context then cancels the rest for a coherent shutdown).
	err = g.Wait()
	reg.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker exited with error", slog.Any("err", err))
	}
	slog.Info("shutting down")
}

// historyResolver maps each connection to its backfill source: Twitch
// connections with a history_url use the archive client, Telegram reports
// history as exhausted, and any other platform with a history_url is read
// as a peer deployment's HTTP API. Connections without a source resolve to
// nil, which skips backfill for their channels.
func historyResolver(conns *config.Connections) mirror.SourceResolver {
	sources := make(map[string]mirror.Source)
	register := func(platform, id string, src mirror.Source) {
		sources[platform+"/"+id] = src
		if _, ok := sources[platform]; !ok {
			sources[platform] = src
		}
	}
	for _, conn := range conns.Connections {
		switch conn.Platform {
		case twitch.Platform:
			if conn.HistoryURL == "" {
				continue
			}
			hc := twitch.NewHistoryClient(conn.HistoryURL, conn.ClientID, conn.ClientSecret)
			if conn.TokenURL != "" {
				hc.Credentials.TokenURL = conn.TokenURL
			}
			register(conn.Platform, conn.ID, hc)
		case telegram.Platform:
			register(conn.Platform, conn.ID, telegram.Source{})
		default:
			if conn.HistoryURL == "" {
				continue
			}
			client := &gateway.Client{BaseURL: conn.HistoryURL, Platform: conn.Platform}
			if conn.ClientID != "" {
				client.Credentials = &clientcredentials.Config{
					ClientID:     conn.ClientID,
					ClientSecret: conn.ClientSecret,
					TokenURL:     conn.TokenURL,
				}
			}
			register(conn.Platform, conn.ID, client)
		}
	}
	return func(platform, assignee string) mirror.Source {
		if src, ok := sources[platform+"/"+assignee]; ok {
			return src
		}
		return sources[platform]
	}
}
