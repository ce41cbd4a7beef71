// Changi & Jewel RAG assistant session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/changi-qa/internal/api"
	"github.com/ashureev/changi-qa/internal/backend"
	"github.com/ashureev/changi-qa/internal/config"
	"github.com/ashureev/changi-qa/internal/credential"
	"github.com/ashureev/changi-qa/internal/middleware"
	"github.com/ashureev/changi-qa/internal/session"
	"github.com/ashureev/changi-qa/internal/stream"
	"github.com/ashureev/changi-qa/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(config.EnvFile()); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.LogLevel))

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"backend", cfg.Backend.BaseURL,
		"default_credential", cfg.Backend.DefaultAPIKey,
	)

	// Initialize dependencies.
	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL:          cfg.Backend.BaseURL,
		QueryPath:        cfg.Backend.QueryPath,
		HealthPath:       cfg.Backend.HealthPath,
		MaxResponseBytes: cfg.Backend.MaxResponseBytes,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize backend client", "error", err)
		os.Exit(1)
	}
	slog.Info("Backend client initialized", "query_url", client.QueryURL(), "health_url", client.HealthURL())

	creds := credential.NewResolver(cfg.Backend.DefaultAPIKey, logger)
	if !creds.HasDefault() {
		slog.Warn("GOOGLE_API_KEY not set, users must supply a key")
	}
	prober := backend.NewProber(client, cfg.Backend.HealthTimeout, logger)
	dispatcher := backend.NewDispatcher(client, creds, cfg.Backend.QueryTimeout, logger)
	// One session serves every connected browser; a submitted key applies to all of them.
	machine := session.New(prober, dispatcher, creds, logger)

	// Initialize handlers.
	cm := stream.NewManager()
	apiHandler := api.NewHandler(machine, cfg, logger)
	wsHandler := stream.NewHandler(machine, cm, cfg.AllowedOrigins, cfg.IsDevelopment(), cfg.StreamKeepalive)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/session", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: the session stream is long-lived and queries are
	// bounded by QUERY_TIMEOUT.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session start: the first probe runs with the default credential.
	go func() {
		snap, err := machine.Start(ctx)
		if err != nil {
			slog.Warn("Initial session start skipped", "error", err)
			return
		}
		slog.Info("Session started", "session_id", snap.SessionID, "status", snap.Status)
	}()

	if cfg.WatchEnvFile {
		go func() {
			if err := config.WatchCredential(ctx, cfg.EnvFile, cfg.Backend.DefaultAPIKey, creds.SetDefault, logger); err != nil {
				slog.Warn("Env file watch disabled", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	machine.Close()
	cm.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
