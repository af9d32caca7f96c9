// Lotline - WhatsApp vehicle listing intake server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/lotline/internal/api"
	"github.com/ashureev/lotline/internal/config"
	"github.com/ashureev/lotline/internal/extract"
	"github.com/ashureev/lotline/internal/identity"
	"github.com/ashureev/lotline/internal/media"
	"github.com/ashureev/lotline/internal/middleware"
	"github.com/ashureev/lotline/internal/pipeline"
	"github.com/ashureev/lotline/internal/session"
	"github.com/ashureev/lotline/internal/store"
	"github.com/ashureev/lotline/internal/wa"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"debounce_window", cfg.DebounceWindow,
		"scan_interval", cfg.ScanInterval)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath, cfg.SessionTTL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Explicit client handles constructed once at startup and passed down;
	// nothing initializes lazily on first use.
	waClient := wa.NewClient(cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID)

	mediaStore, err := media.NewFSStore(cfg.MediaDir, waClient)
	if err != nil {
		slog.Error("Failed to initialize media store", "error", err)
		os.Exit(1)
	}

	engine := extract.NewAnthropicEngine(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	resolver := identity.NewStoreResolver(repo)

	orch := pipeline.NewOrchestrator(repo, mediaStore, engine, resolver, waClient, cfg.MinMedia, cfg.MaxMedia)
	machine := session.NewMachine(repo, mediaStore, orch, waClient, cfg.DebounceWindow)

	webhook := wa.NewWebhook(machine, cfg.WhatsApp.VerifyToken)
	apiHandler := api.NewHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Get("/webhook", webhook.Verify)
	r.With(middleware.VerifySignature(cfg.WhatsApp.AppSecret)).Post("/webhook", webhook.Receive)

	apiHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start expiry scanner.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := pipeline.NewScanner(repo, mediaStore, orch, cfg.ScanInterval)
	scanner.Start(ctx)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
