package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/config"
	"github.com/akagifreeez/relay-gateway/internal/handlers"
	"github.com/akagifreeez/relay-gateway/internal/services"
	"github.com/akagifreeez/relay-gateway/pkg/database"
	"github.com/akagifreeez/relay-gateway/pkg/relay"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting relay gateway")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential store: Postgres when configured, in-memory otherwise
	var store services.CredentialStore
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		store = services.NewPostgresCredentialStore(db, cfg.EncryptionKey, cfg.MaxKeyLimit)
		log.Info().Msg("Using Postgres credential store")
	} else {
		store = services.NewMemoryCredentialStore(cfg.MaxKeyLimit)
		log.Info().Msg("Using in-memory credential store")
	}

	// The master credential is created idempotently at every start.
	if err := store.EnsureMaster(ctx, cfg.MasterKey, cfg.MasterOwner, cfg.MasterLimit); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure master credential")
	}

	// Rate limiter: Redis when configured, in-memory otherwise
	var limiter services.RateLimiter
	if cfg.RedisURL != "" {
		redisLimiter, err := services.NewRedisRateLimiter(cfg.RedisURL, cfg.RateWindow, cfg.DefaultRateLimit)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Redis rate limiter")
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
		log.Info().Msg("Using Redis rate limiter")
	} else {
		memLimiter := services.NewMemoryRateLimiter(cfg.RateWindow, cfg.DefaultRateLimit)
		memLimiter.StartJanitor(ctx)
		limiter = memLimiter
		log.Info().Msg("Using in-memory rate limiter")
	}

	// Initialize services
	tokens := services.NewTokenService(cfg.SecretKey)
	validator := services.NewValidator(store, tokens, limiter)

	hub := services.NewHub()
	go hub.Run(ctx)

	relayClient := relay.NewClient(cfg.DownstreamURL, cfg.DownstreamTimeout)
	dispatcher := services.NewDispatcher(relayClient, cfg.DownstreamTimeout, cfg.LogCapacity, cfg.DispatchWorkers, hub)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	// Initialize handlers
	dispatchHandler := handlers.NewDispatchHandler(validator, dispatcher)
	statsHandler := handlers.NewStatsHandler(store, dispatcher)
	keyHandler := handlers.NewKeyHandler(store, tokens)
	streamHandler := handlers.NewStreamHandler(hub)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Api-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Dispatch admission consumes quota; it authorizes inside the
		// handler instead of going through the resolve-only middleware.
		r.Post("/dispatch", dispatchHandler.Dispatch)

		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware(validator))

			r.Get("/dispatch/{requestId}", dispatchHandler.GetStatus)
			r.Get("/stats", statsHandler.GetStats)

			// Master-only surface
			r.Group(func(r chi.Router) {
				r.Use(handlers.RequireMaster)

				r.Post("/keys", keyHandler.CreateKey)
				r.Delete("/keys/{id}", keyHandler.RevokeKey)
				r.Post("/tokens", keyHandler.IssueToken)
				r.Get("/logs/stream", streamHandler.Stream)
			})
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}
