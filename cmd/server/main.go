package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akrin/handoff-backend/internal/api"
	"github.com/akrin/handoff-backend/internal/config"
	"github.com/akrin/handoff-backend/internal/hub"
	"github.com/akrin/handoff-backend/internal/metrics"
	"github.com/akrin/handoff-backend/internal/orchestrator"
	"github.com/akrin/handoff-backend/internal/queue"
	"github.com/akrin/handoff-backend/internal/registry"
	"github.com/akrin/handoff-backend/internal/responder"
	"github.com/akrin/handoff-backend/internal/storage"
	"github.com/akrin/handoff-backend/internal/ticker"
	"github.com/akrin/handoff-backend/internal/watchdog"
	"github.com/akrin/handoff-backend/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting handoff backend server")

	// Create context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store (DynamoDB or noop, per DYNAMO_MODE)
	store, err := storage.NewStore(ctx, log.Logger.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	// Core state
	reg := registry.NewRegistry(log.Logger.With().Str("component", "registry").Logger())
	waitList := queue.NewWaitList(log.Logger.With().Str("component", "queue").Logger())

	// Automated responder for the bot phase
	bot := responder.NewRuleBased(log.Logger.With().Str("component", "responder").Logger())

	// Connection hub for both WebSocket endpoints
	connHub := hub.NewConnectionHub(cfg, log.Logger.With().Str("component", "hub").Logger())

	// Orchestrator ties everything together
	orch := orchestrator.New(reg, waitList, connHub, bot, store, cfg,
		log.Logger.With().Str("component", "orchestrator").Logger())
	connHub.SetHandler(orch)
	go connHub.Run()

	// Periodic queue_status broadcast to agent consoles
	queueTicker := ticker.NewQueueTicker(orch, connHub, cfg.QueueStatusInterval,
		log.Logger.With().Str("component", "ticker").Logger())
	go queueTicker.Start(ctx)

	// Warn when customers wait past the threshold
	queueWatchdog := watchdog.New(waitList, cfg.MaxWaitAlert, 30*time.Second,
		log.Logger.With().Str("component", "watchdog").Logger())
	go queueWatchdog.Start(ctx)

	// Evict long-ended sessions from memory
	go retentionSweep(ctx, reg, cfg.SessionRetention, log.Logger)

	// WebSocket upgrade handlers
	chatHandler := hub.NewChatHandler(connHub, log.Logger.With().Str("component", "chat_ws").Logger())
	agentHandler := hub.NewAgentHandler(connHub, log.Logger.With().Str("component", "agent_ws").Logger())

	// Ops handlers
	opsHandler := api.NewOpsHandler(reg, waitList, orch, log.Logger)
	rosterHandler := api.NewRosterHandler(reg, log.Logger)
	historyHandler := api.NewHistoryHandler(store, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)

	// WebSocket endpoints
	r.Get("/ws/chat", chatHandler.ServeHTTP)
	r.Get("/ws/chat/{session_id}", chatHandler.ServeHTTP)
	r.Get("/ws/agent/{agent_id}", agentHandler.ServeHTTP)

	// Internal routes for ops tooling and internal services
	r.Route("/internal", func(r chi.Router) {
		r.Get("/queue", opsHandler.GetQueue)
		r.Get("/sessions", opsHandler.GetSessions)
		r.Get("/sessions/archive", historyHandler.GetArchive)
		r.Get("/sessions/{sessionId}", opsHandler.GetSession)
		r.Get("/sessions/{sessionId}/transcript", historyHandler.GetTranscript)
		r.Post("/sessions/{sessionId}/end", opsHandler.EndSession)
		r.Get("/agents", opsHandler.GetAgents)
		r.Get("/agents/{agentId}/sessions", historyHandler.GetAgentSessions)
		r.Post("/agents/roster", rosterHandler.HandleRoster)
		r.Get("/metrics", metrics.Get().Handler())
		r.Post("/reset", opsHandler.Reset)
		r.Post("/wipe-storage", historyHandler.WipeStorage)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background services
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// retentionSweep periodically evicts ended sessions past retention
func retentionSweep(ctx context.Context, reg *registry.Registry, retention time.Duration, logger zerolog.Logger) {
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if evicted := reg.EvictEnded(retention); evicted > 0 {
				logger.Info().Int("evicted", evicted).Msg("ended sessions evicted from memory")
			}
		}
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"handoff-backend"}`)
}
