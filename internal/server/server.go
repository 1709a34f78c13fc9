// Package server собирает HTTP сервер репликации: хранилище, издателей,
// сервис, обработчики и middleware, и управляет его жизненным циклом.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/decksync/internal/clock"
	"github.com/iudanet/decksync/internal/models"
	"github.com/iudanet/decksync/internal/server/config"
	"github.com/iudanet/decksync/internal/server/handlers"
	"github.com/iudanet/decksync/internal/server/middleware"
	"github.com/iudanet/decksync/internal/server/pubsub"
	"github.com/iudanet/decksync/internal/server/replication"
	"github.com/iudanet/decksync/internal/server/storage/sqlite"
)

const healthPath = "/api/v1/health"

// Server HTTP сервер репликации
type Server struct {
	logger     *slog.Logger
	storage    *sqlite.Storage
	publishers *pubsub.Registry
	limiter    *middleware.RateLimiter
	httpServer *http.Server
	cfg        config.Config
}

// New открывает хранилище, восстанавливает часы записи и собирает маршруты
func New(ctx context.Context, logger *slog.Logger, cfg config.Config, version string) (*Server, error) {
	store, err := sqlite.New(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	// Часы не должны выдать метку меньше уже записанной (например, после перевода времени)
	last, err := store.MaxUpdatedAt(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to read last write stamp: %w", err)
	}
	clk := clock.New()
	clk.Observe(last)

	catalog := models.DefaultCatalog()
	publishers := pubsub.NewRegistry(logger, cfg.Replication.PublisherBuffer, catalog.Names()...)

	service := replication.NewService(logger, store, catalog, publishers, clk, replication.Config{
		MaxBatchSize:        cfg.Replication.MaxBatchSize,
		BulkResyncThreshold: cfg.Replication.BulkResyncThreshold,
	})

	s := &Server{
		logger:     logger,
		storage:    store,
		publishers: publishers,
		limiter:    middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, logger),
		cfg:        cfg,
	}

	jwtConfig := handlers.JWTConfig{
		Secret:         []byte(cfg.Auth.JWTSecret),
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
	}

	mux := s.routes(
		jwtConfig,
		handlers.NewHealthHandler(logger, store, version),
		handlers.NewReplicationHandler(logger, service),
		handlers.NewStreamHandler(logger, catalog, publishers, cfg.Replication.Heartbeat),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout не задаем: SSE и WebSocket потоки живут долго
		IdleTimeout: 2 * time.Minute,
	}

	logger.Info("Server initialized",
		"addr", cfg.HTTP.Addr,
		"db", cfg.Database.Path,
		"entities", catalog.Names(),
		"last_stamp", last)

	return s, nil
}

func (s *Server) routes(
	jwtConfig handlers.JWTConfig,
	health *handlers.HealthHandler,
	replicationHandler *handlers.ReplicationHandler,
	streamHandler *handlers.StreamHandler,
) http.Handler {
	auth := middleware.AuthMiddleware(s.logger, jwtConfig)
	// Сначала аутентификация, потом лимит: ключ лимитера строится по user_id
	protected := func(h http.HandlerFunc) http.Handler {
		return auth(s.limiter.Middleware(h))
	}

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET "+healthPath, health.Health)

	// Replication endpoints
	mux.Handle("POST /api/v1/replication/{entity}/pull", protected(replicationHandler.Pull))
	mux.Handle("POST /api/v1/replication/{entity}/push", protected(replicationHandler.Push))
	mux.Handle("POST /api/v1/replication/{entity}/bulk-delete", protected(replicationHandler.BulkDelete))

	// Live streams
	mux.Handle("GET /api/v1/replication/stream", protected(streamHandler.Stream))
	mux.Handle("GET /api/v1/replication/{entity}/ws", protected(streamHandler.EntityStream))

	var handler http.Handler = mux
	handler = middleware.LoggingWithSkip(s.logger, []string{healthPath})(handler)
	handler = middleware.RecoveryMiddleware(s.logger)(handler)

	return handler
}

// Handler возвращает корневой http.Handler (используется в тестах)
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run обслуживает запросы до отмены ctx, затем выполняет graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")

		// Закрываем подписки первыми: иначе Shutdown ждал бы открытые SSE потоки
		s.publishers.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close освобождает ресурсы сервера
func (s *Server) Close() error {
	s.limiter.Stop()
	s.publishers.Close()

	if err := s.storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
