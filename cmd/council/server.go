package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/council/api/handlers"
	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/council"
	"github.com/BaSui01/council/internal/cache"
	"github.com/BaSui01/council/internal/database"
	"github.com/BaSui01/council/internal/metrics"
	"github.com/BaSui01/council/internal/server"
	"github.com/BaSui01/council/internal/telemetry"
	"github.com/BaSui01/council/llm"
	"github.com/BaSui01/council/llm/openrouter"
	"github.com/BaSui01/council/usage"
)

// Server wires the council service together: upstream client, orchestrator,
// usage store, quota guard, HTTP and metrics listeners.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	db        *gorm.DB
	cache     *cache.Manager
	collector *metrics.Collector

	httpManager    *server.Manager
	metricsManager *server.Manager

	rateLimiterCancel context.CancelFunc
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{cfg: cfg, logger: logger, otel: otel}
}

// Start brings up every component. The usage store and quota guard are load
// bearing, so failures here abort startup rather than degrade.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("council")

	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.db = db

	store, err := usage.NewStore(db, s.logger)
	if err != nil {
		return fmt.Errorf("init usage store: %w", err)
	}

	guard, err := s.buildQuotaGuard(store)
	if err != nil {
		return err
	}

	client := openrouter.NewClient(s.cfg.OpenRouter, s.logger,
		openrouter.WithPricing(s.cfg.Pricing),
		openrouter.WithUsageObserver(s.usageObserver(store)),
	)

	orchestrator := council.New(client, s.cfg.Council, s.logger,
		council.WithQuotaGuard(guard),
		council.WithMetrics(s.collector),
	)

	if err := s.startHTTPServer(orchestrator, db); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	s.logger.Info("council service started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("members", len(s.cfg.Council.Members)),
		zap.String("chairman", s.cfg.Council.Chairman),
		zap.String("quota_backend", s.cfg.Quota.Backend),
	)
	return nil
}

// buildQuotaGuard selects the quota backend: Redis for multi-instance
// deployments, the DB-summing guard otherwise.
func (s *Server) buildQuotaGuard(store *usage.Store) (council.QuotaGuard, error) {
	if s.cfg.Quota.Backend == "redis" {
		manager, err := cache.NewManager(s.cfg.Redis, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis for quota backend: %w", err)
		}
		s.cache = manager
		return usage.NewRedisQuotaGuard(manager.Client(), s.cfg.Quota, s.logger), nil
	}
	return usage.NewDBQuotaGuard(store, s.cfg.Quota, s.logger), nil
}

// usageObserver fans each settled upstream call out to the usage store and
// the Prometheus collector.
func (s *Server) usageObserver(store *usage.Store) llm.UsageObserver {
	persist := store.Observer()
	return func(ctx context.Context, obs llm.CallObservation) {
		persist(ctx, obs)
		s.collector.RecordLLMCall(obs.Model, obs.Status,
			obs.PromptTokens, obs.CompletionTokens, obs.Cost,
			time.Duration(obs.LatencyMs)*time.Millisecond)
	}
}

func (s *Server) startHTTPServer(orchestrator *council.Orchestrator, db *gorm.DB) error {
	healthHandler := handlers.NewHealthHandler(s.logger)
	if sqlDB, err := db.DB(); err == nil {
		healthHandler.RegisterCheck("database", sqlDB.PingContext)
	}
	if s.cache != nil {
		healthHandler.RegisterCheck("redis", s.cache.Ping)
	}

	councilHandler := handlers.NewCouncilHandler(orchestrator, s.logger,
		handlers.WithStreamMetrics(s.collector))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("POST /api/council/stream", councilHandler.HandleStream)
	mux.HandleFunc("POST /api/council/ask", councilHandler.HandleAsk)
	mux.Handle("GET /api/council/ws", councilHandler.HandleWS(s.cfg.Server.CORSAllowedOrigins))

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst),
		CallerKey(),
	)

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.collector.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a signal or server error, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown releases every component in reverse dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("graceful shutdown completed")
}
