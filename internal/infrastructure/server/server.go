// Package server wires the supervision core together and exposes it
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apihttp "github.com/profilium/fleet/backend/internal/api/http"
	"github.com/profilium/fleet/backend/internal/api/middleware"
	"github.com/profilium/fleet/backend/internal/api/ws"
	"github.com/profilium/fleet/backend/internal/domain/alerts"
	"github.com/profilium/fleet/backend/internal/domain/autorestart"
	"github.com/profilium/fleet/backend/internal/domain/collector"
	"github.com/profilium/fleet/backend/internal/domain/health"
	"github.com/profilium/fleet/backend/internal/domain/history"
	"github.com/profilium/fleet/backend/internal/domain/orchestrator"
	"github.com/profilium/fleet/backend/internal/domain/sampler"
	"github.com/profilium/fleet/backend/internal/domain/supervisor"
	"github.com/profilium/fleet/backend/internal/infrastructure/config"
	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/paths"
	"github.com/profilium/fleet/backend/internal/store"
)

// Server owns the HTTP listener and the background loops of the
// supervision core.
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	instanceID string

	router    *gin.Engine
	http      *http.Server
	profiles  store.Profiles
	redis     *store.RedisProfiles
	sup       *supervisor.Supervisor
	orch      *orchestrator.Orchestrator
	collector *collector.Collector
	restarts  *autorestart.Supervisor
	hub       *ws.Hub

	cancelRun context.CancelFunc
}

// New builds the full component graph from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	// Distinguishes backend restarts from worker restarts in log streams.
	instanceID := uuid.New().String()

	logger.Info("initializing fleet backend",
		zap.String("instance_id", instanceID),
		zap.String("port", cfg.Server.Port),
		zap.String("worker_binary", cfg.Worker.Binary),
		zap.Bool("redis", cfg.Redis.Enabled),
	)

	metrics := monitoring.NewMetrics()
	resolver := paths.NewResolver(cfg.Worker.ProfileRoot)

	// Persistence: redis when enabled, in-memory otherwise.
	var (
		profiles store.Profiles
		limits   store.Limits
		redisdb  *store.RedisProfiles
	)
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rp, err := store.NewRedisProfiles(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect profile store: %w", err)
		}
		redisdb = rp
		profiles = rp
		limits = store.NewRedisLimits(rp.Client())
		logger.Info("profile store connected", zap.String("addr", cfg.Redis.Address))
	} else {
		profiles = store.NewMemoryProfiles()
		limits = &store.StaticLimits{}
		logger.Warn("redis disabled, using in-memory profile store")
	}

	hist := history.NewStore(cfg.Monitor.HistoryCap, cfg.Monitor.AlertHistoryCap)
	smp := sampler.New(cfg.Monitor.SampleCacheTTL, cfg.Monitor.SampleTimeout, logger, metrics)
	sup := supervisor.New(cfg.Worker, resolver, logger, metrics)

	evaluator := health.NewEvaluator(hist, metrics)
	checker := health.NewChecker(sup, smp, limits, evaluator, logger)

	emitter := alerts.NewEmitter(hist, logger, metrics)
	emitter.AddSink(alerts.NewLogSink(logger))
	hub := ws.NewHub(logger, metrics)
	emitter.AddSink(hub)

	orch := orchestrator.New(cfg.Worker, sup, profiles, limits, emitter, metrics, logger)
	restarts := autorestart.New(cfg.Restart, hist, profiles, orch, emitter, metrics, logger)
	orch.SetRestarts(restarts)

	coll := collector.New(cfg.Monitor, sup, smp, hist, checker, profiles, limits, emitter, logger)
	if cfg.Monitor.EnforceLimitsByStop {
		coll.WithStopper(orch.Stop)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(orch, sup, smp, hist, checker, restarts, logger)
	handlers.Register(router)

	router.GET("/ws", hub.HandleConnection)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"instance_id":    instanceID,
			"uptime_seconds": metrics.UptimeSeconds(),
			"workers":        sup.RunningCount(),
			"ws_clients":     hub.ClientCount(),
		})
	})

	return &Server{
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		instanceID: instanceID,
		router:     router,
		profiles:   profiles,
		redis:      redisdb,
		sup:        sup,
		orch:       orch,
		collector:  coll,
		restarts:   restarts,
		hub:        hub,
	}, nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run reconciles persisted state, starts the background loops, and
// serves HTTP until Close is called.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel

	s.orch.RestoreRunningState(ctx)

	go s.orch.Run(ctx)
	s.collector.Start()
	s.restarts.Start()

	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts everything down: listener first so no new operations
// arrive, then the loops, then the workers, then the store.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("shutting down")

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	s.restarts.Stop()
	s.collector.Stop()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.orch.Close()
	s.hub.Shutdown()

	if err := s.sup.Shutdown(ctx); err != nil {
		s.logger.Warn("worker shutdown", zap.Error(err))
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("profile store close", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
