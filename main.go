package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/db"
	"github.com/Kocoro-lab/Shannon/go/research/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/research/internal/health"
	"github.com/Kocoro-lab/Shannon/go/research/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/research/internal/providers"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/session"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/research/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/research/internal/workflows"
)

const streamHistory = 256

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}
	circuitbreaker.StartMetricsCollection(ctx, 10*time.Second)

	// ------------------------------------------------------------------
	// Health first so the admin port answers while the rest comes up
	// ------------------------------------------------------------------
	healthMgr := health.NewManager(logger)
	adminServer := health.NewAdminServer(healthMgr, cfg.Service.AdminPort, logger)
	go func() {
		logger.Info("Admin server listening", zap.String("address", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	assessor := metadata.NewQualityAssessor(logger)
	if cfg.Quality.TablePath != "" {
		if err := assessor.LoadFile(cfg.Quality.TablePath); err != nil {
			logger.Fatal("Failed to load quality table", zap.String("path", cfg.Quality.TablePath), zap.Error(err))
		}
	}

	var archive *db.Client
	if cfg.Archive.Enabled {
		archive, err = db.Open(ctx, cfg.Archive.Config, logger)
		if err != nil {
			logger.Fatal("Failed to open archive", zap.Error(err))
		}
		defer archive.Close()
		if err := archive.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate archive", zap.Error(err))
		}
		mustRegister(logger, healthMgr, health.NewDatabaseHealthChecker(archive.Wrapper(), logger))
	}

	store, closeStore := openStore(ctx, cfg, archive, healthMgr, logger)
	defer closeStore()

	engine, err := policy.NewOPAEngine(&policy.Config{
		Enabled:    cfg.Policy.Enabled,
		Mode:       policy.Mode(cfg.Policy.Mode),
		Path:       cfg.Policy.Path,
		FailClosed: cfg.Policy.FailClosed,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize policy engine", zap.Error(err))
	}

	for _, cm := range startConfigWatchers(ctx, cfg, assessor, engine, logger) {
		defer cm.Stop()
	}

	stream := streaming.NewManager(streamHistory)
	pacer := ratecontrol.NewPacer(cfg.RateLimits)
	deps := providers.New(cfg.Search, cfg.Fetch, pacer, assessor, logger)
	synth := formatting.NewReportSynthesizer()

	// ------------------------------------------------------------------
	// Launcher: Temporal when enabled, in-process otherwise
	// ------------------------------------------------------------------
	var (
		launcher httpapi.Launcher
		local    *httpapi.LocalLauncher
		tClient  client.Client
		tWorker  worker.Worker
	)
	if cfg.Temporal.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		tClient, err = temporal.Dial(dialCtx, cfg.Temporal, logger)
		cancel()
		if err != nil {
			logger.Fatal("Failed to connect to Temporal", zap.Error(err))
		}
		defer tClient.Close()

		acts := workflows.NewActivities(deps, synth, cfg.Research, store, stream, logger)
		tWorker, err = temporal.StartWorker(tClient, cfg.Temporal.TaskQueue, cfg.Research.MaxConcurrentSubagents*4, acts, logger)
		if err != nil {
			logger.Fatal("Failed to start Temporal worker", zap.Error(err))
		}
		mustRegister(logger, healthMgr, health.NewFuncChecker("temporal", true, func(ctx context.Context) error {
			_, err := tClient.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}))
		launcher = workflows.NewLauncher(tClient, cfg.Temporal.TaskQueue, cfg.Research.InterBatchDelay, logger)
	} else {
		lead := research.NewLeadResearcher(deps, synth, cfg.Research, logger,
			research.WithProgressSink(stream),
			research.WithCheckpoint(session.Checkpoint(store)),
		)
		local = httpapi.NewLocalLauncher(lead, logger)
		launcher = local
	}

	// ------------------------------------------------------------------
	// Public API
	// ------------------------------------------------------------------
	var authService *auth.Service
	if len(cfg.Auth.APIKeyHashes) > 0 {
		authService = auth.NewService(cfg.Auth.APIKeyHashes, logger)
	}
	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, time.Hour)
	}
	authMw := auth.NewMiddleware(authService, jwtManager, !cfg.Auth.Enabled, logger)
	if !cfg.Auth.Enabled {
		logger.Warn("Authentication disabled; every request runs as the dev client")
	}

	var limiter *httpapi.RateLimiter
	if cfg.Service.RateLimitPerMinute > 0 && cfg.Service.RateLimitRedisAddr != "" {
		rlClient := goredis.NewClient(&goredis.Options{Addr: cfg.Service.RateLimitRedisAddr})
		defer rlClient.Close()
		limiter = httpapi.NewRateLimiter(rlClient, cfg.Service.RateLimitPerMinute, logger)
	}

	handler := httpapi.NewHandler(store, launcher, engine, stream, logger)
	apiServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:     handler.Routes(authMw, limiter),
		ReadTimeout: cfg.Service.ReadTimeout,
		// streaming responses outlive any write timeout
		IdleTimeout: 2 * time.Minute,
	}
	go func() {
		logger.Info("Research API listening", zap.String("address", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Research API failed", zap.Error(err))
			stop()
		}
	}()

	if err := healthMgr.Start(ctx); err != nil {
		logger.Warn("Failed to start health checks", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", zap.Error(err))
	}
	if local != nil {
		if err := local.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Running sessions were cancelled", zap.Error(err))
		}
	}
	if tWorker != nil {
		tWorker.Stop()
	}
	_ = healthMgr.Stop()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown incomplete", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	logger.Info("Research orchestrator stopped")
}

func openStore(ctx context.Context, cfg *config.Config, archive *db.Client, healthMgr *health.Manager, logger *zap.Logger) (session.Store, func()) {
	opts := session.Options{TTL: cfg.Session.TTL, MaxSessions: cfg.Session.CacheSize, CacheTTL: cfg.Session.CacheTTL}
	if archive != nil {
		opts.Archiver = archive
	}

	if cfg.Session.Backend == "redis" {
		wrapper, err := session.NewRedisClient(ctx, cfg.Session.RedisAddr, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Session.RedisAddr), zap.Error(err))
		}
		mustRegister(logger, healthMgr, health.NewRedisHealthChecker(wrapper, logger))
		store := session.NewRedisStore(wrapper, opts, logger)
		return store, func() { _ = store.Close() }
	}

	store := session.NewMemoryStore(opts, logger)
	mustRegister(logger, healthMgr, health.NewFuncChecker("session_store", true, func(ctx context.Context) error {
		_, err := store.List(ctx)
		return err
	}))
	return store, func() {}
}

// startConfigWatchers hot-reloads the quality table and the admission
// policy directory. Each watched directory gets its own manager.
func startConfigWatchers(ctx context.Context, cfg *config.Config, assessor *metadata.QualityAssessor, engine *policy.OPAEngine, logger *zap.Logger) []*config.ConfigManager {
	var managers []*config.ConfigManager
	watch := func(dir string, register func(cm *config.ConfigManager)) {
		cm, err := config.NewConfigManager(dir, logger)
		if err != nil {
			logger.Warn("Config hot reload unavailable", zap.String("dir", dir), zap.Error(err))
			return
		}
		register(cm)
		if err := cm.Start(ctx); err != nil {
			logger.Warn("Failed to start config watcher", zap.String("dir", dir), zap.Error(err))
			_ = cm.Stop()
			return
		}
		managers = append(managers, cm)
	}

	if path := cfg.Quality.TablePath; path != "" {
		watch(filepath.Dir(path), func(cm *config.ConfigManager) {
			cm.RegisterHandler(filepath.Base(path), func(ev config.ChangeEvent) error {
				if ev.Action == "initial_load" || ev.Action == "delete" {
					return nil
				}
				return assessor.LoadFile(path)
			})
		})
	}
	if dir := cfg.Policy.Path; dir != "" && engine.IsEnabled() {
		watch(dir, func(cm *config.ConfigManager) {
			cm.RegisterPolicyHandler(engine.LoadPolicies)
		})
	}
	return managers
}

func mustRegister(logger *zap.Logger, m *health.Manager, c health.Checker) {
	if err := m.RegisterChecker(c); err != nil {
		logger.Fatal("Failed to register health checker", zap.String("checker", c.Name()), zap.Error(err))
	}
}
