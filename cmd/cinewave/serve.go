package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cinewave/internal/core/ports"
	"cinewave/internal/core/services"
	httphandlers "cinewave/internal/handlers/http"
	"cinewave/internal/infrastructure/distributed"
	"cinewave/internal/infrastructure/middleware"
	"cinewave/internal/infrastructure/monitoring"
	"cinewave/internal/infrastructure/repositories"
	"cinewave/internal/infrastructure/signal"
	"cinewave/pkg/config"
	pkgdistributed "cinewave/pkg/distributed"
	"cinewave/pkg/logger"
	"cinewave/pkg/retry"
	"cinewave/pkg/tracing"
	"cinewave/pkg/utils"
)

const dependencyTimeout = 2 * time.Second

// heartbeater is a presence counter that must announce this instance.
type heartbeater interface {
	Run(ctx context.Context) error
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and realtime gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, zapLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer zapLogger.Sync()

		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, zapLogger)
	},
}

func serve(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()

	traceCfg := tracing.DefaultConfig()
	traceCfg.Enabled = cfg.Tracing.Enabled
	traceCfg.JaegerURL = cfg.Tracing.JaegerEndpoint
	traceCfg.SampleRate = cfg.Tracing.SampleRatio
	tp, err := tracing.Init(traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Failed to flush traces", "error", err)
		}
	}()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return fmt.Errorf("create repository factory: %w", err)
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("Error closing repository factory", "error", err)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, dependencyTimeout)
	err = repoFactory.HealthCheck(checkCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("storage not reachable: %w", err)
	}

	var metrics ports.Metrics = ports.NopMetrics{}
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = monitoring.NewPrometheusCollector(reg)
		gatherer = reg
		log.Info("Prometheus metrics enabled")
	}

	users := services.NewCachedUserDirectory(repoFactory.UserDirectory(), cfg.Storage.ProfileCacheTTL, log.Named("profiles"))
	defer users.Close()

	hub := signal.NewHub(metrics, log.Named("hub"))
	instanceID := utils.NewInstanceID()

	// Without Redis every broadcast stays on this instance.
	var broadcaster ports.RoomBroadcaster = hub
	var bus *distributed.EventBus
	var locks *pkgdistributed.LockManager
	redisClient := repoFactory.RedisClient()
	if redisClient != nil {
		bus = distributed.NewEventBus(redisClient, hub, instanceID, log.Named("events"))
		broadcaster = bus
		locks = pkgdistributed.NewLockManager(redisClient, "cinewave:lock:")
	}

	writer := services.NewStateWriter(repoFactory.RoomRepository(), retry.Config{
		Enabled:      cfg.WatchParty.PersistMaxAttempts > 0,
		MaxAttempts:  cfg.WatchParty.PersistMaxAttempts,
		InitialDelay: cfg.WatchParty.PersistInitialDelay,
		MaxDelay:     cfg.WatchParty.PersistMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}, metrics, log.Named("state-writer"))

	playback := services.NewPlaybackService(repoFactory.RoomRepository(), writer, broadcaster, metrics, log.Named("playback"))
	if bus != nil {
		bus.OnRemote(playback.Observe)
	}
	presenceCounter := repoFactory.CreatePresenceCounter(instanceID, cfg.WatchParty.PresenceTTL)
	presence := services.NewPresenceService(repoFactory.MembershipRepository(), presenceCounter, log.Named("presence"))
	// Clears memberships a crashed process left behind.
	if _, err := presence.Prune(ctx); err != nil {
		log.Warnw("Startup membership prune failed", "error", err)
	}
	rooms := services.NewRoomService(
		repoFactory.RoomRepository(),
		repoFactory.MembershipRepository(),
		playback,
		services.RoomServiceConfig{InviteCodeAttempts: cfg.WatchParty.InviteCodeAttempts},
		log.Named("rooms"),
	)
	admission := services.NewAdmissionService(
		repoFactory.CreateAdmissionLedger(),
		repoFactory.SubscriptionRepository(),
		services.AdmissionConfig{
			LeaseTTL:                cfg.Admission.LeaseTTL,
			DefaultMaxStreams:       cfg.Admission.DefaultMaxStreams,
			BreakerFailureThreshold: cfg.Admission.BreakerFailureThreshold,
			BreakerOpenTimeout:      cfg.Admission.BreakerOpenTimeout,
		},
		metrics,
		log.Named("admission"),
	)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	profiles := services.NewProfileService(users, log.Named("profiles"))

	gateway := signal.NewGateway(authService, profiles, playback, presence, hub, broadcaster, metrics,
		gatewayConfig(cfg), log.Named("gateway"))

	checker := monitoring.NewHealthChecker()
	checker.AddCheck("admission", admission.Ready, dependencyTimeout)
	if redisClient != nil {
		checker.AddRedisCheck(redisClient, dependencyTimeout)
	}
	if store := repoFactory.SQLStore(); store != nil {
		checker.AddPingCheck("sqlite", store, dependencyTimeout)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
	)
	// Registered before the HTTP limiter: a connection would hold a
	// concurrency slot for its whole lifetime. The gateway limits per message.
	router.GET(cfg.Signal.Path, gin.WrapH(gateway))

	router.Use(
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg, "/health", "/ready", "/metrics"),
	)
	httphandlers.NewHealthHandler(checker, gatherer).SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	httphandlers.NewRoomHandler(rooms, cfg.WatchParty.DriftToleranceSeconds).SetupRoutes(api)
	httphandlers.NewStreamHandler(admission, cfg.Admission.HeartbeatInterval, log.Named("streams")).SetupRoutes(api)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writer.Run(gctx) })
	if bus != nil {
		g.Go(func() error { return bus.Run(gctx) })
	}
	if hb, ok := presenceCounter.(heartbeater); ok {
		g.Go(func() error { return hb.Run(gctx) })
	}
	reaper := distributed.NewRoomReaper(rooms, presence, locks, cfg.WatchParty.IdleRoomTTL, cfg.WatchParty.ReaperInterval, log.Named("reaper"))
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error {
		log.Infow("Starting cinewave server", "address", cfg.Server.Address, "signal_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down cinewave server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		gateway.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		}
		writer.Flush(shutdownCtx)
		if n := writer.Pending(); n > 0 {
			log.Warnw("Playback state not persisted before shutdown", "rooms", n)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("cinewave server stopped")
	return nil
}

func gatewayConfig(cfg *config.Config) signal.Config {
	gc := signal.Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		ChatMaxLength:  cfg.WatchParty.ChatMaxLength,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		gc.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		gc.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return gc
}
