package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-subs-api/internal/handler"
	"github.com/noah-isme/sma-subs-api/internal/middleware"
	"github.com/noah-isme/sma-subs-api/internal/notify"
	"github.com/noah-isme/sma-subs-api/internal/repository"
	"github.com/noah-isme/sma-subs-api/internal/service"
	"github.com/noah-isme/sma-subs-api/pkg/cache"
	"github.com/noah-isme/sma-subs-api/pkg/config"
	"github.com/noah-isme/sma-subs-api/pkg/database"
	"github.com/noah-isme/sma-subs-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-subs-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-subs-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, stats caching disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	substitutionRepo := repository.NewSubstitutionRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	staffRepo := repository.NewStaffRepository(db)
	classRepo := repository.NewClassRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metrics := service.NewMetricsService()
	validate := validator.New()

	notifier := notify.NewQueueNotifier(notificationRepo, notify.Config{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	conflictSvc := service.NewConflictService(
		substitutionRepo, teacherRepo, teacherRepo, periodRepo, staffRepo,
		classRepo, notifier, db, metrics, logr,
	)
	substitutionSvc := service.NewSubstitutionService(
		substitutionRepo, teacherRepo, teacherRepo, conflictSvc, notifier,
		db, metrics, validate, logr,
	)
	statsSvc := service.NewStatsService(substitutionSvc, cacheRepo, metrics, cfg.Stats.CacheTTL, logr)
	if !cfg.Assignment.EmergencyProtocols {
		conflictSvc.DisableEmergencyProtocols()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	handler.NewSubstitutionHandler(substitutionSvc, conflictSvc, statsSvc, cfg.Assignment.DefaultCriteria).RegisterRoutes(api)
	handler.NewNotificationHandler(notificationRepo).RegisterRoutes(api)
	handler.NewRosterHandler(classRepo, subjectRepo, teacherRepo, periodRepo).RegisterRoutes(api)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
}
