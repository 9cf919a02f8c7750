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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/jamiebones/cbt-enroll-api/api/swagger"
	"github.com/jamiebones/cbt-enroll-api/internal/handler"
	"github.com/jamiebones/cbt-enroll-api/internal/middleware"
	"github.com/jamiebones/cbt-enroll-api/internal/models"
	"github.com/jamiebones/cbt-enroll-api/internal/payment"
	"github.com/jamiebones/cbt-enroll-api/internal/repository"
	"github.com/jamiebones/cbt-enroll-api/internal/service"
	"github.com/jamiebones/cbt-enroll-api/pkg/cache"
	"github.com/jamiebones/cbt-enroll-api/pkg/config"
	"github.com/jamiebones/cbt-enroll-api/pkg/database"
	"github.com/jamiebones/cbt-enroll-api/pkg/logger"
	corsmiddleware "github.com/jamiebones/cbt-enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/jamiebones/cbt-enroll-api/pkg/middleware/requestid"
)

// @title CBT Enrollment API
// @version 1.0.0
// @description Test enrollment, payment reconciliation and access-code issuance
// @BasePath /
// @schemes http

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
		// Stats caching degrades gracefully without redis.
		logr.Sugar().Warnw("redis unavailable, stats cache disabled", "error", err)
		redisClient = nil
	}

	metrics := service.NewMetricsService()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	testRepo := repository.NewTestRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	gateway := payment.NewClient(cfg.Payment, logr, metrics)

	statsSvc := service.NewEnrollmentStatsService(enrollmentRepo, testRepo, cacheRepo, service.StatsQueueConfig{
		Workers:    cfg.Enrollment.StatsWorkers,
		BufferSize: cfg.Enrollment.StatsBuffer,
		CacheTTL:   cfg.Enrollment.StatsCacheTTL,
	}, metrics, logr)

	issuer := service.NewAccessCodeIssuer(enrollmentRepo, cfg.Enrollment.AccessCodeAttempts, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, testRepo, userRepo, gateway, statsSvc, issuer, cfg.Payment.Currency, metrics, validator.New(), logr)
	verifier := service.NewTokenVerifier(cfg.JWT.Secret)

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, statsSvc)
	webhookHandler := handler.NewWebhookHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statsSvc.Start(ctx)
	defer statsSvc.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Webhook ingress is unauthenticated by design; the HMAC signature
	// checked inside the gateway client is the authentication.
	api.POST("/webhooks/payment", webhookHandler.Payment)

	enrollments := api.Group("/enrollments", middleware.JWT(verifier))
	enrollments.GET("", enrollmentHandler.List)
	enrollments.GET("/:id", enrollmentHandler.Get)
	enrollments.POST("", middleware.RequireRoles(models.RoleStudent, models.RoleCenter, models.RoleAdmin), enrollmentHandler.Create)
	enrollments.POST("/:id/payments", middleware.RequireRoles(models.RoleStudent, models.RoleCenter, models.RoleAdmin), enrollmentHandler.ProcessPayment)
	enrollments.POST("/:id/cancel", middleware.RequireRoles(models.RoleCenter), enrollmentHandler.Cancel)

	accessCodes := api.Group("/access-codes", middleware.JWT(verifier))
	accessCodes.POST("/validate", enrollmentHandler.ValidateAccessCode)
	accessCodes.POST("/redeem", enrollmentHandler.RedeemAccessCode)

	tests := api.Group("/tests", middleware.JWT(verifier))
	tests.GET("/:id/enrollment-stats", middleware.RequireRoles(models.RoleCenter, models.RoleAdmin), enrollmentHandler.Stats)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
