package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/comphours-api/api/swagger"
	"github.com/noah-isme/comphours-api/internal/handler"
	internalmiddleware "github.com/noah-isme/comphours-api/internal/middleware"
	"github.com/noah-isme/comphours-api/internal/models"
	"github.com/noah-isme/comphours-api/internal/repository"
	"github.com/noah-isme/comphours-api/internal/service"
	"github.com/noah-isme/comphours-api/pkg/cache"
	"github.com/noah-isme/comphours-api/pkg/config"
	"github.com/noah-isme/comphours-api/pkg/database"
	"github.com/noah-isme/comphours-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/comphours-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/comphours-api/pkg/middleware/requestid"
)

// @title Compensatory Hours API
// @version 1.0.0
// @description Extra-hours ledger, compensatory time-off approvals and live notifications
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cacheEnabled := cfg.BalanceCache.Enabled
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		if cacheEnabled {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		logr.Warn("redis unavailable, balance cache disabled", zap.Error(err))
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	ledgerRepo := repository.NewLedgerRepository(db)

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.BalanceCache.TTL, logr, cacheEnabled && redisClient != nil)
	balanceSvc := service.NewBalanceService(ledgerRepo, metrics, logr)

	hub := service.NewNotificationHub(service.HubConfig{
		Workers:         cfg.Notifications.Workers,
		BufferSize:      cfg.Notifications.BufferSize,
		DeliveryTimeout: cfg.Notifications.DeliveryTimeout,
	}, metrics, logr)
	hub.Start(context.Background())

	ledgerSvc := service.NewLedgerService(ledgerRepo, balanceSvc, hub, metrics, validator.New(), logr,
		service.WithBalanceCache(cacheSvc, cfg.BalanceCache.TTL))
	statementSvc := service.NewStatementService(ledgerSvc, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readinessChecks(db, cacheRepo, redisClient != nil))
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	streamHandler := handler.NewStreamHandler(hub, handler.StreamConfig{
		Buffer:    cfg.Notifications.SubscriberBuffer,
		Heartbeat: cfg.Notifications.HeartbeatInterval,
	}, logr)
	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:      authSvc,
		ledger:    handler.NewLedgerHandler(ledgerSvc),
		statement: handler.NewStatementHandler(statementSvc),
		stream:    streamHandler,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(streamHandler.Shutdown)

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	// Connected streams still receive the backlog before they are closed.
	drainHub(hub, logr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	drainHub(hub, logr)
	hub.Stop()
}

func drainHub(hub *service.NotificationHub, logr *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hub.Flush(ctx); err != nil {
		logr.Warn("notification backlog not drained", zap.Error(err))
	}
}

type routeDeps struct {
	auth      *service.AuthService
	ledger    *handler.LedgerHandler
	statement *handler.StatementHandler
	stream    *handler.StreamHandler
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	admin := string(models.RoleAdmin)

	api.GET("/notifications/stream", internalmiddleware.StreamJWT(deps.auth), deps.stream.Stream)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(deps.auth))

	hours := secured.Group("/hours")
	hours.POST("", deps.ledger.SubmitHourEntry)
	hours.GET("", deps.ledger.ListHourEntries)
	hours.POST("/:id/decision", internalmiddleware.RBAC(admin), deps.ledger.DecideHourEntry)

	requests := secured.Group("/compensatory-requests")
	requests.POST("", deps.ledger.SubmitCompensatoryRequest)
	requests.GET("", deps.ledger.ListCompensatoryRequests)
	requests.POST("/:id/decision", internalmiddleware.RBAC(admin), deps.ledger.DecideCompensatoryRequest)

	secured.GET("/balance", deps.ledger.MyBalance)

	users := secured.Group("/users/:id")
	users.Use(internalmiddleware.RBAC(admin, internalmiddleware.RoleSelf))
	users.GET("/balance", deps.ledger.UserBalance)
	users.GET("/statement", deps.statement.Download)
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository, redisConnected bool) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisConnected {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}
