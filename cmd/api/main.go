package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-medrec/internal/audit"
	"github.com/prefeitura-rio/app-medrec/internal/broker"
	"github.com/prefeitura-rio/app-medrec/internal/config"
	"github.com/prefeitura-rio/app-medrec/internal/handlers"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/middleware"
	"github.com/prefeitura-rio/app-medrec/internal/observability"
	"github.com/prefeitura-rio/app-medrec/internal/otpchannel"
	"github.com/prefeitura-rio/app-medrec/internal/records"
	"github.com/prefeitura-rio/app-medrec/internal/sessions"
	"github.com/prefeitura-rio/app-medrec/internal/utils/httpclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	_ "github.com/prefeitura-rio/app-medrec/docs"
)

// @title           Medical Records Authorization API
// @version         1.0
// @description     Step-up phone verification for sensitive medical record operations. A client opens a challenge for the operation it wants to run, proves control of the patient's phone with a one-time code, and receives the operation's result once the code is verified.

// @BasePath  /v1

// @tag.name authorization
// @tag.description Step-up authorization challenges

// @tag.name health
// @tag.description Health check operations

const sessionCleanupInterval = time.Minute

func main() {
	// Initialize logger first
	if err := logging.InitLogger(); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logging.Logger.Fatal("failed to load config", zap.Error(err))
	}

	// Initialize observability
	observability.InitTracer()
	defer observability.ShutdownTracer()

	// Initialize database connections
	if err := config.InitMongoDB(); err != nil {
		logging.Logger.Fatal("failed to initialize MongoDB", zap.Error(err))
	}
	config.InitRedis()

	// Audit trail of challenge outcomes
	auditWorker := audit.NewWorker(
		audit.NewMongoSink(config.MongoDB.Collection(config.AppConfig.AuditLogsCollection)),
		audit.WorkerConfig{
			Workers:    config.AppConfig.AuditWorkers,
			BufferSize: config.AppConfig.AuditBufferSize,
		},
	)
	auditWorker.Start()

	// OTP service client
	pool := httpclient.NewHTTPClientPool(10, config.AppConfig.OTPRequestTimeout)
	otp := otpchannel.NewClient(otpchannel.Config{
		BaseURL:        config.AppConfig.OTPBaseURL,
		Username:       config.AppConfig.OTPUsername,
		Password:       config.AppConfig.OTPPassword,
		IdentitySecret: config.AppConfig.OTPIdentitySecret,
	}, config.Redis, pool)

	// Record store and the resume handlers that run authorized intents
	repo := records.NewMongoRepository(config.MongoDB, records.CollectionsFromConfig(config.AppConfig), logging.Logger)
	resumer := records.NewResumer(repo, logging.Logger)

	if path := config.AppConfig.SeedFixture; path != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		res, err := records.NewFixtureLoader(repo, logging.Logger).LoadFile(ctx, path)
		cancel()
		if err != nil {
			logging.Logger.Fatal("failed to load seed fixture", zap.String("path", path), zap.Error(err))
		}
		logging.Logger.Info("seed fixture loaded",
			zap.String("path", path),
			zap.Int("patients", res.Patients),
			zap.Int("doctors", res.Doctors))
	}

	// One broker per client session
	registry := sessions.NewRegistry(func(sessionID string) *broker.Broker {
		return broker.NewBroker(otp, broker.Config{
			SessionID:          sessionID,
			ResendCooldown:     config.AppConfig.OTPResendCooldown,
			DefaultCountryCode: config.AppConfig.DefaultCountryCode,
			OnOutcome:          auditWorker.Record,
		})
	}, config.AppConfig.SessionIdleTTL, logging.Logger)
	registry.StartCleanup(sessionCleanupInterval)

	// Set Gin mode
	if config.AppConfig.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router with middleware
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestTiming(),
		middleware.RequestLogger(),
		middleware.RequestTracker(),
		cors.New(corsConfig()),
	)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	health := handlers.NewHealthHandler([]handlers.Dependency{
		{
			Name:     "mongodb",
			Critical: true,
			Check: func(ctx context.Context) error {
				return config.MongoDB.Client().Ping(ctx, readpref.Primary())
			},
		},
		{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return config.Redis.Ping(ctx).Err()
			},
		},
	}, func() map[string]interface{} {
		return map[string]interface{}{
			"active_sessions": registry.Len(),
			"audit":           auditWorker.Stats(),
		}
	})

	// API v1 routes
	v1 := router.Group("/v1")
	{
		v1.GET("/health", health.HealthCheck)
		handlers.NewAuthorizationHandlers(registry, repo, resumer).Register(v1)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Create server with timeouts
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.AppConfig.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: config.AppConfig.OTPRequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logging.Logger.Info("starting server",
			zap.Int("port", config.AppConfig.Port),
			zap.String("environment", config.AppConfig.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logging.Logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Open challenges are discarded before the audit worker drains
	registry.Stop()
	auditWorker.Stop()
	pool.Close()

	if err := config.MongoDB.Client().Disconnect(ctx); err != nil {
		logging.Logger.Error("failed to disconnect from MongoDB", zap.Error(err))
	}

	logging.Logger.Info("server exited gracefully")
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, middleware.SessionHeader, "X-Request-ID")
	cfg.ExposeHeaders = []string{"X-Request-ID"}
	return cfg
}
