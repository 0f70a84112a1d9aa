package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callcore-backend/internal/events"
	callHandler "callcore-backend/internal/handler/http/call"
	wsHandler "callcore-backend/internal/handler/ws"
	"callcore-backend/internal/media"
	"callcore-backend/internal/middleware"
	"callcore-backend/internal/repository/cockroach"
	"callcore-backend/internal/room"
	callService "callcore-backend/internal/service/call"
	"callcore-backend/pkg/config"
	"callcore-backend/pkg/database"
	"callcore-backend/pkg/jwt"
	"callcore-backend/pkg/logger"
	"callcore-backend/pkg/metrics"
)

func main() {
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 3. Setup JWT manager
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 4. Connect to CockroachDB with exponential backoff retry
	db := connectDatabase(ctx, cfg)
	defer db.Close()

	callRepo := cockroach.NewCallRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	groupRepo := cockroach.NewGroupRepository(db.Pool)

	// 5. Connect to Redis for cross-node signaling fan-out
	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis",
		zap.String("host", cfg.Redis.Host),
		zap.Int("port", cfg.Redis.Port))

	// 6. Initialize media engine
	adapter := media.NewAdapter(cfg.Media)
	adapter.Start()
	logger.Info("Media engine started", zap.Int("workers", adapter.WorkerCount()))

	// 7. Initialize room registry, event bus and call lifecycle service
	registry := room.NewRegistry()
	bus := events.NewBus()
	callSvc := callService.NewService(callRepo, userRepo, groupRepo, registry, adapter, bus)

	// 8. Initialize metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 9. Initialize handlers and signaling gateway
	callHdlr := callHandler.NewHandler(callSvc, appMetrics)
	hub := wsHandler.NewHub(redisDB.Client, appMetrics)
	gateway := wsHandler.NewGateway(hub, callSvc, registry, adapter, jwtManager, appMetrics)
	gateway.Run(bus)

	// 10. Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.Server.CORSAllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	// Signaling WebSocket authenticates via token itself (query param or
	// Authorization header), so it sits outside the auth middleware group
	router.GET("/v1/signaling", gateway.ServeWS)

	v1 := router.Group("/v1/calls")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.POST("", callHdlr.CreateCall)
		v1.GET("/active", callHdlr.GetActiveCalls)
		v1.GET("/history", callHdlr.GetCallHistory)
		v1.POST("/:id/join", callHdlr.JoinCall)
		v1.POST("/:id/end", callHdlr.EndCall)
		v1.POST("/:id/reject", callHdlr.RejectCall)
		v1.GET("/:id", callHdlr.GetCall)
	}

	// 11. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Call service starting",
		zap.String("addr", addr),
		zap.String("environment", cfg.Server.Environment))
	if err := router.Run(addr); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

// connectDatabase connects to CockroachDB, retrying with exponential backoff
func connectDatabase(ctx context.Context, cfg *config.Config) *database.CockroachDB {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewCockroachDB(ctx, &cfg.Database)
	for attempt := 2; err != nil && attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)
		db, err = database.NewCockroachDB(ctx, &cfg.Database)
	}
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}

	logger.Info("Connected to CockroachDB",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))
	return db
}
