package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/api/handlers"
	"github.com/insightsboard/backend/internal/cache/redis"
	"github.com/insightsboard/backend/internal/charts"
	"github.com/insightsboard/backend/internal/dashboard"
	"github.com/insightsboard/backend/internal/llm"
	"github.com/insightsboard/backend/internal/metrics"
	"github.com/insightsboard/backend/internal/middleware/ratelimit"
	"github.com/insightsboard/backend/internal/middleware/security"
	"github.com/insightsboard/backend/internal/middleware/validation"
	"github.com/insightsboard/backend/internal/storage/sqlite"
	"github.com/insightsboard/backend/pkg/config"
	appLogger "github.com/insightsboard/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting InsightsBoard server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	llmClient := llm.NewClient(cfg.LLM)
	renderer := charts.NewRenderer(cfg.Dashboard.ChartWidth, cfg.Dashboard.ChartHeight, cfg.Dashboard.ChartFormat)

	service := dashboard.NewService(llmClient, renderer, dashboard.Config{
		Model:           llmClient.Model(),
		DefaultVisuals:  cfg.Dashboard.DefaultVisuals,
		SampleRows:      cfg.Dashboard.SampleRows,
		DatabaseMaxRows: cfg.Database.MaxRows,
		DatabaseTimeout: cfg.Database.QueryTimeout(),
	}).WithHistory(sqliteClient)

	var (
		redisClient *redis.Client
		cacheAdmin  handlers.CacheAdmin
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.TTL(),
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, insight caching disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			service.WithCache(redisClient)
			cacheAdmin = redisClient
		}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(cfg.Server.AllowedOrigins, ","),
		IsDevelopment:  cfg.Server.IsDevelopment(),
	}))

	rl := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer rl.Stop()

	pageHandler := handlers.NewPageHandler(service, cfg.Dashboard.DefaultVisuals)

	validateAPI := validation.Middleware(validation.Config{
		MinVisuals:       cfg.Dashboard.MinVisuals,
		MaxVisuals:       cfg.Dashboard.MaxVisuals,
		CheckDatabaseURL: true,
		Logger:           appLogger.GetLogger(),
	})
	// The form reports bad database URLs through the load error message.
	validateForm := validation.Middleware(validation.Config{
		MinVisuals:   cfg.Dashboard.MinVisuals,
		MaxVisuals:   cfg.Dashboard.MaxVisuals,
		ErrorHandler: pageHandler.ValidationError,
		Logger:       appLogger.GetLogger(),
	})

	dashboardHandler := handlers.NewDashboardHandler(service)
	wsHandler := handlers.NewWebSocketHandler(service).WithRateLimit(rl)
	adminHandler := handlers.NewAdminHandler(sqliteClient, cacheAdmin)

	app.Get("/", pageHandler.Index)
	app.Post("/", rl.Middleware(), validateForm, pageHandler.Submit)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/dashboards", rl.Middleware(), validateAPI, dashboardHandler.CreateDashboard)
	api.Get("/dashboards", dashboardHandler.ListDashboards)
	api.Get("/dashboards/:id", dashboardHandler.GetDashboard)

	api.Get("/stats", adminHandler.GetStats)
	api.Delete("/cache", adminHandler.InvalidateCache)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{"sqlite": "ok"}
		ready := true

		if err := sqliteClient.Ping(ctx); err != nil {
			checks["sqlite"] = err.Error()
			ready = false
		}
		if redisClient != nil {
			checks["redis"] = "ok"
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				ready = false
			}
		}

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"checks": checks,
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
			"checks": checks,
		})
	})

	app.Use("/ws", rl.Middleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/dashboards", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
