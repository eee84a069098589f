// Package server assembles the Fiber application: middleware stack, routes
// and the Prometheus endpoint.
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stockcast-api/internal/config"
	"stockcast-api/internal/handlers"
	"stockcast-api/internal/metrics"
	"stockcast-api/internal/services"
)

// Deps are the services the routes are wired to.
type Deps struct {
	Orchestrator *services.ForecastOrchestrator
	Cache        *services.CacheService
	MarketData   *services.MarketDataService
	Metrics      *metrics.Recorder
}

func New(cfg *config.Config, deps Deps, log zerolog.Logger) *fiber.App {
	forecastHandler := handlers.NewForecastHandler(deps.Orchestrator, cfg, log)
	healthHandler := handlers.NewHealthHandler(deps.Cache, deps.MarketData.Providers())

	app := fiber.New(fiber.Config{
		StrictRouting:         true,
		CaseSensitive:         true,
		ServerHeader:          handlers.ServiceName,
		AppName:               handlers.ServiceName + " " + handlers.Version,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.RequestTimeout + 5*time.Second,
		BodyLimit:             1 * 1024 * 1024,
		ErrorHandler:          handlers.CustomErrorHandler,
		DisableStartupMessage: true,
	})

	// Middleware stack
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(handlers.RequestLogger(log))
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitPerMinute,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/health/ready" || c.Path() == "/metrics"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	}))

	// Routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Health)
	app.Get("/health/ready", healthHandler.Ready)
	if cfg.MetricsEnabled && deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	app.Post("/predict", forecastHandler.Predict)

	// API v1 routes
	v1 := app.Group("/v1")
	v1.Post("/predict", forecastHandler.Predict)
	v1.Post("/predict/batch", forecastHandler.PredictBatch)
	v1.Get("/tickers/:symbol", forecastHandler.GetTickerData)
	v1.Post("/admin/refresh", forecastHandler.RefreshCache)

	return app
}
