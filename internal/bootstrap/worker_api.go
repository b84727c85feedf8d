package bootstrap

import (
	"context"
	"strings"
	"time"

	"pattern_worker/adapter/in/http"
	"pattern_worker/config"
	"pattern_worker/infra/middleware"
	"pattern_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxRequestBody = 4 * 1024 * 1024
	userRateLimit  = 120
)

// InitLogger configures the process logger from LOG_LEVEL; development
// always logs at debug.
func InitLogger(cfg *config.Config, service string) {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.IsDevelopment() {
		level = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: level, Service: service})
}

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	InitLogger(cfg, "pattern-api")

	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		AppName:               "pattern-worker",

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    maxRequestBody,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute, // batch drafts wait on the oracle
		IdleTimeout:  2 * time.Minute,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.MaxBodySize(maxRequestBody))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID," + middleware.UserHeader,
		ExposeHeaders: "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		MaxAge:        86400,
	}))

	// Probes and metrics (no identity required)
	http.NewHealthHandler(deps.HealthChecks(), deps.DBPoolStats()).Register(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(userRateLimit, time.Minute)

	api := app.Group("/api/v1", middleware.UserIdentity(), limiter.Handler())
	http.NewDraftHandler(deps.Coordinator, deps.Publisher()).Register(api)
	http.NewPatternHandler(deps.Learner, deps.Publisher()).Register(api)

	logger.WithFields(map[string]any{
		"postgres": deps.DB != nil,
		"redis":    deps.Redis != nil,
		"mongodb":  deps.MongoDB != nil,
		"neo4j":    deps.Neo4j != nil,
	}).Info("API initialized")

	return app, func() {
		limiter.Close()
		cleanup()
	}, nil
}
