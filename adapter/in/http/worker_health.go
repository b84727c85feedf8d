package http

import (
	"context"
	"time"

	"pattern_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

// HealthChecker is satisfied by each optional backend (Postgres, Redis, MongoDB, Neo4j).
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a plain function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks  map[string]HealthChecker
	dbStats func() metrics.DBPoolStats
}

// NewHealthHandler takes the configured backends by name; missing backends
// are simply not listed. dbStats may be nil.
func NewHealthHandler(checks map[string]HealthChecker, dbStats func() metrics.DBPoolStats) *HealthHandler {
	return &HealthHandler{checks: checks, dbStats: dbStats}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	allHealthy := true
	for name, checker := range h.checks {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}

	body := fiber.Map{
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.dbStats != nil {
		stats := h.dbStats()
		body["db_pool"] = fiber.Map{"stats": stats, "health": metrics.AssessDBPoolHealth(stats)}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}
	body["status"] = status

	return c.Status(statusCode).JSON(body)
}
