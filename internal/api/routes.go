package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/observability"
)

func SetupRoutes(
	app *fiber.App,
	logger *zap.Logger,
	metrics *observability.Metrics,
	handlers *Handlers,
) {
	SetupMiddleware(app, logger, metrics)

	// Health endpoints (no auth required)
	app.Get("/healthz", handlers.Health)
	app.Get("/readyz", handlers.Ready)

	// Tenant registration is open; the returned key is shown exactly once.
	app.Post("/sites/register", handlers.RegisterSite)

	v1 := app.Group("/v1", handlers.RequireSiteKey())

	notifications := v1.Group("/notifications", handlers.RateLimit())
	notifications.Post("/send", handlers.SendNotification)
	notifications.Post("/send/bulk", handlers.SendBulk)
	notifications.Post("/schedule", handlers.ScheduleNotification)
	notifications.Post("/schedule/bulk", handlers.ScheduleBulk)

	msgs := v1.Group("/messages")
	msgs.Get("/logs", handlers.ListMessageLogs)
	msgs.Get("/logs/:id", handlers.GetMessageLog)
	msgs.Get("/stats", handlers.GetStats)

	siteMetrics := v1.Group("/metrics/site")
	siteMetrics.Get("/summary", handlers.GetMetricsSummary)
	siteMetrics.Get("/daily", handlers.GetDailyMetrics)
}
