package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/sites"
)

const siteKeyHeader = "X-Site-Key"

func SetupMiddleware(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics) {
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept," + siteKeyHeader,
	}))

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()

		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("request_id", c.Get("X-Request-ID")))

		if metrics != nil {
			code := fmt.Sprintf("%d", status)
			metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), c.Route().Path, code).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Method(), c.Route().Path, code).Observe(duration.Seconds())
		}

		return err
	})
}

// RequireSiteKey authenticates the tenant behind X-Site-Key and stores the
// site in request locals.
func (h *Handlers) RequireSiteKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawKey := c.Get(siteKeyHeader)
		if rawKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + siteKeyHeader + " header",
			})
		}

		site, err := h.sites.Authenticate(c.Context(), rawKey)
		if err == sites.ErrUnauthorized {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid site key",
			})
		}
		if err != nil {
			h.logger.Error("site authentication failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "internal error",
			})
		}

		c.Locals("site", site)
		return c.Next()
	}
}

// RateLimit applies the per-site token bucket to the send paths.
func (h *Handlers) RateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		site := siteFromContext(c)
		if site == nil || h.limiter == nil {
			return c.Next()
		}

		allowed, retryAfter, err := h.limiter.Allow(c.Context(), site.ID)
		if err != nil {
			h.logger.Error("rate limiting error", zap.Error(err))
			return c.Next()
		}
		if !allowed {
			c.Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":               "rate limit exceeded",
				"retry_after_seconds": int(retryAfter.Seconds()),
			})
		}
		return c.Next()
	}
}

func siteFromContext(c *fiber.Ctx) *sites.Site {
	site, _ := c.Locals("site").(*sites.Site)
	return site
}
