package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/sites"
)

const maxBulkItems = 100

var (
	errScheduledAtRequired = errors.New("scheduledAt must be a future time")
	errInternal            = errors.New("internal error")
)

// MessageStore is the slice of the message store the gateway needs.
type MessageStore interface {
	Create(ctx context.Context, msg *messages.Message) error
	GetByID(ctx context.Context, messageID string) (*messages.Message, error)
	History(ctx context.Context, messageID string) ([]*messages.StatusTransition, error)
	List(ctx context.Context, siteID uuid.UUID, f messages.Filter) ([]*messages.Message, int64, error)
	Stats(ctx context.Context, siteID uuid.UUID) (*messages.SiteStats, error)
	MetricsSummary(ctx context.Context, siteID uuid.UUID) ([]*messages.ChannelSummary, error)
	DailyMetrics(ctx context.Context, siteID uuid.UUID, from, to time.Time) ([]*messages.DailyMetric, error)
	Health(ctx context.Context) error
}

// Publisher is the slice of the bus the gateway needs.
type Publisher interface {
	Publish(ctx context.Context, p *bus.Payload) error
}

// SiteService authenticates and registers tenants.
type SiteService interface {
	Authenticate(ctx context.Context, rawKey string) (*sites.Site, error)
	Register(ctx context.Context, reg sites.Registration) (*sites.Site, string, error)
}

// RateLimiter gates the send endpoints per site.
type RateLimiter interface {
	Allow(ctx context.Context, siteID uuid.UUID) (bool, time.Duration, error)
}

type Handlers struct {
	logger  *zap.Logger
	store   MessageStore
	sites   SiteService
	pub     Publisher
	limiter RateLimiter
	metrics *observability.Metrics
}

func NewHandlers(logger *zap.Logger, store MessageStore, siteSvc SiteService, pub Publisher, limiter RateLimiter, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		logger:  logger,
		store:   store,
		sites:   siteSvc,
		pub:     pub,
		limiter: limiter,
		metrics: metrics,
	}
}

// RegisterSite handles POST /sites/register
//
//	@Summary		Register a tenant site
//	@Description	Creates a site and returns its API key exactly once
//	@Tags			Sites
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	RegisterSiteResponse
//	@Failure		400	{object}	map[string]string
//	@Router			/sites/register [post]
func (h *Handlers) RegisterSite(c *fiber.Ctx) error {
	var req RegisterSiteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.SiteName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "siteName is required"})
	}

	site, rawKey, err := h.sites.Register(c.Context(), sites.Registration{
		SiteName:            req.SiteName,
		WhatsAppSessionName: req.WhatsAppSessionName,
		WASenderAPIKey:      req.WASenderAPIKey,
		SendGridAPIKey:      req.SendGridAPIKey,
		SendGridFromEmail:   req.SendGridFromEmail,
		SendGridFromName:    req.SendGridFromName,
	})
	if err == sites.ErrNameTaken {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "site name already registered"})
	}
	if err != nil {
		h.logger.Error("failed to register site", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(&RegisterSiteResponse{
		SiteID:   site.ID.String(),
		SiteName: site.SiteName,
		APIKey:   rawKey,
	})
}

// SendNotification handles POST /notifications/send
//
//	@Summary		Submit a notification
//	@Description	Persists the message and enqueues it for the channel worker
//	@Tags			Notifications
//	@Accept			json
//	@Produce		json
//	@Param			X-Site-Key	header		string		true	"Site API key"
//	@Param			request		body		SendRequest	true	"Notification"
//	@Success		202			{object}	SendResponse
//	@Failure		400			{object}	map[string]string
//	@Failure		401			{object}	map[string]string
//	@Router			/notifications/send [post]
func (h *Handlers) SendNotification(c *fiber.Ctx) error {
	return h.handleSubmit(c, false)
}

// ScheduleNotification handles POST /notifications/schedule
func (h *Handlers) ScheduleNotification(c *fiber.Ctx) error {
	return h.handleSubmit(c, true)
}

func (h *Handlers) handleSubmit(c *fiber.Ctx, requireSchedule bool) error {
	site := siteFromContext(c)

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	resp, err := h.submit(c.Context(), site, &req, requireSchedule)
	if err == errInternal {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

// SendBulk handles POST /notifications/send/bulk
func (h *Handlers) SendBulk(c *fiber.Ctx) error {
	return h.handleBulk(c, false)
}

// ScheduleBulk handles POST /notifications/schedule/bulk
func (h *Handlers) ScheduleBulk(c *fiber.Ctx) error {
	return h.handleBulk(c, true)
}

func (h *Handlers) handleBulk(c *fiber.Ctx, requireSchedule bool) error {
	site := siteFromContext(c)

	var reqs []SendRequest
	if err := c.BodyParser(&reqs); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if len(reqs) == 0 || len(reqs) > maxBulkItems {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "bulk submissions must contain between 1 and 100 items",
		})
	}

	results := make([]BulkItemResponse, 0, len(reqs))
	for i := range reqs {
		resp, err := h.submit(c.Context(), site, &reqs[i], requireSchedule)
		if err != nil {
			results = append(results, BulkItemResponse{Error: err.Error()})
			continue
		}
		results = append(results, BulkItemResponse{MessageID: resp.MessageID, Status: resp.Status})
	}
	return c.Status(fiber.StatusAccepted).JSON(results)
}

// submit validates, persists and (for immediate sends) publishes one
// message. Persistence precedes publish so a bus outage never loses an
// accepted message: the record stays PENDING and the retry loop republishes.
func (h *Handlers) submit(ctx context.Context, site *sites.Site, req *SendRequest, requireSchedule bool) (*SendResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := messages.StatusPending
	if requireSchedule {
		if req.ScheduledAt == nil || !req.ScheduledAt.After(now) {
			return nil, errScheduledAtRequired
		}
		status = messages.StatusScheduled
	} else if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		status = messages.StatusScheduled
	}
	scheduledAt := req.ScheduledAt
	if status == messages.StatusPending {
		// A past scheduledAt means immediate dispatch. Only SCHEDULED
		// rows carry the timestamp.
		scheduledAt = nil
	}

	msg := &messages.Message{
		MessageID:   messages.NewMessageID(),
		SiteID:      site.ID,
		Channel:     messages.Channel(req.Channel),
		Status:      status,
		Recipient:   req.Recipient,
		Subject:     req.Subject,
		Body:        req.Body,
		FromEmail:   req.FromEmail,
		FromName:    req.FromName,
		IsHTML:      req.IsHTML,
		ImageURL:    req.ImageURL,
		VideoURL:    req.VideoURL,
		DocumentURL: req.DocumentURL,
		FileName:    req.FileName,
		Caption:     req.Caption,
		Metadata:    req.Metadata,
		ScheduledAt: scheduledAt,
	}

	if err := h.store.Create(ctx, msg); err != nil {
		h.logger.Error("failed to persist message", zap.Error(err))
		return nil, errInternal
	}

	if status == messages.StatusPending {
		if err := h.pub.Publish(ctx, bus.NewPayload(msg, site.WhatsAppSessionName)); err != nil {
			// The record is durable; the retry loop picks up stale
			// PENDING rows whose publish was lost.
			h.logger.Warn("publish failed after persist, leaving PENDING for retry loop",
				zap.String("message_id", msg.MessageID), zap.Error(err))
		}
	}

	h.metrics.MessagesAcceptedTotal.WithLabelValues(string(msg.Channel), string(status)).Inc()
	return &SendResponse{MessageID: msg.MessageID, Status: status}, nil
}

// GetMessageLog handles GET /messages/logs/:id
func (h *Handlers) GetMessageLog(c *fiber.Ctx) error {
	site := siteFromContext(c)

	msg, err := h.store.GetByID(c.Context(), c.Params("id"))
	if err == messages.ErrNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}
	if err != nil {
		h.logger.Error("failed to load message", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	// Cross-tenant ids are indistinguishable from unknown ones.
	if msg.SiteID != site.ID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
	}

	history, err := h.store.History(c.Context(), msg.MessageID)
	if err != nil {
		h.logger.Error("failed to load history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{"message": msg, "history": history})
}

// ListMessageLogs handles GET /messages/logs
func (h *Handlers) ListMessageLogs(c *fiber.Ctx) error {
	site := siteFromContext(c)

	f := messages.Filter{
		Status:  messages.Status(c.Query("status")),
		Channel: messages.Channel(c.Query("channel")),
		Page:    c.QueryInt("page", 1),
		Size:    c.QueryInt("size", 50),
	}
	if from, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		f.From = &from
	}
	if to, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		f.To = &to
	}

	msgs, total, err := h.store.List(c.Context(), site.ID, f)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	return c.JSON(fiber.Map{
		"messages": msgs,
		"total":    total,
		"page":     f.Page,
		"size":     f.Size,
	})
}

// GetStats handles GET /messages/stats
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	site := siteFromContext(c)

	stats, err := h.store.Stats(c.Context(), site.ID)
	if err != nil {
		h.logger.Error("failed to aggregate stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(stats)
}

// GetMetricsSummary handles GET /metrics/site/summary
func (h *Handlers) GetMetricsSummary(c *fiber.Ctx) error {
	site := siteFromContext(c)

	summary, err := h.store.MetricsSummary(c.Context(), site.ID)
	if err != nil {
		h.logger.Error("failed to load metrics summary", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(fiber.Map{"channels": summary})
}

// GetDailyMetrics handles GET /metrics/site/daily
func (h *Handlers) GetDailyMetrics(c *fiber.Ctx) error {
	site := siteFromContext(c)

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if t, err := time.Parse("2006-01-02", c.Query("from")); err == nil {
		from = t
	}
	if t, err := time.Parse("2006-01-02", c.Query("to")); err == nil {
		to = t
	}

	rows, err := h.store.DailyMetrics(c.Context(), site.ID, from, to)
	if err != nil {
		h.logger.Error("failed to load daily metrics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
	return c.JSON(fiber.Map{"days": rows})
}

// Health handles GET /healthz
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
}

// Ready handles GET /readyz
func (h *Handlers) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Health(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
