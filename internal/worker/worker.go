// Package worker implements the channel workers: fail-fast consumers that
// verify tenancy, dispatch through the provider clients and record the
// terminal outcome. Workers never retry and never republish; the retry loop
// owns both.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/provider"
)

const tenantViolationReason = "tenant isolation violation"

// StatusStore is the slice of the message store a worker needs.
type StatusStore interface {
	GetStatus(ctx context.Context, messageID string) (messages.Status, error)
	GetSiteID(ctx context.Context, messageID string) (uuid.UUID, error)
	UpdateStatus(ctx context.Context, p messages.UpdateStatusParams) (bool, error)
}

type dispatchFunc func(ctx context.Context, p *bus.Payload) *provider.Result

// Handler processes deliveries for one channel. It satisfies bus.Handler:
// a returned error nacks the bus message (store unavailable); everything
// else, provider failures included, is recorded and acked.
type Handler struct {
	channel  messages.Channel
	source   messages.Source
	store    StatusStore
	dispatch dispatchFunc
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func (h *Handler) Handle(ctx context.Context, p *bus.Payload) error {
	log := h.logger.With(zap.String("message_id", p.MessageID))

	storedSiteID, err := h.store.GetSiteID(ctx, p.MessageID)
	if err == messages.ErrNotFound {
		// A payload without a record cannot be tracked; redelivery will
		// not help.
		log.Error("payload references unknown message, dropping")
		return nil
	}
	if err != nil {
		return err
	}

	if p.SiteID == uuid.Nil || p.SiteID != storedSiteID {
		log.Warn("payload site does not match stored record",
			zap.String("payload_site", p.SiteID.String()),
			zap.String("stored_site", storedSiteID.String()))
		return h.recordFailure(ctx, p, tenantViolationReason, messages.FailurePermanent)
	}

	status, err := h.store.GetStatus(ctx, p.MessageID)
	if err != nil {
		return err
	}
	if status == messages.StatusDelivered {
		log.Info("message already delivered, skipping redelivery")
		h.metrics.MessagesHandledTotal.WithLabelValues(string(h.channel), "duplicate").Inc()
		return nil
	}

	start := time.Now()
	res := h.dispatch(ctx, p)
	h.metrics.ProviderSendDuration.WithLabelValues(string(h.channel)).Observe(time.Since(start).Seconds())

	if res.Success {
		applied, err := h.store.UpdateStatus(ctx, messages.UpdateStatusParams{
			MessageID: p.MessageID,
			NewStatus: messages.StatusDelivered,
			Source:    h.source,
		})
		if err != nil {
			return err
		}
		if !applied {
			log.Info("delivered update skipped, message already terminal")
		}
		h.metrics.MessagesHandledTotal.WithLabelValues(string(h.channel), "delivered").Inc()
		log.Info("message delivered", zap.Duration("took", time.Since(start)))
		return nil
	}

	return h.recordFailure(ctx, p, res.ErrorMessage, res.Category)
}

func (h *Handler) recordFailure(ctx context.Context, p *bus.Payload, errMsg string, ft messages.FailureType) error {
	sanitized := provider.SanitizeError(errMsg)
	applied, err := h.store.UpdateStatus(ctx, messages.UpdateStatusParams{
		MessageID:    p.MessageID,
		NewStatus:    messages.StatusFailed,
		Source:       h.source,
		ErrorMessage: &sanitized,
		FailureType:  &ft,
	})
	if err != nil {
		return err
	}
	if !applied {
		h.logger.Info("failure update skipped, message already delivered",
			zap.String("message_id", p.MessageID))
		return nil
	}

	h.metrics.MessagesHandledTotal.WithLabelValues(string(h.channel), "failed").Inc()
	h.logger.Warn("message failed",
		zap.String("message_id", p.MessageID),
		zap.String("failure_type", string(ft)),
		zap.String("error", sanitized))
	return nil
}
