// Package retry implements the producer-side retry and scheduling authority.
// It is the only component that mutates retry_count or republishes messages;
// workers fail fast and leave both to this loop.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/config"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
)

const dlqRoutedNote = "DLQ routed"

// Store is the slice of the message store the loop needs.
type Store interface {
	PromoteDueScheduled(ctx context.Context, now time.Time, limit int) ([]*messages.Message, error)
	RetryCandidates(ctx context.Context, limit int) ([]*messages.Message, error)
	StalePending(ctx context.Context, olderThan time.Time, limit int) ([]*messages.Message, error)
	UpdateStatus(ctx context.Context, p messages.UpdateStatusParams) (bool, error)
	IncrementRetryCount(ctx context.Context, messageID string) error
}

// Publisher is the slice of the bus the loop needs.
type Publisher interface {
	Publish(ctx context.Context, p *bus.Payload) error
	PublishDLQ(ctx context.Context, rec *bus.DLQRecord) error
}

type Loop struct {
	store    Store
	pub      Publisher
	policies Policies
	interval time.Duration
	batch    int
	staleAge time.Duration
	permDLQ  bool
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewLoop(store Store, pub Publisher, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) *Loop {
	return &Loop{
		store:    store,
		pub:      pub,
		policies: PoliciesFromConfig(cfg),
		interval: cfg.RetryInterval,
		batch:    cfg.RetryBatchSize,
		staleAge: cfg.PendingStaleAfter,
		permDLQ:  cfg.PermanentToDLQ,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run executes passes on the configured interval until the context ends.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("retry loop started",
		zap.Duration("interval", l.interval),
		zap.Int("batch_size", l.batch))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("retry loop stopped")
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scheduler pass, one retry pass and one stale-pending
// sweep. Failures are logged and retried on the next cycle.
func (l *Loop) RunOnce(ctx context.Context) {
	l.schedulerPass(ctx)
	l.retryPass(ctx)
	l.stalePendingPass(ctx)
}

// schedulerPass promotes due SCHEDULED messages to PENDING and publishes
// them. A publish failure rolls the message back to SCHEDULED so the next
// cycle retries the promotion.
func (l *Loop) schedulerPass(ctx context.Context) {
	msgs, err := l.store.PromoteDueScheduled(ctx, time.Now().UTC(), l.batch)
	if err != nil {
		l.logger.Error("scheduler pass failed", zap.Error(err))
		return
	}

	for _, m := range msgs {
		if err := l.pub.Publish(ctx, bus.NewPayload(m, nil)); err != nil {
			l.logger.Error("failed to publish promoted message, reverting",
				zap.String("message_id", m.MessageID), zap.Error(err))
			l.revert(ctx, m.MessageID, messages.StatusScheduled, messages.SourceScheduler, "publish failed, reverted to SCHEDULED")
			continue
		}
		l.metrics.ScheduledPromotedTotal.Inc()
		l.logger.Info("scheduled message promoted and published",
			zap.String("message_id", m.MessageID))
	}
}

// retryPass inspects FAILED messages and either republishes them under the
// per-class backoff or routes them to the DLQ.
func (l *Loop) retryPass(ctx context.Context) {
	cands, err := l.store.RetryCandidates(ctx, l.batch)
	if err != nil {
		l.logger.Error("retry pass failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, m := range cands {
		ft := messages.FailureTransient
		if m.FailureType != nil {
			ft = *m.FailureType
		}

		if ft == messages.FailurePermanent && l.permDLQ {
			l.routeDLQ(ctx, m, ft)
			continue
		}

		policy := l.policies.For(ft)
		if m.RetryCount >= policy.MaxAttempts {
			l.routeDLQ(ctx, m, ft)
			continue
		}
		if !policy.Due(m.UpdatedAt, m.RetryCount, now) {
			continue
		}

		l.republish(ctx, m, ft)
	}
}

// republish transitions FAILED -> PENDING, publishes, and bumps retry_count
// once the bus has the record. A publish failure reverts the transition
// without an increment so the next cycle can try again.
func (l *Loop) republish(ctx context.Context, m *messages.Message, ft messages.FailureType) {
	failed := messages.StatusFailed
	applied, err := l.store.UpdateStatus(ctx, messages.UpdateStatusParams{
		MessageID:      m.MessageID,
		NewStatus:      messages.StatusPending,
		Source:         messages.SourceRetry,
		RequireCurrent: &failed,
	})
	if err != nil {
		l.logger.Error("failed to claim message for retry",
			zap.String("message_id", m.MessageID), zap.Error(err))
		return
	}
	if !applied {
		return
	}

	payload := bus.NewPayload(m, nil)
	payload.RetryCount = m.RetryCount + 1
	if err := l.pub.Publish(ctx, payload); err != nil {
		l.logger.Error("failed to republish, reverting to FAILED",
			zap.String("message_id", m.MessageID), zap.Error(err))
		l.revert(ctx, m.MessageID, messages.StatusFailed, messages.SourceRetry, "republish failed, reverted to FAILED")
		return
	}

	if err := l.store.IncrementRetryCount(ctx, m.MessageID); err != nil {
		l.logger.Error("failed to increment retry count",
			zap.String("message_id", m.MessageID), zap.Error(err))
	}
	l.metrics.RetryPublishedTotal.WithLabelValues(string(m.Channel), string(ft)).Inc()
	l.logger.Info("message republished for retry",
		zap.String("message_id", m.MessageID),
		zap.String("failure_type", string(ft)),
		zap.Int("attempt", m.RetryCount+1))
}

// routeDLQ publishes the terminal record to the channel DLQ and stamps the
// history so the message is not picked up again.
func (l *Loop) routeDLQ(ctx context.Context, m *messages.Message, ft messages.FailureType) {
	terminalErr := ""
	if m.ErrorMessage != nil {
		terminalErr = *m.ErrorMessage
	}
	rec := &bus.DLQRecord{
		Payload:              *bus.NewPayload(m, nil),
		TerminalError:        terminalErr,
		Classification:       ft,
		RetryCountAtTerminus: m.RetryCount,
	}
	if err := l.pub.PublishDLQ(ctx, rec); err != nil {
		l.logger.Error("failed to route message to DLQ",
			zap.String("message_id", m.MessageID), zap.Error(err))
		return
	}

	note := dlqRoutedNote
	failed := messages.StatusFailed
	if _, err := l.store.UpdateStatus(ctx, messages.UpdateStatusParams{
		MessageID:      m.MessageID,
		NewStatus:      messages.StatusFailed,
		Source:         messages.SourceRetry,
		Note:           &note,
		RequireCurrent: &failed,
		SkipCounters:   true,
	}); err != nil {
		l.logger.Error("failed to record DLQ routing",
			zap.String("message_id", m.MessageID), zap.Error(err))
		return
	}
	l.metrics.DLQRoutedTotal.WithLabelValues(string(m.Channel), string(ft)).Inc()
}

// stalePendingPass republishes PENDING messages whose original publish was
// lost between the gateway's persist and the bus accept.
func (l *Loop) stalePendingPass(ctx context.Context) {
	msgs, err := l.store.StalePending(ctx, time.Now().UTC().Add(-l.staleAge), l.batch)
	if err != nil {
		l.logger.Error("stale pending pass failed", zap.Error(err))
		return
	}

	for _, m := range msgs {
		if err := l.pub.Publish(ctx, bus.NewPayload(m, nil)); err != nil {
			l.logger.Error("failed to republish stale pending message",
				zap.String("message_id", m.MessageID), zap.Error(err))
			continue
		}
		l.logger.Info("republished stale pending message",
			zap.String("message_id", m.MessageID))
	}
}

func (l *Loop) revert(ctx context.Context, messageID string, to messages.Status, source messages.Source, note string) {
	pending := messages.StatusPending
	if _, err := l.store.UpdateStatus(ctx, messages.UpdateStatusParams{
		MessageID:      messageID,
		NewStatus:      to,
		Source:         source,
		Note:           &note,
		RequireCurrent: &pending,
		SkipCounters:   true,
	}); err != nil {
		l.logger.Error("failed to revert message status",
			zap.String("message_id", messageID), zap.Error(err))
	}
}
