package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Publish sends a payload to its channel topic. It returns only after the
// stream has durably accepted the record. The Nats-Msg-Id carries the message
// id plus the retry count so producer-side repeats of the same attempt are
// deduplicated inside the duplicate window while republished retries are not.
func (b *Bus) Publish(ctx context.Context, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	msgID := fmt.Sprintf("%s:%d", p.MessageID, p.RetryCount)
	_, err = b.js.Publish(ctx, SubjectFor(p.Channel), data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", SubjectFor(p.Channel), err)
	}

	b.logger.Debug("published payload",
		zap.String("message_id", p.MessageID),
		zap.String("subject", SubjectFor(p.Channel)),
		zap.Int("retry_count", p.RetryCount))
	return nil
}

// PublishDLQ routes a terminally failed message to the channel's dead-letter
// topic.
func (b *Bus) PublishDLQ(ctx context.Context, rec *DLQRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ record: %w", err)
	}

	subject := DLQSubjectFor(rec.Payload.Channel)
	_, err = b.js.Publish(ctx, subject, data, jetstream.WithMsgID("dlq:"+rec.Payload.MessageID))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	b.logger.Warn("routed message to DLQ",
		zap.String("message_id", rec.Payload.MessageID),
		zap.String("subject", subject),
		zap.String("classification", string(rec.Classification)),
		zap.Int("retry_count", rec.RetryCountAtTerminus))
	return nil
}
