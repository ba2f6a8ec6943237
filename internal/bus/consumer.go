package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// Handler processes one delivered payload. A nil return acks the message; an
// error nacks it so JetStream redelivers. Handlers therefore return an error
// only when the failure is recoverable by redelivery, such as the store being
// unavailable. Provider failures are recorded as FAILED state and acked.
type Handler func(ctx context.Context, p *Payload) error

// Consumer drives a durable JetStream consumer for one channel topic with a
// fixed pool of handler goroutines.
type Consumer struct {
	bus     *Bus
	channel messages.Channel
	handler Handler
	logger  *zap.Logger

	workers int
	jobs    chan jetstream.Msg
	wg      sync.WaitGroup
	stop    chan struct{}
}

func NewConsumer(b *Bus, channel messages.Channel, workers int, handler Handler, logger *zap.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		bus:     b,
		channel: channel,
		handler: handler,
		logger:  logger,
		workers: workers,
		jobs:    make(chan jetstream.Msg, workers),
		stop:    make(chan struct{}),
	}
}

func durableName(channel messages.Channel) string {
	return "workers-" + strings.ToLower(string(channel))
}

// Start creates the durable consumer and begins pulling. It returns once the
// pull loop and the handler pool are running.
func (c *Consumer) Start(ctx context.Context) error {
	cons, err := c.bus.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableName(c.channel),
		FilterSubject: SubjectFor(c.channel),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxAckPending: c.workers * 4,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer for %s: %w", SubjectFor(c.channel), err)
	}

	iter, err := cons.Messages(jetstream.PullMaxMessages(c.workers * 2))
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.wg.Add(1)
	go c.pull(ctx, iter)

	c.logger.Info("consumer started",
		zap.String("subject", SubjectFor(c.channel)),
		zap.String("durable", durableName(c.channel)),
		zap.Int("workers", c.workers))
	return nil
}

// Stop halts pulling, lets in-flight handlers finish within the grace period,
// then returns. Abandoned messages are redelivered after the ack wait.
func (c *Consumer) Stop(grace time.Duration) {
	close(c.stop)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("consumer stopped")
	case <-time.After(grace):
		c.logger.Warn("consumer shutdown grace period elapsed, abandoning in-flight handlers")
	}
}

func (c *Consumer) pull(ctx context.Context, iter jetstream.MessagesContext) {
	defer c.wg.Done()
	defer iter.Stop()
	defer close(c.jobs)

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := iter.Next()
		if err != nil {
			select {
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		select {
		case c.jobs <- msg:
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for msg := range c.jobs {
		c.handle(ctx, msg, id)
	}
}

func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg, workerID int) {
	var p Payload
	if err := json.Unmarshal(msg.Data(), &p); err != nil {
		// Undecodable records can never succeed; drop them.
		c.logger.Error("failed to unmarshal payload, dropping",
			zap.Int("worker_id", workerID), zap.Error(err))
		_ = msg.Ack()
		return
	}

	if err := c.handler(ctx, &p); err != nil {
		c.logger.Error("handler failed, nacking for redelivery",
			zap.String("message_id", p.MessageID),
			zap.Int("worker_id", workerID),
			zap.Error(err))
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Error("failed to ack message",
			zap.String("message_id", p.MessageID), zap.Error(err))
	}
}
