// Package bus is the at-least-once transport between the ingestion gateway,
// the channel workers and the retry loop. It is a thin layer over NATS
// JetStream: one stream for the live channel topics, one for the dead-letter
// topics, explicit acks everywhere.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	StreamName    = "NOTIFICATIONS"
	DLQStreamName = "NOTIFICATIONS_DLQ"

	SubjectEmail       = "notifications.email"
	SubjectWhatsApp    = "notifications.whatsapp"
	SubjectEmailDLQ    = "notifications.email.dlq"
	SubjectWhatsAppDLQ = "notifications.whatsapp.dlq"

	// duplicateWindow bounds JetStream publish dedup by Nats-Msg-Id.
	duplicateWindow = 2 * time.Minute
)

type Bus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

func Connect(ctx context.Context, url string, logger *zap.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("notification-platform"),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &Bus{conn: conn, js: js, logger: logger}
	if err := b.ensureStreams(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return b, nil
}

func (b *Bus) ensureStreams(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectEmail, SubjectWhatsApp},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure %s stream: %w", StreamName, err)
	}

	_, err = b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      DLQStreamName,
		Subjects:  []string{SubjectEmailDLQ, SubjectWhatsAppDLQ},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure %s stream: %w", DLQStreamName, err)
	}
	return nil
}

func (b *Bus) HealthCheck(ctx context.Context) error {
	if b.conn.Status() != nats.CONNECTED {
		return fmt.Errorf("NATS not connected, status: %v", b.conn.Status())
	}
	return nil
}

func (b *Bus) Close() {
	b.conn.Close()
}
