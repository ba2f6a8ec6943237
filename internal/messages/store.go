package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/db"
)

var (
	ErrNotFound     = errors.New("message not found")
	ErrConflict     = errors.New("message id already exists")
	ErrInvalidInput = errors.New("invalid message")
)

// Store is the single source of truth for message state. Every status
// mutation goes through it so that the history append, the derived
// timestamps and the daily counters stay consistent in one transaction.
type Store struct {
	db     *db.PostgresDB
	logger *zap.Logger
}

func NewStore(database *db.PostgresDB, logger *zap.Logger) *Store {
	return &Store{db: database, logger: logger}
}

const messageColumns = `message_id, site_id, channel, status, recipient, subject, body,
	from_email, from_name, is_html, image_url, video_url, document_url, file_name, caption,
	error_message, retry_count, failure_type, metadata, scheduled_at, sent_at, delivered_at,
	created_at, updated_at`

// Create inserts the message and its initial history row (NULL -> status) in
// one transaction.
func (s *Store) Create(ctx context.Context, msg *Message) error {
	if msg.MessageID == "" || msg.SiteID == uuid.Nil || msg.Recipient == "" {
		return ErrInvalidInput
	}
	if msg.Channel != ChannelEmail && msg.Channel != ChannelWhatsApp {
		return ErrInvalidInput
	}
	if msg.Status != StatusPending && msg.Status != StatusScheduled {
		return ErrInvalidInput
	}

	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if msg.Metadata == nil {
		meta = []byte("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_logs (message_id, site_id, channel, status, recipient, subject, body,
			from_email, from_name, is_html, image_url, video_url, document_url, file_name, caption,
			retry_count, metadata, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 0, $16, $17, $18, $18)`,
		msg.MessageID, msg.SiteID, msg.Channel, msg.Status, msg.Recipient, msg.Subject, msg.Body,
		msg.FromEmail, msg.FromName, msg.IsHTML, msg.ImageURL, msg.VideoURL, msg.DocumentURL,
		msg.FileName, msg.Caption, meta, msg.ScheduledAt, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_status_history (message_id, old_status, new_status, source, changed_at)
		VALUES ($1, NULL, $2, $3, $4)`,
		msg.MessageID, msg.Status, SourceAPI, now)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.logger.Info("message created",
		zap.String("message_id", msg.MessageID),
		zap.String("site_id", msg.SiteID.String()),
		zap.String("channel", string(msg.Channel)),
		zap.String("status", string(msg.Status)))
	return nil
}

// UpdateStatusParams carries one status transition.
type UpdateStatusParams struct {
	MessageID    string
	NewStatus    Status
	Source       Source
	ErrorMessage *string
	FailureType  *FailureType
	Note         *string

	// SkipCounters suppresses the daily-counter bump. Used by the retry
	// loop when rolling a transition back after a failed publish, which is
	// not a new delivery outcome.
	SkipCounters bool

	// RequireCurrent, when set, makes the transition conditional: it is
	// applied only if the row's current status matches. Lets the retry
	// loop claim FAILED rows without racing a second loop instance.
	RequireCurrent *Status
}

// UpdateStatus applies one transition atomically: history append, status and
// derived timestamps, and the daily counters when the transition is terminal.
//
// It is idempotent against at-least-once redelivery: once a message is
// DELIVERED, any further transition (including a redelivered DELIVERED) is a
// no-op and the returned applied flag is false so callers can log the skip.
func (s *Store) UpdateStatus(ctx context.Context, p UpdateStatusParams) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		current   Status
		channel   Channel
		siteID    uuid.UUID
		createdAt time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, channel, site_id, created_at FROM message_logs WHERE message_id = $1 FOR UPDATE`,
		p.MessageID).Scan(&current, &channel, &siteID, &createdAt)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock message: %w", err)
	}

	if current == StatusDelivered {
		return false, nil
	}
	if p.RequireCurrent != nil && current != *p.RequireCurrent {
		return false, nil
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_status_history (message_id, old_status, new_status, source, note, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.MessageID, current, p.NewStatus, p.Source, p.Note, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE message_logs SET
			status = $2,
			error_message = COALESCE($3, error_message),
			failure_type = COALESCE($4, failure_type),
			sent_at = CASE WHEN $2 IN ('SENT', 'DELIVERED') AND sent_at IS NULL THEN $5 ELSE sent_at END,
			delivered_at = CASE WHEN $2 = 'DELIVERED' THEN $5 ELSE delivered_at END,
			updated_at = $5
		WHERE message_id = $1`,
		p.MessageID, p.NewStatus, p.ErrorMessage, p.FailureType, now)
	if err != nil {
		return false, fmt.Errorf("failed to update message: %w", err)
	}

	if p.NewStatus.IsTerminal() && !p.SkipCounters {
		if err := s.bumpDailyCounters(ctx, tx, siteID, channel, current, p.NewStatus, createdAt, now); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info("message status updated",
		zap.String("message_id", p.MessageID),
		zap.String("from", string(current)),
		zap.String("to", string(p.NewStatus)),
		zap.String("source", string(p.Source)))
	return true, nil
}

// bumpDailyCounters increments the per-day counters for a terminal
// transition. total_sent and total_delivered bucket rules: total_sent by the
// UTC date the message was created, delivered/failed by the transition date.
// total_failed is bumped only when FAILED is entered from a non-terminal
// state so repeated FAILED->PENDING->FAILED cycles count once per entry.
func (s *Store) bumpDailyCounters(ctx context.Context, tx *sql.Tx, siteID uuid.UUID, channel Channel, from, to Status, createdAt, now time.Time) error {
	switch to {
	case StatusDelivered:
		if err := s.upsertDaily(ctx, tx, siteID, channel, createdAt, "total_sent"); err != nil {
			return err
		}
		return s.upsertDaily(ctx, tx, siteID, channel, now, "total_delivered")
	case StatusFailed:
		if from.IsTerminal() {
			return nil
		}
		return s.upsertDaily(ctx, tx, siteID, channel, now, "total_failed")
	case StatusBounced, StatusRejected:
		return s.upsertDaily(ctx, tx, siteID, channel, now, "total_failed")
	}
	return nil
}

func (s *Store) upsertDaily(ctx context.Context, tx *sql.Tx, siteID uuid.UUID, channel Channel, at time.Time, column string) error {
	// column comes from a fixed internal set, never from input
	query := fmt.Sprintf(`
		INSERT INTO site_metrics_daily (site_id, channel, metric_date, %s)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (site_id, channel, metric_date)
		DO UPDATE SET %s = site_metrics_daily.%s + 1`, column, column, column)
	if _, err := tx.ExecContext(ctx, query, siteID, channel, at.UTC().Truncate(24*time.Hour)); err != nil {
		return fmt.Errorf("failed to bump %s: %w", column, err)
	}
	return nil
}

// IncrementRetryCount is reserved for the retry loop; nothing else mutates
// the counter.
func (s *Store) IncrementRetryCount(ctx context.Context, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE message_logs SET retry_count = retry_count + 1, updated_at = $2 WHERE message_id = $1`,
		messageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM message_logs WHERE message_id = $1`, messageID)
	return scanMessage(row)
}

func (s *Store) GetStatus(ctx context.Context, messageID string) (Status, error) {
	var status Status
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM message_logs WHERE message_id = $1`, messageID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	return status, nil
}

func (s *Store) GetSiteID(ctx context.Context, messageID string) (uuid.UUID, error) {
	var siteID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT site_id FROM message_logs WHERE message_id = $1`, messageID).Scan(&siteID)
	if err == sql.ErrNoRows {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get site id: %w", err)
	}
	return siteID, nil
}

// List returns the site's messages newest first, with the total row count for
// pagination.
func (s *Store) List(ctx context.Context, siteID uuid.UUID, f Filter) ([]*Message, int64, error) {
	where := `WHERE site_id = $1`
	args := []interface{}{siteID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Channel != "" {
		args = append(args, f.Channel)
		where += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	size := f.Size
	if size <= 0 || size > 200 {
		size = 50
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT %s FROM message_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		messageColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// Stats aggregates lifetime counters for one site.
func (s *Store) Stats(ctx context.Context, siteID uuid.UUID) (*SiteStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM message_logs WHERE site_id = $1 GROUP BY status`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer rows.Close()

	stats := &SiteStats{CountsByStatus: make(map[Status]int64)}
	for rows.Next() {
		var st Status
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.CountsByStatus[st] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	delivered := stats.CountsByStatus[StatusDelivered]
	terminal := delivered + stats.CountsByStatus[StatusFailed] +
		stats.CountsByStatus[StatusBounced] + stats.CountsByStatus[StatusRejected]
	if terminal > 0 {
		stats.SuccessRate = float64(delivered) / float64(terminal)
	}

	var firstCreated sql.NullTime
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM message_logs WHERE site_id = $1`, siteID).Scan(&firstCreated); err != nil {
		return nil, fmt.Errorf("failed to get first message time: %w", err)
	}
	if firstCreated.Valid {
		days := time.Since(firstCreated.Time).Hours() / 24
		if days < 1 {
			days = 1
		}
		stats.AveragePerDay = float64(stats.Total) / days
	}
	return stats, nil
}

// MetricsSummary aggregates the daily counters over all time, one row per
// channel.
func (s *Store) MetricsSummary(ctx context.Context, siteID uuid.UUID) ([]*ChannelSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel, COALESCE(SUM(total_sent), 0), COALESCE(SUM(total_delivered), 0), COALESCE(SUM(total_failed), 0)
		FROM site_metrics_daily WHERE site_id = $1 GROUP BY channel ORDER BY channel`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics summary: %w", err)
	}
	defer rows.Close()

	var out []*ChannelSummary
	for rows.Next() {
		var cs ChannelSummary
		if err := rows.Scan(&cs.Channel, &cs.TotalSent, &cs.TotalDelivered, &cs.TotalFailed); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, &cs)
	}
	return out, rows.Err()
}

func (s *Store) DailyMetrics(ctx context.Context, siteID uuid.UUID, from, to time.Time) ([]*DailyMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, channel, metric_date, total_sent, total_delivered, total_failed
		FROM site_metrics_daily
		WHERE site_id = $1 AND metric_date >= $2 AND metric_date <= $3
		ORDER BY metric_date, channel`,
		siteID, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []*DailyMetric
	for rows.Next() {
		var m DailyMetric
		if err := rows.Scan(&m.SiteID, &m.Channel, &m.Date, &m.TotalSent, &m.TotalDelivered, &m.TotalFailed); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// PromoteDueScheduled transitions due SCHEDULED messages to PENDING in one
// transaction, with skip-locked selection so concurrent loop instances do not
// promote the same rows, and returns them for publishing.
func (s *Store) PromoteDueScheduled(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM message_logs
		WHERE status = 'SCHEDULED' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due scheduled: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_status_history (message_id, old_status, new_status, source, changed_at)
			VALUES ($1, $2, $3, $4, $5)`,
			m.MessageID, StatusScheduled, StatusPending, SourceScheduler, ts); err != nil {
			return nil, fmt.Errorf("failed to insert history: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE message_logs SET status = $2, updated_at = $3 WHERE message_id = $1`,
			m.MessageID, StatusPending, ts); err != nil {
			return nil, fmt.Errorf("failed to promote message: %w", err)
		}
		m.Status = StatusPending
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return msgs, nil
}

// RetryCandidates returns FAILED messages for the retry pass, skip-locked so
// concurrent loop instances partition the batch between them.
func (s *Store) RetryCandidates(ctx context.Context, limit int) ([]*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM message_logs
		WHERE status = 'FAILED'
		AND NOT EXISTS (
			SELECT 1 FROM message_status_history h
			WHERE h.message_id = message_logs.message_id AND h.note = 'DLQ routed'
		)
		ORDER BY updated_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select retry candidates: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return msgs, nil
}

// StalePending returns PENDING messages whose publish may have been lost
// (persisted by the gateway but never accepted by the bus).
func (s *Store) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM message_logs
		WHERE status = 'PENDING' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale pending: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// History returns the full transition log of one message, oldest first.
func (s *Store) History(ctx context.Context, messageID string) ([]*StatusTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, COALESCE(old_status, ''), new_status, source, note, changed_at
		FROM message_status_history WHERE message_id = $1 ORDER BY changed_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*StatusTransition
	for rows.Next() {
		var t StatusTransition
		if err := rows.Scan(&t.MessageID, &t.OldStatus, &t.NewStatus, &t.Source, &t.Note, &t.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessageFields(sc rowScanner) (*Message, error) {
	var msg Message
	var meta []byte
	err := sc.Scan(
		&msg.MessageID, &msg.SiteID, &msg.Channel, &msg.Status, &msg.Recipient, &msg.Subject, &msg.Body,
		&msg.FromEmail, &msg.FromName, &msg.IsHTML, &msg.ImageURL, &msg.VideoURL, &msg.DocumentURL,
		&msg.FileName, &msg.Caption, &msg.ErrorMessage, &msg.RetryCount, &msg.FailureType, &meta,
		&msg.ScheduledAt, &msg.SentAt, &msg.DeliveredAt, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &msg, nil
}

func scanMessage(row *sql.Row) (*Message, error) {
	msg, err := scanMessageFields(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return msg, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		msg, err := scanMessageFields(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
