package messages

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/db"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	store := NewStore(&db.PostgresDB{DB: mockDB}, zap.NewNop())
	return store, mock
}

func pendingEmail() *Message {
	subject := "hello"
	body := "world"
	return &Message{
		MessageID: NewMessageID(),
		SiteID:    uuid.New(),
		Channel:   ChannelEmail,
		Status:    StatusPending,
		Recipient: "user@example.com",
		Subject:   &subject,
		Body:      &body,
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()

	cases := map[string]func(*Message){
		"missing message id": func(m *Message) { m.MessageID = "" },
		"missing site":       func(m *Message) { m.SiteID = uuid.Nil },
		"missing recipient":  func(m *Message) { m.Recipient = "" },
		"unknown channel":    func(m *Message) { m.Channel = "SMS" },
		"terminal status":    func(m *Message) { m.Status = StatusDelivered },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			msg := pendingEmail()
			mutate(msg)
			assert.ErrorIs(t, store.Create(ctx, msg), ErrInvalidInput)
		})
	}
}

func TestCreateInsertsMessageAndHistory(t *testing.T) {
	store, mock := newMockStore(t)
	msg := pendingEmail()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO message_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO message_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), msg))
	assert.False(t, msg.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateMessageID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO message_logs").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := store.Create(context.Background(), pendingEmail())
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func lockRow(status Status) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"status", "channel", "site_id", "created_at"}).
		AddRow(string(status), string(ChannelEmail), uuid.New().String(), time.Now().UTC())
}

func TestUpdateStatusDeliveredWins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(lockRow(StatusDelivered))
	mock.ExpectRollback()

	applied, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID: "MSG-x",
		NewStatus: StatusFailed,
		Source:    SourceWorkerEmail,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusDeliveredRedeliverySkipped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(lockRow(StatusDelivered))
	mock.ExpectRollback()

	applied, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID: "MSG-x",
		NewStatus: StatusDelivered,
		Source:    SourceWorkerWhatsApp,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusRequireCurrentMismatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(lockRow(StatusPending))
	mock.ExpectRollback()

	failed := StatusFailed
	applied, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID:      "MSG-x",
		NewStatus:      StatusPending,
		Source:         SourceRetry,
		RequireCurrent: &failed,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUpdateStatusDeliveredBumpsCounters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(lockRow(StatusPending))
	mock.ExpectExec("INSERT INTO message_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE message_logs SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// total_sent bucketed by creation date, total_delivered by now
	mock.ExpectExec("INSERT INTO site_metrics_daily").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO site_metrics_daily").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID: "MSG-x",
		NewStatus: StatusDelivered,
		Source:    SourceWorkerEmail,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusSkipCounters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(lockRow(StatusPending))
	mock.ExpectExec("INSERT INTO message_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE message_logs SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	pending := StatusPending
	applied, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID:      "MSG-x",
		NewStatus:      StatusFailed,
		Source:         SourceRetry,
		SkipCounters:   true,
		RequireCurrent: &pending,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusFailedFromFailedSkipsFailedCounter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(lockRow(StatusFailed))
	mock.ExpectExec("INSERT INTO message_status_history").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE message_logs SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID: "MSG-x",
		NewStatus: StatusFailed,
		Source:    SourceRetry,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, channel, site_id, created_at FROM message_logs").
		WillReturnRows(sqlmock.NewRows([]string{"status", "channel", "site_id", "created_at"}))
	mock.ExpectRollback()

	_, err := store.UpdateStatus(context.Background(), UpdateStatusParams{
		MessageID: "MSG-missing",
		NewStatus: StatusDelivered,
		Source:    SourceWorkerEmail,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementRetryCountMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE message_logs SET retry_count").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.IncrementRetryCount(context.Background(), "MSG-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
