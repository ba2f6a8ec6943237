package sites

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/souravs72/cg-notification-sub001/internal/db"
	"github.com/souravs72/cg-notification-sub001/internal/secrets"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	encryptor, err := secrets.NewEncryptor("a-test-secret-long-enough")
	require.NoError(t, err)

	store := NewStore(&db.PostgresDB{DB: mockDB}, zap.NewNop())
	return NewService(store, &db.RedisDB{Client: client}, encryptor, zap.NewNop()), mock
}

func TestRegisterReturnsRawKeyOnce(t *testing.T) {
	svc, mock := newTestService(t)
	mock.ExpectExec("INSERT INTO sites").WillReturnResult(sqlmock.NewResult(0, 1))

	wasenderKey := "wa-secret-key"
	site, rawKey, err := svc.Register(context.Background(), Registration{
		SiteName:       "acme",
		WASenderAPIKey: &wasenderKey,
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rawKey, "nsk_"))
	assert.NotContains(t, site.APIKeyHash, rawKey)
	assert.Len(t, site.APIKeyDigest, 64, "hex sha-256")

	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(site.APIKeyHash), []byte(rawKey)))

	require.NotNil(t, site.WASenderAPIKeyEnc)
	assert.NotEqual(t, wasenderKey, *site.WASenderAPIKeyEnc, "provider keys are stored encrypted")

	decrypted, err := svc.DecryptWASenderKey(site)
	require.NoError(t, err)
	assert.Equal(t, wasenderKey, decrypted)
}

func TestRegisterRequiresName(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Register(context.Background(), Registration{})
	assert.Error(t, err)
}

func siteRow(site *Site) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "site_name", "api_key_hash", "api_key_digest", "whatsapp_session_name",
		"wasender_api_key_enc", "sendgrid_api_key_enc", "sendgrid_from_email", "sendgrid_from_name",
		"is_active", "created_at", "updated_at",
	}).AddRow(site.ID.String(), site.SiteName, site.APIKeyHash, site.APIKeyDigest, nil,
		nil, nil, nil, nil, true, now, now)
}

func TestAuthenticateHappyPath(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectExec("INSERT INTO sites").WillReturnResult(sqlmock.NewResult(0, 1))
	site, rawKey, err := svc.Register(context.Background(), Registration{SiteName: "acme"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM sites WHERE api_key_digest").
		WillReturnRows(siteRow(site))

	got, err := svc.Authenticate(context.Background(), rawKey)
	require.NoError(t, err)
	assert.Equal(t, site.ID, got.ID)

	// Second call is served from the cache: only a GetByID hits Postgres.
	mock.ExpectQuery("SELECT (.+) FROM sites WHERE id").
		WillReturnRows(siteRow(site))

	got, err = svc.Authenticate(context.Background(), rawKey)
	require.NoError(t, err)
	assert.Equal(t, site.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateUnknownDigest(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM sites WHERE api_key_digest").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Authenticate(context.Background(), "nsk_unknown")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateWrongKeySameDigestRow(t *testing.T) {
	svc, mock := newTestService(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("some-other-key"), bcrypt.MinCost)
	require.NoError(t, err)
	stored := &Site{SiteName: "acme", APIKeyHash: string(hash)}

	mock.ExpectQuery("SELECT (.+) FROM sites WHERE api_key_digest").
		WillReturnRows(siteRow(stored))

	_, err = svc.Authenticate(context.Background(), "nsk_attacker-guess")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateEmptyKey(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
