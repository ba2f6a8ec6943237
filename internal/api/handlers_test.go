package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/souravs72/cg-notification-sub001/internal/bus"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
	"github.com/souravs72/cg-notification-sub001/internal/observability"
	"github.com/souravs72/cg-notification-sub001/internal/sites"
)

const testKey = "nsk_test-key"

type fakeMessageStore struct {
	created   []*messages.Message
	createErr error
	byID      map[string]*messages.Message
}

func (f *fakeMessageStore) Create(ctx context.Context, msg *messages.Message) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, msg)
	return nil
}

func (f *fakeMessageStore) GetByID(ctx context.Context, messageID string) (*messages.Message, error) {
	if m, ok := f.byID[messageID]; ok {
		return m, nil
	}
	return nil, messages.ErrNotFound
}

func (f *fakeMessageStore) History(ctx context.Context, messageID string) ([]*messages.StatusTransition, error) {
	return []*messages.StatusTransition{}, nil
}

func (f *fakeMessageStore) List(ctx context.Context, siteID uuid.UUID, filter messages.Filter) ([]*messages.Message, int64, error) {
	return nil, 0, nil
}

func (f *fakeMessageStore) Stats(ctx context.Context, siteID uuid.UUID) (*messages.SiteStats, error) {
	return &messages.SiteStats{}, nil
}

func (f *fakeMessageStore) MetricsSummary(ctx context.Context, siteID uuid.UUID) ([]*messages.ChannelSummary, error) {
	return nil, nil
}

func (f *fakeMessageStore) DailyMetrics(ctx context.Context, siteID uuid.UUID, from, to time.Time) ([]*messages.DailyMetric, error) {
	return nil, nil
}

func (f *fakeMessageStore) Health(ctx context.Context) error { return nil }

type fakeSiteService struct {
	site        *sites.Site
	registerErr error
}

func (f *fakeSiteService) Authenticate(ctx context.Context, rawKey string) (*sites.Site, error) {
	if rawKey == testKey {
		return f.site, nil
	}
	return nil, sites.ErrUnauthorized
}

func (f *fakeSiteService) Register(ctx context.Context, reg sites.Registration) (*sites.Site, string, error) {
	if f.registerErr != nil {
		return nil, "", f.registerErr
	}
	return &sites.Site{ID: uuid.New(), SiteName: reg.SiteName}, "nsk_fresh", nil
}

type fakeBusPublisher struct {
	published  []*bus.Payload
	publishErr error
}

func (f *fakeBusPublisher) Publish(ctx context.Context, p *bus.Payload) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, p)
	return nil
}

type openLimiter struct{ denied bool }

func (l *openLimiter) Allow(ctx context.Context, siteID uuid.UUID) (bool, time.Duration, error) {
	if l.denied {
		return false, time.Second, nil
	}
	return true, 0, nil
}

type testEnv struct {
	app     *fiber.App
	store   *fakeMessageStore
	pub     *fakeBusPublisher
	limiter *openLimiter
	site    *sites.Site
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	site := &sites.Site{ID: uuid.New(), SiteName: "acme", IsActive: true}
	env := &testEnv{
		store:   &fakeMessageStore{byID: map[string]*messages.Message{}},
		pub:     &fakeBusPublisher{},
		limiter: &openLimiter{},
		site:    site,
	}

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	handlers := NewHandlers(zap.NewNop(), env.store, &fakeSiteService{site: site}, env.pub, env.limiter, metrics)

	env.app = fiber.New()
	SetupRoutes(env.app, zap.NewNop(), metrics, handlers)
	return env
}

func doJSON(t *testing.T, app *fiber.App, method, path, key string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(siteKeyHeader, key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func emailBody() map[string]interface{} {
	return map[string]interface{}{
		"channel":   "EMAIL",
		"recipient": "user@example.com",
		"subject":   "hello",
		"body":      "world",
	}
}

func TestSendRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.app, "POST", "/v1/notifications/send", "", emailBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, env.app, "POST", "/v1/notifications/send", "nsk_wrong", emailBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendAcceptsAndPublishes(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.app, "POST", "/v1/notifications/send", testKey, emailBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.NotEmpty(t, got.MessageID)
	assert.Equal(t, messages.StatusPending, got.Status)

	require.Len(t, env.store.created, 1)
	assert.Equal(t, env.site.ID, env.store.created[0].SiteID)

	require.Len(t, env.pub.published, 1)
	assert.Equal(t, got.MessageID, env.pub.published[0].MessageID)
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t)

	body := emailBody()
	delete(body, "subject")
	resp := doJSON(t, env.app, "POST", "/v1/notifications/send", testKey, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.store.created)
}

func TestSendPublishFailureStillAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.pub.publishErr = errors.New("nats unavailable")

	resp := doJSON(t, env.app, "POST", "/v1/notifications/send", testKey, emailBody())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, env.store.created, 1, "the durable record outlives the lost publish")
}

func TestScheduleRequiresFutureTime(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.app, "POST", "/v1/notifications/schedule", testKey, emailBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := emailBody()
	body["scheduledAt"] = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp = doJSON(t, env.app, "POST", "/v1/notifications/schedule", testKey, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, messages.StatusScheduled, got.Status)
	assert.Empty(t, env.pub.published, "scheduled messages are published by the scheduler pass")
}

func TestSendPastScheduledAtDropsTimestamp(t *testing.T) {
	env := newTestEnv(t)

	body := emailBody()
	body["scheduledAt"] = time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	resp := doJSON(t, env.app, "POST", "/v1/notifications/send", testKey, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, messages.StatusPending, got.Status)

	require.Len(t, env.store.created, 1)
	assert.Nil(t, env.store.created[0].ScheduledAt, "only SCHEDULED rows carry scheduled_at")
	assert.Len(t, env.pub.published, 1)
}

func TestSendBulkPartialFailure(t *testing.T) {
	env := newTestEnv(t)

	bad := emailBody()
	delete(bad, "recipient")
	resp := doJSON(t, env.app, "POST", "/v1/notifications/send/bulk", testKey,
		[]map[string]interface{}{emailBody(), bad})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var results []BulkItemResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 2)
	assert.NotEmpty(t, results[0].MessageID)
	assert.Empty(t, results[0].Error)
	assert.Empty(t, results[1].MessageID)
	assert.NotEmpty(t, results[1].Error)
}

func TestSendBulkEmptyRejected(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.app, "POST", "/v1/notifications/send/bulk", testKey, []map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitReturns429(t *testing.T) {
	env := newTestEnv(t)
	env.limiter.denied = true

	resp := doJSON(t, env.app, "POST", "/v1/notifications/send", testKey, emailBody())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestGetMessageLogTenantIsolation(t *testing.T) {
	env := newTestEnv(t)

	mine := &messages.Message{MessageID: messages.NewMessageID(), SiteID: env.site.ID}
	theirs := &messages.Message{MessageID: messages.NewMessageID(), SiteID: uuid.New()}
	env.store.byID[mine.MessageID] = mine
	env.store.byID[theirs.MessageID] = theirs

	resp := doJSON(t, env.app, "GET", "/v1/messages/logs/"+mine.MessageID, testKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Another tenant's id looks exactly like an unknown one.
	resp = doJSON(t, env.app, "GET", "/v1/messages/logs/"+theirs.MessageID, testKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, env.app, "GET", "/v1/messages/logs/MSG-missing", testKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRegisterSite(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.app, "POST", "/sites/register", "", map[string]string{"siteName": "acme"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got RegisterSiteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "nsk_fresh", got.APIKey)

	resp = doJSON(t, env.app, "POST", "/sites/register", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := doJSON(t, env.app, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, env.app, "GET", "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
