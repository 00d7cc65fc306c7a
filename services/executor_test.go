package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/applyflow/models"
	"github.com/applyflow/applyflow/signature"
)

func TestExecutor_Deliver_Success(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var received struct {
		body    []byte
		headers http.Header
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.body, _ = io.ReadAll(r.Body)
		received.headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "application.created")
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	event := newTestEvent("tenant-a")
	require.NoError(t, env.executor.Deliver(ctx, sub, event))

	// The request was signed with the subscription secret.
	header := received.headers.Get("X-Webhook-Signature")
	require.NotEmpty(t, header)
	require.NoError(t, signature.Verify(sub.Secret, header, received.body, signature.DefaultTolerance, time.Now()))
	assert.NotEmpty(t, received.headers.Get("X-Webhook-ID"))
	assert.NotEmpty(t, received.headers.Get("X-Webhook-Timestamp"))
	assert.Equal(t, "application/json", received.headers.Get("Content-Type"))

	var envelope models.Envelope
	require.NoError(t, json.Unmarshal(received.body, &envelope))
	assert.Equal(t, "application.created", envelope.Type)
	assert.Equal(t, models.APIVersion, envelope.APIVersion)
	assert.NotEmpty(t, envelope.ID)

	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)
	delivery, err := env.deliveries.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)
	require.NotNil(t, delivery.ResponseCode)
	assert.Equal(t, http.StatusOK, *delivery.ResponseCode)

	got, err := env.subscriptions.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSuccessAt)
	assert.Equal(t, 0, got.FailureCount)
}

func TestExecutor_Deliver_CustomHeaders(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Team-Token")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	sub.Headers = models.HeaderMap{"X-Team-Token": "tok_123"}
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	require.NoError(t, env.executor.Deliver(ctx, sub, newTestEvent("tenant-a")))
	assert.Equal(t, "tok_123", gotHeader)
}

func TestExecutor_Deliver_ServerError_SchedulesRetry(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	frozen := time.Now()
	env.executor.now = func() time.Time { return frozen }

	event := newTestEvent("tenant-a")
	require.Error(t, env.executor.Deliver(ctx, sub, event))

	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)
	delivery, err := env.deliveries.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusRetrying, delivery.Status)
	assert.Equal(t, 1, delivery.Attempts)
	require.NotNil(t, delivery.ResponseCode)
	assert.Equal(t, http.StatusServiceUnavailable, *delivery.ResponseCode)
	assert.Contains(t, delivery.ErrorMessage, "503")

	// First failure backs off by the base delay.
	require.NotNil(t, delivery.NextRetryAt)
	assert.WithinDuration(t, frozen.Add(60*time.Second), *delivery.NextRetryAt, time.Second)

	got, err := env.subscriptions.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailureCount)
	assert.NotNil(t, got.LastFailureAt)
}

func TestExecutor_Deliver_ConnectionRefused(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	event := newTestEvent("tenant-a")
	require.Error(t, env.executor.Deliver(ctx, sub, event))

	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)
	delivery, err := env.deliveries.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusRetrying, delivery.Status)
	assert.Nil(t, delivery.ResponseCode)
	assert.NotEmpty(t, delivery.ErrorMessage)
}

func TestExecutor_Deliver_ExhaustsRetries(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	sub.MaxRetries = 1
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	event := newTestEvent("tenant-a")
	require.Error(t, env.executor.Deliver(ctx, sub, event))

	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)
	delivery, err := env.deliveries.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, delivery.Status)
	assert.Nil(t, delivery.NextRetryAt)
	assert.True(t, delivery.Terminal())
}

func TestExecutor_Deliver_Idempotent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	event := newTestEvent("tenant-a")
	require.NoError(t, env.executor.Deliver(ctx, sub, event))

	// Re-dispatching the same event is a no-op: no new row, no new request.
	require.NoError(t, env.executor.Deliver(ctx, sub, event))
	assert.Equal(t, int32(1), calls.Load())

	rows, err := env.deliveries.ListBySubscription(ctx, sub.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestExecutor_Deliver_ConcurrentDispatch(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	// Several dispatches of the same event race before any of them
	// reaches delivered; the unique idempotency key and the claim decide
	// a single winner.
	event := newTestEvent("tenant-a")
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.executor.Deliver(ctx, sub, event)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	rows, err := env.deliveries.ListBySubscription(ctx, sub.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.DeliveryStatusDelivered, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempts)
}

func TestExecutor_Deliver_SuspendsAfterConsecutiveFailures(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	sub.FailureCount = models.SuspensionThreshold - 1
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	require.Error(t, env.executor.Deliver(ctx, sub, newTestEvent("tenant-a")))

	got, err := env.subscriptions.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, got.Status)
	assert.False(t, got.Deliverable())
}

func TestExecutor_Deliver_TruncatesResponseBody(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, strings.Repeat("x", 5000))
	}))
	defer server.Close()

	sub := newTestSubscription("tenant-a", server.URL, "*")
	require.NoError(t, env.subscriptions.Create(ctx, sub))

	event := newTestEvent("tenant-a")
	require.Error(t, env.executor.Deliver(ctx, sub, event))

	key := models.IdempotencyKey(sub.ID, event.Type, event.Data)
	delivery, err := env.deliveries.GetByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Len(t, delivery.ResponseBody, 1024)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 60*time.Second, backoffDelay(1))
	assert.Equal(t, 120*time.Second, backoffDelay(2))
	assert.Equal(t, 240*time.Second, backoffDelay(3))
	assert.Equal(t, 480*time.Second, backoffDelay(4))
	assert.Equal(t, 3600*time.Second, backoffDelay(10))
	assert.Equal(t, 60*time.Second, backoffDelay(0))
}
