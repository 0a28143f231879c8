package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/service"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
)

func retryPayload(t *testing.T) string {
	t.Helper()
	event := models.WebhookEvent{
		Event:     models.TaskUpdatedEvent,
		Data:      &models.Task{ID: "t1", ProjectID: "p1", Text: "Buy milk"},
		Timestamp: time.Now().UnixMilli(),
		Context:   models.EventContext{ProjectID: "p1", TaskID: "t1"},
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return string(raw)
}

func dueJob(t *testing.T, attemptNumber int) models.RetryJob {
	t.Helper()
	return models.RetryJob{
		IntegrationID: "hook-1",
		EventID:       "evt-1",
		CompanyID:     "c1",
		Payload:       retryPayload(t),
		AttemptNumber: attemptNumber,
		NextAttemptAt: time.Now().Add(-time.Second),
		CreatedAt:     time.Now().Add(-time.Minute),
	}
}

func newWorker(store *storage.MockStore) *service.RetryWorker {
	return service.NewRetryWorker(store, service.NewStoreAuditLogger(store, logger{}), logger{}, time.Second)
}

func TestRetryWorkerSuccessDropsJob(t *testing.T) {
	endpoint := newEndpoint(http.StatusOK)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true, ConsecutiveFailures: 2,
	}))
	require.NoError(t, store.EnqueueRetry(dueJob(t, 2)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	assert.Len(t, endpoint.Bodies(), 1)
	assert.Empty(t, store.PendingRetries())

	attempts := store.AllDeliveryAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.DeliverySuccess, attempts[0].Status)
	assert.Equal(t, 2, attempts[0].AttemptNumber)
	assert.Equal(t, "evt-1", attempts[0].EventID)

	integration, err := store.GetIntegration("hook-1")
	require.NoError(t, err)
	assert.Zero(t, integration.ConsecutiveFailures)
}

func TestRetryWorkerReschedulesWithBackoff(t *testing.T) {
	endpoint := newEndpoint(http.StatusServiceUnavailable)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true,
	}))
	require.NoError(t, store.EnqueueRetry(dueJob(t, 2)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	attempts := store.AllDeliveryAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.DeliveryFailed, attempts[0].Status)
	assert.Equal(t, 2, attempts[0].AttemptNumber)

	retries := store.PendingRetries()
	require.Len(t, retries, 1)
	assert.Equal(t, 3, retries[0].AttemptNumber)
	// Attempt 3 waits the second backoff step.
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), retries[0].NextAttemptAt, 10*time.Second)
}

func TestRetryWorkerExhaustionIsPermanent(t *testing.T) {
	endpoint := newEndpoint(http.StatusInternalServerError)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true,
	}))
	require.NoError(t, store.EnqueueRetry(dueJob(t, service.MaxDeliveryAttempts)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	// The final allowed attempt failed: no reschedule, failure counted.
	assert.Empty(t, store.PendingRetries())
	attempts := store.AllDeliveryAttempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, service.MaxDeliveryAttempts, attempts[0].AttemptNumber)

	integration, err := store.GetIntegration("hook-1")
	require.NoError(t, err)
	assert.Equal(t, 1, integration.ConsecutiveFailures)
}

func TestRetryWorkerPermanentRejectionStopsRetrying(t *testing.T) {
	endpoint := newEndpoint(http.StatusGone)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true,
	}))
	require.NoError(t, store.EnqueueRetry(dueJob(t, 2)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	// A 4xx on a retry is final even with attempts left.
	assert.Empty(t, store.PendingRetries())
	integration, err := store.GetIntegration("hook-1")
	require.NoError(t, err)
	assert.Equal(t, 1, integration.ConsecutiveFailures)
}

func TestRetryWorkerTripsBreakerOnFinalFailure(t *testing.T) {
	endpoint := newEndpoint(http.StatusBadRequest)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true,
		ConsecutiveFailures: service.DisableThreshold - 1,
	}))
	require.NoError(t, store.EnqueueRetry(dueJob(t, 2)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	integration, err := store.GetIntegration("hook-1")
	require.NoError(t, err)
	assert.False(t, integration.Enabled)

	audits := store.AuditEntries("c1")
	require.Len(t, audits, 1)
	assert.Equal(t, "integration.disabled", audits[0].Action)
}

func TestRetryWorkerDropsJobForDisabledIntegration(t *testing.T) {
	endpoint := newEndpoint(http.StatusOK)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: false,
	}))
	require.NoError(t, store.EnqueueRetry(dueJob(t, 2)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	// Disabled since the failure: nothing sent, queue cleared.
	assert.Empty(t, endpoint.Bodies())
	assert.Empty(t, store.PendingRetries())
	assert.Empty(t, store.AllDeliveryAttempts())
}

func TestRetryWorkerDropsJobForDeletedIntegration(t *testing.T) {
	store := storage.NewMockStore()
	require.NoError(t, store.EnqueueRetry(dueJob(t, 2)))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	assert.Empty(t, store.PendingRetries())
}

func TestRetryWorkerDropsMalformedPayload(t *testing.T) {
	endpoint := newEndpoint(http.StatusOK)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true,
	}))
	job := dueJob(t, 2)
	job.Payload = "{not json"
	require.NoError(t, store.EnqueueRetry(job))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	assert.Empty(t, endpoint.Bodies())
	assert.Empty(t, store.PendingRetries())
}

func TestRetryWorkerLeavesFutureJobsAlone(t *testing.T) {
	endpoint := newEndpoint(http.StatusOK)
	defer endpoint.Close()

	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "hook-1", CompanyID: "c1", Type: models.GenericIntegration,
		WebhookURL: endpoint.URL(), Enabled: true,
	}))
	job := dueJob(t, 2)
	job.NextAttemptAt = time.Now().Add(time.Hour)
	require.NoError(t, store.EnqueueRetry(job))

	require.NoError(t, newWorker(store).Sweep(context.Background()))

	assert.Empty(t, endpoint.Bodies())
	require.Len(t, store.PendingRetries(), 1)
}

func TestRetryWorkerRunStopsOnCancel(t *testing.T) {
	store := storage.NewMockStore()
	worker := service.NewRetryWorker(store, service.NewStoreAuditLogger(store, logger{}), logger{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
