package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
)

// MaxDeliveryAttempts caps the total tries per (integration, event),
// including the initial dispatch.
const MaxDeliveryAttempts = 3

// backoffSchedule[n] is the delay before attempt n+2.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
}

// backoffFor returns the delay to wait before running the given attempt
// number.
func backoffFor(attempt int) time.Duration {
	idx := attempt - 2
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

// RetryWorker drains the durable delivery-retry queue: due jobs are
// re-POSTed, every try appends its own delivery attempt, and exhausted or
// permanently failed jobs count toward the integration's auto-disable
// threshold.
type RetryWorker struct {
	store    storage.Store
	client   *http.Client
	audit    AuditLogger
	logger   Logger
	interval time.Duration
	batch    int
	now      func() time.Time
	newID    func() string
}

func NewRetryWorker(store storage.Store, audit AuditLogger, logger Logger, interval time.Duration) *RetryWorker {
	return &RetryWorker{
		store:    store,
		client:   &http.Client{Timeout: DeliveryTimeout},
		audit:    audit,
		logger:   logger,
		interval: interval,
		batch:    50,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Run polls the retry queue until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Infof("Retry worker polling every %s", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Retry worker stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Errorf("Retry sweep failed: %v", err)
			}
		}
	}
}

// Sweep runs every due retry job once.
func (w *RetryWorker) Sweep(ctx context.Context) error {
	jobs, err := w.store.DueRetries(w.now(), w.batch)
	if err != nil {
		return errors.Wrap(err, "list due retries")
	}
	for _, job := range jobs {
		w.attempt(ctx, job)
	}
	return nil
}

// attempt runs one queued retry. The job is rescheduled with backoff while
// tries remain, and dropped once it succeeds, exhausts its attempts or
// fails permanently.
func (w *RetryWorker) attempt(ctx context.Context, job models.RetryJob) {
	integration, err := w.store.GetIntegration(job.IntegrationID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !integration.Enabled) {
		// Deleted or disabled since the failure; nothing left to deliver to.
		w.dropJob(job)
		return
	}
	if err != nil {
		w.logger.Errorf("Failed to load integration %s for retry: %v", job.IntegrationID, err)
		return
	}

	var event models.WebhookEvent
	if err := json.Unmarshal([]byte(job.Payload), &event); err != nil {
		w.logger.Errorf("Dropping retry for integration %s event %s: malformed payload: %v", job.IntegrationID, job.EventID, err)
		w.dropJob(job)
		return
	}
	event.ID = job.EventID

	body, ok := AdaptPayload(integration, event, []byte(job.Payload))
	if !ok {
		w.dropJob(job)
		return
	}

	outcome := w.post(ctx, integration.WebhookURL, body)
	w.recordAttempt(integration, job, body, outcome)

	switch {
	case outcome.Success():
		w.dropJob(job)
		if err := w.store.ResetIntegrationFailures(integration.ID); err != nil {
			w.logger.Errorf("Failed to reset failure count for integration %s: %v", integration.ID, err)
		}
	case outcome.Kind == OutcomeRetryable && job.AttemptNumber < MaxDeliveryAttempts:
		next := job
		next.AttemptNumber = job.AttemptNumber + 1
		next.NextAttemptAt = w.now().Add(backoffFor(next.AttemptNumber))
		if err := w.store.EnqueueRetry(next); err != nil {
			w.logger.Errorf("Failed to reschedule retry for integration %s event %s: %v", job.IntegrationID, job.EventID, err)
		}
	default:
		// Retries exhausted, or the endpoint answered with a permanent
		// rejection.
		w.logger.Warnf("Delivery to integration %s permanently failed for event %s after attempt %d", integration.ID, job.EventID, job.AttemptNumber)
		w.dropJob(job)
		recordPermanentFailure(w.store, w.audit, w.logger, integration)
	}
}

func (w *RetryWorker) dropJob(job models.RetryJob) {
	if err := w.store.DeleteRetry(job.IntegrationID, job.EventID); err != nil {
		w.logger.Errorf("Failed to delete retry for integration %s event %s: %v", job.IntegrationID, job.EventID, err)
	}
}

func (w *RetryWorker) post(ctx context.Context, url string, body []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return classifyResponse(resp.StatusCode, string(respBody))
}

func (w *RetryWorker) recordAttempt(integration models.Integration, job models.RetryJob, body []byte, outcome Outcome) {
	status := models.DeliveryFailed
	if outcome.Success() {
		status = models.DeliverySuccess
	}
	attempt := models.DeliveryAttempt{
		ID:              w.newID(),
		IntegrationID:   integration.ID,
		CompanyID:       integration.CompanyID,
		EventID:         job.EventID,
		Timestamp:       w.now(),
		Status:          status,
		AttemptNumber:   job.AttemptNumber,
		RequestBody:     string(body),
		ResponseOrError: outcome.Detail,
		OriginalPayload: job.Payload,
	}
	if err := w.store.SaveDeliveryAttempt(attempt); err != nil {
		w.logger.Errorf("Failed to record delivery attempt for integration %s: %v", integration.ID, err)
	}
}
