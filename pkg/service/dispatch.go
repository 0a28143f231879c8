package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

const (
	// DeliveryTimeout bounds every outbound POST; a hang becomes a
	// retryable failure.
	DeliveryTimeout = 10 * time.Second

	// DisableThreshold is the number of consecutive permanent delivery
	// failures after which an integration is auto-disabled.
	DisableThreshold = 3

	maxResponseBody = 4 << 10
)

// Dispatcher fans task-change events out to a company's enabled webhook
// integrations, recording a delivery attempt per try and enqueueing failed
// tries for backoff retry.
type Dispatcher struct {
	store  storage.Store
	client *http.Client
	audit  AuditLogger
	logger Logger
	now    func() time.Time
	newID  func() string
}

func NewDispatcher(store storage.Store, audit AuditLogger, logger Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: DeliveryTimeout},
		audit:  audit,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Register subscribes the dispatcher to the task change feed.
func (d *Dispatcher) Register(sub stream.Subscriber) {
	sub.Subscribe(TaskPattern, d.HandleTaskWrite)
}

// HandleTaskWrite builds the canonical event payload for one task mutation
// and delivers it to every enabled integration of the owning company,
// concurrently and independently. The event counts as handled once every
// integration has either succeeded or been logged as failed.
func (d *Dispatcher) HandleTaskWrite(ctx context.Context, before, after *models.Task, params stream.Params) error {
	projectID := params["projectId"]
	taskID := params["taskId"]

	project, err := d.store.GetProject(projectID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && project.CompanyID == "") {
		// Data-integrity condition, not a delivery failure: nothing to
		// retry, nobody to surface it to.
		d.logger.Warnf("Skipping dispatch for task %s: project %s has no resolvable company", taskID, projectID)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "resolve project %s", projectID)
	}

	integrations, err := d.store.ListEnabledIntegrations(project.CompanyID)
	if err != nil {
		return errors.Wrapf(err, "list integrations for company %s", project.CompanyID)
	}
	if len(integrations) == 0 {
		return nil
	}

	snapshot := after
	if snapshot == nil {
		snapshot = before
	}
	event := models.WebhookEvent{
		ID:        d.newID(),
		Event:     models.ClassifyEvent(before, after),
		Data:      snapshot,
		Timestamp: d.now().UnixMilli(),
		Context:   models.EventContext{ProjectID: projectID, TaskID: taskID},
	}
	payload, err := event.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal webhook payload")
	}

	// Fan out. Each integration is tried in isolation: one failing POST
	// must not affect, delay or fail delivery to the others.
	var wg sync.WaitGroup
	for _, integration := range integrations {
		wg.Add(1)
		go func(integration models.Integration) {
			defer wg.Done()
			d.deliver(ctx, integration, event, payload)
		}(integration)
	}
	wg.Wait()
	return nil
}

// deliver runs the first delivery attempt for one integration. Failures are
// logged as delivery attempts and, when retryable, enqueued for backoff
// retry; they never propagate to the caller.
func (d *Dispatcher) deliver(ctx context.Context, integration models.Integration, event models.WebhookEvent, payload []byte) {
	body, ok := AdaptPayload(integration, event, payload)
	if !ok {
		return
	}

	outcome := d.post(ctx, integration.WebhookURL, body)
	d.recordAttempt(integration, event.ID, 1, body, payload, outcome)

	switch outcome.Kind {
	case OutcomeSuccess:
		if err := d.store.ResetIntegrationFailures(integration.ID); err != nil {
			d.logger.Errorf("Failed to reset failure count for integration %s: %v", integration.ID, err)
		}
	case OutcomeRetryable:
		job := models.RetryJob{
			IntegrationID: integration.ID,
			EventID:       event.ID,
			CompanyID:     integration.CompanyID,
			Payload:       string(payload),
			AttemptNumber: 2,
			NextAttemptAt: d.now().Add(backoffFor(2)),
			CreatedAt:     d.now(),
		}
		if err := d.store.EnqueueRetry(job); err != nil {
			d.logger.Errorf("Failed to enqueue retry for integration %s event %s: %v", integration.ID, event.ID, err)
		}
	case OutcomePermanent:
		recordPermanentFailure(d.store, d.audit, d.logger, integration)
	}
}

// post sends the adapted body to the integration endpoint and classifies
// the result.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return classifyResponse(resp.StatusCode, string(respBody))
}

func (d *Dispatcher) recordAttempt(integration models.Integration, eventID string, attemptNumber int, body, payload []byte, outcome Outcome) {
	status := models.DeliveryFailed
	if outcome.Success() {
		status = models.DeliverySuccess
	}
	attempt := models.DeliveryAttempt{
		ID:              d.newID(),
		IntegrationID:   integration.ID,
		CompanyID:       integration.CompanyID,
		EventID:         eventID,
		Timestamp:       d.now(),
		Status:          status,
		AttemptNumber:   attemptNumber,
		RequestBody:     string(body),
		ResponseOrError: outcome.Detail,
		OriginalPayload: string(payload),
	}
	if err := d.store.SaveDeliveryAttempt(attempt); err != nil {
		d.logger.Errorf("Failed to record delivery attempt for integration %s: %v", integration.ID, err)
	}
}

// AdaptPayload shapes the canonical payload for the integration type. The
// second return is false when nothing should be sent: Jira is an explicit
// no-op placeholder, and an integration without a webhook URL is skipped
// silently.
func AdaptPayload(integration models.Integration, event models.WebhookEvent, payload []byte) ([]byte, bool) {
	if integration.Type == models.JiraIntegration {
		return nil, false
	}
	if integration.WebhookURL == "" {
		return nil, false
	}
	if integration.Type == models.SlackIntegration {
		text := string(event.Event) + "\nTask: "
		if event.Data != nil {
			text += event.Data.Text
		}
		body, err := json.Marshal(map[string]string{"text": text})
		if err != nil {
			return nil, false
		}
		return body, true
	}
	return payload, true
}

// recordPermanentFailure counts a permanent delivery failure against the
// integration and auto-disables it once the threshold is reached, surfacing
// the disable through the audit log.
func recordPermanentFailure(store storage.Store, audit AuditLogger, logger Logger, integration models.Integration) {
	failures, err := store.IncrementIntegrationFailures(integration.ID)
	if err != nil {
		logger.Errorf("Failed to count permanent failure for integration %s: %v", integration.ID, err)
		return
	}
	if failures < DisableThreshold {
		return
	}
	if err := store.SetIntegrationEnabled(integration.ID, false); err != nil {
		logger.Errorf("Failed to disable integration %s: %v", integration.ID, err)
		return
	}
	logger.Warnf("Integration %s disabled after %d consecutive permanent delivery failures", integration.ID, failures)
	audit.Append(integration.CompanyID, models.AuditEntry{
		ActorID:    "system",
		Action:     "integration.disabled",
		TargetType: "integration",
		TargetID:   integration.ID,
		Context:    map[string]string{"reason": "consecutive delivery failures"},
	})
}
