package models

import "time"

type IntegrationType string

const (
	SlackIntegration   IntegrationType = "slack"
	JiraIntegration    IntegrationType = "jira"
	GenericIntegration IntegrationType = "generic"
)

// Integration is an outbound webhook destination configured by a company admin.
type Integration struct {
	ID                  string          `json:"id" db:"id"`                                     // Unique identifier
	CompanyID           string          `json:"company_id" db:"company_id"`                     // Owning company
	Type                IntegrationType `json:"type" db:"type"`                                 // "slack", "jira" or "generic"
	WebhookURL          string          `json:"webhook_url" db:"webhook_url"`                   // Destination endpoint
	Enabled             bool            `json:"enabled" db:"enabled"`                           // Disabled integrations receive nothing
	ConsecutiveFailures int             `json:"consecutive_failures" db:"consecutive_failures"` // Permanent failures since last success; drives auto-disable
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`                     // Creation timestamp
}

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// DeliveryAttempt is one outbound POST try to one integration for one event.
// Rows are append-only and retained for audit; nothing in this core ever
// mutates or deletes them.
type DeliveryAttempt struct {
	ID              string         `json:"id" db:"id"`                             // UUID
	IntegrationID   string         `json:"integration_id" db:"integration_id"`     // Target integration
	CompanyID       string         `json:"company_id" db:"company_id"`             // Owning company
	EventID         string         `json:"event_id" db:"event_id"`                 // Triggering event
	Timestamp       time.Time      `json:"timestamp" db:"timestamp"`               // When the attempt ran
	Status          DeliveryStatus `json:"status" db:"status"`                     // "success" or "failed"
	AttemptNumber   int            `json:"attempt_number" db:"attempt_number"`     // 1 for the initial try, then 2, 3
	RequestBody     string         `json:"request_body" db:"request_body"`         // Adapted body actually sent
	ResponseOrError string         `json:"response_or_error" db:"response_or_error"` // Response status/body or error detail
	OriginalPayload string         `json:"original_payload" db:"original_payload"` // Canonical event payload, verbatim
}

// RetryJob is a durable retry-queue row for a failed delivery, keyed by
// (integration, event).
type RetryJob struct {
	IntegrationID string    `json:"integration_id" db:"integration_id"` // Target integration
	EventID       string    `json:"event_id" db:"event_id"`             // Triggering event
	CompanyID     string    `json:"company_id" db:"company_id"`         // Owning company
	Payload       string    `json:"payload" db:"payload"`               // Canonical event payload JSON
	AttemptNumber int       `json:"attempt_number" db:"attempt_number"` // Attempt the next run will be
	NextAttemptAt time.Time `json:"next_attempt_at" db:"next_attempt_at"` // Earliest time to run the next attempt
	CreatedAt     time.Time `json:"created_at" db:"created_at"`         // When the job was enqueued
}
