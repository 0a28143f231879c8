package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// MaxBatchWrites is the store's per-batch write limit. Fan-out writes larger
// than this must be chunked into sequential batches.
const MaxBatchWrites = 500

// BlockedUpdate is one element of a batched is_blocked write.
type BlockedUpdate struct {
	TaskID    string
	IsBlocked bool
}

// Store defines the storage operations for the TaskZen reactive core.
// Begin returns a transactional Store; all writes inside it commit or roll
// back together.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Project operations
	SaveProject(p models.Project) error
	GetProject(id string) (models.Project, error)

	// Task operations
	SaveTask(t models.Task) error
	GetTask(projectID, taskID string) (models.Task, error)
	// MultiGetTasks is a batched point-read; absent IDs are simply missing
	// from the result map.
	MultiGetTasks(projectID string, taskIDs []string) (map[string]models.Task, error)
	UpdateTaskBlocked(projectID, taskID string, blocked bool) error
	DeleteTask(projectID, taskID string) error
	// BatchUpdateBlocked applies all updates atomically. Callers chunk at
	// MaxBatchWrites.
	BatchUpdateBlocked(projectID string, updates []BlockedUpdate) error
	// ListDependents returns tasks in the project whose depends_on contains
	// the given task ID (reverse-edge query).
	ListDependents(projectID, taskID string) ([]models.Task, error)
	// CompleteTasks marks the given tasks completed in one atomic batch,
	// stamping completed_at and completed_by.
	CompleteTasks(projectID string, taskIDs []string, actorID string, at time.Time) error

	// Integration operations
	SaveIntegration(i models.Integration) error
	GetIntegration(id string) (models.Integration, error)
	ListEnabledIntegrations(companyID string) ([]models.Integration, error)
	SetIntegrationEnabled(id string, enabled bool) error
	// IncrementIntegrationFailures bumps the consecutive permanent-failure
	// counter and returns the new value.
	IncrementIntegrationFailures(id string) (int, error)
	ResetIntegrationFailures(id string) error

	// Delivery log operations (append-only)
	SaveDeliveryAttempt(a models.DeliveryAttempt) error
	ListDeliveryAttempts(integrationID string, limit int) ([]models.DeliveryAttempt, error)

	// Retry queue operations
	// EnqueueRetry upserts on (integration_id, event_id).
	EnqueueRetry(j models.RetryJob) error
	DueRetries(now time.Time, limit int) ([]models.RetryJob, error)
	DeleteRetry(integrationID, eventID string) error

	// Audit log sink (collaborator surface, append-only)
	SaveAuditEntry(companyID string, e models.AuditEntry) error
}
