package service

import (
	"context"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

// AuditLogger is the audit-log collaborator. Appends are fire-and-forget:
// the core's correctness never depends on them, so failures are logged and
// dropped.
type AuditLogger interface {
	Append(companyID string, e models.AuditEntry)
}

type storeAuditLogger struct {
	store  storage.Store
	logger Logger
}

// NewStoreAuditLogger returns an AuditLogger that appends entries to the
// company's audit log in the store.
func NewStoreAuditLogger(store storage.Store, logger Logger) AuditLogger {
	return &storeAuditLogger{store: store, logger: logger}
}

func (l *storeAuditLogger) Append(companyID string, e models.AuditEntry) {
	if err := l.store.SaveAuditEntry(companyID, e); err != nil {
		l.logger.Errorf("Failed to append audit entry %s for company %s: %v", e.Action, companyID, err)
	}
}

// AuditRecorder observes task writes and records soft deletes in the
// company's audit log.
type AuditRecorder struct {
	store  storage.Store
	audit  AuditLogger
	logger Logger
}

func NewAuditRecorder(store storage.Store, audit AuditLogger, logger Logger) *AuditRecorder {
	return &AuditRecorder{store: store, audit: audit, logger: logger}
}

// Register subscribes the recorder to the task change feed.
func (r *AuditRecorder) Register(sub stream.Subscriber) {
	sub.Subscribe(TaskPattern, r.HandleTaskWrite)
}

// HandleTaskWrite logs a soft delete when deleted_at transitions from unset
// to set.
func (r *AuditRecorder) HandleTaskWrite(ctx context.Context, before, after *models.Task, params stream.Params) error {
	if before == nil || after == nil {
		return nil
	}
	if before.DeletedAt != nil || after.DeletedAt == nil {
		return nil
	}

	project, err := r.store.GetProject(after.ProjectID)
	if err != nil {
		r.logger.Warnf("Skipping soft-delete audit for task %s: project %s lookup failed: %v", after.ID, after.ProjectID, err)
		return nil
	}

	actor := after.DeletedBy
	if actor == "" {
		actor = "system"
	}
	r.audit.Append(project.CompanyID, models.AuditEntry{
		ActorID:    actor,
		Action:     "task.delete.soft",
		TargetType: "task",
		TargetID:   after.ID,
		Context:    map[string]string{"projectId": after.ProjectID},
	})
	return nil
}
