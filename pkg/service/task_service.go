package service

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

// TaskService is the write-side surface for tasks. Every mutation goes
// through the store and is then published on the change feed, which is what
// drives the consistency engine and the webhook dispatcher.
type TaskService struct {
	store  storage.Store
	pub    Publisher
	audit  AuditLogger
	logger Logger
	now    func() time.Time
}

func NewTaskService(store storage.Store, pub Publisher, audit AuditLogger, logger Logger) *TaskService {
	return &TaskService{
		store:  store,
		pub:    pub,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

func (ts *TaskService) CreateTask(ctx context.Context, t models.Task) error {
	if t.ID == "" || t.ProjectID == "" {
		return errors.New("task id and project id are required")
	}
	t.CreatedAt = ts.now()
	t.UpdatedAt = t.CreatedAt
	if err := ts.store.SaveTask(t); err != nil {
		return errors.Wrapf(err, "create task %s", t.ID)
	}
	ts.publish(ctx, t.ProjectID, t.ID, nil, &t)
	return nil
}

func (ts *TaskService) UpdateTask(ctx context.Context, t models.Task) error {
	before, err := ts.store.GetTask(t.ProjectID, t.ID)
	if err != nil {
		return errors.Wrapf(err, "update task %s", t.ID)
	}
	t.CreatedAt = before.CreatedAt
	t.UpdatedAt = ts.now()
	if err := ts.store.SaveTask(t); err != nil {
		return errors.Wrapf(err, "update task %s", t.ID)
	}
	ts.publish(ctx, t.ProjectID, t.ID, &before, &t)
	return nil
}

// SetCompleted flips a task's completion flag in either direction.
func (ts *TaskService) SetCompleted(ctx context.Context, projectID, taskID, actorID string, completed bool) error {
	before, err := ts.store.GetTask(projectID, taskID)
	if err != nil {
		return errors.Wrapf(err, "complete task %s", taskID)
	}
	after := before
	after.Completed = completed
	after.UpdatedAt = ts.now()
	if completed {
		at := ts.now()
		after.CompletedAt = &at
		after.CompletedBy = actorID
	} else {
		after.CompletedAt = nil
		after.CompletedBy = ""
	}
	if err := ts.store.SaveTask(after); err != nil {
		return errors.Wrapf(err, "complete task %s", taskID)
	}
	ts.publish(ctx, projectID, taskID, &before, &after)
	return nil
}

// SoftDeleteTask marks a task deleted without removing the document; the
// audit recorder picks the transition up from the change feed.
func (ts *TaskService) SoftDeleteTask(ctx context.Context, projectID, taskID, actorID string) error {
	before, err := ts.store.GetTask(projectID, taskID)
	if err != nil {
		return errors.Wrapf(err, "soft-delete task %s", taskID)
	}
	if before.DeletedAt != nil {
		return nil
	}
	after := before
	at := ts.now()
	after.DeletedAt = &at
	after.DeletedBy = actorID
	after.UpdatedAt = at
	if err := ts.store.SaveTask(after); err != nil {
		return errors.Wrapf(err, "soft-delete task %s", taskID)
	}
	ts.publish(ctx, projectID, taskID, &before, &after)
	return nil
}

// DeleteTask removes the task document entirely.
func (ts *TaskService) DeleteTask(ctx context.Context, projectID, taskID string) error {
	before, err := ts.store.GetTask(projectID, taskID)
	if err != nil {
		return errors.Wrapf(err, "delete task %s", taskID)
	}
	if err := ts.store.DeleteTask(projectID, taskID); err != nil {
		return errors.Wrapf(err, "delete task %s", taskID)
	}
	ts.publish(ctx, projectID, taskID, &before, nil)
	return nil
}

// BulkCloseTasks completes a set of tasks in atomic batches, chunked at the
// store's batch limit, and publishes one change per task so blocked-state
// propagation and webhook dispatch fire as usual.
func (ts *TaskService) BulkCloseTasks(ctx context.Context, projectID string, taskIDs []string, actorID string) (int, error) {
	if projectID == "" || len(taskIDs) == 0 {
		return 0, errors.New("valid project id and a non-empty task id list are required")
	}

	befores, err := ts.store.MultiGetTasks(projectID, taskIDs)
	if err != nil {
		return 0, errors.Wrapf(err, "bulk close in project %s", projectID)
	}
	for _, id := range taskIDs {
		if _, ok := befores[id]; !ok {
			return 0, errors.Wrapf(storage.ErrNotFound, "task %s", id)
		}
	}

	at := ts.now()
	for start := 0; start < len(taskIDs); start += storage.MaxBatchWrites {
		end := start + storage.MaxBatchWrites
		if end > len(taskIDs) {
			end = len(taskIDs)
		}
		if err := ts.store.CompleteTasks(projectID, taskIDs[start:end], actorID, at); err != nil {
			return 0, errors.Wrapf(err, "bulk close in project %s", projectID)
		}
	}

	for _, id := range taskIDs {
		before := befores[id]
		after := before
		after.Completed = true
		after.CompletedAt = &at
		after.CompletedBy = actorID
		after.UpdatedAt = at
		ts.publish(ctx, projectID, id, &before, &after)
	}

	if project, err := ts.store.GetProject(projectID); err == nil {
		ts.audit.Append(project.CompanyID, models.AuditEntry{
			ActorID:    actorID,
			Action:     "task.bulk_close",
			TargetType: "project",
			TargetID:   projectID,
			Context: map[string]string{
				"count": strconv.Itoa(len(taskIDs)),
			},
		})
	} else {
		ts.logger.Warnf("Skipping bulk-close audit: project %s lookup failed: %v", projectID, err)
	}

	ts.logger.Infof("Bulk-closed %d task(s) in project %s", len(taskIDs), projectID)
	return len(taskIDs), nil
}

func (ts *TaskService) publish(ctx context.Context, projectID, taskID string, before, after *models.Task) {
	ts.pub.Publish(ctx, stream.Change{
		Path:   stream.TaskPath(projectID, taskID),
		Before: before,
		After:  after,
	})
}
