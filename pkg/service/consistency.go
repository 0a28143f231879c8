package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

// ConsistencyEngine maintains the derived is_blocked flag over the
// task-dependency graph. It consumes the task change feed and recomputes
// blocked state for the written task and, on completion flips, for its
// direct dependents.
//
// Propagation depth is exactly one hop per event: recomputing a dependent's
// is_blocked never flips that dependent's completed flag, so it does not by
// itself cascade further. Transitive effects happen only when a downstream
// task's own completion later changes.
//
// Every handler run re-reads current dependency state instead of trusting
// the event payload, so re-delivery and concurrent triggers converge on the
// correct stored value.
type ConsistencyEngine struct {
	store  storage.Store
	logger Logger
}

func NewConsistencyEngine(store storage.Store, logger Logger) *ConsistencyEngine {
	return &ConsistencyEngine{store: store, logger: logger}
}

// Register subscribes the engine to the task change feed.
func (e *ConsistencyEngine) Register(sub stream.Subscriber) {
	sub.Subscribe(TaskPattern, e.HandleTaskWrite)
}

// HandleTaskWrite processes one task mutation.
func (e *ConsistencyEngine) HandleTaskWrite(ctx context.Context, before, after *models.Task, params stream.Params) error {
	projectID := params["projectId"]
	taskID := params["taskId"]

	switch {
	case before == nil && after == nil:
		return nil
	case before == nil:
		// Creation: is_blocked is derived from depends_on as it stands now.
		if err := e.RecomputeBlocked(projectID, taskID); err != nil {
			return err
		}
		// A task born completed can satisfy dependents that until now
		// treated it as a missing prerequisite.
		if after.Completed {
			return e.propagateToDependents(projectID, taskID)
		}
		return nil
	case after == nil:
		// Deletion makes the task a missing prerequisite for its
		// dependents, which must re-derive their blocked state.
		return e.propagateToDependents(projectID, taskID)
	}

	// Two independent conditions; both may hold for one event.
	if !models.DependsOnEqual(before.DependsOn, after.DependsOn) {
		if err := e.RecomputeBlocked(projectID, taskID); err != nil {
			return err
		}
	}
	if before.Completed != after.Completed {
		// Symmetric on purpose: un-completing a prerequisite can re-block
		// dependents just as completing it can unblock them.
		if err := e.propagateToDependents(projectID, taskID); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeBlocked re-derives is_blocked for one task from the store's
// current state and writes it back only when the value changed.
func (e *ConsistencyEngine) RecomputeBlocked(projectID, taskID string) error {
	task, err := e.store.GetTask(projectID, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warnf("Skipping blocked recompute: task %s/%s no longer exists", projectID, taskID)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "recompute blocked for task %s/%s", projectID, taskID)
	}

	blocked, err := e.computeBlocked(projectID, taskID, task.DependsOn)
	if err != nil {
		return err
	}
	if blocked == task.IsBlocked {
		// Idempotence guard: a no-op write would only re-trigger handlers.
		return nil
	}
	if err := e.store.UpdateTaskBlocked(projectID, taskID, blocked); err != nil {
		return errors.Wrapf(err, "update blocked for task %s/%s", projectID, taskID)
	}
	e.logger.Infof("Task %s/%s is_blocked -> %t", projectID, taskID, blocked)
	return nil
}

// computeBlocked evaluates the blocking invariant: blocked iff the
// dependency set is non-empty and any referenced task is absent or not
// completed. Cycles are never resolved or rejected; only direct
// dependencies are inspected.
func (e *ConsistencyEngine) computeBlocked(projectID, taskID string, dependsOn []string) (bool, error) {
	deps := sanitizeDeps(dependsOn)
	if len(deps) != len(dependsOn) {
		e.logger.Warnf("Task %s/%s has malformed depends_on entries; treating them as absent", projectID, taskID)
	}
	if len(deps) == 0 {
		return false, nil
	}

	found, err := e.store.MultiGetTasks(projectID, deps)
	if err != nil {
		return false, errors.Wrapf(err, "read dependencies of task %s/%s", projectID, taskID)
	}
	for _, depID := range deps {
		dep, ok := found[depID]
		if !ok || !dep.Completed {
			return true, nil
		}
	}
	return false, nil
}

// propagateToDependents re-derives is_blocked for every task in the project
// that lists taskID as a prerequisite, applying the changed values in atomic
// batches. A batch failure abandons the whole propagation; the platform's
// at-least-once re-delivery of the original event retries it from scratch.
func (e *ConsistencyEngine) propagateToDependents(projectID, taskID string) error {
	dependents, err := e.store.ListDependents(projectID, taskID)
	if err != nil {
		return errors.Wrapf(err, "list dependents of task %s/%s", projectID, taskID)
	}
	if len(dependents) == 0 {
		return nil
	}

	var updates []storage.BlockedUpdate
	for _, dep := range dependents {
		blocked, err := e.computeBlocked(projectID, dep.ID, dep.DependsOn)
		if err != nil {
			return err
		}
		if blocked != dep.IsBlocked {
			updates = append(updates, storage.BlockedUpdate{TaskID: dep.ID, IsBlocked: blocked})
		}
	}
	if len(updates) == 0 {
		return nil
	}

	for start := 0; start < len(updates); start += storage.MaxBatchWrites {
		end := start + storage.MaxBatchWrites
		if end > len(updates) {
			end = len(updates)
		}
		if err := e.store.BatchUpdateBlocked(projectID, updates[start:end]); err != nil {
			return errors.Wrapf(err, "propagate blocked updates from task %s/%s", projectID, taskID)
		}
	}
	e.logger.Infof("Propagated completion change of task %s/%s to %d dependent(s)", projectID, taskID, len(updates))
	return nil
}

// sanitizeDeps drops empty IDs from a dependency set.
func sanitizeDeps(dependsOn []string) []string {
	deps := make([]string, 0, len(dependsOn))
	for _, id := range dependsOn {
		if id != "" {
			deps = append(deps, id)
		}
	}
	return deps
}
