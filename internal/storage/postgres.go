package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// inTx runs fn atomically: inside the current transaction when the store is
// already transactional, otherwise in a fresh one.
func (s *PostgresStore) inTx(fn func(storage.Store) error) (err error) {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	txStore, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rollbackErr)
			}
			return
		}
		err = txStore.Commit()
	}()
	return fn(txStore)
}

// SaveProject creates or replaces a project
func (s *PostgresStore) SaveProject(p models.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, company_id, name, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET company_id = EXCLUDED.company_id, name = EXCLUDED.name`,
		p.ID, p.CompanyID, p.Name, p.CreatedAt)
	return err
}

// GetProject retrieves a project by ID
func (s *PostgresStore) GetProject(id string) (models.Project, error) {
	var p models.Project
	err := s.db.Get(&p, "SELECT * FROM projects WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Project{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Project{}, err
	}
	return p, nil
}

// SaveTask creates or replaces a task within a project
func (s *PostgresStore) SaveTask(t models.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, company_id, text, completed, completed_at, completed_by,
			depends_on, is_blocked, assigned_to, deleted_at, deleted_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (project_id, id) DO UPDATE SET
			text = EXCLUDED.text,
			completed = EXCLUDED.completed,
			completed_at = EXCLUDED.completed_at,
			completed_by = EXCLUDED.completed_by,
			depends_on = EXCLUDED.depends_on,
			is_blocked = EXCLUDED.is_blocked,
			assigned_to = EXCLUDED.assigned_to,
			deleted_at = EXCLUDED.deleted_at,
			deleted_by = EXCLUDED.deleted_by,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.ProjectID, t.CompanyID, t.Text, t.Completed, t.CompletedAt, t.CompletedBy,
		t.DependsOn, t.IsBlocked, t.AssignedTo, t.DeletedAt, t.DeletedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by project and task ID
func (s *PostgresStore) GetTask(projectID, taskID string) (models.Task, error) {
	var t models.Task
	err := s.db.Get(&t, "SELECT * FROM tasks WHERE project_id = $1 AND id = $2", projectID, taskID)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) DeleteTask(projectID, taskID string) error {
	res, err := s.db.Exec("DELETE FROM tasks WHERE project_id = $1 AND id = $2", projectID, taskID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MultiGetTasks is the batched point-read; absent IDs are missing from the
// result map.
func (s *PostgresStore) MultiGetTasks(projectID string, taskIDs []string) (map[string]models.Task, error) {
	var tasks []models.Task
	err := s.db.Select(&tasks, "SELECT * FROM tasks WHERE project_id = $1 AND id = ANY($2)",
		projectID, pq.Array(taskIDs))
	if err != nil {
		return nil, fmt.Errorf("multi-get tasks in project %s: %w", projectID, err)
	}
	out := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t
	}
	return out, nil
}

func (s *PostgresStore) UpdateTaskBlocked(projectID, taskID string, blocked bool) error {
	res, err := s.db.Exec("UPDATE tasks SET is_blocked = $1, updated_at = CURRENT_TIMESTAMP WHERE project_id = $2 AND id = $3",
		blocked, projectID, taskID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// BatchUpdateBlocked applies all updates in one transaction; any missing
// task aborts the whole batch.
func (s *PostgresStore) BatchUpdateBlocked(projectID string, updates []storage.BlockedUpdate) error {
	if len(updates) > storage.MaxBatchWrites {
		return fmt.Errorf("batch of %d exceeds limit %d", len(updates), storage.MaxBatchWrites)
	}
	return s.inTx(func(tx storage.Store) error {
		for _, u := range updates {
			if err := tx.UpdateTaskBlocked(projectID, u.TaskID, u.IsBlocked); err != nil {
				return fmt.Errorf("batch update task %s: %w", u.TaskID, err)
			}
		}
		return nil
	})
}

// CompleteTasks marks the tasks completed in one transaction.
func (s *PostgresStore) CompleteTasks(projectID string, taskIDs []string, actorID string, at time.Time) error {
	return s.inTx(func(tx storage.Store) error {
		txStore := tx.(*PostgresStore)
		res, err := txStore.db.Exec(`
			UPDATE tasks SET completed = TRUE, completed_at = $1, completed_by = $2, updated_at = $1
			WHERE project_id = $3 AND id = ANY($4)`,
			at, actorID, projectID, pq.Array(taskIDs))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if int(n) != len(taskIDs) {
			return fmt.Errorf("complete tasks: %d of %d tasks found: %w", n, len(taskIDs), storage.ErrNotFound)
		}
		return nil
	})
}

// ListDependents runs the reverse-edge query: tasks in the project whose
// depends_on contains the given task ID.
func (s *PostgresStore) ListDependents(projectID, taskID string) ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, "SELECT * FROM tasks WHERE project_id = $1 AND depends_on @> ARRAY[$2]::text[] ORDER BY id",
		projectID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependents of task %s: %w", taskID, err)
	}
	return tasks, nil
}

// SaveIntegration creates or replaces an integration
func (s *PostgresStore) SaveIntegration(i models.Integration) error {
	_, err := s.db.Exec(`
		INSERT INTO integrations (id, company_id, type, webhook_url, enabled, consecutive_failures, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			webhook_url = EXCLUDED.webhook_url,
			enabled = EXCLUDED.enabled,
			consecutive_failures = EXCLUDED.consecutive_failures`,
		i.ID, i.CompanyID, i.Type, i.WebhookURL, i.Enabled, i.ConsecutiveFailures, i.CreatedAt)
	return err
}

func (s *PostgresStore) GetIntegration(id string) (models.Integration, error) {
	var i models.Integration
	err := s.db.Get(&i, "SELECT * FROM integrations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Integration{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Integration{}, err
	}
	return i, nil
}

func (s *PostgresStore) ListEnabledIntegrations(companyID string) ([]models.Integration, error) {
	integrations := []models.Integration{}
	err := s.db.Select(&integrations,
		"SELECT * FROM integrations WHERE company_id = $1 AND enabled ORDER BY id", companyID)
	if err != nil {
		return nil, err
	}
	return integrations, nil
}

func (s *PostgresStore) SetIntegrationEnabled(id string, enabled bool) error {
	res, err := s.db.Exec("UPDATE integrations SET enabled = $1 WHERE id = $2", enabled, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementIntegrationFailures(id string) (int, error) {
	var failures int
	err := s.db.QueryRowx(
		"UPDATE integrations SET consecutive_failures = consecutive_failures + 1 WHERE id = $1 RETURNING consecutive_failures",
		id).Scan(&failures)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return failures, nil
}

func (s *PostgresStore) ResetIntegrationFailures(id string) error {
	_, err := s.db.Exec("UPDATE integrations SET consecutive_failures = 0 WHERE id = $1", id)
	return err
}

// SaveDeliveryAttempt appends one delivery-log row; rows are never updated
// or deleted here.
func (s *PostgresStore) SaveDeliveryAttempt(a models.DeliveryAttempt) error {
	_, err := s.db.Exec(`
		INSERT INTO delivery_attempts (id, integration_id, company_id, event_id, timestamp, status,
			attempt_number, request_body, response_or_error, original_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.IntegrationID, a.CompanyID, a.EventID, a.Timestamp, a.Status,
		a.AttemptNumber, a.RequestBody, a.ResponseOrError, a.OriginalPayload)
	if err != nil {
		return fmt.Errorf("save delivery attempt for integration %s: %w", a.IntegrationID, err)
	}
	return nil
}

func (s *PostgresStore) ListDeliveryAttempts(integrationID string, limit int) ([]models.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	attempts := []models.DeliveryAttempt{}
	err := s.db.Select(&attempts,
		`SELECT * FROM delivery_attempts WHERE integration_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		integrationID, limit)
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// EnqueueRetry upserts the retry row keyed by (integration_id, event_id).
func (s *PostgresStore) EnqueueRetry(j models.RetryJob) error {
	_, err := s.db.Exec(`
		INSERT INTO delivery_retries (integration_id, event_id, company_id, payload, attempt_number, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (integration_id, event_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			attempt_number = EXCLUDED.attempt_number,
			next_attempt_at = EXCLUDED.next_attempt_at`,
		j.IntegrationID, j.EventID, j.CompanyID, j.Payload, j.AttemptNumber, j.NextAttemptAt, j.CreatedAt)
	return err
}

func (s *PostgresStore) DueRetries(now time.Time, limit int) ([]models.RetryJob, error) {
	if limit <= 0 {
		limit = 50
	}
	jobs := []models.RetryJob{}
	err := s.db.Select(&jobs,
		"SELECT * FROM delivery_retries WHERE next_attempt_at <= $1 ORDER BY next_attempt_at LIMIT $2",
		now, limit)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *PostgresStore) DeleteRetry(integrationID, eventID string) error {
	_, err := s.db.Exec("DELETE FROM delivery_retries WHERE integration_id = $1 AND event_id = $2",
		integrationID, eventID)
	return err
}

// SaveAuditEntry appends one audit-log row for the company.
func (s *PostgresStore) SaveAuditEntry(companyID string, e models.AuditEntry) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return err
	}
	context, err := json.Marshal(e.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO audit_logs (company_id, actor_id, action, target_type, target_id, changes, context, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)`,
		companyID, e.ActorID, e.Action, e.TargetType, e.TargetID, changes, context)
	return err
}
