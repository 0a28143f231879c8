package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
)

// MockStore implements Store with in-memory storage for tests. It is safe
// for concurrent use; every operation takes the store lock.
type MockStore struct {
	mu           sync.Mutex
	projects     map[string]models.Project
	tasks        map[string]models.Task // key: projectID + "/" + taskID
	integrations map[string]models.Integration
	attempts     []models.DeliveryAttempt
	retries      map[string]models.RetryJob // key: integrationID + "/" + eventID
	audits       map[string][]models.AuditEntry

	// BatchErr, when set, makes batched writes fail; used to exercise the
	// abandon-and-rely-on-redelivery path.
	BatchErr error

	taskWrites int // counts task-level writes, for idempotence assertions
}

func NewMockStore() *MockStore {
	return &MockStore{
		projects:     make(map[string]models.Project),
		tasks:        make(map[string]models.Task),
		integrations: make(map[string]models.Integration),
		retries:      make(map[string]models.RetryJob),
		audits:       make(map[string][]models.AuditEntry),
	}
}

func taskKey(projectID, taskID string) string { return projectID + "/" + taskID }

func (m *MockStore) Begin() (Store, error) { return m, nil }
func (m *MockStore) Commit() error         { return nil }
func (m *MockStore) Rollback() error       { return nil }
func (m *MockStore) Close() error          { return nil }

func (m *MockStore) SaveProject(p models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *MockStore) GetProject(id string) (models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return models.Project{}, ErrNotFound
	}
	return p, nil
}

func (m *MockStore) SaveTask(t models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[taskKey(t.ProjectID, t.ID)] = t
	m.taskWrites++
	return nil
}

func (m *MockStore) GetTask(projectID, taskID string) (models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey(projectID, taskID)]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *MockStore) DeleteTask(projectID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := taskKey(projectID, taskID)
	if _, ok := m.tasks[key]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, key)
	m.taskWrites++
	return nil
}

func (m *MockStore) MultiGetTasks(projectID string, taskIDs []string) (map[string]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Task, len(taskIDs))
	for _, id := range taskIDs {
		if t, ok := m.tasks[taskKey(projectID, id)]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (m *MockStore) UpdateTaskBlocked(projectID, taskID string, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := taskKey(projectID, taskID)
	t, ok := m.tasks[key]
	if !ok {
		return ErrNotFound
	}
	t.IsBlocked = blocked
	t.UpdatedAt = time.Now()
	m.tasks[key] = t
	m.taskWrites++
	return nil
}

func (m *MockStore) BatchUpdateBlocked(projectID string, updates []BlockedUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BatchErr != nil {
		return m.BatchErr
	}
	if len(updates) > MaxBatchWrites {
		return errors.Errorf("batch of %d exceeds limit %d", len(updates), MaxBatchWrites)
	}
	// All-or-nothing: verify every target exists before touching any.
	for _, u := range updates {
		if _, ok := m.tasks[taskKey(projectID, u.TaskID)]; !ok {
			return errors.Wrapf(ErrNotFound, "task %s", u.TaskID)
		}
	}
	for _, u := range updates {
		key := taskKey(projectID, u.TaskID)
		t := m.tasks[key]
		t.IsBlocked = u.IsBlocked
		t.UpdatedAt = time.Now()
		m.tasks[key] = t
		m.taskWrites++
	}
	return nil
}

func (m *MockStore) ListDependents(projectID, taskID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Task
	for _, t := range m.tasks {
		if t.ProjectID != projectID {
			continue
		}
		for _, dep := range t.DependsOn {
			if dep == taskID {
				out = append(out, t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) CompleteTasks(projectID string, taskIDs []string, actorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BatchErr != nil {
		return m.BatchErr
	}
	if len(taskIDs) > MaxBatchWrites {
		return errors.Errorf("batch of %d exceeds limit %d", len(taskIDs), MaxBatchWrites)
	}
	for _, id := range taskIDs {
		if _, ok := m.tasks[taskKey(projectID, id)]; !ok {
			return errors.Wrapf(ErrNotFound, "task %s", id)
		}
	}
	for _, id := range taskIDs {
		key := taskKey(projectID, id)
		t := m.tasks[key]
		t.Completed = true
		t.CompletedAt = &at
		t.CompletedBy = actorID
		t.UpdatedAt = at
		m.tasks[key] = t
		m.taskWrites++
	}
	return nil
}

func (m *MockStore) SaveIntegration(i models.Integration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[i.ID] = i
	return nil
}

func (m *MockStore) GetIntegration(id string) (models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.integrations[id]
	if !ok {
		return models.Integration{}, ErrNotFound
	}
	return i, nil
}

func (m *MockStore) ListEnabledIntegrations(companyID string) ([]models.Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Integration
	for _, i := range m.integrations {
		if i.CompanyID == companyID && i.Enabled {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) SetIntegrationEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.integrations[id]
	if !ok {
		return ErrNotFound
	}
	i.Enabled = enabled
	m.integrations[id] = i
	return nil
}

func (m *MockStore) IncrementIntegrationFailures(id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.integrations[id]
	if !ok {
		return 0, ErrNotFound
	}
	i.ConsecutiveFailures++
	m.integrations[id] = i
	return i.ConsecutiveFailures, nil
}

func (m *MockStore) ResetIntegrationFailures(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.integrations[id]
	if !ok {
		return ErrNotFound
	}
	i.ConsecutiveFailures = 0
	m.integrations[id] = i
	return nil
}

func (m *MockStore) SaveDeliveryAttempt(a models.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MockStore) ListDeliveryAttempts(integrationID string, limit int) ([]models.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryAttempt
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if m.attempts[i].IntegrationID == integrationID {
			out = append(out, m.attempts[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func retryKey(integrationID, eventID string) string { return integrationID + "/" + eventID }

func (m *MockStore) EnqueueRetry(j models.RetryJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[retryKey(j.IntegrationID, j.EventID)] = j
	return nil
}

func (m *MockStore) DueRetries(now time.Time, limit int) ([]models.RetryJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RetryJob
	for _, j := range m.retries {
		if !j.NextAttemptAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) DeleteRetry(integrationID, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.retries, retryKey(integrationID, eventID))
	return nil
}

func (m *MockStore) SaveAuditEntry(companyID string, e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[companyID] = append(m.audits[companyID], e)
	return nil
}

// Test inspection helpers.

// AllDeliveryAttempts returns every recorded attempt, oldest first.
func (m *MockStore) AllDeliveryAttempts() []models.DeliveryAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DeliveryAttempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// PendingRetries returns every queued retry job.
func (m *MockStore) PendingRetries() []models.RetryJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RetryJob, 0, len(m.retries))
	for _, j := range m.retries {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		return retryKey(out[i].IntegrationID, out[i].EventID) < retryKey(out[j].IntegrationID, out[j].EventID)
	})
	return out
}

// AuditEntries returns the audit entries recorded for a company.
func (m *MockStore) AuditEntries(companyID string) []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditEntry, len(m.audits[companyID]))
	copy(out, m.audits[companyID])
	return out
}

// TaskWrites returns the number of task mutations performed, for
// write-suppression assertions.
func (m *MockStore) TaskWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskWrites
}
