package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdarshaAdi5379/TaskZen/internal/log"
	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/service"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

func newTestService(t *testing.T) (*service.TaskService, *storage.MockStore) {
	t.Helper()
	store := storage.NewMockStore()
	require.NoError(t, store.SaveProject(models.Project{ID: "p1", CompanyID: "c1"}))

	logger := log.GetLogger()
	bus := stream.NewBus(logger)
	audit := service.NewStoreAuditLogger(store, logger)
	service.NewConsistencyEngine(store, logger).Register(bus)
	return service.NewTaskService(store, bus, audit, logger), store
}

func postForm(handler http.HandlerFunc, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	healthHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "running")
}

func TestIntegrationsHandler(t *testing.T) {
	store := storage.NewMockStore()
	require.NoError(t, store.SaveIntegration(models.Integration{
		ID: "i1", CompanyID: "c1", Type: models.SlackIntegration,
		WebhookURL: "https://hooks.slack.invalid/x", Enabled: true,
	}))
	handler := integrationsHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/integrations?company=c1", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "i1")
	assert.Contains(t, w.Body.String(), "slack")

	req = httptest.NewRequest(http.MethodGet, "/integrations?company=other", nil)
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Contains(t, w.Body.String(), "No enabled integrations")

	req = httptest.NewRequest(http.MethodGet, "/integrations", nil)
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/integrations?company=c1", nil)
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCreateTaskHandler(t *testing.T) {
	tasks, store := newTestService(t)
	handler := createTaskHandler(tasks)

	w := postForm(handler, url.Values{
		"id": {"t1"}, "project": {"p1"}, "text": {"prereq"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = postForm(handler, url.Values{
		"id": {"t2"}, "project": {"p1"}, "text": {"dependent"}, "depends_on": {"t1"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	task, err := store.GetTask("p1", "t2")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, []string(task.DependsOn))
	assert.True(t, task.IsBlocked)

	w = postForm(handler, url.Values{"project": {"p1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompleteTaskHandler(t *testing.T) {
	tasks, store := newTestService(t)
	require.NoError(t, store.SaveTask(models.Task{ID: "t1", ProjectID: "p1"}))
	handler := completeTaskHandler(tasks)

	w := postForm(handler, url.Values{
		"project": {"p1"}, "id": {"t1"}, "actor": {"user-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	task, err := store.GetTask("p1", "t1")
	require.NoError(t, err)
	assert.True(t, task.Completed)
	assert.Equal(t, "user-1", task.CompletedBy)

	w = postForm(handler, url.Values{
		"project": {"p1"}, "id": {"t1"}, "completed": {"false"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	task, err = store.GetTask("p1", "t1")
	require.NoError(t, err)
	assert.False(t, task.Completed)

	w = postForm(handler, url.Values{"project": {"p1"}, "id": {"missing"}})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBulkCloseHandler(t *testing.T) {
	tasks, store := newTestService(t)
	require.NoError(t, store.SaveTask(models.Task{ID: "t1", ProjectID: "p1"}))
	require.NoError(t, store.SaveTask(models.Task{ID: "t2", ProjectID: "p1"}))
	handler := bulkCloseHandler(tasks)

	w := postForm(handler, url.Values{
		"project": {"p1"}, "ids": {"t1,t2"}, "actor": {"user-1"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Closed 2 task(s)")

	for _, id := range []string{"t1", "t2"} {
		task, err := store.GetTask("p1", id)
		require.NoError(t, err)
		assert.True(t, task.Completed)
	}

	w = postForm(handler, url.Values{"project": {"p1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeliveriesHandler(t *testing.T) {
	store := storage.NewMockStore()
	require.NoError(t, store.SaveDeliveryAttempt(models.DeliveryAttempt{
		ID: "a1", IntegrationID: "i1", CompanyID: "c1", EventID: "evt-1",
		Timestamp: time.Now(), Status: models.DeliverySuccess, AttemptNumber: 1,
	}))
	handler := deliveriesHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/deliveries?integration=i1", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evt-1")
	assert.Contains(t, w.Body.String(), "success")

	req = httptest.NewRequest(http.MethodGet, "/deliveries?integration=other", nil)
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Contains(t, w.Body.String(), "No delivery attempts")

	req = httptest.NewRequest(http.MethodGet, "/deliveries", nil)
	w = httptest.NewRecorder()
	handler(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
