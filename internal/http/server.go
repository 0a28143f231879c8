package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AdarshaAdi5379/TaskZen/internal/log"
	"github.com/AdarshaAdi5379/TaskZen/pkg/models"
	"github.com/AdarshaAdi5379/TaskZen/pkg/service"
	"github.com/AdarshaAdi5379/TaskZen/pkg/storage"
)

func StartServer(port string, store storage.Store, tasks *service.TaskService) error {
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/integrations", integrationsHandler(store))
	http.HandleFunc("/deliveries", deliveriesHandler(store))
	http.HandleFunc("/tasks", createTaskHandler(tasks))
	http.HandleFunc("/tasks/complete", completeTaskHandler(tasks))
	http.HandleFunc("/tasks/bulk-close", bulkCloseHandler(tasks))

	log.GetLogger().Infof("Starting TaskZen core server on :%s", port)
	return http.ListenAndServe(":"+port, nil)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "TaskZen core is running")
}

func integrationsHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		companyID := r.URL.Query().Get("company")
		if companyID == "" {
			http.Error(w, "Missing 'company' parameter", http.StatusBadRequest)
			return
		}
		integrations, err := store.ListEnabledIntegrations(companyID)
		if err != nil {
			log.GetLogger().Errorf("Failed to list integrations: %v", err)
			http.Error(w, fmt.Sprintf("Failed to list integrations: %v", err), http.StatusInternalServerError)
			return
		}
		if len(integrations) == 0 {
			fmt.Fprintf(w, "No enabled integrations found.\n")
			return
		}
		for _, i := range integrations {
			fmt.Fprintf(w, "- ID: %s, Type: %s, URL: %s, Failures: %d\n",
				i.ID, i.Type, i.WebhookURL, i.ConsecutiveFailures)
		}
	}
}

func createTaskHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		task := models.Task{
			ID:        r.FormValue("id"),
			ProjectID: r.FormValue("project"),
			Text:      r.FormValue("text"),
		}
		if deps := r.FormValue("depends_on"); deps != "" {
			task.DependsOn = strings.Split(deps, ",")
		}
		if task.ID == "" || task.ProjectID == "" {
			http.Error(w, "Missing 'id' or 'project' parameter", http.StatusBadRequest)
			return
		}
		if err := tasks.CreateTask(r.Context(), task); err != nil {
			log.GetLogger().Errorf("Failed to create task: %v", err)
			http.Error(w, fmt.Sprintf("Failed to create task: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Created task '%s' in project '%s'\n", task.ID, task.ProjectID)
	}
}

func completeTaskHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		projectID := r.FormValue("project")
		taskID := r.FormValue("id")
		if projectID == "" || taskID == "" {
			http.Error(w, "Missing 'project' or 'id' parameter", http.StatusBadRequest)
			return
		}
		completed := r.FormValue("completed") != "false"
		if err := tasks.SetCompleted(r.Context(), projectID, taskID, r.FormValue("actor"), completed); err != nil {
			log.GetLogger().Errorf("Failed to update completion: %v", err)
			http.Error(w, fmt.Sprintf("Failed to update completion: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Task '%s' completed=%t\n", taskID, completed)
	}
}

func bulkCloseHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		projectID := r.FormValue("project")
		ids := r.FormValue("ids")
		if projectID == "" || ids == "" {
			http.Error(w, "Missing 'project' or 'ids' parameter", http.StatusBadRequest)
			return
		}
		count, err := tasks.BulkCloseTasks(r.Context(), projectID, strings.Split(ids, ","), r.FormValue("actor"))
		if err != nil {
			log.GetLogger().Errorf("Failed to bulk-close tasks: %v", err)
			http.Error(w, fmt.Sprintf("Failed to bulk-close tasks: %v", err), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Closed %d task(s) in project '%s'\n", count, projectID)
	}
}

func deliveriesHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		integrationID := r.URL.Query().Get("integration")
		if integrationID == "" {
			http.Error(w, "Missing 'integration' parameter", http.StatusBadRequest)
			return
		}
		attempts, err := store.ListDeliveryAttempts(integrationID, 50)
		if err != nil {
			log.GetLogger().Errorf("Failed to list delivery attempts: %v", err)
			http.Error(w, fmt.Sprintf("Failed to list delivery attempts: %v", err), http.StatusInternalServerError)
			return
		}
		if len(attempts) == 0 {
			fmt.Fprintf(w, "No delivery attempts found.\n")
			return
		}
		for _, a := range attempts {
			fmt.Fprintf(w, "- Event: %s, Attempt: %d, Status: %s, At: %s\n",
				a.EventID, a.AttemptNumber, a.Status, a.Timestamp.Format(time.RFC3339))
		}
	}
}
