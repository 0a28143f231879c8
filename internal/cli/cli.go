package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	internal_http "github.com/AdarshaAdi5379/TaskZen/internal/http"
	"github.com/AdarshaAdi5379/TaskZen/internal/log"
	internal_storage "github.com/AdarshaAdi5379/TaskZen/internal/storage"
	"github.com/AdarshaAdi5379/TaskZen/pkg/service"
	"github.com/AdarshaAdi5379/TaskZen/pkg/stream"
)

func SetupCLI(rootCmd *cobra.Command) {
	integrationsCmd := &cobra.Command{
		Use:   "integrations",
		Short: "List a company's enabled integrations",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustDBFlag(cmd))
			defer store.Close()
			listIntegrations(store, args[0])
		},
	}

	enableCmd := &cobra.Command{
		Use:   "enable [integration-id]",
		Short: "Re-enable an integration (resets its failure count)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustDBFlag(cmd))
			defer store.Close()
			setEnabled(store, args[0], true)
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable [integration-id]",
		Short: "Disable an integration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustDBFlag(cmd))
			defer store.Close()
			setEnabled(store, args[0], false)
		},
	}

	deliveriesCmd := &cobra.Command{
		Use:   "deliveries [integration-id]",
		Short: "Show recent delivery attempts for an integration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(mustDBFlag(cmd))
			defer store.Close()
			listDeliveries(store, args[0])
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inspection server and the delivery retry worker",
		Run: func(cmd *cobra.Command, args []string) {
			port, err := cmd.Flags().GetString("port")
			if err != nil || port == "" {
				port = "8080"
			}
			store := initStore(mustDBFlag(cmd))
			defer store.Close()

			logger := log.GetLogger()
			_, tasks := NewCore(store)
			audit := service.NewStoreAuditLogger(store, logger)
			worker := service.NewRetryWorker(store, audit, logger, 30*time.Second)
			go worker.Run(context.Background())

			if err := internal_http.StartServer(port, store, tasks); err != nil {
				logger.Errorf("Server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP port for the inspection server")

	rootCmd.AddCommand(integrationsCmd, enableCmd, disableCmd, deliveriesCmd, serveCmd)
}

// NewCore wires the reactive core onto a change feed: consistency engine,
// webhook dispatcher and soft-delete audit recorder, each an independent
// subscriber.
func NewCore(store *internal_storage.PostgresStore) (*stream.Bus, *service.TaskService) {
	logger := log.GetLogger()
	bus := stream.NewBus(logger)
	audit := service.NewStoreAuditLogger(store, logger)

	service.NewConsistencyEngine(store, logger).Register(bus)
	service.NewDispatcher(store, audit, logger).Register(bus)
	service.NewAuditRecorder(store, audit, logger).Register(bus)

	return bus, service.NewTaskService(store, bus, audit, logger)
}

func mustDBFlag(cmd *cobra.Command) string {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	return dbConnStr
}

func listIntegrations(store *internal_storage.PostgresStore, companyID string) {
	integrations, err := store.ListEnabledIntegrations(companyID)
	if err != nil {
		log.GetLogger().Errorf("Failed to list integrations: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list integrations: %v\n", err)
		os.Exit(1)
	}
	if len(integrations) == 0 {
		fmt.Fprintf(os.Stdout, "No enabled integrations found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Integrations:\n")
	for _, i := range integrations {
		fmt.Fprintf(os.Stdout, "- ID: %s, Type: %s, URL: %s, Failures: %d\n",
			i.ID, i.Type, i.WebhookURL, i.ConsecutiveFailures)
	}
}

func setEnabled(store *internal_storage.PostgresStore, id string, enabled bool) {
	if err := store.SetIntegrationEnabled(id, enabled); err != nil {
		log.GetLogger().Errorf("Failed to update integration %s: %v", id, err)
		fmt.Fprintf(os.Stderr, "Error: failed to update integration: %v\n", err)
		os.Exit(1)
	}
	if enabled {
		if err := store.ResetIntegrationFailures(id); err != nil {
			log.GetLogger().Errorf("Failed to reset failures for integration %s: %v", id, err)
			fmt.Fprintf(os.Stderr, "Error: failed to reset failure count: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stdout, "Integration %s enabled=%t\n", id, enabled)
}

func listDeliveries(store *internal_storage.PostgresStore, integrationID string) {
	attempts, err := store.ListDeliveryAttempts(integrationID, 50)
	if err != nil {
		log.GetLogger().Errorf("Failed to list delivery attempts: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list delivery attempts: %v\n", err)
		os.Exit(1)
	}
	if len(attempts) == 0 {
		fmt.Fprintf(os.Stdout, "No delivery attempts found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Delivery attempts:\n")
	for _, a := range attempts {
		fmt.Fprintf(os.Stdout, "- Event: %s, Attempt: %d, Status: %s, At: %s\n",
			a.EventID, a.AttemptNumber, a.Status, a.Timestamp.Format(time.RFC3339))
	}
}

func initStore(dbConnStr string) *internal_storage.PostgresStore {
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
