package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AdarshaAdi5379/TaskZen/internal/cli"
)

var rootCmd = &cobra.Command{Use: "taskzen"}

func main() {
	rootCmd.PersistentFlags().String("db", os.Getenv("DATABASE_URL"), "Database connection string")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
