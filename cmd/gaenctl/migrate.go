package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/exposure-systems/gaen-backend/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

func dsnFromEnv() (string, error) {
	dsn := os.Getenv("GAEN_DSN")
	if dsn == "" {
		return "", fmt.Errorf("GAEN_DSN environment variable is required")
	}
	return dsn, nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := dsnFromEnv()
		if err != nil {
			return err
		}
		return migrate.Up(context.Background(), dsn)
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := dsnFromEnv()
		if err != nil {
			return err
		}
		return migrate.Status(context.Background(), dsn)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}
