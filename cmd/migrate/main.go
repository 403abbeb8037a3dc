package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/liamcoop/automations/migrations"
	"github.com/liamcoop/automations/rules"
	"github.com/spf13/cobra"
)

var databaseURL string

func main() {
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply the embedded automations schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database", "", "database URL (defaults to DATABASE_URL)")

	rootCmd.AddCommand(upCmd(), downCmd(), versionCmd(), forceCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// withMigrate opens the database and hands a migrate instance to fn
func withMigrate(cmd *cobra.Command, fn func(m *migrate.Migrate) error) error {
	url := databaseURL
	if url == "" {
		url = os.Getenv("AUTOMATIONS_DATABASE_URL")
	}
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return errors.New("database URL is required: use --database or DATABASE_URL")
	}

	log.Printf("Connecting to database...")
	db, dialect, err := rules.OpenDB(cmd.Context(), url)
	if err != nil {
		return err
	}

	m, err := migrations.New(db, string(dialect))
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()

	return fn(m)
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(cmd, func(m *migrate.Migrate) error {
				log.Println("Running migrations up...")
				err := m.Up()
				if errors.Is(err, migrate.ErrNoChange) {
					log.Println("No migrations to run (database is up to date)")
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
				log.Println("Migrations completed successfully!")
				return nil
			})
		},
	}
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(cmd, func(m *migrate.Migrate) error {
				log.Println("Rolling back migrations...")
				if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("failed to rollback migrations: %w", err)
				}
				log.Println("Rollback completed successfully!")
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrate(cmd, func(m *migrate.Migrate) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					log.Println("No migrations applied")
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				log.Printf("Current version: %d (dirty: %v)", version, dirty)
				return nil
			})
		},
	}
}

func forceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version number: %w", err)
			}
			return withMigrate(cmd, func(m *migrate.Migrate) error {
				if err := m.Force(version); err != nil {
					return fmt.Errorf("failed to force version: %w", err)
				}
				log.Printf("Forced version to: %d", version)
				return nil
			})
		},
	}
}
