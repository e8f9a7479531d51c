// cmd/migrate/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketplace-workers/internal/common/config"
	"marketplace-workers/internal/common/database"
	"marketplace-workers/internal/common/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the marketplace database schema",
	Long: `migrate runs the SQL migrations embedded in the worker binary against
the Postgres database from the worker configuration.`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(pg *database.PostgresClient) error {
			return database.Migrate(pg.DB)
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(pg *database.PostgresClient) error {
			return database.MigrateDown(pg.DB)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(pg *database.PostgresClient) error {
			return database.MigrationStatus(pg.DB)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: configs/config.yaml lookup)")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
}

func withDatabase(fn func(pg *database.PostgresClient) error) error {
	log := logger.New("info", "console", "")
	defer log.Sync()

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	log.Info("running migrations",
		zap.String("host", cfg.Database.Postgres.Host),
		zap.String("database", cfg.Database.Postgres.Database),
	)
	return fn(pg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
