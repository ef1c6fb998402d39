// Package main runs the aigency API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aigency/internal/config"
	"aigency/internal/logging"
	"aigency/internal/repo"
	"aigency/migrations"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "aigency",
	Short:         "AI marketing agency API",
	SilenceUsage:  true,
	SilenceErrors: true,
	// Running without a subcommand starts the server.
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and start the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return migrate(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func migrate(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	if err := runMigrations(ctx, cfg, repository); err != nil {
		return err
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	if cfg.DatabaseDriver == "sqlite" {
		repository, err := repo.NewSQLite(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite repository: %w", err)
		}
		return repository, nil
	}
	repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return repository, nil
}

func runMigrations(ctx context.Context, cfg *config.Config, repository repo.Repository) error {
	files, err := migrations.ForDriver(cfg.DatabaseDriver)
	if err != nil {
		return err
	}
	if err := repository.RunMigrations(ctx, files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
