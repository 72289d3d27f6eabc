package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"IdeaRadar/internal/app"
	"IdeaRadar/internal/config"
	"IdeaRadar/internal/logging"
	"IdeaRadar/internal/usecase"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "idearadar",
		Short:         "Ingest, deduplicate and rank ideas from feeds and APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML); defaults to $IDEARADAR_CONFIG")

	cmd.AddCommand(serveCmd(&configPath), ingestCmd(&configPath), migrateCmd(&configPath))
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, logger, err := build(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			if migrate {
				if err := application.Migrate(ctx); err != nil {
					return err
				}
			}
			if err := application.Serve(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create the schema and seed sources before serving")
	return cmd
}

func ingestCmd(configPath *string) *cobra.Command {
	var opts usecase.RunOptions
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass and print its summary as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, _, err := build(ctx, *configPath)
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.RunOnce(ctx, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&opts.Source, "source", "", "Only ingest the named source")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Rescore items that already exist")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed sources from config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, _, err := build(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Migrate(cmd.Context())
		},
	}
}

func build(ctx context.Context, configPath string) (*app.Application, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return application, logger, nil
}
