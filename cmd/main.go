package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tonic56/stock-trading-simulator/internal/app"
	"github.com/Tonic56/stock-trading-simulator/internal/config"
	"github.com/Tonic56/stock-trading-simulator/internal/service"
	"github.com/Tonic56/stock-trading-simulator/storage/postgres"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "stocksim",
		Short:        "Simulated stock trading service",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedShopCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
}

// runServe runs the API until SIGINT or SIGTERM. It backs both the bare
// binary and the serve subcommand.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)
	log.Info("starting stock trading service", slog.String("env", cfg.Env), slog.String("db", cfg.Database.Driver))

	application, err := app.New(log, cfg)
	if err != nil {
		return err
	}

	go func() {
		if err := application.Run(); err != nil {
			log.Error("failed to run app", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	log.Info("stopping stock trading service...")
	application.Stop()
	log.Info("stock trading service stopped.")
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			log := setupLogger(cfg.Env)

			storage, err := app.OpenStorage(cfg.Database)
			if err != nil {
				return err
			}
			defer storage.Stop()

			log.Info("database schema is up to date", slog.String("db", cfg.Database.Driver))
			return nil
		},
	}
}

func newSeedShopCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed-shop",
		Short: "Upsert the community shop catalogue from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			log := setupLogger(cfg.Env)

			if file == "" {
				file = cfg.Shop.CatalogPath
			}

			storage, err := app.OpenStorage(cfg.Database)
			if err != nil {
				return err
			}
			defer storage.Stop()

			return seedShop(cmd.Context(), storage, file, log)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "catalogue file (default SHOP_CATALOG_PATH)")
	return cmd
}

func seedShop(ctx context.Context, storage *postgres.Storage, file string, log *slog.Logger) error {
	n, err := service.NewShopService(storage.DB, log).SeedCatalog(ctx, file)
	if err != nil {
		return fmt.Errorf("seed shop from %s: %w", file, err)
	}

	log.Info("community shop seeded", "items", n)
	return nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case "local":
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case "dev":
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case "prod":
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
