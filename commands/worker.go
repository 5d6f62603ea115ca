package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mooncourt/arcana/config"
	"github.com/mooncourt/arcana/llm"
	_ "github.com/mooncourt/arcana/llm/providers" // register providers via init()
	"github.com/mooncourt/arcana/pipeline"
	"github.com/mooncourt/arcana/spread"
	"github.com/mooncourt/arcana/storage"
)

func workerCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run an insight worker",
		Long: `Worker consumes queued interpretation jobs, calls the configured
model, and persists the scored insight. Multiple workers may run
against the same cluster; the durable consumer shares jobs between
them and a crashed worker's jobs are redelivered after the lease
expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, logger)
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, js, err := connectNATS(cfg, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	catalog, err := spread.NewCatalog(cfg.Engine.SpreadsDir, logger)
	if err != nil {
		return fmt.Errorf("load spread catalog: %w", err)
	}

	worker, err := buildWorker(cfg, store, catalog, logger)
	if err != nil {
		return err
	}
	if err := worker.Start(ctx, js); err != nil {
		return fmt.Errorf("start insight worker: %w", err)
	}

	logger.Info("insight worker running",
		"version", Version,
		"model", cfg.Model.Name,
		"provider", cfg.Model.Provider)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// buildWorker assembles the pipeline worker from configuration. The model
// client gets a single attempt per call: redelivery is the retry loop, so
// attempt counts stay accurate.
func buildWorker(cfg *config.Config, store *storage.Store, catalog *spread.Catalog, logger *slog.Logger) (*pipeline.Worker, error) {
	client, err := llm.NewClient(llm.Endpoint{
		Provider: cfg.Model.Provider,
		Model:    cfg.Model.Name,
		BaseURL:  cfg.Model.Endpoint,
		Timeout:  cfg.Model.Timeout,
	},
		llm.WithRetryConfig(llm.RetryConfig{MaxAttempts: 1}),
		llm.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	wcfg := pipeline.DefaultWorkerConfig()
	wcfg.LeaseTTL = cfg.Worker.LeaseTTL
	wcfg.MaxAttempts = cfg.Worker.MaxAttempts
	wcfg.ModelTimeout = cfg.Model.Timeout
	wcfg.RetryBackoffBase = cfg.Worker.RetryBackoffBase
	wcfg.RetryBackoffMax = cfg.Worker.RetryBackoffMax
	wcfg.Confidence = cfg.Engine.Confidence

	return pipeline.NewWorker(wcfg, store, store, store, catalog, client, logger), nil
}
