package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mooncourt/arcana/access"
	"github.com/mooncourt/arcana/config"
	"github.com/mooncourt/arcana/httpapi"
	"github.com/mooncourt/arcana/orchestrator"
	"github.com/mooncourt/arcana/pipeline"
	"github.com/mooncourt/arcana/profile"
	"github.com/mooncourt/arcana/realtime"
	"github.com/mooncourt/arcana/spread"
	"github.com/mooncourt/arcana/storage"
)

func serveCmd(logLevel *string) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session API server",
		Long: `Serve runs the HTTP API: session lifecycle, card openings, the
per-session event stream, and gated access to interpretations.

With --with-worker it also runs an insight worker in-process, which is
the single-binary development setup.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, withWorker, logger)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also run an insight worker in this process")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, withWorker bool, logger *slog.Logger) error {
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
	if _, err := pipeline.EnsureStream(ctx, js); err != nil {
		return fmt.Errorf("ensure insight stream: %w", err)
	}

	catalog, err := spread.NewCatalog(cfg.Engine.SpreadsDir, logger)
	if err != nil {
		return fmt.Errorf("load spread catalog: %w", err)
	}
	if cfg.Engine.WatchSpreads && cfg.Engine.SpreadsDir != "" {
		watcher, err := spread.NewWatcher(catalog, logger)
		if err != nil {
			return fmt.Errorf("watch spread catalog: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("spread watcher stopped", "error", err)
			}
		}()
	}

	broker := realtime.NewNATSBroker(nc, logger)
	enqueuer := pipeline.NewEnqueuer(store, js, logger)
	orch := orchestrator.New(store, catalog, broker, enqueuer, orchestrator.Config{
		ReversedProbability: *cfg.Engine.ReversedProbability,
	}, logger)
	viewer := access.NewViewer(store, store, logger)

	profiles, err := profileService(cfg)
	if err != nil {
		return err
	}

	if withWorker {
		worker, err := buildWorker(cfg, store, catalog, logger)
		if err != nil {
			return err
		}
		if err := worker.Start(ctx, js); err != nil {
			return fmt.Errorf("start insight worker: %w", err)
		}
	}

	mux := http.NewServeMux()
	httpapi.NewHandler(orch, viewer, profiles, broker, catalog, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("arcana serving",
			"version", Version,
			"addr", cfg.Server.Addr,
			"with_worker", withWorker)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// connectNATS dials the cluster and opens a JetStream context.
func connectNATS(cfg *config.Config, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("open jetstream: %w", err)
	}
	return nc, js, nil
}

// profileService picks the profile backend: the HTTP service when a URL is
// configured, the static table otherwise.
func profileService(cfg *config.Config) (profile.Service, error) {
	if cfg.Profiles.URL != "" {
		svc, err := profile.NewHTTPService(cfg.Profiles.URL, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("profile service: %w", err)
		}
		return svc, nil
	}
	return &profile.StaticService{Profiles: cfg.StaticProfiles()}, nil
}
