package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/cloudcast/internal/cleanup"
	"github.com/italolelis/cloudcast/internal/config"
	"github.com/italolelis/cloudcast/internal/http/rest"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/notifier"
	"github.com/italolelis/cloudcast/internal/objectstore/minio"
	"github.com/italolelis/cloudcast/internal/objectstore/s3"
	"github.com/italolelis/cloudcast/internal/resume"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/storage/filestore"
	"github.com/italolelis/cloudcast/internal/storage/sqlite"
	"github.com/italolelis/cloudcast/internal/telemetry"
	"github.com/italolelis/cloudcast/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("cloudcast starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Record Store
	store, closeStore, err := buildRecordStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to build record store: %w", err)
	}
	defer closeStore()

	// =========================================================================
	// Start Object Store
	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build object store: %w", err)
	}

	// =========================================================================
	// Start Coordinator
	coordinator := transfer.NewCoordinator(
		storage.NewInstrumentedStore(store, tel),
		transfer.NewInstrumentedObjectStore(objects, tel, cfg.StorageBackend),
		transfer.WithTelemetry(tel),
		transfer.WithMaxAttempts(cfg.MaxResumeAttempts),
	)

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	notified := make(chan struct{})

	go func() {
		defer close(notified)
		notifier.Forward(context.WithoutCancel(ctx), notif, coordinator.Events())
	}()

	// =========================================================================
	// Start Cleanup
	pending, err := coordinator.Pending(ctx)
	if err != nil {
		logger.Error("failed to list pending transfers for cleanup", "err", err)
	}

	cleanup.SweepPartials(ctx, cleanup.PartialDirs(cfg.DownloadDir, pending), cfg.KeepPartialsFor)

	// =========================================================================
	// Start Resume Scanner
	scanner := resume.NewScanner(coordinator)

	activations := make(chan struct{}, 1)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)

	defer signal.Stop(signals)

	go forwardActivations(ctx, signals, activations)
	go scanner.Run(ctx, activations)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, coordinator, scanner, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for transfers...",
		"store_driver", cfg.StoreDriver,
		"storage_backend", cfg.StorageBackend,
		"download_dir", cfg.DownloadDir,
		"max_resume_attempts", cfg.MaxResumeAttempts,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// Running transfers stay pending if they don't finish in time and are
		// resumed on the next launch.
		closed := make(chan struct{})

		go func() {
			coordinator.Close()
			close(closed)
		}()

		select {
		case <-closed:
			<-notified
		case <-shutdownCtx.Done():
			logger.Warn("transfers still running at shutdown, leaving them pending")
		}

		return nil
	}
}

// forwardActivations turns SIGUSR1 into scanner activations. An activation
// already queued absorbs new ones.
func forwardActivations(ctx context.Context, signals <-chan os.Signal, activations chan<- struct{}) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			logger.Debug("activation signal received")

			select {
			case activations <- struct{}{}:
			default:
			}
		}
	}
}

// This is an abstract factory for the record store.
func buildRecordStore(cfg *config.Config) (storage.RecordStore, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}

		return sqlite.NewSlotRepository(db), closeDB(db), nil
	case "file":
		s, err := filestore.New(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}

		return s, func() {}, nil
	}

	return nil, nil, fmt.Errorf("invalid store driver: %s", cfg.StoreDriver)
}

func closeDB(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			slog.Error("failed to close database", "err", err)
		}
	}
}

// This is an abstract factory for the object store.
func buildObjectStore(ctx context.Context, cfg *config.Config) (transfer.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return s3.NewClient(ctx, s3.Config{
			Bucket:               cfg.S3.Bucket,
			Region:               cfg.S3.Region,
			Endpoint:             cfg.S3.Endpoint,
			AccessKey:            cfg.S3.AccessKey,
			SecretKey:            cfg.S3.SecretKey,
			SessionToken:         cfg.S3.SessionToken,
			PartSize:             cfg.S3.PartSize,
			Concurrency:          cfg.S3.Concurrency,
			ChecksumWhenRequired: cfg.S3.ChecksumWhenRequired,
		})
	case "minio":
		return minio.NewClient(minio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			Region:    cfg.Minio.Region,
			Bucket:    cfg.Minio.Bucket,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			PartSize:  cfg.Minio.PartSize,
		})
	}

	return nil, fmt.Errorf("invalid storage backend: %s", cfg.StorageBackend)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	coordinator *transfer.Coordinator,
	scanner *resume.Scanner,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewTransferHandler(coordinator, scanner, cfg.DownloadDir, cfg.API.Username, cfg.API.Password)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "cloudcast"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
