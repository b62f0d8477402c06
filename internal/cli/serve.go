package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opendiscourse/congress-data-service/internal/ingestion"
	"github.com/opendiscourse/congress-data-service/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API, optionally with scheduled ingestion",
		Long: `Start the HTTP read API. When INGESTION_SCHEDULE is true, an
incremental sync of INGESTION_ENTITIES also runs now and every
INGESTION_INTERVAL until shutdown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *Options) error {
	cfg, logger := opts.cfg, opts.logger
	if parent == nil {
		parent = context.Background()
	}

	// Initialize storage
	store, err := opts.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	// Initialize ingestion service
	var ingestor *ingestion.Service
	if cfg.Ingestion.Schedule {
		if ingestor, err = opts.newService(store); err != nil {
			return err
		}
	}

	// Initialize HTTP server for API endpoints
	httpServer := server.NewServer(cfg.Server, store, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Start HTTP server
	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start ingestion service
	done := make(chan struct{})
	if ingestor != nil {
		go func() {
			defer close(done)
			logger.WithField("interval", cfg.Ingestion.Interval.String()).Info("Starting scheduled ingestion")
			if err := ingestor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Ingestion service error")
			}
		}()
	} else {
		close(done)
	}

	// Wait for shutdown signal
	var runErr error
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received, gracefully shutting down")
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server error")
		runErr = err
	case <-ctx.Done():
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown services
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	}

	cancel() // Cancel ingestion context
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Ingestion did not stop before the shutdown timeout")
	}

	logger.Info("Shutdown complete")
	return runErr
}
