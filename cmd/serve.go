package main

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

	"github.com/spf13/cobra"

	"github.com/cwbudde/gravbench/internal/server"
	"github.com/cwbudde/gravbench/internal/store"
)

var (
	serveAddr string
	serveOut  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for background experiment jobs",
	Long: `Starts an HTTP API that runs experiments in the background.

  POST /api/v1/jobs              create a job
  GET  /api/v1/jobs              list jobs
  GET  /api/v1/jobs/:id/status   job status and cell statistics
  GET  /api/v1/jobs/:id/stream   progress as server-sent events
  POST /api/v1/jobs/:id/cancel   cancel a job
  GET  /api/v1/attempts          stored attempts (?problem=...)
  GET  /api/v1/catalog           optimizers and benchmark functions`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveOut, "out", "./results", "Output directory for job results")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(serveOut)
	if err != nil {
		return fmt.Errorf("failed to open output directory: %w", err)
	}

	srv := server.NewServer(serveAddr, st)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
