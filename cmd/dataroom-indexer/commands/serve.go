package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diligence-ai/dataroom-indexer/cmd/dataroom-indexer/ui"
	"github.com/diligence-ai/dataroom-indexer/internal/config"
	"github.com/diligence-ai/dataroom-indexer/internal/index"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
	"github.com/diligence-ai/dataroom-indexer/internal/server"
	"github.com/diligence-ai/dataroom-indexer/pkg/dataroom"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a built index over HTTP",
	Long:  "Expose a read-only HTTP API over a built index for downstream analysis tools.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to host:port from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "dataroom-indexer",
	})

	indexPath := filepath.Join(cfg.Indexer.OutputDir, index.IndexFileName)
	room, err := dataroom.Open(indexPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no index found at %s (run 'dataroom-indexer index' first)", indexPath)
		}
		return fmt.Errorf("open index: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	srv := server.New(room, logger)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(cfg.Server.ReadTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Int("documents", room.Metadata().TotalDocuments).
			Msg("HTTP server listening")
		serverErrors <- httpSrv.ListenAndServe()
	}()

	ui.Info("Serving %s on http://%s", indexPath, addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		_ = httpSrv.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	ui.Success("Server stopped")
	return nil
}
