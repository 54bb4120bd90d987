package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/convograph/pkg/flowgraph/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP server",
	Long: `Starts the HTTP server: POST /chat, POST /chat/stream (server-sent
events), GET /health and GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				logger.Error("close failed", "err", err)
			}
		}()

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("server starting",
				"addr", srv.Addr,
				"checkpoint_backend", cfg.Checkpoint.Backend,
				"llm_provider", cfg.LLM.Provider,
			)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-ctx.Done():
			logger.Info("shutdown started")
		}

		// Give in-flight turns a deadline, then cut them off.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", cfg.Server.ShutdownTimeout, "err", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("close server: %w", err)
			}
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address; overrides server.addr")
}
