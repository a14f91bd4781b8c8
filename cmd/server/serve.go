package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/fleetquery/internal/api"
	"github.com/rpattn/fleetquery/internal/middleware"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, configPath, appOptions{withHistory: true, withUploads: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.logs.Start(); err != nil {
		return fmt.Errorf("start log cleanup: %w", err)
	}
	defer a.logs.Stop()

	srv := api.NewServer(api.Deps{
		Queries:  a.orch,
		Reports:  a.reports,
		Logs:     a.logs,
		Exporter: a.exporter,
		Uploader: a.uploader,
		History:  a.history,
		Metrics:  a.metrics,
		Fleet:    a.directory.Servers(),
	},
		api.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
		api.WithRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: a.cfg.Server.RateLimitRPS,
			Burst:             a.cfg.Server.RateLimitBurst,
		}),
	)

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting fleetquery on %s (%d servers)", a.cfg.Server.Addr, len(a.cfg.SQL.Servers))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	log.Println("Shutting down server...")

	if cancelled := a.orch.CancelAll(); cancelled > 0 {
		log.Printf("Cancelled %d in-flight request(s)", cancelled)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server exited")
	return nil
}
