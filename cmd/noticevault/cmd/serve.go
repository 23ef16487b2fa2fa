package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/noticevault/internal/api"
	"github.com/wesm/noticevault/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run noticevault as a daemon with scheduled sync",
	Long: `Run noticevault as a long-running daemon that syncs the notice feeds on
schedule and serves the HTTP API.

The daemon runs in the foreground and performs:
  - HTTP API server on configured port (default: 8080)
  - Scheduled sync of every configured stage for today
  - Result cache invalidation after each sync

Configure the schedule in config.toml:
  [sync]
  schedule = "0 8,12,19 * * *"   # 8 AM, noon and 7 PM daily
  poll_interval = "30s"

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Sync.Schedule, a.pipeline, a.gate)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	sched.WithLogger(logger).WithPollInterval(cfg.Sync.PollInterval.Duration)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sched.Start()

	apiServer := api.NewServer(cfg, api.Deps{
		Notices:   a.notices,
		Store:     a.store,
		Mutations: a.mutations,
		Sync:      a.runner,
		Scheduler: sched,
		Gatherer:  a.registry,
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	status := sched.Status()
	fmt.Printf("noticevault daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Schedule:   %s\n", status.Schedule)
	fmt.Printf("  Next sync:  %s\n", status.NextRun.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Database:   %s\n", cfg.DatabaseDSN())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		fmt.Printf("\nAPI server error: %v\n", err)
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	// Manual runs stop between steps; the scheduler cancels its fetch.
	for _, id := range a.runner.Active() {
		a.runner.Stop(id)
	}

	fmt.Println("Waiting for running sync to complete...")
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return nil
}
