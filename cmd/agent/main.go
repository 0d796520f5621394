// Command agent runs on the bus: it accepts occupancy updates from the local
// sensor process and uploads the current counts to the collector every
// interval.
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

	"CapIot.occupancy/internal/config"
	"CapIot.occupancy/internal/controller"
	"CapIot.occupancy/internal/logging"
	"CapIot.occupancy/internal/routes"
	"CapIot.occupancy/internal/state"
	"CapIot.occupancy/internal/transport"
	"CapIot.occupancy/internal/uploader"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	flagSet := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier sent with every upload")
	flagSet.StringVar(&cfg.CloudURL, "cloud-url", cfg.CloudURL, "collector upload endpoint")
	flagSet.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address of the local ingestion endpoint")
	flagSet.DurationVar(&cfg.UploadInterval, "interval", cfg.UploadInterval, "pause between upload cycles")
	flagSet.DurationVar(&cfg.UploadTimeout, "timeout", cfg.UploadTimeout, "per-upload request timeout")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	occupancy := state.New()
	ingest := controller.NewIngestController(occupancy, logger)
	handler := routes.WithCORS(routes.SetupAgentRouter(ingest), cfg.AllowedOrigins)

	up, err := uploader.New(uploader.Config{
		DeviceID: cfg.DeviceID,
		Interval: cfg.UploadInterval,
		Timeout:  cfg.UploadTimeout,
	}, occupancy, transport.NewRestyTransport(cfg.CloudURL, cfg.UploadTimeout), uploader.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := up.Start(ctx); err != nil {
		return err
	}
	defer up.Stop()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ingestion endpoint listening", "addr", cfg.ListenAddr, "device_id", cfg.DeviceID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("error starting server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
