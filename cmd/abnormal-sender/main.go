// Command abnormal-sender transmits a fixed list of implausible occupancy
// snapshots to the collector, one every few seconds.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"CapIot.occupancy/internal/config"
	"CapIot.occupancy/internal/logging"
	"CapIot.occupancy/internal/sender"
	"CapIot.occupancy/internal/transport"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadSenderConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	flagSet := pflag.NewFlagSet("abnormal-sender", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identifier to impersonate")
	flagSet.StringVar(&cfg.CloudURL, "cloud-url", cfg.CloudURL, "collector upload endpoint")
	flagSet.DurationVar(&cfg.UploadTimeout, "timeout", cfg.UploadTimeout, "per-upload request timeout")
	flagSet.DurationVar(&cfg.Cadence, "cadence", cfg.Cadence, "pause between cases")
	flagSet.StringVarP(&cfg.ScenarioFile, "file", "f", cfg.ScenarioFile, "YAML list of cases (default: built-in cases)")
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

	cases := sender.DefaultCases()
	if cfg.ScenarioFile != "" {
		if cases, err = sender.LoadCases(cfg.ScenarioFile); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("abnormal log sender starting", "device_id", cfg.DeviceID, "cases", len(cases), "cadence", cfg.Cadence)
	s := sender.New(cfg.DeviceID, transport.NewRestyTransport(cfg.CloudURL, cfg.UploadTimeout), cfg.UploadTimeout, sender.WithLogger(logger))
	summary := s.Run(ctx, cases, cfg.Cadence)
	logger.Info("done", "sent", summary.Sent, "failed", summary.Failed)
	return nil
}
