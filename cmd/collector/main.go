// Command collector is the receiving end of the device uploads. It decodes
// envelopes, enforces the per-device acceptance rules and stores occupancy
// logs in InfluxDB.
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
	"CapIot.occupancy/internal/middleware"
	"CapIot.occupancy/internal/repository"
	"CapIot.occupancy/internal/routes"
	"CapIot.occupancy/internal/service"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadCollectorConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	flagSet := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	flagSet.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for device status")
	flagSet.StringVar(&cfg.InfluxDBURL, "influxdb-url", cfg.InfluxDBURL, "InfluxDB URL for occupancy logs")
	flagSet.DurationVar(&cfg.MaxClockDrift, "max-clock-drift", cfg.MaxClockDrift, "largest accepted device clock skew")
	flagSet.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "uploads allowed per rate window")
	flagSet.DurationVar(&cfg.RateWindow, "rate-window", cfg.RateWindow, "rate limit window")
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

	startupCtx, cancelStartup := context.WithTimeout(ctx, 10*time.Second)
	defer cancelStartup()

	statusRepo, err := repository.NewRedisStatusRepository(startupCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer statusRepo.Close()

	logRepo := repository.NewInfluxLogRepository(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket, logger)
	defer logRepo.Close()
	if err := logRepo.Health(startupCtx); err != nil {
		return err
	}
	if err := logRepo.EnsureBucket(startupCtx); err != nil {
		return err
	}

	requireAuth, err := middleware.NewJWTAuth(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, logger)
	if err != nil {
		return err
	}

	svc := service.NewCollectorService(statusRepo, logRepo, service.CollectorOptions{
		MaxClockDrift: cfg.MaxClockDrift,
		RateLimit:     cfg.RateLimit,
		RateWindow:    cfg.RateWindow,
		Logger:        logger,
	})
	collector := controller.NewCollectorController(svc, logger)
	handler := routes.WithCORS(routes.SetupCollectorRouter(collector, requireAuth), cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("collector listening", "addr", cfg.ListenAddr, "bucket", cfg.InfluxDBBucket)
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
