package referrald

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"nameref/observability/logging"
	telemetry "nameref/observability/otel"
)

// Main initialises and runs the referral daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/referrald/config.yaml", "path to referrald configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if value := strings.TrimSpace(os.Getenv("NAMEREF_ENV")); value != "" {
		env = value
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "referrald",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg.Telemetry, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(stopCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("close state", slog.Any("error", err))
		}
	}()

	server := NewServer(app, NewAuthenticator(cfg.Auth, logger), NewRateLimiter(cfg.RateLimit), logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("referrald listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Any("programs", app.Programs()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// telemetryConfig merges the file configuration with the standard OTLP
// environment variables, which take precedence.
func telemetryConfig(cfg TelemetryConfig, env string) telemetry.Config {
	out := telemetry.Config{
		ServiceName: "referrald",
		Environment: env,
		Endpoint:    strings.TrimSpace(cfg.Endpoint),
		Insecure:    cfg.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Headers),
		Metrics:     cfg.Metrics,
		Traces:      cfg.Traces,
		SampleRatio: cfg.SampleRatio,
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		out.Endpoint = endpoint
		out.Traces = true
		out.Metrics = true
	}
	if headers := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); strings.TrimSpace(headers) != "" {
		out.Headers = telemetry.ParseHeaders(headers)
	}
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			out.Insecure = parsed
		}
	}
	return out
}
