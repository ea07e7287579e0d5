// Package main is the entry point for the veilproxy binary.
// It provides a CLI for starting the masking reverse proxy.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/veilproxy/veilproxy/pkg/config"
	"github.com/veilproxy/veilproxy/pkg/detect"
	"github.com/veilproxy/veilproxy/pkg/proxy"
	"github.com/veilproxy/veilproxy/pkg/telemetry"
)

const defaultLogLevel = "info"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for veilproxy
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "veilproxy",
		Short: "Privacy masking reverse proxy for LLM APIs",
		Long: `A reverse proxy that masks sensitive values in chat completion requests
before they leave your network and restores them in the responses.

Placeholders are scoped to a single request, so the upstream provider
only ever sees tokens like <EMAIL_ADDRESS_1>.

Example:
  veilproxy --config config.yaml --listen :8090`,
		RunE: runProxy,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("listen", "p", "", "Listen address, overrides the config file")
	rootCmd.Flags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	return rootCmd
}

func runProxy(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	listenAddr, err := cmd.Flags().GetString("listen")
	if err != nil {
		return fmt.Errorf("failed to get listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if listenAddr != "" {
		cfg.Server.ListenAddress = listenAddr
	}
	if cfg.Logging.Level != "" && logLevel == defaultLogLevel {
		logger = newLogger(cfg.Logging.Level)
		slog.SetDefault(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "veilproxy",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	detector := detect.NewPresidioClient(detect.PresidioConfig{
		AnalyzerURL:    cfg.Detector.AnalyzerURL,
		Entities:       cfg.Detector.Entities,
		ScoreThreshold: cfg.Detector.ScoreThreshold,
		Timeout:        time.Duration(cfg.Detector.TimeoutSeconds) * time.Second,
	}, logger)

	secrets, err := detect.NewSecretMatcher(cfg.Masking.Rules())
	if err != nil {
		return fmt.Errorf("failed to compile secret rules: %w", err)
	}

	pipeline, err := proxy.NewPipeline(proxy.PipelineConfig{
		Detector: detector,
		Secrets:  secrets,
		Language: cfg.Detector.Language,
		Masking:  cfg.Masking,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	metrics := proxy.NewMetrics()
	handler, err := proxy.NewHandler(proxy.HandlerConfig{
		Pipeline:    pipeline,
		Metrics:     metrics,
		Logger:      logger,
		UpstreamURL: cfg.Upstream.BaseURL,
		Client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
	})
	if err != nil {
		return err
	}

	server := proxy.NewServer(cfg.Server.ListenAddress, handler, metrics, logger)

	var watcher *config.Watcher
	if configPath != "" {
		watcher, err = config.NewWatcher(configPath, logger, func(next *config.Config) {
			if err := secrets.Reload(next.Masking.Rules()); err != nil {
				metrics.RecordSecretRuleReload(false)
				logger.Error("secret rule reload failed, keeping previous rules", slog.Any("error", err))
				return
			}
			metrics.RecordSecretRuleReload(true)
			logger.Info("secret rules reloaded", slog.Int("rules", len(secrets.Rules())))
		})
		if err != nil {
			return fmt.Errorf("failed to watch configuration: %w", err)
		}
		defer watcher.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("veilproxy started",
		slog.String("listen", cfg.Server.ListenAddress),
		slog.String("upstream", cfg.Upstream.BaseURL),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-errCh
}

// newLogger builds a JSON slog logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
