package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/MarkPhamm/consumer-complaint-pipeline/config"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing/exporters"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "complaints",
		Short:        "Consumer complaint extraction and warehouse loading pipeline",
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newRunCommand(),
		newMigrateCommand(),
		newResolveCommand(),
	)
	return root
}

// environment is what every command needs before it builds its dependencies.
type environment struct {
	config   *config.Config
	logger   ectologger.Logger
	provider *sdktrace.TracerProvider
	sync     func()
}

func loadEnvironment(ctx context.Context, override func(cfg *config.Config)) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	provider, err := tracing.NewProvider(ctx, tracing.ProviderConfig{
		ServiceName: cfg.AppName,
		Version:     cfg.Version,
		OTLPEnabled: cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Headers:  exporters.ParseHeaders(cfg.OTLPHeaders),
			Timeout:  10 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	return &environment{
		config:   cfg,
		logger:   logger,
		provider: provider,
		sync:     func() { _ = zapLogger.Sync() },
	}, nil
}

func (env *environment) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.provider.Shutdown(ctx); err != nil {
		env.logger.WithError(err).Warn("Failed to flush traces")
	}
	env.sync()
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %v", config.ErrInvalidConfig, err)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build(zap.Fields(
		zap.String("service", cfg.AppName),
		zap.String("version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func modeOverride(mode string) func(cfg *config.Config) {
	if mode == "" {
		return nil
	}
	return func(cfg *config.Config) {
		cfg.PipelineMode = models.PipelineMode(mode)
	}
}
