package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarkPhamm/consumer-complaint-pipeline/internal/server"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/scheduler"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/startup"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := loadEnvironment(ctx, nil)
			if err != nil {
				return err
			}
			defer env.close()

			app := server.NewApp(env.config, env.logger)
			deps := startup.NewStartup(env.logger, env.config.StartupMaxAttempts)
			app.RegisterServe(deps)

			if err := deps.Start(ctx); err != nil {
				env.logger.WithError(err).Error("Startup failed")
				_ = shutdown(env.config.ShutdownTimeout, deps)
				return err
			}

			<-ctx.Done()
			env.logger.Info("Shutting down")
			return shutdown(env.config.ShutdownTimeout, deps)
		},
	}
}

func newRunCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := loadEnvironment(ctx, modeOverride(mode))
			if err != nil {
				return err
			}
			defer env.close()

			app := server.NewApp(env.config, env.logger)
			deps := startup.NewStartup(env.logger, env.config.StartupMaxAttempts)
			app.RegisterPipeline(deps)
			defer func() { _ = shutdown(env.config.ShutdownTimeout, deps) }()

			if err := deps.Start(ctx); err != nil {
				return err
			}

			run, runErr := app.Scheduler().Trigger(ctx, scheduler.TriggerCLI)
			if run != nil {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(run); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "load path override: staged or direct")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnvironment(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer env.close()

			app := server.NewApp(env.config, env.logger)
			deps := startup.NewStartup(env.logger, env.config.StartupMaxAttempts)
			app.RegisterMigrate(deps)
			defer func() { _ = shutdown(env.config.ShutdownTimeout, deps) }()

			return deps.Start(cmd.Context())
		},
	}
}

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the latest staged extract of every company",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnvironment(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer env.close()

			app := server.NewApp(env.config, env.logger)
			deps := startup.NewStartup(env.logger, env.config.StartupMaxAttempts)
			app.RegisterResolve(deps)
			defer func() { _ = shutdown(env.config.ShutdownTimeout, deps) }()

			if err := deps.Start(cmd.Context()); err != nil {
				return err
			}
			if app.Store() == nil {
				return errors.New("S3_BUCKET_NAME is not configured")
			}

			files, err := app.Resolver().Latest(cmd.Context(), app.Store())
			if err != nil {
				return err
			}
			for _, file := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\ts3://%s/%s\n", file.Company, file.Timestamp, app.Store().Bucket(), file.ObjectKey)
			}
			return nil
		},
	}
}

func shutdown(timeout time.Duration, deps *startup.Startup) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return deps.Stop(ctx)
}
