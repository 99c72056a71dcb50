// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/config"
	"github.com/mediagrab/harvester/internal/logging"
	"github.com/mediagrab/harvester/internal/telemetry"
)

var cfgFile string

// runtimeKeyType is the key for storing shared runtime state in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries the loaded configuration and logger from the root command
// into subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	tracer *sdktrace.TracerProvider
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Crawls social-media producers and ingests their media.",
		Long: `harvester keeps a library of social-media posts and their media current.
The crawl command walks each configured producer's feed and records posts
that carry media; the consume command drains those pending posts, downloads
and transcodes their media, and uploads the results to the gallery.`,

		SilenceUsage: true,

		// Runs after flag parsing, before the subcommand's RunE. Loads
		// configuration and builds the logger the subcommand will use.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cmd.Name(), cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			tracer, err := telemetry.InitTracerProvider(cmd.Context(), "harvester-"+cmd.Name())
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger, tracer: tracer})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, ok := cmd.Context().Value(runtimeKey).(*runtime)
			if !ok || rt == nil {
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rt.tracer.Shutdown(shutdownCtx); err != nil {
				rt.logger.Warn("tracer shutdown error", zap.Error(err))
			}
			cancel()
			_ = rt.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (environment variables override it)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newConsumeCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point. It returns the process exit code: a run
// stopped by its deadline or a signal still exits zero.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
