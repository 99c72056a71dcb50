package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/paginate"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walks producer feeds and records posts that carry media",
		Long: `Crawls every configured producer sequentially, paging through its feed
and recording posts that carry media as PENDING. A producer whose recovery
budget runs out is skipped; the run continues with the next one.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	runCtx, cancel := context.WithTimeout(cmd.Context(), cfg.RunDeadline())
	defer cancel()

	c, err := buildCore(runCtx, rt)
	if err != nil {
		return err
	}
	defer c.Close()

	paginator := paginate.New(c.client, c.gate, c.store, c.clock, paginate.Config{
		MaxPages:  cfg.Crawl.MaxPages,
		PageDelay: cfg.PageDelay(),
	}, logger.Named("paginate"))

	runner := paginate.NewRunner(c.store, paginator,
		func() paginate.PageGuard { return c.newGuard() },
		paginate.RunnerConfig{
			Kinds:         producerKinds(cfg.Crawl.Kinds),
			ProducerDelay: cfg.ProducerDelay(),
		}, logger)

	summary, err := runner.Run(runCtx)
	logger.Info("crawl run finished",
		zap.Int("producers", summary.Producers),
		zap.Int("posts_processed", summary.PostsProcessed),
		zap.Int("aborted", summary.Aborted),
	)

	switch {
	case err == nil:
		c.pushBackCredential()
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		logger.Info("run deadline reached, stopping cleanly")
		c.pushBackCredential()
		return nil
	case errors.Is(err, context.Canceled):
		logger.Info("run interrupted, stopping cleanly")
		return nil
	default:
		return fmt.Errorf("run crawl: %w", err)
	}
}
