package paginate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/metrics"
)

// GuardFactory yields a fresh guard per producer so refresh budgets never
// carry over between producers.
type GuardFactory func() PageGuard

// RunnerConfig selects which producers a crawl run covers and how it paces
// between them.
type RunnerConfig struct {
	Kinds []harvest.ProducerKind
	// ProducerDelay is the fixed courtesy delay between producers.
	ProducerDelay time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if len(c.Kinds) == 0 {
		c.Kinds = []harvest.ProducerKind{harvest.KindPersonalAccount, harvest.KindTopic}
	}
	if c.ProducerDelay <= 0 {
		c.ProducerDelay = 5 * time.Second
	}
	return c
}

// Runner discovers producers and crawls them one at a time. An aborted
// producer is reported in the summary and never stops the run.
type Runner struct {
	producers harvest.ProducerStore
	paginator *Paginator
	guards    GuardFactory
	cfg       RunnerConfig
	logger    *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(producers harvest.ProducerStore, paginator *Paginator, guards GuardFactory, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		producers: producers,
		paginator: paginator,
		guards:    guards,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run crawls every discovered producer sequentially and returns a summary.
// The summary is valid even when the run stops early on context expiry.
func (r *Runner) Run(ctx context.Context) (harvest.CrawlSummary, error) {
	var summary harvest.CrawlSummary

	producers, err := r.producers.ProducersByKinds(ctx, r.cfg.Kinds)
	if err != nil {
		return summary, fmt.Errorf("discover producers: %w", err)
	}
	r.logger.Info("starting crawl run", zap.Int("producers", len(producers)))

	for i, producer := range producers {
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return summary, err
			}
		}

		processed, err := r.paginator.Crawl(ctx, producer, r.guards())
		summary.Producers++
		summary.PostsProcessed += processed
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Aborted++
			metrics.ObserveProducerAborted()
			r.logger.Warn("producer crawl aborted",
				zap.String("producer", producer.SourceID),
				zap.String("kind", string(producer.Kind)),
				zap.Int("processed", processed),
				zap.Bool("budget_exhausted", errors.Is(err, harvest.ErrProducerAborted)),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("producer crawled",
			zap.String("producer", producer.SourceID),
			zap.String("kind", string(producer.Kind)),
			zap.Int("processed", processed),
		)
	}

	r.logger.Info("crawl run finished",
		zap.Int("producers", summary.Producers),
		zap.Int("posts", summary.PostsProcessed),
		zap.Int("aborted", summary.Aborted),
	)
	return summary, nil
}

func (r *Runner) pause(ctx context.Context) error {
	timer := time.NewTimer(r.cfg.ProducerDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
