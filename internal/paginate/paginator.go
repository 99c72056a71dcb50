// Package paginate drives the cursor-based page loop over a producer's feed.
package paginate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mediagrab/harvester/internal/dedup"
	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/metrics"
	"github.com/mediagrab/harvester/internal/weibo"
)

// Producers crawled before only need the newest pages; the clamp depends on
// how fast each kind of feed moves.
const (
	incrementalPersonalPages = 1
	incrementalTopicPages    = 5
)

// FeedSource fetches one feed page at a cursor.
type FeedSource interface {
	FetchPage(ctx context.Context, producer harvest.Producer, cursor string) (weibo.FeedPage, error)
}

// PageGuard wraps a page fetch with failure classification and bounded
// recovery. Satisfied by session.Guard.
type PageGuard interface {
	Do(ctx context.Context, fetch func(ctx context.Context) error) error
}

// Config controls pagination depth and pacing.
type Config struct {
	// MaxPages bounds a first-ever (backfill) crawl.
	MaxPages int
	// PageDelay is the fixed courtesy delay between page fetches.
	PageDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	if c.PageDelay <= 0 {
		c.PageDelay = 5 * time.Second
	}
	return c
}

// Paginator crawls one producer's feed page by page, persisting qualifying
// posts as PENDING rows. The crawl domain is strictly sequential: one page
// completes before the next begins.
type Paginator struct {
	feed      FeedSource
	gate      *dedup.Gate
	producers harvest.ProducerStore
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Paginator.
func New(feed FeedSource, gate *dedup.Gate, producers harvest.ProducerStore, clock harvest.Clock, cfg Config, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		feed:      feed,
		gate:      gate,
		producers: producers,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Crawl pages through the producer's feed and reports how many new posts were
// persisted. It stops when the source returns no next cursor, when the page
// bound is reached, or when a whole page turns out to be already known (feeds
// are reverse-chronological, so nothing older can be new either).
func (p *Paginator) Crawl(ctx context.Context, producer harvest.Producer, guard PageGuard) (int, error) {
	maxPages := p.cfg.MaxPages
	if producer.LastCrawlAt != nil {
		if bound := incrementalBound(producer.Kind); bound < maxPages {
			maxPages = bound
		}
	}
	limiter := rate.NewLimiter(rate.Every(p.cfg.PageDelay), 1)

	processed := 0
	cursor := ""
	for page := 0; page < maxPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return processed, err
		}

		var feed weibo.FeedPage
		err := guard.Do(ctx, func(ctx context.Context) error {
			got, ferr := p.feed.FetchPage(ctx, producer, cursor)
			if ferr != nil {
				return ferr
			}
			feed = got
			return nil
		})
		if err != nil {
			return processed, fmt.Errorf("fetch page %d for %s: %w", page, producer.SourceID, err)
		}
		metrics.ObservePage()

		created, qualified := p.persistPage(ctx, producer, feed.Posts)
		processed += created
		metrics.ObservePostsDiscovered(created)

		p.logger.Info("page crawled",
			zap.String("producer", producer.SourceID),
			zap.Int("page", page),
			zap.Int("posts", len(feed.Posts)),
			zap.Int("qualified", qualified),
			zap.Int("created", created),
		)

		if feed.NextCursor == "" {
			break
		}
		if qualified > 0 && created == 0 {
			p.logger.Debug("page fully known, stopping early",
				zap.String("producer", producer.SourceID),
				zap.Int("page", page),
			)
			break
		}
		cursor = feed.NextCursor
	}

	if err := p.producers.AdvanceLastCrawl(ctx, producer.ID, p.clock.Now()); err != nil {
		return processed, fmt.Errorf("advance last crawl for %s: %w", producer.ID, err)
	}
	return processed, nil
}

// persistPage upserts the page's qualifying posts. Text-only posts leave no
// footprint; malformed entries are skipped, never fatal.
func (p *Paginator) persistPage(ctx context.Context, producer harvest.Producer, posts []*weibo.Post) (created, qualified int) {
	for _, raw := range posts {
		if raw == nil || raw.ID.String() == "" {
			p.logger.Debug("skipping post without id", zap.String("producer", producer.SourceID))
			continue
		}
		if !weibo.HasMedia(raw) {
			continue
		}
		qualified++

		post := harvest.Post{
			ID:         uuid.NewString(),
			Platform:   weibo.Platform,
			PlatformID: raw.ID.String(),
			ProducerID: producer.ID,
			UserID:     raw.UserID(),
			CreatedAt:  raw.CreatedTime(),
			Status:     harvest.PostStatusPending,
		}
		isNew, err := p.gate.UpsertPost(ctx, post)
		if err != nil {
			p.logger.Warn("post upsert failed",
				zap.String("platform_id", post.PlatformID),
				zap.Error(err),
			)
			continue
		}
		if isNew {
			created++
		}
	}
	return created, qualified
}

func incrementalBound(kind harvest.ProducerKind) int {
	if kind == harvest.KindTopic {
		return incrementalTopicPages
	}
	return incrementalPersonalPages
}
