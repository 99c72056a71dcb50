// Package lifecycle drives Post records from PENDING to a terminal status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/dedup"
	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/pipeline"
	"github.com/mediagrab/harvester/internal/weibo"
)

// DetailSource renders a post's detail page. Satisfied by weibo.Client.
type DetailSource interface {
	FetchDetail(ctx context.Context, platformID string) (*weibo.Post, error)
	DetailURL(platformID string) string
}

// FetchGuard wraps detail fetches with failure classification and bounded
// recovery. Satisfied by session.Guard.
type FetchGuard interface {
	Do(ctx context.Context, fetch func(ctx context.Context) error) error
}

// Ingestor runs media descriptors through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, post harvest.Post, descriptors []harvest.MediaDescriptor) (pipeline.Result, error)
}

// Config bounds one consumer run.
type Config struct {
	// MaxPosts caps how many PENDING posts one run drains.
	MaxPosts int
	// Kinds restricts the drain to posts from producers of these kinds;
	// empty means all kinds.
	Kinds []harvest.ProducerKind
	// Topic names the completion-event topic; empty disables publishing.
	Topic string
}

func (c Config) withDefaults() Config {
	if c.MaxPosts <= 0 {
		c.MaxPosts = 100
	}
	return c
}

// CompletionEvent is published after a post reaches a terminal status.
type CompletionEvent struct {
	PostID     string    `json:"post_id"`
	PlatformID string    `json:"platform_id"`
	Status     string    `json:"status"`
	MediaCount int       `json:"media_count"`
	At         time.Time `json:"at"`
}

// Consumer drains PENDING posts one at a time: fetch detail, extract media,
// drop known items, ingest the rest, advance the status. FAILED is terminal;
// nothing here re-enqueues.
type Consumer struct {
	posts     harvest.PostStore
	gate      *dedup.Gate
	detail    DetailSource
	guard     FetchGuard
	ingestor  Ingestor
	publisher harvest.Publisher
	clock     harvest.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Consumer. publisher may be nil to disable completion events.
func New(posts harvest.PostStore, gate *dedup.Gate, detail DetailSource, guard FetchGuard, ingestor Ingestor, publisher harvest.Publisher, clock harvest.Clock, cfg Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		posts:     posts,
		gate:      gate,
		detail:    detail,
		guard:     guard,
		ingestor:  ingestor,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run drains PENDING posts until the store is empty, the iteration bound is
// hit, or the context finishes. The summary is valid on early stops.
func (c *Consumer) Run(ctx context.Context) (harvest.IngestSummary, error) {
	var summary harvest.IngestSummary

	for i := 0; i < c.cfg.MaxPosts; i++ {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		post, err := c.posts.NextPendingPost(ctx, c.cfg.Kinds)
		if err != nil {
			return summary, fmt.Errorf("next pending post: %w", err)
		}
		if post == nil {
			c.logger.Info("no pending posts left", zap.Int("processed", summary.PostsProcessed))
			break
		}

		// If the claim fails the store is in trouble; stop rather than spin
		// on the same row.
		if err := c.posts.UpdatePostStatus(ctx, post.ID, harvest.PostStatusProcessing); err != nil {
			return summary, fmt.Errorf("claim post %s: %w", post.ID, err)
		}

		status, uploaded, failed, perr := c.processOne(ctx, *post)
		summary.PostsProcessed++
		summary.MediaUploaded += uploaded
		summary.MediaFailed += failed

		if serr := c.posts.UpdatePostStatus(ctx, post.ID, status); serr != nil {
			c.logger.Error("post status update failed",
				zap.String("post_id", post.ID),
				zap.String("status", string(status)),
				zap.Error(serr),
			)
		}
		c.publish(ctx, *post, status, uploaded)

		if perr != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			c.logger.Warn("post ingestion failed",
				zap.String("post_id", post.ID),
				zap.String("platform_id", post.PlatformID),
				zap.Error(perr),
			)
			// A spent session budget would fail every remaining post the
			// same way; stop the run and leave them PENDING.
			if errors.Is(perr, harvest.ErrProducerAborted) {
				c.logger.Warn("session budget exhausted, stopping consumer run")
				break
			}
		}
	}
	return summary, nil
}

// processOne runs one claimed post to a terminal status. Partial success is
// success: one persisted record, or a legitimately media-free post, is
// UPLOADED.
func (c *Consumer) processOne(ctx context.Context, post harvest.Post) (status harvest.PostStatus, uploaded, failed int, err error) {
	var detail *weibo.Post
	ferr := c.guard.Do(ctx, func(ctx context.Context) error {
		got, derr := c.detail.FetchDetail(ctx, post.PlatformID)
		if derr != nil {
			return derr
		}
		detail = got
		return nil
	})
	if ferr != nil {
		return harvest.PostStatusFailed, 0, 0, fmt.Errorf("fetch detail: %w", ferr)
	}

	descriptors := weibo.ExtractMedia(detail, c.detail.DetailURL(post.PlatformID))
	if len(descriptors) == 0 {
		return harvest.PostStatusUploaded, 0, 0, nil
	}

	fresh, derr := c.gate.FilterKnownMedia(ctx, descriptors)
	if derr != nil {
		return harvest.PostStatusFailed, 0, 0, fmt.Errorf("media dedup: %w", derr)
	}
	if len(fresh) == 0 {
		// Everything already ingested in an earlier run.
		return harvest.PostStatusUploaded, 0, 0, nil
	}

	result, ierr := c.ingestor.Ingest(ctx, post, fresh)
	if ierr != nil {
		return harvest.PostStatusFailed, 0, result.Failed, fmt.Errorf("ingest media: %w", ierr)
	}
	if len(result.Records) == 0 {
		return harvest.PostStatusFailed, 0, result.Failed, errors.New("every media item failed")
	}
	return harvest.PostStatusUploaded, len(result.Records), result.Failed, nil
}

func (c *Consumer) publish(ctx context.Context, post harvest.Post, status harvest.PostStatus, mediaCount int) {
	if c.publisher == nil || c.cfg.Topic == "" {
		return
	}
	event := CompletionEvent{
		PostID:     post.ID,
		PlatformID: post.PlatformID,
		Status:     string(status),
		MediaCount: mediaCount,
		At:         c.clock.Now(),
	}
	if _, err := c.publisher.Publish(ctx, c.cfg.Topic, event); err != nil {
		c.logger.Warn("completion event publish failed",
			zap.String("post_id", post.ID),
			zap.Error(err),
		)
	}
}
