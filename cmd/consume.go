package cmd

import (
	"context"
	"errors"
	"fmt"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/archive/gcs"
	eventspubsub "github.com/mediagrab/harvester/internal/events/pubsub"
	"github.com/mediagrab/harvester/internal/gallery"
	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/lifecycle"
	"github.com/mediagrab/harvester/internal/pipeline"
)

// newConsumeCmd creates and configures the 'consume' subcommand.
func newConsumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Drains pending posts and ingests their media",
		Long: `Drains PENDING posts one at a time: renders the post's detail page,
extracts its media, downloads and transcodes each item, and uploads the
results to the gallery. Every drained post ends UPLOADED or FAILED.`,

		RunE: runConsumeCommand,
	}
	return cmd
}

func runConsumeCommand(cmd *cobra.Command, _ []string) error {
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

	galleryClient, err := gallery.NewClient(nil, gallery.Config{
		BaseURL:   cfg.Gallery.BaseURL,
		AuthToken: cfg.Gallery.AuthToken,
	}, logger.Named("gallery"))
	if err != nil {
		return fmt.Errorf("init gallery client: %w", err)
	}

	archiveStore, closeArchive, err := buildArchive(runCtx, cfg.Archive.Bucket, cfg.Archive.Prefix)
	if err != nil {
		return err
	}
	defer closeArchive()

	publisher, closePublisher, err := buildPublisher(runCtx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return err
	}
	defer closePublisher()

	downloader := pipeline.NewDownloader(nil, pipeline.DownloaderConfig{
		MaxBytes:  int64(cfg.Ingest.MaxDownloadMB) << 20,
		Timeout:   cfg.DownloadTimeout(),
		UserAgent: cfg.Browser.UserAgent,
	}, logger.Named("download"))
	transcoder := pipeline.NewTranscoder(pipeline.TranscoderConfig{
		ThumbMaxDim: cfg.Ingest.ThumbMaxDim,
	})
	pipe := pipeline.New(downloader, transcoder, galleryClient, c.store, archiveStore, pipeline.Config{
		Concurrency:   cfg.Ingest.Concurrency,
		UploadRetries: cfg.Ingest.UploadRetries,
	}, logger.Named("pipeline"))

	consumer := lifecycle.New(c.store, c.gate, c.client, c.newGuard(), pipe, publisher, c.clock, lifecycle.Config{
		MaxPosts: cfg.Ingest.MaxPosts,
		Kinds:    producerKinds(cfg.Crawl.Kinds),
		Topic:    cfg.PubSub.TopicName,
	}, logger.Named("consume"))

	summary, err := consumer.Run(runCtx)
	logger.Info("consume run finished",
		zap.Int("posts_processed", summary.PostsProcessed),
		zap.Int("media_uploaded", summary.MediaUploaded),
		zap.Int("media_failed", summary.MediaFailed),
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
		return fmt.Errorf("run consume: %w", err)
	}
}

// buildArchive returns a raw-media archive when a bucket is configured, or a
// nil store when archival is disabled.
func buildArchive(ctx context.Context, bucket, prefix string) (harvest.BlobStore, func(), error) {
	if bucket == "" {
		return nil, func() {}, nil
	}
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage client: %w", err)
	}
	store, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: prefix})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("init archive: %w", err)
	}
	return store, func() { _ = client.Close() }, nil
}

// buildPublisher returns a completion-event publisher when a topic is
// configured, or nil when publishing is disabled.
func buildPublisher(ctx context.Context, projectID, topic string) (harvest.Publisher, func(), error) {
	if projectID == "" || topic == "" {
		return nil, func() {}, nil
	}
	client, err := gcpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := eventspubsub.New(client)
	return pub, func() {
		pub.Stop()
		_ = client.Close()
	}, nil
}
