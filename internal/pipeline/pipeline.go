package pipeline

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/hash/sha256"
	"github.com/mediagrab/harvester/internal/metrics"
)

// Config bounds the pipeline's concurrency and upload retries.
type Config struct {
	// Concurrency caps simultaneously in-flight items.
	Concurrency int
	// UploadRetries bounds additional upload attempts after the first.
	UploadRetries int
	UploadBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.UploadRetries <= 0 {
		c.UploadRetries = 2
	}
	if c.UploadBackoff <= 0 {
		c.UploadBackoff = time.Second
	}
	return c
}

// Result is the per-post outcome of one pipeline run.
type Result struct {
	Records []harvest.MediaRecord
	Failed  int
}

// Pipeline ingests media descriptors: download, transcode (images only),
// upload, persist. Item failures are contained; they never abort the other
// items or the post.
type Pipeline struct {
	downloader *Downloader
	transcoder *Transcoder
	gallery    harvest.Gallery
	media      harvest.MediaStore
	archive    harvest.BlobStore
	cfg        Config
	logger     *zap.Logger
}

// New builds a Pipeline. archive may be nil to skip raw-byte archival.
func New(downloader *Downloader, transcoder *Transcoder, gallery harvest.Gallery, media harvest.MediaStore, archive harvest.BlobStore, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		downloader: downloader,
		transcoder: transcoder,
		gallery:    gallery,
		media:      media,
		archive:    archive,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Ingest runs every descriptor through the pool and bulk-inserts the
// resulting records. It returns only after all items have resolved, so the
// caller can safely advance the post's terminal status.
func (p *Pipeline) Ingest(ctx context.Context, post harvest.Post, descriptors []harvest.MediaDescriptor) (Result, error) {
	var result Result
	if len(descriptors) == 0 {
		return result, nil
	}

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, descriptor := range descriptors {
		descriptor := descriptor
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return result, ctx.Err()
		}
		wg.Add(1)
		metrics.IncActiveWorkers()
		go func() {
			defer func() {
				metrics.DecActiveWorkers()
				<-sem
				wg.Done()
			}()

			record, err := p.ingestOne(ctx, post, descriptor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				metrics.ObserveMediaFailed(string(descriptor.Kind))
				p.logger.Warn("media item failed",
					zap.String("post_id", post.ID),
					zap.String("origin_url", descriptor.OriginURL),
					zap.String("kind", string(descriptor.Kind)),
					zap.Error(err),
				)
				return
			}
			result.Records = append(result.Records, record)
			metrics.ObserveMediaIngested(string(descriptor.Kind))
		}()
	}
	wg.Wait()

	if len(result.Records) > 0 {
		if _, err := p.media.InsertMedia(ctx, result.Records); err != nil {
			return Result{Failed: len(descriptors)}, fmt.Errorf("persist media for post %s: %w", post.ID, err)
		}
	}
	return result, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, post harvest.Post, descriptor harvest.MediaDescriptor) (harvest.MediaRecord, error) {
	var record harvest.MediaRecord

	data, contentType, err := p.downloader.Fetch(ctx, descriptor.OriginURL, descriptor.PostURL)
	if err != nil {
		return record, err
	}
	p.archiveRaw(ctx, descriptor, contentType, data)

	item, err := p.prepare(descriptor, contentType, data)
	if err != nil {
		return record, err
	}

	uploadPolicy := harvest.RetryPolicy{
		MaxAttempts: 1 + p.cfg.UploadRetries,
		Backoff:     p.cfg.UploadBackoff,
	}
	var uploaded harvest.GalleryResult
	err = uploadPolicy.Do(ctx, func(ctx context.Context) error {
		got, uerr := p.gallery.Upload(ctx, item)
		if uerr != nil {
			return uerr
		}
		uploaded = got
		return nil
	})
	if err != nil {
		return record, fmt.Errorf("upload %s: %w", descriptor.OriginURL, err)
	}

	return harvest.MediaRecord{
		OriginURL:    descriptor.OriginURL,
		GalleryURL:   uploaded.URL,
		ThumbnailURL: uploaded.ThumbnailURL,
		Width:        descriptor.Width,
		Height:       descriptor.Height,
		PostID:       post.ID,
		UserID:       post.UserID,
		PostURL:      descriptor.PostURL,
	}, nil
}

// prepare turns downloaded bytes into the gallery upload: images get
// recompressed plus a thumbnail, videos pass through unchanged.
func (p *Pipeline) prepare(descriptor harvest.MediaDescriptor, contentType string, data []byte) (harvest.UploadItem, error) {
	name := sha256.Short(data, 16)
	switch descriptor.Kind {
	case harvest.MediaImage:
		full, thumb, err := p.transcoder.Transcode(data)
		if err != nil {
			return harvest.UploadItem{}, err
		}
		return harvest.UploadItem{
			Filename: name + ".webp",
			MimeType: "image/webp",
			Data:     full,
			Thumb:    thumb,
		}, nil
	case harvest.MediaVideo:
		mimeType := contentType
		if mimeType == "" || !strings.HasPrefix(mimeType, "video/") {
			mimeType = "video/mp4"
		}
		return harvest.UploadItem{
			Filename: name + extensionFor(mimeType, ".mp4"),
			MimeType: mimeType,
			Data:     data,
		}, nil
	default:
		return harvest.UploadItem{}, fmt.Errorf("%w: kind %q", harvest.ErrUnsupportedMedia, descriptor.Kind)
	}
}

// archiveRaw writes the original bytes aside before any transcoding. Archive
// failures are logged and swallowed; the gallery copy is the one that counts.
func (p *Pipeline) archiveRaw(ctx context.Context, descriptor harvest.MediaDescriptor, contentType string, data []byte) {
	if p.archive == nil {
		return
	}
	ext := extensionFor(contentType, "")
	if ext == "" {
		if descriptor.Kind == harvest.MediaVideo {
			ext = ".mp4"
		} else {
			ext = ".jpg"
		}
	}
	path := "media/" + sha256.Digest(data) + ext
	if _, err := p.archive.PutObject(ctx, path, contentType, data); err != nil {
		p.logger.Warn("raw media archival failed",
			zap.String("origin_url", descriptor.OriginURL),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func extensionFor(mimeType, fallback string) string {
	mimeType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return fallback
}
