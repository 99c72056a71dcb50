package harvest

import (
	"context"
	"time"
)

// ProducerStore reads crawl targets and records crawl progress.
type ProducerStore interface {
	ProducersByKinds(ctx context.Context, kinds []ProducerKind) ([]Producer, error)
	AdvanceLastCrawl(ctx context.Context, producerID string, at time.Time) error
}

// PostStore persists post rows and drives the post lifecycle.
type PostStore interface {
	// UpsertPost inserts the post or, on a (platform, platform_id) conflict,
	// updates the mutable fields. It reports whether a new row was created.
	UpsertPost(ctx context.Context, post Post) (created bool, err error)
	UpdatePostStatus(ctx context.Context, postID string, status PostStatus) error
	// NextPendingPost returns the oldest PENDING post whose producer has one
	// of the given kinds; empty kinds means any producer.
	NextPendingPost(ctx context.Context, kinds []ProducerKind) (*Post, error)
}

// MediaStore persists ingested media and answers dedup lookups.
type MediaStore interface {
	// ExistingMediaURLs returns the subset of urls that already have records,
	// resolved in a single batched query.
	ExistingMediaURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
	InsertMedia(ctx context.Context, records []MediaRecord) (int, error)
}

// UploadItem is one media object, with an optional thumbnail rendition, to
// publish to the gallery.
type UploadItem struct {
	Filename string
	MimeType string
	Data     []byte
	Thumb    []byte
}

// Gallery uploads media bytes to the remote content store.
type Gallery interface {
	Upload(ctx context.Context, item UploadItem) (GalleryResult, error)
}

// GalleryResult is the remote location of one uploaded object.
type GalleryResult struct {
	URL          string
	ThumbnailURL string
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
