// Package harvest defines core types shared across subsystems.
package harvest

import "time"

// ProducerKind selects which crawl strategy applies to a producer.
type ProducerKind string

// Producer kinds persisted in the producer table.
const (
	KindPersonalAccount ProducerKind = "personal-account"
	KindTopic           ProducerKind = "topic"
)

// Producer is a crawl target: a personal account or a topic/channel.
type Producer struct {
	ID          string
	SourceID    string
	Kind        ProducerKind
	Name        string
	LastCrawlAt *time.Time
}

// PostStatus represents the lifecycle state of a harvested post.
type PostStatus string

// Post status values persisted in the post table.
const (
	PostStatusPending    PostStatus = "PENDING"
	PostStatusProcessing PostStatus = "PROCESSING"
	PostStatusUploaded   PostStatus = "UPLOADED"
	PostStatusFailed     PostStatus = "FAILED"
)

// Post is one piece of source content discovered during a crawl.
// Identity is (Platform, PlatformID).
type Post struct {
	ID         string
	Platform   string
	PlatformID string
	ProducerID string
	UserID     string
	CreatedAt  time.Time
	Status     PostStatus
}

// MediaKind distinguishes image and video descriptors.
type MediaKind string

// Media kinds.
const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaDescriptor is a transient reference to one image or video found in a
// post payload. It is never persisted; the pipeline consumes it immediately.
type MediaDescriptor struct {
	OriginURL string
	Kind      MediaKind
	Width     *int
	Height    *int
	PostURL   string
}

// MediaRecord is the persisted result of a successful ingestion.
// Identity is OriginURL, which doubles as the dedup key.
type MediaRecord struct {
	OriginURL    string
	GalleryURL   string
	ThumbnailURL string
	Width        *int
	Height       *int
	PostID       string
	UserID       string
	PostURL      string
}

// CrawlSummary reports what a single run accomplished.
type CrawlSummary struct {
	Producers      int
	PostsProcessed int
	Aborted        int
}

// IngestSummary reports what an ingestion-consumer run accomplished.
type IngestSummary struct {
	PostsProcessed int
	MediaUploaded  int
	MediaFailed    int
}
