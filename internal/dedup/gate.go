// Package dedup filters already-ingested posts and media out of the pipeline.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
)

// Gate answers "have we seen this before" for posts and media. Post identity
// is (platform, platform id); media identity is the origin URL.
type Gate struct {
	posts  harvest.PostStore
	media  harvest.MediaStore
	logger *zap.Logger
}

// New creates a Gate over the persistence capabilities.
func New(posts harvest.PostStore, media harvest.MediaStore, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{posts: posts, media: media, logger: logger}
}

// UpsertPost records a sighting of the post. Re-seeing a known post updates
// its mutable fields without error; the return value reports whether the row
// is new, which the paginator uses for its early-stop decision.
func (g *Gate) UpsertPost(ctx context.Context, post harvest.Post) (bool, error) {
	created, err := g.posts.UpsertPost(ctx, post)
	if err != nil {
		return false, fmt.Errorf("upsert post %s/%s: %w", post.Platform, post.PlatformID, err)
	}
	return created, nil
}

// FilterKnownMedia drops descriptors whose origin URL already has a media
// record, and collapses repeats of the same origin URL within the batch so
// an origin URL is never uploaded twice. The persistence lookup is one
// batched query regardless of descriptor count.
func (g *Gate) FilterKnownMedia(ctx context.Context, descriptors []harvest.MediaDescriptor) ([]harvest.MediaDescriptor, error) {
	if len(descriptors) == 0 {
		return nil, nil
	}
	urls := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		if d.OriginURL != "" {
			urls = append(urls, d.OriginURL)
		}
	}
	known, err := g.media.ExistingMediaURLs(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("check existing media urls: %w", err)
	}

	fresh := descriptors[:0:0]
	for _, d := range descriptors {
		if d.OriginURL == "" {
			continue
		}
		if _, seen := known[d.OriginURL]; seen {
			continue
		}
		known[d.OriginURL] = struct{}{}
		fresh = append(fresh, d)
	}
	if dropped := len(descriptors) - len(fresh); dropped > 0 {
		g.logger.Debug("dropped already-ingested media", zap.Int("dropped", dropped))
	}
	return fresh, nil
}
