package weibo

import (
	"github.com/mediagrab/harvester/internal/harvest"
)

// HasMedia reports whether the post carries at least one image or video.
// Text-only posts leave no footprint: they are never persisted.
func HasMedia(post *Post) bool {
	if post == nil {
		return false
	}
	if len(post.PicIDs) > 0 || len(post.Pics) > 0 {
		return true
	}
	if post.PageInfo != nil && post.PageInfo.Type == "video" {
		return true
	}
	return false
}

// ExtractMedia normalizes a post payload into media descriptors. The inline
// picture list yields one descriptor per entry; a video page-info block
// synthesizes one additional video descriptor. A post without media yields
// nil.
func ExtractMedia(post *Post, postURL string) []harvest.MediaDescriptor {
	if post == nil {
		return nil
	}
	var medias []harvest.MediaDescriptor
	for _, pic := range post.Pics {
		if pic.Type == "video" && pic.VideoSrc != "" {
			medias = append(medias, harvest.MediaDescriptor{
				OriginURL: pic.VideoSrc,
				Kind:      harvest.MediaVideo,
				Width:     pic.Geo.Width.Int(),
				Height:    pic.Geo.Height.Int(),
				PostURL:   postURL,
			})
			continue
		}
		url := pic.URL
		width := pic.Geo.Width.Int()
		height := pic.Geo.Height.Int()
		// Prefer the large/original variant when present.
		if pic.Large != nil && pic.Large.URL != "" {
			url = pic.Large.URL
			if w := pic.Large.Geo.Width.Int(); w != nil {
				width = w
			}
			if h := pic.Large.Geo.Height.Int(); h != nil {
				height = h
			}
		}
		if url == "" {
			continue
		}
		medias = append(medias, harvest.MediaDescriptor{
			OriginURL: url,
			Kind:      harvest.MediaImage,
			Width:     width,
			Height:    height,
			PostURL:   postURL,
		})
	}
	if video := pageInfoVideo(post.PageInfo, postURL); video != nil {
		medias = append(medias, *video)
	}
	return medias
}

// pageInfoVideo synthesizes a video descriptor from the attached-video block.
// Stream selection: HD stream, then SD stream, then the first entry of the
// alternate-format map. Poster dimensions default to 0 on parse failure.
func pageInfoVideo(info *PageInfo, postURL string) *harvest.MediaDescriptor {
	if info == nil || info.Type != "video" {
		return nil
	}
	var url string
	if info.MediaInfo != nil {
		if info.MediaInfo.StreamURLHD != "" {
			url = info.MediaInfo.StreamURLHD
		} else {
			url = info.MediaInfo.StreamURL
		}
	}
	if url == "" {
		url = firstOrderedURL(info.URLs)
	}
	if url == "" {
		return nil
	}
	width := info.PagePic.Width.IntOrZero()
	height := info.PagePic.Height.IntOrZero()
	return &harvest.MediaDescriptor{
		OriginURL: url,
		Kind:      harvest.MediaVideo,
		Width:     &width,
		Height:    &height,
		PostURL:   postURL,
	}
}
