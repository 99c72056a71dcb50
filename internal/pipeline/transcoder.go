package pipeline

import (
	"bytes"
	"fmt"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/mediagrab/harvester/internal/harvest"
)

// TranscoderConfig controls image recompression.
type TranscoderConfig struct {
	Quality      float32
	ThumbQuality float32
	// ThumbMaxDim caps the thumbnail's longest side. Smaller images are never
	// upscaled.
	ThumbMaxDim int
}

func (c TranscoderConfig) withDefaults() TranscoderConfig {
	if c.Quality <= 0 {
		c.Quality = 80
	}
	if c.ThumbQuality <= 0 {
		c.ThumbQuality = 50
	}
	if c.ThumbMaxDim <= 0 {
		c.ThumbMaxDim = 600
	}
	return c
}

// Transcoder recompresses images to WebP and renders a bounded thumbnail.
// Videos pass through the pipeline untouched.
type Transcoder struct {
	cfg TranscoderConfig
}

// NewTranscoder builds a Transcoder.
func NewTranscoder(cfg TranscoderConfig) *Transcoder {
	return &Transcoder{cfg: cfg.withDefaults()}
}

// Transcode decodes the image and returns the full-size WebP plus a
// thumbnail. Undecodable input maps to ErrUnsupportedMedia.
func (t *Transcoder) Transcode(data []byte) (full, thumb []byte, err error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode image: %v", harvest.ErrUnsupportedMedia, err)
	}

	var fullBuf bytes.Buffer
	if err := webp.Encode(&fullBuf, img, &webp.Options{Quality: t.cfg.Quality}); err != nil {
		return nil, nil, fmt.Errorf("encode webp: %w", err)
	}

	// Fit keeps aspect ratio and leaves already-small images alone.
	small := imaging.Fit(img, t.cfg.ThumbMaxDim, t.cfg.ThumbMaxDim, imaging.Lanczos)
	var thumbBuf bytes.Buffer
	if err := webp.Encode(&thumbBuf, small, &webp.Options{Quality: t.cfg.ThumbQuality}); err != nil {
		return nil, nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	return fullBuf.Bytes(), thumbBuf.Bytes(), nil
}
