package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/require"

	"github.com/mediagrab/harvester/internal/harvest"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTranscodeProducesWebP(t *testing.T) {
	t.Parallel()

	tr := NewTranscoder(TranscoderConfig{})
	full, thumb, err := tr.Transcode(pngBytes(t, 64, 48))
	require.NoError(t, err)
	require.NotEmpty(t, full)
	require.NotEmpty(t, thumb)

	img, err := webp.Decode(bytes.NewReader(full))
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())
	require.Equal(t, 48, img.Bounds().Dy())
}

func TestTranscodeBoundsThumbnail(t *testing.T) {
	t.Parallel()

	tr := NewTranscoder(TranscoderConfig{ThumbMaxDim: 600})
	_, thumb, err := tr.Transcode(pngBytes(t, 1200, 600))
	require.NoError(t, err)

	img, err := webp.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, 600, img.Bounds().Dx())
	require.Equal(t, 300, img.Bounds().Dy())
}

func TestTranscodeNeverUpscalesThumbnail(t *testing.T) {
	t.Parallel()

	tr := NewTranscoder(TranscoderConfig{ThumbMaxDim: 600})
	_, thumb, err := tr.Transcode(pngBytes(t, 100, 80))
	require.NoError(t, err)

	img, err := webp.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	require.Equal(t, 100, img.Bounds().Dx())
	require.Equal(t, 80, img.Bounds().Dy())
}

func TestTranscodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	tr := NewTranscoder(TranscoderConfig{})
	_, _, err := tr.Transcode([]byte("definitely not an image"))
	require.ErrorIs(t, err, harvest.ErrUnsupportedMedia)
}
