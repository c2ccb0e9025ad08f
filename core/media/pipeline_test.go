package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessImage(t *testing.T) {
	raw := pngBytes(t, 1600, 900)

	p, err := Process(raw, PipelineOptions{MaxImageEdge: 800, ThumbEdge: 100, JPEGQuality: 75})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", p.MimeType)
	assert.NotEmpty(t, p.Thumb)
	assert.Len(t, p.Checksum, 64)
	assert.Equal(t, int64(len(p.Data)), p.Size)

	// longest edge bounded, aspect ratio kept
	assert.Equal(t, 800, p.Width)
	assert.Equal(t, 450, p.Height)
}

func TestProcessSmallImageKeepsSize(t *testing.T) {
	raw := pngBytes(t, 120, 80)

	p, err := Process(raw, PipelineOptions{MaxImageEdge: 800, ThumbEdge: 100})
	require.NoError(t, err)
	assert.Equal(t, 120, p.Width)
	assert.Equal(t, 80, p.Height)
}

func TestProcessNonImagePassthrough(t *testing.T) {
	raw := []byte("%PDF-1.4 not really a pdf but close enough")

	p, err := Process(raw, PipelineOptions{MaxUploadSize: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, raw, p.Data)
	assert.Nil(t, p.Thumb)
	assert.Zero(t, p.Width)
}

func TestProcessTooLarge(t *testing.T) {
	raw := pngBytes(t, 64, 64)

	_, err := Process(raw, PipelineOptions{MaxUploadSize: 10})
	assert.Equal(t, ErrTooLarge, err)
}
