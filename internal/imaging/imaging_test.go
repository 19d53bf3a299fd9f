package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func TestNormalize_DownscalesPreservingAspect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1024, 768))
	var out bytes.Buffer

	res, err := NewNormalizer(512, 85).Normalize(encodePNG(t, src), &out)
	require.NoError(t, err)
	assert.Equal(t, "png", res.Format)
	assert.Equal(t, 512, res.Width)
	assert.Equal(t, 384, res.Height)
	assert.True(t, res.Downscaled)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 384, cfg.Height)
}

func TestNormalize_KeepsSmallImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 300, 200))
	var out bytes.Buffer

	res, err := NewNormalizer(512, 85).Normalize(encodePNG(t, src), &out)
	require.NoError(t, err)
	assert.False(t, res.Downscaled)
	assert.Equal(t, 300, res.Width)
	assert.Equal(t, 200, res.Height)
	assert.Equal(t, out.Len(), res.Bytes)
}

func TestNormalize_FlattensTransparencyOntoWhite(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			src.Set(x, y, color.NRGBA{})
		}
	}
	var out bytes.Buffer

	_, err := NewNormalizer(512, 95).Normalize(encodePNG(t, src), &out)
	require.NoError(t, err)

	img, err := jpeg.Decode(&out)
	require.NoError(t, err)
	r, g, b, _ := img.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestNormalize_RejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	_, err := NewNormalizer(0, 0).Normalize(strings.NewReader("not an image"), &out)
	require.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, out.Len())
}

// pngHeader returns a PNG signature and IHDR chunk declaring the given size
// with no pixel data behind it.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 0, 17)
	ihdr = append(ihdr, "IHDR"...)
	ihdr = binary.BigEndian.AppendUint32(ihdr, width)
	ihdr = binary.BigEndian.AppendUint32(ihdr, height)
	ihdr = append(ihdr, 8, 0, 0, 0, 0) // 8-bit gray

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, ihdr...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(ihdr))
}

func TestNormalize_RejectsOversizedDimensions(t *testing.T) {
	var out bytes.Buffer
	_, err := NewNormalizer(512, 85).Normalize(bytes.NewReader(pngHeader(16000, 16000)), &out)
	require.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "16000x16000")
	assert.Zero(t, out.Len())
}

func TestNormalize_MaxPixelsOption(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 200))

	var out bytes.Buffer
	_, err := NewNormalizer(512, 85, WithMaxPixels(100*100)).Normalize(encodePNG(t, src), &out)
	require.ErrorIs(t, err, ErrDecode)

	out.Reset()
	res, err := NewNormalizer(512, 85, WithMaxPixels(200*200)).Normalize(encodePNG(t, src), &out)
	require.NoError(t, err)
	assert.Equal(t, 200, res.Width)
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"landscape", 1024, 768, 512, 384},
		{"portrait", 768, 1024, 384, 512},
		{"square", 2048, 2048, 512, 512},
		{"within bounds", 512, 100, 512, 100},
		{"extreme ratio", 10000, 5, 512, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.width, tt.height, 512)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}
