// Package imaging normalizes uploaded face images into the JPEG input the
// lip-sync model expects.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSize = 512
	DefaultQuality = 85
	// DefaultMaxPixels matches the decompression bomb limit of common imaging libraries.
	DefaultMaxPixels = 178_956_970
)

// ErrDecode is returned when the input is not a decodable image.
var ErrDecode = errors.New("imaging: cannot decode image")

// Result describes a normalized image.
type Result struct {
	Format       string
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
	Bytes        int
	Downscaled   bool
}

// Normalizer downscales, flattens and re-encodes images.
type Normalizer struct {
	maxSize   int
	quality   int
	maxPixels int64
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxPixels caps the decoded width*height. Non-positive values keep the default.
func WithMaxPixels(limit int64) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxPixels = limit
		}
	}
}

// NewNormalizer creates a normalizer. Non-positive values fall back to defaults.
func NewNormalizer(maxSize, quality int, opts ...Option) *Normalizer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	n := &Normalizer{maxSize: maxSize, quality: quality, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize reads an image from r, downscales it so neither side exceeds the
// configured maximum, flattens it onto white RGB and writes JPEG to w.
// Images whose header declares more than the pixel limit are rejected before
// any pixel data is decoded.
func (n *Normalizer) Normalize(r io.Reader, w io.Writer) (Result, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > n.maxPixels {
		return Result{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, n.maxPixels)
	}

	src, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	b := src.Bounds()
	res := Result{
		Format:       format,
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
	}
	if res.SourceWidth == 0 || res.SourceHeight == 0 {
		return Result{}, fmt.Errorf("%w: empty image", ErrDecode)
	}

	width, height := FitWithin(res.SourceWidth, res.SourceHeight, n.maxSize)
	res.Width, res.Height = width, height
	res.Downscaled = width != res.SourceWidth || height != res.SourceHeight

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if res.Downscaled {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.quality}); err != nil {
		return Result{}, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	res.Bytes = buf.Len()

	if _, err := buf.WriteTo(w); err != nil {
		return Result{}, fmt.Errorf("imaging: write jpeg: %w", err)
	}
	return res, nil
}

// FitWithin scales width and height down so the larger side equals limit,
// preserving aspect ratio. Images already within bounds are returned unchanged.
func FitWithin(width, height, limit int) (int, int) {
	if width <= limit && height <= limit {
		return width, height
	}

	scale := float64(limit) / float64(width)
	if height > width {
		scale = float64(limit) / float64(height)
	}

	w := int(float64(width)*scale + 0.5)
	h := int(float64(height)*scale + 0.5)
	return max(w, 1), max(h, 1)
}
