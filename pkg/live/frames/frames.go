// Package frames samples a screen stream at a fixed rate and turns each frame
// into a JPEG chunk for the session.
package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const (
	DefaultMaxWidth = 640
	DefaultQuality  = 60
)

var ErrNoFrame = errors.New("frames: no frame available")

// ScreenSource grants screen access. Open is the consent step; it fails when
// the user refuses or no display can be captured.
type ScreenSource interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open screen capture. Done is closed when the capture ends for
// any reason, including Close.
type Stream interface {
	Grab(ctx context.Context) (image.Image, error)
	Done() <-chan struct{}
	Close() error
}

type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// JPEGEncoder downscales to MaxWidth, keeping the aspect ratio, and encodes
// at Quality.
type JPEGEncoder struct {
	MaxWidth int
	Quality  int
	Scaler   draw.Scaler
}

func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{MaxWidth: DefaultMaxWidth, Quality: DefaultQuality, Scaler: draw.ApproxBiLinear}
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrNoFrame
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrNoFrame
	}

	maxWidth := e.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	quality := e.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	src := img
	if w, h := Fit(b.Dx(), b.Dy(), maxWidth); w != b.Dx() {
		scaler := e.Scaler
		if scaler == nil {
			scaler = draw.ApproxBiLinear
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit returns the size of a w×h frame scaled down to at most maxWidth wide.
// Frames already narrow enough are left alone.
func Fit(w, h, maxWidth int) (int, int) {
	if w <= maxWidth || w <= 0 {
		return w, h
	}
	nh := int(float64(h) * float64(maxWidth) / float64(w))
	if nh < 1 {
		nh = 1
	}
	return maxWidth, nh
}

func ImageChunk(data []byte) protocol.Chunk {
	return protocol.Chunk{Kind: protocol.ChunkImage, Data: data, MIMEType: protocol.MIMEImageJPEG}
}
