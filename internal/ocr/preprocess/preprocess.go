// Package preprocess normalizes uploaded images before text detection and
// decides whether they are legible enough to be worth transcribing.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxDimension = 2000
	DefaultMaxPixels    = 50_000_000
	jpegQuality         = 90
	OutputContentType   = "image/jpeg"
)

// ErrUndecodable is returned when an image payload cannot be decoded.
var ErrUndecodable = errors.New("undecodable image")

// TooLargeError is returned when the header declares more pixels than allowed.
// The pixel buffer is never allocated.
type TooLargeError struct {
	Width     int
	Height    int
	MaxPixels int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("image %dx%d exceeds %d pixels", e.Width, e.Height, e.MaxPixels)
}

// Pixels is the declared pixel count.
func (e *TooLargeError) Pixels() int64 { return int64(e.Width) * int64(e.Height) }

// Options controls image normalization.
type Options struct {
	MaxDimension int
	MaxPixels    int64
}

// Meta describes what happened to an image during preprocessing.
type Meta struct {
	Resized        bool  `json:"resized"`
	Rotated        bool  `json:"rotated"`
	Orientation    int   `json:"orientation,omitempty"`
	OriginalWidth  int   `json:"originalWidth"`
	OriginalHeight int   `json:"originalHeight"`
	Width          int   `json:"width"`
	Height         int   `json:"height"`
	OriginalBytes  int64 `json:"originalBytes"`
	Bytes          int64 `json:"bytes"`
}

// Output is the preprocessed payload. Meta is nil for non-image content.
type Output struct {
	Data        []byte
	ContentType string
	Meta        *Meta
}

// IsImage reports whether the payload should go through image preprocessing.
// The declared content type wins; an empty or generic one falls back to sniffing.
func IsImage(data []byte, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "image/") {
		return true
	}
	if ct != "" && ct != "application/octet-stream" {
		return false
	}
	return strings.HasPrefix(http.DetectContentType(data), "image/")
}

// Process rotates, downscales and re-encodes image content. Anything else is
// returned untouched.
func Process(data []byte, contentType string, opts Options) (Output, error) {
	if !IsImage(data, contentType) {
		return Output{Data: data, ContentType: contentType}, nil
	}
	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Output{}, fmt.Errorf("%w: empty image", ErrUndecodable)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return Output{}, &TooLargeError{Width: cfg.Width, Height: cfg.Height, MaxPixels: maxPixels}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	meta := &Meta{OriginalBytes: int64(len(data))}
	orientation := readOrientation(data)
	if orientation < 1 || orientation > 8 {
		orientation = 0
	}
	meta.Orientation = orientation

	// Dimensions are reported as the user sees the document, after rotation.
	b := src.Bounds()
	meta.OriginalWidth, meta.OriginalHeight = b.Dx(), b.Dy()
	if orientation >= 5 {
		meta.OriginalWidth, meta.OriginalHeight = b.Dy(), b.Dx()
	}

	// Downscale before rotating so rotation only touches the smaller buffer.
	var img *image.RGBA
	if w, h, ok := fitWithin(b.Dx(), b.Dy(), maxDim); ok {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(img, img.Bounds(), src, b, draw.Src, nil)
		meta.Resized = true
	} else {
		img = toRGBA(src)
	}
	if orientation > 1 {
		img = orient(img, orientation)
		meta.Rotated = true
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Output{}, fmt.Errorf("encode jpeg: %w", err)
	}
	out := buf.Bytes()
	meta.Width, meta.Height = img.Bounds().Dx(), img.Bounds().Dy()
	meta.Bytes = int64(len(out))

	return Output{Data: out, ContentType: OutputContentType, Meta: meta}, nil
}

// fitWithin returns the downscaled size when either side exceeds maxDim.
func fitWithin(w, h, maxDim int) (int, int, bool) {
	if w <= maxDim && h <= maxDim {
		return w, h, false
	}
	if w >= h {
		nh := h * maxDim / w
		return maxDim, max(nh, 1), true
	}
	nw := w * maxDim / h
	return max(nw, 1), maxDim, true
}

func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// orient applies one of the eight EXIF orientations, mirrored ones included.
// src must start at the origin.
func orient(src *image.RGBA, o int) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dw, dh := w, h
	if o >= 5 {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		for x := 0; x < w; x++ {
			var dx, dy int
			switch o {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			off := dy*dst.Stride + dx*4
			copy(dst.Pix[off:off+4], row[x*4:x*4+4])
		}
	}
	return dst
}
