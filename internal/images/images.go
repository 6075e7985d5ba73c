// Package images picks, validates and re-encodes hero images.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"threadify/internal/config"
)

const DefaultAltTextMax = 120

// Error is returned for every image failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Processed is a re-encoded image ready for upload. EXIF is never carried over.
type Processed struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// PickHero returns the first candidate, or "" when there is none.
func PickHero(candidates []string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// Processor fetches and normalizes images.
type Processor struct {
	client   *http.Client
	minWidth int
	maxWidth int
	quality  int
	maxBytes int64
}

func NewProcessor(cfg config.ImagesConfig) *Processor {
	p := &Processor{
		client:   &http.Client{Timeout: 30 * time.Second},
		minWidth: cfg.MinWidth,
		maxWidth: cfg.MaxWidth,
		quality:  cfg.JPEGQuality,
		maxBytes: cfg.MaxBytes,
	}
	if p.minWidth <= 0 {
		p.minWidth = 800
	}
	if p.maxWidth <= 0 {
		p.maxWidth = 1600
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = 85
	}
	if p.maxBytes <= 0 {
		p.maxBytes = 15 << 20
	}
	return p
}

// ValidateAndProcess downloads imageURL and runs Process on it.
func (p *Processor) ValidateAndProcess(ctx context.Context, imageURL string) (Processed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Processed{}, &Error{Msg: "Failed to fetch image", Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Processed{}, &Error{Msg: "Failed to fetch image", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Processed{}, &Error{Msg: fmt.Sprintf("HTTP %d error", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return Processed{}, &Error{Msg: "Failed to fetch image", Err: err}
	}
	return p.Process(data)
}

// Process rejects images narrower than the minimum width, flattens
// transparency onto white, downscales to the maximum width keeping the aspect
// ratio and re-encodes as JPEG.
func (p *Processor) Process(data []byte) (Processed, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Processed{}, &Error{Msg: "Failed to process image", Err: err}
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < p.minWidth {
		return Processed{}, &Error{Msg: fmt.Sprintf("Image too small: %dpx wide (minimum %dpx)", w, p.minWidth)}
	}

	flat := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(flat, flat.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, b.Min, draw.Over)

	var out image.Image = flat
	if w > p.maxWidth {
		nh := int(float64(p.maxWidth) / float64(w) * float64(h))
		if nh < 1 {
			nh = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, p.maxWidth, nh))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), flat, flat.Bounds(), draw.Src, nil)
		out = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: p.quality}); err != nil {
		return Processed{}, &Error{Msg: "Failed to process image", Err: err}
	}
	ob := out.Bounds()
	return Processed{Data: buf.Bytes(), Width: ob.Dx(), Height: ob.Dy(), Format: "JPEG"}, nil
}

// AltTextFrom builds alt text from a title and optional lede, at most max
// characters long.
func AltTextFrom(title, lede string, max int) string {
	if max <= 0 {
		max = DefaultAltTextMax
	}
	alt := []rune(strings.TrimSpace(title))
	if l := []rune(strings.TrimSpace(lede)); len(l) > 0 {
		combined := append(append(append([]rune{}, alt...), ':', ' '), l...)
		switch {
		case len(combined) <= max:
			alt = combined
		case len(alt) < max:
			if remaining := max - len(alt) - 2; remaining > 10 {
				alt = []rune(string(alt) + ": " + string(l[:remaining]) + "...")
			}
		}
	}
	if len(alt) > max {
		if max <= 3 {
			return string(alt[:max])
		}
		alt = append(alt[:max-3], '.', '.', '.')
	}
	return string(alt)
}
