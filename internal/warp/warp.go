// Package warp resamples a frame through a similarity transform into a fixed
// output geometry.
package warp

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/andresmejia3/steady/internal/geometry"
	"golang.org/x/image/draw"
)

// Background decides what output pixels outside the source receive.
type Background string

const (
	BackgroundBlack       Background = "black"
	BackgroundTransparent Background = "transparent"
	// BackgroundEdge clamps to the nearest source pixel.
	BackgroundEdge Background = "edge"
	// BackgroundColor fills with Config.Color.
	BackgroundColor Background = "color"
)

// Config describes the output geometry.
type Config struct {
	Width      int
	Height     int
	Background Background
	Color      color.RGBA
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("output dimensions must be positive, got %dx%d", c.Width, c.Height))
	}
	switch c.Background {
	case BackgroundBlack, BackgroundTransparent, BackgroundEdge, BackgroundColor:
	default:
		errs = append(errs, fmt.Errorf("invalid background %q. Must be one of: black, transparent, edge, color", c.Background))
	}
	return errors.Join(errs...)
}

// fill returns the premultiplied colour used outside the source.
func (c Config) fill() color.RGBA {
	switch c.Background {
	case BackgroundTransparent:
		return color.RGBA{}
	case BackgroundColor:
		// Config colours are straight alpha; image.RGBA stores premultiplied.
		a := uint32(c.Color.A)
		return color.RGBA{
			R: uint8(uint32(c.Color.R) * a / 255),
			G: uint8(uint32(c.Color.G) * a / 255),
			B: uint8(uint32(c.Color.B) * a / 255),
			A: c.Color.A,
		}
	}
	return color.RGBA{A: 255}
}

// Warper maps frames into the output geometry. It holds no per-frame state
// and may be shared by concurrent workers.
type Warper struct {
	cfg Config
}

// New validates cfg and returns a Warper.
func New(cfg Config) (*Warper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Warper{cfg: cfg}, nil
}

// Config returns the output configuration.
func (w *Warper) Config() Config { return w.cfg }

// Warp renders src through t, which maps source coordinates to output
// coordinates. Every output pixel centre is pulled back through the inverse
// of t and sampled bilinearly. The result is always a new image.
func (w *Warper) Warp(src image.Image, t geometry.Similarity) *image.RGBA {
	in := toRGBA(src)
	out := image.NewRGBA(image.Rect(0, 0, w.cfg.Width, w.cfg.Height))
	inv := t.Inverse().Matrix()

	sw, sh := in.Rect.Dx(), in.Rect.Dy()
	fill := w.cfg.fill()
	clamp := w.cfg.Background == BackgroundEdge

	for y := 0; y < w.cfg.Height; y++ {
		row := out.Pix[y*out.Stride:]
		for x := 0; x < w.cfg.Width; x++ {
			p := inv.Apply(geometry.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5})
			c := fill
			if sw > 0 && sh > 0 && (clamp || inside(p, sw, sh)) {
				c = bilinear(in, p.X-0.5, p.Y-0.5)
			}
			o := x * 4
			row[o], row[o+1], row[o+2], row[o+3] = c.R, c.G, c.B, c.A
		}
	}
	return out
}

// inside reports whether p lies on the source's pixel area.
func inside(p geometry.Point, w, h int) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < float64(w) && p.Y < float64(h)
}

// bilinear samples img at pixel-index coordinates (fx, fy). Taps beyond the
// border are clamped.
func bilinear(img *image.RGBA, fx, fy float64) color.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0f, y0f := math.Floor(fx), math.Floor(fy)
	dx, dy := fx-x0f, fy-y0f
	x0, y0 := clampInt(int(x0f), w), clampInt(int(y0f), h)

	if dx == 0 && dy == 0 {
		return pixel(img, x0, y0)
	}

	x1, y1 := clampInt(int(x0f)+1, w), clampInt(int(y0f)+1, h)
	c00, c10 := pixel(img, x0, y0), pixel(img, x1, y0)
	c01, c11 := pixel(img, x0, y1), pixel(img, x1, y1)

	w00 := (1 - dx) * (1 - dy)
	w10 := dx * (1 - dy)
	w01 := (1 - dx) * dy
	w11 := dx * dy
	mix := func(a, b, c, d uint8) uint8 {
		v := w00*float64(a) + w10*float64(b) + w01*float64(c) + w11*float64(d)
		return uint8(math.Min(255, math.Max(0, math.Round(v))))
	}
	return color.RGBA{
		R: mix(c00.R, c10.R, c01.R, c11.R),
		G: mix(c00.G, c10.G, c01.G, c11.G),
		B: mix(c00.B, c10.B, c01.B, c11.B),
		A: mix(c00.A, c10.A, c01.A, c11.A),
	}
}

func pixel(img *image.RGBA, x, y int) color.RGBA {
	i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
	s := img.Pix[i : i+4 : i+4]
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: s[3]}
}

func clampInt(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// toRGBA returns src as premultiplied RGBA with its origin kept, converting
// other colour models.
func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, src, b.Min, draw.Src)
	return rgba
}

// ParseColor parses "#RRGGBB" or "#RRGGBBAA".
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	c := color.RGBA{A: 255}
	var err error
	switch len(hex) {
	case 6:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x", &c.R, &c.G, &c.B)
	case 8:
		_, err = fmt.Sscanf(hex, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A)
	default:
		return color.RGBA{}, fmt.Errorf("invalid colour %q: want #RRGGBB or #RRGGBBAA", s)
	}
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return c, nil
}
