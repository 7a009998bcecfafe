// Package canvas holds the drawing side of a sketch session: the raster
// surface strokes are painted on, the undo history of full-bitmap snapshots,
// and the pointer state machine that connects the two.
//
// Rendering goes through github.com/gogpu/gg. Without a registered GPU
// accelerator gg uses its software rasterizer, which is what a headless
// session wants.
package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/gg"
)

// DataURLPrefix is the prefix of every PNG data URL produced by DataURL.
const DataURLPrefix = "data:image/png;base64,"

var (
	// ErrNotReady is returned by every Surface operation when the surface was
	// never created or has been closed. Callers treat it as a no-op.
	ErrNotReady = errors.New("canvas: surface not ready")

	// ErrSizeMismatch is returned by Restore when the snapshot dimensions do
	// not match the surface.
	ErrSizeMismatch = errors.New("canvas: snapshot size mismatch")
)

// Point is a position in surface coordinates (pixels, origin top-left).
type Point struct {
	X, Y float64
}

// Surface is the in-memory RGBA bitmap a session draws on.
// It is not safe for concurrent use; sketch.Session serializes access.
type Surface struct {
	dc       *gg.Context
	bg       gg.RGBA
	pen      gg.RGBA
	penWidth float64
	dirty    bool
	closed   bool
}

type surfaceConfig struct {
	bg       gg.RGBA
	pen      gg.RGBA
	penWidth float64
}

// SurfaceOption customises NewSurface.
type SurfaceOption func(*surfaceConfig)

// WithBackground sets the colour Clear fills the surface with. Default: opaque white.
func WithBackground(c gg.RGBA) SurfaceOption { return func(sc *surfaceConfig) { sc.bg = c } }

// WithPen sets the stroke colour and width. Default: black, 3px.
func WithPen(c gg.RGBA, width float64) SurfaceOption {
	return func(sc *surfaceConfig) {
		sc.pen = c
		if width > 0 {
			sc.penWidth = width
		}
	}
}

// NewSurface allocates a width x height surface filled with the background.
func NewSurface(width, height int, opts ...SurfaceOption) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("canvas: invalid size %dx%d", width, height)
	}
	sc := surfaceConfig{bg: gg.White, pen: gg.Black, penWidth: 3}
	for _, o := range opts {
		o(&sc)
	}

	s := &Surface{
		dc:       gg.NewContext(width, height),
		bg:       sc.bg,
		pen:      sc.pen,
		penWidth: sc.penWidth,
	}
	s.dc.ClearWithColor(s.bg)
	return s, nil
}

func (s *Surface) ready() bool {
	return s != nil && s.dc != nil && !s.closed
}

// Width returns the surface width in pixels, 0 when not ready.
func (s *Surface) Width() int {
	if !s.ready() {
		return 0
	}
	return s.dc.Width()
}

// Height returns the surface height in pixels, 0 when not ready.
func (s *Surface) Height() int {
	if !s.ready() {
		return 0
	}
	return s.dc.Height()
}

// Clear fills every pixel with the background colour.
func (s *Surface) Clear() error {
	if !s.ready() {
		return ErrNotReady
	}
	s.dc.ClearWithColor(s.bg)
	s.dirty = true
	return nil
}

// PaintStroke strokes the polyline through points with the pen. A single
// point paints nothing.
func (s *Surface) PaintStroke(points []Point) error {
	if !s.ready() {
		return ErrNotReady
	}
	if len(points) < 2 {
		return nil
	}

	s.dc.SetColor(s.pen.Color())
	s.dc.SetLineWidth(s.penWidth)
	s.dc.SetLineCap(gg.LineCapRound)
	s.dc.SetLineJoin(gg.LineJoinRound)

	s.dc.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		s.dc.LineTo(p.X, p.Y)
	}
	if err := s.dc.Stroke(); err != nil {
		return fmt.Errorf("canvas: stroke: %w", err)
	}
	s.dirty = true
	return nil
}

// pixels returns the live RGBA buffer, flushed from any GPU accelerator.
func (s *Surface) pixels() []byte {
	_ = s.dc.FlushGPU()
	return s.dc.ResizeTarget().Data()
}

// Snapshot copies the current bitmap.
func (s *Surface) Snapshot() (Snapshot, error) {
	if !s.ready() {
		return Snapshot{}, ErrNotReady
	}
	return newSnapshot(s.dc.Width(), s.dc.Height(), s.pixels()), nil
}

// Restore overwrites the bitmap with snap.
func (s *Surface) Restore(snap Snapshot) error {
	if !s.ready() {
		return ErrNotReady
	}
	if snap.width != s.dc.Width() || snap.height != s.dc.Height() {
		return fmt.Errorf("%w: have %dx%d, got %dx%d",
			ErrSizeMismatch, s.dc.Width(), s.dc.Height(), snap.width, snap.height)
	}
	copy(s.pixels(), snap.pix)
	s.dirty = true
	return nil
}

// Luminance returns one byte per pixel, row-major, each round((R+G+B)/3).
// Alpha is ignored.
func (s *Surface) Luminance() ([]byte, error) {
	if !s.ready() {
		return nil, ErrNotReady
	}
	return Luminance(s.pixels()), nil
}

// Luminance converts a packed RGBA buffer to grayscale samples.
func Luminance(rgba []byte) []byte {
	out := make([]byte, len(rgba)/4)
	for i := range out {
		sum := int(rgba[i*4]) + int(rgba[i*4+1]) + int(rgba[i*4+2])
		// (sum+1)/3 rounds sum/3 to nearest; sum%3 is never a half.
		out[i] = byte((sum + 1) / 3)
	}
	return out
}

// EncodePNG writes the bitmap as PNG.
func (s *Surface) EncodePNG(w io.Writer) error {
	if !s.ready() {
		return ErrNotReady
	}
	_ = s.dc.FlushGPU()
	if err := s.dc.EncodePNG(w); err != nil {
		return fmt.Errorf("canvas: encode png: %w", err)
	}
	return nil
}

// DataURL returns the bitmap as a data:image/png;base64 URL.
func (s *Surface) DataURL() (string, error) {
	var buf bytes.Buffer
	if err := s.EncodePNG(&buf); err != nil {
		return "", err
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Dirty reports whether the bitmap changed since the last MarkClean.
func (s *Surface) Dirty() bool { return s.ready() && s.dirty }

// MarkClean resets the dirty flag.
func (s *Surface) MarkClean() {
	if s.ready() {
		s.dirty = false
	}
}

// Close releases the drawing context. Further calls return ErrNotReady.
func (s *Surface) Close() error {
	if !s.ready() {
		return nil
	}
	s.closed = true
	return s.dc.Close()
}
