// Package sketch is one drawing session: it owns the surface, the undo
// history, the stroke controller and the target label, and exports the
// result to a collector.
//
// All state lives in a Session; there are no package-level variables. A
// host (browser bridge, replay driver, test) feeds pointer events and
// button actions into the Session from any goroutine. Methods are
// serialized internally.
package sketch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/hazyhaar/emosketch/canvas"
	"github.com/hazyhaar/emosketch/export"
)

// Collector is the remote side of the export operations. *export.Client
// implements it.
type Collector interface {
	SaveDrawing(ctx context.Context, dataURL string, category int) (export.SaveResult, error)
	DownloadSamples(ctx context.Context, samples []byte) ([]byte, error)
	DownloadLabel(ctx context.Context, label int) ([]byte, error)
}

// Session is a single-user drawing session.
type Session struct {
	mu sync.Mutex

	cfg       Config
	surface   *canvas.Surface
	history   *canvas.History
	strokes   *canvas.StrokeController
	labeler   *Labeler
	collector Collector
	notifier  Notifier
	logger    *slog.Logger

	busy bool
}

// Option customises New.
type Option func(*Session)

// WithRandSource makes label rolls deterministic.
func WithRandSource(src rand.Source) Option {
	return func(s *Session) { s.labeler = NewLabeler(src) }
}

// WithNotifier routes export feedback. Default: LogNotifier.
func WithNotifier(n Notifier) Option { return func(s *Session) { s.notifier = n } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// New creates a session with a blank surface, a one-entry history and a
// freshly rolled label. collector may be nil for an offline session; export
// operations then fail with ErrNoCollector.
func New(cfg *Config, collector Collector, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sketch: %w", err)
	}
	s := &Session{
		cfg:       *cfg,
		collector: collector,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.labeler == nil {
		s.labeler = NewLabeler(nil)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier(s.logger)
	}
	if err := s.mount(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	return s, nil
}

// mount (re)creates surface, history and controller. Caller holds mu or
// owns s exclusively.
func (s *Session) mount(w, h int) error {
	surface, err := canvas.NewSurface(w, h, s.cfg.surfaceOptions()...)
	if err != nil {
		return fmt.Errorf("sketch: %w", err)
	}
	blank, err := surface.Snapshot()
	if err != nil {
		return fmt.Errorf("sketch: %w", err)
	}
	if s.surface != nil {
		s.surface.Close()
	}
	s.surface = surface
	s.history = canvas.NewHistory(s.cfg.HistoryDepth)
	s.history.Reset(blank)
	s.strokes = canvas.NewStrokeController(surface, s.history)
	s.cfg.Width, s.cfg.Height = w, h
	return nil
}

// Resize replaces the surface with a blank one of the new size and resets
// the history. Any stroke in progress is dropped.
func (s *Session) Resize(w, h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == s.cfg.Width && h == s.cfg.Height {
		return nil
	}
	if err := s.mount(w, h); err != nil {
		return err
	}
	s.logger.Debug("surface resized", "width", w, "height", h)
	return nil
}

// HandlePointer feeds one pointer event to the stroke controller.
func (s *Session) HandlePointer(ev canvas.PointerEvent) canvas.EventResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.strokes.Handle(ev)
	if err != nil && !errors.Is(err, canvas.ErrNotReady) {
		s.logger.Warn("pointer event failed", "kind", ev.Kind.String(), "error", err)
	}
	return res
}

// Undo restores the previous snapshot. It returns false when there is
// nothing to undo, leaving the bitmap untouched.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.history.Undo()
	if !ok {
		s.logger.Debug("nothing to undo")
		return false
	}
	if err := s.surface.Restore(snap); err != nil {
		s.logger.Warn("undo restore failed", "error", err)
		return false
	}
	return true
}

// Clear blanks the surface and records it as a history entry, so it can be
// undone.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.strokes.Reset()
	if err := s.surface.Clear(); err != nil {
		return
	}
	snap, err := s.surface.Snapshot()
	if err != nil {
		return
	}
	s.history.Push(snap)
}

// Label returns the current target label.
func (s *Session) Label() Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labeler.Current()
}

// Snapshot copies the current bitmap.
func (s *Session) Snapshot() (canvas.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Snapshot()
}

// EncodePNG writes the current bitmap to w as a PNG.
func (s *Session) EncodePNG(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.EncodePNG(w)
}

// Size returns the surface dimensions.
func (s *Session) Size() (w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Width(), s.surface.Height()
}

// HistoryLen is the number of history entries.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// StrokeState reports whether a stroke is in progress.
func (s *Session) StrokeState() canvas.StrokeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strokes.State()
}

// Busy reports whether a submission is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Close releases the surface.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Close()
}
