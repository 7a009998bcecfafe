package sketch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/emosketch/export"
)

var (
	// ErrSubmitInFlight is returned by SubmitDrawing while a previous
	// submission has not completed.
	ErrSubmitInFlight = errors.New("sketch: submission already in flight")

	// ErrNoCollector is returned by export operations of an offline session.
	ErrNoCollector = errors.New("sketch: no collector configured")
)

// Samples returns the grayscale export of the current bitmap: one byte per
// pixel, row-major, round((R+G+B)/3).
func (s *Session) Samples() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface.Luminance()
}

// ExportSamples sends the grayscale samples to the collector and returns
// the file it streams back.
func (s *Session) ExportSamples(ctx context.Context) ([]byte, error) {
	if s.collector == nil {
		return nil, ErrNoCollector
	}
	samples, err := s.Samples()
	if err != nil {
		return nil, fmt.Errorf("sketch: samples: %w", err)
	}
	out, err := s.collector.DownloadSamples(ctx, samples)
	if err != nil {
		s.notifier.Notify(Notice{Kind: NoticeFailure, Op: "samples", Message: "sample export failed", Err: err})
		return nil, err
	}
	s.notifier.Notify(Notice{Kind: NoticeSuccess, Op: "samples", Message: "samples exported"})
	return out, nil
}

// ExportLabel sends the current label to the collector and returns the
// one-byte file it streams back.
func (s *Session) ExportLabel(ctx context.Context) ([]byte, error) {
	if s.collector == nil {
		return nil, ErrNoCollector
	}
	label := s.Label()
	out, err := s.collector.DownloadLabel(ctx, int(label))
	if err != nil {
		s.notifier.Notify(Notice{Kind: NoticeFailure, Op: "label", Message: "label export failed", Err: err})
		return nil, err
	}
	s.notifier.Notify(Notice{Kind: NoticeSuccess, Op: "label", Message: "label exported"})
	return out, nil
}

// SubmitDrawing uploads the bitmap as a PNG data URL with the current
// label. On success the surface is cleared (recorded in history) and the
// label re-rolled. On failure nothing changes. Only one submission may be
// in flight; a concurrent call gets ErrSubmitInFlight without sending.
func (s *Session) SubmitDrawing(ctx context.Context) (export.SaveResult, error) {
	if s.collector == nil {
		return export.SaveResult{}, ErrNoCollector
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return export.SaveResult{}, ErrSubmitInFlight
	}
	dataURL, err := s.surface.DataURL()
	if err != nil {
		s.mu.Unlock()
		return export.SaveResult{}, fmt.Errorf("sketch: encode: %w", err)
	}
	label := s.labeler.Current()
	s.busy = true
	s.mu.Unlock()

	res, err := s.collector.SaveDrawing(ctx, dataURL, int(label))

	s.mu.Lock()
	s.busy = false
	if err == nil {
		s.clearLocked()
		next := s.labeler.Reroll()
		s.logger.Info("drawing submitted", "label", label.Name(), "next_label", next.Name(), "filename", res.Filename)
	}
	s.mu.Unlock()

	if err != nil {
		s.notifier.Notify(Notice{Kind: NoticeFailure, Op: "submit", Message: "drawing submission failed", Err: err})
		return export.SaveResult{}, err
	}
	s.notifier.Notify(Notice{Kind: NoticeSuccess, Op: "submit", Message: "drawing sent"})
	return res, nil
}
