package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/hazyhaar/emosketch/canvas"
	"github.com/hazyhaar/emosketch/safeio"
)

// Dataset file names.
const (
	SamplesFile = "X.npy"
	LabelsFile  = "y.npy"
)

// ErrNotPrepared is returned when a dataset file is requested before the
// first Prepare.
var ErrNotPrepared = errors.New("collector: dataset not prepared")

// PrepareResult summarizes a prepared dataset.
type PrepareResult struct {
	Samples    int   `json:"samples"`
	Width      int   `json:"width"`
	Height     int   `json:"height"`
	Skipped    int   `json:"skipped,omitempty"`
	DurationMs int64 `json:"duration_ms"`
}

// Dataset builds X.npy and y.npy from the labeled drawings.
type Dataset struct {
	store  *Store
	dir    string
	width  int
	height int
	logger *slog.Logger

	mu sync.Mutex
}

// NewDataset returns a builder writing into dir.
func NewDataset(store *Store, dir string, size DatasetConfig, logger *slog.Logger) (*Dataset, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("collector: mkdir %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dataset{store: store, dir: dir, width: size.Width, height: size.Height, logger: logger}, nil
}

// Prepare rebuilds both files. Each drawing is composited over white,
// scaled to the dataset size and reduced to luminance. X.npy has shape
// (N, H, W), y.npy shape (N,). Drawings whose file is missing or not a
// PNG are skipped. Concurrent calls are serialized.
func (d *Dataset) Prepare(ctx context.Context) (PrepareResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	drawings, err := d.store.Labeled(ctx)
	if err != nil {
		return PrepareResult{}, err
	}

	frame := d.width * d.height
	samples := make([]byte, 0, len(drawings)*frame)
	labels := make([]byte, 0, len(drawings))
	skipped := 0
	for _, dr := range drawings {
		if err := ctx.Err(); err != nil {
			return PrepareResult{}, err
		}
		px, err := d.load(d.store.Path(dr))
		if err != nil {
			skipped++
			d.logger.Warn("prepare: skipping drawing", "id", dr.ID, "file", dr.Filename, "error", err)
			continue
		}
		samples = append(samples, px...)
		labels = append(labels, byte(dr.Label))
	}
	n := len(labels)

	var x, y bytes.Buffer
	if err := EncodeNPY(&x, []int{n, d.height, d.width}, samples); err != nil {
		return PrepareResult{}, err
	}
	if err := EncodeNPY(&y, []int{n}, labels); err != nil {
		return PrepareResult{}, err
	}
	if err := safeio.WriteFileAtomic(filepath.Join(d.dir, SamplesFile), x.Bytes()); err != nil {
		return PrepareResult{}, fmt.Errorf("collector: write %s: %w", SamplesFile, err)
	}
	if err := safeio.WriteFileAtomic(filepath.Join(d.dir, LabelsFile), y.Bytes()); err != nil {
		return PrepareResult{}, fmt.Errorf("collector: write %s: %w", LabelsFile, err)
	}

	res := PrepareResult{
		Samples:    n,
		Width:      d.width,
		Height:     d.height,
		Skipped:    skipped,
		DurationMs: time.Since(start).Milliseconds(),
	}
	d.logger.Info("dataset prepared", "samples", n, "skipped", skipped, "duration_ms", res.DurationMs)
	return res, nil
}

// load decodes one drawing and returns its width*height luminance bytes.
func (d *Dataset) load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	// Drawings may carry transparency; flatten onto white first.
	b := src.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, b.Min, draw.Over)

	dst := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), flat, flat.Bounds(), draw.Src, nil)
	return canvas.Luminance(dst.Pix), nil
}

// Path returns the path of a prepared file, SamplesFile or LabelsFile.
func (d *Dataset) Path(name string) (string, error) {
	if name != SamplesFile && name != LabelsFile {
		return "", fmt.Errorf("collector: unknown dataset file %q", name)
	}
	p := filepath.Join(d.dir, name)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotPrepared
		}
		return "", err
	}
	return p, nil
}
