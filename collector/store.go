package collector

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/emosketch/dbopen"
	"github.com/hazyhaar/emosketch/idgen"
	"github.com/hazyhaar/emosketch/safeio"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS drawings (
    id         TEXT PRIMARY KEY,
    category   REAL NOT NULL,
    label      INTEGER NOT NULL,
    partition  TEXT NOT NULL,
    filename   TEXT NOT NULL,
    bytes      INTEGER NOT NULL,
    width      INTEGER NOT NULL,
    height     INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (partition, filename)
);
CREATE INDEX IF NOT EXISTS idx_drawings_created ON drawings(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_drawings_label ON drawings(label, created_at);
`

// maxNameBumps bounds the search for a free drawing_<ms>.png name.
const maxNameBumps = 1000

// Drawing is one stored drawing.
type Drawing struct {
	ID        string  `json:"id"`
	Category  float64 `json:"category"`
	Label     int     `json:"label"` // -1 for the fallback partition
	Partition string  `json:"partition"`
	Filename  string  `json:"filename"`
	Bytes     int     `json:"bytes"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	CreatedAt int64   `json:"created_at"` // unix ms
}

// Store writes drawings under <root>/<partition>/ and indexes them.
type Store struct {
	db     *sql.DB
	root   string
	cats   *Categories
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// NewStore applies the index schema to db and creates root.
func NewStore(db *sql.DB, root string, cats *Categories, logger *slog.Logger) (*Store, error) {
	if _, err := db.Exec(storeSchema); err != nil {
		return nil, fmt.Errorf("collector: store schema: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("collector: mkdir %s: %w", root, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		root:   root,
		cats:   cats,
		newID:  idgen.Prefixed("drw_", idgen.Default),
		now:    time.Now,
		logger: logger,
	}, nil
}

// Save writes a PNG for category and indexes it. The file name is
// drawing_<unix ms>.png; on collision the timestamp is bumped until a free
// name is found. The file is removed again when indexing fails.
func (s *Store) Save(ctx context.Context, category float64, data []byte, width, height int) (Drawing, error) {
	part := s.cats.Partition(category)
	dir, err := safeio.SafePath(s.root, part)
	if err != nil {
		return Drawing{}, fmt.Errorf("collector: partition %q: %w", part, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Drawing{}, fmt.Errorf("collector: mkdir: %w", err)
	}

	ts := s.now().UnixMilli()
	var name, path string
	for i := 0; ; i++ {
		if i == maxNameBumps {
			return Drawing{}, fmt.Errorf("collector: no free file name in %s", part)
		}
		name = fmt.Sprintf("drawing_%d.png", ts)
		path = filepath.Join(dir, name)
		err := safeio.WriteFileExclusive(path, data)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return Drawing{}, fmt.Errorf("collector: write %s: %w", name, err)
		}
		ts++
	}

	d := Drawing{
		ID:        s.newID(),
		Category:  category,
		Label:     s.cats.Index(category),
		Partition: part,
		Filename:  name,
		Bytes:     len(data),
		Width:     width,
		Height:    height,
		CreatedAt: ts,
	}
	if err := s.insert(ctx, d); err != nil {
		os.Remove(path)
		return Drawing{}, err
	}
	return d, nil
}

func (s *Store) insert(ctx context.Context, d Drawing) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO drawings (id, category, label, partition, filename, bytes, width, height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Category, d.Label, d.Partition, d.Filename, d.Bytes, d.Width, d.Height, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("collector: index %s/%s: %w", d.Partition, d.Filename, err)
	}
	return nil
}

// Path returns the file path of d.
func (s *Store) Path(d Drawing) string {
	return filepath.Join(s.root, d.Partition, d.Filename)
}

const drawingCols = `id, category, label, partition, filename, bytes, width, height, created_at`

func scanDrawings(rows *sql.Rows) ([]Drawing, error) {
	defer rows.Close()
	var out []Drawing
	for rows.Next() {
		var d Drawing
		if err := rows.Scan(&d.ID, &d.Category, &d.Label, &d.Partition, &d.Filename,
			&d.Bytes, &d.Width, &d.Height, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("collector: scan drawing: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Recent returns up to limit drawings, newest first, optionally restricted
// to one partition.
func (s *Store) Recent(ctx context.Context, partition string, limit int) ([]Drawing, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+drawingCols+` FROM drawings
		WHERE ? = '' OR partition = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, partition, partition, limit)
	if err != nil {
		return nil, fmt.Errorf("collector: list drawings: %w", err)
	}
	return scanDrawings(rows)
}

// Labeled returns every drawing with a label, oldest first.
func (s *Store) Labeled(ctx context.Context) ([]Drawing, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+drawingCols+` FROM drawings
		WHERE label >= 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("collector: list labeled: %w", err)
	}
	return scanDrawings(rows)
}

// Stats is the drawing count per partition.
type Stats struct {
	Total      int            `json:"total"`
	Partitions map[string]int `json:"partitions"`
}

// Stats counts drawings per partition. Every configured partition is
// present, with 0 when empty.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Partitions: make(map[string]int)}
	for _, p := range s.cats.All() {
		st.Partitions[p] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT partition, COUNT(*) FROM drawings GROUP BY partition`)
	if err != nil {
		return st, fmt.Errorf("collector: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return st, fmt.Errorf("collector: stats scan: %w", err)
		}
		st.Partitions[p] = n
		st.Total += n
	}
	return st, rows.Err()
}

// Reindex indexes drawing_<ms>.png files found in the partitions but
// missing from the index, e.g. files copied in by hand. Unreadable PNGs are
// skipped with a warning. It returns the number of files added.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	added := 0
	for _, part := range s.cats.All() {
		dir := filepath.Join(s.root, part)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("collector: read %s: %w", dir, err)
		}

		label := s.cats.Label(part)
		for _, e := range entries {
			ts, ok := parseDrawingName(e.Name())
			if e.IsDir() || !ok {
				continue
			}
			var exists int
			err := s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM drawings WHERE partition = ? AND filename = ?`, part, e.Name()).Scan(&exists)
			if err != nil {
				return added, fmt.Errorf("collector: reindex lookup: %w", err)
			}
			if exists > 0 {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return added, fmt.Errorf("collector: read %s: %w", e.Name(), err)
			}
			cfg, err := png.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				s.logger.Warn("reindex: skipping unreadable png", "partition", part, "file", e.Name(), "error", err)
				continue
			}
			category := float64(label)
			if label < 0 {
				category = -1
			}
			d := Drawing{
				ID: s.newID(), Category: category, Label: label, Partition: part,
				Filename: e.Name(), Bytes: len(data), Width: cfg.Width, Height: cfg.Height, CreatedAt: ts,
			}
			if err := s.insert(ctx, d); err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}

func parseDrawingName(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, "drawing_")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, ".png")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(digits, 10, 64)
	return ts, err == nil && ts >= 0
}
