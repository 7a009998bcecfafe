package canvas

import "bytes"

// DefaultHistoryDepth is the snapshot capacity used when NewHistory gets a
// non-positive value.
const DefaultHistoryDepth = 50

// Snapshot is an immutable copy of a surface bitmap.
type Snapshot struct {
	width, height int
	pix           []byte
}

func newSnapshot(w, h int, rgba []byte) Snapshot {
	pix := make([]byte, len(rgba))
	copy(pix, rgba)
	return Snapshot{width: w, height: h, pix: pix}
}

// NewSnapshot builds a snapshot from packed RGBA bytes (4 per pixel, row-major).
// rgba is copied. It returns false when the length does not match w*h*4.
func NewSnapshot(w, h int, rgba []byte) (Snapshot, bool) {
	if w <= 0 || h <= 0 || len(rgba) != w*h*4 {
		return Snapshot{}, false
	}
	return newSnapshot(w, h, rgba), true
}

func (s Snapshot) Width() int  { return s.width }
func (s Snapshot) Height() int { return s.height }

// IsZero reports whether s holds no bitmap.
func (s Snapshot) IsZero() bool { return s.pix == nil }

// Pix returns a copy of the RGBA bytes.
func (s Snapshot) Pix() []byte {
	out := make([]byte, len(s.pix))
	copy(out, s.pix)
	return out
}

// Equal reports whether both snapshots hold the same bitmap.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.width == o.width && s.height == o.height && bytes.Equal(s.pix, o.pix)
}

// History is a bounded stack of snapshots with a cursor. It is a ring
// buffer: once full, every Push evicts the oldest entry. Undo moves the
// cursor back without dropping entries; the next Push discards everything
// after the cursor. There is no redo.
type History struct {
	buf    []Snapshot
	start  int // ring index of the oldest entry
	n      int
	cursor int // logical index, -1 when empty
}

// NewHistory returns an empty history holding at most capacity snapshots.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryDepth
	}
	return &History{buf: make([]Snapshot, capacity), cursor: -1}
}

func (h *History) slot(i int) int { return (h.start + i) % len(h.buf) }

// Push records snap as the newest entry.
func (h *History) Push(snap Snapshot) {
	for i := h.cursor + 1; i < h.n; i++ {
		h.buf[h.slot(i)] = Snapshot{}
	}
	h.n = h.cursor + 1

	if h.n == len(h.buf) {
		h.buf[h.start] = Snapshot{}
		h.start = (h.start + 1) % len(h.buf)
		h.n--
	}
	h.buf[h.slot(h.n)] = snap
	h.n++
	h.cursor = h.n - 1
}

// Undo steps the cursor back and returns the entry it now points at.
// It returns false, with the history untouched, when there is nothing to undo.
func (h *History) Undo() (Snapshot, bool) {
	if h.cursor <= 0 {
		return Snapshot{}, false
	}
	h.cursor--
	return h.buf[h.slot(h.cursor)], true
}

// Current returns the entry under the cursor.
func (h *History) Current() (Snapshot, bool) {
	if h.cursor < 0 {
		return Snapshot{}, false
	}
	return h.buf[h.slot(h.cursor)], true
}

// Reset drops every entry and starts again from base.
func (h *History) Reset(base Snapshot) {
	clear(h.buf)
	h.start, h.n, h.cursor = 0, 0, -1
	h.Push(base)
}

// Len is the number of stored entries, including those past the cursor.
func (h *History) Len() int { return h.n }

// Cursor is the index of the current entry, -1 when empty.
func (h *History) Cursor() int { return h.cursor }

// Capacity is the maximum number of entries kept.
func (h *History) Capacity() int { return len(h.buf) }
