package canvas

import "fmt"

// EventKind is the kind of a pointer event.
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	PointerUp
	PointerLeave
	PointerCancel
)

func (k EventKind) String() string {
	switch k {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	case PointerLeave:
		return "leave"
	case PointerCancel:
		return "cancel"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Source is the input device behind a pointer event.
type Source int

const (
	SourceMouse Source = iota
	SourceTouch
)

// Rect is the on-screen rectangle of the surface, in client coordinates.
type Rect struct {
	Left, Top     float64
	Width, Height float64
}

// PointerEvent is a device-independent pointer sample in client coordinates.
type PointerEvent struct {
	Kind      EventKind
	PointerID int
	Source    Source
	ClientX   float64
	ClientY   float64
	Bounds    Rect
}

// Local converts the event position to surface coordinates.
func (e PointerEvent) Local() Point {
	return Point{X: e.ClientX - e.Bounds.Left, Y: e.ClientY - e.Bounds.Top}
}

// StrokeState is the state of a StrokeController.
type StrokeState int

const (
	Idle StrokeState = iota
	Drawing
)

func (s StrokeState) String() string {
	if s == Drawing {
		return "drawing"
	}
	return "idle"
}

// EventResult tells the event source what happened to an event.
type EventResult struct {
	// PreventDefault is set for touch events that belong to an active stroke,
	// so the host can suppress scrolling and panning.
	PreventDefault bool
	// Committed is set when the event ended a stroke and a snapshot was pushed.
	Committed bool
}

// StrokeController turns pointer events into strokes on a Surface and
// pushes a History snapshot when each stroke ends.
//
//	Idle    --down-->            Drawing  record start point
//	Drawing --move-->            Drawing  paint last->current
//	Drawing --up|leave|cancel--> Idle     push snapshot
//
// Only the pointer that started a stroke is followed; others are ignored
// until it ends.
type StrokeController struct {
	surface *Surface
	history *History

	state   StrokeState
	pointer int
	path    []Point
}

// NewStrokeController binds a controller to a surface and its history.
func NewStrokeController(surface *Surface, history *History) *StrokeController {
	return &StrokeController{surface: surface, history: history}
}

// State returns the current state.
func (c *StrokeController) State() StrokeState { return c.state }

// Path returns a copy of the points of the active stroke.
func (c *StrokeController) Path() []Point {
	return append([]Point(nil), c.path...)
}

// Reset abandons any active stroke without pushing a snapshot.
func (c *StrokeController) Reset() {
	c.state = Idle
	c.path = c.path[:0]
}

// Handle applies one pointer event. Errors come from the surface; an
// ErrNotReady surface leaves the controller state consistent.
func (c *StrokeController) Handle(ev PointerEvent) (EventResult, error) {
	touch := ev.Source == SourceTouch

	switch c.state {
	case Idle:
		if ev.Kind != PointerDown {
			return EventResult{}, nil
		}
		c.state = Drawing
		c.pointer = ev.PointerID
		c.path = append(c.path[:0], ev.Local())
		return EventResult{PreventDefault: touch}, nil

	case Drawing:
		if ev.PointerID != c.pointer {
			return EventResult{}, nil
		}
		switch ev.Kind {
		case PointerMove:
			p := ev.Local()
			last := c.path[len(c.path)-1]
			c.path = append(c.path, p)
			if err := c.surface.PaintStroke([]Point{last, p}); err != nil {
				return EventResult{PreventDefault: touch}, err
			}
			return EventResult{PreventDefault: touch}, nil

		case PointerUp, PointerLeave, PointerCancel:
			c.Reset()
			snap, err := c.surface.Snapshot()
			if err != nil {
				return EventResult{PreventDefault: touch}, err
			}
			c.history.Push(snap)
			return EventResult{PreventDefault: touch, Committed: true}, nil
		}
		return EventResult{PreventDefault: touch}, nil
	}
	return EventResult{}, nil
}
