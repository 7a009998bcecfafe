package sketch

import (
	"fmt"
	"math/rand/v2"
)

// Label is the target emotion of a drawing.
type Label int

const (
	Joy     Label = 0 // alegria
	Sadness Label = 1 // tristeza
	Anger   Label = 2 // enojo
)

// NumLabels is the number of valid labels.
const NumLabels = 3

var labelNames = [NumLabels]struct{ name, display string }{
	{"alegria", "Alegría"},
	{"tristeza", "Tristeza"},
	{"enojo", "Enojo"},
}

// Valid reports whether l is one of Joy, Sadness, Anger.
func (l Label) Valid() bool { return l >= 0 && l < NumLabels }

// Name is the storage partition name of l.
func (l Label) Name() string {
	if !l.Valid() {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l].name
}

// Display is the name shown to the person drawing.
func (l Label) Display() string {
	if !l.Valid() {
		return l.Name()
	}
	return labelNames[l].display
}

func (l Label) String() string { return l.Name() }

// Labeler holds the current target label and re-rolls it uniformly.
// It is not safe for concurrent use on its own.
type Labeler struct {
	rng     *rand.Rand
	current Label
}

// NewLabeler returns a Labeler drawing from src, with an initial roll.
// A nil src uses the runtime's random source.
func NewLabeler(src rand.Source) *Labeler {
	var rng *rand.Rand
	if src != nil {
		rng = rand.New(src)
	}
	l := &Labeler{rng: rng}
	l.Reroll()
	return l
}

// Current returns the current label.
func (l *Labeler) Current() Label { return l.current }

// Reroll picks a new label uniformly from all labels, independent of the
// previous one, and returns it.
func (l *Labeler) Reroll() Label {
	if l.rng != nil {
		l.current = Label(l.rng.IntN(NumLabels))
	} else {
		l.current = Label(rand.IntN(NumLabels))
	}
	return l.current
}
