package collector

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hazyhaar/emosketch/safeio"
)

// Categories maps category numbers to partition directory names.
type Categories struct {
	names    []string
	display  []string
	fallback string
}

// NewCategories builds the map from display names. Category i is
// display[i]; every other number goes to fallback.
func NewCategories(display []string, fallback string) (*Categories, error) {
	if len(display) == 0 {
		return nil, fmt.Errorf("categories: at least one category is required")
	}
	c := &Categories{display: append([]string(nil), display...)}
	seen := make(map[string]bool)
	for i, d := range display {
		name := Slug(d)
		if err := safeio.ValidateName(name); err != nil {
			return nil, fmt.Errorf("categories[%d] %q: %w", i, d, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("categories[%d] %q: duplicate partition %q", i, d, name)
		}
		seen[name] = true
		c.names = append(c.names, name)
	}
	c.fallback = Slug(fallback)
	if err := safeio.ValidateName(c.fallback); err != nil {
		return nil, fmt.Errorf("fallback %q: %w", fallback, err)
	}
	if seen[c.fallback] {
		return nil, fmt.Errorf("fallback %q collides with a category", fallback)
	}
	return c, nil
}

// Slug folds a display name to a partition name: accents stripped,
// lowercased, spaces to underscores ("Alegría" -> "alegria").
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Join(strings.Fields(folded), "_")
}

// Index returns the label index of a submitted category number, or -1 when
// it is not an integer in range.
func (c *Categories) Index(category float64) int {
	if category != math.Trunc(category) || category < 0 || category >= float64(len(c.names)) {
		return -1
	}
	return int(category)
}

// Partition returns the directory name for a submitted category number.
func (c *Categories) Partition(category float64) string {
	if i := c.Index(category); i >= 0 {
		return c.names[i]
	}
	return c.fallback
}

// Label returns the label index of a partition name, or -1 for the
// fallback and unknown names.
func (c *Categories) Label(partition string) int {
	for i, n := range c.names {
		if n == partition {
			return i
		}
	}
	return -1
}

// Names returns the labeled partition names in label order.
func (c *Categories) Names() []string { return append([]string(nil), c.names...) }

// Display returns the display names in label order.
func (c *Categories) Display() []string { return append([]string(nil), c.display...) }

// Fallback returns the catch-all partition name.
func (c *Categories) Fallback() string { return c.fallback }

// All returns every partition name, fallback last.
func (c *Categories) All() []string { return append(c.Names(), c.fallback) }
