// Package idgen provides pluggable ID generation for drawing records and
// business events. Constructors that mint IDs accept a Generator so tests
// can swap in a deterministic sequence.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. They sort by
// creation time, which keeps the drawings index in insertion order.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID from gen (e.g. "drw_", "evt_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator of "<prefix><n>" with n counting from 1.
// Safe for concurrent use. Meant for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string, with an optional prefix stripped first,
// and returns it unchanged.
func Parse(s, prefix string) (string, error) {
	raw := s
	if prefix != "" {
		if len(s) < len(prefix) || s[:len(prefix)] != prefix {
			return "", fmt.Errorf("idgen: %q lacks prefix %q", s, prefix)
		}
		raw = s[len(prefix):]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return s, nil
}
