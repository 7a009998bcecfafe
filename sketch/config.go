package sketch

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/gogpu/gg"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/emosketch/canvas"
)

// Config holds the session configuration.
type Config struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	HistoryDepth int     `yaml:"history_depth"`
	PenWidth     float64 `yaml:"pen_width"`
	PenColor     string  `yaml:"pen_color"`  // #rgb, #rrggbb or #rrggbbaa
	Background   string  `yaml:"background"` // same formats
	CollectorURL string  `yaml:"collector_url"`
	TimeoutMs    int64   `yaml:"timeout_ms"`
}

// DefaultConfig returns a 500x500 white surface with a black 3px pen.
func DefaultConfig() *Config {
	return &Config{
		Width:        500,
		Height:       500,
		HistoryDepth: canvas.DefaultHistoryDepth,
		PenWidth:     3,
		PenColor:     "#000",
		Background:   "#fff",
		CollectorURL: "http://127.0.0.1:8080",
		TimeoutMs:    30_000,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// Validate checks sizes and colours.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be > 0 (got %dx%d)", c.Width, c.Height)
	}
	if c.HistoryDepth < 2 {
		return fmt.Errorf("history_depth must be >= 2")
	}
	if c.PenWidth <= 0 {
		return fmt.Errorf("pen_width must be > 0")
	}
	if !hexColor.MatchString(c.PenColor) {
		return fmt.Errorf("pen_color %q is not a hex colour", c.PenColor)
	}
	if !hexColor.MatchString(c.Background) {
		return fmt.Errorf("background %q is not a hex colour", c.Background)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be >= 0")
	}
	return nil
}

// Timeout returns the collector request timeout.
func (c *Config) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

func (c *Config) surfaceOptions() []canvas.SurfaceOption {
	return []canvas.SurfaceOption{
		canvas.WithBackground(gg.Hex(c.Background)),
		canvas.WithPen(gg.Hex(c.PenColor), c.PenWidth),
	}
}

// MaxViewportHeight caps the surface height derived from the window.
const MaxViewportHeight = 500

// ViewportSize derives a surface size from the host layout: full container
// width, and the window height minus 200px of chrome capped at
// MaxViewportHeight. Both results are at least 1.
func ViewportSize(containerWidth, windowHeight int) (w, h int) {
	w = max(containerWidth, 1)
	h = min(MaxViewportHeight, windowHeight-200)
	return w, max(h, 1)
}
