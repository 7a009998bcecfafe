package collector

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/emosketch/shield"
)

// Config holds the collector configuration.
type Config struct {
	Listen     string `yaml:"listen"`
	DataDir    string `yaml:"data_dir"`    // label partitions live under it
	DBPath     string `yaml:"db_path"`     // drawing index and event log
	DatasetDir string `yaml:"dataset_dir"` // prepared X.npy / y.npy
	LegacyDir  string `yaml:"legacy_dir"`  // scratch files of /download-x and /download-y

	Dataset DatasetConfig `yaml:"dataset"`

	// Categories lists display names by category number; their
	// accent-folded lowercase form names the partition directory.
	Categories []string `yaml:"categories"`
	Fallback   string   `yaml:"fallback"`

	MaxBodyKB          int           `yaml:"max_body_kb"`
	MaxConns           int           `yaml:"max_conns"`
	EventRetentionDays int           `yaml:"event_retention_days"`
	MCP                bool          `yaml:"mcp"`
	RateLimits         []shield.Rule `yaml:"rate_limits"`
}

// DatasetConfig is the size every drawing is scaled to in X.npy.
type DatasetConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:     ":8080",
		DataDir:    "public",
		DBPath:     "data/sketch.db",
		DatasetDir: "data/dataset",
		LegacyDir:  os.TempDir(),
		Dataset:    DatasetConfig{Width: 28, Height: 28},
		Categories: []string{"Alegría", "Tristeza", "Enojo"},
		Fallback:   "otros",
		MaxBodyKB:  8 * 1024,
		MaxConns:   256,

		EventRetentionDays: 90,
		MCP:                true,
		RateLimits: []shield.Rule{
			{Endpoint: "POST /save-drawing", MaxRequests: 60, WindowSeconds: 60, Enabled: true},
			{Endpoint: "GET /prepare", MaxRequests: 6, WindowSeconds: 60, Enabled: true},
		},
	}
}

// LoadConfig reads a YAML config file over DefaultConfig.
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

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.DatasetDir == "" {
		return fmt.Errorf("dataset_dir is required")
	}
	if c.LegacyDir == "" {
		return fmt.Errorf("legacy_dir is required")
	}
	if c.Dataset.Width <= 0 || c.Dataset.Height <= 0 {
		return fmt.Errorf("dataset width and height must be > 0")
	}
	if c.MaxBodyKB <= 0 {
		return fmt.Errorf("max_body_kb must be > 0")
	}
	if _, err := NewCategories(c.Categories, c.Fallback); err != nil {
		return err
	}
	for i, r := range c.RateLimits {
		if r.Endpoint == "" {
			return fmt.Errorf("rate_limits[%d]: endpoint is required", i)
		}
		if r.Enabled && (r.MaxRequests <= 0 || r.WindowSeconds <= 0) {
			return fmt.Errorf("rate_limits[%d]: max_requests and window_seconds must be > 0", i)
		}
	}
	return nil
}

// MaxBodyBytes returns the request body cap in bytes.
func (c *Config) MaxBodyBytes() int64 { return int64(c.MaxBodyKB) * 1024 }
