// Package collector is the drawing collection service: it stores submitted
// PNG drawings in label-named partitions, indexes them in SQLite and builds
// uint8 NPY datasets from them.
//
// Routes are mounted on a chi router with [Collector.Routes]; MCP tools are
// registered with [Collector.RegisterMCP].
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/emosketch/observability"
)

// Collector owns the drawing store, the dataset builder and the event log.
type Collector struct {
	cfg     *Config
	cats    *Categories
	store   *Store
	dataset *Dataset
	events  *observability.EventLogger
	logger  *slog.Logger
}

// New creates a Collector on db, applying the index and event schemas.
func New(cfg *Config, db *sql.DB, logger *slog.Logger) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("collector: config: %w", err)
	}
	if db == nil {
		return nil, fmt.Errorf("collector: db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cats, err := NewCategories(cfg.Categories, cfg.Fallback)
	if err != nil {
		return nil, err
	}
	if err := observability.Init(db); err != nil {
		return nil, err
	}
	store, err := NewStore(db, cfg.DataDir, cats, logger)
	if err != nil {
		return nil, err
	}
	dataset, err := NewDataset(store, cfg.DatasetDir, cfg.Dataset, logger)
	if err != nil {
		return nil, err
	}
	return &Collector{
		cfg:     cfg,
		cats:    cats,
		store:   store,
		dataset: dataset,
		events:  observability.NewEventLogger(db),
		logger:  logger,
	}, nil
}

// Store returns the drawing store.
func (c *Collector) Store() *Store { return c.store }

// Categories returns the category map.
func (c *Collector) Categories() *Categories { return c.cats }

// Events returns the business event log.
func (c *Collector) Events() *observability.EventLogger { return c.events }

// Prepare rebuilds the dataset files and records the outcome.
func (c *Collector) Prepare(ctx context.Context) (PrepareResult, error) {
	res, err := c.dataset.Prepare(ctx)
	c.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventDatasetPrepared,
		EntityType: "dataset",
		Details:    map[string]any{"samples": res.Samples, "skipped": res.Skipped, "error": errString(err)},
		Success:    err == nil,
	})
	return res, err
}

// Routes mounts the HTTP surface on r.
func (c *Collector) Routes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/stats", c.handleStats)
	r.Get("/drawings", c.handleDrawings)

	r.Post("/save-drawing", c.handleSaveDrawing)

	r.Get("/prepare", c.handlePrepare)
	r.Get("/"+SamplesFile, c.handleDatasetFile(SamplesFile))
	r.Get("/"+LabelsFile, c.handleDatasetFile(LabelsFile))

	r.Post("/download-x", c.handleDownloadX)
	r.Post("/download-y", c.handleDownloadY)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
