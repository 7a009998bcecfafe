// Command sketchpad replays scripted drawings through a sketch session and
// submits them to a collector, in place of a person at the browser.
//
// Usage:
//
//	sketchpad -script drawings.yaml                         # replay and submit
//	sketchpad -script drawings.yaml -samples -out ./export  # also fetch legacy X/y files per drawing
//	sketchpad -script drawings.yaml -prepare -out ./dataset # rebuild and download X.npy / y.npy
//	sketchpad -script drawings.yaml -offline -out ./png     # no collector, write PNGs locally
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hazyhaar/emosketch/export"
	"github.com/hazyhaar/emosketch/safeio"
	"github.com/hazyhaar/emosketch/sketch"
)

type options struct {
	script    string
	config    string
	collector string
	out       string
	offline   bool
	samples   bool
	prepare   bool
	seed      uint64
}

func main() {
	var o options
	flag.StringVar(&o.script, "script", "", "YAML drawing script (required)")
	flag.StringVar(&o.config, "config", env("SKETCHPAD_CONFIG", ""), "session config file")
	flag.StringVar(&o.collector, "collector", env("SKETCH_COLLECTOR_URL", ""), "collector base URL (overrides config)")
	flag.StringVar(&o.out, "out", ".", "output directory for downloaded and offline files")
	flag.BoolVar(&o.offline, "offline", false, "do not contact a collector; write PNGs to -out")
	flag.BoolVar(&o.samples, "samples", false, "export grayscale samples and label of each drawing via the legacy routes")
	flag.BoolVar(&o.prepare, "prepare", false, "after replay, rebuild the dataset and download X.npy and y.npy")
	flag.Uint64Var(&o.seed, "seed", 0, "label seed (0 = random)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if o.script == "" {
		fmt.Fprintln(os.Stderr, "usage: sketchpad -script <file> [-config <file>] [-collector <url>] [-offline] [-samples] [-prepare] [-out <dir>]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("sketchpad: fatal", "error", err)
		os.Exit(1)
	}
}

// result is printed to stdout, one JSON line per drawing.
type result struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Filename string `json:"filename"`
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	script, err := LoadScript(o.script)
	if err != nil {
		return err
	}
	cfg := sketch.DefaultConfig()
	if o.config != "" {
		if cfg, err = sketch.LoadConfig(o.config); err != nil {
			return err
		}
	}
	if o.collector != "" {
		cfg.CollectorURL = o.collector
	}
	if v := script.Viewport; v != nil {
		cfg.Width, cfg.Height = sketch.ViewportSize(v.ContainerWidth, v.WindowHeight)
	}
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", o.out, err)
	}

	var client *export.Client
	var collector sketch.Collector
	if !o.offline {
		client, err = export.New(cfg.CollectorURL, export.WithTimeout(cfg.Timeout()), export.WithLogger(logger))
		if err != nil {
			return err
		}
		collector = client
	}

	opts := []sketch.Option{sketch.WithLogger(logger)}
	if o.seed != 0 {
		opts = append(opts, sketch.WithRandSource(rand.NewPCG(o.seed, o.seed)))
	}
	sess, err := sketch.New(cfg, collector, opts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	enc := json.NewEncoder(os.Stdout)
	for i, d := range script.Drawings {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Replay(sess)
		label := sess.Label()

		if o.samples && !o.offline {
			if err := exportLegacy(ctx, sess, o.out, i); err != nil {
				return err
			}
		}

		res := result{Index: i, Label: label.Name()}
		if o.offline {
			var buf bytes.Buffer
			if err := sess.EncodePNG(&buf); err != nil {
				return fmt.Errorf("drawing %d: encode: %w", i, err)
			}
			res.Filename = filepath.Join(o.out, fmt.Sprintf("drawing_%03d_%s.png", i, label.Name()))
			if err := safeio.WriteFileAtomic(res.Filename, buf.Bytes()); err != nil {
				return err
			}
			sess.Clear()
		} else {
			saved, err := sess.SubmitDrawing(ctx)
			if err != nil {
				return fmt.Errorf("drawing %d: %w", i, err)
			}
			res.Filename = saved.Filename
		}
		enc.Encode(res)
	}

	if o.prepare && client != nil {
		return downloadDataset(ctx, logger, client, o.out)
	}
	return nil
}

// exportLegacy writes the samples and label files the collector echoes back.
func exportLegacy(ctx context.Context, sess *sketch.Session, dir string, i int) error {
	x, err := sess.ExportSamples(ctx)
	if err != nil {
		return fmt.Errorf("drawing %d: samples: %w", i, err)
	}
	y, err := sess.ExportLabel(ctx)
	if err != nil {
		return fmt.Errorf("drawing %d: label: %w", i, err)
	}
	if err := safeio.WriteFileAtomic(filepath.Join(dir, fmt.Sprintf("%03d_%s", i, export.SamplesFile)), x); err != nil {
		return err
	}
	return safeio.WriteFileAtomic(filepath.Join(dir, fmt.Sprintf("%03d_%s", i, export.LabelsFile)), y)
}

func downloadDataset(ctx context.Context, logger *slog.Logger, client *export.Client, dir string) error {
	res, err := client.Prepare(ctx)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	for _, name := range []string{export.SamplesFile, export.LabelsFile} {
		data, err := client.Download(ctx, name)
		if err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
		if err := safeio.WriteFileAtomic(filepath.Join(dir, name), data); err != nil {
			return err
		}
	}
	logger.Info("dataset downloaded", "samples", res.Samples, "width", res.Width, "height", res.Height, "dir", dir)
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
