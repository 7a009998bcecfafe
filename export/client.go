// Package export is the HTTP client side of the collector: it sends drawings
// and sample arrays to a collector and fetches the prepared dataset files.
// Each call is a single round trip; there are no retries.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/emosketch/safeio"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Dataset file names served by the collector.
const (
	SamplesFile = "X.npy"
	LabelsFile  = "y.npy"
)

// ErrUnknownFile is returned by Download for names other than X.npy and y.npy.
var ErrUnknownFile = errors.New("export: unknown dataset file")

// StatusError is a non-2xx collector response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("export: collector status %d", e.Code)
	}
	return fmt.Sprintf("export: collector status %d: %s", e.Code, e.Message)
}

// SaveResult is the collector's answer to a saved drawing.
type SaveResult struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// PrepareResult is the collector's answer to a dataset preparation.
type PrepareResult struct {
	Samples int `json:"samples"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// Client talks to one collector.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	maxBody int64
	logger  *slog.Logger
}

// Option customises New.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithTimeout sets the per-request timeout. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxBody caps response bodies. Default: safeio.MaxResponseBody.
func WithMaxBody(n int64) Option { return func(c *Client) { c.maxBody = n } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New returns a client for the collector rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if err := safeio.ValidateBaseURL(baseURL); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		maxBody: safeio.MaxResponseBody,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the collector root the client was built with.
func (c *Client) BaseURL() string { return c.base }

// SaveDrawing posts a PNG data URL with its category to /save-drawing.
func (c *Client) SaveDrawing(ctx context.Context, dataURL string, category int) (SaveResult, error) {
	var res SaveResult
	body, err := c.postJSON(ctx, "/save-drawing", map[string]any{
		"image":    dataURL,
		"category": category,
	})
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return res, fmt.Errorf("export: decode save response: %w", err)
	}
	c.logger.Debug("drawing saved", "category", category, "filename", res.Filename)
	return res, nil
}

// DownloadSamples posts grayscale samples to /download-x and returns the
// file the collector streams back.
func (c *Client) DownloadSamples(ctx context.Context, samples []byte) ([]byte, error) {
	// []byte would marshal as base64; the endpoint wants a number array.
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	return c.postJSON(ctx, "/download-x", map[string]any{"data": data})
}

// DownloadLabel posts a label to /download-y and returns the one-byte file.
func (c *Client) DownloadLabel(ctx context.Context, label int) ([]byte, error) {
	return c.postJSON(ctx, "/download-y", map[string]any{"label": label})
}

// Prepare asks the collector to rebuild X.npy and y.npy.
func (c *Client) Prepare(ctx context.Context) (PrepareResult, error) {
	var res PrepareResult
	body, err := c.do(ctx, http.MethodGet, "/prepare", nil)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return res, fmt.Errorf("export: decode prepare response: %w", err)
	}
	return res, nil
}

// Download fetches a prepared dataset file (SamplesFile or LabelsFile).
func (c *Client) Download(ctx context.Context, name string) ([]byte, error) {
	if name != SamplesFile && name != LabelsFile {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFile, name)
	}
	return c.do(ctx, http.MethodGet, "/"+name, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("export: encode %s: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(raw))
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("export: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := safeio.LimitedReadAll(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("export: read %s: %w", path, err)
	}
	c.logger.Debug("collector call", "method", method, "path", path,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// errorMessage extracts {"error": "..."} from a collector error body,
// falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
