package collector

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"os"
	"regexp"
	"strconv"

	"github.com/hazyhaar/emosketch/observability"
	"github.com/hazyhaar/emosketch/shield"
)

// Client-facing messages of the save endpoint.
const (
	msgSaved         = "Imagen guardada"
	msgInvalidData   = "Datos inválidos"
	msgInvalidFormat = "Formato de imagen inválido"
)

var dataURLRe = regexp.MustCompile(`^data:image/png;base64,(.+)$`)

var (
	errInvalidData   = errors.New(msgInvalidData)
	errInvalidFormat = errors.New(msgInvalidFormat)
)

type saveRequest struct {
	Image    string          `json:"image"`
	Category json.RawMessage `json:"category"`
}

type saveResponse struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// decodeImage parses a PNG data URL and returns the PNG bytes and size.
func decodeImage(dataURL string) ([]byte, int, int, error) {
	m := dataURLRe.FindStringSubmatch(dataURL)
	if m == nil {
		return nil, 0, 0, errInvalidFormat
	}
	data, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return nil, 0, 0, errInvalidFormat
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, errInvalidFormat
	}
	return data, cfg.Width, cfg.Height, nil
}

// parseCategory accepts a JSON number only; strings, null and a missing
// field are rejected.
func parseCategory(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func (c *Collector) handleSaveDrawing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := shield.GetLogger(ctx)

	reject := func(err error, reason string) {
		log.Info("save-drawing rejected", "reason", reason)
		c.events.LogEvent(ctx, observability.BusinessEvent{
			EventType:  observability.EventDrawingRejected,
			EntityType: "drawing",
			Details:    map[string]any{"reason": reason},
		})
		writeError(w, http.StatusBadRequest, err)
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(errInvalidData, "body")
		return
	}
	category, ok := parseCategory(req.Category)
	if req.Image == "" || !ok {
		reject(errInvalidData, "fields")
		return
	}
	data, width, height, err := decodeImage(req.Image)
	if err != nil {
		reject(err, "image")
		return
	}

	d, err := c.store.Save(ctx, category, data, width, height)
	if err != nil {
		log.Error("save-drawing failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	c.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventDrawingSaved,
		EntityType: "drawing",
		EntityID:   d.ID,
		Details:    map[string]any{"partition": d.Partition, "filename": d.Filename, "bytes": d.Bytes},
		Success:    true,
	})
	log.Info("drawing saved", "partition", d.Partition, "filename", d.Filename, "bytes", d.Bytes)
	writeJSON(w, http.StatusOK, saveResponse{Message: msgSaved, Filename: d.Filename})
}

func (c *Collector) handlePrepare(w http.ResponseWriter, r *http.Request) {
	res, err := c.Prepare(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("prepare failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("dataset preparation failed"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *Collector) handleDatasetFile(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := c.dataset.Path(name)
		if errors.Is(err, ErrNotPrepared) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeAttachment(w, name, data)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Collector) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := c.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *Collector) handleDrawings(w http.ResponseWriter, r *http.Request) {
	list, err := c.store.Recent(r.Context(), r.URL.Query().Get("partition"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []Drawing{}
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeAttachment(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
