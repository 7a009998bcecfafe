package collector

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/hazyhaar/emosketch/observability"
	"github.com/hazyhaar/emosketch/safeio"
	"github.com/hazyhaar/emosketch/shield"
)

// The download-x / download-y routes predate the collector: the client posts
// raw bytes, the server writes them to a scratch file and sends the file
// back as an attachment. The bytes are stored as-is, without an NPY header.

var errByteRange = errors.New("values must be integers in 0..255")

type downloadXRequest struct {
	Data []int `json:"data"`
}

type downloadYRequest struct {
	Label *int `json:"label"`
}

func (c *Collector) handleDownloadX(w http.ResponseWriter, r *http.Request) {
	var req downloadXRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == nil {
		writeError(w, http.StatusBadRequest, errInvalidData)
		return
	}
	buf := make([]byte, len(req.Data))
	for i, v := range req.Data {
		if v < 0 || v > 255 {
			writeError(w, http.StatusBadRequest, errByteRange)
			return
		}
		buf[i] = byte(v)
	}
	c.writeLegacy(w, r, SamplesFile, buf)
}

func (c *Collector) handleDownloadY(w http.ResponseWriter, r *http.Request) {
	var req downloadYRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == nil {
		writeError(w, http.StatusBadRequest, errInvalidData)
		return
	}
	if *req.Label < 0 || *req.Label > 255 {
		writeError(w, http.StatusBadRequest, errByteRange)
		return
	}
	c.writeLegacy(w, r, LabelsFile, []byte{byte(*req.Label)})
}

func (c *Collector) writeLegacy(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	ctx := r.Context()
	path := filepath.Join(c.cfg.LegacyDir, name)
	if err := safeio.WriteFileAtomic(path, data); err != nil {
		shield.GetLogger(ctx).Error("legacy download: write", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}
	c.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventLegacyDownload,
		EntityType: "file",
		EntityID:   name,
		Details:    map[string]any{"bytes": len(data)},
		Success:    true,
	})
	writeAttachment(w, name, data)
}
