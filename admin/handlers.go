package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/selfdiag/recorder"
	"github.com/maxpert/selfdiag/ring"
	"github.com/rs/zerolog/log"
)

// Recorder is the part of the recorder the admin endpoints read
type Recorder interface {
	Stats() recorder.Stats
	Sync() error
	Path() string
}

// AdminHandlers serves the diagnostics endpoints
type AdminHandlers struct {
	recorder Recorder
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(rec Recorder) *AdminHandlers {
	return &AdminHandlers{recorder: rec}
}

// handleStats returns the ring cursor and the sources being recorded
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.recorder.Stats())
}

// handleSources returns only the recorded source names
func (h *AdminHandlers) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.recorder.Stats().Sources)
}

// handleSnapshot streams the ring contents oldest line first.
// ?compress=zstd returns a zstd frame instead of plain text.
func (h *AdminHandlers) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	compress, err := parseCompress(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	path := h.recorder.Path()
	if path == "" {
		writeErrorResponse(w, http.StatusNotFound, "diagnostics recording is disabled")
		return
	}

	if err := h.recorder.Sync(); err != nil {
		log.Warn().Err(err).Msg("Failed to sync ring before snapshot")
	}

	var buf bytes.Buffer
	if err := ring.Export(&buf, path, compress); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	etag := fmt.Sprintf("\"%016x\"", xxhash.Sum64(buf.Bytes()))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	name := "diagnostics-" + strconv.FormatInt(time.Now().Unix(), 10) + ".log"
	if compress {
		name += ".zst"
		w.Header().Set("Content-Type", "application/zstd")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))

	if _, err := buf.WriteTo(w); err != nil {
		log.Debug().Err(err).Msg("Snapshot client went away")
	}
}

func parseCompress(r *http.Request) (bool, error) {
	switch r.URL.Query().Get("compress") {
	case "", "none":
		return false, nil
	case "zstd":
		return true, nil
	}
	return false, errUnsupportedCompression
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	response := map[string]interface{}{
		"data": data,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
