package stream

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"rtsp-studio/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Handler exposes the stream lifecycle and file-serving HTTP endpoints.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and
// optional Metrics. Metrics may be nil to disable metric recording (e.g. in
// tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts all stream endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/diagnostics", h.Diagnostics)
	r.Route("/streams", func(r chi.Router) {
		r.Post("/", h.CreateStream)
		r.Get("/", h.ListStreams)
		r.Route("/{stream_id}", func(r chi.Router) {
			r.Get("/", h.GetStream)
			r.Post("/stop", h.StopStream)
			r.Get("/files/*", h.StreamFile)
		})
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// Diagnostics handles GET /diagnostics: encoder availability plus current
// stream count.
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	available, count := h.svc.Diagnostics(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"api_status":       "working",
		"ffmpeg_available": available,
		"active_streams":   count,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

type createRequest struct {
	SourceURL string `json:"sourceURL"`
}

// CreateStream handles POST /streams. The 201 is optimistic: the encoder has
// been launched but not yet confirmed working, and the returned status is
// "starting".
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	rec, err := h.svc.Create(req.SourceURL)
	switch {
	case errors.Is(err, ErrInvalidSource):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.log.Error("create stream failed", slog.String("error", err.Error()))
		if h.metrics != nil {
			h.metrics.IncStreamFailures()
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncStreamsStarted()
	}
	writeJSON(w, http.StatusCreated, h.svc.Info(rec, false))
}

// GetStream handles GET /streams/{stream_id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	rec, err := h.svc.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Info(rec, true))
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	recs := h.svc.List()
	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, h.svc.Info(rec, false))
	}
	writeJSON(w, http.StatusOK, map[string][]Info{"streams": infos})
}

type stopResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// StopStream handles POST /streams/{stream_id}/stop. Stopping an unknown or
// already-stopped id is a 404, not a failure.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	detail, err := h.svc.Stop(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncStreamsStopped()
	}
	writeJSON(w, http.StatusOK, stopResponse{Success: true, Detail: detail})
}

// StreamFile handles GET /streams/{stream_id}/files/*. Responses carry CORS
// and range headers for browser players; playlists are never cached while
// segments may be cached for an hour. A file missing during the startup race
// is a plain 404 and clients are expected to retry.
func (h *Handler) StreamFile(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	name := chi.URLParam(r, "*")

	path, err := h.svc.SegmentPath(id, name)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusNotFound, ErrNotFound)
		return
	}

	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Range, Content-Type")
	hdr.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
	hdr.Set("Content-Type", contentTypeFor(name))
	if isManifest(name) {
		hdr.Set("Cache-Control", manifestCacheControl)
		hdr.Set("Pragma", "no-cache")
		hdr.Set("Expires", "0")
	} else {
		hdr.Set("Cache-Control", segmentCacheControl)
	}

	if h.metrics != nil {
		h.metrics.IncSegmentRequests()
	}
	// ServeContent supplies Accept-Ranges and honors Range requests.
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
