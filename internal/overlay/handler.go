package overlay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes overlay CRUD endpoints. Overlays are independent of stream
// lifecycle: nothing here touches the stream registry.
type Handler struct {
	store Store
	log   *slog.Logger
}

// NewHandler returns a Handler over the given store.
func NewHandler(store Store, log *slog.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Routes mounts the overlay endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/overlays", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{overlay_id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /overlays.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	o, err := h.store.Create(r.Context(), payload)
	if err != nil {
		h.log.Error("create overlay failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// List handles GET /overlays.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	overlays, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error("list overlays failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, overlays)
}

// Get handles GET /overlays/{overlay_id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.store.Get(r.Context(), chi.URLParam(r, "overlay_id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Update handles PUT /overlays/{overlay_id} as a merge of the payload into
// the stored document.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	_, err := h.store.Update(r.Context(), chi.URLParam(r, "overlay_id"), payload)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true, "success": true})
}

// Delete handles DELETE /overlays/{overlay_id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(r.Context(), chi.URLParam(r, "overlay_id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true, "success": true})
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
