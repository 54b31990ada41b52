package preview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"hls-preview/internal/catalog"
	"hls-preview/internal/playback"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// Handler exposes the preview service over HTTP using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// RegisterRoutes attaches the surface and template endpoints to r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/surfaces", h.ListSurfaces)
	r.Route("/surfaces/{surface_id}", func(r chi.Router) {
		r.Put("/", h.MountSurface)
		r.Get("/", h.GetSurface)
		r.Delete("/", h.UnmountSurface)
		r.Post("/play", h.PlaySurface)
		r.Post("/retry", h.RetrySurface)
	})
	r.Get("/templates", h.ListTemplates)
	r.Route("/templates/{template_id}", func(r chi.Router) {
		r.Post("/preview", h.PreviewTemplate)
		r.Post("/run", h.RunTemplate)
	})
}

// MountSurface handles PUT /surfaces/{surface_id}.
// Body: { "variant": "grid", "stream_url": "https://cdn/x/manifest.m3u8" }.
func (h *Handler) MountSurface(w http.ResponseWriter, r *http.Request) {
	id := surfaceID(r)

	var req MountRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.log.Debug("invalid mount body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}

	view, err := h.svc.Mount(id, req.Variant, req.StreamURL)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetSurface handles GET /surfaces/{surface_id}.
func (h *Handler) GetSurface(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(surfaceID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListSurfaces handles GET /surfaces.
func (h *Handler) ListSurfaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"surfaces": h.svc.List()})
}

// UnmountSurface handles DELETE /surfaces/{surface_id}. Unknown surfaces are
// not an error.
func (h *Handler) UnmountSurface(w http.ResponseWriter, r *http.Request) {
	h.svc.Unmount(surfaceID(r))
	w.WriteHeader(http.StatusNoContent)
}

// PlaySurface handles POST /surfaces/{surface_id}/play.
func (h *Handler) PlaySurface(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Play(r.Context(), surfaceID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RetrySurface handles POST /surfaces/{surface_id}/retry.
func (h *Handler) RetrySurface(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Retry(surfaceID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListTemplates handles GET /templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := h.svc.Templates(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": ts})
}

// PreviewTemplate handles POST /templates/{template_id}/preview.
func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.PreviewTemplate(r.Context(), chi.URLParam(r, "template_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// RunTemplate handles POST /templates/{template_id}/run.
// Body: { "params": { ... } }; an empty body runs with no params.
func (h *Handler) RunTemplate(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}

	res, err := h.svc.RunTemplate(r.Context(), chi.URLParam(r, "template_id"), req.Params)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.String("code", code), slog.String("error", err.Error()))
	} else {
		h.log.Debug("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotMounted):
		return http.StatusNotFound, "surface_not_mounted"
	case errors.Is(err, ErrInvalidSurfaceID):
		return http.StatusBadRequest, "invalid_surface_id"
	case errors.Is(err, playback.ErrUnknownVariant):
		return http.StatusBadRequest, "unknown_variant"
	case errors.Is(err, ErrInvalidStreamURL):
		return http.StatusBadRequest, "invalid_stream_url"
	case errors.Is(err, playback.ErrRetryNotAllowed):
		return http.StatusConflict, "retry_not_allowed"
	case errors.Is(err, playback.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, playback.ErrPlayRejected):
		return http.StatusConflict, "play_rejected"
	case errors.Is(err, ErrNoPreview):
		return http.StatusNotFound, "no_preview"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "template_not_found"
	case errors.Is(err, catalog.ErrRejected):
		return http.StatusUnprocessableEntity, "upstream_rejected"
	case errors.Is(err, catalog.ErrUnavailable), errors.Is(err, catalog.ErrBadResponse):
		return http.StatusBadGateway, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func surfaceID(r *http.Request) playback.SurfaceID {
	return playback.SurfaceID(chi.URLParam(r, "surface_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(w, status, body)
}
