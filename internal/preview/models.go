package preview

import (
	"time"

	"hls-preview/internal/catalog"
	"hls-preview/internal/playback"
	"hls-preview/internal/surface"
)

// MountRequest is the body of PUT /surfaces/{surface_id}.
type MountRequest struct {
	Variant   string `json:"variant"`
	StreamURL string `json:"stream_url"`
}

// RunRequest is the body of POST /templates/{template_id}/run.
type RunRequest struct {
	Params map[string]any `json:"params"`
}

// Mount is one mounted surface and the presenter driving it.
type Mount struct {
	ID        playback.SurfaceID
	Surface   *surface.Buffered
	Presenter *playback.Presenter

	// Metadata managed by the service (not exposed in the API).
	MountedAt time.Time
	UpdatedAt time.Time
}

// SurfaceView is the API representation of a mount.
type SurfaceView struct {
	playback.View
	Surface   surface.Snapshot `json:"surface"`
	MountedAt time.Time        `json:"mounted_at"`
}

// RunView is the response of a template run: the render result and the
// output surface it was bound to.
type RunView struct {
	Result *catalog.RunResult `json:"result"`
	View   SurfaceView        `json:"view"`
}

// errorBody mirrors the catalog's error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
