package preview

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"hls-preview/internal/catalog"
	"hls-preview/internal/hlsengine"
	"hls-preview/internal/playback"
	"hls-preview/internal/surface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const streamURL = "https://cdn.example.com/x/manifest.m3u8"

type fakeCatalog struct {
	templates map[string]catalog.Template
	runErr    error
	runs      int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{templates: map[string]catalog.Template{
		"walter_white_falling": {ID: "walter_white_falling", PreviewStreamURL: streamURL},
		"no_preview":           {ID: "no_preview"},
	}}
}

func (c *fakeCatalog) ListTemplates(context.Context) ([]catalog.Template, error) {
	out := make([]catalog.Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	return out, nil
}

func (c *fakeCatalog) GetTemplate(_ context.Context, id string) (*catalog.Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return &t, nil
}

func (c *fakeCatalog) Run(_ context.Context, id string, _ map[string]any) (*catalog.RunResult, error) {
	c.runs++
	if c.runErr != nil {
		return nil, c.runErr
	}
	return &catalog.RunResult{StreamURL: fmt.Sprintf("https://cdn.example.com/run/%s/%d.m3u8", id, c.runs)}, nil
}

// newNativeService returns a service whose surfaces play HLS natively and
// restrict unmuted autoplay, with no streaming engine.
func newNativeService(t *testing.T) (*Service, *fakeCatalog) {
	t.Helper()
	return newTestService(t, surface.Config{NativeHLS: true, AutoplayRestricted: true})
}

func newTestService(t *testing.T, surfaces surface.Config) (*Service, *fakeCatalog) {
	t.Helper()
	opener := playback.NewOpener(playback.Config{Provider: hlsengine.NewProvider(hlsengine.WithEnabled(false))})
	cat := newFakeCatalog()
	svc := NewService(NewInMemoryRepository(), playback.NewRegistry(opener), cat, surfaces, nil, nil)
	t.Cleanup(svc.Close)
	return svc, cat
}

func TestService_Mount_grid_autoplays_muted(t *testing.T) {
	svc, _ := newNativeService(t)

	view, err := svc.Mount("grid-1", "grid", streamURL)
	require.NoError(t, err)
	assert.Equal(t, playback.PhaseLive, view.Phase)
	assert.Equal(t, "playing", view.State)
	assert.True(t, view.Surface.Playing)
	assert.True(t, view.Surface.Muted)
	assert.True(t, view.Surface.Loop)
	assert.False(t, view.Surface.Controls)
	assert.Empty(t, view.StreamURL, "grid does not expose the stream url")
	assert.False(t, view.MountedAt.IsZero())
}

func TestService_Mount_modal_waits_for_gesture(t *testing.T) {
	svc, _ := newNativeService(t)

	view, err := svc.Mount("modal", "modal", streamURL)
	require.NoError(t, err)
	assert.Equal(t, "ready", view.State, "unmuted autoplay rejection leaves the session ready")
	assert.Equal(t, playback.PhaseLive, view.Phase)
	assert.False(t, view.Surface.Playing)

	view, err = svc.Play(context.Background(), "modal")
	require.NoError(t, err)
	assert.Equal(t, "playing", view.State)
	assert.True(t, view.Surface.Playing)
}

func TestService_Mount_same_url_keeps_session(t *testing.T) {
	svc, _ := newNativeService(t)

	first, err := svc.Mount("grid-1", "grid", streamURL)
	require.NoError(t, err)
	again, err := svc.Mount("grid-1", "grid", streamURL)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, again.SessionID)

	changed, err := svc.Mount("grid-1", "grid", streamURL+"?v=2")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, changed.SessionID)
	assert.Equal(t, 1, svc.MountCount())
}

func TestService_Mount_variant_change_replaces_surface(t *testing.T) {
	svc, _ := newNativeService(t)

	grid, err := svc.Mount("s", "grid", streamURL)
	require.NoError(t, err)
	out, err := svc.Mount("s", "output", streamURL)
	require.NoError(t, err)

	assert.Equal(t, playback.VariantOutput, out.Variant)
	assert.NotEqual(t, grid.SessionID, out.SessionID)
	assert.Equal(t, streamURL, out.StreamURL)
	assert.Equal(t, 1, svc.MountCount())
}

func TestService_Mount_empty_url(t *testing.T) {
	svc, _ := newNativeService(t)

	view, err := svc.Mount("grid-1", "grid", "")
	require.NoError(t, err)
	assert.Empty(t, view.SessionID)
	assert.Equal(t, playback.PhaseError, view.Phase)
	assert.True(t, view.Placeholder)
}

func TestService_Mount_validation(t *testing.T) {
	svc, _ := newNativeService(t)

	_, err := svc.Mount("", "grid", streamURL)
	assert.ErrorIs(t, err, ErrInvalidSurfaceID)
	_, err = svc.Mount("a", "carousel", streamURL)
	assert.ErrorIs(t, err, playback.ErrUnknownVariant)
	_, err = svc.Mount("a", "grid", "ftp://cdn/x.m3u8")
	assert.ErrorIs(t, err, ErrInvalidStreamURL)
	_, err = svc.Mount("a", "grid", "/relative.m3u8")
	assert.ErrorIs(t, err, ErrInvalidStreamURL)
	assert.Equal(t, 0, svc.MountCount())
}

func TestService_unsupported_fallbacks(t *testing.T) {
	svc, _ := newTestService(t, surface.Config{})

	grid, err := svc.Mount("grid-1", "grid", streamURL)
	require.NoError(t, err)
	assert.Equal(t, playback.PhaseError, grid.Phase)
	assert.True(t, grid.Placeholder)
	assert.Empty(t, grid.Message)
	assert.Equal(t, "unsupported", grid.FaultKind)

	modal, err := svc.Mount("modal", "modal", streamURL)
	require.NoError(t, err)
	assert.Equal(t, "Preview unavailable", modal.Message)
	assert.False(t, modal.Retryable)

	out, err := svc.Mount("out", "output", streamURL)
	require.NoError(t, err)
	assert.True(t, out.Retryable)
	assert.Equal(t, streamURL, out.StreamURL)
	assert.Contains(t, out.Message, "still available")

	_, err = svc.Play(context.Background(), "out")
	assert.ErrorIs(t, err, playback.ErrNotReady)
}

func TestService_Retry(t *testing.T) {
	svc, _ := newTestService(t, surface.Config{})

	first, err := svc.Mount("out", "output", streamURL)
	require.NoError(t, err)
	retried, err := svc.Retry("out")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, retried.SessionID, "retry opens a fresh session")

	_, err = svc.Mount("grid-1", "grid", streamURL)
	require.NoError(t, err)
	_, err = svc.Retry("grid-1")
	assert.ErrorIs(t, err, playback.ErrRetryNotAllowed)

	_, err = svc.Retry("missing")
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestService_concurrent_mount_and_view(t *testing.T) {
	svc, _ := newNativeService(t)
	_, err := svc.Mount("s1", "grid", streamURL)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_, _ = svc.Mount("s1", "grid", fmt.Sprintf("%s?v=%d", streamURL, i%2))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_, _ = svc.View("s1")
			_ = svc.List()
			_, _ = svc.Play(context.Background(), "s1")
		}
	}()
	wg.Wait()

	view, err := svc.View("s1")
	require.NoError(t, err)
	assert.Equal(t, "playing", view.State)
}

func TestService_Unmount(t *testing.T) {
	svc, _ := newNativeService(t)

	_, err := svc.Mount("grid-1", "grid", streamURL)
	require.NoError(t, err)
	assert.True(t, svc.Unmount("grid-1"))
	assert.False(t, svc.Unmount("grid-1"))

	_, err = svc.View("grid-1")
	assert.ErrorIs(t, err, ErrNotMounted)
	assert.Empty(t, svc.List())
}

func TestService_List_sorted(t *testing.T) {
	svc, _ := newNativeService(t)
	for _, id := range []playback.SurfaceID{"c", "a", "b"} {
		_, err := svc.Mount(id, "grid", streamURL)
		require.NoError(t, err)
	}
	views := svc.List()
	require.Len(t, views, 3)
	assert.Equal(t, playback.SurfaceID("a"), views[0].SurfaceID)
	assert.Equal(t, playback.SurfaceID("c"), views[2].SurfaceID)
}

func TestService_PreviewTemplate(t *testing.T) {
	svc, _ := newNativeService(t)

	view, err := svc.PreviewTemplate(context.Background(), "walter_white_falling")
	require.NoError(t, err)
	assert.Equal(t, PreviewSurfaceID, view.SurfaceID)
	assert.Equal(t, playback.VariantModal, view.Variant)
	assert.True(t, view.Options.ShowControls)

	_, err = svc.PreviewTemplate(context.Background(), "no_preview")
	assert.ErrorIs(t, err, ErrNoPreview)

	_, err = svc.PreviewTemplate(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestService_RunTemplate(t *testing.T) {
	svc, cat := newNativeService(t)

	res, err := svc.RunTemplate(context.Background(), "walter_white_falling", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, OutputSurfaceID("walter_white_falling"), res.View.SurfaceID)
	assert.Equal(t, res.Result.StreamURL, res.View.StreamURL)
	assert.Equal(t, playback.VariantOutput, res.View.Variant)

	second, err := svc.RunTemplate(context.Background(), "walter_white_falling", nil)
	require.NoError(t, err)
	assert.NotEqual(t, res.View.SessionID, second.View.SessionID, "a new result rebinds the output surface")
	assert.Equal(t, 1, svc.MountCount())

	cat.runErr = fmt.Errorf("%w: boom", catalog.ErrUnavailable)
	_, err = svc.RunTemplate(context.Background(), "walter_white_falling", nil)
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
}

func TestService_engine_lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".m3u8"):
			w.Header().Set("Content-Type", playback.HLSMimeType)
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXTINF:1,\n0.ts\n#EXTINF:1,\n1.ts\n")
		default:
			b := make([]byte, 188*2)
			b[0], b[188] = 0x47, 0x47
			w.Write(b)
		}
	}))
	defer origin.Close()

	client := &http.Client{Timeout: 2 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	opener := playback.NewOpener(playback.Config{Provider: hlsengine.NewProvider(hlsengine.WithHTTPClient(client))})
	svc := NewService(NewInMemoryRepository(), playback.NewRegistry(opener), newFakeCatalog(), surface.Config{}, nil, nil)

	_, err := svc.Mount("grid-1", "grid", origin.URL+"/live.m3u8")
	require.NoError(t, err)
	_, err = svc.Mount("grid-2", "grid", origin.URL+"/live.m3u8")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.LiveEngines())

	require.Eventually(t, func() bool {
		v, err := svc.View("grid-1")
		return err == nil && v.State == "playing" && v.Surface.Appended > 0
	}, 5*time.Second, 10*time.Millisecond)

	svc.Unmount("grid-1")
	assert.Equal(t, 1, svc.LiveEngines())

	svc.Close()
	assert.Equal(t, 0, svc.LiveEngines())
	assert.Equal(t, 0, svc.MountCount())
}
