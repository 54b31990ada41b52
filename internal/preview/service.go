package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"hls-preview/internal/catalog"
	"hls-preview/internal/platform/metrics"
	"hls-preview/internal/playback"
	"hls-preview/internal/surface"
)

// PreviewSurfaceID is the single modal surface template previews are shown on.
// Previewing another template rebinds it.
const PreviewSurfaceID playback.SurfaceID = "template-preview"

var (
	// ErrNotMounted is returned for operations on an unknown surface.
	ErrNotMounted = errors.New("surface not mounted")
	// ErrInvalidSurfaceID is returned for an empty surface ID.
	ErrInvalidSurfaceID = errors.New("invalid surface id")
	// ErrInvalidStreamURL is returned for a stream URL that is not absolute http(s).
	ErrInvalidStreamURL = errors.New("invalid stream url")
	// ErrNoPreview is returned when a template has no preview stream.
	ErrNoPreview = errors.New("template has no preview stream")
)

// Catalog is the subset of the template API the service uses.
type Catalog interface {
	ListTemplates(ctx context.Context) ([]catalog.Template, error)
	GetTemplate(ctx context.Context, id string) (*catalog.Template, error)
	Run(ctx context.Context, id string, params map[string]any) (*catalog.RunResult, error)
}

// OutputSurfaceID is the surface a template's run result is bound to.
func OutputSurfaceID(templateID string) playback.SurfaceID {
	return playback.SurfaceID("output-" + templateID)
}

// Service mounts presenters on surfaces and keeps them in the repository.
type Service struct {
	// mu serialises mount changes so a surface ID never has two presenters.
	mu       sync.Mutex
	repo     Repository
	registry *playback.Registry
	catalog  Catalog
	surfaces surface.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service. New surfaces are created with the given
// capabilities. Metrics may be nil to disable metric recording (e.g. in tests).
func NewService(repo Repository, registry *playback.Registry, cat Catalog, surfaces surface.Config, log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:     repo,
		registry: registry,
		catalog:  cat,
		surfaces: surfaces,
		log:      log,
		metrics:  m,
	}
}

// Mount shows streamURL on surface id with the named presenter variant.
// Remounting with the same variant rebinds the existing presenter, which is a
// no-op for an unchanged URL. A different variant is a surface change: the old
// surface is torn down and a new one mounted. An empty streamURL mounts the
// surface without a session.
func (s *Service) Mount(id playback.SurfaceID, variant, streamURL string) (SurfaceView, error) {
	if id == "" {
		return SurfaceView{}, ErrInvalidSurfaceID
	}
	v, err := playback.ParseVariant(variant)
	if err != nil {
		return SurfaceView{}, err
	}
	if err := validateStreamURL(streamURL); err != nil {
		return SurfaceView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.repo.Get(id); ok {
		if m.Presenter.Variant() == v {
			m.Presenter.Update(streamURL)
			s.repo.Put(m)
			s.log.Debug("surface updated",
				slog.String("surface_id", string(id)),
				slog.String("stream_url", streamURL))
			return s.view(m), nil
		}
		m.Presenter.Unmount()
	}

	surf := surface.New(id, s.surfaces)
	m := &Mount{
		ID:        id,
		Surface:   surf,
		Presenter: playback.NewPresenter(s.registry, v, surf, streamURL),
	}
	s.repo.Put(m)
	s.log.Info("surface mounted",
		slog.String("surface_id", string(id)),
		slog.String("variant", string(v)),
		slog.String("stream_url", streamURL))
	return s.view(m), nil
}

// Unmount tears down surface id. It reports whether the surface was mounted.
func (s *Service) Unmount(id playback.SurfaceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.repo.Remove(id)
	if !ok {
		return false
	}
	m.Presenter.Unmount()
	s.log.Info("surface unmounted", slog.String("surface_id", string(id)))
	return true
}

// View returns the current view of surface id.
func (s *Service) View(id playback.SurfaceID) (SurfaceView, error) {
	m, ok := s.repo.Get(id)
	if !ok {
		return SurfaceView{}, ErrNotMounted
	}
	return s.view(m), nil
}

// List returns every mounted surface ordered by ID.
func (s *Service) List() []SurfaceView {
	mounts := s.repo.List()
	out := make([]SurfaceView, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, s.view(m))
	}
	return out
}

// Play starts playback on surface id as the result of a user gesture, which
// lifts the autoplay restriction on unmuted playback.
func (s *Service) Play(ctx context.Context, id playback.SurfaceID) (SurfaceView, error) {
	m, ok := s.repo.Get(id)
	if !ok {
		return SurfaceView{}, ErrNotMounted
	}
	m.Surface.UserGesture()
	if err := m.Presenter.Play(ctx); err != nil {
		return SurfaceView{}, err
	}
	return s.view(m), nil
}

// Retry reopens the stream on surface id. Only variants with a retry
// affordance allow it.
func (s *Service) Retry(id playback.SurfaceID) (SurfaceView, error) {
	m, ok := s.repo.Get(id)
	if !ok {
		return SurfaceView{}, ErrNotMounted
	}
	if err := m.Presenter.Retry(); err != nil {
		return SurfaceView{}, err
	}
	s.log.Info("surface retried", slog.String("surface_id", string(id)))
	return s.view(m), nil
}

// Templates lists the catalog's templates.
func (s *Service) Templates(ctx context.Context) ([]catalog.Template, error) {
	ts, err := s.catalog.ListTemplates(ctx)
	s.observe("list", err)
	return ts, err
}

// PreviewTemplate shows the template's preview stream on the modal surface.
func (s *Service) PreviewTemplate(ctx context.Context, templateID string) (SurfaceView, error) {
	tpl, err := s.catalog.GetTemplate(ctx, templateID)
	s.observe("get", err)
	if err != nil {
		return SurfaceView{}, err
	}
	if tpl.PreviewStreamURL == "" {
		return SurfaceView{}, fmt.Errorf("%w: %s", ErrNoPreview, templateID)
	}
	return s.Mount(PreviewSurfaceID, string(playback.VariantModal), tpl.PreviewStreamURL)
}

// RunTemplate renders the template and binds the resulting stream to the
// template's output surface.
func (s *Service) RunTemplate(ctx context.Context, templateID string, params map[string]any) (RunView, error) {
	res, err := s.catalog.Run(ctx, templateID, params)
	s.observe("run", err)
	if err != nil {
		return RunView{}, err
	}
	s.log.Info("template run",
		slog.String("template_id", templateID),
		slog.String("stream_url", res.StreamURL))

	view, err := s.Mount(OutputSurfaceID(templateID), string(playback.VariantOutput), res.StreamURL)
	if err != nil {
		return RunView{}, err
	}
	return RunView{Result: res, View: view}, nil
}

// MountCount returns the number of mounted surfaces.
func (s *Service) MountCount() int {
	return s.repo.Count()
}

// LiveEngines returns the number of streaming engines currently attached.
func (s *Service) LiveEngines() int {
	return s.registry.LiveEngines()
}

// Close unmounts every surface.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.repo.List() {
		s.repo.Remove(m.ID)
		m.Presenter.Unmount()
	}
	s.registry.Close()
}

func (s *Service) view(m *Mount) SurfaceView {
	return SurfaceView{
		View:      m.Presenter.View(),
		Surface:   m.Surface.Snapshot(),
		MountedAt: m.MountedAt,
	}
}

func (s *Service) observe(op string, err error) {
	if s.metrics != nil {
		s.metrics.CatalogRequest(op, err)
	}
	if err != nil {
		s.log.Warn("catalog request failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

func validateStreamURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStreamURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidStreamURL, raw)
	}
	return nil
}
