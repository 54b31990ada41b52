// Package hlsengine is an HTTP adaptive-streaming engine. It fetches HLS
// manifests and fragments and feeds them to a playback.Surface, reporting
// progress and faults as playback events.
package hlsengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"hls-preview/internal/playback"
)

const (
	// DefaultMaxSegmentRetries is how often a fragment download is retried
	// before the engine reports a fatal network fault.
	DefaultMaxSegmentRetries = 3
	// DefaultHTTPTimeout bounds every manifest and fragment request.
	DefaultHTTPTimeout = 15 * time.Second

	// DefaultMaxResponseBytes caps a single manifest or fragment download.
	DefaultMaxResponseBytes = 64 << 20

	eventBuffer   = 16
	retryBaseWait = 200 * time.Millisecond
)

var (
	// ErrDestroyed is returned by RecoverMediaError after Destroy.
	ErrDestroyed = errors.New("engine destroyed")
	// ErrNoMedia is returned by RecoverMediaError before AttachMedia.
	ErrNoMedia = errors.New("no media attached")
	// ErrResponseTooLarge is returned for a download over the size limit.
	ErrResponseTooLarge = errors.New("response exceeds size limit")
)

// httpStatusError is returned for non-2xx responses.
type httpStatusError struct {
	URL    string
	Status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Provider creates engines sharing one HTTP client.
type Provider struct {
	client            *http.Client
	enabled           bool
	maxSegmentRetries int
	maxResponseBytes  int64
	log               *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the client used for manifest and fragment requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithEnabled turns engine support on or off. A disabled provider reports
// IsSupported false so sessions fall back to native playback.
func WithEnabled(enabled bool) Option {
	return func(p *Provider) { p.enabled = enabled }
}

// WithMaxSegmentRetries sets the per-fragment retry count.
func WithMaxSegmentRetries(n int) Option {
	return func(p *Provider) {
		if n >= 0 {
			p.maxSegmentRetries = n
		}
	}
}

// WithMaxResponseBytes sets the largest manifest or fragment accepted.
func WithMaxResponseBytes(n int64) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxResponseBytes = n
		}
	}
}

// WithLogger sets the provider's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// NewProvider returns an enabled Provider with default settings.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		client:            &http.Client{Timeout: DefaultHTTPTimeout},
		enabled:           true,
		maxSegmentRetries: DefaultMaxSegmentRetries,
		maxResponseBytes:  DefaultMaxResponseBytes,
		log:               slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// IsSupported implements playback.EngineProvider.
func (p *Provider) IsSupported() bool { return p.enabled }

// NewEngine implements playback.EngineProvider.
func (p *Provider) NewEngine(cfg playback.EngineConfig) playback.Engine {
	return newEngine(p, cfg)
}

// Engine loads one stream into one surface. Loading runs on a loader
// goroutine; events are handed to a dispatcher goroutine so that handlers may
// call back into the engine, including Destroy.
type Engine struct {
	client     *http.Client
	cfg        playback.EngineConfig
	log        *slog.Logger
	maxRetries int
	maxBody    int64
	est        *bandwidthEstimator

	ctx    context.Context
	cancel context.CancelFunc
	events chan playback.Event
	wg     sync.WaitGroup

	mu        sync.Mutex
	handlers  map[playback.EventType][]playback.Handler
	src       string
	sink      playback.Surface
	running   bool
	destroyed bool

	// Loader state, guarded by mu.
	variants   []Variant
	level      int
	mediaURL   *url.URL
	media      *MediaPlaylist
	next       int64
	haveNext   bool
	parsed     bool
	recoveries int
}

func newEngine(p *Provider, cfg playback.EngineConfig) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		client:     p.client,
		cfg:        cfg,
		log:        p.log,
		maxRetries: p.maxSegmentRetries,
		maxBody:    p.maxResponseBytes,
		est:        newBandwidthEstimator(),
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan playback.Event, eventBuffer),
		handlers:   make(map[playback.EventType][]playback.Handler),
	}
	go e.dispatch()
	return e
}

// On registers h for events of type t.
func (e *Engine) On(t playback.EventType, h playback.Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], h)
}

// LoadSource sets the manifest URL. Loading starts once media is attached.
func (e *Engine) LoadSource(src string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = src
	e.log = e.log.With(slog.String("stream_url", src))
	e.startLocked()
}

// AttachMedia binds the surface fragments are appended to.
func (e *Engine) AttachMedia(s playback.Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
	e.startLocked()
}

// StartLoad resumes loading after a fault stopped the loader. It is a no-op
// while the loader runs or after Destroy.
func (e *Engine) StartLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

// RecoverMediaError drops buffered media on the surface and reloads from the
// fragment that failed.
func (e *Engine) RecoverMediaError() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	sink := e.sink
	if sink == nil {
		e.mu.Unlock()
		return ErrNoMedia
	}
	e.recoveries++
	e.mu.Unlock()

	sink.ResetMedia()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
	return nil
}

// Destroy cancels in-flight requests and waits for the loader to exit. It is
// idempotent and may be called from an event handler.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.sink = nil
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
}

// Recoveries returns how many media recoveries were requested.
func (e *Engine) Recoveries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recoveries
}

// Level returns the index of the selected variant; zero for media playlists.
func (e *Engine) Level() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

func (e *Engine) startLocked() {
	if e.destroyed || e.running || e.src == "" || e.sink == nil {
		return
	}
	e.running = true
	e.wg.Add(1)
	go e.run(e.ctx)
}

func (e *Engine) dispatch() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.events:
			e.mu.Lock()
			hs := append([]playback.Handler(nil), e.handlers[ev.Type]...)
			e.mu.Unlock()
			for _, h := range hs {
				h(ev)
			}
		}
	}
}

func (e *Engine) emit(ev playback.Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// stop marks the loader finished and reports f. Callers must return right after.
func (e *Engine) stop(f playback.Fault) {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	if e.ctx.Err() != nil {
		return
	}
	e.log.Debug("loader stopped", slog.String("fault_kind", f.Kind.String()), slog.String("detail", f.Detail))
	e.emit(playback.Event{Type: playback.EventError, Fault: f})
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.stop(playback.Fault{Kind: playback.FaultOther, Fatal: true, Detail: fmt.Sprintf("loader panic: %v", r)})
		}
	}()

	e.mu.Lock()
	parsed := e.parsed
	e.mu.Unlock()

	if !parsed {
		if f, ok := e.loadManifest(ctx); !ok {
			e.stop(f)
			return
		}
		e.emit(playback.Event{Type: playback.EventManifestParsed})
	}

	loaded := 0
	for {
		if ctx.Err() != nil {
			e.finish()
			return
		}

		seg, ok := e.nextSegment()
		if !ok {
			e.mu.Lock()
			ended := e.media.Ended
			target := e.media.TargetDuration
			e.mu.Unlock()

			if ended {
				e.finish()
				e.emit(playback.Event{Type: playback.EventEnded})
				return
			}
			if !sleepCtx(ctx, target) {
				e.finish()
				return
			}
			if f, ok := e.reloadMedia(ctx); !ok {
				e.stop(f)
				return
			}
			continue
		}

		if f, ok := e.loadSegment(ctx, seg); !ok {
			e.stop(f)
			return
		}
		e.maybeSwitchLevel(ctx)

		// Past the forward buffer, load at playback speed.
		loaded++
		if ahead := e.cfg.MaxBufferSegments; ahead > 0 && loaded > ahead && !sleepCtx(ctx, seg.Duration) {
			e.finish()
			return
		}
	}
}

func (e *Engine) finish() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// loadManifest fetches the source and, for a master playlist, the selected
// variant's media playlist.
func (e *Engine) loadManifest(ctx context.Context) (playback.Fault, bool) {
	e.mu.Lock()
	src := e.src
	e.mu.Unlock()

	base, err := url.Parse(src)
	if err != nil {
		return playback.Fault{Kind: playback.FaultNetwork, Fatal: true, Detail: err.Error()}, false
	}

	pl, f, ok := e.fetchPlaylist(ctx, base)
	if !ok {
		return f, false
	}

	mediaURL := base
	if pl.IsMaster() {
		level := selectVariant(pl.Variants, e.est.Estimate())
		mediaURL = pl.Variants[level].URI
		e.mu.Lock()
		e.variants = pl.Variants
		e.level = level
		e.mu.Unlock()

		pl, f, ok = e.fetchPlaylist(ctx, mediaURL)
		if !ok {
			return f, false
		}
		if pl.IsMaster() {
			return playback.Fault{Kind: playback.FaultOther, Fatal: true, Detail: "variant points to another master playlist"}, false
		}
	}

	e.mu.Lock()
	e.mediaURL = mediaURL
	e.media = pl.Media
	e.parsed = true
	if !e.haveNext {
		e.next = e.startSequenceLocked()
		e.haveNext = true
	}
	e.mu.Unlock()
	return playback.Fault{}, true
}

// startSequenceLocked picks where loading begins: the first fragment for VOD,
// three target durations from the live edge otherwise.
func (e *Engine) startSequenceLocked() int64 {
	segs := e.media.Segments
	if len(segs) == 0 {
		return e.media.MediaSequence
	}
	switch {
	case e.media.Ended:
		return segs[0].Sequence
	case e.cfg.LowLatency:
		return segs[len(segs)-1].Sequence
	}
	start := len(segs) - 3
	if start < 0 {
		start = 0
	}
	return segs[start].Sequence
}

func (e *Engine) reloadMedia(ctx context.Context) (playback.Fault, bool) {
	e.mu.Lock()
	mediaURL := e.mediaURL
	e.mu.Unlock()

	pl, f, ok := e.fetchPlaylist(ctx, mediaURL)
	if !ok {
		return f, false
	}
	if pl.IsMaster() {
		return playback.Fault{Kind: playback.FaultOther, Fatal: true, Detail: "media playlist turned into a master playlist"}, false
	}
	e.mu.Lock()
	e.media = pl.Media
	e.mu.Unlock()
	return playback.Fault{}, true
}

func (e *Engine) fetchPlaylist(ctx context.Context, u *url.URL) (*Playlist, playback.Fault, bool) {
	body, _, err := e.get(ctx, u.String())
	if err != nil {
		return nil, playback.Fault{Kind: playback.FaultNetwork, Fatal: true, Detail: "manifest load: " + err.Error()}, false
	}
	pl, err := ParsePlaylist(string(body), u)
	if err != nil {
		kind := playback.FaultNetwork
		if errors.Is(err, ErrNoVariants) {
			kind = playback.FaultOther
		}
		return nil, playback.Fault{Kind: kind, Fatal: true, Detail: "manifest parse: " + err.Error()}, false
	}
	return pl, playback.Fault{}, true
}

func (e *Engine) nextSegment() (MediaSegment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, seg := range e.media.Segments {
		if seg.Sequence >= e.next {
			return seg, true
		}
	}
	return MediaSegment{}, false
}

func (e *Engine) loadSegment(ctx context.Context, seg MediaSegment) (playback.Fault, bool) {
	var (
		data    []byte
		elapsed time.Duration
		err     error
	)
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			e.log.Debug("retrying fragment", slog.Int64("sequence", seg.Sequence), slog.Int("attempt", attempt))
			if !sleepCtx(ctx, wait) {
				return playback.Fault{}, false
			}
		}
		data, elapsed, err = e.get(ctx, seg.URI.String())
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return playback.Fault{}, false
		}
		if errors.Is(err, ErrResponseTooLarge) {
			return playback.Fault{Kind: playback.FaultMedia, Fatal: true, Detail: fmt.Sprintf("fragment %d load: %v", seg.Sequence, err)}, false
		}
	}
	if err != nil {
		return playback.Fault{Kind: playback.FaultNetwork, Fatal: true, Detail: fmt.Sprintf("fragment %d load: %v", seg.Sequence, err)}, false
	}
	e.est.Sample(len(data), elapsed)

	if _, err := sniffContainer(data); err != nil {
		return playback.Fault{Kind: playback.FaultMedia, Fatal: true, Detail: fmt.Sprintf("fragment %d parse: %v", seg.Sequence, err)}, false
	}

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return playback.Fault{}, false
	}
	if err := sink.AppendSegment(playback.Segment{Sequence: seg.Sequence, Duration: seg.Duration, URI: seg.URI.String()}, data); err != nil {
		return playback.Fault{Kind: playback.FaultMedia, Fatal: true, Detail: fmt.Sprintf("fragment %d append: %v", seg.Sequence, err)}, false
	}

	e.mu.Lock()
	e.next = seg.Sequence + 1
	e.mu.Unlock()
	e.emit(playback.Event{Type: playback.EventFragmentBuffered})
	return playback.Fault{}, true
}

// maybeSwitchLevel moves to another variant when the bandwidth estimate says
// so. A failed switch keeps the current level.
func (e *Engine) maybeSwitchLevel(ctx context.Context) {
	e.mu.Lock()
	variants := e.variants
	current := e.level
	e.mu.Unlock()
	if len(variants) < 2 {
		return
	}

	level := selectVariant(variants, e.est.Estimate())
	if level == current {
		return
	}
	pl, _, ok := e.fetchPlaylist(ctx, variants[level].URI)
	if !ok || pl.IsMaster() {
		return
	}

	e.mu.Lock()
	e.level = level
	e.mediaURL = variants[level].URI
	e.media = pl.Media
	e.mu.Unlock()
	e.log.Debug("level switched",
		slog.Int("from", current),
		slog.Int("to", level),
		slog.Int64("bandwidth", variants[level].Bandwidth))
}

func (e *Engine) get(ctx context.Context, u string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, 0, &httpStatusError{URL: u, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(body)) > e.maxBody {
		return nil, 0, fmt.Errorf("GET %s: %w (%d bytes)", u, ErrResponseTooLarge, e.maxBody)
	}
	return body, time.Since(start), nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
