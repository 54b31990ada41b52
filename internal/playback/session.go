package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultRetryBurst is the number of back-to-back recoveries a session
	// may attempt before it has to wait for the bucket to refill.
	DefaultRetryBurst = 5
	// DefaultRetryInterval is the refill period of one retry token.
	DefaultRetryInterval = 10 * time.Second
)

// ErrNotReady is returned by Session.Play when the session has nothing
// playable attached.
var ErrNotReady = errors.New("session is not ready")

// Recorder observes session lifecycle for metrics. Implementations must be
// safe for concurrent use.
type Recorder interface {
	SessionOpened()
	SessionClosed()
	FaultObserved(kind FaultKind, fatal bool)
	RecoveryAttempted(action Action)
}

type nopRecorder struct{}

func (nopRecorder) SessionOpened()                {}
func (nopRecorder) SessionClosed()                {}
func (nopRecorder) FaultObserved(FaultKind, bool) {}
func (nopRecorder) RecoveryAttempted(Action)      {}

// Config holds what an Opener needs to create sessions.
type Config struct {
	Provider      EngineProvider
	Engine        EngineConfig
	RetryBurst    int
	RetryInterval time.Duration
	Logger        *slog.Logger
	Recorder      Recorder
	// Now is used for the retry budget; defaults to time.Now.
	Now func() time.Time
}

// Opener creates sessions that share one configuration.
type Opener struct {
	cfg Config
}

// NewOpener returns an Opener. Zero-valued retry settings fall back to
// DefaultRetryBurst and DefaultRetryInterval.
func NewOpener(cfg Config) *Opener {
	if cfg.RetryBurst <= 0 {
		cfg.RetryBurst = DefaultRetryBurst
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Engine == (EngineConfig{}) {
		cfg.Engine = DefaultEngineConfig()
	}
	return &Opener{cfg: cfg}
}

// Session binds one stream URL to one surface through at most one engine.
type Session struct {
	id      string
	url     string
	surface Surface
	opts    Options
	log     *slog.Logger
	rec     Recorder
	now     func() time.Time
	budget  *rate.Limiter

	mu     sync.Mutex
	state  State
	resume State // last stable state, restored after a recovery
	parsed bool
	native bool
	fault  Fault
	engine Engine
	closed bool
	// teardown is closed once an engine dropped after a fatal fault has been
	// destroyed and the surface reset.
	teardown chan struct{}
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID        string
	StreamURL string
	State     State
	Native    bool
	Fault     Fault
}

// Open creates a session for url on surface and starts loading it. Streaming
// problems never surface as errors here: an environment without an engine or
// native support yields a session already in StateFailed with a
// FaultUnsupported fault. Open panics if surface is nil.
func (o *Opener) Open(url string, surface Surface, opts Options) *Session {
	if surface == nil {
		panic("playback: Open called with nil surface")
	}

	s := &Session{
		id:      uuid.NewString(),
		url:     url,
		surface: surface,
		opts:    opts,
		rec:     o.cfg.Recorder,
		now:     o.cfg.Now,
		budget:  rate.NewLimiter(rate.Every(o.cfg.RetryInterval), o.cfg.RetryBurst),
		state:   StateIdle,
		resume:  StateLoading,
	}
	s.log = o.cfg.Logger.With(
		slog.String("session_id", s.id),
		slog.String("surface_id", string(surface.ID())),
		slog.String("stream_url", url),
	)
	s.rec.SessionOpened()

	surface.SetAttributes(Attributes{
		Autoplay: opts.Autoplay,
		Muted:    opts.Muted,
		Loop:     opts.Loop,
		Controls: opts.ShowControls,
	})

	p := o.cfg.Provider
	switch {
	case p != nil && p.IsSupported():
		eng := p.NewEngine(o.cfg.Engine)
		s.mu.Lock()
		s.engine = eng
		s.setStateLocked(StateLoading)
		s.mu.Unlock()

		eng.On(EventManifestParsed, func(ev Event) { s.onManifestParsed(eng) })
		eng.On(EventFragmentBuffered, func(ev Event) { s.onFragmentBuffered(eng) })
		eng.On(EventEnded, func(ev Event) { s.onEnded(eng) })
		eng.On(EventError, func(ev Event) { s.onFault(eng, ev.Fault) })
		eng.LoadSource(url)
		eng.AttachMedia(surface)

	case surface.CanPlayType(HLSMimeType):
		s.mu.Lock()
		s.native = true
		s.parsed = true
		surface.SetSource(url)
		s.setStateLocked(StateReady)
		s.mu.Unlock()
		s.log.Debug("using native playback")
		if opts.Autoplay {
			s.autoplay()
		}

	default:
		f := Fault{Kind: FaultUnsupported, Fatal: true, Detail: "no streaming engine and no native support"}
		s.mu.Lock()
		s.fault = f
		s.setStateLocked(StateFailed)
		s.mu.Unlock()
		s.rec.FaultObserved(f.Kind, f.Fatal)
		s.log.Warn("playback unsupported")
	}

	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// StreamURL returns the manifest URL the session was opened with.
func (s *Session) StreamURL() string { return s.url }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Fault returns the last fault observed, if any.
func (s *Session) Fault() Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// HasEngine reports whether the session currently holds a live engine.
func (s *Session) HasEngine() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine != nil
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:        s.id,
		StreamURL: s.url,
		State:     s.state,
		Native:    s.native,
		Fault:     s.fault,
	}
}

// Play starts playback on behalf of a user gesture.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || (s.state != StateReady && s.state != StatePlaying) {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.mu.Unlock()

	if err := s.surface.Play(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.state == StateReady {
		s.setStateLocked(StatePlaying)
	}
	return nil
}

// Close destroys the engine and detaches from the surface. The engine's
// network and decoder resources are released before Close returns. Close is
// idempotent and safe on a nil Session.
func (s *Session) Close() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	eng := s.engine
	s.engine = nil
	teardown := s.teardown
	native := s.native
	if s.state != StateFailed {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()

	if eng != nil {
		eng.Destroy()
	}
	if teardown != nil {
		<-teardown
	}
	if native {
		s.surface.SetSource("")
	}
	s.surface.ResetMedia()
	s.rec.SessionClosed()
	s.log.Debug("session closed")
}

// currentLocked reports whether eng is still this session's engine. Callers hold s.mu.
func (s *Session) currentLocked(eng Engine) bool {
	return !s.closed && s.engine != nil && s.engine == eng
}

func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.log.Debug("state change", slog.String("from", s.state.String()), slog.String("to", next.String()))
	s.state = next
	if next == StateReady || next == StatePlaying {
		s.resume = next
	}
}

func (s *Session) onManifestParsed(eng Engine) {
	s.mu.Lock()
	if !s.currentLocked(eng) {
		s.mu.Unlock()
		return
	}
	first := !s.parsed
	s.parsed = true
	if s.state != StateLoading {
		s.mu.Unlock()
		return
	}
	next := StateReady
	if !first {
		next = s.resume
	}
	s.setStateLocked(next)
	s.mu.Unlock()

	if next == StateReady && s.opts.Autoplay {
		s.autoplay()
	}
}

func (s *Session) onFragmentBuffered(eng Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(eng) {
		return
	}
	if s.state == StateLoading && s.parsed {
		s.setStateLocked(s.resume)
	}
}

func (s *Session) onEnded(eng Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(eng) {
		return
	}
	if s.state == StatePlaying && !s.opts.Loop {
		s.setStateLocked(StateReady)
	}
}

// autoplay attempts playback. A rejection leaves the session Ready so a user
// gesture can still start it.
func (s *Session) autoplay() {
	if err := s.surface.Play(context.Background()); err != nil {
		s.log.Info("autoplay blocked, user interaction required", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.state == StateReady {
		s.setStateLocked(StatePlaying)
	}
}

func (s *Session) onFault(eng Engine, f Fault) {
	s.mu.Lock()
	if !s.currentLocked(eng) {
		s.mu.Unlock()
		return
	}
	s.rec.FaultObserved(f.Kind, f.Fatal)

	budgetOK := true
	if f.Kind == FaultNetwork || (f.Kind == FaultMedia && f.Fatal) {
		budgetOK = s.budget.AllowN(s.now(), 1)
	}
	prev := s.state
	d := Decide(prev, f, budgetOK)
	if d.Action != ActionNone {
		s.fault = f
	}
	s.setStateLocked(d.Next)
	var done chan struct{}
	if d.Action == ActionDestroy {
		done = s.dropEngineLocked()
	}
	s.mu.Unlock()

	log := s.log.With(
		slog.String("fault_kind", f.Kind.String()),
		slog.Bool("fatal", f.Fatal),
		slog.String("detail", f.Detail),
		slog.String("state", prev.String()),
	)

	switch d.Action {
	case ActionNone:
		log.Debug("fault ignored")

	case ActionRestartLoad:
		log.Warn("network fault, restarting load")
		s.rec.RecoveryAttempted(d.Action)
		eng.StartLoad()
		s.mu.Lock()
		if s.currentLocked(eng) && s.state == StateRecovering {
			s.setStateLocked(StateLoading)
		}
		s.mu.Unlock()

	case ActionRecoverMedia:
		log.Warn("media fault, recovering decoder")
		s.rec.RecoveryAttempted(d.Action)
		err := eng.RecoverMediaError()
		s.mu.Lock()
		if !s.currentLocked(eng) || s.state != StateRecovering {
			s.mu.Unlock()
			return
		}
		if err == nil {
			s.setStateLocked(s.resume)
			s.mu.Unlock()
			return
		}
		s.fault = Fault{Kind: FaultMedia, Fatal: true, Detail: err.Error()}
		s.setStateLocked(StateFailed)
		done = s.dropEngineLocked()
		s.mu.Unlock()
		log.Error("media recovery failed", slog.String("error", err.Error()))
		s.release(eng, done)

	case ActionDestroy:
		if budgetOK {
			log.Error("fatal fault, cannot recover")
		} else {
			log.Error("retry budget exhausted")
		}
		s.release(eng, done)
	}
}

// dropEngineLocked detaches the engine after a fatal fault. The returned
// channel must be passed to release. Callers hold s.mu.
func (s *Session) dropEngineLocked() chan struct{} {
	s.engine = nil
	s.teardown = make(chan struct{})
	return s.teardown
}

// release destroys eng and clears the surface so a failed session shows no
// stale playback, then unblocks any Close waiting on done.
func (s *Session) release(eng Engine, done chan struct{}) {
	defer close(done)
	eng.Destroy()
	s.surface.ResetMedia()
}
