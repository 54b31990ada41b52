package playback

import (
	"context"
	"errors"
	"sync"
)

type fakeEngine struct {
	mu         sync.Mutex
	handlers   map[EventType][]Handler
	source     string
	attached   Surface
	startLoads int
	recovers   int
	destroys   int
	recoverErr error
	// destroyGate, when set, blocks Destroy until it is closed.
	destroyGate chan struct{}
}

func (e *fakeEngine) LoadSource(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.source = url
}

func (e *fakeEngine) AttachMedia(s Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attached = s
}

func (e *fakeEngine) On(t EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[EventType][]Handler)
	}
	e.handlers[t] = append(e.handlers[t], h)
}

func (e *fakeEngine) StartLoad() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLoads++
}

func (e *fakeEngine) RecoverMediaError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recovers++
	return e.recoverErr
}

func (e *fakeEngine) Destroy() {
	e.mu.Lock()
	gate := e.destroyGate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroys++
}

// emit delivers ev to handlers even after Destroy, like an in-flight callback.
func (e *fakeEngine) emit(ev Event) {
	e.mu.Lock()
	hs := append([]Handler(nil), e.handlers[ev.Type]...)
	e.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (e *fakeEngine) fault(kind FaultKind, fatal bool) {
	e.emit(Event{Type: EventError, Fault: Fault{Kind: kind, Fatal: fatal, Detail: "test"}})
}

func (e *fakeEngine) destroyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroys
}

type fakeProvider struct {
	mu          sync.Mutex
	unsupported bool
	engines     []*fakeEngine
}

func (p *fakeProvider) IsSupported() bool { return !p.unsupported }

func (p *fakeProvider) NewEngine(EngineConfig) Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := &fakeEngine{}
	p.engines = append(p.engines, e)
	return e
}

func (p *fakeProvider) last() *fakeEngine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.engines) == 0 {
		return nil
	}
	return p.engines[len(p.engines)-1]
}

func (p *fakeProvider) created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.engines)
}

// live counts engines that were created and never destroyed.
func (p *fakeProvider) live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.engines {
		if e.destroyCount() == 0 {
			n++
		}
	}
	return n
}

type fakeSurface struct {
	id       SurfaceID
	native   bool
	rejected bool

	mu     sync.Mutex
	src    string
	attrs  Attributes
	plays  int
	resets int
}

func newFakeSurface(id string) *fakeSurface { return &fakeSurface{id: SurfaceID(id)} }

func (s *fakeSurface) ID() SurfaceID { return s.id }

func (s *fakeSurface) CanPlayType(mime string) bool { return s.native && mime == HLSMimeType }

func (s *fakeSurface) SetSource(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = url
}

func (s *fakeSurface) SetAttributes(a Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = a
}

func (s *fakeSurface) Play(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejected {
		return ErrPlayRejected
	}
	s.plays++
	return nil
}

func (s *fakeSurface) AppendSegment(Segment, []byte) error { return nil }

func (s *fakeSurface) ResetMedia() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

func (s *fakeSurface) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

var errDecoder = errors.New("decoder gone")
