package playback

import (
	"sync"
)

// Binding keeps a surface's session in step with the latest stream URL and
// options. It references the surface but never owns its lifecycle.
//
// Close of the previous session is always requested before the next Open, so
// a surface never has two live engines.
type Binding struct {
	opener  *Opener
	surface Surface

	mu        sync.Mutex
	session   *Session
	url       string
	opts      Options
	unmounted bool
}

// NewBinding returns an empty binding for surface.
func NewBinding(opener *Opener, surface Surface) *Binding {
	return &Binding{opener: opener, surface: surface}
}

// Surface returns the bound surface.
func (b *Binding) Surface() Surface { return b.surface }

// Bind makes url with opts the binding's current stream. Binding the same URL
// and options again is a no-op. An empty url leaves the binding without a
// session. Bind reports whether the session changed.
func (b *Binding) Bind(url string, opts Options) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unmounted {
		return false
	}
	if url == b.url && opts == b.opts && (b.session != nil || url == "") {
		return false
	}

	b.session.Close()
	b.session = nil
	b.url = url
	b.opts = opts
	if url != "" {
		b.session = b.opener.Open(url, b.surface, opts)
	}
	return true
}

// Rebind closes and reopens the current stream, discarding any failure.
func (b *Binding) Rebind() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unmounted || b.url == "" {
		return false
	}
	b.session.Close()
	b.session = b.opener.Open(b.url, b.surface, b.opts)
	return true
}

// Unmount closes the current session. The binding stays inert afterwards.
func (b *Binding) Unmount() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.unmounted = true
	b.session.Close()
	b.session = nil
}

// Session returns the current session, or nil.
func (b *Binding) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// StreamURL returns the URL most recently bound.
func (b *Binding) StreamURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// Registry maps surface identity to at most one binding. It is the single
// place a surface's playback is torn down, so teardown does not depend on
// object lifetimes.
type Registry struct {
	opener *Opener

	mu       sync.Mutex
	bindings map[SurfaceID]*Binding
}

// NewRegistry returns an empty registry opening sessions with opener.
func NewRegistry(opener *Opener) *Registry {
	return &Registry{
		opener:   opener,
		bindings: make(map[SurfaceID]*Binding),
	}
}

// Bind binds url to surface. A different surface object registered under the
// same ID counts as a surface change: the old binding is unmounted first.
func (r *Registry) Bind(surface Surface, url string, opts Options) *Binding {
	if surface == nil {
		panic("playback: Bind called with nil surface")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := surface.ID()
	b, ok := r.bindings[id]
	if ok && b.surface != surface {
		b.Unmount()
		ok = false
	}
	if !ok {
		b = NewBinding(r.opener, surface)
		r.bindings[id] = b
	}
	b.Bind(url, opts)
	return b
}

// Lookup returns the binding for id.
func (r *Registry) Lookup(id SurfaceID) (*Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[id]
	return b, ok
}

// Unmount tears down the binding for id. Unknown ids are a no-op.
func (r *Registry) Unmount(id SurfaceID) {
	r.mu.Lock()
	b, ok := r.bindings[id]
	delete(r.bindings, id)
	r.mu.Unlock()

	if ok {
		b.Unmount()
	}
}

// Len returns the number of bound surfaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}

// LiveEngines counts sessions currently holding an engine.
func (r *Registry) LiveEngines() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.bindings {
		if s := b.Session(); s != nil && s.HasEngine() {
			n++
		}
	}
	return n
}

// Close unmounts every surface.
func (r *Registry) Close() {
	r.mu.Lock()
	bindings := r.bindings
	r.bindings = make(map[SurfaceID]*Binding)
	r.mu.Unlock()

	for _, b := range bindings {
		b.Unmount()
	}
}
