package playback

import (
	"context"
	"errors"
	"fmt"
)

// Variant selects a presenter's policy preset.
type Variant string

const (
	VariantGrid   Variant = "grid"
	VariantModal  Variant = "modal"
	VariantOutput Variant = "output"
)

// ErrUnknownVariant is returned by ParseVariant for unrecognised names.
var ErrUnknownVariant = errors.New("unknown presenter variant")

// ErrRetryNotAllowed is returned by Presenter.Retry for variants without a
// retry affordance.
var ErrRetryNotAllowed = errors.New("retry not available for this presenter")

// ParseVariant maps a name to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantGrid, VariantModal, VariantOutput:
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Fallback describes what a presenter shows instead of the live surface when
// playback failed.
type Fallback int

const (
	// FallbackPlaceholder silently shows a static placeholder.
	FallbackPlaceholder Fallback = iota
	// FallbackMessage shows an inline message.
	FallbackMessage
	// FallbackPersistent shows a message that stays with the stream URL and a
	// retry action.
	FallbackPersistent
)

// Policy is the surface-specific configuration of a presenter.
type Policy struct {
	Options  Options
	Fallback Fallback
	Message  string
	// CopyableURL exposes the stream URL alongside the player.
	CopyableURL bool
	Retryable   bool
}

// PolicyFor returns the preset for v.
func PolicyFor(v Variant) Policy {
	switch v {
	case VariantGrid:
		return Policy{
			Options:  Options{Autoplay: true, Muted: true, Loop: true, ShowControls: false},
			Fallback: FallbackPlaceholder,
		}
	case VariantModal:
		return Policy{
			Options:  Options{Autoplay: true, Muted: false, Loop: false, ShowControls: true},
			Fallback: FallbackMessage,
			Message:  "Preview unavailable",
		}
	default:
		return Policy{
			Options:     Options{Autoplay: true, Muted: false, Loop: false, ShowControls: true},
			Fallback:    FallbackPersistent,
			Message:     "Playback failed. The stream URL is still available below.",
			CopyableURL: true,
			Retryable:   true,
		}
	}
}

// Phase is what a presenter renders.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseError   Phase = "error"
	PhaseLive    Phase = "live"
)

// PhaseFor maps a session state to a render phase. The live surface is only
// shown once the session is Ready or Playing, never while Loading or Failed.
func PhaseFor(s State) Phase {
	switch s {
	case StateReady, StatePlaying:
		return PhaseLive
	case StateFailed:
		return PhaseError
	default:
		return PhaseLoading
	}
}

// View is the presenter's render model.
type View struct {
	SurfaceID   SurfaceID `json:"surface_id"`
	Variant     Variant   `json:"variant"`
	Phase       Phase     `json:"phase"`
	State       string    `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	Placeholder bool      `json:"placeholder,omitempty"`
	Message     string    `json:"message,omitempty"`
	StreamURL   string    `json:"stream_url,omitempty"`
	FaultKind   string    `json:"fault_kind,omitempty"`
	Options     Options   `json:"options"`
	Retryable   bool      `json:"retryable,omitempty"`
}

// Presenter layers a variant policy over a registry binding. The binding is
// fixed at construction, so a Presenter is safe for concurrent use.
type Presenter struct {
	variant  Variant
	policy   Policy
	surface  Surface
	registry *Registry
	binding  *Binding
}

// NewPresenter mounts surface in registry with the variant's policy and binds
// url to it.
func NewPresenter(registry *Registry, v Variant, surface Surface, url string) *Presenter {
	p := &Presenter{
		variant:  v,
		policy:   PolicyFor(v),
		surface:  surface,
		registry: registry,
	}
	p.binding = registry.Bind(surface, url, p.policy.Options)
	return p
}

// Variant returns the presenter's variant.
func (p *Presenter) Variant() Variant { return p.variant }

// SurfaceID returns the mounted surface's ID.
func (p *Presenter) SurfaceID() SurfaceID { return p.surface.ID() }

// Update rebinds the presenter to url. The same URL is a no-op.
func (p *Presenter) Update(url string) {
	p.binding.Bind(url, p.policy.Options)
}

// Play starts playback from a user gesture.
func (p *Presenter) Play(ctx context.Context) error {
	s := p.binding.Session()
	if s == nil {
		return ErrNotReady
	}
	return s.Play(ctx)
}

// Retry reopens the stream from scratch.
func (p *Presenter) Retry() error {
	if !p.policy.Retryable {
		return ErrRetryNotAllowed
	}
	if !p.binding.Rebind() {
		return ErrNotReady
	}
	return nil
}

// Unmount releases the presenter's surface.
func (p *Presenter) Unmount() {
	p.registry.Unmount(p.surface.ID())
}

// View renders the presenter's current state.
func (p *Presenter) View() View {
	v := View{
		SurfaceID: p.surface.ID(),
		Variant:   p.variant,
		Options:   p.policy.Options,
	}
	if p.policy.CopyableURL {
		v.StreamURL = p.binding.StreamURL()
	}

	s := p.binding.Session()
	if s == nil {
		v.Phase = PhaseError
		v.State = StateIdle.String()
		p.applyFallback(&v)
		return v
	}

	snap := s.Snapshot()
	v.SessionID = snap.ID
	v.State = snap.State.String()
	v.Phase = PhaseFor(snap.State)
	if v.Phase == PhaseError {
		v.FaultKind = snap.Fault.Kind.String()
		p.applyFallback(&v)
	}
	return v
}

func (p *Presenter) applyFallback(v *View) {
	switch p.policy.Fallback {
	case FallbackPlaceholder:
		v.Placeholder = true
	case FallbackMessage:
		v.Message = p.policy.Message
	case FallbackPersistent:
		v.Message = p.policy.Message
		v.Retryable = p.policy.Retryable
	}
}
