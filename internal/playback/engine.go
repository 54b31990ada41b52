package playback

import (
	"context"
	"errors"
	"time"
)

// HLSMimeType is the manifest MIME type probed for native playback support.
const HLSMimeType = "application/vnd.apple.mpegurl"

// ErrPlayRejected is returned by Surface.Play when the surface's autoplay
// policy refuses playback without a user gesture.
var ErrPlayRejected = errors.New("play rejected by autoplay policy")

// SurfaceID identifies a mount point. Two Surface values with the same ID are
// still distinct surfaces if they are different objects.
type SurfaceID string

// Attributes are the presentation attributes applied to a surface when a
// session binds to it.
type Attributes struct {
	Autoplay bool
	Muted    bool
	Loop     bool
	Controls bool
}

// Segment describes one media fragment handed to a surface by an engine.
type Segment struct {
	Sequence int64
	Duration time.Duration
	URI      string
}

// Surface is a region able to present decoded video. The session never owns
// a surface's lifecycle; the mounting layer does.
type Surface interface {
	ID() SurfaceID
	// CanPlayType reports whether the surface can play the MIME type without
	// a library engine.
	CanPlayType(mime string) bool
	// SetSource assigns a source URL for native playback. An empty URL
	// clears it.
	SetSource(url string)
	SetAttributes(attrs Attributes)
	// Play starts playback. It returns ErrPlayRejected when blocked by
	// autoplay policy.
	Play(ctx context.Context) error
	// AppendSegment feeds a fragment from an engine into the surface.
	AppendSegment(seg Segment, data []byte) error
	// ResetMedia drops buffered media, used on decoder recovery and detach.
	ResetMedia()
}

// EventType names an engine event.
type EventType int

const (
	EventManifestParsed EventType = iota
	EventFragmentBuffered
	EventEnded
	EventError
)

var eventNames = [...]string{"manifest_parsed", "fragment_buffered", "ended", "error"}

func (e EventType) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// Event is delivered to handlers registered with Engine.On. Fault is set only
// for EventError.
type Event struct {
	Type  EventType
	Fault Fault
}

// Handler receives engine events.
type Handler func(Event)

// Engine is the adaptive-streaming capability a session drives. Handlers may
// be invoked on any goroutine, including after Destroy has returned.
type Engine interface {
	LoadSource(url string)
	AttachMedia(s Surface)
	On(t EventType, h Handler)
	// StartLoad restarts loading after a network fault.
	StartLoad()
	// RecoverMediaError resets the decoder path. A non-nil error means the
	// media pipeline could not be recovered.
	RecoverMediaError() error
	// Destroy releases network and decoder resources. It is idempotent.
	Destroy()
}

// EngineConfig carries engine tuning knobs.
type EngineConfig struct {
	// LowLatency starts live streams at the newest fragment.
	LowLatency bool
	// MaxBufferSegments is how many fragments are loaded ahead before the
	// engine falls back to playback pace.
	MaxBufferSegments int
}

// DefaultEngineConfig mirrors the tuning used for every surface.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LowLatency:        false,
		MaxBufferSegments: 6,
	}
}

// EngineProvider creates engines and reports whether the environment has one.
type EngineProvider interface {
	IsSupported() bool
	NewEngine(cfg EngineConfig) Engine
}
