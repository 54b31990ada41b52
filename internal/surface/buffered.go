// Package surface provides the server-side playback surface that engines
// append fragments to.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hls-preview/internal/playback"
)

// DefaultBackBuffer is how much played-out media a surface keeps.
const DefaultBackBuffer = 90 * time.Second

var (
	// ErrEmptyFragment is returned when an engine appends no data.
	ErrEmptyFragment = errors.New("empty fragment")
	// ErrOutOfOrder is returned when a fragment does not follow the last one.
	ErrOutOfOrder = errors.New("fragment out of order")
)

// Config describes the capabilities of a surface.
type Config struct {
	// NativeHLS reports native support for the HLS MIME type.
	NativeHLS bool
	// AutoplayRestricted rejects unmuted Play calls without a user gesture.
	AutoplayRestricted bool
	BackBuffer         time.Duration
}

// Buffered is a playback.Surface that keeps a bounded window of appended
// fragments and enforces an autoplay policy.
type Buffered struct {
	id  playback.SurfaceID
	cfg Config

	mu         sync.Mutex
	src        string
	attrs      playback.Attributes
	playing    bool
	gesture    bool
	window     []playback.Segment
	buffered   time.Duration
	bytes      int64
	appended   int
	resets     int
	lastAppend time.Time
}

// New returns a surface with the given identity and capabilities.
func New(id playback.SurfaceID, cfg Config) *Buffered {
	if cfg.BackBuffer <= 0 {
		cfg.BackBuffer = DefaultBackBuffer
	}
	return &Buffered{id: id, cfg: cfg}
}

// ID implements playback.Surface.
func (b *Buffered) ID() playback.SurfaceID { return b.id }

// CanPlayType implements playback.Surface.
func (b *Buffered) CanPlayType(mime string) bool {
	return b.cfg.NativeHLS && mime == playback.HLSMimeType
}

// SetSource implements playback.Surface.
func (b *Buffered) SetSource(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.src = url
	if url == "" {
		b.playing = false
	}
}

// SetAttributes implements playback.Surface.
func (b *Buffered) SetAttributes(attrs playback.Attributes) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attrs = attrs
}

// Play implements playback.Surface.
func (b *Buffered) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.AutoplayRestricted && !b.attrs.Muted && !b.gesture {
		return playback.ErrPlayRejected
	}
	b.playing = true
	return nil
}

// UserGesture records a user interaction, lifting the autoplay restriction.
func (b *Buffered) UserGesture() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gesture = true
}

// AppendSegment implements playback.Surface.
func (b *Buffered) AppendSegment(seg playback.Segment, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyFragment
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.window); n > 0 && seg.Sequence <= b.window[n-1].Sequence {
		return fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, seg.Sequence, b.window[n-1].Sequence)
	}
	b.window = append(b.window, seg)
	b.buffered += seg.Duration
	b.bytes += int64(len(data))
	b.appended++
	b.lastAppend = time.Now().UTC()

	// Evict played-out media beyond the back buffer, always keeping the newest fragment.
	for len(b.window) > 1 && b.buffered-b.window[0].Duration >= b.cfg.BackBuffer {
		b.buffered -= b.window[0].Duration
		b.window = b.window[1:]
	}
	return nil
}

// ResetMedia implements playback.Surface.
func (b *Buffered) ResetMedia() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = nil
	b.buffered = 0
	b.playing = false
	b.resets++
}

// Snapshot is a copy of a surface's observable state.
type Snapshot struct {
	ID            playback.SurfaceID `json:"id"`
	Source        string             `json:"source,omitempty"`
	Playing       bool               `json:"playing"`
	Muted         bool               `json:"muted"`
	Loop          bool               `json:"loop"`
	Controls      bool               `json:"controls"`
	Buffered      float64            `json:"buffered_seconds"`
	Fragments     int                `json:"fragments"`
	FirstSequence int64              `json:"first_sequence"`
	LastSequence  int64              `json:"last_sequence"`
	Appended      int                `json:"appended"`
	Bytes         int64              `json:"bytes"`
	Resets        int                `json:"resets"`
	LastAppend    time.Time          `json:"last_append,omitempty"`
}

// Snapshot returns the surface's current state.
func (b *Buffered) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		ID:         b.id,
		Source:     b.src,
		Playing:    b.playing,
		Muted:      b.attrs.Muted,
		Loop:       b.attrs.Loop,
		Controls:   b.attrs.Controls,
		Buffered:   b.buffered.Seconds(),
		Fragments:  len(b.window),
		Appended:   b.appended,
		Bytes:      b.bytes,
		Resets:     b.resets,
		LastAppend: b.lastAppend,
	}
	if n := len(b.window); n > 0 {
		s.FirstSequence = b.window[0].Sequence
		s.LastSequence = b.window[n-1].Sequence
	}
	return s
}
