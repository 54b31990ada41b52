package playback

import "fmt"

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StatePlaying
	StateRecovering
	StateFailed
)

var stateNames = [...]string{
	"idle", "loading", "ready", "playing", "recovering", "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Options configures how a session presents its stream on the surface.
type Options struct {
	Autoplay     bool `json:"autoplay"`
	Muted        bool `json:"muted"`
	Loop         bool `json:"loop"`
	ShowControls bool `json:"show_controls"`
}
