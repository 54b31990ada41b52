package playback

import "fmt"

// FaultKind classifies an engine fault.
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultNetwork
	FaultMedia
	FaultUnsupported
	FaultOther
)

var faultKindNames = [...]string{"none", "network", "media", "unsupported", "other"}

func (k FaultKind) String() string {
	if int(k) >= 0 && int(k) < len(faultKindNames) {
		return faultKindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Fault is a single asynchronous problem reported by an engine. It is consumed
// once by the session's recovery policy and never queued.
type Fault struct {
	Kind   FaultKind
	Fatal  bool
	Detail string
}

func (f Fault) String() string {
	if f.Detail == "" {
		return fmt.Sprintf("%s(fatal=%t)", f.Kind, f.Fatal)
	}
	return fmt.Sprintf("%s(fatal=%t): %s", f.Kind, f.Fatal, f.Detail)
}

// Action is the engine primitive the recovery policy asks the session to run.
type Action int

const (
	ActionNone Action = iota
	ActionRestartLoad
	ActionRecoverMedia
	ActionDestroy
)

var actionNames = [...]string{"none", "restart_load", "recover_media", "destroy"}

func (a Action) String() string {
	if int(a) >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("unknown(%d)", int(a))
}

// Decision is the outcome of Decide: the state to enter and the engine action
// to run on the way.
type Decision struct {
	Next   State
	Action Action
}

// Decide is the recovery policy. It maps the current state and an incoming
// fault to the next state. budgetOK reports whether the session still has a
// retry token; a retryable fault without budget fails the session.
//
// Faults arriving in Failed (or Idle, where no engine exists) are ignored.
func Decide(state State, f Fault, budgetOK bool) Decision {
	if state == StateFailed || state == StateIdle {
		return Decision{Next: state, Action: ActionNone}
	}

	switch f.Kind {
	case FaultNetwork:
		if !budgetOK {
			return Decision{Next: StateFailed, Action: ActionDestroy}
		}
		return Decision{Next: StateRecovering, Action: ActionRestartLoad}
	case FaultMedia:
		if !f.Fatal {
			return Decision{Next: state, Action: ActionNone}
		}
		if !budgetOK {
			return Decision{Next: StateFailed, Action: ActionDestroy}
		}
		return Decision{Next: StateRecovering, Action: ActionRecoverMedia}
	case FaultUnsupported:
		return Decision{Next: StateFailed, Action: ActionDestroy}
	default:
		if !f.Fatal {
			return Decision{Next: state, Action: ActionNone}
		}
		return Decision{Next: StateFailed, Action: ActionDestroy}
	}
}
