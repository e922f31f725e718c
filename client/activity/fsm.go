package activity

import "time"

type State int

const (
	Active State = iota
	HiddenPendingOffline
	Offline
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case HiddenPendingOffline:
		return "hidden_pending_offline"
	default:
		return "offline"
	}
}

type Event int

const (
	EvTick Event = iota
	EvHidden
	EvVisible
	EvInteract
	EvOfflineTimer
	EvTeardown
)

func (e Event) String() string {
	return [...]string{"tick", "hidden", "visible", "interact", "offline_timer", "teardown"}[e]
}

// facts are the inputs a transition may consult besides the current state.
type facts struct {
	HiddenFor      time.Duration
	Threshold      time.Duration
	SharedOffline  bool // another tab recorded the user offline
	SiblingVisible bool // another tab of the same user is visible
	Interacted     bool // user input since the previous tick
}

type action int

const (
	actHeartbeat action = iota
	actOnline
	actOffline
	actStartTimer
	actCancelTimer
	actShareOnline
	actShareOffline
	actBeacon
	actMarkLeft
	actRefreshTab
)

func (a action) String() string {
	return [...]string{"heartbeat", "online", "offline", "start_timer", "cancel_timer",
		"share_online", "share_offline", "beacon", "mark_left", "refresh_tab"}[a]
}

// transition is the whole client presence policy. It is pure: the tracker
// gathers facts, calls it, then performs the returned actions in order.
func transition(s State, ev Event, f facts) (State, []action) {
	switch ev {
	case EvTeardown:
		return Offline, []action{actCancelTimer, actBeacon, actMarkLeft}

	case EvTick:
		if s != Active {
			return s, nil
		}
		// input since the last tick also re-asserts online
		if f.Interacted {
			return Active, []action{actHeartbeat, actRefreshTab, actOnline}
		}
		return Active, []action{actHeartbeat, actRefreshTab}

	case EvHidden:
		if s == Offline {
			return Offline, nil
		}
		return HiddenPendingOffline, []action{actCancelTimer, actStartTimer}

	case EvVisible:
		switch s {
		case HiddenPendingOffline:
			if f.HiddenFor >= f.Threshold || f.SharedOffline {
				return Active, []action{actCancelTimer, actOnline, actShareOnline}
			}
			return Active, []action{actCancelTimer}
		case Offline:
			return Active, []action{actOnline, actShareOnline}
		}
		return Active, nil

	case EvInteract:
		if s == Offline {
			return Active, []action{actOnline, actShareOnline}
		}
		return s, nil

	case EvOfflineTimer:
		if s != HiddenPendingOffline {
			return s, nil
		}
		if f.SiblingVisible {
			return Offline, nil
		}
		return Offline, []action{actOffline, actShareOffline}
	}
	return s, nil
}
