package session

import (
	"errors"
	"time"

	"shipment-dispatch-client/workers/shipments/models"
)

var ErrSignedOut = errors.New("not signed in")

type State int

const (
	SignedOut State = iota
	SignedIn
	Invalidating
)

func (s State) String() string {
	switch s {
	case SignedIn:
		return "signed_in"
	case Invalidating:
		return "invalidating"
	default:
		return "signed_out"
	}
}

// Reason explains why a session ended.
type Reason string

const (
	ReasonUserLogout   Reason = "user_logout"
	ReasonIdleTimeout  Reason = "idle_timeout"
	ReasonSuperseded   Reason = "superseded"
	ReasonUnauthorized Reason = "unauthorized"
	ReasonKickedOut    Reason = "kicked_out"
)

func (r Reason) auditDetails() string {
	switch r {
	case ReasonUserLogout:
		return "User logged out"
	case ReasonIdleTimeout:
		return "Session expired due to inactivity"
	case ReasonSuperseded:
		return "Forced logout: signed in from another tab or device"
	default:
		return "Forced logout: session rejected by server"
	}
}

// Notice is the message shown to the user, empty for silent sign-outs.
func (r Reason) Notice() string {
	switch r {
	case ReasonIdleTimeout:
		return "You were signed out due to inactivity."
	case ReasonSuperseded:
		return "Your account was signed in from another tab or device."
	case ReasonKickedOut:
		return "Your session is no longer valid. You have been signed out."
	default:
		return ""
	}
}

// Expired is raised once per ended session.
type Expired struct {
	Reason Reason
	UserID models.ID
	At     time.Time
}

// InputEvent is a user input kind that counts as activity.
type InputEvent string

const (
	EventPointerMove InputEvent = "mousemove"
	EventKeyPress    InputEvent = "keypress"
	EventClick       InputEvent = "click"
	EventScroll      InputEvent = "scroll"
	EventTouchStart  InputEvent = "touchstart"
)

var activityEvents = map[InputEvent]struct{}{
	EventPointerMove: {},
	EventKeyPress:    {},
	EventClick:       {},
	EventScroll:      {},
	EventTouchStart:  {},
}
