package session

import "time"

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusErrored      Status = "errored"
)

// Terminal reports whether the status is an end state. Terminal sessions
// are never transitioned again; reconnecting means a new session id.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusErrored
}

// Session holds the state of one logical remote terminal connection.
type Session struct {
	ID           string    `json:"id"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Endpoint formats the remote address for display and dialing.
func (s Session) Endpoint() string {
	return formatEndpoint(s.Host, s.Port)
}

// Resolution describes how a multiplexer resolved the session a control
// message refers to: found in the registry, synthesized as a placeholder
// because the failure should still be visible, or dropped because the
// message is not actionable without a session.
type Resolution int

const (
	ResolutionFound Resolution = iota
	ResolutionSynthesized
	ResolutionDropped
)

func (r Resolution) String() string {
	switch r {
	case ResolutionFound:
		return "found"
	case ResolutionSynthesized:
		return "synthesized"
	case ResolutionDropped:
		return "dropped"
	}
	return "unknown"
}
