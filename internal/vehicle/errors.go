package vehicle

import "errors"

// Failure kinds surfaced by link operations. Callers branch with
// errors.Is; the message text is only ever used for event payloads.
var (
	// ErrLinkTimeout means no heartbeat, ack or confirmation arrived
	// within the operation's bound. Recoverable; the caller decides
	// whether to retry.
	ErrLinkTimeout = errors.New("link timeout")

	// ErrProtocolViolation means the mission handshake saw an
	// unexpected sequence number or a rejection code. It aborts the
	// current operation only.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrPrecondition means a command needed a state the vehicle was
	// not in and the one-shot auto-correction failed.
	ErrPrecondition = errors.New("precondition failure")

	// ErrDataUnavailable means required telemetry is missing.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrNotConnected means the link has no open session.
	ErrNotConnected = errors.New("not connected")

	// ErrSafetyFault means an autonomous maneuver failed partway and
	// the vehicle was brought to a safe state (disarmed) in response.
	ErrSafetyFault = errors.New("safety fault")
)
