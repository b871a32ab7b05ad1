// Package streaming defines the wire envelope and message type names
// used on the ground-station event/telemetry WebSocket.
package streaming

import "encoding/json"

// Envelope frames every message pushed to connected clients.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Discrete event names. These are fire-and-forget; a delivery failure
// never feeds back into coordination state.
const (
	TypeCoordinationActive  = "coordination_active"
	TypeCoordinationStopped = "coordination_stopped"
	TypeCoordinationFault   = "coordination_fault"
	TypeFollowingTriggered  = "following_triggered"
	TypeFollowingPaused     = "following_paused"
	TypeSurveyStarted       = "survey_started"
	TypeSurveyCompleted     = "survey_completed"
	TypeSurveyAbandoned     = "survey_abandoned"
	TypeSurveyButtonState   = "survey_button_state_changed"
	TypeProximityUpdate     = "proximity_update"
	TypeTelemetry           = "telemetry"
)

// SurveyButtonStatePayload reports a change in the operator's ability
// to start a proximity survey.
type SurveyButtonStatePayload struct {
	Enabled   bool    `json:"enabled"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
}

// FaultPayload carries a human-readable reason for a coordination fault.
type FaultPayload struct {
	Reason string `json:"reason"`
}

// ProximityPayload is the periodic drone/rover proximity sample.
type ProximityPayload struct {
	Distance  float64 `json:"distance"`
	Direction string  `json:"direction"`
	Activity  string  `json:"activity"`
}

// TelemetryPayload wraps one vehicle snapshot for the stream.
type TelemetryPayload struct {
	Vehicle string `json:"vehicle"`
	Data    any    `json:"data"`
}
