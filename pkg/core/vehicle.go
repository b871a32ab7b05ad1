package core

import "time"

// VehicleKind identifies which physical vehicle a link talks to.
type VehicleKind string

const (
	KindDrone    VehicleKind = "drone"
	KindCar      VehicleKind = "car"
	KindOperator VehicleKind = "operator"
)

// Valid reports whether k is one of the known vehicle kinds.
func (k VehicleKind) Valid() bool {
	switch k {
	case KindDrone, KindCar, KindOperator:
		return true
	}
	return false
}

// Waypoint is a single mission item. Immutable once part of an
// uploaded mission.
type Waypoint struct {
	Seq     int     `json:"seq"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Alt     float64 `json:"alt"`
	Command uint16  `json:"command"`
	Param1  float64 `json:"param1"`
	Param2  float64 `json:"param2"`
	Param3  float64 `json:"param3"`
	Param4  float64 `json:"param4"`
}

// TelemetrySnapshot is the live state of one vehicle, derived entirely
// from the most recent protocol messages. Fields are replaced wholesale
// per message type, never merged across unrelated messages.
type TelemetrySnapshot struct {
	// Position (GLOBAL_POSITION_INT)
	HasPosition bool    `json:"hasPosition"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	AltMSL      float64 `json:"altMSL"`
	RelativeAlt float64 `json:"relativeAlt"`

	// Velocity, m/s
	Vx          float64 `json:"vx"`
	Vy          float64 `json:"vy"`
	Vz          float64 `json:"vz"`
	GroundSpeed float64 `json:"groundSpeed"`
	// Heading in degrees, -1 when the autopilot reports it unknown.
	Heading float64 `json:"heading"`

	// Battery (SYS_STATUS)
	BatteryVoltage   float64 `json:"batteryVoltage"`
	BatteryRemaining int     `json:"batteryRemaining"`

	// Mission progress. Progress percentage and distance-to-waypoint
	// are advisory; coordination decisions never depend on them.
	CurrentWaypoint    int     `json:"currentWaypoint"`
	NextWaypoint       int     `json:"nextWaypoint"`
	TotalWaypoints     int     `json:"totalWaypoints"`
	DistanceToWaypoint float64 `json:"distanceToWaypoint"`
	MissionProgress    float64 `json:"missionProgress"`

	// Link health (HEARTBEAT)
	LastHeartbeat     time.Time `json:"lastHeartbeat"`
	Armed             bool      `json:"armed"`
	CustomMode        uint32    `json:"customMode"`
	CustomModeEnabled bool      `json:"customModeEnabled"`
	BaseMode          uint8     `json:"baseMode"`
	SystemStatus      uint8     `json:"systemStatus"`
}

// StatusMessage is one autopilot STATUSTEXT line.
type StatusMessage struct {
	Severity uint8     `json:"severity"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}
