package vehicle

// FlightMode is an ArduPilot copter custom mode number.
type FlightMode uint32

const (
	ModeStabilize FlightMode = 0
	ModeAltHold   FlightMode = 2
	ModeAuto      FlightMode = 3
	ModeGuided    FlightMode = 4
	ModeLoiter    FlightMode = 5
	ModeRTL       FlightMode = 6
	ModeLand      FlightMode = 9
	ModeFollow    FlightMode = 23
)

// String returns the ArduPilot mode name.
func (m FlightMode) String() string {
	switch m {
	case ModeStabilize:
		return "STABILIZE"
	case ModeAltHold:
		return "ALT_HOLD"
	case ModeAuto:
		return "AUTO"
	case ModeGuided:
		return "GUIDED"
	case ModeLoiter:
		return "LOITER"
	case ModeRTL:
		return "RTL"
	case ModeLand:
		return "LAND"
	case ModeFollow:
		return "FOLLOW"
	default:
		return "UNKNOWN"
	}
}
