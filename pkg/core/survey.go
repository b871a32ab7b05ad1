package core

import (
	"fmt"
	"time"
)

// SurveyRecord summarizes one finished (or abandoned) survey for the
// persistence layer. MissionWaypointID is the 1-based sequence of the
// rover mission waypoint nearest the survey center, which lets records
// be grouped by site of interest.
type SurveyRecord struct {
	ID                string     `json:"id"`
	VehicleID         int        `json:"vehicleId"`
	Site              string     `json:"site"`
	Waypoints         []Waypoint `json:"waypoints"`
	MissionWaypointID int        `json:"missionWaypointId"`
	AreaM2            float64    `json:"areaSquareMeters"`
	Abandoned         bool       `json:"scanAbandoned"`
	StartedAt         time.Time  `json:"startTime"`
	EndedAt           time.Time  `json:"endTime"`
	CompletedAt       time.Time  `json:"completedAt"`
	DurationSeconds   float64    `json:"durationSeconds"`
	DurationFormatted string     `json:"durationFormatted"`
}

// NewSurveyRecordID builds the canonical record id for a vehicle and
// completion time.
func NewSurveyRecordID(vehicleID int, at time.Time) string {
	return fmt.Sprintf("survey_%d_%d", vehicleID, at.Unix())
}

// FormatDuration renders a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// SurveyLogGroup is a page-able grouping of survey records that share
// a mission waypoint.
type SurveyLogGroup struct {
	MissionWaypointID int            `json:"missionWaypointId"`
	Surveys           []SurveyRecord `json:"surveys"`
}
