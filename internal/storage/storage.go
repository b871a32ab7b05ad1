// Package storage defines the persistence contract consumed by the
// coordination loop and the vehicle links: completed survey records
// and per-site waypoint visit state. The core never touches file
// formats or SQL directly.
package storage

import "github.com/wildtrack/groundlink/pkg/core"

// Backend is the interface all storage implementations must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Survey records
	SaveSurvey(rec *core.SurveyRecord) error
	ListSurveys(site string) ([]core.SurveyRecord, error)

	// Waypoint visit state
	VisitedWaypoints(site string, vehicleID int) (map[int]bool, error)
	RecordVisit(site string, vehicleID int, seq int) error
	ResetVisits(site string, vehicleID int) error
}
