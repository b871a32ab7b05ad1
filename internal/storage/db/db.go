// Package db implements the storage contract on top of GORM. The
// SQLite and Postgres packages supply the dialector; everything else
// is shared here.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/wildtrack/groundlink/pkg/core"
)

// SurveyRow is the GORM model for one completed survey.
type SurveyRow struct {
	ID                string `gorm:"primaryKey"`
	VehicleID         int
	Site              string `gorm:"index"`
	Waypoints         datatypes.JSON
	MissionWaypointID int
	AreaM2            float64
	Abandoned         bool
	StartedAt         time.Time
	EndedAt           time.Time
	CompletedAt       time.Time `gorm:"index"`
	DurationSeconds   float64
}

// TableName overrides the GORM default.
func (SurveyRow) TableName() string { return "surveys" }

// VisitRow is the GORM model for one visited waypoint.
type VisitRow struct {
	ID        uint   `gorm:"primaryKey"`
	Site      string `gorm:"uniqueIndex:idx_site_vehicle_seq"`
	VehicleID int    `gorm:"uniqueIndex:idx_site_vehicle_seq"`
	Seq       int    `gorm:"uniqueIndex:idx_site_vehicle_seq"`
	VisitedAt time.Time
}

// TableName overrides the GORM default.
func (VisitRow) TableName() string { return "visited_waypoints" }

// Backend persists survey and visit state through a gorm.DB.
type Backend struct {
	db *gorm.DB
}

// New wraps an open GORM connection.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if err := b.db.AutoMigrate(&SurveyRow{}, &VisitRow{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("accessing sql interface: %w", err)
	}
	return sqlDB.Close()
}

// SaveSurvey inserts one survey record.
func (b *Backend) SaveSurvey(rec *core.SurveyRecord) error {
	waypoints, err := json.Marshal(rec.Waypoints)
	if err != nil {
		return fmt.Errorf("encoding waypoints: %w", err)
	}

	row := SurveyRow{
		ID:                rec.ID,
		VehicleID:         rec.VehicleID,
		Site:              rec.Site,
		Waypoints:         datatypes.JSON(waypoints),
		MissionWaypointID: rec.MissionWaypointID,
		AreaM2:            rec.AreaM2,
		Abandoned:         rec.Abandoned,
		StartedAt:         rec.StartedAt,
		EndedAt:           rec.EndedAt,
		CompletedAt:       rec.CompletedAt,
		DurationSeconds:   rec.DurationSeconds,
	}
	if err := b.db.Create(&row).Error; err != nil {
		return fmt.Errorf("inserting survey %s: %w", rec.ID, err)
	}
	return nil
}

// ListSurveys returns all survey records for a site, oldest first.
func (b *Backend) ListSurveys(site string) ([]core.SurveyRecord, error) {
	var rows []SurveyRow
	if err := b.db.Where("site = ?", site).Order("completed_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying surveys for %s: %w", site, err)
	}

	records := make([]core.SurveyRecord, 0, len(rows))
	for _, row := range rows {
		var waypoints []core.Waypoint
		if len(row.Waypoints) > 0 {
			if err := json.Unmarshal(row.Waypoints, &waypoints); err != nil {
				return nil, fmt.Errorf("decoding waypoints for %s: %w", row.ID, err)
			}
		}
		records = append(records, core.SurveyRecord{
			ID:                row.ID,
			VehicleID:         row.VehicleID,
			Site:              row.Site,
			Waypoints:         waypoints,
			MissionWaypointID: row.MissionWaypointID,
			AreaM2:            row.AreaM2,
			Abandoned:         row.Abandoned,
			StartedAt:         row.StartedAt,
			EndedAt:           row.EndedAt,
			CompletedAt:       row.CompletedAt,
			DurationSeconds:   row.DurationSeconds,
			DurationFormatted: core.FormatDuration(time.Duration(row.DurationSeconds * float64(time.Second))),
		})
	}
	return records, nil
}

// VisitedWaypoints returns the visited set for a site/vehicle pair.
func (b *Backend) VisitedWaypoints(site string, vehicleID int) (map[int]bool, error) {
	var rows []VisitRow
	if err := b.db.Where("site = ? AND vehicle_id = ?", site, vehicleID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying visits: %w", err)
	}
	visited := make(map[int]bool, len(rows))
	for _, row := range rows {
		visited[row.Seq] = true
	}
	return visited, nil
}

// RecordVisit marks one waypoint visited. Duplicate visits are no-ops.
func (b *Backend) RecordVisit(site string, vehicleID int, seq int) error {
	row := VisitRow{
		Site:      site,
		VehicleID: vehicleID,
		Seq:       seq,
		VisitedAt: time.Now().UTC(),
	}
	err := b.db.Create(&row).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	if err != nil {
		// Unique-violation reporting varies by driver; treat an
		// existing row as success.
		var existing int64
		b.db.Model(&VisitRow{}).
			Where("site = ? AND vehicle_id = ? AND seq = ?", site, vehicleID, seq).
			Count(&existing)
		if existing > 0 {
			return nil
		}
		return fmt.Errorf("inserting visit: %w", err)
	}
	return nil
}

// ResetVisits clears the visited set for a site/vehicle pair.
func (b *Backend) ResetVisits(site string, vehicleID int) error {
	if err := b.db.Where("site = ? AND vehicle_id = ?", site, vehicleID).Delete(&VisitRow{}).Error; err != nil {
		return fmt.Errorf("deleting visits: %w", err)
	}
	return nil
}
