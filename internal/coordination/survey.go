package coordination

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wildtrack/groundlink/internal/geo"
	"github.com/wildtrack/groundlink/internal/survey"
	"github.com/wildtrack/groundlink/pkg/core"
	"github.com/wildtrack/groundlink/pkg/streaming"
)

// InitiateProximitySurvey starts a survey flight at the drone's
// current position. The button preconditions are re-validated here;
// the flight itself runs in the background and the outcome is
// published and persisted when it ends.
func (s *Service) InitiateProximitySurvey(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("coordination is not active")
	}
	if !s.buttonEnabled {
		s.mu.Unlock()
		return fmt.Errorf("survey button is not enabled")
	}
	if s.userSurveying || s.deps.Survey.Running() {
		s.mu.Unlock()
		return fmt.Errorf("a survey is already in progress")
	}
	s.mu.Unlock()

	drone := s.deps.Drone.Telemetry()
	if !drone.HasPosition {
		return fmt.Errorf("drone position unknown")
	}

	// The terminal waypoint returns the drone to the station it holds
	// right now, at its current altitude.
	plan, err := survey.GenerateConstrained(survey.PlanParams{
		CenterLat:  drone.Lat,
		CenterLon:  drone.Lon,
		HeadingDeg: drone.Heading,
		SwathM:     s.cfg.SurveySwath,
		AltM:       s.cfg.SurveyAltitude,
	}, s.cfg.SurveyRadius, core.Waypoint{
		Lat: drone.Lat,
		Lon: drone.Lon,
		Alt: drone.RelativeAlt,
	})
	if err != nil {
		return fmt.Errorf("planning survey pattern: %w", err)
	}

	rover := s.deps.Rover.Telemetry()
	waypointID := closestWaypoint(s.deps.Rover.Waypoints(), rover.Lat, rover.Lon)
	start := time.Now()

	s.mu.Lock()
	s.userSurveying = true
	s.surveyStart = start
	s.mu.Unlock()

	s.deps.Events.Publish(streaming.TypeSurveyStarted, nil)
	s.log.Info("proximity survey started",
		"waypoints", len(plan), "missionWaypointId", waypointID)

	go s.runSurvey(plan, waypointID, start)
	return nil
}

func (s *Service) runSurvey(plan []core.Waypoint, waypointID int, start time.Time) {
	result, err := s.deps.Survey.Execute(context.Background(), plan)

	s.mu.Lock()
	s.userSurveying = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("survey execution failed", "error", err)
		s.deps.Events.Publish(streaming.TypeCoordinationFault,
			streaming.FaultPayload{Reason: err.Error()})
		return
	}

	end := time.Now()
	rec := &core.SurveyRecord{
		ID:                core.NewSurveyRecordID(s.deps.Rover.SystemID(), start),
		VehicleID:         s.deps.Rover.SystemID(),
		Site:              s.cfg.Site,
		Waypoints:         plan,
		MissionWaypointID: waypointID,
		AreaM2:            surveyAreaM2(plan),
		Abandoned:         result != survey.ResultCompleted,
		StartedAt:         start,
		EndedAt:           end,
		CompletedAt:       end,
		DurationSeconds:   end.Sub(start).Seconds(),
		DurationFormatted: core.FormatDuration(end.Sub(start)),
	}
	if err := s.deps.Store.SaveSurvey(rec); err != nil {
		s.log.Error("failed to persist survey record", "id", rec.ID, "error", err)
	}

	switch result {
	case survey.ResultCompleted:
		s.deps.Events.Publish(streaming.TypeSurveyCompleted, rec)
		s.log.Info("survey recorded", "id", rec.ID, "duration", rec.DurationFormatted)
	default:
		// Drift or timeout: hand the drone back to the follow
		// behavior, which re-engages on the next tick.
		s.mu.Lock()
		s.following = false
		s.mu.Unlock()
		s.deps.Events.Publish(streaming.TypeSurveyAbandoned, rec)
		s.log.Info("survey abandoned", "id", rec.ID, "result", result.String())
	}
}

// surveyAreaM2 estimates the ground area a plan covers from the
// rectangle spanned by its first and last stripes. The stripe points
// alternate direction, so the far corners are ordered by which one
// sits nearest the end of the first stripe. Returns 0 when the plan is
// too small to enclose anything.
func surveyAreaM2(plan []core.Waypoint) float64 {
	if len(plan) < 5 {
		return 0
	}
	pts := plan[:len(plan)-1] // drop the return-to-station point

	a, b := pts[0], pts[1]
	c, d := pts[len(pts)-1], pts[len(pts)-2]
	if geo.Haversine(b.Lat, b.Lon, d.Lat, d.Lon) < geo.Haversine(b.Lat, b.Lon, c.Lat, c.Lon) {
		c, d = d, c
	}

	area, err := geo.PolygonAreaM2([][2]float64{
		{a.Lat, a.Lon}, {b.Lat, b.Lon}, {c.Lat, c.Lon}, {d.Lat, d.Lon},
	})
	if err != nil {
		return 0
	}
	return area
}

// closestWaypoint returns the seq of the waypoint nearest to the given
// position, or -1 when the mission is empty.
func closestWaypoint(wps []core.Waypoint, lat, lon float64) int {
	best := -1
	bestDist := math.MaxFloat64
	for _, wp := range wps {
		if d := geo.Haversine(lat, lon, wp.Lat, wp.Lon); d < bestDist {
			bestDist = d
			best = wp.Seq
		}
	}
	return best
}
