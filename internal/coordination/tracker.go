package coordination

import (
	"math"
	"time"

	"github.com/wildtrack/groundlink/internal/geo"
	"github.com/wildtrack/groundlink/pkg/streaming"
)

// activityHoldBand is the per-sample distance change below which the
// drone counts as holding rather than moving.
const activityHoldBand = 0.5

// StartTracking launches the proximity tracker, which samples the
// drone/rover separation on its own interval independently of the
// decision loop. Starting an active tracker is a no-op.
func (s *Service) StartTracking() {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	if s.tracking {
		s.log.Info("proximity tracking already active")
		return
	}
	s.tracking = true
	s.trackStopCh = make(chan struct{})
	s.trackWg.Add(1)
	go s.trackLoop(s.trackStopCh)

	s.log.Info("proximity tracking started", "interval", s.cfg.TrackingInterval)
}

// StopTracking halts the proximity tracker.
func (s *Service) StopTracking() {
	s.trackMu.Lock()
	if !s.tracking {
		s.trackMu.Unlock()
		return
	}
	s.tracking = false
	close(s.trackStopCh)
	s.trackMu.Unlock()

	s.trackWg.Wait()
	s.log.Info("proximity tracking stopped")
}

// Tracking reports whether the proximity tracker is active.
func (s *Service) Tracking() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	return s.tracking
}

func (s *Service) trackLoop(stopCh <-chan struct{}) {
	defer s.trackWg.Done()

	tick := time.NewTicker(s.cfg.TrackingInterval)
	defer tick.Stop()

	lastDistance := math.NaN()
	for {
		select {
		case <-stopCh:
			return
		case <-tick.C:
			lastDistance = s.trackSample(lastDistance)
		}
	}
}

// trackSample takes one proximity sample and returns the distance for
// the next sample's activity classification.
func (s *Service) trackSample(lastDistance float64) float64 {
	drone := s.deps.Drone.Telemetry()
	rover := s.deps.Rover.Telemetry()
	if !drone.HasPosition || !rover.HasPosition {
		return math.NaN()
	}

	distance := geo.Haversine(rover.Lat, rover.Lon, drone.Lat, drone.Lon)
	bearing := geo.Bearing(rover.Lat, rover.Lon, drone.Lat, drone.Lon)
	direction := geo.CompassDirection(bearing)
	activity := classifyActivity(distance, lastDistance)

	if s.deps.Influx != nil {
		s.deps.Influx.WriteProximity(s.cfg.Site, distance, direction, activity)
	}
	s.deps.Events.Publish(streaming.TypeProximityUpdate, streaming.ProximityPayload{
		Distance:  distance,
		Direction: direction,
		Activity:  activity,
	})
	return distance
}

func classifyActivity(distance, lastDistance float64) string {
	if math.IsNaN(lastDistance) {
		return "observing"
	}
	delta := distance - lastDistance
	switch {
	case math.Abs(delta) < activityHoldBand:
		return "holding"
	case delta < 0:
		return "approaching"
	default:
		return "receding"
	}
}
