// Package coordination runs the autonomous drone-follows-rover loop:
// a periodic decision tick that keeps the drone following the ground
// vehicle, manages the proximity survey button, supervises survey
// lifecycle edges and feeds the proximity tracker.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wildtrack/groundlink/internal/geo"
	"github.com/wildtrack/groundlink/internal/survey"
	"github.com/wildtrack/groundlink/internal/vehicle"
	"github.com/wildtrack/groundlink/pkg/core"
	"github.com/wildtrack/groundlink/pkg/streaming"
)

const stopJoinTimeout = 10 * time.Second

// DroneLink is the drone-side surface the loop drives.
type DroneLink interface {
	Connected() bool
	Telemetry() core.TelemetrySnapshot
	SetMode(ctx context.Context, mode vehicle.FlightMode) error
	Arm(ctx context.Context) error
	Disarm(ctx context.Context) error
	Takeoff(ctx context.Context, alt float64) error
	GoTo(lat, lon, alt float64) error
	SurveyComplete() bool
}

// RoverLink is the ground-vehicle surface the loop observes.
type RoverLink interface {
	Connected() bool
	SystemID() int
	Telemetry() core.TelemetrySnapshot
	Waypoints() []core.Waypoint
}

// SurveyRunner supervises one survey flight at a time. Abort marks
// the active run abandoned; it is a no-op when nothing is running.
type SurveyRunner interface {
	Execute(ctx context.Context, plan []core.Waypoint) (survey.Result, error)
	Running() bool
	Abort()
}

// SurveyStore persists completed and abandoned survey records.
type SurveyStore interface {
	SaveSurvey(rec *core.SurveyRecord) error
}

// Publisher is the fire-and-forget event sink.
type Publisher interface {
	Publish(name string, payload any)
}

// ProximitySink receives proximity samples for long-term storage.
type ProximitySink interface {
	WriteProximity(site string, distanceM float64, direction, activity string)
}

// Config carries the coordination.* and survey.* settings the loop
// needs.
type Config struct {
	Site               string
	TickInterval       time.Duration
	FollowAltitude     float64
	MaxFollowDistance  float64
	ProximityThreshold float64
	ProximityCooldown  time.Duration
	TrackingInterval   time.Duration
	SurveySwath        float64
	SurveyRadius       float64
	SurveyAltitude     float64
}

// Dependencies wires the service's collaborators.
type Dependencies struct {
	Drone  DroneLink
	Rover  RoverLink
	Survey SurveyRunner
	Store  SurveyStore
	Events Publisher
	Influx ProximitySink
	Logger *slog.Logger
	Config Config
}

// Service owns the coordination decision loop and the proximity
// tracker. Both are started and stopped independently.
type Service struct {
	deps Dependencies
	log  *slog.Logger
	cfg  Config

	mu            sync.Mutex
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
	following     bool
	userSurveying bool
	surveyStart   time.Time
	buttonEnabled bool
	buttonChanged time.Time

	trackMu     sync.Mutex
	tracking    bool
	trackStopCh chan struct{}
	trackWg     sync.WaitGroup
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.TrackingInterval <= 0 {
		cfg.TrackingInterval = time.Second
	}
	return &Service{deps: deps, log: deps.Logger, cfg: cfg}
}

// Start launches the decision loop. Starting a running service is a
// no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Info("coordination already active")
		return nil
	}
	if !s.deps.Drone.Connected() || !s.deps.Rover.Connected() {
		return fmt.Errorf("both vehicles must be connected: %w", vehicle.ErrNotConnected)
	}

	s.running = true
	s.following = false
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)

	s.deps.Events.Publish(streaming.TypeCoordinationActive, nil)
	s.log.Info("coordination started", "tick", s.cfg.TickInterval)
	return nil
}

// Stop halts the decision loop, joining it with a bounded wait.
// Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.log.Info("coordination already stopped")
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		s.log.Warn("coordination loop did not stop in time")
	}

	s.deps.Events.Publish(streaming.TypeCoordinationStopped, nil)
	s.log.Info("coordination stopped")
}

// Running reports whether the decision loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) loop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ctx := context.Background()
	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-tick.C:
			s.tick(ctx)
		}
	}
}

// tick is one pass of the decision loop. Each pass works from a
// consistent pair of snapshots taken at its start.
func (s *Service) tick(ctx context.Context) {
	drone := s.deps.Drone.Telemetry()
	rover := s.deps.Rover.Telemetry()
	if !drone.HasPosition || !rover.HasPosition {
		return
	}

	distance := geo.Haversine(drone.Lat, drone.Lon, rover.Lat, rover.Lon)
	surveying := s.isSurveying()

	if surveying {
		// The survey owns the drone; follow commands stand down until
		// the run ends. The rover pulling away beyond the follow limit
		// abandons the survey so the drone can catch up.
		if distance > s.cfg.MaxFollowDistance {
			s.log.Warn("vehicle separation exceeds follow limit, abandoning survey",
				"distanceMeters", distance, "limitMeters", s.cfg.MaxFollowDistance)
			s.deps.Survey.Abort()
		}
		s.pauseFollowForSurvey(distance)
	} else {
		s.runFollowBehavior(ctx, rover)
	}

	s.updateSurveyButton(distance, surveying)
}

// pauseFollowForSurvey clears the following flag while a survey is in
// progress, announcing the handover once.
func (s *Service) pauseFollowForSurvey(distance float64) {
	s.mu.Lock()
	wasFollowing := s.following
	s.following = false
	s.mu.Unlock()

	if wasFollowing {
		s.deps.Events.Publish(streaming.TypeFollowingPaused, nil)
		s.log.Info("following paused for survey", "distanceMeters", distance)
	}
}

// isSurveying holds while a user-initiated survey has not yet reached
// its final waypoint.
func (s *Service) isSurveying() bool {
	s.mu.Lock()
	user := s.userSurveying
	s.mu.Unlock()
	return user && !s.deps.Drone.SurveyComplete()
}

func (s *Service) runFollowBehavior(ctx context.Context, rover core.TelemetrySnapshot) {
	s.mu.Lock()
	following := s.following
	s.mu.Unlock()

	if !following {
		if err := s.engageFollow(ctx); err != nil {
			s.log.Error("follow engagement failed", "error", err)
		}
		return
	}

	if err := s.deps.Drone.GoTo(rover.Lat, rover.Lon, s.cfg.FollowAltitude); err != nil {
		s.log.Error("follow position update failed", "error", err)
	}
}

// engageFollow brings the drone up and after the rover: arm, launch,
// then FOLLOW mode with a GUIDED fallback. Any failure disarms, emits
// a coordination fault and returns an error wrapping
// vehicle.ErrSafetyFault, without marking the drone as following.
func (s *Service) engageFollow(ctx context.Context) error {
	err := func() error {
		if err := s.deps.Drone.Arm(ctx); err != nil {
			return fmt.Errorf("arming drone: %w", err)
		}
		if err := s.deps.Drone.Takeoff(ctx, s.cfg.FollowAltitude); err != nil {
			return fmt.Errorf("launching drone: %w", err)
		}
		if err := s.deps.Drone.SetMode(ctx, vehicle.ModeFollow); err != nil {
			s.log.Warn("FOLLOW mode unavailable, falling back to GUIDED", "error", err)
			if err := s.deps.Drone.SetMode(ctx, vehicle.ModeGuided); err != nil {
				return fmt.Errorf("entering follow fallback mode: %w", err)
			}
		}
		return nil
	}()

	if err != nil {
		s.deps.Events.Publish(streaming.TypeCoordinationFault,
			streaming.FaultPayload{Reason: err.Error()})
		if derr := s.deps.Drone.Disarm(ctx); derr != nil {
			s.log.Error("safety disarm after failed engagement also failed", "error", derr)
		}
		return fmt.Errorf("%w: %v", vehicle.ErrSafetyFault, err)
	}

	s.mu.Lock()
	s.following = true
	s.mu.Unlock()

	s.deps.Events.Publish(streaming.TypeFollowingTriggered, nil)
	s.log.Info("drone following rover", "altitude", s.cfg.FollowAltitude)
	return nil
}

// updateSurveyButton recomputes the proximity-survey button state and
// publishes it only on change, rate-limited by the cooldown.
func (s *Service) updateSurveyButton(distance float64, surveying bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := distance > 0 &&
		distance <= s.cfg.ProximityThreshold &&
		!surveying &&
		s.following

	if enabled == s.buttonEnabled {
		return
	}
	if time.Since(s.buttonChanged) < s.cfg.ProximityCooldown {
		return
	}

	s.buttonEnabled = enabled
	s.buttonChanged = time.Now()
	s.deps.Events.Publish(streaming.TypeSurveyButtonState, streaming.SurveyButtonStatePayload{
		Enabled:   enabled,
		Distance:  distance,
		Threshold: s.cfg.ProximityThreshold,
	})
	s.log.Info("survey button state changed", "enabled", enabled, "distanceMeters", distance)
}

// ButtonEnabled reports the current proximity-survey button state.
func (s *Service) ButtonEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttonEnabled
}
