package coordination

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildtrack/groundlink/internal/survey"
	"github.com/wildtrack/groundlink/internal/vehicle"
	"github.com/wildtrack/groundlink/pkg/core"
	"github.com/wildtrack/groundlink/pkg/streaming"
)

type stubDrone struct {
	mu        sync.Mutex
	connected bool
	snap      core.TelemetrySnapshot
	modes     []vehicle.FlightMode
	arms      int
	disarms   int
	takeoffs  int
	gotos     [][3]float64
	complete  bool
	armErr    error
}

func (d *stubDrone) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *stubDrone) Telemetry() core.TelemetrySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

func (d *stubDrone) SetMode(ctx context.Context, mode vehicle.FlightMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modes = append(d.modes, mode)
	return nil
}

func (d *stubDrone) Arm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.arms++
	return d.armErr
}

func (d *stubDrone) Disarm(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarms++
	return nil
}

func (d *stubDrone) Takeoff(ctx context.Context, alt float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.takeoffs++
	return nil
}

func (d *stubDrone) GoTo(lat, lon, alt float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gotos = append(d.gotos, [3]float64{lat, lon, alt})
	return nil
}

func (d *stubDrone) SurveyComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.complete
}

func (d *stubDrone) setPosition(lat, lon float64) {
	d.mu.Lock()
	d.snap.HasPosition = true
	d.snap.Lat = lat
	d.snap.Lon = lon
	d.mu.Unlock()
}

func (d *stubDrone) counts() (arms, disarms, takeoffs, gotos int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arms, d.disarms, d.takeoffs, len(d.gotos)
}

type stubRover struct {
	mu        sync.Mutex
	connected bool
	snap      core.TelemetrySnapshot
	wps       []core.Waypoint
}

func (r *stubRover) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *stubRover) SystemID() int { return 2 }

func (r *stubRover) Telemetry() core.TelemetrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

func (r *stubRover) Waypoints() []core.Waypoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wps
}

type stubRunner struct {
	mu       sync.Mutex
	running  bool
	result   survey.Result
	err      error
	aborts   int
	released bool
	release  chan struct{}
}

func (r *stubRunner) Execute(ctx context.Context, plan []core.Waypoint) (survey.Result, error) {
	r.mu.Lock()
	r.running = true
	release := r.release
	r.mu.Unlock()
	if release != nil {
		<-release
	}
	r.mu.Lock()
	r.running = false
	result, err := r.result, r.err
	r.mu.Unlock()
	return result, err
}

func (r *stubRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Abort mirrors the monitor: it flips the pending outcome to
// abandoned and releases a blocked Execute.
func (r *stubRunner) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.aborts++
	r.result = survey.ResultAbandonedDrift
	if r.release != nil && !r.released {
		r.released = true
		close(r.release)
	}
}

func (r *stubRunner) abortCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborts
}

type stubStore struct {
	mu    sync.Mutex
	saved []*core.SurveyRecord
}

func (s *stubStore) SaveSurvey(rec *core.SurveyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return nil
}

func (s *stubStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type stubEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *stubEvents) Publish(name string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, name)
}

func (e *stubEvents) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt == name {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		Site:               "test-site",
		TickInterval:       10 * time.Millisecond,
		FollowAltitude:     15,
		MaxFollowDistance:  500,
		ProximityThreshold: 5,
		ProximityCooldown:  20 * time.Millisecond,
		TrackingInterval:   10 * time.Millisecond,
		SurveySwath:        8,
		SurveyRadius:       50,
		SurveyAltitude:     15,
	}
}

func testService(drone *stubDrone, rover *stubRover, runner *stubRunner) (*Service, *stubEvents, *stubStore) {
	events := &stubEvents{}
	store := &stubStore{}
	svc := NewService(Dependencies{
		Drone:  drone,
		Rover:  rover,
		Survey: runner,
		Store:  store,
		Events: events,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: testConfig(),
	})
	return svc, events, store
}

// metersToLat converts a northward offset to degrees of latitude.
func metersToLat(m float64) float64 { return m / 111320.0 }

func TestStartRequiresConnectedVehicles(t *testing.T) {
	drone := &stubDrone{connected: false}
	rover := &stubRover{connected: true}
	svc, _, _ := testService(drone, rover, &stubRunner{})

	assert.Error(t, svc.Start())
	assert.False(t, svc.Running())
}

func TestStartStopIdempotent(t *testing.T) {
	drone := &stubDrone{connected: true}
	rover := &stubRover{connected: true}
	svc, events, _ := testService(drone, rover, &stubRunner{})

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	assert.Equal(t, 1, events.count(streaming.TypeCoordinationActive))

	svc.Stop()
	svc.Stop()
	assert.Equal(t, 1, events.count(streaming.TypeCoordinationStopped))
}

func TestEngagesFollowWhenRoverInRange(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(600), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}

	svc, events, _ := testService(drone, rover, &stubRunner{})
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return events.count(streaming.TypeFollowingTriggered) > 0
	}, 2*time.Second, 5*time.Millisecond)

	arms, _, takeoffs, _ := drone.counts()
	assert.Equal(t, 1, arms)
	assert.Equal(t, 1, takeoffs)

	// Once following, position targets stream toward the rover.
	require.Eventually(t, func() bool {
		_, _, _, gotos := drone.counts()
		return gotos > 0
	}, 2*time.Second, 5*time.Millisecond)

	drone.mu.Lock()
	target := drone.gotos[0]
	drone.mu.Unlock()
	assert.Equal(t, 0.0, target[0])
	assert.Equal(t, 36.9, target[1])
	assert.Equal(t, 15.0, target[2])
}

func TestFailedEngagementFaultsAndDisarms(t *testing.T) {
	drone := &stubDrone{connected: true, armErr: vehicle.ErrPrecondition}
	drone.setPosition(metersToLat(600), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}

	svc, events, _ := testService(drone, rover, &stubRunner{})
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return events.count(streaming.TypeCoordinationFault) > 0
	}, 2*time.Second, 5*time.Millisecond)

	_, disarms, _, _ := drone.counts()
	assert.GreaterOrEqual(t, disarms, 1)
	assert.Zero(t, events.count(streaming.TypeFollowingTriggered))
}

func TestFailedEngagementIsSafetyFault(t *testing.T) {
	drone := &stubDrone{connected: true, armErr: vehicle.ErrPrecondition}
	rover := &stubRover{connected: true}

	svc, _, _ := testService(drone, rover, &stubRunner{})

	err := svc.engageFollow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, vehicle.ErrSafetyFault))

	_, disarms, _, _ := drone.counts()
	assert.Equal(t, 1, disarms)
}

func TestButtonEnablesWithinProximity(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(600), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}

	svc, events, _ := testService(drone, rover, &stubRunner{})
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return events.count(streaming.TypeFollowingTriggered) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// Drone closes to 3m: the button must enable within one cooldown.
	drone.setPosition(metersToLat(3), 36.9)
	require.Eventually(t, svc.ButtonEnabled, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, events.count(streaming.TypeSurveyButtonState), 1)

	// Drone pulls away: the button disables again.
	drone.setPosition(metersToLat(30), 36.9)
	require.Eventually(t, func() bool { return !svc.ButtonEnabled() },
		time.Second, 5*time.Millisecond)
}

func TestProximitySurveyLifecycle(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(3), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}
	rover.wps = []core.Waypoint{
		{Seq: 0, Lat: 0.0, Lon: 36.9},
		{Seq: 1, Lat: 0.0, Lon: 37.0},
	}
	runner := &stubRunner{result: survey.ResultCompleted}

	svc, events, store := testService(drone, rover, runner)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, svc.ButtonEnabled, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.InitiateProximitySurvey(context.Background()))

	require.Eventually(t, func() bool {
		return events.count(streaming.TypeSurveyCompleted) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, store.count())
	rec := store.saved[0]
	assert.False(t, rec.Abandoned)
	assert.Equal(t, 2, rec.VehicleID)
	assert.Equal(t, 0, rec.MissionWaypointID, "closest rover waypoint")
	assert.NotEmpty(t, rec.Waypoints)
	assert.Greater(t, rec.AreaM2, 0.0)
	assert.Equal(t, 1, events.count(streaming.TypeSurveyStarted))
}

func TestSurveyAreaEstimate(t *testing.T) {
	plan, err := survey.GenerateConstrained(survey.PlanParams{
		CenterLat:  0.0001,
		CenterLon:  36.9,
		HeadingDeg: 0,
		SwathM:     8,
		AltM:       15,
	}, 50, core.Waypoint{Lat: 0.0001, Lon: 36.9, Alt: 15})
	require.NoError(t, err)

	// A 50m limit inscribes a ~70m square; with an 8m swath the last
	// stripe falls short of the far edge, so the covered rectangle is
	// roughly 70m by 64m.
	area := surveyAreaM2(plan)
	assert.InDelta(t, 4480.0, area, 500.0)

	assert.Zero(t, surveyAreaM2(plan[:3]))
	assert.Zero(t, surveyAreaM2(nil))
}

func TestSurveyPausesFollowing(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(3), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}
	runner := &stubRunner{result: survey.ResultCompleted, release: make(chan struct{})}

	svc, events, _ := testService(drone, rover, runner)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, svc.ButtonEnabled, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.InitiateProximitySurvey(context.Background()))

	// While the survey runs, the loop hands the drone over and stops
	// issuing follow commands.
	require.Eventually(t, func() bool {
		return events.count(streaming.TypeFollowingPaused) > 0
	}, 2*time.Second, 5*time.Millisecond)

	close(runner.release)
	require.Eventually(t, func() bool {
		return events.count(streaming.TypeSurveyCompleted) > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSeparationBeyondFollowLimitAbortsSurvey(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(3), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}
	runner := &stubRunner{result: survey.ResultCompleted, release: make(chan struct{})}

	svc, events, store := testService(drone, rover, runner)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, svc.ButtonEnabled, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.InitiateProximitySurvey(context.Background()))
	require.Eventually(t, runner.Running, 2*time.Second, 5*time.Millisecond)

	// The drone keeps surveying while the rover drives off beyond the
	// follow limit; the loop must abandon the run, not let it finish.
	drone.setPosition(metersToLat(600), 36.9)

	require.Eventually(t, func() bool {
		return events.count(streaming.TypeSurveyAbandoned) > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, runner.abortCount(), 1)
	require.Equal(t, 1, store.count())
	assert.True(t, store.saved[0].Abandoned)
}

func TestAbandonedSurveyReengagesFollow(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(3), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}
	runner := &stubRunner{result: survey.ResultAbandonedDrift}

	svc, events, store := testService(drone, rover, runner)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	require.Eventually(t, svc.ButtonEnabled, 2*time.Second, 5*time.Millisecond)
	firstEngagements := events.count(streaming.TypeFollowingTriggered)

	require.NoError(t, svc.InitiateProximitySurvey(context.Background()))

	require.Eventually(t, func() bool {
		return events.count(streaming.TypeSurveyAbandoned) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, store.count())
	assert.True(t, store.saved[0].Abandoned)

	// The follow behavior re-engages after the abandonment.
	require.Eventually(t, func() bool {
		return events.count(streaming.TypeFollowingTriggered) > firstEngagements
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSurveyRequiresEnabledButton(t *testing.T) {
	drone := &stubDrone{connected: true}
	rover := &stubRover{connected: true}
	svc, _, _ := testService(drone, rover, &stubRunner{})
	require.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Error(t, svc.InitiateProximitySurvey(context.Background()))
}

func TestProximityTrackerPublishesSamples(t *testing.T) {
	drone := &stubDrone{connected: true}
	drone.setPosition(metersToLat(100), 36.9)
	rover := &stubRover{connected: true}
	rover.snap = core.TelemetrySnapshot{HasPosition: true, Lat: 0.0, Lon: 36.9}

	svc, events, _ := testService(drone, rover, &stubRunner{})

	// The tracker runs independently of the decision loop.
	svc.StartTracking()
	require.Eventually(t, func() bool {
		return events.count(streaming.TypeProximityUpdate) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.Tracking())

	svc.StopTracking()
	svc.StopTracking()
	assert.False(t, svc.Tracking())
}

func TestClassifyActivity(t *testing.T) {
	assert.Equal(t, "approaching", classifyActivity(10, 20))
	assert.Equal(t, "receding", classifyActivity(20, 10))
	assert.Equal(t, "holding", classifyActivity(10, 10.2))
}
