package survey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wildtrack/groundlink/internal/geo"
	"github.com/wildtrack/groundlink/internal/vehicle"
	"github.com/wildtrack/groundlink/pkg/core"
)

// DroneLink is the slice of the vehicle link the monitor drives.
type DroneLink interface {
	UploadMission(ctx context.Context, wps []core.Waypoint) error
	SetMode(ctx context.Context, mode vehicle.FlightMode) error
	StartMission(ctx context.Context) error
	PauseMission(ctx context.Context) error
	Arm(ctx context.Context) error
	Takeoff(ctx context.Context, alt float64) error
	Telemetry() core.TelemetrySnapshot
	SurveyComplete() bool
}

// CarPositionFunc reports the ground vehicle's live position. ok is
// false while no fix is available.
type CarPositionFunc func() (lat, lon float64, ok bool)

// Result is the terminal state of one supervised survey.
type Result int

const (
	ResultCompleted Result = iota
	ResultAbandonedDrift
	ResultTimedOut
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultAbandonedDrift:
		return "abandoned_drift"
	case ResultTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MonitorConfig bounds one survey execution.
type MonitorConfig struct {
	Timeout             time.Duration
	PollInterval        time.Duration
	MaxCarDriftM        float64
	AltitudeM           float64
	ResumeAltitudeFloor float64
}

// Monitor supervises a single survey flight: upload, AUTO, then a
// polling loop that ends on completion, ground vehicle drift or
// timeout, always handing the drone back to GUIDED.
type Monitor struct {
	drone  DroneLink
	carPos CarPositionFunc
	log    *slog.Logger
	cfg    MonitorConfig

	mu          sync.Mutex
	running     bool
	paused      bool
	aborted     bool
	pausedAt    time.Time
	pausedTotal time.Duration
}

func NewMonitor(drone DroneLink, carPos CarPositionFunc, cfg MonitorConfig, log *slog.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Monitor{drone: drone, carPos: carPos, log: log, cfg: cfg}
}

// Running reports whether a survey is currently being supervised.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Execute uploads the plan, starts it in AUTO and blocks until the
// survey ends. The drift anchor is the ground vehicle's position at
// start, so only movement during the survey counts as drift.
func (m *Monitor) Execute(ctx context.Context, plan []core.Waypoint) (Result, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return 0, fmt.Errorf("survey already in progress")
	}
	m.running = true
	m.paused = false
	m.aborted = false
	m.pausedTotal = 0
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if err := m.drone.UploadMission(ctx, plan); err != nil {
		return 0, fmt.Errorf("uploading survey plan: %w", err)
	}
	if err := m.drone.SetMode(ctx, vehicle.ModeAuto); err != nil {
		return 0, err
	}
	if err := m.drone.StartMission(ctx); err != nil {
		m.toGuided(ctx)
		return 0, err
	}

	anchorLat, anchorLon, anchored := m.carPos()
	start := time.Now()

	tick := time.NewTicker(m.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			m.toGuided(context.Background())
			return 0, ctx.Err()
		case <-tick.C:
		}

		// An external abort ends the run even while paused.
		if m.isAborted() {
			m.toGuided(ctx)
			m.log.Info("survey abandoned by coordination", "elapsed", time.Since(start).Round(time.Second))
			return ResultAbandonedDrift, nil
		}

		if m.isPaused() {
			continue
		}

		// Completion wins over drift wins over timeout.
		if m.drone.SurveyComplete() {
			m.toGuided(ctx)
			m.log.Info("survey completed", "elapsed", time.Since(start).Round(time.Second))
			return ResultCompleted, nil
		}

		if anchored {
			if lat, lon, ok := m.carPos(); ok {
				if drift := geo.Haversine(anchorLat, anchorLon, lat, lon); drift > m.cfg.MaxCarDriftM {
					m.toGuided(ctx)
					m.log.Info("survey abandoned, ground vehicle moved",
						"driftMeters", drift)
					return ResultAbandonedDrift, nil
				}
			}
		}

		if time.Since(start)-m.pausedDuration() > m.cfg.Timeout {
			m.toGuided(ctx)
			m.log.Warn("survey timed out", "timeout", m.cfg.Timeout)
			return ResultTimedOut, nil
		}
	}
}

// Pause holds the drone in place mid-survey. Time spent paused does
// not count against the survey timeout.
func (m *Monitor) Pause(ctx context.Context) error {
	m.mu.Lock()
	if !m.running || m.paused {
		m.mu.Unlock()
		return fmt.Errorf("no active survey to pause")
	}
	m.paused = true
	m.pausedAt = time.Now()
	m.mu.Unlock()

	if err := m.drone.PauseMission(ctx); err != nil {
		m.mu.Lock()
		m.paused = false
		m.mu.Unlock()
		return err
	}
	m.log.Info("survey paused")
	return nil
}

// Resume continues a paused survey. If the drone descended below the
// resume floor it is re-armed and relaunched first.
func (m *Monitor) Resume(ctx context.Context) error {
	m.mu.Lock()
	if !m.running || !m.paused {
		m.mu.Unlock()
		return fmt.Errorf("no paused survey to resume")
	}
	m.mu.Unlock()

	if m.drone.Telemetry().RelativeAlt < m.cfg.ResumeAltitudeFloor {
		if err := m.drone.Arm(ctx); err != nil {
			return fmt.Errorf("re-arming for resume: %w", err)
		}
		if err := m.drone.Takeoff(ctx, m.cfg.AltitudeM); err != nil {
			return fmt.Errorf("re-launching for resume: %w", err)
		}
	}

	if err := m.drone.SetMode(ctx, vehicle.ModeAuto); err != nil {
		return err
	}

	m.mu.Lock()
	m.pausedTotal += time.Since(m.pausedAt)
	m.paused = false
	m.mu.Unlock()

	m.log.Info("survey resumed")
	return nil
}

// Abort marks the running survey abandoned. The coordination loop
// calls it when the vehicles separate beyond the follow limit; the
// supervising Execute observes it on its next poll. A no-op when no
// survey is running.
func (m *Monitor) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.aborted = true
}

func (m *Monitor) isAborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

func (m *Monitor) isPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Monitor) pausedDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.pausedTotal
	if m.paused {
		total += time.Since(m.pausedAt)
	}
	return total
}

// toGuided hands control back to the coordination layer regardless of
// how the survey ended.
func (m *Monitor) toGuided(ctx context.Context) {
	if err := m.drone.SetMode(ctx, vehicle.ModeGuided); err != nil {
		m.log.Error("failed to return drone to GUIDED after survey", "error", err)
	}
}
