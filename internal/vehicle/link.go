// Package vehicle implements the MAVLink protocol session for one
// physical vehicle: connect/heartbeat/disconnect, a continuously
// updated telemetry snapshot, confirmed mode/arm/takeoff commands,
// the mission transfer handshake and waypoint-visit detection.
//
// Each connected link runs three workers: a 1 Hz ground-station
// heartbeat sender, the message listener (the sole consumer of the
// wire) and a 10 Hz telemetry pump feeding registered callbacks. All
// shared state lives behind one mutex; updates under the lock are
// pure assignment, never I/O.
package vehicle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/wildtrack/groundlink/internal/queue"
	"github.com/wildtrack/groundlink/pkg/core"
)

const (
	heartbeatInterval = 1 * time.Second
	heartbeatWait     = 10 * time.Second

	telemetryInterval   = 100 * time.Millisecond
	staleTelemetryAfter = 10 * time.Second

	snapshotPollInterval = 200 * time.Millisecond
	workerJoinTimeout    = 5 * time.Second

	statusHistoryLen = 50
)

// WaypointStore persists per-site waypoint visit state. The link calls
// it on connect (load) and on each detected visit (record); it never
// sees file formats.
type WaypointStore interface {
	VisitedWaypoints(site string, vehicleID int) (map[int]bool, error)
	RecordVisit(site string, vehicleID int, seq int) error
	ResetVisits(site string, vehicleID int) error
}

// TelemetryCallback receives one snapshot copy per capture cycle.
type TelemetryCallback func(core.TelemetrySnapshot)

// Config describes one vehicle endpoint.
type Config struct {
	Kind     core.VehicleKind
	SystemID int
	Address  string
	Server   bool
	Site     string
}

type inboundMsg struct {
	msg      message.Message
	systemID byte
}

// Link owns one vehicle's protocol session. It is the sole writer of
// that vehicle's telemetry and mission state and the only component
// that issues protocol commands to it.
type Link struct {
	cfg   Config
	log   *slog.Logger
	store WaypointStore

	// dialFn is swappable for tests.
	dialFn func(Config) (transport, error)

	mu              sync.RWMutex
	tr              transport
	connected       bool
	targetSystem    byte
	targetComponent byte

	snap               core.TelemetrySnapshot
	waypoints          map[int]core.Waypoint
	visited            map[int]bool
	candidates         map[int]time.Time
	autopilotSeq       int
	lastSurveyWaypoint int
	surveyComplete     bool
	navDistAuthority   bool
	lastAck            map[common.MAV_CMD]common.MAV_RESULT
	missionActive      bool

	status *queue.Bounded[core.StatusMessage]

	// missionMu serializes mission transfers; missionCh carries the
	// handshake messages forwarded by the listener while one is active.
	missionMu sync.Mutex
	missionCh chan message.Message

	inbound chan inboundMsg

	cbMu      sync.RWMutex
	callbacks []TelemetryCallback

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an unconnected link. store may be nil when visit
// persistence is not wanted (e.g. the operator console).
func New(cfg Config, store WaypointStore, log *slog.Logger) *Link {
	return &Link{
		cfg:                cfg,
		log:                log,
		store:              store,
		dialFn:             dial,
		waypoints:          make(map[int]core.Waypoint),
		visited:            make(map[int]bool),
		candidates:         make(map[int]time.Time),
		autopilotSeq:       -1,
		lastSurveyWaypoint: -1,
		lastAck:            make(map[common.MAV_CMD]common.MAV_RESULT),
		status:             queue.NewBounded[core.StatusMessage](statusHistoryLen),
		missionCh:          make(chan message.Message, 64),
	}
}

// Connect opens the transport, blocks until the vehicle's first
// heartbeat, fetches the stored mission, then starts the heartbeat
// sender, message listener and telemetry pump.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.connected {
		l.mu.Unlock()
		l.log.Info("already connected", "vehicle", l.cfg.Kind)
		return nil
	}
	l.mu.Unlock()

	tr, err := l.dialFn(l.cfg)
	if err != nil {
		return err
	}

	// One pump goroutine owns Receive for the life of the session.
	// The heartbeat wait, the initial mission fetch and later the
	// listener all consume from the same channel, so the wire never
	// has two readers.
	inbound := make(chan inboundMsg, 256)
	go func() {
		for {
			msg, systemID, ok := tr.Receive()
			if !ok {
				close(inbound)
				return
			}
			inbound <- inboundMsg{msg: msg, systemID: systemID}
		}
	}()

	hb, err := awaitHeartbeat(ctx, inbound, byte(l.cfg.SystemID))
	if err != nil {
		tr.Close()
		return fmt.Errorf("no heartbeat from %s within %s: %w", l.cfg.Kind, heartbeatWait, err)
	}

	l.mu.Lock()
	l.tr = tr
	l.inbound = inbound
	l.targetSystem = byte(l.cfg.SystemID)
	l.targetComponent = 1
	l.applyHeartbeatLocked(hb, time.Now())
	l.mu.Unlock()

	// The vehicle may legitimately carry no mission yet; a failed
	// fetch degrades to an empty waypoint set.
	if err := l.fetchMission(ctx, l.channelSource()); err != nil {
		l.log.Warn("initial mission fetch failed", "vehicle", l.cfg.Kind, "error", err)
	}

	l.loadVisitedState()

	l.mu.Lock()
	l.connected = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(3)
	go l.heartbeatLoop()
	go l.listen()
	go l.telemetryPump()

	l.log.Info("vehicle connected",
		"vehicle", l.cfg.Kind, "systemId", l.cfg.SystemID, "address", l.cfg.Address)
	return nil
}

// awaitHeartbeat blocks until a heartbeat from the expected system
// arrives or the wait bound expires.
func awaitHeartbeat(ctx context.Context, inbound <-chan inboundMsg, systemID byte) (*common.MessageHeartbeat, error) {
	deadline := time.NewTimer(heartbeatWait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrLinkTimeout
		case in, ok := <-inbound:
			if !ok {
				return nil, ErrNotConnected
			}
			if in.systemID != systemID {
				continue
			}
			if hb, ok := in.msg.(*common.MessageHeartbeat); ok {
				return hb, nil
			}
		}
	}
}

// Disconnect signals the workers to stop, joins them with a bounded
// timeout and closes the transport. Disconnecting an unconnected link
// is a no-op.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		l.log.Info("disconnect requested while not connected", "vehicle", l.cfg.Kind)
		return nil
	}
	l.connected = false
	tr := l.tr
	close(l.stopCh)
	l.mu.Unlock()

	// Closing the transport unblocks the pump, which ends the listener.
	tr.Close()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(workerJoinTimeout):
		l.log.Warn("link workers did not stop in time", "vehicle", l.cfg.Kind)
	}

	l.log.Info("vehicle disconnected", "vehicle", l.cfg.Kind)
	return nil
}

// heartbeatLoop emits a ground-station heartbeat once per second for
// as long as the link is open.
func (l *Link) heartbeatLoop() {
	defer l.wg.Done()

	tick := time.NewTicker(heartbeatInterval)
	defer tick.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-tick.C:
			err := l.write(&common.MessageHeartbeat{
				Type:           common.MAV_TYPE_GCS,
				Autopilot:      common.MAV_AUTOPILOT_INVALID,
				SystemStatus:   common.MAV_STATE_ACTIVE,
				MavlinkVersion: 3,
			})
			if err != nil {
				l.log.Debug("heartbeat send failed", "vehicle", l.cfg.Kind, "error", err)
			}
		}
	}
}

// listen is the blocking receive loop; it classifies every inbound
// message and updates the snapshot under the lock.
func (l *Link) listen() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopCh:
			return
		case in, ok := <-l.inbound:
			if !ok {
				return
			}
			if in.systemID != l.targetSystem {
				continue
			}
			l.handleMessage(in.msg, time.Now())
		}
	}
}

// telemetryPump invokes registered callbacks with a snapshot copy at
// 10 Hz. Snapshots whose heartbeat has gone stale are suppressed
// rather than forwarded.
func (l *Link) telemetryPump() {
	defer l.wg.Done()

	tick := time.NewTicker(telemetryInterval)
	defer tick.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-tick.C:
			snap := l.Telemetry()
			if snap.LastHeartbeat.IsZero() || time.Since(snap.LastHeartbeat) > staleTelemetryAfter {
				continue
			}

			l.cbMu.RLock()
			callbacks := l.callbacks
			l.cbMu.RUnlock()
			for _, cb := range callbacks {
				cb(snap)
			}
		}
	}
}

// RegisterTelemetryCallback adds a per-cycle snapshot consumer.
func (l *Link) RegisterTelemetryCallback(cb TelemetryCallback) {
	l.cbMu.Lock()
	l.callbacks = append(l.callbacks, cb)
	l.cbMu.Unlock()
}

func (l *Link) write(msg message.Message) error {
	l.mu.RLock()
	tr := l.tr
	l.mu.RUnlock()
	if tr == nil {
		return ErrNotConnected
	}
	return tr.WriteMessage(msg)
}

// awaitSnapshot polls the shared snapshot until cond holds or the
// bound expires. Commands confirm through this rather than blocking
// on wire messages, preserving the single-reader invariant.
func (l *Link) awaitSnapshot(ctx context.Context, timeout time.Duration, cond func(core.TelemetrySnapshot) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(snapshotPollInterval)
	defer tick.Stop()

	for {
		if cond(l.Telemetry()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}

// Kind returns the vehicle kind this link talks to.
func (l *Link) Kind() core.VehicleKind { return l.cfg.Kind }

// SystemID returns the vehicle's MAVLink system id.
func (l *Link) SystemID() int { return l.cfg.SystemID }

// Site returns the persistence site key.
func (l *Link) Site() string { return l.cfg.Site }

// Connected reports whether the session is open.
func (l *Link) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// Telemetry returns a copy of the live snapshot.
func (l *Link) Telemetry() core.TelemetrySnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// SurveyComplete reports whether the recorded last survey waypoint has
// been reached. This is the only authoritative completion signal.
func (l *Link) SurveyComplete() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.surveyComplete
}

// StatusMessages returns the most recent autopilot status texts,
// oldest first.
func (l *Link) StatusMessages() []core.StatusMessage {
	return l.status.Snapshot()
}
