package vehicle

import (
	"math"
	"sort"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/wildtrack/groundlink/internal/geo"
	"github.com/wildtrack/groundlink/pkg/core"
)

const (
	// A waypoint is considered visited once the vehicle has stayed
	// within visitThresholdM of it for visitConfirmDelay. The delay
	// debounces GPS jitter false positives.
	visitThresholdM   = 3.0
	visitConfirmDelay = 2 * time.Second
)

// handleMessage classifies one inbound message and applies it to the
// shared state. Called only by the listener worker.
func (l *Link) handleMessage(msg message.Message, now time.Time) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		l.mu.Lock()
		l.applyHeartbeatLocked(m, now)
		l.mu.Unlock()

	case *common.MessageGlobalPositionInt:
		newlyVisited := l.applyPosition(m, now)
		for _, seq := range newlyVisited {
			l.log.Info("waypoint visited", "vehicle", l.cfg.Kind, "seq", seq)
			l.persistVisit(seq)
		}

	case *common.MessageSysStatus:
		l.mu.Lock()
		l.snap.BatteryVoltage = float64(m.VoltageBattery) / 1000.0
		l.snap.BatteryRemaining = int(m.BatteryRemaining)
		l.mu.Unlock()

	case *common.MessageVfrHud:
		l.mu.Lock()
		l.snap.GroundSpeed = float64(m.Groundspeed)
		l.mu.Unlock()

	case *common.MessageMissionCurrent:
		l.mu.Lock()
		l.autopilotSeq = int(m.Seq)
		l.updateProgressLocked()
		l.mu.Unlock()

	case *common.MessageNavControllerOutput:
		l.mu.Lock()
		l.snap.DistanceToWaypoint = float64(m.WpDist)
		l.navDistAuthority = true
		l.mu.Unlock()

	case *common.MessageMissionItemReached:
		l.mu.Lock()
		if l.lastSurveyWaypoint >= 0 && int(m.Seq) >= l.lastSurveyWaypoint && !l.surveyComplete {
			l.surveyComplete = true
			l.log.Info("survey mission complete", "vehicle", l.cfg.Kind, "seq", m.Seq)
		}
		l.mu.Unlock()

	case *common.MessageCommandAck:
		l.mu.Lock()
		l.lastAck[m.Command] = m.Result
		l.mu.Unlock()

	case *common.MessageStatustext:
		l.status.Push(core.StatusMessage{
			Severity: uint8(m.Severity),
			Text:     m.Text,
			At:       now,
		})

	case *common.MessageMissionCount,
		*common.MessageMissionItemInt,
		*common.MessageMissionRequest,
		*common.MessageMissionRequestInt,
		*common.MessageMissionAck:
		l.forwardMissionMessage(msg)
	}
}

func (l *Link) applyHeartbeatLocked(m *common.MessageHeartbeat, now time.Time) {
	l.snap.LastHeartbeat = now
	l.snap.Armed = m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
	l.snap.CustomMode = m.CustomMode
	l.snap.CustomModeEnabled = m.BaseMode&common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED != 0
	l.snap.BaseMode = uint8(m.BaseMode)
	l.snap.SystemStatus = uint8(m.SystemStatus)
}

// applyPosition updates the position fields and runs waypoint-visit
// detection. It returns the sequences newly confirmed visited so the
// caller can persist them outside the lock.
func (l *Link) applyPosition(m *common.MessageGlobalPositionInt, now time.Time) []int {
	lat := float64(m.Lat) / 1e7
	lon := float64(m.Lon) / 1e7

	l.mu.Lock()
	defer l.mu.Unlock()

	l.snap.HasPosition = true
	l.snap.Lat = lat
	l.snap.Lon = lon
	l.snap.AltMSL = float64(m.Alt) / 1000.0
	l.snap.RelativeAlt = float64(m.RelativeAlt) / 1000.0
	l.snap.Vx = float64(m.Vx) / 100.0
	l.snap.Vy = float64(m.Vy) / 100.0
	l.snap.Vz = float64(m.Vz) / 100.0
	if m.Hdg == math.MaxUint16 {
		l.snap.Heading = -1
	} else {
		l.snap.Heading = float64(m.Hdg) / 100.0
	}

	newlyVisited := l.detectVisitsLocked(lat, lon, now)
	l.updateAdvisoryDistanceLocked(lat, lon)
	return newlyVisited
}

// detectVisitsLocked implements the debounced visit check: a waypoint
// becomes a candidate when the vehicle first enters the threshold and
// is confirmed only after staying inside it for the full delay.
func (l *Link) detectVisitsLocked(lat, lon float64, now time.Time) []int {
	var newlyVisited []int

	for seq, wp := range l.waypoints {
		if l.visited[seq] {
			continue
		}

		d := geo.Haversine(lat, lon, wp.Lat, wp.Lon)
		if d > visitThresholdM {
			delete(l.candidates, seq)
			continue
		}

		since, isCandidate := l.candidates[seq]
		if !isCandidate {
			l.candidates[seq] = now
			continue
		}
		if now.Sub(since) >= visitConfirmDelay {
			l.visited[seq] = true
			delete(l.candidates, seq)
			newlyVisited = append(newlyVisited, seq)
		}
	}

	if len(newlyVisited) > 0 {
		l.recomputePointersLocked()
	}
	return newlyVisited
}

// recomputePointersLocked maintains the invariant that the current
// waypoint is the lowest unvisited sequence, or the last sequence if
// all are visited.
func (l *Link) recomputePointersLocked() {
	seqs := l.sortedSeqsLocked()
	l.snap.TotalWaypoints = len(seqs)
	if len(seqs) == 0 {
		l.snap.CurrentWaypoint = 0
		l.snap.NextWaypoint = 0
		return
	}

	current := seqs[len(seqs)-1]
	for _, seq := range seqs {
		if !l.visited[seq] {
			current = seq
			break
		}
	}

	next := current
	for _, seq := range seqs {
		if seq > current && !l.visited[seq] {
			next = seq
			break
		}
	}

	l.snap.CurrentWaypoint = current
	l.snap.NextWaypoint = next
}

func (l *Link) sortedSeqsLocked() []int {
	seqs := make([]int, 0, len(l.waypoints))
	for seq := range l.waypoints {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}

// updateAdvisoryDistanceLocked recomputes the distance-to-waypoint
// fallback from each position sample. The autopilot's own figure,
// once seen, takes priority. Advisory only.
func (l *Link) updateAdvisoryDistanceLocked(lat, lon float64) {
	if l.navDistAuthority {
		return
	}
	wp, ok := l.waypoints[l.snap.CurrentWaypoint]
	if !ok {
		return
	}
	l.snap.DistanceToWaypoint = geo.Haversine(lat, lon, wp.Lat, wp.Lon)
}

// updateProgressLocked derives the advisory mission progress
// percentage from the autopilot's current sequence.
func (l *Link) updateProgressLocked() {
	total := len(l.waypoints)
	switch {
	case total == 0 || l.autopilotSeq < 0:
		l.snap.MissionProgress = 0
	case total == 1 || l.autopilotSeq >= total-1:
		l.snap.MissionProgress = 100
	default:
		l.snap.MissionProgress = float64(l.autopilotSeq) / float64(total-1) * 100
	}
}

// persistVisit records a confirmed visit with the waypoint store.
// Only ground vehicles carry a persistent visited set.
func (l *Link) persistVisit(seq int) {
	if l.cfg.Kind != core.KindCar || l.store == nil {
		return
	}
	if err := l.store.RecordVisit(l.cfg.Site, l.cfg.SystemID, seq); err != nil {
		l.log.Error("failed to persist waypoint visit",
			"vehicle", l.cfg.Kind, "seq", seq, "error", err)
	}
}

// loadVisitedState seeds the visited set from the waypoint store,
// keeping only sequences that exist in the fetched mission.
func (l *Link) loadVisitedState() {
	if l.store == nil {
		return
	}

	stored, err := l.store.VisitedWaypoints(l.cfg.Site, l.cfg.SystemID)
	if err != nil {
		l.log.Warn("failed to load visited waypoints", "vehicle", l.cfg.Kind, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for seq := range stored {
		if _, ok := l.waypoints[seq]; ok {
			l.visited[seq] = true
		}
	}
	l.recomputePointersLocked()
}

// forwardMissionMessage hands a mission-transfer message to the active
// transfer, if any. Messages outside a transfer are dropped.
func (l *Link) forwardMissionMessage(msg message.Message) {
	l.mu.RLock()
	active := l.missionActive
	l.mu.RUnlock()
	if !active {
		return
	}

	select {
	case l.missionCh <- msg:
	default:
		l.log.Warn("mission message dropped, transfer queue full", "vehicle", l.cfg.Kind)
	}
}

// Waypoints returns the mission waypoints in sequence order.
func (l *Link) Waypoints() []core.Waypoint {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]core.Waypoint, 0, len(l.waypoints))
	for _, seq := range l.sortedSeqsLocked() {
		out = append(out, l.waypoints[seq])
	}
	return out
}

// VisitedWaypoints returns the visited sequence set.
func (l *Link) VisitedWaypoints() map[int]bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[int]bool, len(l.visited))
	for seq, v := range l.visited {
		if v {
			out[seq] = true
		}
	}
	return out
}

// AdvanceWaypoint manually marks the current waypoint visited, moving
// the mission pointer forward. Used by the operator to skip a site.
func (l *Link) AdvanceWaypoint() (int, error) {
	l.mu.Lock()
	if len(l.waypoints) == 0 {
		l.mu.Unlock()
		return 0, ErrDataUnavailable
	}
	seq := l.snap.CurrentWaypoint
	l.visited[seq] = true
	delete(l.candidates, seq)
	l.recomputePointersLocked()
	l.mu.Unlock()

	l.persistVisit(seq)
	return seq, nil
}

// ResetMissionProgress clears the visited set, the completion flag and
// the stored visit state, restarting the mission pointer at the first
// waypoint.
func (l *Link) ResetMissionProgress() error {
	l.mu.Lock()
	l.visited = make(map[int]bool)
	l.candidates = make(map[int]time.Time)
	l.surveyComplete = false
	l.recomputePointersLocked()
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	return l.store.ResetVisits(l.cfg.Site, l.cfg.SystemID)
}
