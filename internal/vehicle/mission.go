package vehicle

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/wildtrack/groundlink/pkg/core"
)

const (
	missionItemTimeout   = 5 * time.Second
	uploadRequestTimeout = 10 * time.Second
	missionAckTimeout    = 10 * time.Second
)

// msgSource yields the next inbound message relevant to a mission
// transfer, bounded by timeout.
type msgSource func(ctx context.Context, timeout time.Duration) (message.Message, error)

// channelSource reads the raw inbound stream. Valid only before the
// listener worker starts; afterwards the listener owns that channel.
func (l *Link) channelSource() msgSource {
	return func(ctx context.Context, timeout time.Duration) (message.Message, error) {
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-deadline.C:
				return nil, ErrLinkTimeout
			case in, ok := <-l.inbound:
				if !ok {
					return nil, ErrNotConnected
				}
				if in.systemID != byte(l.cfg.SystemID) {
					continue
				}
				return in.msg, nil
			}
		}
	}
}

// missionSource reads handshake messages the listener forwards while a
// transfer is active.
func (l *Link) missionSource() msgSource {
	return func(ctx context.Context, timeout time.Duration) (message.Message, error) {
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrLinkTimeout
		case msg, ok := <-l.missionCh:
			if !ok {
				return nil, ErrNotConnected
			}
			return msg, nil
		}
	}
}

// beginTransfer marks a mission transfer active and discards any stale
// messages from a previous one. Callers hold missionMu.
func (l *Link) beginTransfer() {
	l.mu.Lock()
	l.missionActive = true
	l.mu.Unlock()

	for {
		select {
		case <-l.missionCh:
		default:
			return
		}
	}
}

func (l *Link) endTransfer() {
	l.mu.Lock()
	l.missionActive = false
	l.mu.Unlock()
}

func (l *Link) target() (byte, byte) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.targetSystem, l.targetComponent
}

// fetchMission downloads the stored mission and replaces the waypoint
// cache. The cache is only touched once the full download succeeded.
func (l *Link) fetchMission(ctx context.Context, src msgSource) error {
	sys, comp := l.target()

	err := l.write(&common.MessageMissionRequestList{
		TargetSystem:    sys,
		TargetComponent: comp,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})
	if err != nil {
		return fmt.Errorf("requesting mission list: %w", err)
	}

	count := -1
	for count < 0 {
		msg, err := src(ctx, missionAckTimeout)
		if err != nil {
			return fmt.Errorf("waiting for mission count: %w", err)
		}
		if m, ok := msg.(*common.MessageMissionCount); ok {
			count = int(m.Count)
		}
	}

	items := make(map[int]core.Waypoint, count)
	for seq := 0; seq < count; seq++ {
		err := l.write(&common.MessageMissionRequestInt{
			TargetSystem:    sys,
			TargetComponent: comp,
			Seq:             uint16(seq),
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		})
		if err != nil {
			return fmt.Errorf("requesting mission item %d: %w", seq, err)
		}

		for {
			msg, err := src(ctx, missionItemTimeout)
			if err != nil {
				return fmt.Errorf("waiting for mission item %d: %w", seq, err)
			}
			m, ok := msg.(*common.MessageMissionItemInt)
			if !ok {
				continue
			}
			if int(m.Seq) != seq {
				return fmt.Errorf("mission item out of order, want %d got %d: %w",
					seq, m.Seq, ErrProtocolViolation)
			}
			items[seq] = waypointFromItem(m)
			break
		}
	}

	err = l.write(&common.MessageMissionAck{
		TargetSystem:    sys,
		TargetComponent: comp,
		Type:            common.MAV_MISSION_ACCEPTED,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})
	if err != nil {
		return fmt.Errorf("acknowledging mission download: %w", err)
	}

	l.mu.Lock()
	l.waypoints = items
	l.candidates = make(map[int]time.Time)
	for seq := range l.visited {
		if _, ok := items[seq]; !ok {
			delete(l.visited, seq)
		}
	}
	l.recomputePointersLocked()
	l.mu.Unlock()

	l.log.Info("mission fetched", "vehicle", l.cfg.Kind, "items", count)
	return nil
}

// DownloadMission re-reads the vehicle's stored mission over the open
// link and returns the refreshed waypoint cache.
func (l *Link) DownloadMission(ctx context.Context) ([]core.Waypoint, error) {
	if !l.Connected() {
		return nil, ErrNotConnected
	}

	l.missionMu.Lock()
	defer l.missionMu.Unlock()
	l.beginTransfer()
	defer l.endTransfer()

	if err := l.fetchMission(ctx, l.missionSource()); err != nil {
		return nil, err
	}
	return l.Waypoints(), nil
}

// ClearMission removes the vehicle's stored mission and empties the
// local mission state.
func (l *Link) ClearMission(ctx context.Context) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	l.missionMu.Lock()
	defer l.missionMu.Unlock()
	l.beginTransfer()
	defer l.endTransfer()

	if err := l.clearTransfer(ctx, l.missionSource()); err != nil {
		return err
	}

	l.mu.Lock()
	l.waypoints = make(map[int]core.Waypoint)
	l.visited = make(map[int]bool)
	l.candidates = make(map[int]time.Time)
	l.autopilotSeq = -1
	l.lastSurveyWaypoint = -1
	l.surveyComplete = false
	l.recomputePointersLocked()
	l.mu.Unlock()

	l.log.Info("mission cleared", "vehicle", l.cfg.Kind)
	return nil
}

func (l *Link) clearTransfer(ctx context.Context, src msgSource) error {
	sys, comp := l.target()

	err := l.write(&common.MessageMissionClearAll{
		TargetSystem:    sys,
		TargetComponent: comp,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})
	if err != nil {
		return fmt.Errorf("clearing mission: %w", err)
	}

	for {
		msg, err := src(ctx, missionAckTimeout)
		if err != nil {
			return fmt.Errorf("waiting for clear ack: %w", err)
		}
		ack, ok := msg.(*common.MessageMissionAck)
		if !ok {
			continue
		}
		if ack.Type != common.MAV_MISSION_ACCEPTED {
			return fmt.Errorf("mission clear rejected with %v: %w", ack.Type, ErrProtocolViolation)
		}
		return nil
	}
}

// UploadMission replaces the vehicle's stored mission with wps via the
// request-driven handshake: the autopilot asks for each item in strict
// sequence order and we answer. Any out-of-order request or rejection
// aborts the upload with the local state untouched.
func (l *Link) UploadMission(ctx context.Context, wps []core.Waypoint) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	if len(wps) == 0 {
		return fmt.Errorf("empty mission: %w", ErrPrecondition)
	}

	l.missionMu.Lock()
	defer l.missionMu.Unlock()
	l.beginTransfer()
	defer l.endTransfer()

	src := l.missionSource()
	sys, comp := l.target()

	if err := l.clearTransfer(ctx, src); err != nil {
		return err
	}

	err := l.write(&common.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(len(wps)),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})
	if err != nil {
		return fmt.Errorf("sending mission count: %w", err)
	}

	next := 0
	for next < len(wps) {
		msg, err := src(ctx, uploadRequestTimeout)
		if err != nil {
			return fmt.Errorf("waiting for item request %d: %w", next, err)
		}
		seq, ok := requestedSeq(msg)
		if !ok {
			continue
		}
		if seq != next {
			return fmt.Errorf("item request out of order, want %d got %d: %w",
				next, seq, ErrProtocolViolation)
		}
		if err := l.write(itemFromWaypoint(wps[seq], seq, sys, comp)); err != nil {
			return fmt.Errorf("sending mission item %d: %w", seq, err)
		}
		next++
	}

	for {
		msg, err := src(ctx, missionAckTimeout)
		if err != nil {
			return fmt.Errorf("waiting for upload ack: %w", err)
		}
		ack, ok := msg.(*common.MessageMissionAck)
		if !ok {
			continue
		}
		if ack.Type != common.MAV_MISSION_ACCEPTED {
			return fmt.Errorf("mission upload rejected with %v: %w", ack.Type, ErrProtocolViolation)
		}
		break
	}

	// The vehicle now holds the new mission; re-fetch it so the local
	// cache reflects what the autopilot actually stored.
	if err := l.fetchMission(ctx, src); err != nil {
		return fmt.Errorf("refreshing mission after upload: %w", err)
	}

	l.mu.Lock()
	l.visited = make(map[int]bool)
	l.candidates = make(map[int]time.Time)
	l.autopilotSeq = -1
	l.surveyComplete = false
	l.lastSurveyWaypoint = lastSurveySeq(wps)
	l.recomputePointersLocked()
	l.mu.Unlock()

	l.log.Info("mission uploaded", "vehicle", l.cfg.Kind, "items", len(wps))
	return nil
}

// requestedSeq extracts the item index from either request form.
func requestedSeq(msg message.Message) (int, bool) {
	switch m := msg.(type) {
	case *common.MessageMissionRequest:
		return int(m.Seq), true
	case *common.MessageMissionRequestInt:
		return int(m.Seq), true
	}
	return 0, false
}

// lastSurveySeq returns the final sequence that is part of the survey
// pattern proper, excluding any trailing return or landing items.
func lastSurveySeq(wps []core.Waypoint) int {
	last := -1
	for i, wp := range wps {
		cmd := common.MAV_CMD(wp.Command)
		if cmd == common.MAV_CMD_NAV_RETURN_TO_LAUNCH || cmd == common.MAV_CMD_NAV_LAND {
			break
		}
		last = i
	}
	return last
}

func waypointFromItem(m *common.MessageMissionItemInt) core.Waypoint {
	return core.Waypoint{
		Seq:     int(m.Seq),
		Lat:     float64(m.X) / 1e7,
		Lon:     float64(m.Y) / 1e7,
		Alt:     float64(m.Z),
		Command: uint16(m.Command),
		Param1:  float64(m.Param1),
		Param2:  float64(m.Param2),
		Param3:  float64(m.Param3),
		Param4:  float64(m.Param4),
	}
}

func itemFromWaypoint(wp core.Waypoint, seq int, sys, comp byte) *common.MessageMissionItemInt {
	var current uint8
	if seq == 0 {
		current = 1
	}
	return &common.MessageMissionItemInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		Seq:             uint16(seq),
		Frame:           common.MAV_FRAME_GLOBAL_RELATIVE_ALT,
		Command:         common.MAV_CMD(wp.Command),
		Current:         current,
		Autocontinue:    1,
		Param1:          float32(wp.Param1),
		Param2:          float32(wp.Param2),
		Param3:          float32(wp.Param3),
		Param4:          float32(wp.Param4),
		X:               int32(wp.Lat * 1e7),
		Y:               int32(wp.Lon * 1e7),
		Z:               float32(wp.Alt),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
}
