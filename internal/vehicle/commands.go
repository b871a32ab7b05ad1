package vehicle

import (
	"context"
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/wildtrack/groundlink/pkg/core"
)

const (
	setModeTimeout = 15 * time.Second
	armTimeout     = 10 * time.Second
	disarmTimeout  = 5 * time.Second
	takeoffTimeout = 30 * time.Second
	ackTimeout     = 10 * time.Second

	// Takeoff is confirmed once the relative altitude reaches this
	// fraction of the requested one.
	takeoffAltFraction = 0.95

	// positionTargetMask enables only the position fields of a
	// SET_POSITION_TARGET message.
	positionTargetMask = 0x0DF8
)

// sendCommandLong issues one COMMAND_LONG, discarding any stale ack
// for the same command first.
func (l *Link) sendCommandLong(cmd common.MAV_CMD, params [7]float32) error {
	sys, comp := l.target()

	l.mu.Lock()
	delete(l.lastAck, cmd)
	l.mu.Unlock()

	return l.write(&common.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         cmd,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	})
}

// awaitAck polls for the command's ack until the bound expires.
func (l *Link) awaitAck(ctx context.Context, timeout time.Duration, cmd common.MAV_CMD) (common.MAV_RESULT, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(snapshotPollInterval)
	defer tick.Stop()

	for {
		l.mu.RLock()
		result, ok := l.lastAck[cmd]
		l.mu.RUnlock()
		if ok {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, fmt.Errorf("no ack for %v: %w", cmd, ErrLinkTimeout)
		case <-tick.C:
		}
	}
}

// SetMode switches the vehicle's flight mode and blocks until the
// heartbeat confirms the change.
func (l *Link) SetMode(ctx context.Context, mode FlightMode) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	snap := l.Telemetry()
	if snap.CustomModeEnabled && snap.CustomMode == uint32(mode) {
		return nil
	}

	err := l.sendCommandLong(common.MAV_CMD_DO_SET_MODE, [7]float32{
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		float32(mode),
	})
	if err != nil {
		return fmt.Errorf("setting mode %s: %w", mode, err)
	}

	confirmed := l.awaitSnapshot(ctx, setModeTimeout, func(s core.TelemetrySnapshot) bool {
		return s.CustomModeEnabled && s.CustomMode == uint32(mode)
	})
	if !confirmed {
		snap = l.Telemetry()
		return fmt.Errorf("mode %s not confirmed, vehicle reports %s (armed=%v): %w",
			mode, FlightMode(snap.CustomMode), snap.Armed, ErrLinkTimeout)
	}

	l.log.Info("flight mode set", "vehicle", l.cfg.Kind, "mode", mode.String())
	return nil
}

// Arm arms the vehicle, auto-switching to GUIDED once if the current
// mode refuses arming. Arming an armed vehicle is a no-op.
func (l *Link) Arm(ctx context.Context) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	snap := l.Telemetry()
	if snap.Armed {
		return nil
	}

	if !snap.CustomModeEnabled || FlightMode(snap.CustomMode) != ModeGuided {
		if err := l.SetMode(ctx, ModeGuided); err != nil {
			return fmt.Errorf("switching to GUIDED before arming: %w", ErrPrecondition)
		}
	}

	if err := l.sendCommandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{1}); err != nil {
		return fmt.Errorf("arming: %w", err)
	}

	armed := l.awaitSnapshot(ctx, armTimeout, func(s core.TelemetrySnapshot) bool {
		return s.Armed
	})
	if !armed {
		if result, ok := l.ackFor(common.MAV_CMD_COMPONENT_ARM_DISARM); ok && result != common.MAV_RESULT_ACCEPTED {
			return fmt.Errorf("arm rejected with %v: %w", result, ErrPrecondition)
		}
		return fmt.Errorf("arm not confirmed: %w", ErrLinkTimeout)
	}

	l.log.Info("vehicle armed", "vehicle", l.cfg.Kind)
	return nil
}

// Disarm disarms the vehicle. Disarming a disarmed vehicle is a no-op.
func (l *Link) Disarm(ctx context.Context) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	if !l.Telemetry().Armed {
		return nil
	}

	if err := l.sendCommandLong(common.MAV_CMD_COMPONENT_ARM_DISARM, [7]float32{0}); err != nil {
		return fmt.Errorf("disarming: %w", err)
	}

	disarmed := l.awaitSnapshot(ctx, disarmTimeout, func(s core.TelemetrySnapshot) bool {
		return !s.Armed
	})
	if !disarmed {
		return fmt.Errorf("disarm not confirmed: %w", ErrLinkTimeout)
	}

	l.log.Info("vehicle disarmed", "vehicle", l.cfg.Kind)
	return nil
}

// Takeoff commands a climb to alt metres above home and blocks until
// the vehicle reports most of that altitude.
func (l *Link) Takeoff(ctx context.Context, alt float64) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	if !l.Telemetry().Armed {
		return fmt.Errorf("takeoff while disarmed: %w", ErrPrecondition)
	}

	err := l.sendCommandLong(common.MAV_CMD_NAV_TAKEOFF, [7]float32{
		0, 0, 0, 0, 0, 0, float32(alt),
	})
	if err != nil {
		return fmt.Errorf("takeoff: %w", err)
	}

	reached := l.awaitSnapshot(ctx, takeoffTimeout, func(s core.TelemetrySnapshot) bool {
		return s.RelativeAlt >= alt*takeoffAltFraction
	})
	if !reached {
		snap := l.Telemetry()
		return fmt.Errorf("takeoff to %.1fm not confirmed, at %.1fm: %w",
			alt, snap.RelativeAlt, ErrLinkTimeout)
	}

	l.log.Info("takeoff complete", "vehicle", l.cfg.Kind, "altitude", alt)
	return nil
}

// GoTo streams a guided position target. No confirmation is expected;
// the vehicle simply flies toward the target while in GUIDED.
func (l *Link) GoTo(lat, lon, alt float64) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	sys, comp := l.target()
	return l.write(&common.MessageSetPositionTargetGlobalInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		TypeMask:        positionTargetMask,
		LatInt:          int32(lat * 1e7),
		LonInt:          int32(lon * 1e7),
		Alt:             float32(alt),
	})
}

// StartMission tells the autopilot to begin executing the stored
// mission from its first item.
func (l *Link) StartMission(ctx context.Context) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	if err := l.sendCommandLong(common.MAV_CMD_MISSION_START, [7]float32{}); err != nil {
		return fmt.Errorf("starting mission: %w", err)
	}

	result, err := l.awaitAck(ctx, ackTimeout, common.MAV_CMD_MISSION_START)
	if err != nil {
		return err
	}
	if result != common.MAV_RESULT_ACCEPTED {
		return fmt.Errorf("mission start rejected with %v: %w", result, ErrPrecondition)
	}

	l.log.Info("mission started", "vehicle", l.cfg.Kind)
	return nil
}

// SetHome moves the vehicle's home position to the given coordinates.
func (l *Link) SetHome(ctx context.Context, lat, lon, alt float64) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	err := l.sendCommandLong(common.MAV_CMD_DO_SET_HOME, [7]float32{
		0, 0, 0, 0, float32(lat), float32(lon), float32(alt),
	})
	if err != nil {
		return fmt.Errorf("setting home: %w", err)
	}

	result, err := l.awaitAck(ctx, ackTimeout, common.MAV_CMD_DO_SET_HOME)
	if err != nil {
		return err
	}
	if result != common.MAV_RESULT_ACCEPTED {
		return fmt.Errorf("set home rejected with %v: %w", result, ErrPrecondition)
	}

	l.log.Info("home position set", "vehicle", l.cfg.Kind, "lat", lat, "lon", lon)
	return nil
}

// PauseMission asks the autopilot to hold in place mid-mission,
// falling back to LOITER when the command is unsupported.
func (l *Link) PauseMission(ctx context.Context) error {
	if !l.Connected() {
		return ErrNotConnected
	}

	if err := l.sendCommandLong(common.MAV_CMD_DO_PAUSE_CONTINUE, [7]float32{0}); err != nil {
		return fmt.Errorf("pausing mission: %w", err)
	}

	result, err := l.awaitAck(ctx, ackTimeout, common.MAV_CMD_DO_PAUSE_CONTINUE)
	if err == nil && result == common.MAV_RESULT_ACCEPTED {
		l.log.Info("mission paused", "vehicle", l.cfg.Kind)
		return nil
	}

	l.log.Warn("pause command not accepted, falling back to LOITER", "vehicle", l.cfg.Kind)
	return l.SetMode(ctx, ModeLoiter)
}

func (l *Link) ackFor(cmd common.MAV_CMD) (common.MAV_RESULT, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result, ok := l.lastAck[cmd]
	return result, ok
}
