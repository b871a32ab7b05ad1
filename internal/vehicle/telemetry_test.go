package vehicle

import (
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildtrack/groundlink/pkg/core"
)

func TestVisitRequiresDwellTime(t *testing.T) {
	l := testLink(newFakeStore())
	setMission(l, core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.9})

	// First sample inside the threshold only opens a candidate.
	visited := l.applyPosition(positionMsg(0.0, 36.9), testEpoch)
	assert.Empty(t, visited)
	assert.Empty(t, l.VisitedWaypoints())

	// Still inside after the confirmation delay: visited.
	visited = l.applyPosition(positionMsg(0.0, 36.9), testEpoch.Add(visitConfirmDelay))
	require.Equal(t, []int{0}, visited)
	assert.True(t, l.VisitedWaypoints()[0])
}

func TestVisitCandidateResetsOnExit(t *testing.T) {
	l := testLink(newFakeStore())
	setMission(l, core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.9})

	l.applyPosition(positionMsg(0.0, 36.9), testEpoch)

	// Leaving the threshold discards the candidate; coming back
	// restarts the dwell clock.
	far := 0.0 + 100.0/111320.0
	l.applyPosition(positionMsg(far, 36.9), testEpoch.Add(1*time.Second))
	visited := l.applyPosition(positionMsg(0.0, 36.9), testEpoch.Add(3*time.Second))
	assert.Empty(t, visited)

	visited = l.applyPosition(positionMsg(0.0, 36.9), testEpoch.Add(3*time.Second+visitConfirmDelay))
	assert.Equal(t, []int{0}, visited)
}

func TestCurrentWaypointIsLowestUnvisited(t *testing.T) {
	l := testLink(newFakeStore())
	setMission(l,
		core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.90},
		core.Waypoint{Seq: 1, Lat: 0.0, Lon: 36.91},
		core.Waypoint{Seq: 2, Lat: 0.0, Lon: 36.92},
	)

	assert.Equal(t, 0, l.Telemetry().CurrentWaypoint)
	assert.Equal(t, 3, l.Telemetry().TotalWaypoints)

	// Visit the middle waypoint out of order; the pointer stays on 0.
	l.applyPosition(positionMsg(0.0, 36.91), testEpoch)
	l.applyPosition(positionMsg(0.0, 36.91), testEpoch.Add(visitConfirmDelay))
	assert.Equal(t, 0, l.Telemetry().CurrentWaypoint)
	assert.Equal(t, 2, l.Telemetry().NextWaypoint)

	l.applyPosition(positionMsg(0.0, 36.90), testEpoch.Add(5*time.Second))
	l.applyPosition(positionMsg(0.0, 36.90), testEpoch.Add(5*time.Second+visitConfirmDelay))
	assert.Equal(t, 2, l.Telemetry().CurrentWaypoint)

	// All visited: pointer rests on the last sequence.
	l.applyPosition(positionMsg(0.0, 36.92), testEpoch.Add(10*time.Second))
	l.applyPosition(positionMsg(0.0, 36.92), testEpoch.Add(10*time.Second+visitConfirmDelay))
	assert.Equal(t, 2, l.Telemetry().CurrentWaypoint)
}

func TestVisitsPersistToStore(t *testing.T) {
	store := newFakeStore()
	l := testLink(store)
	setMission(l, core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.9})

	l.handleMessage(positionMsg(0.0, 36.9), testEpoch)
	l.handleMessage(positionMsg(0.0, 36.9), testEpoch.Add(visitConfirmDelay))

	assert.Equal(t, []int{0}, store.records)
}

func TestLoadVisitedStateIgnoresUnknownSequences(t *testing.T) {
	store := newFakeStore()
	store.visits[0] = true
	store.visits[9] = true

	l := testLink(store)
	setMission(l,
		core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.90},
		core.Waypoint{Seq: 1, Lat: 0.0, Lon: 36.91},
	)
	l.loadVisitedState()

	visited := l.VisitedWaypoints()
	assert.True(t, visited[0])
	assert.False(t, visited[9])
	assert.Equal(t, 1, l.Telemetry().CurrentWaypoint)
}

func TestMissionProgressFromAutopilotSeq(t *testing.T) {
	l := testLink(nil)
	setMission(l,
		core.Waypoint{Seq: 0}, core.Waypoint{Seq: 1},
		core.Waypoint{Seq: 2}, core.Waypoint{Seq: 3},
		core.Waypoint{Seq: 4},
	)

	l.handleMessage(&common.MessageMissionCurrent{Seq: 2}, testEpoch)
	assert.InDelta(t, 50.0, l.Telemetry().MissionProgress, 0.001)

	l.handleMessage(&common.MessageMissionCurrent{Seq: 4}, testEpoch)
	assert.Equal(t, 100.0, l.Telemetry().MissionProgress)

	// Out-of-range sequences clamp rather than exceed 100.
	l.handleMessage(&common.MessageMissionCurrent{Seq: 9}, testEpoch)
	assert.Equal(t, 100.0, l.Telemetry().MissionProgress)
}

func TestHeartbeatUpdatesArmedAndMode(t *testing.T) {
	l := testLink(nil)

	l.handleMessage(&common.MessageHeartbeat{
		BaseMode:   common.MAV_MODE_FLAG_SAFETY_ARMED | common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED,
		CustomMode: uint32(ModeGuided),
	}, testEpoch)

	snap := l.Telemetry()
	assert.True(t, snap.Armed)
	assert.True(t, snap.CustomModeEnabled)
	assert.Equal(t, uint32(ModeGuided), snap.CustomMode)
	assert.Equal(t, testEpoch, snap.LastHeartbeat)
}

func TestMissionItemReachedCompletesSurvey(t *testing.T) {
	l := testLink(nil)
	l.mu.Lock()
	l.lastSurveyWaypoint = 5
	l.mu.Unlock()

	l.handleMessage(&common.MessageMissionItemReached{Seq: 4}, testEpoch)
	assert.False(t, l.SurveyComplete())

	l.handleMessage(&common.MessageMissionItemReached{Seq: 5}, testEpoch)
	assert.True(t, l.SurveyComplete())
}

func TestStatusTextHistoryIsBounded(t *testing.T) {
	l := testLink(nil)

	for i := 0; i < statusHistoryLen+10; i++ {
		l.handleMessage(&common.MessageStatustext{
			Severity: common.MAV_SEVERITY_INFO,
			Text:     "PreArm: check complete",
		}, testEpoch.Add(time.Duration(i)*time.Second))
	}

	msgs := l.StatusMessages()
	require.Len(t, msgs, statusHistoryLen)
	// Oldest entries were evicted.
	assert.Equal(t, testEpoch.Add(10*time.Second), msgs[0].At)
}

func TestUnknownHeadingReportedAsNegative(t *testing.T) {
	l := testLink(nil)

	msg := positionMsg(0.0, 36.9)
	msg.Hdg = 65535
	l.applyPosition(msg, testEpoch)

	assert.Equal(t, -1.0, l.Telemetry().Heading)
}

func TestAdvisoryDistanceTracksPosition(t *testing.T) {
	l := testLink(nil)
	setMission(l, core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.9})

	// ~100m out, then ~50m out: the advisory figure follows each sample.
	l.applyPosition(positionMsg(100.0/111320.0, 36.9), testEpoch)
	assert.InDelta(t, 100.0, l.Telemetry().DistanceToWaypoint, 1.0)

	l.applyPosition(positionMsg(50.0/111320.0, 36.9), testEpoch.Add(time.Second))
	assert.InDelta(t, 50.0, l.Telemetry().DistanceToWaypoint, 1.0)
}

func TestAutopilotDistanceTakesPriority(t *testing.T) {
	l := testLink(nil)
	setMission(l, core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.9})

	l.handleMessage(&common.MessageNavControllerOutput{WpDist: 42}, testEpoch)
	require.Equal(t, 42.0, l.Telemetry().DistanceToWaypoint)

	// Position samples no longer overwrite the autopilot's figure.
	l.applyPosition(positionMsg(100.0/111320.0, 36.9), testEpoch.Add(time.Second))
	assert.Equal(t, 42.0, l.Telemetry().DistanceToWaypoint)
}

func TestAdvanceWaypointSkipsCurrent(t *testing.T) {
	store := newFakeStore()
	l := testLink(store)
	setMission(l,
		core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.90},
		core.Waypoint{Seq: 1, Lat: 0.0, Lon: 36.91},
	)

	seq, err := l.AdvanceWaypoint()
	require.NoError(t, err)
	assert.Equal(t, 0, seq)
	assert.Equal(t, 1, l.Telemetry().CurrentWaypoint)
	assert.Equal(t, []int{0}, store.records)

	_, err = testLink(nil).AdvanceWaypoint()
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestResetMissionProgress(t *testing.T) {
	store := newFakeStore()
	l := testLink(store)
	setMission(l,
		core.Waypoint{Seq: 0, Lat: 0.0, Lon: 36.90},
		core.Waypoint{Seq: 1, Lat: 0.0, Lon: 36.91},
	)

	_, err := l.AdvanceWaypoint()
	require.NoError(t, err)
	l.mu.Lock()
	l.surveyComplete = true
	l.mu.Unlock()

	require.NoError(t, l.ResetMissionProgress())
	assert.Empty(t, l.VisitedWaypoints())
	assert.False(t, l.SurveyComplete())
	assert.Equal(t, 0, l.Telemetry().CurrentWaypoint)
	assert.Equal(t, 1, store.resets)
}
