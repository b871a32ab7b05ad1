package survey

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildtrack/groundlink/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(waypointID int, completed time.Time) core.SurveyRecord {
	return core.SurveyRecord{
		ID:                core.NewSurveyRecordID(1, completed),
		VehicleID:         1,
		MissionWaypointID: waypointID,
		CompletedAt:       completed,
	}
}

func TestGroupLogsByWaypoint(t *testing.T) {
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	groups := GroupLogs([]core.SurveyRecord{
		record(3, base.Add(1*time.Hour)),
		record(7, base.Add(3*time.Hour)),
		record(3, base.Add(2*time.Hour)),
	})

	require.Len(t, groups, 2)

	// Newest group first; within a group, newest survey first.
	assert.Equal(t, 7, groups[0].MissionWaypointID)
	assert.Equal(t, 3, groups[1].MissionWaypointID)
	require.Len(t, groups[1].Surveys, 2)
	assert.Equal(t, base.Add(2*time.Hour), groups[1].Surveys[0].CompletedAt)
}

func TestGroupLogsEmpty(t *testing.T) {
	assert.Empty(t, GroupLogs(nil))
}

func TestPaginate(t *testing.T) {
	var groups []core.SurveyLogGroup
	for i := 0; i < 5; i++ {
		groups = append(groups, core.SurveyLogGroup{MissionWaypointID: i})
	}

	assert.Len(t, Paginate(groups, 1, 2), 2)
	assert.Len(t, Paginate(groups, 3, 2), 1)
	assert.Empty(t, Paginate(groups, 4, 2), "past the end")
	assert.Empty(t, Paginate(groups, 0, 2), "pages are 1-based")
	assert.Empty(t, Paginate(groups, 1, 0))
}
