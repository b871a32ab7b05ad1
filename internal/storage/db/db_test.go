package db

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wildtrack/groundlink/pkg/core"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	b := New(gdb)
	require.NoError(t, b.Init())
	return b
}

func TestSaveAndListSurveys(t *testing.T) {
	b := newTestBackend(t)

	now := time.Now().UTC().Truncate(time.Second)
	rec := &core.SurveyRecord{
		ID:                core.NewSurveyRecordID(1, now),
		VehicleID:         1,
		Site:              "ol-pejeta",
		Waypoints:         []core.Waypoint{{Seq: 0, Lat: 0.02, Lon: 36.9, Alt: 15}, {Seq: 1, Lat: 0.021, Lon: 36.9, Alt: 15}},
		MissionWaypointID: 2,
		Abandoned:         true,
		StartedAt:         now.Add(-90 * time.Second),
		EndedAt:           now,
		CompletedAt:       now,
		DurationSeconds:   90,
	}
	require.NoError(t, b.SaveSurvey(rec))

	got, err := b.ListSurveys("ol-pejeta")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, rec.ID, got[0].ID)
	assert.True(t, got[0].Abandoned)
	assert.Equal(t, 2, got[0].MissionWaypointID)
	assert.Len(t, got[0].Waypoints, 2)
	assert.Equal(t, "00:01:30", got[0].DurationFormatted)
}

func TestListSurveys_OrderedByCompletion(t *testing.T) {
	b := newTestBackend(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.SaveSurvey(&core.SurveyRecord{ID: "survey_1_2", Site: "s", CompletedAt: base.Add(time.Hour)}))
	require.NoError(t, b.SaveSurvey(&core.SurveyRecord{ID: "survey_1_1", Site: "s", CompletedAt: base}))

	got, err := b.ListSurveys("s")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "survey_1_1", got[0].ID)
	assert.Equal(t, "survey_1_2", got[1].ID)
}

func TestVisits_RoundTrip(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.RecordVisit("s", 2, 3))
	require.NoError(t, b.RecordVisit("s", 2, 5))
	// duplicate
	require.NoError(t, b.RecordVisit("s", 2, 3))

	visited, err := b.VisitedWaypoints("s", 2)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{3: true, 5: true}, visited)
}

func TestResetVisits(t *testing.T) {
	b := newTestBackend(t)

	require.NoError(t, b.RecordVisit("s", 2, 1))
	require.NoError(t, b.ResetVisits("s", 2))

	visited, err := b.VisitedWaypoints("s", 2)
	require.NoError(t, err)
	assert.Empty(t, visited)
}
