package survey

import (
	"sort"

	"github.com/wildtrack/groundlink/pkg/core"
)

// GroupLogs buckets survey records by the mission waypoint they were
// flown at. Groups and the surveys inside them are ordered newest
// first; records with no waypoint association share the -1 group.
func GroupLogs(records []core.SurveyRecord) []core.SurveyLogGroup {
	byWaypoint := make(map[int][]core.SurveyRecord)
	for _, rec := range records {
		byWaypoint[rec.MissionWaypointID] = append(byWaypoint[rec.MissionWaypointID], rec)
	}

	groups := make([]core.SurveyLogGroup, 0, len(byWaypoint))
	for id, recs := range byWaypoint {
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].CompletedAt.After(recs[j].CompletedAt)
		})
		groups = append(groups, core.SurveyLogGroup{
			MissionWaypointID: id,
			Surveys:           recs,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Surveys[0].CompletedAt.After(groups[j].Surveys[0].CompletedAt)
	})
	return groups
}

// GroupedLogs combines grouping and pagination, returning the
// requested page and the total group count.
func GroupedLogs(records []core.SurveyRecord, page, perPage int) ([]core.SurveyLogGroup, int) {
	groups := GroupLogs(records)
	return Paginate(groups, page, perPage), len(groups)
}

// Paginate returns the page-th slice of groups (1-based) with perPage
// entries. Out-of-range pages yield an empty slice.
func Paginate(groups []core.SurveyLogGroup, page, perPage int) []core.SurveyLogGroup {
	if page < 1 || perPage < 1 {
		return nil
	}
	start := (page - 1) * perPage
	if start >= len(groups) {
		return nil
	}
	end := start + perPage
	if end > len(groups) {
		end = len(groups)
	}
	return groups[start:end]
}
