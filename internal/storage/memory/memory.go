// Package memory persists survey records and waypoint visits as
// site-keyed JSON files. It is the default backend and matches the
// file layout expected by the field tooling.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/wildtrack/groundlink/pkg/core"
)

// Backend stores records under dataDir, one file per site/vehicle.
type Backend struct {
	dataDir string
	mu      sync.Mutex
}

// New creates a JSON-file backend rooted at dataDir.
func New(dataDir string) *Backend {
	return &Backend{dataDir: dataDir}
}

// Init creates the data directory.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.dataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", b.dataDir, err)
	}
	return nil
}

// Close is a no-op; every mutation is written through.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) surveysPath(site string) string {
	return filepath.Join(b.dataDir, fmt.Sprintf("site-%s-surveys.json", site))
}

func (b *Backend) visitsPath(site string, vehicleID int) string {
	return filepath.Join(b.dataDir, fmt.Sprintf("site-%s-%d-visited-waypoints.json", site, vehicleID))
}

func readJSON[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// SaveSurvey appends one survey record to the site's survey file.
func (b *Backend) SaveSurvey(rec *core.SurveyRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.surveysPath(rec.Site)
	var records []core.SurveyRecord
	if err := readJSON(path, &records); err != nil {
		return err
	}
	records = append(records, *rec)
	return writeJSON(path, records)
}

// ListSurveys returns all survey records stored for a site.
func (b *Backend) ListSurveys(site string) ([]core.SurveyRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var records []core.SurveyRecord
	if err := readJSON(b.surveysPath(site), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// VisitedWaypoints returns the visited set for a site/vehicle pair.
func (b *Backend) VisitedWaypoints(site string, vehicleID int) (map[int]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var seqs []int
	if err := readJSON(b.visitsPath(site, vehicleID), &seqs); err != nil {
		return nil, err
	}
	visited := make(map[int]bool, len(seqs))
	for _, s := range seqs {
		visited[s] = true
	}
	return visited, nil
}

// RecordVisit marks one waypoint visited. Recording an already-visited
// waypoint is a no-op.
func (b *Backend) RecordVisit(site string, vehicleID int, seq int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.visitsPath(site, vehicleID)
	var seqs []int
	if err := readJSON(path, &seqs); err != nil {
		return err
	}
	for _, s := range seqs {
		if s == seq {
			return nil
		}
	}
	seqs = append(seqs, seq)
	sort.Ints(seqs)
	return writeJSON(path, seqs)
}

// ResetVisits clears the visited set for a site/vehicle pair.
func (b *Backend) ResetVisits(site string, vehicleID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.visitsPath(site, vehicleID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing visit file: %w", err)
	}
	return nil
}
