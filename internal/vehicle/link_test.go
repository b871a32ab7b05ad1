package vehicle

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/wildtrack/groundlink/pkg/core"
)

// fakeTransport records outbound messages and serves a scripted
// inbound stream.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []message.Message
	in     chan inboundMsg
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan inboundMsg, 64)}
}

func (f *fakeTransport) WriteMessage(msg message.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Receive() (message.Message, byte, bool) {
	in, ok := <-f.in
	if !ok {
		return nil, 0, false
	}
	return in.msg, in.systemID, true
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
}

func (f *fakeTransport) sentMessages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeStore is an in-memory WaypointStore recording calls.
type fakeStore struct {
	mu      sync.Mutex
	visits  map[int]bool
	records []int
	resets  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{visits: map[int]bool{}}
}

func (s *fakeStore) VisitedWaypoints(site string, vehicleID int) (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]bool, len(s.visits))
	for k, v := range s.visits {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) RecordVisit(site string, vehicleID int, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits[seq] = true
	s.records = append(s.records, seq)
	return nil
}

func (s *fakeStore) ResetVisits(site string, vehicleID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = map[int]bool{}
	s.resets++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLink(store WaypointStore) *Link {
	l := New(Config{
		Kind:     core.KindCar,
		SystemID: 2,
		Address:  "127.0.0.1:14551",
		Site:     "test-site",
	}, store, testLogger())
	return l
}

// setMission installs waypoints directly, bypassing the wire handshake.
func setMission(l *Link, wps ...core.Waypoint) {
	l.mu.Lock()
	l.waypoints = make(map[int]core.Waypoint, len(wps))
	for _, wp := range wps {
		l.waypoints[wp.Seq] = wp
	}
	l.recomputePointersLocked()
	l.mu.Unlock()
}

func positionMsg(lat, lon float64) *common.MessageGlobalPositionInt {
	return &common.MessageGlobalPositionInt{
		Lat: int32(lat * 1e7),
		Lon: int32(lon * 1e7),
		Hdg: 9000,
	}
}

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
