package vehicle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wildtrack/groundlink/pkg/core"
)

// Manager holds the link for each configured vehicle, keyed by kind.
// There is at most one vehicle per kind in a deployment.
type Manager struct {
	mu    sync.RWMutex
	links map[core.VehicleKind]*Link
	log   *slog.Logger
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		links: make(map[core.VehicleKind]*Link),
		log:   log,
	}
}

// Add registers a link for its kind, replacing any previous one.
func (m *Manager) Add(l *Link) {
	m.mu.Lock()
	m.links[l.Kind()] = l
	m.mu.Unlock()
}

// Get returns the link for kind, or an error when none is configured.
func (m *Manager) Get(kind core.VehicleKind) (*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.links[kind]
	if !ok {
		return nil, fmt.Errorf("no vehicle configured for kind %q", kind)
	}
	return l, nil
}

// Connect opens the session for the given kind.
func (m *Manager) Connect(ctx context.Context, kind core.VehicleKind) error {
	l, err := m.Get(kind)
	if err != nil {
		return err
	}
	return l.Connect(ctx)
}

// Disconnect closes the session for the given kind.
func (m *Manager) Disconnect(kind core.VehicleKind) error {
	l, err := m.Get(kind)
	if err != nil {
		return err
	}
	return l.Disconnect()
}

// DisconnectAll closes every open session. Used on shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.RUnlock()

	for _, l := range links {
		if err := l.Disconnect(); err != nil {
			m.log.Error("disconnect failed", "vehicle", l.Kind(), "error", err)
		}
	}
}

// RegisterTelemetryCallback attaches a snapshot consumer to the link
// for kind.
func (m *Manager) RegisterTelemetryCallback(kind core.VehicleKind, cb TelemetryCallback) error {
	l, err := m.Get(kind)
	if err != nil {
		return err
	}
	l.RegisterTelemetryCallback(cb)
	return nil
}
