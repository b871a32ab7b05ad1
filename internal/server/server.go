// Package server exposes the ground station over HTTP and WebSocket:
// vehicle session and mission control, coordination lifecycle, survey
// operations and a live event/telemetry stream. It contains no
// decision logic of its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wildtrack/groundlink/internal/coordination"
	"github.com/wildtrack/groundlink/internal/events"
	"github.com/wildtrack/groundlink/internal/storage"
	"github.com/wildtrack/groundlink/internal/survey"
	"github.com/wildtrack/groundlink/internal/vehicle"
	"github.com/wildtrack/groundlink/pkg/core"
	"github.com/wildtrack/groundlink/pkg/streaming"
)

const (
	requestTimeout  = 60 * time.Second
	defaultLogLimit = 10
)

// Dependencies wires the server's collaborators.
type Dependencies struct {
	Vehicles     *vehicle.Manager
	Coordination *coordination.Service
	Survey       *survey.Monitor
	Store        storage.Backend
	Events       *events.Dispatcher
	Logger       *slog.Logger
	Site         string
	Addr         string
}

// Server is the HTTP/WebSocket front of the ground station.
type Server struct {
	deps Dependencies
	log  *slog.Logger
	hub  *Hub
	http *http.Server
}

func New(deps Dependencies) *Server {
	s := &Server{
		deps: deps,
		log:  deps.Logger,
		hub:  NewHub(deps.Logger),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.http = &http.Server{Addr: deps.Addr, Handler: mux}

	// Every dispatcher event goes straight to the stream.
	deps.Events.Subscribe("websocket", func(evt events.Event) {
		s.hub.Broadcast(evt.Name, evt.Payload)
	})

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/vehicles/{kind}/connect", s.handleConnect)
	mux.HandleFunc("POST /api/vehicles/{kind}/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/vehicles/{kind}/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/vehicles/{kind}/status-messages", s.handleStatusMessages)
	mux.HandleFunc("POST /api/vehicles/{kind}/mode", s.handleSetMode)
	mux.HandleFunc("POST /api/vehicles/{kind}/arm", s.handleArm)
	mux.HandleFunc("POST /api/vehicles/{kind}/disarm", s.handleDisarm)
	mux.HandleFunc("POST /api/vehicles/{kind}/takeoff", s.handleTakeoff)
	mux.HandleFunc("GET /api/vehicles/{kind}/mission", s.handleGetMission)
	mux.HandleFunc("POST /api/vehicles/{kind}/mission", s.handleUploadMission)
	mux.HandleFunc("DELETE /api/vehicles/{kind}/mission", s.handleClearMission)
	mux.HandleFunc("POST /api/vehicles/{kind}/mission/reset", s.handleResetMission)
	mux.HandleFunc("POST /api/vehicles/{kind}/mission/advance", s.handleAdvanceWaypoint)

	mux.HandleFunc("POST /api/coordination/start", s.handleCoordinationStart)
	mux.HandleFunc("POST /api/coordination/stop", s.handleCoordinationStop)
	mux.HandleFunc("GET /api/coordination/status", s.handleCoordinationStatus)
	mux.HandleFunc("POST /api/tracking/start", s.handleTrackingStart)
	mux.HandleFunc("POST /api/tracking/stop", s.handleTrackingStop)

	mux.HandleFunc("POST /api/surveys/proximity", s.handleProximitySurvey)
	mux.HandleFunc("POST /api/surveys/pause", s.handleSurveyPause)
	mux.HandleFunc("POST /api/surveys/resume", s.handleSurveyResume)
	mux.HandleFunc("GET /api/surveys", s.handleSurveyLogs)

	mux.HandleFunc("GET /ws", s.hub.ServeWS)
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.log.Info("http server listening", "addr", s.deps.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown stops the listener and drops the stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// StreamTelemetry pushes a vehicle's snapshots to the WebSocket
// clients. Wired by main for each configured vehicle.
func (s *Server) StreamTelemetry(kind core.VehicleKind) error {
	return s.deps.Vehicles.RegisterTelemetryCallback(kind, func(snap core.TelemetrySnapshot) {
		s.hub.Broadcast(streaming.TypeTelemetry, streaming.TelemetryPayload{
			Vehicle: string(kind),
			Data:    snap,
		})
	})
}

func (s *Server) link(w http.ResponseWriter, r *http.Request) (*vehicle.Link, bool) {
	kind := core.VehicleKind(r.PathValue("kind"))
	if !kind.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown vehicle kind %q", kind))
		return nil, false
	}
	l, err := s.deps.Vehicles.Get(kind)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return l, true
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.Connect(ctx); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"connected": true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	if err := l.Disconnect(); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"connected": false})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, l.Telemetry())
}

func (s *Server) handleStatusMessages(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, l.StatusMessages())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	var req struct {
		Mode uint32 `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.SetMode(ctx, vehicle.FlightMode(req.Mode)); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"mode": vehicle.FlightMode(req.Mode).String()})
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.Arm(ctx); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"armed": true})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.Disarm(ctx); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"armed": false})
}

func (s *Server) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	var req struct {
		Altitude float64 `json:"altitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Altitude <= 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("positive altitude required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.Takeoff(ctx, req.Altitude); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"altitude": req.Altitude})
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, map[string]any{
		"waypoints": l.Waypoints(),
		"visited":   l.VisitedWaypoints(),
	})
}

func (s *Server) handleUploadMission(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	var req struct {
		Waypoints []core.Waypoint `json:"waypoints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.UploadMission(ctx, req.Waypoints); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"uploaded": len(req.Waypoints)})
}

func (s *Server) handleClearMission(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := l.ClearMission(ctx); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"cleared": true})
}

func (s *Server) handleResetMission(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	if err := l.ResetMissionProgress(); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"reset": true})
}

func (s *Server) handleAdvanceWaypoint(w http.ResponseWriter, r *http.Request) {
	l, ok := s.link(w, r)
	if !ok {
		return
	}
	seq, err := l.AdvanceWaypoint()
	if err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"skipped": seq, "current": l.Telemetry().CurrentWaypoint})
}

func (s *Server) handleCoordinationStart(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordination.Start(); err != nil {
		s.writeVehicleError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"running": true})
}

func (s *Server) handleCoordinationStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordination.Stop()
	s.writeJSON(w, map[string]any{"running": false})
}

func (s *Server) handleCoordinationStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"running":             s.deps.Coordination.Running(),
		"tracking":            s.deps.Coordination.Tracking(),
		"surveyButtonEnabled": s.deps.Coordination.ButtonEnabled(),
		"surveying":           s.deps.Survey.Running(),
	})
}

func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordination.StartTracking()
	s.writeJSON(w, map[string]any{"tracking": true})
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Coordination.StopTracking()
	s.writeJSON(w, map[string]any{"tracking": false})
}

func (s *Server) handleProximitySurvey(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordination.InitiateProximitySurvey(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"started": true})
}

func (s *Server) handleSurveyPause(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.deps.Survey.Pause(ctx); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"paused": true})
}

func (s *Server) handleSurveyResume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.deps.Survey.Resume(ctx); err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, map[string]any{"paused": false})
}

func (s *Server) handleSurveyLogs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultLogLimit)

	records, err := s.deps.Store.ListSurveys(s.deps.Site)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	groups, total := survey.GroupedLogs(records, page, limit)
	s.writeJSON(w, map[string]any{
		"groups": groups,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeVehicleError maps link error kinds onto HTTP statuses.
func (s *Server) writeVehicleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vehicle.ErrNotConnected), errors.Is(err, vehicle.ErrPrecondition):
		s.writeError(w, http.StatusConflict, err)
	case errors.Is(err, vehicle.ErrLinkTimeout):
		s.writeError(w, http.StatusGatewayTimeout, err)
	case errors.Is(err, vehicle.ErrProtocolViolation):
		s.writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, vehicle.ErrDataUnavailable):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
