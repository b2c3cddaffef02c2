package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleet-tracker/internal/fleet"
)

const (
	CmdUpdateVehiclePosition = "update_vehicle_position"
	CmdGenerateRoute         = "generate_route"
	CmdGetTrafficStats       = "get_traffic_stats"
	CmdStartMovement         = "start_movement"
	CmdStopMovement          = "stop_movement"
	CmdGetMovementStats      = "get_movement_stats"
)

var ErrMissingField = errors.New("missing required field")

type commandFunc func(ctx context.Context, nc *networkContext, data json.RawMessage) (any, error)

func (m *Manager) commands() map[string]commandFunc {
	return map[string]commandFunc{
		CmdUpdateVehiclePosition: m.updateVehiclePosition,
		CmdGenerateRoute:         m.generateRoute,
		CmdGetTrafficStats:       m.trafficStats,
		CmdStartMovement:         m.startMovement,
		CmdStopMovement:          m.stopMovement,
		CmdGetMovementStats:      m.movementStats,
	}
}

// HandleCommand executes one inbound message from conn and replies to conn
// only. A failing or panicking command never affects other subscribers.
func (m *Manager) HandleCommand(ctx context.Context, networkID string, conn Conn, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		m.reply(ctx, conn, Message{Type: TypeError, Message: fmt.Sprintf("invalid message: %v", err)})
		return
	}
	fn, ok := m.commands()[cmd.Command]
	if !ok {
		m.countCommand(cmd.Command, StatusError)
		m.reply(ctx, conn, Message{Type: TypeError, Message: fmt.Sprintf("%v: %s", ErrUnknownCommand, cmd.Command)})
		return
	}
	nc, ok := m.lookup(networkID)
	if !ok {
		m.countCommand(cmd.Command, StatusError)
		m.reply(ctx, conn, CommandResponse{Type: TypeCommandResponse, Command: cmd.Command, Status: StatusError, Message: ErrNotTracked.Error()})
		return
	}

	data, err := m.run(ctx, fn, nc, cmd.Data)
	resp := CommandResponse{Type: TypeCommandResponse, Command: cmd.Command, Status: StatusSuccess, Data: data}
	if err != nil {
		nc.log.Warnf("command %s from %s failed: %v", cmd.Command, conn.ID(), err)
		resp = CommandResponse{Type: TypeCommandResponse, Command: cmd.Command, Status: StatusError, Message: err.Error()}
	}
	m.countCommand(cmd.Command, resp.Status)
	m.reply(ctx, conn, resp)
}

func (m *Manager) run(ctx context.Context, fn commandFunc, nc *networkContext, data json.RawMessage) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return fn(ctx, nc, data)
}

func (m *Manager) countCommand(command, status string) {
	if m.metrics != nil {
		m.metrics.Commands.WithLabelValues(command, status).Inc()
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data", ErrMissingField)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

type positionUpdate struct {
	VehicleID string   `json:"vehicle_id"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     float64  `json:"speed"`
	Heading   float64  `json:"heading"`
	Status    string   `json:"status"`
}

func (m *Manager) updateVehiclePosition(_ context.Context, nc *networkContext, data json.RawMessage) (any, error) {
	var req positionUpdate
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	switch {
	case req.VehicleID == "":
		return nil, fmt.Errorf("%w: vehicle_id", ErrMissingField)
	case req.Latitude == nil:
		return nil, fmt.Errorf("%w: latitude", ErrMissingField)
	case req.Longitude == nil:
		return nil, fmt.Errorf("%w: longitude", ErrMissingField)
	}
	status := fleet.StatusMoving
	if req.Status != "" {
		s, err := fleet.ParseVehicleStatus(req.Status)
		if err != nil {
			return nil, err
		}
		status = s
	}
	pos := fleet.VehiclePosition{
		VehicleID:  req.VehicleID,
		Coordinate: fleet.Coordinate{Lat: *req.Latitude, Lon: *req.Longitude},
		Timestamp:  m.opts.Clock(),
		Speed:      req.Speed,
		Heading:    req.Heading,
		Status:     status,
	}
	stored, err := nc.engine.OverridePosition(pos)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

type routeRequest struct {
	OriginLat *float64 `json:"origin_lat"`
	OriginLon *float64 `json:"origin_lon"`
	DestLat   *float64 `json:"dest_lat"`
	DestLon   *float64 `json:"dest_lon"`
	RouteID   string   `json:"route_id"`
}

// RouteSummary is the generate_route reply.
type RouteSummary struct {
	RouteID              string  `json:"route_id"`
	TotalDistanceKm      float64 `json:"total_distance"`
	EstimatedDurationMin float64 `json:"estimated_duration"`
	Waypoints            int     `json:"waypoints_count"`
	Optimized            bool    `json:"optimized"`
}

func (m *Manager) generateRoute(ctx context.Context, _ *networkContext, data json.RawMessage) (any, error) {
	if m.opts.Router == nil {
		return nil, errors.New("route computation is not available")
	}
	var req routeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	for name, v := range map[string]*float64{
		"origin_lat": req.OriginLat, "origin_lon": req.OriginLon,
		"dest_lat": req.DestLat, "dest_lon": req.DestLon,
	} {
		if v == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if req.RouteID == "" {
		req.RouteID = fmt.Sprintf("route_%d", m.opts.Clock().Unix())
	}
	r, err := m.opts.Router.ComputeRoute(ctx,
		fleet.Coordinate{Lat: *req.OriginLat, Lon: *req.OriginLon},
		fleet.Coordinate{Lat: *req.DestLat, Lon: *req.DestLon},
		req.RouteID)
	if err != nil {
		return nil, err
	}
	return RouteSummary{
		RouteID:              r.ID,
		TotalDistanceKm:      r.TotalDistanceKm,
		EstimatedDurationMin: r.EstimatedDurationMin,
		Waypoints:            len(r.Waypoints),
		Optimized:            r.Optimized,
	}, nil
}

func (m *Manager) trafficStats(_ context.Context, nc *networkContext, _ json.RawMessage) (any, error) {
	return nc.engine.TrafficStats(), nil
}

func (m *Manager) movementStats(_ context.Context, nc *networkContext, _ json.RawMessage) (any, error) {
	return nc.engine.Stats(), nil
}

type movementState struct {
	Running bool      `json:"is_running"`
	Message string    `json:"message"`
	At      time.Time `json:"timestamp"`
}

func (m *Manager) startMovement(_ context.Context, nc *networkContext, _ json.RawMessage) (any, error) {
	nc.mu.Lock()
	ctx := nc.loopCtx
	nc.mu.Unlock()
	msg := "movement started"
	if !nc.engine.Start(ctx) {
		msg = "movement already running"
	}
	return movementState{Running: nc.engine.Running(), Message: msg, At: m.opts.Clock()}, nil
}

func (m *Manager) stopMovement(_ context.Context, nc *networkContext, _ json.RawMessage) (any, error) {
	nc.engine.Stop()
	return movementState{Running: false, Message: "movement stopped", At: m.opts.Clock()}, nil
}
