package sim

import (
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/routing"
	"fleet-tracker/internal/telemetry"
)

// MovementStats answers get_movement_stats.
type MovementStats struct {
	fleet.Statistics
	Running               bool       `json:"is_running"`
	Ticks                 uint64     `json:"ticks"`
	VehicleErrors         int        `json:"vehicle_errors"`
	MissingClientWarnings int        `json:"missing_client_warnings"`
	LastTick              *time.Time `json:"last_tick,omitempty"`
}

// TrafficStats answers get_traffic_stats.
type TrafficStats struct {
	ActiveRoutes       int     `json:"active_routes"`
	OptimizedRoutes    int     `json:"optimized_routes"`
	FallbackRoutes     int     `json:"fallback_routes"`
	MovingVehicles     int     `json:"moving_vehicles"`
	AverageSpeedKmh    float64 `json:"average_speed"`
	MaxSpeedKmh        float64 `json:"max_speed"`
	TrafficFactor      float64 `json:"traffic_factor"`
	RoadGraphAvailable bool    `json:"road_graph_available"`
}

func (e *Engine) statisticsLocked() fleet.Statistics {
	var st fleet.Statistics
	for _, s := range e.states {
		st.Count(s.status)
	}
	d := e.dispatch.Stats()
	st.ActiveRoutes = e.store.RouteCount()
	st.TotalClients = d.TotalClients
	st.PendingClients = d.Pending
	st.ClientsInService = d.InService
	st.RemainingDemand = d.RemainingDemand
	st.DeliveriesCompleted = d.Delivered
	st.Complete = e.complete
	return st
}

func (e *Engine) Statistics() fleet.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statisticsLocked()
}

func (e *Engine) Stats() MovementStats {
	running := e.Running()
	e.mu.Lock()
	defer e.mu.Unlock()
	ms := MovementStats{
		Statistics:            e.statisticsLocked(),
		Running:               running,
		Ticks:                 e.ticks,
		VehicleErrors:         e.vehicleErrors,
		MissingClientWarnings: e.missingClient,
	}
	if !e.lastTick.IsZero() {
		t := e.lastTick
		ms.LastTick = &t
	}
	return ms
}

func (e *Engine) TrafficStats() TrafficStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := TrafficStats{TrafficFactor: routing.TrafficFactorAt(e.clock())}
	if g, ok := e.router.(interface{ HasGraph() bool }); ok {
		ts.RoadGraphAvailable = g.HasGraph()
	}
	for _, r := range e.store.Routes() {
		ts.ActiveRoutes++
		if r.Optimized {
			ts.OptimizedRoutes++
		} else {
			ts.FallbackRoutes++
		}
	}
	travelling := e.store.Positions(telemetry.Filter{Statuses: []fleet.VehicleStatus{fleet.StatusMoving, fleet.StatusReturning}})
	sum := 0.0
	for _, p := range travelling {
		sum += p.Speed
		if p.Speed > ts.MaxSpeedKmh {
			ts.MaxSpeedKmh = p.Speed
		}
	}
	ts.MovingVehicles = len(travelling)
	if len(travelling) > 0 {
		ts.AverageSpeedKmh = sum / float64(len(travelling))
	}
	return ts
}
