package fleet

import (
	"math"
	"time"
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude" koanf:"latitude"`
	Lon float64 `json:"longitude" koanf:"longitude"`
}

// Valid reports whether the coordinate is finite and inside the lat/lon ranges.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

type Depot struct {
	ID       string     `json:"id"`
	Name     string     `json:"nome"`
	Location Coordinate `json:"location"`
	Capacity int        `json:"capacidade"`
}

type Hub struct {
	ID       string     `json:"id"`
	Name     string     `json:"nome"`
	Location Coordinate `json:"location"`
	Capacity int        `json:"capacidade"`
}

type Zone struct {
	ID       string     `json:"id"`
	Name     string     `json:"nome"`
	Location Coordinate `json:"location"`
}

// Client is a delivery destination as loaded from the topology. Runtime demand
// and service state live in the dispatch engine.
type Client struct {
	ID       string     `json:"id"`
	Name     string     `json:"nome"`
	Location Coordinate `json:"location"`
	Demand   int        `json:"demanda"`
	Priority Priority   `json:"prioridade"`
	ZoneID   string     `json:"zona_id,omitempty"`
}

// Vehicle is immutable for the duration of a simulation.
type Vehicle struct {
	ID          string  `json:"id"`
	Name        string  `json:"nome"`
	Kind        string  `json:"tipo_veiculo"`
	Capacity    int     `json:"capacidade"`
	AvgSpeedKmh float64 `json:"velocidade_media"`
	HomeHub     string  `json:"hub_base"`
	Driver      string  `json:"condutor,omitempty"`
}

type Edge struct {
	From     string  `json:"origem"`
	To       string  `json:"destino"`
	Distance float64 `json:"distancia"`
	Capacity float64 `json:"capacidade"`
}

// Waypoint is one point of a DetailedRoute. EstimatedTime is cumulative
// minutes from the route origin.
type Waypoint struct {
	Coordinate
	Sequence      int     `json:"sequence"`
	EstimatedTime float64 `json:"estimated_time"`
	IsStop        bool    `json:"is_stop"`
}

// DetailedRoute is one leg. Distances are kilometres, durations minutes.
type DetailedRoute struct {
	ID                   string     `json:"route_id"`
	VehicleID            string     `json:"vehicle_id,omitempty"`
	Origin               Coordinate `json:"origin"`
	Destination          Coordinate `json:"destination"`
	Waypoints            []Waypoint `json:"waypoints"`
	TotalDistanceKm      float64    `json:"total_distance"`
	EstimatedDurationMin float64    `json:"estimated_duration"`
	TrafficFactor        float64    `json:"traffic_factor"`
	Optimized            bool       `json:"optimized"`
}

// VehiclePosition is the last observed state of a vehicle.
type VehiclePosition struct {
	VehicleID string `json:"vehicle_id"`
	Coordinate
	Timestamp time.Time     `json:"timestamp"`
	Speed     float64       `json:"speed"`
	Heading   float64       `json:"heading"`
	Status    VehicleStatus `json:"status"`
}
