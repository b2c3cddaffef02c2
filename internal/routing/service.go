package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
	"fleet-tracker/internal/logger"
)

var ErrInvalidCoordinate = errors.New("routing: invalid coordinate")

const (
	DefaultUrbanSpeedKmh = 25.0
	DefaultWaypoints     = 10
)

// Service builds DetailedRoutes. It uses the road graph when one is
// configured and degrades to straight-line interpolation otherwise.
type Service struct {
	graph         Graph
	urbanSpeedKmh float64
	waypoints     int
	clock         func() time.Time
	log           logger.Logger
}

type Option func(*Service)

// WithGraph sets the road graph. A nil graph disables graph routing.
func WithGraph(g Graph) Option { return func(s *Service) { s.graph = g } }

func WithUrbanSpeed(kmh float64) Option {
	return func(s *Service) {
		if kmh > 0 {
			s.urbanSpeedKmh = kmh
		}
	}
}

// WithWaypoints sets the number of segments of a straight-line route.
func WithWaypoints(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.waypoints = n
		}
	}
}

func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

func WithLogger(l logger.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(opts ...Option) *Service {
	s := &Service{
		urbanSpeedKmh: DefaultUrbanSpeedKmh,
		waypoints:     DefaultWaypoints,
		clock:         time.Now,
		log:           logger.NopLogger{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HasGraph reports whether graph routing is enabled.
func (s *Service) HasGraph() bool { return s.graph != nil }

// Distance is the great-circle distance in km.
func (s *Service) Distance(a, b fleet.Coordinate) float64 { return geo.HaversineKm(a, b) }

// Heading is the bearing from a to b in degrees.
func (s *Service) Heading(a, b fleet.Coordinate) float64 { return geo.Bearing(a, b) }

// ComputeRoute builds a route from origin to destination. An empty id gets a
// generated one. Graph failures never surface: they fall back to a direct
// route with Optimized=false. Only invalid input or a done context fail.
func (s *Service) ComputeRoute(ctx context.Context, origin, destination fleet.Coordinate, id string) (fleet.DetailedRoute, error) {
	if err := ctx.Err(); err != nil {
		return fleet.DetailedRoute{}, err
	}
	if !origin.Valid() || !destination.Valid() {
		return fleet.DetailedRoute{}, fmt.Errorf("%w: %v -> %v", ErrInvalidCoordinate, origin, destination)
	}
	if id == "" {
		id = uuid.NewString()
	}
	factor := TrafficFactorAt(s.clock())
	if s.graph != nil {
		r, err := s.graphRoute(origin, destination, id, factor)
		if err == nil {
			return r, nil
		}
		s.log.Debugf("route %s: graph routing failed, using direct route: %v", id, err)
	}
	return s.directRoute(origin, destination, id, factor), nil
}

func (s *Service) graphRoute(origin, destination fleet.Coordinate, id string, factor float64) (fleet.DetailedRoute, error) {
	from, err := s.graph.NearestNode(origin)
	if err != nil {
		return fleet.DetailedRoute{}, err
	}
	to, err := s.graph.NearestNode(destination)
	if err != nil {
		return fleet.DetailedRoute{}, err
	}
	nodes, travelMin, err := s.graph.ShortestPath(from, to)
	if err != nil {
		return fleet.DetailedRoute{}, err
	}

	pts := make([]fleet.Coordinate, 0, len(nodes)+2)
	pts = append(pts, origin)
	for _, n := range nodes {
		if n != pts[len(pts)-1] {
			pts = append(pts, n)
		}
	}
	if pts[len(pts)-1] != destination {
		pts = append(pts, destination)
	}

	cum := geo.CumDistances(pts)
	// Connectors between the exact endpoints and their snapped nodes run at
	// urban speed.
	connectorKm := 0.0
	if len(nodes) > 0 {
		connectorKm = geo.HaversineKm(origin, nodes[0]) + geo.HaversineKm(nodes[len(nodes)-1], destination)
	}
	duration := (travelMin + connectorKm/s.urbanSpeedKmh*60) * factor
	return buildRoute(id, pts, cum, duration, factor, true), nil
}

func (s *Service) directRoute(origin, destination fleet.Coordinate, id string, factor float64) fleet.DetailedRoute {
	n := s.waypoints
	pts := make([]fleet.Coordinate, n+1)
	for i := 0; i <= n; i++ {
		pts[i] = geo.Lerp(origin, destination, float64(i)/float64(n))
	}
	pts[0], pts[n] = origin, destination
	cum := geo.CumDistances(pts)
	duration := cum[n] / s.urbanSpeedKmh * 60 * factor
	return buildRoute(id, pts, cum, duration, factor, false)
}

// buildRoute assigns each point a cumulative time proportional to its
// cumulative distance.
func buildRoute(id string, pts []fleet.Coordinate, cum []float64, duration, factor float64, optimized bool) fleet.DetailedRoute {
	total := cum[len(cum)-1]
	wps := make([]fleet.Waypoint, len(pts))
	for i, p := range pts {
		t := 0.0
		if total > 0 {
			t = duration * cum[i] / total
		}
		wps[i] = fleet.Waypoint{Coordinate: p, Sequence: i, EstimatedTime: t}
	}
	wps[len(wps)-1].IsStop = true
	return fleet.DetailedRoute{
		ID:                   id,
		Origin:               pts[0],
		Destination:          pts[len(pts)-1],
		Waypoints:            wps,
		TotalDistanceKm:      total,
		EstimatedDurationMin: duration,
		TrafficFactor:        factor,
		Optimized:            optimized,
	}
}

// PositionAt returns the location and heading at a completion fraction in
// [0, 1]. Waypoints are bracketed on their cumulative time; a route without
// duration is walked by waypoint index.
func PositionAt(r fleet.DetailedRoute, fraction float64) (fleet.Coordinate, float64) {
	n := len(r.Waypoints)
	if n == 0 {
		return r.Destination, 0
	}
	pts := make([]fleet.Coordinate, n)
	profile := make([]float64, n)
	for i, w := range r.Waypoints {
		pts[i] = w.Coordinate
		profile[i] = w.EstimatedTime
	}
	if profile[n-1] <= profile[0] {
		for i := range profile {
			profile[i] = float64(i)
		}
	}
	x := profile[0] + fraction*(profile[n-1]-profile[0])
	return geo.Interpolate(pts, profile, x)
}

// TrafficFactorAt is the duration multiplier for the time of day of t.
func TrafficFactorAt(t time.Time) float64 {
	h := t.Hour()
	if (h >= 7 && h < 9) || (h >= 17 && h < 19) {
		return 1.4
	}
	return 1.0
}
