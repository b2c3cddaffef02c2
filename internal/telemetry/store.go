package telemetry

import (
	"sort"
	"sync"

	"fleet-tracker/internal/fleet"
)

// Filter restricts Positions. Zero value matches everything.
type Filter struct {
	Statuses []fleet.VehicleStatus
}

func (f Filter) match(p fleet.VehiclePosition) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}

// Store holds the last known position of every vehicle and the active routes
// of one network.
type Store struct {
	mu        sync.RWMutex
	positions map[string]fleet.VehiclePosition
	routes    map[string]fleet.DetailedRoute
}

func NewStore() *Store {
	return &Store{
		positions: map[string]fleet.VehiclePosition{},
		routes:    map[string]fleet.DetailedRoute{},
	}
}

func (s *Store) SetPosition(p fleet.VehiclePosition) {
	s.mu.Lock()
	s.positions[p.VehicleID] = p
	s.mu.Unlock()
}

func (s *Store) Position(vehicleID string) (fleet.VehiclePosition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[vehicleID]
	return p, ok
}

// Positions returns the matching positions sorted by vehicle id.
func (s *Store) Positions(f Filter) []fleet.VehiclePosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]fleet.VehiclePosition, 0, len(s.positions))
	for _, p := range s.positions {
		if f.match(p) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VehicleID < res[j].VehicleID })
	return res
}

func (s *Store) SetRoute(r fleet.DetailedRoute) {
	s.mu.Lock()
	s.routes[r.ID] = r
	s.mu.Unlock()
}

func (s *Store) Route(id string) (fleet.DetailedRoute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[id]
	return r, ok
}

func (s *Store) RemoveRoute(id string) {
	s.mu.Lock()
	delete(s.routes, id)
	s.mu.Unlock()
}

// Routes returns the active routes sorted by id.
func (s *Store) Routes() []fleet.DetailedRoute {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]fleet.DetailedRoute, 0, len(s.routes))
	for _, r := range s.routes {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *Store) RouteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.routes)
}
