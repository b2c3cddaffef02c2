package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
	"fleet-tracker/internal/logger"
)

var (
	ErrUnknownClient = errors.New("dispatch: unknown client")
	ErrNotInService  = errors.New("dispatch: client not in service")
)

// Router builds the leg from a vehicle to its client.
type Router interface {
	ComputeRoute(ctx context.Context, origin, destination fleet.Coordinate, id string) (fleet.DetailedRoute, error)
}

// ClientState is a client with its runtime demand and reservation flag.
type ClientState struct {
	fleet.Client
	Remaining int  `json:"demand_remaining"`
	InService bool `json:"in_service"`
}

func (c ClientState) eligible() bool { return c.Remaining > 0 && !c.InService }

// Assignment pairs a vehicle with a reserved client and the outbound route.
type Assignment struct {
	VehicleID string
	Client    ClientState
	Route     fleet.DetailedRoute
}

// Stats summarises demand.
type Stats struct {
	TotalClients    int `json:"total_clients"`
	Pending         int `json:"pending_clients"`
	InService       int `json:"clients_in_service"`
	RemainingDemand int `json:"remaining_demand"`
	Delivered       int `json:"deliveries_completed"`
}

// Engine greedily matches idle vehicles with pending client demand. Clients
// keep their topology order, which decides distance ties.
type Engine struct {
	mu        sync.Mutex
	clients   []*ClientState
	byID      map[string]*ClientState
	hubs      map[string]fleet.Coordinate
	router    Router
	log       logger.Logger
	delivered int
}

func NewEngine(n *fleet.Network, router Router, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	e := &Engine{
		byID:   make(map[string]*ClientState, len(n.Clients)),
		hubs:   make(map[string]fleet.Coordinate, len(n.Hubs)),
		router: router,
		log:    log,
	}
	for _, c := range n.Clients {
		cs := &ClientState{Client: c, Remaining: c.Demand}
		e.clients = append(e.clients, cs)
		e.byID[c.ID] = cs
	}
	for _, h := range n.Hubs {
		e.hubs[h.ID] = h.Location
	}
	return e
}

// Assign reserves the best client for v and builds a route from the
// vehicle's current position. It returns false, with nothing reserved, when
// no client is eligible or the route cannot be built.
func (e *Engine) Assign(ctx context.Context, v fleet.Vehicle, from fleet.Coordinate) (Assignment, bool) {
	e.mu.Lock()
	chosen := e.selectLocked(v, from)
	if chosen == nil {
		e.mu.Unlock()
		return Assignment{}, false
	}
	chosen.InService = true
	client := *chosen
	e.mu.Unlock()

	// The reservation is released on every exit but success, panics included.
	committed := false
	defer func() {
		if !committed {
			e.mu.Lock()
			chosen.InService = false
			e.mu.Unlock()
		}
	}()

	routeID := fmt.Sprintf("%s_route_%s", v.ID, uuid.NewString())
	route, err := e.router.ComputeRoute(ctx, from, client.Location, routeID)
	if err != nil {
		e.log.Warnf("vehicle %s: route to client %s failed, reservation released: %v", v.ID, client.ID, err)
		return Assignment{}, false
	}
	committed = true
	route.VehicleID = v.ID
	return Assignment{VehicleID: v.ID, Client: client, Route: route}, true
}

// selectLocked keeps the lowest priority value present among eligible
// clients, then the one nearest to the vehicle's home hub.
func (e *Engine) selectLocked(v fleet.Vehicle, from fleet.Coordinate) *ClientState {
	best := fleet.Priority(math.MaxInt)
	for _, c := range e.clients {
		if c.eligible() && c.Priority < best {
			best = c.Priority
		}
	}
	base, ok := e.hubs[v.HomeHub]
	if !ok {
		base = from
	}
	var chosen *ClientState
	bestDist := math.Inf(1)
	for _, c := range e.clients {
		if !c.eligible() || c.Priority != best {
			continue
		}
		if d := geo.HaversineKm(base, c.Location); d < bestDist {
			chosen, bestDist = c, d
		}
	}
	return chosen
}

// CompleteDelivery decrements the client's demand by one and clears its
// reservation.
func (e *Engine) CompleteDelivery(clientID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.byID[clientID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if !c.InService {
		return fmt.Errorf("%w: %s", ErrNotInService, clientID)
	}
	if c.Remaining > 0 {
		c.Remaining--
	}
	c.InService = false
	e.delivered++
	return nil
}

// Release clears a reservation without touching demand.
func (e *Engine) Release(clientID string) {
	e.mu.Lock()
	if c, ok := e.byID[clientID]; ok {
		c.InService = false
	}
	e.mu.Unlock()
}

// HasPendingDemand reports whether any client still has unreserved demand.
func (e *Engine) HasPendingDemand() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clients {
		if c.eligible() {
			return true
		}
	}
	return false
}

func (e *Engine) Client(id string) (ClientState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.byID[id]
	if !ok {
		return ClientState{}, false
	}
	return *c, true
}

// Clients returns a copy of every client in topology order.
func (e *Engine) Clients() []ClientState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ClientState, len(e.clients))
	for i, c := range e.clients {
		out[i] = *c
	}
	return out
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{TotalClients: len(e.clients), Delivered: e.delivered}
	for _, c := range e.clients {
		st.RemainingDemand += c.Remaining
		if c.InService {
			st.InService++
		} else if c.Remaining > 0 {
			st.Pending++
		}
	}
	return st
}
