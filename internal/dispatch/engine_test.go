package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/routing"
)

type fakeRouter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeRouter) ComputeRoute(_ context.Context, o, d fleet.Coordinate, id string) (fleet.DetailedRoute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return fleet.DetailedRoute{}, f.err
	}
	return fleet.DetailedRoute{ID: id, Origin: o, Destination: d}, nil
}

var (
	hubA = fleet.Hub{ID: "HA", Location: fleet.Coordinate{Lat: -9.60, Lon: -35.70}}
	hubB = fleet.Hub{ID: "HB", Location: fleet.Coordinate{Lat: -9.70, Lon: -35.75}}
	vehA = fleet.Vehicle{ID: "VA", HomeHub: "HA"}
	vehB = fleet.Vehicle{ID: "VB", HomeHub: "HB"}
)

func network(clients ...fleet.Client) *fleet.Network {
	return &fleet.Network{
		ID:       "n",
		Hubs:     []fleet.Hub{hubA, hubB},
		Vehicles: []fleet.Vehicle{vehA, vehB},
		Clients:  clients,
	}
}

func client(id string, p fleet.Priority, demand int, lat, lon float64) fleet.Client {
	return fleet.Client{ID: id, Priority: p, Demand: demand, Location: fleet.Coordinate{Lat: lat, Lon: lon}}
}

func TestAssignSingleClientTwoVehicles(t *testing.T) {
	e := NewEngine(network(client("C1", fleet.PriorityUrgent, 1, -9.61, -35.70)), &fakeRouter{}, logger.NopLogger{})

	a, ok := e.Assign(context.Background(), vehA, hubA.Location)
	require.True(t, ok)
	assert.Equal(t, "C1", a.Client.ID)
	assert.Equal(t, "VA", a.Route.VehicleID)
	assert.Contains(t, a.Route.ID, "VA_route_")

	_, ok = e.Assign(context.Background(), vehB, hubB.Location)
	assert.False(t, ok)

	c, _ := e.Client("C1")
	assert.True(t, c.InService)
	assert.Equal(t, 1, c.Remaining)
}

func TestAssignPrefersPriorityTierOverDistance(t *testing.T) {
	e := NewEngine(network(
		client("near-low", fleet.PriorityLow, 1, -9.601, -35.701),
		client("far-high", fleet.PriorityHigh, 1, -9.90, -35.90),
	), &fakeRouter{}, nil)

	a, ok := e.Assign(context.Background(), vehA, hubA.Location)
	require.True(t, ok)
	assert.Equal(t, "far-high", a.Client.ID)
}

func TestAssignNearestToHomeHub(t *testing.T) {
	e := NewEngine(network(
		client("nearB", fleet.PriorityNormal, 1, -9.69, -35.75),
		client("nearA", fleet.PriorityNormal, 1, -9.61, -35.70),
	), &fakeRouter{}, nil)

	// Vehicle B is physically near A's client but ranks from its home hub.
	a, ok := e.Assign(context.Background(), vehB, hubA.Location)
	require.True(t, ok)
	assert.Equal(t, "nearB", a.Client.ID)
	assert.Equal(t, hubA.Location, a.Route.Origin)
}

func TestAssignTieFirstSeen(t *testing.T) {
	e := NewEngine(network(
		client("first", fleet.PriorityNormal, 1, -9.61, -35.70),
		client("second", fleet.PriorityNormal, 1, -9.61, -35.70),
	), &fakeRouter{}, nil)
	a, ok := e.Assign(context.Background(), vehA, hubA.Location)
	require.True(t, ok)
	assert.Equal(t, "first", a.Client.ID)
}

func TestAssignNoEligibleIsIdempotent(t *testing.T) {
	r := &fakeRouter{}
	e := NewEngine(network(client("C0", fleet.PriorityNormal, 0, -9.61, -35.70)), r, nil)
	before := e.Clients()

	for i := 0; i < 3; i++ {
		_, ok := e.Assign(context.Background(), vehA, hubA.Location)
		assert.False(t, ok)
	}
	assert.Equal(t, before, e.Clients())
	assert.Zero(t, r.calls)
	assert.False(t, e.HasPendingDemand())
}

func TestAssignRollsBackOnRouteFailure(t *testing.T) {
	r := &fakeRouter{err: routing.ErrInvalidCoordinate}
	e := NewEngine(network(client("C1", fleet.PriorityNormal, 2, -9.61, -35.70)), r, nil)

	_, ok := e.Assign(context.Background(), vehA, hubA.Location)
	assert.False(t, ok)
	c, _ := e.Client("C1")
	assert.False(t, c.InService)
	assert.Equal(t, 2, c.Remaining)
	assert.True(t, e.HasPendingDemand())

	r.err = nil
	_, ok = e.Assign(context.Background(), vehA, hubA.Location)
	assert.True(t, ok)
}

type explodingRouter struct{}

func (explodingRouter) ComputeRoute(context.Context, fleet.Coordinate, fleet.Coordinate, string) (fleet.DetailedRoute, error) {
	panic("road service exploded")
}

func TestAssignReleasesReservationOnRouterPanic(t *testing.T) {
	e := NewEngine(network(client("C1", fleet.PriorityNormal, 1, -9.61, -35.70)), explodingRouter{}, nil)

	assert.Panics(t, func() { e.Assign(context.Background(), vehA, hubA.Location) })
	c, _ := e.Client("C1")
	assert.False(t, c.InService)
	assert.Equal(t, 1, c.Remaining)
	assert.True(t, e.HasPendingDemand())
}

func TestCompleteDelivery(t *testing.T) {
	e := NewEngine(network(client("C1", fleet.PriorityNormal, 1, -9.61, -35.70)), &fakeRouter{}, nil)

	err := e.CompleteDelivery("C1")
	assert.True(t, errors.Is(err, ErrNotInService))
	assert.ErrorIs(t, e.CompleteDelivery("nope"), ErrUnknownClient)

	_, ok := e.Assign(context.Background(), vehA, hubA.Location)
	require.True(t, ok)
	st := e.Stats()
	assert.Equal(t, 1, st.InService)
	assert.Equal(t, 0, st.Pending)

	require.NoError(t, e.CompleteDelivery("C1"))
	c, _ := e.Client("C1")
	assert.Zero(t, c.Remaining)
	assert.False(t, c.InService)
	st = e.Stats()
	assert.Equal(t, 1, st.Delivered)
	assert.Zero(t, st.RemainingDemand)
	assert.False(t, e.HasPendingDemand())
}

func TestRelease(t *testing.T) {
	e := NewEngine(network(client("C1", fleet.PriorityNormal, 1, -9.61, -35.70)), &fakeRouter{}, nil)
	_, ok := e.Assign(context.Background(), vehA, hubA.Location)
	require.True(t, ok)
	e.Release("C1")
	e.Release("unknown")
	c, _ := e.Client("C1")
	assert.False(t, c.InService)
	assert.Equal(t, 1, c.Remaining)
}

func TestConcurrentAssignNeverDoubleBooks(t *testing.T) {
	e := NewEngine(network(client("C1", fleet.PriorityNormal, 5, -9.61, -35.70)), &fakeRouter{}, nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := e.Assign(context.Background(), vehA, hubA.Location); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
