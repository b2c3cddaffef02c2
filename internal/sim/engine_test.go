package sim

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/routing"
)

var (
	t0   = time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	hub1 = fleet.Hub{ID: "H1", Location: fleet.Coordinate{Lat: -9.600, Lon: -35.700}}
	hub2 = fleet.Hub{ID: "H2", Location: fleet.Coordinate{Lat: -9.700, Lon: -35.760}}
)

func testNetwork(vehicles []fleet.Vehicle, clients ...fleet.Client) *fleet.Network {
	return &fleet.Network{
		ID:       "net-1",
		Hubs:     []fleet.Hub{hub1, hub2},
		Vehicles: vehicles,
		Clients:  clients,
	}
}

func testClient(id string, demand int) fleet.Client {
	return fleet.Client{
		ID:       id,
		Demand:   demand,
		Priority: fleet.PriorityNormal,
		Location: fleet.Coordinate{Lat: -9.612, Lon: -35.711},
	}
}

func newTestEngine(t *testing.T, n *fleet.Network, router Router) *Engine {
	t.Helper()
	if router == nil {
		router = routing.NewService(routing.WithClock(func() time.Time { return t0 }))
	}
	e, err := NewEngine(n, router, Options{
		TickInterval: time.Second,
		Clock:        func() time.Time { return t0 },
		Rand:         rand.New(rand.NewSource(7)),
		Logger:       logger.NopLogger{},
	})
	require.NoError(t, err)
	return e
}

func statusOf(e *Engine, vehicleID string) fleet.VehicleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		if st.vehicle.ID == vehicleID {
			return st.status
		}
	}
	return 255
}

func TestNewEngineRejectsUnknownHub(t *testing.T) {
	n := testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "nowhere"}})
	_, err := NewEngine(n, routing.NewService(), Options{})
	assert.Error(t, err)
}

func TestInitialPlacementAtHub(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}), nil)
	p, ok := e.Store().Position("V1")
	require.True(t, ok)
	assert.Equal(t, fleet.StatusIdle, p.Status)
	assert.Zero(t, p.Speed)
	assert.InDelta(t, hub1.Location.Lat, p.Lat, hubJitter)
	assert.InDelta(t, hub1.Location.Lon, p.Lon, hubJitter)
}

func TestFullDeliveryCycle(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 1)), nil)
	ctx := context.Background()

	var seen []fleet.VehicleStatus
	lastDemand := 1
	lastProgress := map[string]float64{}
	now := t0
	for i := 0; i < 200 && !e.Complete(); i++ {
		now = now.Add(15 * time.Second)
		require.NoError(t, e.Tick(ctx, now))

		s := statusOf(e, "V1")
		if len(seen) == 0 || seen[len(seen)-1] != s {
			seen = append(seen, s)
		}
		c, _ := e.Dispatch().Client("C1")
		assert.LessOrEqual(t, c.Remaining, lastDemand)
		lastDemand = c.Remaining

		e.mu.Lock()
		if l := e.states[0].leg; l != nil {
			assert.GreaterOrEqual(t, l.progress, lastProgress[l.routeID])
			lastProgress[l.routeID] = l.progress
		}
		e.mu.Unlock()
	}

	assert.Equal(t, []fleet.VehicleStatus{
		fleet.StatusMoving,
		fleet.StatusDelivering,
		fleet.StatusReturning,
		fleet.StatusRefueling,
		fleet.StatusIdle,
	}, seen)
	c, _ := e.Dispatch().Client("C1")
	assert.Zero(t, c.Remaining)
	assert.False(t, c.InService)
	assert.Zero(t, e.Store().RouteCount())
	assert.True(t, e.Complete())
	assert.Len(t, lastProgress, 2)

	p, _ := e.Store().Position("V1")
	assert.Equal(t, fleet.StatusIdle, p.Status)
	assert.InDelta(t, hub1.Location.Lat, p.Lat, hubJitter)

	st := e.Stats()
	assert.Equal(t, 1, st.DeliveriesCompleted)
	assert.Zero(t, st.MissingClientWarnings)
	assert.Zero(t, st.VehicleErrors)
	require.NotNil(t, st.LastTick)
}

func TestOnlyOneVehicleServesSingleClient(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{
		{ID: "V1", HomeHub: "H1"},
		{ID: "V2", HomeHub: "H2"},
	}, testClient("C1", 1)), nil)

	require.NoError(t, e.Tick(context.Background(), t0.Add(time.Second)))
	assert.Equal(t, fleet.StatusMoving, statusOf(e, "V1"))
	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V2"))
	assert.Equal(t, 1, e.Store().RouteCount())

	stats := e.Statistics()
	assert.Equal(t, 1, stats.Moving)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.ClientsInService)
	assert.Zero(t, stats.PendingClients)
	assert.False(t, stats.Complete)
}

func TestMovingVehicleDeliveringFreezes(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 1)), nil)
	ctx := context.Background()
	now := t0
	for statusOf(e, "V1") != fleet.StatusDelivering {
		now = now.Add(10 * time.Second)
		require.NoError(t, e.Tick(ctx, now))
	}
	p, _ := e.Store().Position("V1")
	assert.Zero(t, p.Speed)
	assert.InDelta(t, -9.612, p.Lat, 1e-9)
	assert.InDelta(t, -35.711, p.Lon, 1e-9)
	assert.Zero(t, e.Store().RouteCount())

	e.mu.Lock()
	pause := e.states[0].pauseUntil
	e.mu.Unlock()
	assert.False(t, pause.Before(now))
	assert.False(t, pause.After(now.Add(time.Minute)))
}

type panickyRouter struct {
	inner  *routing.Service
	prefix string
}

func (p panickyRouter) ComputeRoute(ctx context.Context, o, d fleet.Coordinate, id string) (fleet.DetailedRoute, error) {
	if strings.HasPrefix(id, p.prefix) {
		panic("road service exploded")
	}
	return p.inner.ComputeRoute(ctx, o, d, id)
}

func TestVehicleFailureIsIsolated(t *testing.T) {
	router := panickyRouter{inner: routing.NewService(), prefix: "V1_return_"}
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{
		{ID: "V1", HomeHub: "H1"},
		{ID: "V2", HomeHub: "H1"},
	}, testClient("C1", 1), testClient("C2", 1)), router)
	ctx := context.Background()

	now := t0
	for i := 0; i < 200 && statusOf(e, "V2") != fleet.StatusIdle || i < 2; i++ {
		now = now.Add(15 * time.Second)
		require.NoError(t, e.Tick(ctx, now))
	}

	assert.Equal(t, fleet.StatusDelivering, statusOf(e, "V1"))
	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V2"))
	st := e.Stats()
	assert.Greater(t, st.VehicleErrors, 0)
	assert.Equal(t, 1, st.DeliveriesCompleted)

	var stuck string
	e.mu.Lock()
	stuck = e.states[0].clientID
	e.mu.Unlock()
	c, _ := e.Dispatch().Client(stuck)
	assert.True(t, c.InService)
	assert.Equal(t, 1, c.Remaining)
	assert.False(t, e.Complete())
}

func TestAllVehiclesFailingFailsTick(t *testing.T) {
	router := panickyRouter{inner: routing.NewService(), prefix: "V1_return_"}
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 1)), router)
	ctx := context.Background()
	now := t0
	var err error
	for i := 0; i < 200; i++ {
		now = now.Add(15 * time.Second)
		if err = e.Tick(ctx, now); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrTickFailed)
	assert.Equal(t, fleet.StatusDelivering, statusOf(e, "V1"))
}

func TestRoutePanicDuringAssignReleasesClient(t *testing.T) {
	router := panickyRouter{inner: routing.NewService(), prefix: "V1_route_"}
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 1)), router)

	err := e.Tick(context.Background(), t0.Add(time.Second))
	assert.ErrorIs(t, err, ErrTickFailed)

	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V1"))
	c, _ := e.Dispatch().Client("C1")
	assert.False(t, c.InService)
	assert.Equal(t, 1, c.Remaining)
	assert.True(t, e.Dispatch().HasPendingDemand())
	assert.False(t, e.Complete())
	assert.Empty(t, e.Store().Routes())
}

func TestDeliveryWithoutClientRecordsWarning(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 2)), nil)
	ctx := context.Background()
	now := t0
	for statusOf(e, "V1") != fleet.StatusDelivering {
		now = now.Add(10 * time.Second)
		require.NoError(t, e.Tick(ctx, now))
	}
	e.mu.Lock()
	e.states[0].clientID = ""
	e.mu.Unlock()

	for statusOf(e, "V1") == fleet.StatusDelivering {
		now = now.Add(10 * time.Second)
		require.NoError(t, e.Tick(ctx, now))
	}
	assert.Equal(t, fleet.StatusReturning, statusOf(e, "V1"))
	assert.Equal(t, 1, e.Stats().MissingClientWarnings)
	c, _ := e.Dispatch().Client("C1")
	assert.Equal(t, 2, c.Remaining)
}

func TestVanishedRouteReleasesClient(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 1)), nil)
	ctx := context.Background()
	require.NoError(t, e.Tick(ctx, t0.Add(time.Second)))
	require.Equal(t, fleet.StatusMoving, statusOf(e, "V1"))

	for _, r := range e.Store().Routes() {
		e.Store().RemoveRoute(r.ID)
	}
	require.NoError(t, e.Tick(ctx, t0.Add(2*time.Second)))
	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V1"))
	c, _ := e.Dispatch().Client("C1")
	assert.False(t, c.InService)
	assert.Equal(t, 1, c.Remaining)
}

func TestOverridePosition(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}), nil)
	_, err := e.OverridePosition(fleet.VehiclePosition{VehicleID: "V9", Coordinate: hub1.Location})
	assert.ErrorIs(t, err, ErrUnknownVehicle)

	target := fleet.Coordinate{Lat: -9.65, Lon: -35.72}
	stored, err := e.OverridePosition(fleet.VehiclePosition{
		VehicleID: "V1", Coordinate: target, Speed: 33, Heading: 120, Status: fleet.StatusMoving,
	})
	require.NoError(t, err)
	assert.Equal(t, fleet.StatusIdle, stored.Status)

	p, _ := e.Store().Position("V1")
	assert.Equal(t, target, p.Coordinate)
	assert.Equal(t, 33.0, p.Speed)
	assert.Equal(t, t0, p.Timestamp)
	assert.Equal(t, fleet.StatusIdle, p.Status)
	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V1"))
	assert.Zero(t, e.TrafficStats().MovingVehicles)
}

func TestOverridePositionKeepsMovingStatus(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 1)), nil)
	require.NoError(t, e.Tick(context.Background(), t0.Add(time.Second)))
	require.Equal(t, fleet.StatusMoving, statusOf(e, "V1"))

	stored, err := e.OverridePosition(fleet.VehiclePosition{
		VehicleID: "V1", Coordinate: fleet.Coordinate{Lat: -9.65, Lon: -35.72}, Status: fleet.StatusDelivering,
	})
	require.NoError(t, err)
	assert.Equal(t, fleet.StatusMoving, stored.Status)
}

func TestSnapshotAndTrafficStats(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{
		{ID: "V1", HomeHub: "H1"},
		{ID: "V2", HomeHub: "H2"},
	}, testClient("C1", 1)), nil)
	require.NoError(t, e.Tick(context.Background(), t0.Add(time.Second)))

	snap := e.Snapshot(t0)
	assert.Equal(t, fleet.MessageNetworkUpdate, snap.Type)
	assert.Equal(t, "net-1", snap.NetworkID)
	assert.Len(t, snap.Positions, 2)
	assert.Len(t, snap.Routes, 1)
	assert.Equal(t, 2, snap.Statistics.TotalVehicles)

	ts := e.TrafficStats()
	assert.Equal(t, 1, ts.ActiveRoutes)
	assert.Equal(t, 1, ts.FallbackRoutes)
	assert.Equal(t, 1, ts.MovingVehicles)
	assert.Greater(t, ts.AverageSpeedKmh, 0.0)
	assert.Equal(t, 1.0, ts.TrafficFactor)
	assert.False(t, ts.RoadGraphAvailable)
}

func TestLoopSelfTerminatesWithoutDemand(t *testing.T) {
	e, err := NewEngine(testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 0)),
		routing.NewService(), Options{TickInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.True(t, e.Start(context.Background()))
	assert.False(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return !e.Running() }, time.Second, 5*time.Millisecond)
	assert.True(t, e.Complete())
	e.Stop()
}

func TestNetworkWithoutClientsCompletesOnFirstTick(t *testing.T) {
	e := newTestEngine(t, testNetwork([]fleet.Vehicle{
		{ID: "V1", HomeHub: "H1"},
		{ID: "V2", HomeHub: "H2"},
	}), nil)
	before, _ := e.Store().Position("V1")

	require.NoError(t, e.Tick(context.Background(), t0.Add(time.Second)))
	assert.True(t, e.Complete())
	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V1"))
	assert.Equal(t, fleet.StatusIdle, statusOf(e, "V2"))
	after, _ := e.Store().Position("V1")
	assert.Equal(t, before, after)
}

func TestLoopStopsForNetworkWithoutClients(t *testing.T) {
	e, err := NewEngine(testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}),
		routing.NewService(), Options{TickInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.True(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return !e.Running() }, time.Second, 5*time.Millisecond)
	assert.True(t, e.Complete())
	assert.Equal(t, uint64(1), e.Stats().Ticks)
	e.Stop()
}

func TestStopHaltsTicks(t *testing.T) {
	e, err := NewEngine(testNetwork([]fleet.Vehicle{{ID: "V1", HomeHub: "H1"}}, testClient("C1", 50)),
		routing.NewService(), Options{TickInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.True(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return e.Stats().Ticks > 2 }, time.Second, 5*time.Millisecond)
	e.Stop()
	assert.False(t, e.Running())

	ticks := e.Stats().Ticks
	before, _ := e.Store().Position("V1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, e.Stats().Ticks)
	after, _ := e.Store().Position("V1")
	assert.Equal(t, before, after)

	require.True(t, e.Start(context.Background()))
	e.Stop()
}
