package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
	"fleet-tracker/internal/routing"
)

const (
	minSpeedKmh = 5.0
	maxSpeedKmh = 70.0
	hubJitter   = 0.001
)

func (e *Engine) step(ctx context.Context, st *vehicleState, now time.Time, tx *stepTx) error {
	if st.frozen(now) {
		return nil
	}
	switch st.status {
	case fleet.StatusIdle:
		e.assign(ctx, st, now, tx)
	case fleet.StatusMoving, fleet.StatusReturning:
		if err := e.advance(st, now, tx); err != nil {
			return err
		}
	case fleet.StatusDelivering:
		if err := e.startReturn(ctx, st, now, tx); err != nil {
			return err
		}
	case fleet.StatusRefueling:
		st.pauseUntil = time.Time{}
		st.status = fleet.StatusIdle
		e.emit(st, now, tx)
		e.assign(ctx, st, now, tx)
	default:
		return fmt.Errorf("unknown status %v", st.status)
	}
	st.lastStep = now
	return nil
}

// assign moves an idle vehicle onto an outbound leg when a client is available.
func (e *Engine) assign(ctx context.Context, st *vehicleState, now time.Time, tx *stepTx) {
	a, ok := e.dispatch.Assign(ctx, st.vehicle, st.pos.Coordinate)
	if !ok {
		return
	}
	tx.reserved = a.Client.ID
	tx.setRoutes = append(tx.setRoutes, a.Route)

	st.status = fleet.StatusMoving
	st.clientID = a.Client.ID
	st.pauseUntil = time.Time{}
	st.leg = &leg{
		routeID:   a.Route.ID,
		target:    100,
		pctPerMin: e.uniform(10, 20),
		baseKmh:   e.uniform(25, 40),
	}
	st.pos.Speed = st.leg.baseKmh
	if wps := a.Route.Waypoints; len(wps) > 1 {
		st.pos.Heading = geo.Bearing(wps[0].Coordinate, wps[1].Coordinate)
	}
	e.emit(st, now, tx)
	e.log.Debugf("vehicle %s assigned to client %s (route %s, %.2f km)", st.vehicle.ID, a.Client.ID, a.Route.ID, a.Route.TotalDistanceKm)
}

// advance moves a travelling vehicle along its leg and handles arrival.
func (e *Engine) advance(st *vehicleState, now time.Time, tx *stepTx) error {
	l := st.leg
	if l == nil {
		return fmt.Errorf("%s without a route", st.status)
	}
	route, ok := e.store.Route(l.routeID)
	if !ok {
		e.log.Warnf("vehicle %s: route %s disappeared, abandoning leg", st.vehicle.ID, l.routeID)
		if st.status == fleet.StatusMoving && st.clientID != "" {
			tx.released = append(tx.released, st.clientID)
		}
		st.status = fleet.StatusIdle
		st.leg = nil
		st.clientID = ""
		st.pos.Speed = 0
		e.emit(st, now, tx)
		return nil
	}

	elapsed := e.tickInterval.Seconds()
	if !st.lastStep.IsZero() {
		elapsed = math.Max(0, now.Sub(st.lastStep).Seconds())
	}
	l.progress = math.Min(l.target, l.progress+l.pctPerMin*elapsed/60)

	loc, heading := routing.PositionAt(route, l.progress/100)
	st.pos.Coordinate = loc
	st.pos.Heading = heading
	st.pos.Speed = clamp(l.baseKmh*e.uniform(0.8, 1.2), minSpeedKmh, maxSpeedKmh)
	if l.progress < l.target {
		e.emit(st, now, tx)
		return nil
	}

	tx.removeRoutes = append(tx.removeRoutes, l.routeID)
	st.leg = nil
	st.pos.Speed = 0
	if st.status == fleet.StatusMoving {
		st.pos.Coordinate = route.Destination
		st.status = fleet.StatusDelivering
		st.pauseUntil = now.Add(minutes(e.uniform(0, 1)))
	} else {
		st.pos.Coordinate = e.jitter(e.hubs[st.vehicle.HomeHub].Location)
		st.status = fleet.StatusRefueling
		st.pauseUntil = now.Add(minutes(e.uniform(1.5, 2.0)))
	}
	e.emit(st, now, tx)
	return nil
}

// startReturn closes the delivery and puts the vehicle on a leg back to its
// home hub. A failed return route leaves the vehicle delivering.
func (e *Engine) startReturn(ctx context.Context, st *vehicleState, now time.Time, tx *stepTx) error {
	hub, ok := e.hubs[st.vehicle.HomeHub]
	if !ok {
		return fmt.Errorf("unknown home hub %q", st.vehicle.HomeHub)
	}
	id := fmt.Sprintf("%s_return_%s", st.vehicle.ID, uuid.NewString())
	route, err := e.router.ComputeRoute(ctx, st.pos.Coordinate, hub.Location, id)
	if err != nil {
		return fmt.Errorf("return route: %w", err)
	}
	route.VehicleID = st.vehicle.ID

	if st.clientID == "" {
		tx.missingClient = true
	} else {
		tx.completed = append(tx.completed, st.clientID)
	}
	tx.setRoutes = append(tx.setRoutes, route)

	st.clientID = ""
	st.status = fleet.StatusReturning
	st.pauseUntil = time.Time{}
	st.leg = &leg{
		routeID:   route.ID,
		target:    100,
		pctPerMin: e.uniform(12, 18),
		baseKmh:   e.uniform(30, 50),
	}
	st.pos.Speed = st.leg.baseKmh
	e.emit(st, now, tx)
	return nil
}

func (e *Engine) emit(st *vehicleState, now time.Time, tx *stepTx) {
	st.pos.Timestamp = now
	st.pos.Status = st.status
	tx.positions = append(tx.positions, st.pos)
}

func (e *Engine) uniform(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}

func (e *Engine) jitter(c fleet.Coordinate) fleet.Coordinate {
	return fleet.Coordinate{
		Lat: c.Lat + e.uniform(-hubJitter, hubJitter),
		Lon: c.Lon + e.uniform(-hubJitter, hubJitter),
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
