package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"fleet-tracker/internal/dispatch"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/telemetry"
)

var (
	ErrUnknownVehicle = errors.New("sim: unknown vehicle")
	ErrTickFailed     = errors.New("sim: every vehicle update failed")
)

// Router builds outbound and return legs.
type Router interface {
	ComputeRoute(ctx context.Context, origin, destination fleet.Coordinate, id string) (fleet.DetailedRoute, error)
}

type Options struct {
	TickInterval time.Duration
	ErrorBackoff time.Duration
	Clock        func() time.Time
	Rand         *rand.Rand
	Logger       logger.Logger
	Metrics      *metrics.Collector
}

// Engine advances every vehicle of one network once per tick. mu is the
// network lock: it serialises ticks, snapshots and manual overrides.
type Engine struct {
	networkID    string
	network      *fleet.Network
	hubs         map[string]fleet.Hub
	store        *telemetry.Store
	dispatch     *dispatch.Engine
	router       Router
	log          logger.Logger
	metrics      *metrics.Collector
	clock        func() time.Time
	tickInterval time.Duration
	errorBackoff time.Duration

	mu            sync.Mutex
	rng           *rand.Rand
	states        []*vehicleState
	ticks         uint64
	vehicleErrors int
	missingClient int
	lastTick      time.Time
	complete      bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine places every vehicle idle at its home hub. It fails when a
// vehicle references an unknown hub.
func NewEngine(n *fleet.Network, router Router, opts Options) (*Engine, error) {
	if err := n.CheckVehicles(); err != nil {
		return nil, err
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger{}
	}

	e := &Engine{
		networkID:    n.ID,
		network:      n,
		hubs:         make(map[string]fleet.Hub, len(n.Hubs)),
		store:        telemetry.NewStore(),
		router:       router,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		clock:        opts.Clock,
		tickInterval: opts.TickInterval,
		errorBackoff: opts.ErrorBackoff,
		rng:          opts.Rand,
	}
	e.dispatch = dispatch.NewEngine(n, router, opts.Logger)
	for _, h := range n.Hubs {
		e.hubs[h.ID] = h
	}

	now := e.clock()
	for _, v := range n.Vehicles {
		st := &vehicleState{
			vehicle: v,
			status:  fleet.StatusIdle,
			pos: fleet.VehiclePosition{
				VehicleID:  v.ID,
				Coordinate: e.jitter(e.hubs[v.HomeHub].Location),
				Timestamp:  now,
				Heading:    e.uniform(0, 360),
				Status:     fleet.StatusIdle,
			},
		}
		e.states = append(e.states, st)
		e.store.SetPosition(st.pos)
	}
	return e, nil
}

func (e *Engine) NetworkID() string          { return e.networkID }
func (e *Engine) Network() *fleet.Network    { return e.network }
func (e *Engine) Store() *telemetry.Store    { return e.store }
func (e *Engine) Dispatch() *dispatch.Engine { return e.dispatch }

// Start launches the tick loop. It returns false when the loop is already
// running.
func (e *Engine) Start(parent context.Context) bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return false
	}

	e.mu.Lock()
	for _, st := range e.states {
		st.lastStep = time.Time{}
	}
	e.complete = false
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.log.Infof("tick loop started (%d vehicles, interval %s)", len(e.states), e.tickInterval)

	go func() {
		defer close(done)
		e.run(ctx)
		cancel()
		e.runMu.Lock()
		if e.done == done {
			e.cancel = nil
		}
		e.runMu.Unlock()
		e.log.Infof("tick loop stopped")
	}()
	return true
}

// Stop cancels the tick loop and waits for it to exit. It must not be called
// from the loop itself.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.cancel != nil
}

// Complete reports whether the last tick found every vehicle idle with no
// demand left to assign.
func (e *Engine) Complete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

func (e *Engine) run(ctx context.Context) {
	timer := time.NewTimer(e.tickInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		wait := e.tickInterval
		if err := e.Tick(ctx, e.clock()); err != nil {
			e.log.Errorf("tick failed, retrying in %s: %v", e.errorBackoff, err)
			if e.metrics != nil {
				e.metrics.TickErrors.Inc()
			}
			wait = e.errorBackoff
		}
		if e.Complete() {
			e.log.Infof("all demand served and every vehicle idle")
			if e.metrics != nil {
				e.metrics.SimulationsCompleted.Inc()
			}
			return
		}
		timer.Reset(wait)
	}
}

// Tick advances every vehicle once, in network order. A failing vehicle keeps
// its previous state and does not affect the others. The returned error is
// non-nil only when every vehicle failed.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	failed := 0
	for i, st := range e.states {
		next := st.clone()
		tx := &stepTx{}
		if err := e.safeStep(ctx, &next, now, tx); err != nil {
			failed++
			e.vehicleErrors++
			e.rollback(tx)
			e.log.Errorf("vehicle %s: update failed: %v", st.vehicle.ID, err)
			if e.metrics != nil {
				e.metrics.VehicleErrors.Inc()
			}
			continue
		}
		e.commit(st.vehicle.ID, tx)
		e.states[i] = &next
	}
	e.ticks++
	e.lastTick = now
	e.complete = e.allIdleLocked() && !e.dispatch.HasPendingDemand()

	if e.metrics != nil {
		e.metrics.Ticks.Inc()
		e.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	if len(e.states) > 0 && failed == len(e.states) {
		return fmt.Errorf("%w (%d vehicles)", ErrTickFailed, failed)
	}
	return nil
}

func (e *Engine) safeStep(ctx context.Context, st *vehicleState, now time.Time, tx *stepTx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.step(ctx, st, now, tx)
}

func (e *Engine) commit(vehicleID string, tx *stepTx) {
	for _, id := range tx.completed {
		if err := e.dispatch.CompleteDelivery(id); err != nil {
			e.log.Warnf("vehicle %s: %v", vehicleID, err)
			continue
		}
		if e.metrics != nil {
			e.metrics.Deliveries.Inc()
		}
	}
	for _, id := range tx.released {
		e.dispatch.Release(id)
	}
	if tx.missingClient {
		e.missingClient++
		e.log.Warnf("vehicle %s: delivery finished without a client, no demand decremented", vehicleID)
		if e.metrics != nil {
			e.metrics.MissingClients.Inc()
		}
	}
	for _, id := range tx.removeRoutes {
		e.store.RemoveRoute(id)
	}
	for _, r := range tx.setRoutes {
		e.store.SetRoute(r)
	}
	for _, p := range tx.positions {
		e.store.SetPosition(p)
	}
	if tx.reserved != "" && e.metrics != nil {
		e.metrics.Assignments.Inc()
	}
}

func (e *Engine) rollback(tx *stepTx) {
	if tx.reserved != "" {
		e.dispatch.Release(tx.reserved)
	}
}

func (e *Engine) allIdleLocked() bool {
	for _, st := range e.states {
		if st.status != fleet.StatusIdle {
			return false
		}
	}
	return true
}

// OverridePosition replaces a vehicle's observed location, speed and heading
// and returns the stored position. The status always mirrors the vehicle's
// movement state, so a travelling vehicle resumes its route on the next tick
// and an idle one keeps reporting idle.
func (e *Engine) OverridePosition(p fleet.VehiclePosition) (fleet.VehiclePosition, error) {
	if !p.Coordinate.Valid() {
		return fleet.VehiclePosition{}, fmt.Errorf("invalid coordinate for vehicle %s", p.VehicleID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		if st.vehicle.ID != p.VehicleID {
			continue
		}
		if p.Timestamp.IsZero() {
			p.Timestamp = e.clock()
		}
		p.Status = st.status
		st.pos.Coordinate = p.Coordinate
		st.pos.Speed = p.Speed
		st.pos.Heading = p.Heading
		st.pos.Timestamp = p.Timestamp
		e.store.SetPosition(p)
		return p, nil
	}
	return fleet.VehiclePosition{}, fmt.Errorf("%w: %s", ErrUnknownVehicle, p.VehicleID)
}

// Snapshot captures positions, statistics and active routes atomically with
// respect to ticks.
func (e *Engine) Snapshot(now time.Time) fleet.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fleet.Snapshot{
		Type:       fleet.MessageNetworkUpdate,
		NetworkID:  e.networkID,
		Timestamp:  now,
		Statistics: e.statisticsLocked(),
		Positions:  e.store.Positions(telemetry.Filter{}),
		Routes:     e.store.Routes(),
	}
}
