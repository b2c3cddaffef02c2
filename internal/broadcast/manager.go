package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/sim"
)

var (
	ErrNotTracked     = errors.New("broadcast: network has no subscribers")
	ErrUnknownCommand = errors.New("unknown command")
)

// Conn is one subscriber connection.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Open() bool
	Close() error
}

// Loader resolves a network id to its topology.
type Loader interface {
	Load(ctx context.Context, id string) (*fleet.Network, error)
}

// EngineFactory builds the simulation for a freshly tracked network.
type EngineFactory func(n *fleet.Network) (*sim.Engine, error)

// SnapshotSink receives every snapshot that was pushed to subscribers.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap fleet.Snapshot, payload []byte) error
}

// NetworkForgetter is implemented by sinks that hold per-network state.
type NetworkForgetter interface {
	ForgetNetwork(ctx context.Context, networkID string) error
}

type Options struct {
	BroadcastInterval time.Duration
	SweepInterval     time.Duration
	ErrorBackoff      time.Duration
	Router            sim.Router
	Sinks             []SnapshotSink
	Clock             func() time.Time
	Logger            logger.Logger
	Metrics           *metrics.Collector
}

// Manager owns one networkContext per tracked network. A context is created
// by the first subscriber and destroyed when the last one leaves.
type Manager struct {
	loader    Loader
	newEngine EngineFactory
	opts      Options
	log       logger.Logger
	metrics   *metrics.Collector

	mu          sync.Mutex
	networks    map[string]*networkContext
	subscribers int
}

type networkContext struct {
	id       string
	engine   *sim.Engine
	log      logger.Logger
	loopCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu           sync.Mutex
	subs         map[string]Conn
	pending      map[string]struct{} // initial data not yet delivered
	missed       bool
	last         []byte
	lastUpdate   time.Time
	broadcasting bool
}

func NewManager(loader Loader, newEngine EngineFactory, opts Options) *Manager {
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = 2 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger{}
	}
	return &Manager{
		loader:    loader,
		newEngine: newEngine,
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		networks:  make(map[string]*networkContext),
	}
}

// Subscribe registers conn and sends it the network topology. The first
// subscriber of a network loads it and starts the tick, broadcast and sweep
// loops. Failures are reported to conn as an error message.
func (m *Manager) Subscribe(ctx context.Context, networkID string, conn Conn) error {
	m.mu.Lock()
	nc, ok := m.networks[networkID]
	if !ok {
		m.mu.Unlock()
		created, err := m.open(ctx, networkID)
		if err != nil {
			m.reply(ctx, conn, Message{Type: TypeError, Message: fmt.Sprintf("failed to load network: %v", err)})
			return err
		}
		m.mu.Lock()
		if nc, ok = m.networks[networkID]; !ok {
			nc = created
			m.networks[networkID] = nc
			m.start(nc)
		} else {
			// Another subscriber won the race.
			created.engine.Stop()
		}
	}
	nc.mu.Lock()
	if _, dup := nc.subs[conn.ID()]; !dup {
		m.subscribers++
	}
	nc.subs[conn.ID()] = conn
	nc.pending[conn.ID()] = struct{}{}
	total := len(nc.subs)
	m.updateGauges()
	m.mu.Unlock()
	nc.mu.Unlock()
	defer nc.ready(conn.ID())

	nc.log.Infof("subscriber %s joined (%d total)", conn.ID(), total)

	msg, err := json.Marshal(Message{Type: TypeInitialData, Data: nc.engine.Network()})
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, msg); err != nil {
		nc.log.Warnf("subscriber %s: initial data: %v", conn.ID(), err)
	}
	return nil
}

// ready ends the pending phase of a subscriber. A snapshot pushed while it
// was pending is pushed again on the next broadcast.
func (nc *networkContext) ready(id string) {
	nc.mu.Lock()
	delete(nc.pending, id)
	if nc.missed && len(nc.pending) == 0 {
		nc.last = nil
		nc.missed = false
	}
	nc.mu.Unlock()
}

func (m *Manager) open(ctx context.Context, networkID string) (*networkContext, error) {
	n, err := m.loader.Load(ctx, networkID)
	if err != nil {
		return nil, err
	}
	if n.ID == "" {
		n.ID = networkID
	}
	engine, err := m.newEngine(n)
	if err != nil {
		return nil, err
	}
	return &networkContext{
		id:      networkID,
		engine:  engine,
		log:     m.log.With("network", networkID),
		subs:    make(map[string]Conn),
		pending: make(map[string]struct{}),
	}, nil
}

// start launches the network's loops. Loops are bound to their own context,
// independent of the subscribing request.
func (m *Manager) start(nc *networkContext) {
	ctx, cancel := context.WithCancel(context.Background())
	nc.loopCtx, nc.cancel = ctx, cancel
	nc.broadcasting = true
	nc.engine.Start(ctx)
	nc.wg.Add(2)
	go func() {
		defer nc.wg.Done()
		m.broadcastLoop(ctx, nc)
	}()
	go func() {
		defer nc.wg.Done()
		m.sweepLoop(ctx, nc)
	}()
	nc.log.Infof("tracking started")
}

// Unsubscribe removes conn. Removing the last subscriber stops the network's
// loops and waits for them to exit.
func (m *Manager) Unsubscribe(networkID, connID string) {
	m.mu.Lock()
	nc, ok := m.networks[networkID]
	if !ok {
		m.mu.Unlock()
		return
	}
	empty := m.removeLocked(nc, connID)
	m.mu.Unlock()
	nc.log.Infof("subscriber %s left", connID)
	if empty {
		m.teardown(nc)
	}
}

// removeLocked drops subscribers from nc and unregisters nc once it is empty.
// m.mu must be held.
func (m *Manager) removeLocked(nc *networkContext, ids ...string) bool {
	nc.mu.Lock()
	for _, id := range ids {
		if _, ok := nc.subs[id]; ok {
			delete(nc.subs, id)
			delete(nc.pending, id)
			m.subscribers--
		}
	}
	empty := len(nc.subs) == 0
	if empty {
		nc.broadcasting = false
		nc.last = nil
	}
	nc.mu.Unlock()
	if empty && m.networks[nc.id] == nc {
		delete(m.networks, nc.id)
	}
	m.updateGauges()
	return empty
}

// teardown stops the network's loops and waits for them. Loops call it on a
// fresh goroutine so they never wait on themselves.
func (m *Manager) teardown(nc *networkContext) {
	nc.stopOnce.Do(func() {
		nc.mu.Lock()
		nc.broadcasting = false
		nc.last = nil
		nc.mu.Unlock()
		if nc.cancel != nil {
			nc.cancel()
		}
		nc.engine.Stop()
		nc.wg.Wait()
		m.forget(nc)
		nc.log.Infof("tracking stopped")
	})
}

func (m *Manager) forget(nc *networkContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range m.opts.Sinks {
		f, ok := s.(NetworkForgetter)
		if !ok {
			continue
		}
		if err := f.ForgetNetwork(ctx, nc.id); err != nil {
			nc.log.Warnf("snapshot sink: %v", err)
		}
	}
}

// drop removes subscribers from inside a loop.
func (m *Manager) drop(nc *networkContext, conns []Conn) {
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID()
		_ = c.Close()
	}
	m.mu.Lock()
	empty := m.removeLocked(nc, ids...)
	m.mu.Unlock()
	if empty {
		go m.teardown(nc)
	}
}

func (m *Manager) broadcastLoop(ctx context.Context, nc *networkContext) {
	wait := m.opts.BroadcastInterval
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !nc.isBroadcasting() {
			return
		}
		wait = m.opts.BroadcastInterval
		if err := m.broadcastOnce(ctx, nc); err != nil {
			nc.log.Errorf("broadcast failed, retrying in %s: %v", m.opts.ErrorBackoff, err)
			wait = m.opts.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

// broadcastOnce pushes the current snapshot when its content changed since
// the last push. Subscribers whose send fails are dropped.
func (m *Manager) broadcastOnce(ctx context.Context, nc *networkContext) error {
	snap := nc.engine.Snapshot(m.opts.Clock())
	fp, err := snap.Fingerprint()
	if err != nil {
		return fmt.Errorf("fingerprint snapshot: %w", err)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	nc.mu.Lock()
	if !nc.broadcasting || len(nc.subs) == 0 {
		nc.mu.Unlock()
		return nil
	}
	if bytes.Equal(fp, nc.last) {
		nc.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SnapshotsSkipped.Inc()
		}
		return nil
	}
	nc.last = fp
	nc.lastUpdate = snap.Timestamp
	subs := make([]Conn, 0, len(nc.subs))
	for id, c := range nc.subs {
		if _, wait := nc.pending[id]; wait {
			nc.missed = true
			continue
		}
		subs = append(subs, c)
	}
	nc.mu.Unlock()

	var failed []Conn
	for _, c := range subs {
		if err := c.Send(ctx, payload); err != nil {
			nc.log.Warnf("subscriber %s: send failed, dropping: %v", c.ID(), err)
			failed = append(failed, c)
		}
	}
	if m.metrics != nil {
		m.metrics.SnapshotsSent.Inc()
		m.metrics.SendFailures.Add(float64(len(failed)))
	}
	if len(failed) > 0 {
		m.drop(nc, failed)
	}

	for _, s := range m.opts.Sinks {
		if err := s.PublishSnapshot(ctx, snap, payload); err != nil {
			nc.log.Warnf("snapshot sink: %v", err)
		}
	}
	return nil
}

func (m *Manager) sweepLoop(ctx context.Context, nc *networkContext) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !nc.isBroadcasting() {
			return
		}
		m.sweep(nc)
	}
}

// sweep removes subscribers whose connection is no longer open.
func (m *Manager) sweep(nc *networkContext) {
	nc.mu.Lock()
	var dead []Conn
	for _, c := range nc.subs {
		if !c.Open() {
			dead = append(dead, c)
		}
	}
	nc.mu.Unlock()
	if len(dead) == 0 {
		return
	}
	nc.log.Infof("sweeping %d closed subscribers", len(dead))
	if m.metrics != nil {
		m.metrics.SweptSubscribers.Add(float64(len(dead)))
	}
	m.drop(nc, dead)
}

func (nc *networkContext) isBroadcasting() bool {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.broadcasting
}

func (m *Manager) lookup(networkID string) (*networkContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nc, ok := m.networks[networkID]
	return nc, ok
}

// NetworkStats reports connection and movement statistics for one network.
// Untracked networks report zero connections.
func (m *Manager) NetworkStats(networkID string) NetworkStats {
	nc, ok := m.lookup(networkID)
	if !ok {
		return NetworkStats{NetworkID: networkID}
	}
	return nc.stats()
}

func (nc *networkContext) stats() NetworkStats {
	nc.mu.Lock()
	st := NetworkStats{
		NetworkID:         nc.id,
		ActiveConnections: len(nc.subs),
		Broadcasting:      nc.broadcasting,
	}
	if !nc.lastUpdate.IsZero() {
		t := nc.lastUpdate
		st.LastUpdate = &t
	}
	nc.mu.Unlock()
	ms := nc.engine.Stats()
	st.Movement = &ms
	return st
}

// Overview reports every tracked network, sorted by id.
func (m *Manager) Overview() Overview {
	m.mu.Lock()
	ncs := make([]*networkContext, 0, len(m.networks))
	for _, nc := range m.networks {
		ncs = append(ncs, nc)
	}
	m.mu.Unlock()
	sort.Slice(ncs, func(i, j int) bool { return ncs[i].id < ncs[j].id })

	ov := Overview{Networks: make([]NetworkStats, 0, len(ncs))}
	for _, nc := range ncs {
		st := nc.stats()
		ov.TotalConnections += st.ActiveConnections
		ov.Networks = append(ov.Networks, st)
	}
	ov.TotalNetworks = len(ov.Networks)
	return ov
}

// Close stops every network and closes its subscribers.
func (m *Manager) Close() {
	m.mu.Lock()
	ncs := make([]*networkContext, 0, len(m.networks))
	for id, nc := range m.networks {
		ncs = append(ncs, nc)
		delete(m.networks, id)
	}
	m.subscribers = 0
	m.updateGauges()
	m.mu.Unlock()
	for _, nc := range ncs {
		nc.mu.Lock()
		for _, c := range nc.subs {
			_ = c.Close()
		}
		nc.subs = map[string]Conn{}
		nc.mu.Unlock()
		m.teardown(nc)
	}
}

// updateGauges must be called with m.mu held.
func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.ActiveNetworks.Set(float64(len(m.networks)))
	m.metrics.Subscribers.Set(float64(m.subscribers))
}

func (m *Manager) reply(ctx context.Context, conn Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Errorf("encode reply: %v", err)
		return
	}
	if err := conn.Send(ctx, b); err != nil {
		m.log.Warnf("subscriber %s: reply failed: %v", conn.ID(), err)
	}
}
