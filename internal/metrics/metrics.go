package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleet-tracker/internal/logger"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveNetworks prometheus.Gauge
	Subscribers    prometheus.Gauge

	Ticks                prometheus.Counter
	TickErrors           prometheus.Counter
	VehicleErrors        prometheus.Counter
	Assignments          prometheus.Counter
	Deliveries           prometheus.Counter
	MissingClients       prometheus.Counter
	SimulationsCompleted prometheus.Counter

	SnapshotsSent    prometheus.Counter
	SnapshotsSkipped prometheus.Counter
	SendFailures     prometheus.Counter
	SweptSubscribers prometheus.Counter

	Commands *prometheus.CounterVec // command, status labels

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	GeoIndexErrors prometheus.Counter

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	TickInterval      prometheus.Gauge // seconds
	BroadcastInterval prometheus.Gauge // seconds
}

func NewCollector(tickInterval, broadcastInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveNetworks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_active_networks",
			Help: "Networks with at least one subscriber.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_subscribers",
			Help: "Open tracking connections across all networks.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_ticks_total",
			Help: "Total simulation ticks.",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_tick_errors_total",
			Help: "Ticks in which every vehicle update failed.",
		}),
		VehicleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_vehicle_update_errors_total",
			Help: "Failed or panicked per-vehicle updates.",
		}),
		Assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_assignments_total",
			Help: "Vehicles dispatched to a client.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_deliveries_total",
			Help: "Completed deliveries.",
		}),
		MissingClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_delivery_missing_client_total",
			Help: "Delivery legs that ended without a client reference.",
		}),
		SimulationsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_simulations_completed_total",
			Help: "Network simulations that ran out of demand.",
		}),
		SnapshotsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_snapshots_sent_total",
			Help: "Changed snapshots pushed to subscribers.",
		}),
		SnapshotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_snapshots_unchanged_total",
			Help: "Snapshots skipped because nothing changed.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_subscriber_send_failures_total",
			Help: "Sends that failed and dropped the subscriber.",
		}),
		SweptSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_subscribers_swept_total",
			Help: "Closed subscribers removed by the sweep.",
		}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_commands_total",
			Help: "Inbound subscriber commands.",
		}, []string{"command", "status"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		GeoIndexErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_geoindex_errors_total",
			Help: "Failed Redis geo index updates.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_tick_interval_seconds",
			Help: "Tick interval in seconds.",
		}),
		BroadcastInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleet_broadcast_interval_seconds",
			Help: "Broadcast interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveNetworks, c.Subscribers,
		c.Ticks, c.TickErrors, c.VehicleErrors, c.Assignments, c.Deliveries, c.MissingClients, c.SimulationsCompleted,
		c.SnapshotsSent, c.SnapshotsSkipped, c.SendFailures, c.SweptSubscribers,
		c.Commands,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.GeoIndexErrors,
		c.TickDuration, c.PublishDuration,
		c.TickInterval, c.BroadcastInterval,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.BroadcastInterval.Set(broadcastInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server error: %v", err)
		}
	}()
	log.Infof("metrics listening on %s", addr)
	return srv
}

