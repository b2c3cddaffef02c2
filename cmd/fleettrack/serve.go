package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"fleet-tracker/internal/api"
	"fleet-tracker/internal/broadcast"
	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geoindex"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/metrics"
	"fleet-tracker/internal/publisher"
	"fleet-tracker/internal/sim"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.NewLevel("main", cfg.LogLevel)

	mcol := metrics.NewCollector(cfg.TickInterval, cfg.BroadcastInterval)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	provider, closeProvider, err := openProvider(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeProvider()

	router, err := newRouter(cfg, logger.NewLevel("routing", cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("road graph: %w", err)
	}

	var sinks []broadcast.SnapshotSink
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects,
			wrapPublisherMetrics(mcol), logger.NewLevel("publisher", cfg.LogLevel))
		if err != nil {
			return fmt.Errorf("nats error: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	var nearby api.NearbyFinder
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		idx := geoindex.New(rdb, logger.NewLevel("geoindex", cfg.LogLevel), mcol)
		if err := idx.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		sinks = append(sinks, idx)
		nearby = idx
	}

	mgr := broadcast.NewManager(provider, engineFactory(cfg, router, mcol), broadcast.Options{
		BroadcastInterval: cfg.BroadcastInterval,
		SweepInterval:     cfg.SweepInterval,
		ErrorBackoff:      cfg.ErrorBackoff,
		Router:            router,
		Sinks:             sinks,
		Clock:             clock(cfg),
		Logger:            logger.NewLevel("broadcast", cfg.LogLevel),
		Metrics:           mcol,
	})
	defer mgr.Close()

	srv := api.New(api.Options{
		Manager:        mgr,
		Nearby:         nearby,
		Metrics:        mcol.Handler(),
		AllowedOrigins: cfg.Origins(),
		Logger:         logger.NewLevel("api", cfg.LogLevel),
	})
	err = srv.Run(ctx, cfg.HTTPAddr)
	log.Infof("shutdown complete")
	return err
}

func engineFactory(cfg *config.Config, router sim.Router, mcol *metrics.Collector) broadcast.EngineFactory {
	log := logger.NewLevel("sim", cfg.LogLevel)
	return func(n *fleet.Network) (*sim.Engine, error) {
		return sim.NewEngine(n, router, sim.Options{
			TickInterval: cfg.TickInterval,
			ErrorBackoff: cfg.ErrorBackoff,
			Clock:        clock(cfg),
			Logger:       log.With("network", n.ID),
			Metrics:      mcol,
		})
	}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
