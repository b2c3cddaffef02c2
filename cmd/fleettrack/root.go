package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/db"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/routing"
	"fleet-tracker/internal/topology"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "fleettrack",
	Short:        "Delivery fleet dispatch and live tracking",
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// openProvider picks Postgres when a database is configured, the topology
// directory otherwise. The returned func releases the provider.
func openProvider(ctx context.Context, cfg *config.Config, log logger.Logger) (topology.Provider, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Infof("reading networks from %s", cfg.TopologyDir)
		return topology.NewFileProvider(cfg.TopologyDir), func() {}, nil
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}
	closeDB := func() { closeQuietly(sqlDB, log) }
	if err := db.Ping(ctx, sqlDB); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	p := db.NewProvider(sqlDB)
	if err := p.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}
	log.Infof("reading networks from postgres")
	return p, closeDB, nil
}

func closeQuietly(sqlDB *sql.DB, log logger.Logger) {
	if err := sqlDB.Close(); err != nil {
		log.Warnf("db close: %v", err)
	}
}

func newRouter(cfg *config.Config, log logger.Logger) (*routing.Service, error) {
	opts := []routing.Option{
		routing.WithUrbanSpeed(cfg.UrbanSpeedKmh),
		routing.WithWaypoints(cfg.FallbackWaypoints),
		routing.WithClock(clock(cfg)),
		routing.WithLogger(log),
	}
	if cfg.RoadGraphFile != "" {
		g, err := routing.LoadGraphFile(cfg.RoadGraphFile, cfg.UrbanSpeedKmh)
		if err != nil {
			return nil, err
		}
		log.Infof("road graph loaded: %d nodes", g.Len())
		opts = append(opts, routing.WithGraph(g))
	}
	return routing.NewService(opts...), nil
}

func clock(cfg *config.Config) func() time.Time {
	loc := cfg.Location
	return func() time.Time { return time.Now().In(loc) }
}
