package geoindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/logger"
	"fleet-tracker/internal/metrics"
)

// Redis rejects latitudes outside the Web Mercator range.
const maxGeoLat = 85.05112878

// NearbyVehicle is one GEORADIUS hit.
type NearbyVehicle struct {
	VehicleID string              `json:"vehicle_id"`
	Status    fleet.VehicleStatus `json:"status"`
	DistanceM float64             `json:"distance_m"`
	fleet.Coordinate
}

// Index mirrors live vehicle positions into one Redis GEO set per network and
// status, so proximity queries do not touch the simulation.
type Index struct {
	rdb     *redis.Client
	log     logger.Logger
	metrics *metrics.Collector
}

func New(rdb *redis.Client, log logger.Logger, m *metrics.Collector) *Index {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Index{rdb: rdb, log: log, metrics: m}
}

func redisKey(networkID string, status fleet.VehicleStatus) string {
	return fmt.Sprintf("fleet:%s:%s", strings.ToLower(networkID), status)
}

// PublishSnapshot mirrors the snapshot's positions.
func (ix *Index) PublishSnapshot(ctx context.Context, snap fleet.Snapshot, _ []byte) error {
	return ix.Update(ctx, snap.NetworkID, snap.Positions)
}

// Update moves every vehicle into the set of its current status and removes
// it from the others.
func (ix *Index) Update(ctx context.Context, networkID string, positions []fleet.VehiclePosition) error {
	_, err := ix.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, pos := range positions {
			if !pos.Valid() || math.Abs(pos.Lat) > maxGeoLat {
				ix.log.Warnf("geoindex: skip %s, coordinate out of range (%.6f, %.6f)", pos.VehicleID, pos.Lat, pos.Lon)
				continue
			}
			for _, st := range fleet.AllStatuses() {
				if st != pos.Status {
					p.ZRem(ctx, redisKey(networkID, st), pos.VehicleID)
				}
			}
			p.GeoAdd(ctx, redisKey(networkID, pos.Status), &redis.GeoLocation{
				Name:      pos.VehicleID,
				Longitude: pos.Lon,
				Latitude:  pos.Lat,
			})
		}
		return nil
	})
	if err != nil {
		if ix.metrics != nil {
			ix.metrics.GeoIndexErrors.Inc()
		}
		return fmt.Errorf("geoindex update %s: %w", networkID, err)
	}
	return nil
}

// ForgetNetwork drops every set of a network that stopped being tracked.
func (ix *Index) ForgetNetwork(ctx context.Context, networkID string) error {
	keys := make([]string, 0, len(fleet.AllStatuses()))
	for _, st := range fleet.AllStatuses() {
		keys = append(keys, redisKey(networkID, st))
	}
	if err := ix.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("geoindex forget %s: %w", networkID, err)
	}
	return nil
}

// Nearby returns up to limit vehicles within radiusM metres of c, nearest
// first. No statuses means every status.
func (ix *Index) Nearby(ctx context.Context, networkID string, c fleet.Coordinate, radiusM float64, limit int, statuses ...fleet.VehicleStatus) ([]NearbyVehicle, error) {
	if len(statuses) == 0 {
		statuses = fleet.AllStatuses()
	}
	var out []NearbyVehicle
	for _, st := range statuses {
		res, err := ix.rdb.GeoRadius(ctx, redisKey(networkID, st), c.Lon, c.Lat, &redis.GeoRadiusQuery{
			Radius:    radiusM,
			Unit:      "m",
			WithCoord: true,
			WithDist:  true,
			Count:     limit,
			Sort:      "ASC",
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("geoindex nearby %s: %w", networkID, err)
		}
		for _, loc := range res {
			out = append(out, NearbyVehicle{
				VehicleID:  loc.Name,
				Status:     st,
				DistanceM:  loc.Dist,
				Coordinate: fleet.Coordinate{Lat: loc.Latitude, Lon: loc.Longitude},
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceM < out[j].DistanceM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (ix *Index) Ping(ctx context.Context) error {
	return ix.rdb.Ping(ctx).Err()
}
