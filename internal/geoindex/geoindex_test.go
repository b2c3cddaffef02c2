package geoindex

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-tracker/internal/fleet"
)

func newIndex(t *testing.T) (*Index, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, nil, nil), mr
}

func pos(id string, lat, lon float64, st fleet.VehicleStatus) fleet.VehiclePosition {
	return fleet.VehiclePosition{VehicleID: id, Coordinate: fleet.Coordinate{Lat: lat, Lon: lon}, Status: st}
}

func members(t *testing.T, mr *miniredis.Miniredis, key string) []string {
	t.Helper()
	if !mr.Exists(key) {
		return nil
	}
	m, err := mr.ZMembers(key)
	require.NoError(t, err)
	return m
}

func TestUpdateMovesBetweenStatusSets(t *testing.T) {
	ix, mr := newIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Update(ctx, "Net-1", []fleet.VehiclePosition{
		pos("V1", -9.60, -35.70, fleet.StatusMoving),
		pos("V2", -9.61, -35.71, fleet.StatusIdle),
	}))
	assert.Equal(t, []string{"V1"}, members(t, mr, "fleet:net-1:moving"))
	assert.Equal(t, []string{"V2"}, members(t, mr, "fleet:net-1:idle"))

	require.NoError(t, ix.Update(ctx, "net-1", []fleet.VehiclePosition{
		pos("V1", -9.62, -35.72, fleet.StatusDelivering),
	}))
	assert.Empty(t, members(t, mr, "fleet:net-1:moving"))
	assert.Equal(t, []string{"V1"}, members(t, mr, "fleet:net-1:delivering"))
}

func TestUpdateSkipsOutOfRangeCoordinates(t *testing.T) {
	ix, mr := newIndex(t)
	require.NoError(t, ix.Update(context.Background(), "n", []fleet.VehiclePosition{
		pos("V1", 89.9, 10, fleet.StatusIdle),
	}))
	assert.Empty(t, members(t, mr, "fleet:n:idle"))
}

func TestNearby(t *testing.T) {
	ix, _ := newIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.PublishSnapshot(ctx, fleet.Snapshot{
		NetworkID: "n",
		Positions: []fleet.VehiclePosition{
			pos("far", -9.70, -35.80, fleet.StatusMoving),
			pos("near", -9.601, -35.701, fleet.StatusIdle),
			pos("mid", -9.61, -35.71, fleet.StatusMoving),
		},
	}, nil))

	center := fleet.Coordinate{Lat: -9.60, Lon: -35.70}
	got, err := ix.Nearby(ctx, "n", center, 5000, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].VehicleID)
	assert.Equal(t, fleet.StatusIdle, got[0].Status)
	assert.Equal(t, "mid", got[1].VehicleID)
	assert.Less(t, got[0].DistanceM, got[1].DistanceM)

	got, err = ix.Nearby(ctx, "n", center, 50000, 10, fleet.StatusMoving)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mid", got[0].VehicleID)

	got, err = ix.Nearby(ctx, "n", center, 50000, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].VehicleID)
}

func TestForgetNetwork(t *testing.T) {
	ix, mr := newIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Update(ctx, "n", []fleet.VehiclePosition{pos("V1", -9.6, -35.7, fleet.StatusIdle)}))
	require.NoError(t, ix.ForgetNetwork(ctx, "n"))
	assert.False(t, mr.Exists("fleet:n:idle"))
}
