package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/metrics"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		routeID = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRouteCommand(t *testing.T) {
	t.Setenv("FLEET_FALLBACK_WAYPOINTS", "4")
	out, err := execute(t, "route", "--id", "r-cli", "--", "-9.60", "-35.70", "-9.62", "-35.72")
	require.NoError(t, err)

	var r fleet.DetailedRoute
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "r-cli", r.ID)
	assert.Len(t, r.Waypoints, 5)
	assert.False(t, r.Optimized)
	assert.Greater(t, r.TotalDistanceKm, 0.0)
}

func TestRouteCommandRejectsBadCoordinate(t *testing.T) {
	_, err := execute(t, "route", "--", "north", "-35.70", "-9.62", "-35.72")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := `{"nome":"ok","nodes":[
	  {"id":"D1","tipo":"deposito","latitude":-9.6,"longitude":-35.7},
	  {"id":"H1","tipo":"hub","latitude":-9.61,"longitude":-35.71},
	  {"id":"Z1","tipo":"zona","nome":"z"},
	  {"id":"V1","tipo":"veiculo","hub_base":"H1"}],
	 "edges":[{"origem":"D1","destino":"H1","capacidade":5}]}`
	bad := `{"nodes":[{"id":"V1","tipo":"veiculo","hub_base":"H9"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.json"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(bad), 0o644))
	t.Setenv("FLEET_TOPOLOGY_DIR", dir)
	t.Setenv("FLEET_DATABASE_URL", "")

	out, err := execute(t, "validate", "good")
	require.NoError(t, err)
	assert.Contains(t, out, `"valida": true`)

	out, err = execute(t, "validate")
	assert.ErrorContains(t, err, "1 of 2 networks invalid")
	assert.Contains(t, out, `"rede_id": "bad"`)
	assert.Contains(t, out, "unknown hub")
}

func TestPublisherMetricsAdapter(t *testing.T) {
	assert.Nil(t, wrapPublisherMetrics(nil))

	c := metrics.NewCollector(time.Second, time.Second)
	m := wrapPublisherMetrics(c)
	m.NATSSetConnected(true)
	m.NATSPublishedInc()
	m.NATSPublishErrInc()
	m.PublishObserve(2 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSPublishErrs))
	m.NATSSetConnected(false)
	assert.Zero(t, testutil.ToFloat64(c.NATSConnected))
}
