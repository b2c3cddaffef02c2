package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"fleet-tracker/internal/fleet"
)

func TestPositionsFilterAndOrder(t *testing.T) {
	s := NewStore()
	s.SetPosition(fleet.VehiclePosition{VehicleID: "v2", Status: fleet.StatusMoving})
	s.SetPosition(fleet.VehiclePosition{VehicleID: "v1", Status: fleet.StatusIdle})
	s.SetPosition(fleet.VehiclePosition{VehicleID: "v3", Status: fleet.StatusReturning})

	all := s.Positions(Filter{})
	assert.Len(t, all, 3)
	assert.Equal(t, "v1", all[0].VehicleID)
	assert.Equal(t, "v3", all[2].VehicleID)

	travelling := s.Positions(Filter{Statuses: []fleet.VehicleStatus{fleet.StatusMoving, fleet.StatusReturning}})
	assert.Len(t, travelling, 2)
	assert.Equal(t, "v2", travelling[0].VehicleID)
}

func TestPositionOverwrite(t *testing.T) {
	s := NewStore()
	s.SetPosition(fleet.VehiclePosition{VehicleID: "v1", Speed: 10})
	s.SetPosition(fleet.VehiclePosition{VehicleID: "v1", Speed: 20})
	p, ok := s.Position("v1")
	assert.True(t, ok)
	assert.Equal(t, 20.0, p.Speed)
	_, ok = s.Position("nope")
	assert.False(t, ok)
}

func TestRoutes(t *testing.T) {
	s := NewStore()
	s.SetRoute(fleet.DetailedRoute{ID: "b"})
	s.SetRoute(fleet.DetailedRoute{ID: "a"})
	assert.Equal(t, 2, s.RouteCount())
	rs := s.Routes()
	assert.Equal(t, "a", rs[0].ID)

	_, ok := s.Route("b")
	assert.True(t, ok)
	s.RemoveRoute("b")
	s.RemoveRoute("missing")
	_, ok = s.Route("b")
	assert.False(t, ok)
	assert.Equal(t, 1, s.RouteCount())
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetPosition(fleet.VehiclePosition{VehicleID: "v", Speed: float64(j)})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Positions(Filter{})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Positions(Filter{}), 1)
}
