package sim

import (
	"time"

	"fleet-tracker/internal/fleet"
)

// leg is the payload of the travelling states (moving, returning).
type leg struct {
	routeID   string
	progress  float64 // percent, never decreases within a leg
	target    float64
	pctPerMin float64
	baseKmh   float64
}

// vehicleState is owned by the engine and only mutated under its lock.
// leg is non-nil exactly when the status is travelling; clientID is set while
// moving or delivering; pauseUntil freezes the vehicle while in the future.
type vehicleState struct {
	vehicle    fleet.Vehicle
	status     fleet.VehicleStatus
	leg        *leg
	clientID   string
	pauseUntil time.Time
	pos        fleet.VehiclePosition
	lastStep   time.Time
}

func (s vehicleState) clone() vehicleState {
	if s.leg != nil {
		l := *s.leg
		s.leg = &l
	}
	return s
}

func (s *vehicleState) frozen(now time.Time) bool {
	return !s.pauseUntil.IsZero() && now.Before(s.pauseUntil)
}

// stepTx collects the side effects of one vehicle update. They are applied
// only when the update succeeds.
type stepTx struct {
	positions     []fleet.VehiclePosition
	setRoutes     []fleet.DetailedRoute
	removeRoutes  []string
	reserved      string
	released      []string
	completed     []string
	missingClient bool
}
