package fleet

import (
	"fmt"
	"strings"
)

// VehicleStatus is the movement state of a vehicle.
type VehicleStatus uint8

const (
	StatusIdle VehicleStatus = iota
	StatusMoving
	StatusDelivering
	StatusReturning
	StatusRefueling
)

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusMoving:     "moving",
	StatusDelivering: "delivering",
	StatusReturning:  "returning",
	StatusRefueling:  "refueling",
}

// AllStatuses lists every status in declaration order.
func AllStatuses() []VehicleStatus {
	return []VehicleStatus{StatusIdle, StatusMoving, StatusDelivering, StatusReturning, StatusRefueling}
}

func (s VehicleStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("VehicleStatus(%d)", uint8(s))
}

// Travelling reports whether the vehicle is following a route.
func (s VehicleStatus) Travelling() bool {
	return s == StatusMoving || s == StatusReturning
}

func ParseVehicleStatus(s string) (VehicleStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range statusNames {
		if name == s {
			return VehicleStatus(i), nil
		}
	}
	return 0, fmt.Errorf("invalid vehicle status: %q", s)
}

func (s VehicleStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("invalid vehicle status: %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *VehicleStatus) UnmarshalText(b []byte) error {
	v, err := ParseVehicleStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
