package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geoindex"
)

const (
	defaultNearbyRadiusM = 1000
	defaultNearbyLimit   = 20
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnf("write response: %v", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Errorf("request failed: %v", err)
	s.writeJSON(w, http.StatusInternalServerError, envelope{Status: "error", Message: http.StatusText(http.StatusInternalServerError)})
}

func (s *Server) clientError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, envelope{Status: "error", Message: msg})
}

func (s *Server) networkStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(":network")
	s.writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "tracking status retrieved",
		Data:    s.manager.NetworkStats(id),
	})
}

func (s *Server) allStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{
		Status:  "success",
		Message: "tracking overview retrieved",
		Data:    s.manager.Overview(),
	})
}

// nearbyVehicles serves GET /nearby/:network?lat=&lon=&radius_m=&limit=&status=.
// status may list several comma separated values.
func (s *Server) nearbyVehicles(w http.ResponseWriter, r *http.Request) {
	if s.nearby == nil {
		s.clientError(w, http.StatusServiceUnavailable, "geo index is not configured")
		return
	}
	q := r.URL.Query()
	id := q.Get(":network")

	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		s.clientError(w, http.StatusBadRequest, fmt.Sprintf("invalid lat: %q", q.Get("lat")))
		return
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		s.clientError(w, http.StatusBadRequest, fmt.Sprintf("invalid lon: %q", q.Get("lon")))
		return
	}
	center := fleet.Coordinate{Lat: lat, Lon: lon}
	if !center.Valid() {
		s.clientError(w, http.StatusBadRequest, "coordinate out of range")
		return
	}
	radius := float64(defaultNearbyRadiusM)
	if v := q.Get("radius_m"); v != "" {
		if radius, err = strconv.ParseFloat(v, 64); err != nil || radius <= 0 {
			s.clientError(w, http.StatusBadRequest, fmt.Sprintf("invalid radius_m: %q", v))
			return
		}
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.clientError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", v))
			return
		}
	}
	var statuses []fleet.VehicleStatus
	if v := q.Get("status"); v != "" {
		for _, name := range strings.Split(v, ",") {
			st, err := fleet.ParseVehicleStatus(name)
			if err != nil {
				s.clientError(w, http.StatusBadRequest, err.Error())
				return
			}
			statuses = append(statuses, st)
		}
	}

	found, err := s.nearby.Nearby(r.Context(), id, center, radius, limit, statuses...)
	if err != nil {
		s.serverError(w, err)
		return
	}
	if found == nil {
		found = []geoindex.NearbyVehicle{}
	}
	s.writeJSON(w, http.StatusOK, envelope{Status: "success", Data: found})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Status: "ok"})
}
