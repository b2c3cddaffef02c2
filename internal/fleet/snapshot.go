package fleet

import (
	"encoding/json"
	"time"
)

// Statistics aggregates a network's live state.
type Statistics struct {
	TotalVehicles       int  `json:"total_vehicles"`
	ActiveVehicles      int  `json:"active_vehicles"`
	Idle                int  `json:"idle"`
	Moving              int  `json:"moving"`
	Delivering          int  `json:"delivering"`
	Returning           int  `json:"returning"`
	Refueling           int  `json:"refueling"`
	ActiveRoutes        int  `json:"active_routes"`
	TotalClients        int  `json:"total_clients"`
	PendingClients      int  `json:"pending_clients"`
	ClientsInService    int  `json:"clients_in_service"`
	RemainingDemand     int  `json:"remaining_demand"`
	DeliveriesCompleted int  `json:"deliveries_completed"`
	Complete            bool `json:"complete"`
}

// Count increments the per-status counter for s.
func (st *Statistics) Count(s VehicleStatus) {
	st.TotalVehicles++
	switch s {
	case StatusIdle:
		st.Idle++
		return
	case StatusMoving:
		st.Moving++
	case StatusDelivering:
		st.Delivering++
	case StatusReturning:
		st.Returning++
	case StatusRefueling:
		st.Refueling++
	}
	st.ActiveVehicles++
}

const MessageNetworkUpdate = "network_update"

// Snapshot is the periodic payload pushed to a network's subscribers.
type Snapshot struct {
	Type       string            `json:"type"`
	NetworkID  string            `json:"rede_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Statistics Statistics        `json:"estatisticas"`
	Positions  []VehiclePosition `json:"posicoes_veiculos"`
	Routes     []DetailedRoute   `json:"rotas_ativas"`
}

// Fingerprint encodes the snapshot without its timestamp. Two snapshots with
// equal fingerprints carry the same content.
func (s Snapshot) Fingerprint() ([]byte, error) {
	s.Timestamp = time.Time{}
	return json.Marshal(s)
}
