package broadcast

import (
	"encoding/json"
	"time"

	"fleet-tracker/internal/sim"
)

const (
	TypeInitialData     = "initial_data"
	TypeError           = "error"
	TypeCommandResponse = "command_response"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Message is a server push other than the periodic snapshot.
type Message struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Command is an inbound subscriber request.
type Command struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CommandResponse replies to the connection that sent a Command.
type CommandResponse struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// NetworkStats describes one tracked network.
type NetworkStats struct {
	NetworkID         string             `json:"rede_id"`
	ActiveConnections int                `json:"active_connections"`
	Broadcasting      bool               `json:"is_broadcasting"`
	LastUpdate        *time.Time         `json:"last_update"`
	Movement          *sim.MovementStats `json:"movement_stats,omitempty"`
}

// Overview aggregates every tracked network.
type Overview struct {
	TotalNetworks    int            `json:"total_networks"`
	TotalConnections int            `json:"total_connections"`
	Networks         []NetworkStats `json:"networks"`
}
