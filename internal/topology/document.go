package topology

import (
	"encoding/json"
	"fmt"
	"strings"

	"fleet-tracker/internal/fleet"
)

// Node kinds in a topology document.
const (
	KindDepot   = "deposito"
	KindHub     = "hub"
	KindZone    = "zona"
	KindClient  = "cliente"
	KindVehicle = "veiculo"
)

const (
	defaultDepotCapacity = 1000
	defaultHubCapacity   = 100
	defaultDemand        = 1
	defaultVehicleKind   = "MOTO"
	defaultVehicleCap    = 5
	defaultVehicleSpeed  = 25
	defaultEdgeWeight    = 1.0
)

var vehicleKinds = map[string]bool{"MOTO": true, "CARRO": true, "VAN": true, "CAMINHAO": true}

// Document is the stored form of a network: a flat node list plus edges.
type Document struct {
	ID          string `json:"id"`
	Name        string `json:"nome"`
	Description string `json:"descricao"`
	Nodes       []Node `json:"nodes"`
	Edges       []Link `json:"edges"`
	LegacyEdges []Link `json:"edge"`
}

type Node struct {
	ID        string  `json:"id"`
	Kind      string  `json:"tipo"`
	Name      string  `json:"nome"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Capacity    *float64 `json:"capacidade"`
	MaxCapacity *float64 `json:"capacidade_maxima"`

	Demand   *int   `json:"demanda_media"`
	Priority any    `json:"prioridade"`
	ZoneID   string `json:"zona_id"`

	VehicleKind string   `json:"tipo_veiculo"`
	Speed       *float64 `json:"velocidade_media"`
	HomeHub     string   `json:"hub_base"`
	Driver      string   `json:"condutor"`
}

type Link struct {
	From     string   `json:"origem"`
	To       string   `json:"destino"`
	Weight   *float64 `json:"peso"`
	Distance *float64 `json:"distancia"`
	Capacity float64  `json:"capacidade"`
}

// Decode parses a JSON topology document.
func Decode(raw []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	return &d, nil
}

// Network converts the document into a fleet.Network, filling the defaults
// for omitted fields. Unknown node kinds are ignored.
func (d *Document) Network(id string) (*fleet.Network, error) {
	if id == "" {
		id = d.ID
	}
	n := &fleet.Network{ID: id, Name: d.Name, Description: d.Description}
	for i, nd := range d.Nodes {
		if nd.ID == "" {
			return nil, fmt.Errorf("node %d: missing id", i)
		}
		loc := fleet.Coordinate{Lat: nd.Latitude, Lon: nd.Longitude}
		switch strings.ToLower(nd.Kind) {
		case KindDepot:
			n.Depots = append(n.Depots, fleet.Depot{
				ID: nd.ID, Name: nd.Name, Location: loc,
				Capacity: intOr(nd.MaxCapacity, defaultDepotCapacity),
			})
		case KindHub:
			n.Hubs = append(n.Hubs, fleet.Hub{
				ID: nd.ID, Name: nd.Name, Location: loc,
				Capacity: intOr(nd.Capacity, defaultHubCapacity),
			})
		case KindZone:
			n.Zones = append(n.Zones, fleet.Zone{ID: nd.ID, Name: nd.Name, Location: loc})
		case KindClient:
			demand := defaultDemand
			if nd.Demand != nil {
				demand = *nd.Demand
			}
			n.Clients = append(n.Clients, fleet.Client{
				ID: nd.ID, Name: nd.Name, Location: loc,
				Demand:   demand,
				Priority: priorityOf(nd.Priority),
				ZoneID:   nd.ZoneID,
			})
		case KindVehicle:
			speed := float64(defaultVehicleSpeed)
			if nd.Speed != nil && *nd.Speed > 0 {
				speed = *nd.Speed
			}
			n.Vehicles = append(n.Vehicles, fleet.Vehicle{
				ID: nd.ID, Name: nd.Name,
				Kind:        vehicleKind(nd.VehicleKind),
				Capacity:    intOr(nd.Capacity, defaultVehicleCap),
				AvgSpeedKmh: speed,
				HomeHub:     nd.HomeHub,
				Driver:      nd.Driver,
			})
		}
	}

	links := d.Edges
	if len(links) == 0 {
		links = d.LegacyEdges
	}
	for _, l := range links {
		w := defaultEdgeWeight
		switch {
		case l.Weight != nil:
			w = *l.Weight
		case l.Distance != nil:
			w = *l.Distance
		}
		n.Edges = append(n.Edges, fleet.Edge{From: l.From, To: l.To, Distance: w, Capacity: l.Capacity})
	}
	return n, nil
}

func intOr(v *float64, def int) int {
	if v == nil {
		return def
	}
	return int(*v)
}

// priorityOf accepts numbers, numeric strings and level names. Anything else
// is NORMAL.
func priorityOf(v any) fleet.Priority {
	var s string
	switch p := v.(type) {
	case nil:
		return fleet.PriorityNormal
	case string:
		s = p
	case float64:
		s = fmt.Sprintf("%d", int(p))
	case int:
		s = fmt.Sprintf("%d", p)
	case int64:
		s = fmt.Sprintf("%d", p)
	default:
		return fleet.PriorityNormal
	}
	pr, err := fleet.ParsePriority(s)
	if err != nil {
		return fleet.PriorityNormal
	}
	return pr
}

func vehicleKind(s string) string {
	k := strings.ToUpper(strings.TrimSpace(s))
	if vehicleKinds[k] {
		return k
	}
	return defaultVehicleKind
}
