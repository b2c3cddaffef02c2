package fleet

import "fmt"

// Network is one delivery topology instance. It is read-only once loaded.
type Network struct {
	ID          string    `json:"id"`
	Name        string    `json:"nome"`
	Description string    `json:"descricao,omitempty"`
	Depots      []Depot   `json:"depositos"`
	Hubs        []Hub     `json:"hubs"`
	Zones       []Zone    `json:"zonas"`
	Clients     []Client  `json:"clientes"`
	Vehicles    []Vehicle `json:"veiculos"`
	Edges       []Edge    `json:"rotas"`
}

func (n *Network) Hub(id string) (Hub, bool) {
	for _, h := range n.Hubs {
		if h.ID == id {
			return h, true
		}
	}
	return Hub{}, false
}

func (n *Network) Vehicle(id string) (Vehicle, bool) {
	for _, v := range n.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Summary counts the network's entities.
type Summary struct {
	Depots   int `json:"total_depositos"`
	Hubs     int `json:"total_hubs"`
	Zones    int `json:"total_zonas"`
	Clients  int `json:"total_clientes"`
	Vehicles int `json:"total_veiculos"`
	Edges    int `json:"total_rotas"`
}

func (n *Network) Summary() Summary {
	return Summary{
		Depots:   len(n.Depots),
		Hubs:     len(n.Hubs),
		Zones:    len(n.Zones),
		Clients:  len(n.Clients),
		Vehicles: len(n.Vehicles),
		Edges:    len(n.Edges),
	}
}

// Validation is the outcome of Network.Validate.
type Validation struct {
	Valid    bool     `json:"valida"`
	Problems []string `json:"problemas"`
	Warnings []string `json:"avisos,omitempty"`
	Summary  Summary  `json:"resumo"`
}

// Validate checks structural integrity. Missing clients are only a warning.
func (n *Network) Validate() Validation {
	var v Validation
	if len(n.Depots) == 0 {
		v.Problems = append(v.Problems, "network must have at least one depot")
	}
	if len(n.Zones) == 0 {
		v.Problems = append(v.Problems, "network must have at least one delivery zone")
	}
	if len(n.Edges) == 0 {
		v.Problems = append(v.Problems, "network must have at least one route")
	}
	if len(n.Clients) == 0 {
		v.Warnings = append(v.Warnings, "network has no clients")
	}

	known := make(map[string]struct{})
	for _, d := range n.Depots {
		known[d.ID] = struct{}{}
	}
	for _, h := range n.Hubs {
		known[h.ID] = struct{}{}
	}
	for _, c := range n.Clients {
		known[c.ID] = struct{}{}
	}
	for _, z := range n.Zones {
		known[z.ID] = struct{}{}
	}
	for _, e := range n.Edges {
		if _, ok := known[e.From]; !ok {
			v.Problems = append(v.Problems, fmt.Sprintf("route references unknown origin: %s", e.From))
		}
		if _, ok := known[e.To]; !ok {
			v.Problems = append(v.Problems, fmt.Sprintf("route references unknown destination: %s", e.To))
		}
	}
	if err := n.CheckVehicles(); err != nil {
		v.Problems = append(v.Problems, err.Error())
	}
	v.Valid = len(v.Problems) == 0
	v.Summary = n.Summary()
	return v
}

// CheckVehicles returns an error when a vehicle's home hub is unknown. Such a
// vehicle could never return, so a simulation refuses to start with it.
func (n *Network) CheckVehicles() error {
	for _, veh := range n.Vehicles {
		if _, ok := n.Hub(veh.HomeHub); !ok {
			return fmt.Errorf("vehicle %s references unknown hub %q", veh.ID, veh.HomeHub)
		}
	}
	return nil
}
