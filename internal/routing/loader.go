package routing

import (
	"fmt"

	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"fleet-tracker/internal/config"
	"fleet-tracker/internal/fleet"
)

type graphFile struct {
	Nodes []struct {
		ID  int64   `koanf:"id"`
		Lat float64 `koanf:"latitude"`
		Lon float64 `koanf:"longitude"`
	} `koanf:"nodes"`
	Roads []struct {
		From     int64   `koanf:"from"`
		To       int64   `koanf:"to"`
		SpeedKmh float64 `koanf:"speed_kmh"`
	} `koanf:"roads"`
}

// LoadGraphFile reads a YAML or JSON road graph. Roads without a speed use
// defaultSpeedKmh.
func LoadGraphFile(path string, defaultSpeedKmh float64) (*RoadGraph, error) {
	parser, err := config.FileParser(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load road graph %s: %w", path, err)
	}
	var gf graphFile
	if err := k.UnmarshalWithConf("", &gf, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode road graph %s: %w", path, err)
	}

	g := NewRoadGraph()
	for _, n := range gf.Nodes {
		c := fleet.Coordinate{Lat: n.Lat, Lon: n.Lon}
		if !c.Valid() {
			return nil, fmt.Errorf("road graph node %d: %w", n.ID, ErrInvalidCoordinate)
		}
		g.AddNode(n.ID, c)
	}
	for i, r := range gf.Roads {
		speed := r.SpeedKmh
		if speed == 0 {
			speed = defaultSpeedKmh
		}
		if err := g.AddRoad(r.From, r.To, speed); err != nil {
			return nil, fmt.Errorf("road graph road %d: %w", i, err)
		}
	}
	if g.Len() == 0 {
		return nil, ErrEmptyGraph
	}
	return g, nil
}
