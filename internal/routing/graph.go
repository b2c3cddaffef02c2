package routing

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/geo"
)

var (
	ErrNoPath       = errors.New("routing: no path between nodes")
	ErrEmptyGraph   = errors.New("routing: road graph has no nodes")
	ErrUnknownNode  = errors.New("routing: unknown node")
	ErrInvalidSpeed = errors.New("routing: road speed must be positive")
)

// Graph is the road network capability consumed by the Service.
type Graph interface {
	NearestNode(c fleet.Coordinate) (int64, error)
	// ShortestPath returns the node locations along the fastest path and its
	// travel time in minutes.
	ShortestPath(from, to int64) ([]fleet.Coordinate, float64, error)
}

// RoadGraph is an in-memory undirected road network weighted by travel time.
type RoadGraph struct {
	g      *simple.WeightedUndirectedGraph
	coords map[int64]fleet.Coordinate
	ids    []int64
}

func NewRoadGraph() *RoadGraph {
	return &RoadGraph{
		g:      simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		coords: make(map[int64]fleet.Coordinate),
	}
}

// AddNode adds or moves a node.
func (r *RoadGraph) AddNode(id int64, c fleet.Coordinate) {
	if r.g.Node(id) == nil {
		r.g.AddNode(simple.Node(id))
		r.ids = append(r.ids, id)
		sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	}
	r.coords[id] = c
}

// AddRoad connects two existing nodes. The weight is the haversine length
// travelled at speedKmh, in minutes.
func (r *RoadGraph) AddRoad(from, to int64, speedKmh float64) error {
	if speedKmh <= 0 {
		return ErrInvalidSpeed
	}
	a, ok := r.coords[from]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, from)
	}
	b, ok := r.coords[to]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, to)
	}
	if from == to {
		return nil
	}
	minutes := geo.HaversineKm(a, b) / speedKmh * 60
	r.g.SetWeightedEdge(r.g.NewWeightedEdge(simple.Node(from), simple.Node(to), minutes))
	return nil
}

func (r *RoadGraph) Len() int { return len(r.ids) }

// NearestNode returns the node closest to c. Ties go to the lowest id.
func (r *RoadGraph) NearestNode(c fleet.Coordinate) (int64, error) {
	if len(r.ids) == 0 {
		return 0, ErrEmptyGraph
	}
	best := r.ids[0]
	bestDist := math.Inf(1)
	for _, id := range r.ids {
		if d := geo.HaversineKm(c, r.coords[id]); d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, nil
}

func (r *RoadGraph) ShortestPath(from, to int64) ([]fleet.Coordinate, float64, error) {
	start := r.g.Node(from)
	if start == nil {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownNode, from)
	}
	if r.g.Node(to) == nil {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownNode, to)
	}
	shortest := path.DijkstraFrom(start, r.g)
	nodes, weight := shortest.To(to)
	if len(nodes) == 0 || math.IsInf(weight, 1) {
		return nil, 0, ErrNoPath
	}
	pts := make([]fleet.Coordinate, len(nodes))
	for i, n := range nodes {
		pts[i] = r.coords[n.ID()]
	}
	return pts, weight, nil
}
