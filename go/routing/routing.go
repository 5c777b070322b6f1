// Package routing estimates driver travel times. The default model is a
// haversine speed approximation; ROUTER_MODE=OSRM swaps in road-graph
// times from an OSRM instance. Estimates are cached by rounded
// coordinates with a short TTL to bound repeated lookups within a
// dispatch tick.
package routing

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/proofcart/proofcart/go/geo"
)

// Router produces travel-time estimates in whole seconds.
type Router interface {
	// RouteTime estimates travel time from a to b.
	RouteTime(a, b geo.Point) int
	// BatchMatrix returns an NxN travel-time matrix over points.
	BatchMatrix(points []geo.Point) [][]int
}

const (
	cacheTTL  = 30 * time.Second
	cacheSize = 50_000

	// Straight-line model: 35 mph average with a road winding factor.
	modelMPH        = 35.0
	modelRoadFactor = 1.25

	minTravelS = 5
	maxTravelS = 3600
)

// New selects a Router by mode. An empty mode means haversine.
func New(mode, osrmBaseURL string) (Router, error) {
	switch strings.ToUpper(mode) {
	case "", "HAVERSINE":
		return NewHaversine(), nil
	case "OSRM":
		return newOSRM(osrmBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown ROUTER_MODE %q", mode)
	}
}

// Haversine estimates travel times from straight-line distance.
type Haversine struct {
	cache *lru.LRU[string, int]
}

func NewHaversine() *Haversine {
	return &Haversine{cache: lru.NewLRU[string, int](cacheSize, nil, cacheTTL)}
}

func cacheKey(prefix string, a, b geo.Point) string {
	return fmt.Sprintf("%s:%.6f,%.6f:%.6f,%.6f", prefix, a.Lat, a.Lng, b.Lat, b.Lng)
}

// RouteTime implements Router.
func (h *Haversine) RouteTime(a, b geo.Point) int {
	var key = cacheKey("t", a, b)
	if t, ok := h.cache.Get(key); ok {
		return t
	}
	var t = modelTravelS(a, b)
	h.cache.Add(key, t)
	return t
}

// BatchMatrix implements Router.
func (h *Haversine) BatchMatrix(points []geo.Point) [][]int {
	var n = len(points)
	var matrix = make([][]int, n)
	for i := range matrix {
		matrix[i] = make([]int, n)
		for j := range matrix[i] {
			if i != j {
				matrix[i][j] = h.RouteTime(points[i], points[j])
			}
		}
	}
	return matrix
}

func modelTravelS(a, b geo.Point) int {
	var mps = modelMPH * 1609.34 / 3600.0
	var t = int(geo.HaversineM(a, b) / mps * modelRoadFactor)
	if t < minTravelS {
		t = minTravelS
	}
	if t > maxTravelS {
		t = maxTravelS
	}
	return t
}
