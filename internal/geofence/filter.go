// Package geofence rejects search hits that the map provider returned from
// outside the neighbourhood of the cell that was searched.
package geofence

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// DefaultThresholdKM is the maximum accepted distance from the cell center.
const DefaultThresholdKM = 6.0

// Filter applies a fixed distance threshold around each grid cell.
type Filter struct {
	thresholdKM float64
}

// New returns a Filter that rejects candidates farther than thresholdKM.
func New(thresholdKM float64) (*Filter, error) {
	if thresholdKM <= 0 || math.IsNaN(thresholdKM) {
		return nil, fmt.Errorf("geofence threshold must be > 0, got %v", thresholdKM)
	}
	return &Filter{thresholdKM: thresholdKM}, nil
}

// ThresholdKM returns the configured limit.
func (f *Filter) ThresholdKM() float64 {
	return f.thresholdKM
}

// Accept reports whether a candidate at coords belongs to origin and returns
// the coordinates to persist. A candidate without coordinates is accepted and
// takes the cell's position.
func (f *Filter) Accept(origin crawler.GridCell, coords *crawler.GeoPoint) (crawler.GeoPoint, bool) {
	if coords == nil || !valid(*coords) {
		return origin.Point, true
	}
	if Distance(origin.Point, *coords) > f.thresholdKM {
		return *coords, false
	}
	return *coords, true
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b crawler.GeoPoint) float64 {
	return geo.DistanceHaversine(toOrb(a), toOrb(b)) / 1000
}

func toOrb(p crawler.GeoPoint) orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func valid(p crawler.GeoPoint) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
