// Package grid tiles an area's bounding box into a deterministic lattice of
// search cells.
package grid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

const (
	// KMPerDegreeLat approximates one degree of latitude.
	KMPerDegreeLat = 111.0
	// KMPerDegreeLng approximates one degree of longitude at the latitudes crawled.
	KMPerDegreeLng = 90.0
	// DefaultStep is roughly 2.5 km between neighbouring cells.
	DefaultStep = 0.025

	// epsilon keeps the far boundary cell despite float rounding.
	epsilon = 1e-9
)

// Planner generates grid cells with a fixed step in degrees.
type Planner struct {
	step float64
}

// NewPlanner returns a Planner using step degrees between cells.
func NewPlanner(step float64) (*Planner, error) {
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("grid step must be a positive number, got %v", step)
	}
	return &Planner{step: step}, nil
}

// Step returns the configured spacing in degrees.
func (p *Planner) Step() float64 {
	return p.step
}

// Ranges returns the latitude and longitude half-extents of the area in degrees.
func Ranges(area crawler.Area) (latRange, lngRange float64) {
	radius := area.RadiusKM()
	return radius / KMPerDegreeLat, radius / KMPerDegreeLng
}

// Bounds returns the bounding box the grid covers.
func Bounds(area crawler.Area) orb.Bound {
	latRange, lngRange := Ranges(area)
	return orb.Bound{
		Min: orb.Point{area.Center.Lng - lngRange, area.Center.Lat - latRange},
		Max: orb.Point{area.Center.Lng + lngRange, area.Center.Lat + latRange},
	}
}

// Dimensions returns the number of rows and columns Generate will produce.
func (p *Planner) Dimensions(area crawler.Area) (rows, cols int) {
	latRange, lngRange := Ranges(area)
	return p.steps(2 * latRange), p.steps(2 * lngRange)
}

// Count returns the number of cells without materializing them.
func (p *Planner) Count(area crawler.Area) int {
	rows, cols := p.Dimensions(area)
	return rows * cols
}

// Generate returns the area's cells in row-major order, south to north and
// west to east. The output depends only on the area and the step.
func (p *Planner) Generate(area crawler.Area) []crawler.GridCell {
	bound := Bounds(area)
	rows, cols := p.Dimensions(area)
	cells := make([]crawler.GridCell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		lat := bound.Min.Lat() + float64(r)*p.step
		for c := 0; c < cols; c++ {
			lng := bound.Min.Lon() + float64(c)*p.step
			cells = append(cells, crawler.GridCell{
				Row:   r,
				Col:   c,
				Point: crawler.GeoPoint{Lat: lat, Lng: lng},
			})
		}
	}
	return cells
}

func (p *Planner) steps(span float64) int {
	return int(math.Floor(span/p.step+epsilon)) + 1
}
