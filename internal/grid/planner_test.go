package grid

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

func casablanca() crawler.Area {
	return crawler.Area{
		Name:       "Casablanca",
		Center:     crawler.GeoPoint{Lat: 33.57, Lng: -7.59},
		Population: 3000000,
	}
}

func TestNewPlannerRejectsBadStep(t *testing.T) {
	t.Parallel()

	for _, step := range []float64{0, -0.1} {
		_, err := NewPlanner(step)
		require.Error(t, err)
	}
	p, err := NewPlanner(DefaultStep)
	require.NoError(t, err)
	assert.Equal(t, DefaultStep, p.Step())
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()

	p, err := NewPlanner(DefaultStep)
	require.NoError(t, err)

	first := p.Generate(casablanca())
	second := p.Generate(casablanca())
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestGenerateCasablancaDimensions(t *testing.T) {
	t.Parallel()

	p, err := NewPlanner(DefaultStep)
	require.NoError(t, err)
	area := casablanca()

	assert.Equal(t, 15.0, area.RadiusKM())
	latRange, lngRange := Ranges(area)
	assert.InDelta(t, 0.135, latRange, 0.001)
	assert.InDelta(t, 0.167, lngRange, 0.001)

	rows, cols := p.Dimensions(area)
	assert.Equal(t, 11, rows)
	assert.Equal(t, 14, cols)

	cells := p.Generate(area)
	assert.Len(t, cells, 154)
	assert.Equal(t, 154, p.Count(area))
}

func TestGenerateCoversBoundsInclusive(t *testing.T) {
	t.Parallel()

	p, err := NewPlanner(DefaultStep)
	require.NoError(t, err)
	area := casablanca()
	bound := Bounds(area).Pad(1e-9)

	cells := p.Generate(area)
	for _, c := range cells {
		assert.True(t, bound.Contains(orb.Point{c.Point.Lng, c.Point.Lat}), "cell %+v outside bounds", c)
	}

	first := cells[0]
	assert.InDelta(t, Bounds(area).Min.Lat(), first.Point.Lat, 1e-12)
	assert.InDelta(t, Bounds(area).Min.Lon(), first.Point.Lng, 1e-12)
}

func TestGenerateRowMajorOrder(t *testing.T) {
	t.Parallel()

	p, err := NewPlanner(DefaultStep)
	require.NoError(t, err)
	cells := p.Generate(casablanca())
	_, cols := p.Dimensions(casablanca())

	for i := 1; i < len(cells); i++ {
		prev, cur := cells[i-1], cells[i]
		if i%cols == 0 {
			assert.Equal(t, prev.Row+1, cur.Row)
			assert.Equal(t, 0, cur.Col)
			assert.Greater(t, cur.Point.Lat, prev.Point.Lat)
			continue
		}
		assert.Equal(t, prev.Row, cur.Row)
		assert.Equal(t, prev.Col+1, cur.Col)
		assert.Greater(t, cur.Point.Lng, prev.Point.Lng)
	}
}

func TestGenerateKeepsExactBoundaryCell(t *testing.T) {
	t.Parallel()

	// Default population -> 4 km radius; with step = lat_range the latitude
	// axis is exactly three cells: min, center, max.
	area := crawler.Area{Center: crawler.GeoPoint{Lat: 10, Lng: 10}}
	latRange, _ := Ranges(area)
	p, err := NewPlanner(latRange)
	require.NoError(t, err)

	rows, _ := p.Dimensions(area)
	assert.Equal(t, 3, rows)
}
