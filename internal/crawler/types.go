package crawler

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

const (
	// DefaultPopulation is assumed for areas that do not report one.
	DefaultPopulation = 50000
	// MinRadiusKM is the smallest search radius assigned to an area.
	MinRadiusKM = 4
	// MaxRadiusKM is the largest search radius assigned to an area.
	MaxRadiusKM = 15
	// UnknownAddress is recorded when the detail provider cannot resolve one.
	UnknownAddress = "Unknown"
)

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders the point the way map URLs expect it.
func (p GeoPoint) String() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// Area is one named region of the crawl, processed as a single unit.
type Area struct {
	Name       string
	Center     GeoPoint
	Population float64
}

// RadiusKM derives the search radius from the population: one kilometre per
// 100k inhabitants, clamped to [MinRadiusKM, MaxRadiusKM].
func (a Area) RadiusKM() float64 {
	pop := a.Population
	if pop <= 0 {
		pop = DefaultPopulation
	}
	radius := math.Floor(pop / 100000)
	return math.Min(MaxRadiusKM, math.Max(MinRadiusKM, radius))
}

// GridCell is one lattice point of an area's search tiling.
type GridCell struct {
	Row   int
	Col   int
	Point GeoPoint
}

// SearchTask is a single (cell, keyword) query for an area.
type SearchTask struct {
	Index   int
	Cell    GridCell
	Keyword string
	Area    *Area
}

// AreaName returns the name of the task's area, or "" when unset.
func (t SearchTask) AreaName() string {
	if t.Area == nil {
		return ""
	}
	return t.Area.Name
}

// CandidateRecord is a raw search hit before geofencing and deduplication.
type CandidateRecord struct {
	Name     string
	Coords   *GeoPoint
	Link     string
	RawLink  string
	Category string
	Rating   *float64
}

// Key returns the dedup identity of the candidate.
func (c CandidateRecord) Key() string {
	if c.Link != "" {
		return c.Link
	}
	return CanonicalLink(c.RawLink)
}

// PersistedRecord is the row handed to a ResultSink.
type PersistedRecord struct {
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Address   string    `json:"address"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Link      string    `json:"link"`
	Keyword   string    `json:"keyword"`
	Category  string    `json:"category,omitempty"`
	Rating    *float64  `json:"rating,omitempty"`
	RunID     string    `json:"run_id"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Column names understood by tabular sinks.
const (
	ColumnName      = "Name"
	ColumnCity      = "City"
	ColumnAddress   = "Address"
	ColumnLatitude  = "Latitude"
	ColumnLongitude = "Longitude"
	ColumnLink      = "Link"
	ColumnKeyword   = "Keyword"
	ColumnCategory  = "Category"
	ColumnRating    = "Rating"
	ColumnRunID     = "RunID"
	ColumnScrapedAt = "ScrapedAt"
)

// DefaultColumns is the output schema used when none is configured.
var DefaultColumns = []string{
	ColumnName,
	ColumnCity,
	ColumnAddress,
	ColumnLatitude,
	ColumnLongitude,
	ColumnLink,
}

// Field returns the string form of the named column.
func (r PersistedRecord) Field(column string) (string, error) {
	switch column {
	case ColumnName:
		return r.Name, nil
	case ColumnCity:
		return r.City, nil
	case ColumnAddress:
		return r.Address, nil
	case ColumnLatitude:
		return strconv.FormatFloat(r.Latitude, 'f', -1, 64), nil
	case ColumnLongitude:
		return strconv.FormatFloat(r.Longitude, 'f', -1, 64), nil
	case ColumnLink:
		return r.Link, nil
	case ColumnKeyword:
		return r.Keyword, nil
	case ColumnCategory:
		return r.Category, nil
	case ColumnRating:
		if r.Rating == nil {
			return "", nil
		}
		return strconv.FormatFloat(*r.Rating, 'f', 1, 64), nil
	case ColumnRunID:
		return r.RunID, nil
	case ColumnScrapedAt:
		if r.ScrapedAt.IsZero() {
			return "", nil
		}
		return r.ScrapedAt.UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("unknown column %q", column)
	}
}

// ValidateColumns rejects unknown or duplicated column names and requires Link,
// which resumption reads back.
func ValidateColumns(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("at least one output column is required")
	}
	seen := make(map[string]struct{}, len(columns))
	hasLink := false
	for _, c := range columns {
		if _, err := (PersistedRecord{}).Field(c); err != nil {
			return err
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
		if c == ColumnLink {
			hasLink = true
		}
	}
	if !hasLink {
		return fmt.Errorf("output columns must include %q", ColumnLink)
	}
	return nil
}

// SessionOptions configures an isolated browsing session.
type SessionOptions struct {
	// Geolocation, when set, is reported to pages as the device location.
	Geolocation *GeoPoint
	// BlockResources suppresses images, media, fonts and stylesheets.
	BlockResources bool
	Locale         string
}
