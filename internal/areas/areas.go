// Package areas loads the list of areas to crawl.
//
// The file is a JSON or YAML array of objects with a name (under "city" or
// "name"), a center ("lat", "lng") and an optional "population". Numbers may
// be written as strings.
package areas

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// ErrInvalidArea is wrapped by errors describing a malformed entry.
var ErrInvalidArea = errors.New("invalid area")

// Number accepts a JSON/YAML number or a numeric string.
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	return n.parse(s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected a number at line %d", node.Line)
	}
	if node.Tag == "!!null" {
		return nil
	}
	return n.parse(node.Value)
}

func (n *Number) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	n.Value = v
	n.Set = true
	return nil
}

type record struct {
	City       string `json:"city" yaml:"city"`
	Name       string `json:"name" yaml:"name"`
	Lat        Number `json:"lat" yaml:"lat"`
	Lng        Number `json:"lng" yaml:"lng"`
	Population Number `json:"population" yaml:"population"`
}

// Load reads the areas file at path. A missing file is reported with an
// error wrapping os.ErrNotExist so callers can treat it as an empty run.
func Load(path string) ([]crawler.Area, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read areas file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes a JSON array of areas.
func ParseJSON(data []byte) ([]crawler.Area, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode areas json: %w", err)
	}
	return convert(records)
}

// ParseYAML decodes a YAML sequence of areas.
func ParseYAML(data []byte) ([]crawler.Area, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode areas yaml: %w", err)
	}
	return convert(records)
}

func convert(records []record) ([]crawler.Area, error) {
	out := make([]crawler.Area, 0, len(records))
	for i, r := range records {
		name := strings.TrimSpace(r.City)
		if name == "" {
			name = strings.TrimSpace(r.Name)
		}
		if name == "" {
			return nil, fmt.Errorf("area %d: %w: missing city", i+1, ErrInvalidArea)
		}
		if !r.Lat.Set || !r.Lng.Set {
			return nil, fmt.Errorf("area %q: %w: missing coordinates", name, ErrInvalidArea)
		}
		if math.Abs(r.Lat.Value) > 90 || math.Abs(r.Lng.Value) > 180 {
			return nil, fmt.Errorf("area %q: %w: coordinates out of range", name, ErrInvalidArea)
		}
		pop := float64(crawler.DefaultPopulation)
		if r.Population.Set && r.Population.Value > 0 {
			pop = r.Population.Value
		}
		out = append(out, crawler.Area{
			Name:       name,
			Center:     crawler.GeoPoint{Lat: r.Lat.Value, Lng: r.Lng.Value},
			Population: pop,
		})
	}
	return out, nil
}

// Select keeps the areas whose name matches one of names (case-insensitive),
// preserving file order, then truncates to limit when limit > 0.
func Select(all []crawler.Area, names []string, limit int) []crawler.Area {
	selected := all
	if len(names) > 0 {
		want := make(map[string]struct{}, len(names))
		for _, n := range names {
			want[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
		}
		selected = make([]crawler.Area, 0, len(names))
		for _, a := range all {
			if _, ok := want[strings.ToLower(a.Name)]; ok {
				selected = append(selected, a)
			}
		}
	}
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}

// FileSource loads areas from a file each time Areas is called.
type FileSource struct {
	Path string
}

// Areas implements the coordinator's area source.
func (s FileSource) Areas() ([]crawler.Area, error) {
	return Load(s.Path)
}
