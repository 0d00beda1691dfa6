package domain

import (
	"encoding/json"
	"fmt"
)

// Feature is one route pattern as GeoJSON: its departure times plus a shape.
type Feature struct {
	Type       string            `json:"type"`
	Properties FeatureProperties `json:"properties"`
	Geometry   Geometry          `json:"geometry"`
}

// FeatureProperties carries the schedule part of a feature. A nil Trips means
// the property was missing; an empty list is a route with no departures.
type FeatureProperties struct {
	Name    string   `json:"name"`
	RouteID string   `json:"route_id,omitempty"`
	Trips   []int    `json:"trips"`
	Stops   []string `json:"stops,omitempty"`
}

// FeatureCollection is a GeoJSON FeatureCollection of route features.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func NewFeatureCollection(features []Feature) *FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return &FeatureCollection{Type: "FeatureCollection", Features: features}
}

// Geometry keeps coordinates undecoded; only Bounds looks inside them.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// NewLineString builds a LineString geometry from lon/lat pairs.
func NewLineString(coords [][2]float64) Geometry {
	if coords == nil {
		coords = [][2]float64{}
	}
	raw, _ := json.Marshal(coords)
	return Geometry{Type: "LineString", Coordinates: raw}
}

// Bounds returns the extent of the geometry. ok is false for unknown types,
// undecodable coordinates or geometries without positions.
func (g Geometry) Bounds() (bb BoundingBox, ok bool) {
	var positions [][]float64
	var err error

	switch g.Type {
	case "Point":
		var p []float64
		err = json.Unmarshal(g.Coordinates, &p)
		positions = [][]float64{p}
	case "MultiPoint", "LineString":
		err = json.Unmarshal(g.Coordinates, &positions)
	case "MultiLineString", "Polygon":
		var lines [][][]float64
		err = json.Unmarshal(g.Coordinates, &lines)
		for _, l := range lines {
			positions = append(positions, l...)
		}
	case "MultiPolygon":
		var polys [][][][]float64
		err = json.Unmarshal(g.Coordinates, &polys)
		for _, poly := range polys {
			for _, ring := range poly {
				positions = append(positions, ring...)
			}
		}
	default:
		return BoundingBox{}, false
	}
	if err != nil {
		return BoundingBox{}, false
	}

	first := true
	for _, p := range positions {
		if len(p) < 2 {
			continue
		}
		lon, lat := p[0], p[1]
		if first {
			bb = BoundingBox{MinLat: lat, MaxLat: lat, MinLon: lon, MaxLon: lon}
			first = false
			continue
		}
		bb.addPoint(lon, lat)
	}
	return bb, !first
}

// DecodeFeatureCollection parses a GeoJSON FeatureCollection document.
func DecodeFeatureCollection(data []byte) (*FeatureCollection, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if fc.Type != "" && fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("decode feature collection: unexpected type %q", fc.Type)
	}
	return &fc, nil
}
