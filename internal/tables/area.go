package tables

import (
	"fmt"
	"os"

	geojson "github.com/paulmach/go.geojson"
)

// Area is a set of polygons in lon/lat order. Each polygon is a list of
// rings: the outer boundary followed by holes.
type Area struct {
	polygons [][][][]float64
}

// ReadAreaFile loads every Polygon and MultiPolygon of a GeoJSON
// FeatureCollection.
func ReadAreaFile(path string) (*Area, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read area file: %w", err)
	}
	return ParseArea(b)
}

// ParseArea parses a GeoJSON FeatureCollection into an Area.
func ParseArea(b []byte) (*Area, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("parse area: %w", err)
	}
	a := &Area{}
	for _, feature := range fc.Features {
		if feature.Geometry == nil {
			continue
		}
		if feature.Geometry.IsMultiPolygon() {
			a.polygons = append(a.polygons, feature.Geometry.MultiPolygon...)
		}
		if feature.Geometry.IsPolygon() {
			a.polygons = append(a.polygons, feature.Geometry.Polygon)
		}
	}
	if len(a.polygons) == 0 {
		return nil, fmt.Errorf("area has no polygons")
	}
	return a, nil
}

// Contains reports whether the point lies inside any polygon and outside
// that polygon's holes.
func (a *Area) Contains(lat, lon float64) bool {
	for _, poly := range a.polygons {
		if len(poly) == 0 || !inRing(poly[0], lon, lat) {
			continue
		}
		inHole := false
		for _, hole := range poly[1:] {
			if inRing(hole, lon, lat) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// inRing is the even-odd ray casting test.
func inRing(ring [][]float64, x, y float64) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		if len(ring[i]) < 2 || len(ring[j]) < 2 {
			continue
		}
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}
