package geo

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// ParseGeoJSON reads a Polygon or MultiPolygon GeoJSON geometry as decoded
// into generic maps (eg. a dataset's valid_data section).
func ParseGeoJSON(v any) (MultiRings, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: geometry is not an object", ErrInvalidGeometry)
	}
	coords := m["coordinates"]
	switch m["type"] {
	case "Polygon":
		rings, err := parseRings(coords)
		if err != nil {
			return nil, err
		}
		return MultiRings{rings}, nil
	case "MultiPolygon":
		list, ok := coords.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: multipolygon coordinates", ErrInvalidGeometry)
		}
		out := make(MultiRings, 0, len(list))
		for _, p := range list {
			rings, err := parseRings(p)
			if err != nil {
				return nil, err
			}
			out = append(out, rings)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %v", ErrInvalidGeometry, m["type"])
	}
}

func parseRings(v any) (Rings, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: polygon coordinates", ErrInvalidGeometry)
	}
	rings := make(Rings, 0, len(list))
	for _, r := range list {
		pts, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: ring coordinates", ErrInvalidGeometry)
		}
		ring := make([][]float64, 0, len(pts))
		for _, p := range pts {
			pt, err := parsePoint(p)
			if err != nil {
				return nil, err
			}
			ring = append(ring, pt)
		}
		rings = append(rings, ring)
	}
	return rings, nil
}

func parsePoint(v any) ([]float64, error) {
	ords, ok := v.([]any)
	if !ok || len(ords) < 2 {
		return nil, fmt.Errorf("%w: point", ErrInvalidGeometry)
	}
	out := make([]float64, 2)
	for i := 0; i < 2; i++ {
		f, err := toFloat(ords[i])
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("%w: ordinate %v", ErrInvalidGeometry, v)
}
