// Package geo builds, repairs, reprojects and unions dataset footprints.
package geo

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/twpayne/go-geos"
)

// CanonicalSRID is the SRID all stored footprints are reprojected to.
const CanonicalSRID = 4326

// CanonicalCRS is CanonicalSRID as a CRS string.
const CanonicalCRS = "EPSG:4326"

// ErrInvalidGeometry is returned when a footprint cannot be turned into a valid
// (multi)polygon.
var ErrInvalidGeometry = errors.New("invalid footprint geometry")

// Rings is a polygon as a list of linear rings of [x, y] points, outer ring first.
type Rings [][][]float64

// MultiRings is a multipolygon.
type MultiRings []Rings

// guard converts a GEOS panic into an error.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: %v", op, r)
	}
}

// CornersPolygon builds the rectangle-ish polygon through the four corner points
// of a grid_spatial geo_ref_points section.
func CornersPolygon(ll, ul, ur, lr [2]float64) Rings {
	return Rings{{
		{ll[0], ll[1]},
		{ul[0], ul[1]},
		{ur[0], ur[1]},
		{lr[0], lr[1]},
		{ll[0], ll[1]},
	}}
}

// NewPolygon builds a GEOS geometry from rings.
func NewPolygon(rings Rings) (g *geos.Geom, err error) {
	defer guard("polygon", &err)
	if len(rings) == 0 {
		return nil, fmt.Errorf("%w: polygon has no rings", ErrInvalidGeometry)
	}
	for _, ring := range rings {
		if len(ring) < 4 {
			return nil, fmt.Errorf("%w: ring has %d points", ErrInvalidGeometry, len(ring))
		}
	}
	return geos.NewPolygon(rings), nil
}

// NewMultiPolygon builds a GEOS multipolygon from a list of polygons.
func NewMultiPolygon(polys MultiRings) (g *geos.Geom, err error) {
	defer guard("multipolygon", &err)
	geoms := make([]*geos.Geom, 0, len(polys))
	for _, p := range polys {
		pg, err := NewPolygon(p)
		if err != nil {
			return nil, err
		}
		geoms = append(geoms, pg)
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, geoms), nil
}

// Repair returns a valid polygon or multipolygon for g, applying a zero-width
// buffer when g is invalid.
func Repair(g *geos.Geom) (out *geos.Geom, err error) {
	defer guard("repair", &err)
	if g == nil {
		return nil, ErrInvalidGeometry
	}
	out = g
	if !out.IsValid() {
		out = out.Buffer(0, 8)
	}
	if !out.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidGeometry, out.IsValidReason())
	}
	switch out.TypeID() {
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
	default:
		return nil, fmt.Errorf("%w: repaired to %s", ErrInvalidGeometry, out.Type())
	}
	return out, nil
}

// FromEWKB decodes a (E)WKB footprint as stored by PostGIS.
func FromEWKB(b []byte) (g *geos.Geom, err error) {
	defer guard("decode wkb", &err)
	g, err = geos.NewGeomFromWKB(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode footprint: %w", err)
	}
	return g, nil
}

// ToEWKB encodes g with the given SRID embedded.
func ToEWKB(g *geos.Geom, srid int) (b []byte, err error) {
	defer guard("encode wkb", &err)
	return g.SetSRID(srid).ToEWKBWithSRID(), nil
}

// Union merges footprints that share one SRID. Empty and invalid inputs are
// skipped. It returns nil without error when nothing is left to union or the
// inputs have mixed SRIDs. counted is the number of inputs that contributed.
func Union(footprints []*geos.Geom) (result *geos.Geom, srid int, counted int, err error) {
	var usable []*geos.Geom
	srids := map[int]struct{}{}
	for _, fp := range footprints {
		if fp == nil || !IsUsable(fp) {
			continue
		}
		usable = append(usable, fp)
		srids[fp.SRID()] = struct{}{}
	}
	if len(usable) == 0 {
		return nil, 0, 0, nil
	}
	if len(srids) != 1 {
		return nil, 0, len(usable), nil
	}
	srid = usable[0].SRID()

	result, err = unaryUnion(usable, 0)
	if err != nil {
		// Topology errors are usually from slivers; a small buffer tends to fix them.
		result, err = unaryUnion(usable, 0.001)
		if err != nil {
			return nil, 0, len(usable), err
		}
	}
	return result.SetSRID(srid), srid, len(usable), nil
}

// IsUsable reports whether g is a non-empty valid geometry.
func IsUsable(g *geos.Geom) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return !g.IsEmpty() && g.IsValid()
}

func unaryUnion(geoms []*geos.Geom, buffer float64) (result *geos.Geom, err error) {
	defer guard("union", &err)
	parts := geoms
	if buffer != 0 {
		parts = make([]*geos.Geom, len(geoms))
		for i, g := range geoms {
			parts[i] = g.Buffer(buffer, 8)
		}
	}
	result = geos.NewCollection(geos.TypeIDGeometryCollection, parts).UnaryUnion()
	if result == nil {
		return nil, errors.New("union returned no geometry")
	}
	return result, nil
}

// EWKBToGeoJSON converts a stored footprint into a GeoJSON geometry object.
func EWKBToGeoJSON(b []byte) (out json.RawMessage, err error) {
	g, err := FromEWKB(b)
	if err != nil {
		return nil, err
	}
	defer guard("encode geojson", &err)
	return json.RawMessage(g.ToGeoJSON(0)), nil
}
