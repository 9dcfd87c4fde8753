package geo

import (
	"fmt"
	"sync"

	"github.com/twpayne/go-proj/v10"
)

// Reprojector transforms coordinates into CanonicalCRS. Transformations are
// cached per source CRS. A PJ is not safe for concurrent use, so access is
// serialised.
type Reprojector struct {
	mu    sync.Mutex
	cache map[string]*proj.PJ
}

// NewReprojector creates an empty Reprojector.
func NewReprojector() *Reprojector {
	return &Reprojector{cache: map[string]*proj.PJ{}}
}

func (r *Reprojector) transformer(src string) (*proj.PJ, error) {
	if pj, ok := r.cache[src]; ok {
		return pj, nil
	}
	raw, err := proj.NewCRSToCRS(src, CanonicalCRS, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformation from %s: %w", src, err)
	}
	defer raw.Destroy()
	// Always x=lon, y=lat regardless of the axis order the CRS declares.
	pj, err := raw.NormalizeForVisualization()
	if err != nil {
		return nil, fmt.Errorf("failed to normalise transformation from %s: %w", src, err)
	}
	r.cache[src] = pj
	return pj, nil
}

// Rings reprojects a polygon from src into CanonicalCRS.
func (r *Reprojector) Rings(src string, rings Rings) (Rings, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: no crs", ErrInvalidGeometry)
	}
	if src == CanonicalCRS {
		return rings, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pj, err := r.transformer(src)
	if err != nil {
		return nil, err
	}
	out := make(Rings, len(rings))
	for i, ring := range rings {
		out[i] = make([][]float64, len(ring))
		for j, pt := range ring {
			if len(pt) < 2 {
				return nil, fmt.Errorf("%w: point with %d ordinates", ErrInvalidGeometry, len(pt))
			}
			c, err := pj.Forward(proj.NewCoord(pt[0], pt[1], 0, 0))
			if err != nil {
				return nil, fmt.Errorf("failed to reproject point from %s: %w", src, err)
			}
			out[i][j] = []float64{c.X(), c.Y()}
		}
	}
	return out, nil
}

// MultiRings reprojects each polygon of a multipolygon.
func (r *Reprojector) MultiRings(src string, polys MultiRings) (MultiRings, error) {
	out := make(MultiRings, len(polys))
	for i, p := range polys {
		rp, err := r.Rings(src, p)
		if err != nil {
			return nil, err
		}
		out[i] = rp
	}
	return out, nil
}

// Close releases cached transformations.
func (r *Reprojector) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, pj := range r.cache {
		pj.Destroy()
		delete(r.cache, k)
	}
}
