// Package region classifies datasets into a product's spatial grid cells.
//
// Every strategy defines its rule once over primitive inputs (GridCode,
// SceneCode) and derives both the in-process CodeFor and the SQL expression
// used by the bulk extent insert from it, so the two paths agree.
package region

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/opendatacube/cubedash-engine/pkg/metadoc"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// Info maps datasets of one product to region codes.
type Info interface {
	// Name identifies the kind of region, eg. "tiled" or "scenes".
	Name() string
	// Description is a human readable name of the region kind.
	Description() string
	// UnitLabel is the singular unit, eg. "tile".
	UnitLabel() string
	// UnitsLabel is the plural unit, eg. "tiles".
	UnitsLabel() string
	// Label converts a region code into something readable.
	Label(code string) string
	// CodeFor computes the region code of a dataset document. False when the
	// document lacks the fields needed for classification.
	CodeFor(doc metadoc.Document) (string, bool)
	// SQLExpression is the equivalent text expression over the jsonb column.
	SQLExpression(docColumn string) string
}

// ForProduct returns the region strategy of a product, or nil when the
// product has no usable grid.
func ForProduct(p *models.CatalogProduct) Info {
	// Some products carry a partial storage section: only a tile_size means a grid.
	if s := p.Definition.Storage; s != nil && s.TileSize != nil && s.TileSize.X != 0 && s.TileSize.Y != 0 {
		if grid := newGridInfo(p); grid != nil {
			return grid
		}
	}
	if scene := newSceneInfo(p); scene != nil {
		return scene
	}
	return nil
}

// GridCode is the tile index rule: the cell containing (cx, cy) on a grid with
// the given origin and tile size.
func GridCode(cx, cy, originX, originY, sizeX, sizeY float64) string {
	x := int64(math.Floor((cx - originX) / sizeX))
	y := int64(math.Floor((cy - originY) / sizeY))
	return strconv.FormatInt(x, 10) + "_" + strconv.FormatInt(y, 10)
}

// SceneCode is the path/row rule.
func SceneCode(path, row float64) string {
	return strconv.FormatInt(int64(math.Floor(path)), 10) + "_" + strconv.FormatInt(int64(math.Floor(row)), 10)
}

// ParseXY splits an "x_y" region code into its integer parts.
func ParseXY(code string) (int, int, error) {
	xs, ys, ok := strings.Cut(code, "_")
	if !ok {
		return 0, 0, fmt.Errorf("region code %q is not of the form x_y", code)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return 0, 0, fmt.Errorf("region code %q: %w", code, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("region code %q: %w", code, err)
	}
	return x, y, nil
}

// floorIntSQL mirrors int64(math.Floor(v)) formatted in base 10.
func floorIntSQL(expr string) string {
	return "(floor(" + expr + ")::bigint)::text"
}

type labels struct {
	name        string
	description string
	unit        string
}

func (l labels) Name() string        { return l.name }
func (l labels) Description() string { return l.description }
func (l labels) UnitLabel() string   { return l.unit }
func (l labels) UnitsLabel() string  { return inflection.Plural(l.unit) }
