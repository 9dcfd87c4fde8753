package region

import (
	"fmt"
	"strconv"

	"github.com/opendatacube/cubedash-engine/pkg/metadoc"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// GridInfo classifies datasets of a tiled product by the tile containing the
// centre of their lower-left/upper-right corner points.
type GridInfo struct {
	labels
	geoRefPoints     []string
	originX, originY float64
	sizeX, sizeY     float64
}

var _ Info = (*GridInfo)(nil)

func newGridInfo(p *models.CatalogProduct) *GridInfo {
	if !p.MetadataType.IsSpatial() {
		return nil
	}
	s := p.Definition.Storage
	g := &GridInfo{
		labels: labels{
			name:        "tiled",
			description: "Tiled product",
			unit:        "tile",
		},
		geoRefPoints: metadoc.Join(p.MetadataType.Dataset.GridSpatial, "geo_ref_points"),
		sizeX:        s.TileSize.X,
		sizeY:        s.TileSize.Y,
	}
	if s.Origin != nil {
		g.originX, g.originY = s.Origin.X, s.Origin.Y
	}
	return g
}

// Label renders a tile code as "Tile +95, -3".
func (g *GridInfo) Label(code string) string {
	x, y, err := ParseXY(code)
	if err != nil {
		return code
	}
	return fmt.Sprintf("Tile %+d, %+d", x, y)
}

func (g *GridInfo) point(corner string) ([]string, []string) {
	base := metadoc.Join(g.geoRefPoints, corner)
	return metadoc.Join(base, "x"), metadoc.Join(base, "y")
}

// CodeFor computes the tile code of a dataset document.
func (g *GridInfo) CodeFor(doc metadoc.Document) (string, bool) {
	llx, lly := g.point("ll")
	urx, ury := g.point("ur")

	var coords [4]float64
	for i, off := range [][]string{llx, lly, urx, ury} {
		v, ok := doc.Float(off)
		if !ok {
			return "", false
		}
		coords[i] = v
	}
	cx := (coords[0] + coords[2]) / 2
	cy := (coords[1] + coords[3]) / 2
	return GridCode(cx, cy, g.originX, g.originY, g.sizeX, g.sizeY), true
}

// SQLExpression is GridCode written over the jsonb document column.
func (g *GridInfo) SQLExpression(docColumn string) string {
	llx, lly := g.point("ll")
	urx, ury := g.point("ur")
	cx := fmt.Sprintf("((%s + %s) / 2)", metadoc.FloatSQL(docColumn, llx), metadoc.FloatSQL(docColumn, urx))
	cy := fmt.Sprintf("((%s + %s) / 2)", metadoc.FloatSQL(docColumn, lly), metadoc.FloatSQL(docColumn, ury))

	x := floorIntSQL(fmt.Sprintf("(%s - %s) / %s", cx, sqlFloat(g.originX), sqlFloat(g.sizeX)))
	y := floorIntSQL(fmt.Sprintf("(%s - %s) / %s", cy, sqlFloat(g.originY), sqlFloat(g.sizeY)))
	return x + " || '_' || " + y
}

// sqlFloat renders a constant as a double precision literal that round-trips exactly.
func sqlFloat(v float64) string {
	return "'" + strconv.FormatFloat(v, 'g', -1, 64) + "'::double precision"
}
