package region

import (
	"fmt"

	"github.com/opendatacube/cubedash-engine/pkg/metadoc"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// SceneInfo classifies scene-based products (eg. Landsat WRS) by path and row.
type SceneInfo struct {
	labels
	pathMin [][]string
	rowMax  [][]string
}

var _ Info = (*SceneInfo)(nil)

func newSceneInfo(p *models.CatalogProduct) *SceneInfo {
	path, ok := p.MetadataType.Field("sat_path")
	if !ok {
		return nil
	}
	row, ok := p.MetadataType.Field("sat_row")
	if !ok {
		return nil
	}
	return &SceneInfo{
		labels: labels{
			name:        "scenes",
			description: "Landsat WRS scene-based product",
			unit:        "scene",
		},
		pathMin: rangeOffsets(path, true),
		rowMax:  rangeOffsets(row, false),
	}
}

// rangeOffsets returns the lower or upper offsets of a range field. Plain
// fields are treated as a range with equal bounds.
func rangeOffsets(f models.SearchField, lower bool) [][]string {
	if !f.IsRange() {
		if len(f.Offset) == 0 {
			return nil
		}
		return [][]string{f.Offset}
	}
	if lower {
		return f.MinOffset
	}
	return f.MaxOffset
}

// Label renders a scene code as "Path 90, Row 84".
func (s *SceneInfo) Label(code string) string {
	x, y, err := ParseXY(code)
	if err != nil {
		return code
	}
	return fmt.Sprintf("Path %d, Row %d", x, y)
}

// CodeFor uses the lowest path and highest row of the dataset.
func (s *SceneInfo) CodeFor(doc metadoc.Document) (string, bool) {
	path, ok := doc.LowerFloat(s.pathMin)
	if !ok {
		return "", false
	}
	row, ok := doc.UpperFloat(s.rowMax)
	if !ok {
		return "", false
	}
	return SceneCode(path, row), true
}

// SQLExpression is SceneCode written over the jsonb document column.
func (s *SceneInfo) SQLExpression(docColumn string) string {
	path := floorIntSQL(metadoc.LowerFloatSQL(docColumn, s.pathMin))
	row := floorIntSQL(metadoc.UpperFloatSQL(docColumn, s.rowMax))
	return path + " || '_' || " + row
}
