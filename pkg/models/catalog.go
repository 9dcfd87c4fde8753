package models

import (
	"time"

	"github.com/google/uuid"
)

// CatalogProduct is a dataset_type row of the datacube catalog together with
// the definition of its metadata type.
type CatalogProduct struct {
	ID               int16
	Name             string
	MetadataTypeName string
	Definition       ProductDefinition
	MetadataType     MetadataTypeDefinition
}

// ProductDefinition is the subset of a product definition document used here.
type ProductDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Storage     *StorageSpec   `json:"storage,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	License     string         `json:"license,omitempty"`
}

// StorageSpec describes the grid a tiled (ingested) product is stored on.
type StorageSpec struct {
	CRS        string `json:"crs,omitempty"`
	TileSize   *XY    `json:"tile_size,omitempty"`
	Resolution *XY    `json:"resolution,omitempty"`
	Origin     *XY    `json:"origin,omitempty"`
}

// XY is a named pair of coordinates as written in product definitions.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MetadataTypeDefinition is the subset of a metadata type document used here.
type MetadataTypeDefinition struct {
	Name    string             `json:"name"`
	Dataset DatasetOffsetsSpec `json:"dataset"`
}

// DatasetOffsetsSpec holds document offsets of the well-known dataset fields.
type DatasetOffsetsSpec struct {
	ID           []string               `json:"id"`
	CreationDT   []string               `json:"creation_dt"`
	Label        []string               `json:"label,omitempty"`
	GridSpatial  []string               `json:"grid_spatial,omitempty"`
	Sources      []string               `json:"sources,omitempty"`
	SearchFields map[string]SearchField `json:"search_fields"`
}

// SearchField is one searchable metadata field. Simple fields use Offset,
// range fields use MinOffset and MaxOffset (each a list of alternative offsets).
type SearchField struct {
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type,omitempty"`
	Offset      []string   `json:"offset,omitempty"`
	MinOffset   [][]string `json:"min_offset,omitempty"`
	MaxOffset   [][]string `json:"max_offset,omitempty"`
}

// IsRange reports whether the field is a range type (time, lat, lon, sat_path...).
func (f SearchField) IsRange() bool {
	return len(f.MinOffset) > 0 || len(f.MaxOffset) > 0
}

// IsSpatial reports whether datasets of this metadata type carry grid_spatial information.
func (m MetadataTypeDefinition) IsSpatial() bool {
	return len(m.Dataset.GridSpatial) > 0
}

// Field returns the named search field.
func (m MetadataTypeDefinition) Field(name string) (SearchField, bool) {
	f, ok := m.Dataset.SearchFields[name]
	return f, ok
}

// CreationOffset returns the document offset of the dataset creation time.
func (m MetadataTypeDefinition) CreationOffset() []string {
	if len(m.Dataset.CreationDT) > 0 {
		return m.Dataset.CreationDT
	}
	return []string{"creation_dt"}
}

// DefaultCRS is the CRS assumed for datasets that don't declare one.
func (p *CatalogProduct) DefaultCRS() string {
	if p.Definition.Storage == nil {
		return ""
	}
	return p.Definition.Storage.CRS
}

// CatalogDataset is a non-archived dataset row of the catalog.
type CatalogDataset struct {
	ID             uuid.UUID
	DatasetTypeRef int16
	Metadata       []byte
	Added          time.Time
}

// TimeOffsets returns the lower and upper offsets of the "time" range field.
func (m MetadataTypeDefinition) TimeOffsets() (lower, upper [][]string, ok bool) {
	f, found := m.Field("time")
	if !found || !f.IsRange() {
		return nil, nil, false
	}
	return f.MinOffset, f.MaxOffset, true
}

// SizeBytesOffset is the offset of the dataset size: the "size_bytes" search field, else the top-level key.
func (m MetadataTypeDefinition) SizeBytesOffset() []string {
	if f, ok := m.Field("size_bytes"); ok && len(f.Offset) > 0 {
		return f.Offset
	}
	return []string{"size_bytes"}
}

// CreatedOffset prefers a "created" search field over the creation_dt offset.
func (m MetadataTypeDefinition) CreatedOffset() []string {
	if f, ok := m.Field("created"); ok && len(f.Offset) > 0 {
		return f.Offset
	}
	return m.CreationOffset()
}

// SimplifyTolerance is a quarter of the finest storage resolution, or zero when
// the product declares none.
func (p *CatalogProduct) SimplifyTolerance() float64 {
	s := p.Definition.Storage
	if s == nil || s.Resolution == nil {
		return 0
	}
	x, y := s.Resolution.X, s.Resolution.Y
	if x < 0 {
		x = -x
	}
	if y < 0 {
		y = -y
	}
	res := x
	if y != 0 && (res == 0 || y < res) {
		res = y
	}
	return res / 4
}
