package models

import (
	"time"

	"github.com/google/uuid"
)

// DatasetSpatial is the per-dataset row of cubedash.dataset_spatial.
type DatasetSpatial struct {
	ID             uuid.UUID
	DatasetTypeRef int16
	CenterTime     time.Time
	CreationTime   time.Time
	RegionCode     *string
	SizeBytes      *int64
	// EWKB in EPSG:4326, nil when the dataset has no usable extent.
	Footprint []byte
	// Native CRS of the dataset, eg. "EPSG:32756".
	CRS *string
}

// FootprintFeature is one dataset footprint of a GeoJSON FeatureCollection.
type FootprintFeature struct {
	Type       string            `json:"type"`
	Geometry   any               `json:"geometry"`
	Properties FootprintProperty `json:"properties"`
}

// FootprintProperty holds the properties attached to a footprint feature.
type FootprintProperty struct {
	ID           string     `json:"id"`
	RegionCode   *string    `json:"region_code,omitempty"`
	CenterTime   time.Time  `json:"center_time"`
	CreationTime *time.Time `json:"creation_time,omitempty"`
}

// FeatureCollection is a GeoJSON FeatureCollection of dataset footprints.
type FeatureCollection struct {
	Type     string             `json:"type"`
	Features []FootprintFeature `json:"features"`
}
