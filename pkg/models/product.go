package models

import (
	"time"
)

// ProductSummary holds the product-level statistics stored for one catalog product.
type ProductSummary struct {
	// Surrogate key referenced by time_overview rows. Never exposed to API consumers.
	ID int16 `json:"-" yaml:"-"`
	// Catalog dataset_type id of the product.
	DatasetTypeRef int16 `json:"-" yaml:"-"`

	Name         string `json:"name" yaml:"name"`
	DatasetCount int    `json:"dataset_count" yaml:"dataset_count"`

	// Nil when DatasetCount is zero.
	TimeEarliest *time.Time `json:"time_earliest,omitempty" yaml:"time_earliest,omitempty"`
	TimeLatest   *time.Time `json:"time_latest,omitempty" yaml:"time_latest,omitempty"`

	SourceProducts  []string `json:"source_products" yaml:"source_products"`
	DerivedProducts []string `json:"derived_products" yaml:"derived_products"`

	// Metadata fields whose value is shared by every sampled dataset. A nil value
	// means every sampled dataset lacks the field.
	FixedMetadata map[string]any `json:"fixed_metadata,omitempty" yaml:"fixed_metadata,omitempty"`

	LastRefresh time.Time `json:"last_refresh" yaml:"last_refresh"`
	// Age of the last refresh, measured by the database clock.
	LastRefreshAge time.Duration `json:"last_refresh_age" yaml:"last_refresh_age"`
}

// RefreshResult reports what a product refresh did.
type RefreshResult struct {
	Skipped bool `json:"skipped"`
	// New dataset_spatial rows written.
	Added int `json:"added"`
	// Datasets whose footprint could not be computed.
	FootprintFailures int `json:"footprint_failures"`
	// Catalog datasets still without an extent row after the refresh.
	Unindexed int `json:"unindexed"`
}
