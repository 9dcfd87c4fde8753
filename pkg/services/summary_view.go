package services

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/geo"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/region"
)

// RegionCount is one bucket of a summary's region histogram.
type RegionCount struct {
	Code  string `json:"code" yaml:"code"`
	Label string `json:"label" yaml:"label"`
	Count int    `json:"count" yaml:"count"`
}

// RegionKind describes how a product's datasets are grouped into regions.
type RegionKind struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	UnitLabel   string `json:"unit_label" yaml:"unit_label"`
	UnitsLabel  string `json:"units_label" yaml:"units_label"`
}

// NewRegionKind describes info, or returns nil when info is nil.
func NewRegionKind(info region.Info) *RegionKind {
	if info == nil {
		return nil
	}
	return &RegionKind{
		Name:        info.Name(),
		Description: info.Description(),
		UnitLabel:   info.UnitLabel(),
		UnitsLabel:  info.UnitsLabel(),
	}
}

// SummaryView is a summary rendered for API consumers: sorted histograms,
// labelled regions and a GeoJSON footprint.
type SummaryView struct {
	Product        string                 `json:"product" yaml:"product"`
	Period         string                 `json:"period" yaml:"period"`
	DatasetCount   int                    `json:"dataset_count" yaml:"dataset_count"`
	TimelinePeriod models.PeriodType      `json:"timeline_period,omitempty" yaml:"timeline_period,omitempty"`
	Timeline       []models.TimelineEntry `json:"timeline" yaml:"timeline"`
	RegionKind     *RegionKind            `json:"region_kind,omitempty" yaml:"region_kind,omitempty"`
	Regions        []RegionCount          `json:"regions" yaml:"regions"`
	TimeRange      *models.TimeRange      `json:"time_range,omitempty" yaml:"time_range,omitempty"`

	Footprint      json.RawMessage `json:"footprint,omitempty" yaml:"-"`
	FootprintSRID  *int            `json:"footprint_srid,omitempty" yaml:"footprint_srid,omitempty"`
	FootprintCount int             `json:"footprint_count" yaml:"footprint_count"`

	SizeBytes                 *int64     `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	NewestDatasetCreationTime *time.Time `json:"newest_dataset_creation_time,omitempty" yaml:"newest_dataset_creation_time,omitempty"`
	CRSes                     []string   `json:"crses" yaml:"crses"`
	SummaryGenTime            *time.Time `json:"summary_gen_time,omitempty" yaml:"summary_gen_time,omitempty"`
}

// NewSummaryView renders o. A footprint that cannot be converted is omitted
// and the error returned alongside the view.
func NewSummaryView(productName string, period models.Period, o *models.TimePeriodOverview, info region.Info) (*SummaryView, error) {
	v := &SummaryView{
		Product:                   productName,
		Period:                    period.String(),
		DatasetCount:              o.DatasetCount,
		TimelinePeriod:            o.TimelinePeriod,
		Timeline:                  o.Timeline(),
		RegionKind:                NewRegionKind(info),
		Regions:                   []RegionCount{},
		TimeRange:                 o.TimeRange,
		FootprintCount:            o.FootprintCount,
		SizeBytes:                 o.SizeBytes,
		NewestDatasetCreationTime: o.NewestDatasetCreationTime,
		CRSes:                     o.CRSes,
		SummaryGenTime:            o.SummaryGenTime,
	}
	if v.CRSes == nil {
		v.CRSes = []string{}
	}

	codes, counts := o.RegionArrays()
	for i, code := range codes {
		label := code
		if info != nil {
			label = info.Label(code)
		}
		v.Regions = append(v.Regions, RegionCount{Code: code, Label: label, Count: counts[i]})
	}

	if !o.HasFootprint() {
		return v, nil
	}
	footprint, err := geo.EWKBToGeoJSON(o.Footprint)
	if err != nil {
		return v, err
	}
	v.Footprint = footprint
	v.FootprintSRID = o.FootprintSRID
	return v, nil
}

// View returns the summary of period rendered for API consumers.
func (r *SummaryReader) View(ctx context.Context, productName string, period models.Period) (*SummaryView, error) {
	summary, err := r.Summary(ctx, productName, period)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrPeriodOutOfRange, productName, period)
	}

	var info region.Info
	if productName != AllProducts {
		info, err = r.store.ProductRegionInfo(ctx, productName)
		if err != nil {
			return nil, err
		}
	}

	view, err := NewSummaryView(productName, period, summary, info)
	if err != nil {
		r.logger.Warn("Dropping unreadable footprint",
			zap.String("product", productName),
			zap.String("period", period.String()),
			zap.Error(err))
	}
	return view, nil
}
