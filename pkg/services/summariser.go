package services

import (
	"context"
	"sort"
	"time"

	"github.com/twpayne/go-geos"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/geo"
	"github.com/opendatacube/cubedash-engine/pkg/metrics"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/repositories"
)

// Summariser computes period overviews from dataset_spatial rows.
type Summariser interface {
	// CalculateSummary aggregates the product's datasets whose center time falls in period.
	CalculateSummary(ctx context.Context, datasetTypeRef int16, period models.Period) (*models.TimePeriodOverview, error)
	// AddPeriods combines overviews of adjacent periods into one.
	AddPeriods(periods []*models.TimePeriodOverview) *models.TimePeriodOverview
}

type summariser struct {
	spatial repositories.DatasetSpatialRepository
	loc     *time.Location
	logger  *zap.Logger
}

// NewSummariser creates a Summariser grouping days in the given time zone.
func NewSummariser(spatial repositories.DatasetSpatialRepository, loc *time.Location, logger *zap.Logger) Summariser {
	if loc == nil {
		loc = time.UTC
	}
	return &summariser{
		spatial: spatial,
		loc:     loc,
		logger:  logger.Named("summariser"),
	}
}

var _ Summariser = (*summariser)(nil)

func (s *summariser) CalculateSummary(ctx context.Context, datasetTypeRef int16, period models.Period) (*models.TimePeriodOverview, error) {
	defer metrics.RecordSummary(string(period.Type()), time.Now())

	var rng *models.TimeRange
	if r, bounded := period.TimeRange(s.loc); bounded {
		rng = &r
	}

	grain := period.TimelineGrain()
	stats, err := s.spatial.Stats(ctx, datasetTypeRef, rng)
	if err != nil {
		return nil, err
	}
	if stats.DatasetCount == 0 {
		o := models.EmptyOverview()
		o.TimelinePeriod = grain
		return o, nil
	}

	timeline, err := s.spatial.Timeline(ctx, datasetTypeRef, rng, grain, s.loc.String())
	if err != nil {
		return nil, err
	}
	regions, err := s.spatial.RegionCounts(ctx, datasetTypeRef, rng)
	if err != nil {
		return nil, err
	}

	o := &models.TimePeriodOverview{
		DatasetCount:              stats.DatasetCount,
		TimelineDatasetCounts:     timeline,
		TimelinePeriod:            grain,
		RegionDatasetCounts:       regions,
		FootprintCount:            stats.FootprintCount,
		SizeBytes:                 stats.SizeBytes,
		NewestDatasetCreationTime: stats.NewestCreationTime,
		CRSes:                     stats.CRSes,
	}
	if len(o.RegionDatasetCounts) == 0 {
		o.RegionDatasetCounts = nil
	}

	if rng != nil {
		o.TimeRange = rng
	} else if stats.TimeEarliest != nil && stats.TimeLatest != nil {
		// Unbounded: span the whole days holding the first and last datasets.
		begin := stats.TimeEarliest.In(s.loc)
		end := stats.TimeLatest.In(s.loc)
		o.TimeRange = &models.TimeRange{
			Begin: time.Date(begin.Year(), begin.Month(), begin.Day(), 0, 0, 0, 0, s.loc),
			End:   time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, 1),
		}
	}

	if stats.FootprintSRIDs > 1 {
		s.logger.Warn("Footprints have mixed SRIDs, summary has no footprint",
			zap.Int16("dataset_type_ref", datasetTypeRef),
			zap.String("period", period.String()),
			zap.Int("srids", stats.FootprintSRIDs))
	} else if stats.FootprintCount > 0 {
		footprint, srid, err := s.spatial.FootprintUnion(ctx, datasetTypeRef, rng)
		if err != nil {
			return nil, err
		}
		o.Footprint, o.FootprintSRID = footprint, srid
	}

	o.CoarsenTimeline(grain)
	return o, nil
}

func (s *summariser) AddPeriods(periods []*models.TimePeriodOverview) *models.TimePeriodOverview {
	return AddPeriods(s.logger, periods)
}

// AddPeriods combines overviews: counts and histograms are summed, footprints
// unioned and time bounds widened. Nil and empty inputs are ignored.
func AddPeriods(logger *zap.Logger, periods []*models.TimePeriodOverview) *models.TimePeriodOverview {
	var inputs []*models.TimePeriodOverview
	for _, p := range periods {
		if p != nil && p.DatasetCount > 0 {
			inputs = append(inputs, p)
		}
	}
	if len(inputs) == 0 {
		return models.EmptyOverview()
	}

	grain := models.PeriodDay
	for _, p := range inputs {
		grain = models.CoarserGrain(grain, p.TimelinePeriod)
	}

	out := &models.TimePeriodOverview{
		TimelineDatasetCounts: map[time.Time]int{},
		TimelinePeriod:        grain,
	}
	regions := map[string]int{}
	crses := map[string]struct{}{}
	var footprints []*geos.Geom
	var footprintCount int

	for _, p := range inputs {
		out.DatasetCount += p.DatasetCount
		for day, n := range models.RegroupTimeline(p.TimelineDatasetCounts, grain) {
			out.TimelineDatasetCounts[day] += n
		}
		for code, n := range p.RegionDatasetCounts {
			regions[code] += n
		}
		for _, crs := range p.CRSes {
			crses[crs] = struct{}{}
		}

		if p.TimeRange != nil {
			if out.TimeRange == nil {
				r := *p.TimeRange
				out.TimeRange = &r
			} else {
				if p.TimeRange.Begin.Before(out.TimeRange.Begin) {
					out.TimeRange.Begin = p.TimeRange.Begin
				}
				if p.TimeRange.End.After(out.TimeRange.End) {
					out.TimeRange.End = p.TimeRange.End
				}
			}
		}
		out.NewestDatasetCreationTime = latest(out.NewestDatasetCreationTime, p.NewestDatasetCreationTime)
		out.SummaryGenTime = earliest(out.SummaryGenTime, p.SummaryGenTime)
		if p.SizeBytes != nil {
			total := *p.SizeBytes
			if out.SizeBytes != nil {
				total += *out.SizeBytes
			}
			out.SizeBytes = &total
		}

		if !p.HasFootprint() {
			continue
		}
		g, err := geo.FromEWKB(p.Footprint)
		if err != nil || !geo.IsUsable(g) {
			logger.Warn("Ignoring unusable period footprint", zap.Error(err))
			continue
		}
		footprints = append(footprints, g)
		footprintCount += p.FootprintCount
	}

	if len(regions) > 0 {
		out.RegionDatasetCounts = regions
	}
	if len(crses) > 0 {
		out.CRSes = make([]string, 0, len(crses))
		for crs := range crses {
			out.CRSes = append(out.CRSes, crs)
		}
		sort.Strings(out.CRSes)
	}

	out.FootprintCount = footprintCount
	union, srid, _, err := geo.Union(footprints)
	switch {
	case err != nil:
		logger.Warn("Failed to union period footprints", zap.Error(err))
	case union != nil:
		ewkb, err := geo.ToEWKB(union, srid)
		if err != nil {
			logger.Warn("Failed to encode unioned footprint", zap.Error(err))
			break
		}
		out.Footprint, out.FootprintSRID = ewkb, &srid
	}

	out.CoarsenTimeline(grain)
	return out
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b != nil && b.After(*a) {
		return b
	}
	return a
}

func earliest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b != nil && b.Before(*a) {
		return b
	}
	return a
}
