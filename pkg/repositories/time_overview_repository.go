package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// TimeOverviewRepository provides data access for cubedash.time_overview.
type TimeOverviewRepository interface {
	// Get returns nil, nil when the period has not been stored.
	Get(ctx context.Context, productRef int16, period models.Period) (*models.TimePeriodOverview, error)
	// Upsert writes an overview and returns the stored row as it is after the
	// write. When a concurrent writer has already stored a newer row, that
	// newer row is returned and this write is dropped.
	Upsert(ctx context.Context, productRef int16, period models.Period, o *models.TimePeriodOverview, productRefreshTime *time.Time) (*models.TimePeriodOverview, error)
	// CompleteProductNames lists products with a stored all-time overview, by name.
	CompleteProductNames(ctx context.Context) ([]string, error)
}

type timeOverviewRepository struct {
	db database.Querier
}

// NewTimeOverviewRepository creates a time_overview repository over db.
func NewTimeOverviewRepository(db database.Querier) TimeOverviewRepository {
	return &timeOverviewRepository{db: db}
}

var _ TimeOverviewRepository = (*timeOverviewRepository)(nil)

func (r *timeOverviewRepository) Get(ctx context.Context, productRef int16, period models.Period) (*models.TimePeriodOverview, error) {
	row := r.db.QueryRow(ctx, `
		SELECT dataset_count, time_earliest, time_latest,
		       timeline_period, timeline_dataset_start_days, timeline_dataset_counts,
		       regions, region_dataset_counts,
		       ST_AsEWKB(footprint_geometry), ST_SRID(footprint_geometry), footprint_count,
		       newest_dataset_creation_time, crses, size_bytes, generation_time
		FROM cubedash.time_overview
		WHERE product_ref = $1 AND start_day = $2 AND period_type = $3`,
		productRef, period.StartDay(), string(period.Type()))
	o, err := scanTimeOverview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (r *timeOverviewRepository) Upsert(ctx context.Context, productRef int16, period models.Period, o *models.TimePeriodOverview, productRefreshTime *time.Time) (*models.TimePeriodOverview, error) {
	days, dayCounts := o.TimelineArrays()
	regions, regionCounts := o.RegionArrays()

	var begin, end *time.Time
	if o.TimeRange != nil {
		begin, end = &o.TimeRange.Begin, &o.TimeRange.End
	}
	var footprint []byte
	if o.HasFootprint() {
		footprint = o.Footprint
	}
	timelinePeriod := o.TimelinePeriod
	if timelinePeriod == "" {
		timelinePeriod = period.TimelineGrain()
	}

	// The conflict update only applies when the stored row is for the same key
	// and is not newer than this write: a slower writer never clobbers a fresher summary.
	var genTime time.Time
	err := r.db.QueryRow(ctx, `
		INSERT INTO cubedash.time_overview (
			product_ref, start_day, period_type,
			dataset_count, time_earliest, time_latest,
			timeline_period, timeline_dataset_start_days, timeline_dataset_counts,
			regions, region_dataset_counts,
			footprint_geometry, footprint_count,
			newest_dataset_creation_time, crses, size_bytes,
			generation_time, product_refresh_time
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8::date[], $9::integer[],
			$10::text[], $11::integer[],
			ST_GeomFromEWKB($12), $13,
			$14, $15::text[], $16,
			clock_timestamp(), $17
		)
		ON CONFLICT (product_ref, start_day, period_type) DO UPDATE SET
			dataset_count = EXCLUDED.dataset_count,
			time_earliest = EXCLUDED.time_earliest,
			time_latest = EXCLUDED.time_latest,
			timeline_period = EXCLUDED.timeline_period,
			timeline_dataset_start_days = EXCLUDED.timeline_dataset_start_days,
			timeline_dataset_counts = EXCLUDED.timeline_dataset_counts,
			regions = EXCLUDED.regions,
			region_dataset_counts = EXCLUDED.region_dataset_counts,
			footprint_geometry = EXCLUDED.footprint_geometry,
			footprint_count = EXCLUDED.footprint_count,
			newest_dataset_creation_time = EXCLUDED.newest_dataset_creation_time,
			crses = EXCLUDED.crses,
			size_bytes = EXCLUDED.size_bytes,
			generation_time = EXCLUDED.generation_time,
			product_refresh_time = EXCLUDED.product_refresh_time
		WHERE time_overview.product_ref = EXCLUDED.product_ref
		  AND time_overview.start_day = EXCLUDED.start_day
		  AND time_overview.period_type = EXCLUDED.period_type
		  AND time_overview.generation_time <= EXCLUDED.generation_time
		RETURNING generation_time`,
		productRef, period.StartDay(), string(period.Type()),
		o.DatasetCount, begin, end,
		string(timelinePeriod), days, toInt32s(dayCounts),
		regions, toInt32s(regionCounts),
		footprint, o.FootprintCount,
		o.NewestDatasetCreationTime, o.CRSes, o.SizeBytes,
		productRefreshTime,
	).Scan(&genTime)
	if errors.Is(err, pgx.ErrNoRows) {
		// A newer summary is already stored.
		stored, err := r.Get(ctx, productRef, period)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("overview %s of product %d vanished during upsert", period, productRef)
		}
		return stored, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store %s overview: %w", period, err)
	}

	written := *o
	written.TimelinePeriod = timelinePeriod
	written.SummaryGenTime = &genTime
	if !o.HasFootprint() {
		written.Footprint, written.FootprintSRID = nil, nil
	}
	return &written, nil
}

func (r *timeOverviewRepository) CompleteProductNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.name
		FROM cubedash.product p
		WHERE EXISTS (
			SELECT 1 FROM cubedash.time_overview o
			WHERE o.product_ref = p.id AND o.period_type = 'all'
		)
		ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list complete products: %w", err)
	}
	defer rows.Close()

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error iterating complete products: %w", err)
	}
	return names, nil
}

func scanTimeOverview(row pgx.Row) (*models.TimePeriodOverview, error) {
	var o models.TimePeriodOverview
	var begin, end *time.Time
	var timelinePeriod string
	var days []time.Time
	var dayCounts, regionCounts []int32
	var regions []string
	var genTime time.Time
	err := row.Scan(
		&o.DatasetCount, &begin, &end,
		&timelinePeriod, &days, &dayCounts,
		&regions, &regionCounts,
		&o.Footprint, &o.FootprintSRID, &o.FootprintCount,
		&o.NewestDatasetCreationTime, &o.CRSes, &o.SizeBytes, &genTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan time overview: %w", err)
	}
	if len(days) != len(dayCounts) || len(regions) != len(regionCounts) {
		return nil, fmt.Errorf("time overview has mismatched histogram arrays")
	}

	o.TimelinePeriod = models.PeriodType(timelinePeriod)
	if begin != nil && end != nil {
		o.TimeRange = &models.TimeRange{Begin: *begin, End: *end}
	}
	if len(days) > 0 {
		o.TimelineDatasetCounts = make(map[time.Time]int, len(days))
		for i, d := range days {
			o.TimelineDatasetCounts[models.DayKey(d, nil)] = int(dayCounts[i])
		}
	}
	if len(regions) > 0 {
		o.RegionDatasetCounts = make(map[string]int, len(regions))
		for i, code := range regions {
			o.RegionDatasetCounts[code] = int(regionCounts[i])
		}
	}
	if len(o.Footprint) == 0 {
		o.Footprint, o.FootprintSRID = nil, nil
	}
	o.SummaryGenTime = &genTime
	return &o, nil
}

func toInt32s(v []int) []int32 {
	out := make([]int32, len(v))
	for i, n := range v {
		out[i] = int32(n)
	}
	return out
}
