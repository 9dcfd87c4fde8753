package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// SpatialStats are the scalar aggregates of dataset_spatial rows in a time range.
type SpatialStats struct {
	DatasetCount       int
	TimeEarliest       *time.Time
	TimeLatest         *time.Time
	NewestCreationTime *time.Time
	SizeBytes          *int64
	FootprintCount     int
	// Number of distinct SRIDs among the counted footprints.
	FootprintSRIDs int
	CRSes          []string
}

// FootprintQuery filters GetFootprints.
type FootprintQuery struct {
	DatasetTypeRef int16
	TimeRange      *models.TimeRange
	RegionCode     *string
	Limit          int
}

// DatasetSpatialRepository provides data access for cubedash.dataset_spatial.
type DatasetSpatialRepository interface {
	// InsertFromCatalog computes extents of every missing dataset of the product
	// in one statement. With replace set, the product's rows are deleted first in
	// the same transaction. Returns the number of rows written.
	InsertFromCatalog(ctx context.Context, product *models.CatalogProduct, regionSQL string, replace bool) (int, error)
	// Insert writes rows computed in-process, skipping ids already present.
	Insert(ctx context.Context, rows []*models.DatasetSpatial) (int, error)
	// DeleteForProduct removes every row of the product.
	DeleteForProduct(ctx context.Context, datasetTypeRef int16) (int, error)
	// DeleteArchived removes rows whose catalog dataset was archived or deleted.
	DeleteArchived(ctx context.Context, datasetTypeRef int16) (int, error)

	// Stats aggregates rows of the product in rng (all rows when rng is nil).
	Stats(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) (*SpatialStats, error)
	// Timeline counts rows per grain bucket of center_time in the time zone tz.
	Timeline(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange, grain models.PeriodType, tz string) (map[time.Time]int, error)
	// RegionCounts counts rows per non-null region code.
	RegionCounts(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) (map[string]int, error)
	// FootprintUnion unions all non-empty footprints, returning EWKB and SRID.
	// Returns nil when there are none or the SRIDs are mixed.
	FootprintUnion(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) ([]byte, *int, error)
	// GetFootprints returns dataset footprints as GeoJSON features, newest first.
	GetFootprints(ctx context.Context, q FootprintQuery) (*models.FeatureCollection, error)
}

type datasetSpatialRepository struct {
	db database.Conn
}

// NewDatasetSpatialRepository creates a dataset_spatial repository over db.
func NewDatasetSpatialRepository(db database.Conn) DatasetSpatialRepository {
	return &datasetSpatialRepository{db: db}
}

var _ DatasetSpatialRepository = (*datasetSpatialRepository)(nil)

// rangeArgs renders a nil range as unbounded NULLs.
func rangeArgs(rng *models.TimeRange) (*time.Time, *time.Time) {
	if rng == nil {
		return nil, nil
	}
	return &rng.Begin, &rng.End
}

const spatialRangeFilter = `
	dataset_type_ref = $1
	AND ($2::timestamptz IS NULL OR center_time >= $2)
	AND ($3::timestamptz IS NULL OR center_time < $3)`

func (r *datasetSpatialRepository) InsertFromCatalog(ctx context.Context, product *models.CatalogProduct, regionSQL string, replace bool) (int, error) {
	var inserted int
	err := database.InTx(ctx, r.db, func(tx database.Querier) error {
		if replace {
			if _, err := tx.Exec(ctx, `DELETE FROM cubedash.dataset_spatial WHERE dataset_type_ref = $1`, product.ID); err != nil {
				return fmt.Errorf("failed to clear extents of %s: %w", product.Name, err)
			}
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO cubedash.dataset_spatial (
				id, dataset_type_ref, center_time, footprint,
				region_code, size_bytes, creation_time, crs
			)`+ExtentSelectSQL(product, regionSQL)+`
			ON CONFLICT (id) DO NOTHING`, product.ID)
		if err != nil {
			return fmt.Errorf("failed to insert extents of %s: %w", product.Name, err)
		}
		inserted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *datasetSpatialRepository) Insert(ctx context.Context, rows []*models.DatasetSpatial) (int, error) {
	written := 0
	for _, row := range rows {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO cubedash.dataset_spatial (
				id, dataset_type_ref, center_time, footprint,
				region_code, size_bytes, creation_time, crs
			) VALUES ($1, $2, $3, ST_GeomFromEWKB($4), $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			row.ID, row.DatasetTypeRef, row.CenterTime, row.Footprint,
			row.RegionCode, row.SizeBytes, row.CreationTime, row.CRS)
		if err != nil {
			return written, fmt.Errorf("failed to insert extent of dataset %s: %w", row.ID, err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

func (r *datasetSpatialRepository) DeleteForProduct(ctx context.Context, datasetTypeRef int16) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM cubedash.dataset_spatial WHERE dataset_type_ref = $1`, datasetTypeRef)
	if err != nil {
		return 0, fmt.Errorf("failed to delete extents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *datasetSpatialRepository) DeleteArchived(ctx context.Context, datasetTypeRef int16) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM cubedash.dataset_spatial s
		WHERE s.dataset_type_ref = $1
		AND NOT EXISTS (
			SELECT 1 FROM agdc.dataset d
			WHERE d.id = s.id AND d.archived IS NULL
		)`, datasetTypeRef)
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived extents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *datasetSpatialRepository) Stats(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) (*SpatialStats, error) {
	begin, end := rangeArgs(rng)
	var s SpatialStats
	err := r.db.QueryRow(ctx, `
		SELECT count(*),
		       min(center_time),
		       max(center_time),
		       max(creation_time),
		       sum(size_bytes)::bigint,
		       count(*) FILTER (WHERE footprint IS NOT NULL AND NOT ST_IsEmpty(footprint)),
		       count(DISTINCT ST_SRID(footprint)) FILTER (WHERE footprint IS NOT NULL AND NOT ST_IsEmpty(footprint)),
		       array_remove(array_agg(DISTINCT crs ORDER BY crs), NULL)
		FROM cubedash.dataset_spatial
		WHERE`+spatialRangeFilter, datasetTypeRef, begin, end).Scan(
		&s.DatasetCount, &s.TimeEarliest, &s.TimeLatest, &s.NewestCreationTime,
		&s.SizeBytes, &s.FootprintCount, &s.FootprintSRIDs, &s.CRSes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate dataset extents: %w", err)
	}
	return &s, nil
}

func (r *datasetSpatialRepository) Timeline(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange, grain models.PeriodType, tz string) (map[time.Time]int, error) {
	switch grain {
	case models.PeriodDay, models.PeriodMonth, models.PeriodYear:
	default:
		return nil, fmt.Errorf("%w: timeline grain %q", models.ErrInvalidPeriod, grain)
	}
	begin, end := rangeArgs(rng)
	rows, err := r.db.Query(ctx, `
		SELECT date_trunc($4, center_time AT TIME ZONE $5)::date AS start_day, count(*)
		FROM cubedash.dataset_spatial
		WHERE`+spatialRangeFilter+`
		GROUP BY 1
		ORDER BY 1`, datasetTypeRef, begin, end, string(grain), tz)
	if err != nil {
		return nil, fmt.Errorf("failed to build timeline: %w", err)
	}
	defer rows.Close()

	counts := map[time.Time]int{}
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("failed to scan timeline: %w", err)
		}
		counts[models.DayKey(day, nil)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeline: %w", err)
	}
	return counts, nil
}

func (r *datasetSpatialRepository) RegionCounts(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) (map[string]int, error) {
	begin, end := rangeArgs(rng)
	rows, err := r.db.Query(ctx, `
		SELECT region_code, count(*)
		FROM cubedash.dataset_spatial
		WHERE`+spatialRangeFilter+`
		AND region_code IS NOT NULL
		GROUP BY region_code
		ORDER BY region_code`, datasetTypeRef, begin, end)
	if err != nil {
		return nil, fmt.Errorf("failed to count regions: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan region count: %w", err)
		}
		counts[code] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating region counts: %w", err)
	}
	return counts, nil
}

func (r *datasetSpatialRepository) FootprintUnion(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) ([]byte, *int, error) {
	begin, end := rangeArgs(rng)
	var ewkb []byte
	var srid *int
	// Ordered input keeps the union byte-identical between runs.
	err := r.db.QueryRow(ctx, `
		WITH fp AS (
			SELECT id, footprint
			FROM cubedash.dataset_spatial
			WHERE`+spatialRangeFilter+`
			AND footprint IS NOT NULL AND NOT ST_IsEmpty(footprint)
		)
		SELECT ST_AsEWKB(u), ST_SRID(u)
		FROM (
			SELECT CASE WHEN (SELECT count(DISTINCT ST_SRID(footprint)) FROM fp) = 1
			            THEN (SELECT ST_Union(footprint ORDER BY id) FROM fp)
			       END AS u
		) q`, datasetTypeRef, begin, end).Scan(&ewkb, &srid)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to union footprints: %w", err)
	}
	if len(ewkb) == 0 {
		return nil, nil, nil
	}
	return ewkb, srid, nil
}

func (r *datasetSpatialRepository) GetFootprints(ctx context.Context, q FootprintQuery) (*models.FeatureCollection, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	begin, end := rangeArgs(q.TimeRange)
	rows, err := r.db.Query(ctx, `
		SELECT id, region_code, center_time, creation_time, ST_AsGeoJSON(footprint)
		FROM cubedash.dataset_spatial
		WHERE`+spatialRangeFilter+`
		AND footprint IS NOT NULL
		AND ($4::text IS NULL OR region_code = $4)
		ORDER BY center_time DESC, id
		LIMIT $5`, q.DatasetTypeRef, begin, end, q.RegionCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list footprints: %w", err)
	}
	defer rows.Close()

	fc := &models.FeatureCollection{Type: "FeatureCollection", Features: []models.FootprintFeature{}}
	for rows.Next() {
		var f models.FootprintFeature
		var geometry string
		var creation *time.Time
		var id uuid.UUID
		if err := rows.Scan(&id, &f.Properties.RegionCode, &f.Properties.CenterTime, &creation, &geometry); err != nil {
			return nil, fmt.Errorf("failed to scan footprint: %w", err)
		}
		f.Type = "Feature"
		f.Geometry = json.RawMessage(geometry)
		f.Properties.ID = id.String()
		f.Properties.CreationTime = creation
		fc.Features = append(fc.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating footprints: %w", err)
	}
	return fc, nil
}
