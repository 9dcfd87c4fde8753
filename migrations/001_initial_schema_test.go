//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendatacube/cubedash-engine/pkg/testhelpers"
)

// Test_001_InitialSchema verifies migration 001 creates the three summary tables
func Test_001_InitialSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.ResetSummarySchema(t, testDB)
	ctx := context.Background()

	var tables []string
	rows, err := testDB.DB.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'cubedash' AND table_name <> 'schema_migrations'
		ORDER BY table_name`)
	require.NoError(t, err)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	rows.Close()

	assert.Equal(t, []string{"dataset_spatial", "product", "time_overview"}, tables)

	var version int
	var dirty bool
	err = testDB.DB.QueryRow(ctx, `SELECT version, dirty FROM cubedash.schema_migrations`).Scan(&version, &dirty)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.False(t, dirty)
}

// Test_001_FootprintColumn verifies footprints are constrained to EPSG:4326
func Test_001_FootprintColumn(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.ResetSummarySchema(t, testDB)
	ctx := context.Background()

	var srid int
	var geomType string
	err := testDB.DB.QueryRow(ctx, `
		SELECT srid, type FROM geometry_columns
		WHERE f_table_schema = 'cubedash' AND f_table_name = 'dataset_spatial'
		AND f_geometry_column = 'footprint'`).Scan(&srid, &geomType)
	require.NoError(t, err)
	assert.Equal(t, 4326, srid)
	assert.Equal(t, "GEOMETRY", geomType)

	var indexExists bool
	err = testDB.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'cubedash'
			AND indexname = 'dataset_spatial_footprint_gist'
		)`).Scan(&indexExists)
	require.NoError(t, err)
	assert.True(t, indexExists, "footprints should carry a gist index")
}

// Test_001_TimeOverviewConstraints verifies histogram arrays must line up
func Test_001_TimeOverviewConstraints(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	testhelpers.ResetSummarySchema(t, testDB)
	ctx := context.Background()

	var productID int16
	err := testDB.DB.QueryRow(ctx, `
		INSERT INTO cubedash.product (name, dataset_type_ref, dataset_count)
		VALUES ('ls8_level1_scene', 1, 0) RETURNING id`).Scan(&productID)
	require.NoError(t, err)

	insert := func(periodType string, days string, counts string) error {
		_, err := testDB.DB.Exec(ctx, `
			INSERT INTO cubedash.time_overview (
				product_ref, start_day, period_type, dataset_count, timeline_period,
				timeline_dataset_start_days, timeline_dataset_counts, regions, region_dataset_counts
			) VALUES ($1, '2017-04-01', $2, 0, 'day', $3::date[], $4::integer[], '{}', '{}')`,
			productID, periodType, days, counts)
		return err
	}

	assert.NoError(t, insert("month", "{2017-04-03}", "{2}"))
	assert.Error(t, insert("year", "{2017-04-03,2017-04-04}", "{2}"), "mismatched timeline arrays are rejected")
	assert.Error(t, insert("week", "{}", "{}"), "unknown period types are rejected")

	// Removing the product removes its summaries.
	_, err = testDB.DB.Exec(ctx, `DELETE FROM cubedash.product WHERE id = $1`, productID)
	require.NoError(t, err)
	var remaining int
	require.NoError(t, testDB.DB.QueryRow(ctx, `SELECT count(*) FROM cubedash.time_overview`).Scan(&remaining))
	assert.Zero(t, remaining)
}
