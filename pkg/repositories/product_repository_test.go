//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductRepository_UpsertAndGet(t *testing.T) {
	tc := setupCatalogTest(t)
	products := NewProductRepository(tc.testDB.DB)
	ctx := context.Background()

	missing, err := products.GetByName(ctx, "ls8_level1_scene")
	require.NoError(t, err)
	assert.Nil(t, missing, "never refreshed")

	earliest, latest := utc("2017-04-03T23:50:10Z"), utc("2017-05-05T23:50:02Z")
	id, err := products.Upsert(ctx, &ProductWrite{
		Name:               "ls8_level1_scene",
		DatasetTypeRef:     tc.level1.ID,
		DatasetCount:       4,
		TimeEarliest:       &earliest,
		TimeLatest:         &latest,
		DerivedProductRefs: []int16{tc.nbar.ID},
		FixedMetadata:      map[string]any{"platform": "LANDSAT_8", "gsd": nil},
	})
	require.NoError(t, err)

	p, err := products.GetByName(ctx, "ls8_level1_scene")
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, id, p.ID)
	assert.Equal(t, tc.level1.ID, p.DatasetTypeRef)
	assert.Equal(t, 4, p.DatasetCount)
	require.NotNil(t, p.TimeEarliest)
	assert.True(t, p.TimeEarliest.Equal(earliest))
	assert.Empty(t, p.SourceProducts)
	assert.Equal(t, []string{"ls8_nbar_scene"}, p.DerivedProducts, "refs resolve to catalog names")
	assert.Equal(t, "LANDSAT_8", p.FixedMetadata["platform"])
	v, ok := p.FixedMetadata["gsd"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Less(t, p.LastRefreshAge, time.Minute)
	assert.False(t, p.LastRefresh.IsZero())
}

func TestProductRepository_UpsertKeepsID(t *testing.T) {
	tc := setupCatalogTest(t)
	products := NewProductRepository(tc.testDB.DB)
	ctx := context.Background()

	first, err := products.Upsert(ctx, &ProductWrite{Name: "ls8_nbar_scene", DatasetTypeRef: tc.nbar.ID, DatasetCount: 1})
	require.NoError(t, err)

	second, err := products.Upsert(ctx, &ProductWrite{Name: "ls8_nbar_scene", DatasetTypeRef: tc.nbar.ID, DatasetCount: 0})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := products.Upsert(ctx, &ProductWrite{Name: "ls8_level1_scene", DatasetTypeRef: tc.level1.ID})
	require.NoError(t, err)
	assert.Equal(t, first+1, other, "rewrites do not consume sequence values")

	p, err := products.GetByName(ctx, "ls8_nbar_scene")
	require.NoError(t, err)
	assert.Zero(t, p.DatasetCount)
	assert.Nil(t, p.TimeEarliest)
	assert.Nil(t, p.FixedMetadata)
}

func TestProductRepository_List(t *testing.T) {
	tc := setupCatalogTest(t)
	products := NewProductRepository(tc.testDB.DB)
	ctx := context.Background()

	list, err := products.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, w := range []*ProductWrite{
		{Name: "ls8_nbar_scene", DatasetTypeRef: tc.nbar.ID, SourceProductRefs: []int16{tc.level1.ID}},
		{Name: "ls8_level1_scene", DatasetTypeRef: tc.level1.ID},
	} {
		_, err := products.Upsert(ctx, w)
		require.NoError(t, err)
	}

	list, err = products.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ls8_level1_scene", list[0].Name)
	assert.Equal(t, "ls8_nbar_scene", list[1].Name)
	assert.Equal(t, []string{"ls8_level1_scene"}, list[1].SourceProducts)
}
