package handlers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/geo"
	"github.com/opendatacube/cubedash-engine/pkg/metadoc"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/region"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// mockSummaryStore serves fixed products and summaries.
type mockSummaryStore struct {
	products   map[string]*models.ProductSummary
	summaries  map[string]*models.TimePeriodOverview // keyed product/period
	regionInfo region.Info
	footprints *models.FeatureCollection
	err        error
	// Generated periods come back empty and unstored, as for an out-of-range period.
	pruned bool

	updated        []string
	footprintQuery struct {
		period models.Period
		region *string
		limit  int
	}
	lastUpdated time.Time
}

func newMockSummaryStore() *mockSummaryStore {
	return &mockSummaryStore{
		products:  map[string]*models.ProductSummary{},
		summaries: map[string]*models.TimePeriodOverview{},
	}
}

func summaryKey(product string, period models.Period) string {
	return product + "/" + period.String()
}

func (m *mockSummaryStore) Get(ctx context.Context, name string, period models.Period) (*models.TimePeriodOverview, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.summaries[summaryKey(name, period)], nil
}

func (m *mockSummaryStore) Update(ctx context.Context, name string, period models.Period, generateMissingChildren bool) (*models.TimePeriodOverview, error) {
	m.updated = append(m.updated, summaryKey(name, period))
	if m.pruned {
		return nil, nil
	}
	return models.EmptyOverview(), nil
}

func (m *mockSummaryStore) GetOrUpdate(ctx context.Context, name string, period models.Period) (*models.TimePeriodOverview, error) {
	if o := m.summaries[summaryKey(name, period)]; o != nil {
		return o, nil
	}
	return m.Update(ctx, name, period, true)
}

func (m *mockSummaryStore) Regenerate(ctx context.Context, name string, period models.Period) (*models.TimePeriodOverview, error) {
	return m.Update(ctx, name, period, true)
}

func (m *mockSummaryStore) RefreshProduct(ctx context.Context, name string, refreshOlderThan time.Duration, forceExtents bool) (*models.RefreshResult, error) {
	return &models.RefreshResult{}, nil
}

func (m *mockSummaryStore) RefreshAllProducts(ctx context.Context, refreshOlderThan time.Duration, forceExtents bool) (map[string]*models.RefreshResult, error) {
	return nil, nil
}

func (m *mockSummaryStore) GetProductSummary(ctx context.Context, name string) (*models.ProductSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.products[name], nil
}

func (m *mockSummaryStore) ListCompleteProducts(ctx context.Context) ([]string, error) {
	var names []string
	for name := range m.products {
		names = append(names, name)
	}
	return names, m.err
}

func (m *mockSummaryStore) ListProductSummaries(ctx context.Context) ([]*models.ProductSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.ProductSummary
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockSummaryStore) GetDatasetFootprints(ctx context.Context, name string, period models.Period, regionCode *string, limit int) (*models.FeatureCollection, error) {
	if _, ok := m.products[name]; !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, name)
	}
	m.footprintQuery.period = period
	m.footprintQuery.region = regionCode
	m.footprintQuery.limit = limit
	if m.footprints == nil {
		return &models.FeatureCollection{Type: "FeatureCollection", Features: []models.FootprintFeature{}}, nil
	}
	return m.footprints, nil
}

func (m *mockSummaryStore) ProductRegionInfo(ctx context.Context, name string) (region.Info, error) {
	return m.regionInfo, nil
}

func (m *mockSummaryStore) GetLastUpdated(ctx context.Context) (time.Time, bool) {
	return m.lastUpdated, !m.lastUpdated.IsZero()
}

func (m *mockSummaryStore) AddUpdateListener(fn services.UpdateListener) {}
func (m *mockSummaryStore) InvalidateProductCache()                      {}
func (m *mockSummaryStore) Close()                                       {}

// tileInfo labels region codes as tiles.
type tileInfo struct{}

func (tileInfo) Name() string                                { return "tiled" }
func (tileInfo) Description() string                         { return "Tiled product" }
func (tileInfo) UnitLabel() string                           { return "tile" }
func (tileInfo) UnitsLabel() string                          { return "tiles" }
func (tileInfo) Label(code string) string                    { return "Tile " + code }
func (tileInfo) CodeFor(doc metadoc.Document) (string, bool) { return "", false }
func (tileInfo) SQLExpression(docColumn string) string       { return "NULL" }

const testProduct = "ls8_nbar_albers"

func testProductSummary() *models.ProductSummary {
	earliest := time.Date(2017, 3, 10, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2017, 5, 20, 0, 0, 0, 0, time.UTC)
	return &models.ProductSummary{
		ID:             1,
		DatasetTypeRef: 7,
		Name:           testProduct,
		DatasetCount:   6,
		TimeEarliest:   &earliest,
		TimeLatest:     &latest,
		SourceProducts: []string{"ls8_level1_scene"},
		LastRefresh:    time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func squareOverview(t *testing.T, count int) *models.TimePeriodOverview {
	t.Helper()
	g, err := geo.NewPolygon(geo.CornersPolygon([2]float64{140, -36}, [2]float64{140, -35}, [2]float64{141, -35}, [2]float64{141, -36}))
	if err != nil {
		t.Fatalf("failed to build polygon: %v", err)
	}
	ewkb, err := geo.ToEWKB(g, geo.CanonicalSRID)
	if err != nil {
		t.Fatalf("failed to encode polygon: %v", err)
	}
	srid := geo.CanonicalSRID
	return &models.TimePeriodOverview{
		DatasetCount:          count,
		TimelineDatasetCounts: map[time.Time]int{time.Date(2017, 4, 3, 0, 0, 0, 0, time.UTC): count},
		TimelinePeriod:        models.PeriodDay,
		RegionDatasetCounts:   map[string]int{"-12_-39": count},
		Footprint:             ewkb,
		FootprintSRID:         &srid,
		FootprintCount:        count,
		CRSes:                 []string{"EPSG:3577"},
	}
}
