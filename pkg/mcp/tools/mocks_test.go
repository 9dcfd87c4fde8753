package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/region"
	"github.com/opendatacube/cubedash-engine/pkg/services"
)

// mockSummaryStore serves fixed products and summaries keyed by product/period.
type mockSummaryStore struct {
	products  map[string]*models.ProductSummary
	summaries map[string]*models.TimePeriodOverview
	listErr   error
	complete  []string
	updated   time.Time

	footprintLimit  int
	footprintRegion *string
}

func newMockSummaryStore() *mockSummaryStore {
	return &mockSummaryStore{
		products:  map[string]*models.ProductSummary{},
		summaries: map[string]*models.TimePeriodOverview{},
	}
}

func (m *mockSummaryStore) Get(ctx context.Context, name string, period models.Period) (*models.TimePeriodOverview, error) {
	return m.summaries[name+"/"+period.String()], nil
}

func (m *mockSummaryStore) Update(ctx context.Context, name string, period models.Period, generateMissingChildren bool) (*models.TimePeriodOverview, error) {
	return models.EmptyOverview(), nil
}

func (m *mockSummaryStore) GetOrUpdate(ctx context.Context, name string, period models.Period) (*models.TimePeriodOverview, error) {
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
	return m.products[name], nil
}

func (m *mockSummaryStore) ListCompleteProducts(ctx context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.complete, nil
}

func (m *mockSummaryStore) ListProductSummaries(ctx context.Context) ([]*models.ProductSummary, error) {
	if m.listErr != nil {
		return nil, m.listErr
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
	m.footprintLimit = limit
	m.footprintRegion = regionCode
	return &models.FeatureCollection{Type: "FeatureCollection", Features: []models.FootprintFeature{}}, nil
}

func (m *mockSummaryStore) ProductRegionInfo(ctx context.Context, name string) (region.Info, error) {
	return nil, nil
}

func (m *mockSummaryStore) GetLastUpdated(ctx context.Context) (time.Time, bool) {
	return m.updated, !m.updated.IsZero()
}

func (m *mockSummaryStore) AddUpdateListener(fn services.UpdateListener) {}
func (m *mockSummaryStore) InvalidateProductCache()                      {}
func (m *mockSummaryStore) Close()                                       {}

func product(name string, count int) *models.ProductSummary {
	earliest := time.Date(2017, 3, 10, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2017, 5, 20, 0, 0, 0, 0, time.UTC)
	return &models.ProductSummary{Name: name, DatasetCount: count, TimeEarliest: &earliest, TimeLatest: &latest}
}
