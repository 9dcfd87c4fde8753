package services

import (
	"context"
	"sync"
	"time"

	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/repositories"
)

// ============================================================================
// Catalog
// ============================================================================

type mockCatalogRepository struct {
	products    []*models.CatalogProduct
	datasets    []*models.CatalogDataset
	samples     [][]byte
	sources     []int16
	derived     []int16
	err         error
	onlyMissing []bool
}

func (m *mockCatalogRepository) ListProducts(ctx context.Context) ([]*models.CatalogProduct, error) {
	return m.products, m.err
}

func (m *mockCatalogRepository) GetProductByName(ctx context.Context, name string) (*models.CatalogProduct, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.products {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockCatalogRepository) CountDatasets(ctx context.Context, productID int16) (int, error) {
	return len(m.datasets), m.err
}

func (m *mockCatalogRepository) SampleMetadata(ctx context.Context, productID int16, samplePercentage float64) ([][]byte, error) {
	return m.samples, m.err
}

func (m *mockCatalogRepository) LinkedProductRefs(ctx context.Context, productID int16, samplePercentage float64) ([]int16, []int16, error) {
	return m.sources, m.derived, m.err
}

func (m *mockCatalogRepository) ForEachDataset(ctx context.Context, productID int16, onlyMissing bool, fn func(*models.CatalogDataset) error) error {
	m.onlyMissing = append(m.onlyMissing, onlyMissing)
	if m.err != nil {
		return m.err
	}
	for _, d := range m.datasets {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Dataset spatial
// ============================================================================

type mockSpatialRepository struct {
	mu sync.Mutex

	bulkErr      error
	bulkWritten  int
	bulkReplace  []bool
	inserted     []*models.DatasetSpatial
	deletedAll   int
	deleteCalls  int
	archivedCall int

	// Stats per time range begin; a nil range uses allStats.
	stats      map[time.Time]*repositories.SpatialStats
	allStats   *repositories.SpatialStats
	timeline   map[time.Time]int
	regions    map[string]int
	union      []byte
	unionSRID  *int
	unionCalls int
	footprints *models.FeatureCollection
	lastQuery  repositories.FootprintQuery
	err        error
}

func (m *mockSpatialRepository) InsertFromCatalog(ctx context.Context, product *models.CatalogProduct, regionSQL string, replace bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkReplace = append(m.bulkReplace, replace)
	if m.bulkErr != nil {
		return 0, m.bulkErr
	}
	return m.bulkWritten, nil
}

func (m *mockSpatialRepository) Insert(ctx context.Context, rows []*models.DatasetSpatial) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, rows...)
	return len(rows), m.err
}

func (m *mockSpatialRepository) DeleteForProduct(ctx context.Context, datasetTypeRef int16) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	return m.deletedAll, m.err
}

func (m *mockSpatialRepository) DeleteArchived(ctx context.Context, datasetTypeRef int16) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archivedCall++
	return 0, m.err
}

func (m *mockSpatialRepository) Stats(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) (*repositories.SpatialStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	if rng == nil {
		if m.allStats != nil {
			return m.allStats, nil
		}
		return &repositories.SpatialStats{}, nil
	}
	if s, ok := m.stats[rng.Begin.UTC()]; ok {
		return s, nil
	}
	return &repositories.SpatialStats{}, nil
}

func (m *mockSpatialRepository) Timeline(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange, grain models.PeriodType, tz string) (map[time.Time]int, error) {
	return m.timeline, m.err
}

func (m *mockSpatialRepository) RegionCounts(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) (map[string]int, error) {
	return m.regions, m.err
}

func (m *mockSpatialRepository) FootprintUnion(ctx context.Context, datasetTypeRef int16, rng *models.TimeRange) ([]byte, *int, error) {
	m.unionCalls++
	return m.union, m.unionSRID, m.err
}

func (m *mockSpatialRepository) GetFootprints(ctx context.Context, q repositories.FootprintQuery) (*models.FeatureCollection, error) {
	m.lastQuery = q
	return m.footprints, m.err
}

// ============================================================================
// Products and overviews
// ============================================================================

type mockProductRepository struct {
	mu sync.Mutex

	products  map[string]*models.ProductSummary
	writes    []*repositories.ProductWrite
	getCalls  int
	err       error
	upsertErr error
}

func newMockProductRepository(products ...*models.ProductSummary) *mockProductRepository {
	m := &mockProductRepository{products: map[string]*models.ProductSummary{}}
	for _, p := range products {
		m.products[p.Name] = p
	}
	return m
}

func (m *mockProductRepository) GetByName(ctx context.Context, name string) (*models.ProductSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.products[name], nil
}

func (m *mockProductRepository) List(ctx context.Context) ([]*models.ProductSummary, error) {
	var out []*models.ProductSummary
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, m.err
}

func (m *mockProductRepository) Upsert(ctx context.Context, p *repositories.ProductWrite) (int16, error) {
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	m.writes = append(m.writes, p)
	existing := m.products[p.Name]
	id := int16(len(m.products) + 1)
	if existing != nil {
		id = existing.ID
	}
	m.products[p.Name] = &models.ProductSummary{
		ID:             id,
		Name:           p.Name,
		DatasetTypeRef: p.DatasetTypeRef,
		DatasetCount:   p.DatasetCount,
		TimeEarliest:   p.TimeEarliest,
		TimeLatest:     p.TimeLatest,
		FixedMetadata:  p.FixedMetadata,
		LastRefresh:    time.Now(),
	}
	return id, nil
}

type overviewKey struct {
	productRef int16
	period     string
}

type mockTimeOverviewRepository struct {
	stored  map[overviewKey]*models.TimePeriodOverview
	upserts []string
	err     error
}

func newMockTimeOverviewRepository() *mockTimeOverviewRepository {
	return &mockTimeOverviewRepository{stored: map[overviewKey]*models.TimePeriodOverview{}}
}

func (m *mockTimeOverviewRepository) Get(ctx context.Context, productRef int16, period models.Period) (*models.TimePeriodOverview, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stored[overviewKey{productRef, period.String()}], nil
}

func (m *mockTimeOverviewRepository) Upsert(ctx context.Context, productRef int16, period models.Period, o *models.TimePeriodOverview, productRefreshTime *time.Time) (*models.TimePeriodOverview, error) {
	if m.err != nil {
		return nil, m.err
	}
	written := *o
	now := time.Now()
	written.SummaryGenTime = &now
	m.stored[overviewKey{productRef, period.String()}] = &written
	m.upserts = append(m.upserts, period.String())
	return &written, nil
}

func (m *mockTimeOverviewRepository) CompleteProductNames(ctx context.Context) ([]string, error) {
	return nil, m.err
}

// ============================================================================
// Summariser
// ============================================================================

// mockSummariser returns canned month and day summaries and sums with AddPeriods.
type mockSummariser struct {
	summaries map[string]*models.TimePeriodOverview
	calls     []string
	err       error
}

func (m *mockSummariser) CalculateSummary(ctx context.Context, datasetTypeRef int16, period models.Period) (*models.TimePeriodOverview, error) {
	m.calls = append(m.calls, period.String())
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.summaries[period.String()]; ok {
		cp := *s
		return &cp, nil
	}
	o := models.EmptyOverview()
	o.TimelinePeriod = period.TimelineGrain()
	return o, nil
}

func (m *mockSummariser) AddPeriods(periods []*models.TimePeriodOverview) *models.TimePeriodOverview {
	return AddPeriods(zapNop, periods)
}

// ============================================================================
// Extents
// ============================================================================

type mockExtentService struct {
	result   *ExtentResult
	fixed    map[string]any
	sources  []int16
	derived  []int16
	err      error
	fixedErr error
	calls    int
}

func (m *mockExtentService) RefreshProduct(ctx context.Context, product *models.CatalogProduct, force bool) (*ExtentResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &ExtentResult{Bulk: true}, nil
	}
	return m.result, nil
}

func (m *mockExtentService) LinkedProducts(ctx context.Context, product *models.CatalogProduct, samplePercentage float64) ([]int16, []int16, error) {
	return m.sources, m.derived, nil
}

func (m *mockExtentService) FindFixedMetadata(ctx context.Context, product *models.CatalogProduct, samplePercentage float64) (map[string]any, error) {
	return m.fixed, m.fixedErr
}
