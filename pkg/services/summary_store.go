package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/geo"
	"github.com/opendatacube/cubedash-engine/pkg/metrics"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/region"
	"github.com/opendatacube/cubedash-engine/pkg/repositories"
)

// DefaultRefreshOlderThan is how old a product refresh must be before it is redone.
const DefaultRefreshOlderThan = 24 * time.Hour

// ForceRefresh as a refreshOlderThan age refreshes regardless of the last refresh.
const ForceRefresh = -time.Minute

// AllProducts names the combined summary of every product.
const AllProducts = ""

// UpdateListener is called after a summary is computed.
type UpdateListener func(ctx context.Context, productName string, period models.Period, summary *models.TimePeriodOverview)

// SummaryStore maintains and serves the pre-computed product summaries.
//
// Reads may share a store across goroutines; the product cache is guarded by
// its own lock. Refreshes are not coordinated: two refreshes of one product
// through the same store race, last write wins. Generation opens one store
// per worker and serve only reads and fills missing summaries.
type SummaryStore interface {
	// Get returns the stored summary, or nil when it has not been generated.
	Get(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error)
	// Update recomputes and stores a summary. Year and all-time summaries are
	// summed from stored children; missing children are generated first when
	// generateMissingChildren is set, and treated as empty otherwise.
	Update(ctx context.Context, productName string, period models.Period, generateMissingChildren bool) (*models.TimePeriodOverview, error)
	// GetOrUpdate returns the stored summary, generating it when missing.
	GetOrUpdate(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error)
	// Regenerate recomputes the summary and every stored child beneath it.
	Regenerate(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error)

	// RefreshProduct refreshes extents and product-level statistics when the last
	// refresh is at least refreshOlderThan old.
	RefreshProduct(ctx context.Context, productName string, refreshOlderThan time.Duration, forceExtents bool) (*models.RefreshResult, error)
	// RefreshAllProducts refreshes every catalog product in turn.
	RefreshAllProducts(ctx context.Context, refreshOlderThan time.Duration, forceExtents bool) (map[string]*models.RefreshResult, error)

	GetProductSummary(ctx context.Context, productName string) (*models.ProductSummary, error)
	ListCompleteProducts(ctx context.Context) ([]string, error)
	ListProductSummaries(ctx context.Context) ([]*models.ProductSummary, error)
	// GetDatasetFootprints lists dataset footprints of a product in a period, optionally in one region.
	GetDatasetFootprints(ctx context.Context, productName string, period models.Period, regionCode *string, limit int) (*models.FeatureCollection, error)
	// ProductRegionInfo returns how the product's datasets are grouped into regions, or nil.
	ProductRegionInfo(ctx context.Context, productName string) (region.Info, error)
	// GetLastUpdated reports when the catalog last changed; false when unknown.
	GetLastUpdated(ctx context.Context) (time.Time, bool)

	AddUpdateListener(fn UpdateListener)
	// InvalidateProductCache drops cached product rows.
	InvalidateProductCache()
	Close()
}

// SummaryStoreDeps are the collaborators of a SummaryStore.
type SummaryStoreDeps struct {
	Catalog    repositories.CatalogRepository
	Products   repositories.ProductRepository
	Overviews  repositories.TimeOverviewRepository
	Spatial    repositories.DatasetSpatialRepository
	Extents    ExtentService
	Summariser Summariser
}

type childMode int

const (
	childrenStoredOnly childMode = iota
	childrenGenerateMissing
	childrenRegenerate
)

type summaryStore struct {
	deps      SummaryStoreDeps
	loc       *time.Location
	cache     *productCache
	listeners []UpdateListener
	closers   []func()
	logger    *zap.Logger
}

// NewSummaryStore creates a SummaryStore grouping days in loc.
func NewSummaryStore(deps SummaryStoreDeps, loc *time.Location, logger *zap.Logger) SummaryStore {
	if loc == nil {
		loc = time.UTC
	}
	return &summaryStore{
		deps:   deps,
		loc:    loc,
		cache:  newProductCache(),
		logger: logger.Named("summary-store"),
	}
}

// OpenSummaryStore wires a SummaryStore over db after checking that the summary
// schema is initialised and current.
func OpenSummaryStore(ctx context.Context, db *database.DB, loc *time.Location, logger *zap.Logger) (SummaryStore, error) {
	if err := database.NewSchema(db, logger).Check(ctx); err != nil {
		return nil, err
	}

	reprojector := geo.NewReprojector()
	catalog := repositories.NewCatalogRepository(db)
	spatial := repositories.NewDatasetSpatialRepository(db)
	store := NewSummaryStore(SummaryStoreDeps{
		Catalog:    catalog,
		Products:   repositories.NewProductRepository(db),
		Overviews:  repositories.NewTimeOverviewRepository(db),
		Spatial:    spatial,
		Extents:    NewExtentService(catalog, spatial, reprojector, logger),
		Summariser: NewSummariser(spatial, loc, logger),
	}, loc, logger).(*summaryStore)
	store.closers = append(store.closers, reprojector.Close)
	return store, nil
}

var _ SummaryStore = (*summaryStore)(nil)

func (s *summaryStore) Close() {
	for _, fn := range s.closers {
		fn()
	}
}

func (s *summaryStore) AddUpdateListener(fn UpdateListener) {
	s.listeners = append(s.listeners, fn)
}

func (s *summaryStore) InvalidateProductCache() {
	s.cache.invalidateAll()
}

func (s *summaryStore) notify(ctx context.Context, productName string, period models.Period, summary *models.TimePeriodOverview) {
	for _, fn := range s.listeners {
		fn(ctx, productName, period, summary)
	}
}

// ============================================================================
// Products
// ============================================================================

func (s *summaryStore) GetProductSummary(ctx context.Context, productName string) (*models.ProductSummary, error) {
	if p, ok := s.cache.get(productName); ok {
		metrics.ProductCacheHits.Inc()
		return p, nil
	}
	metrics.ProductCacheMisses.Inc()

	p, err := s.deps.Products.GetByName(ctx, productName)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.cache.put(p)
	}
	return p, nil
}

func (s *summaryStore) ListProductSummaries(ctx context.Context) ([]*models.ProductSummary, error) {
	return s.deps.Products.List(ctx)
}

func (s *summaryStore) ListCompleteProducts(ctx context.Context) ([]string, error) {
	return s.deps.Overviews.CompleteProductNames(ctx)
}

func (s *summaryStore) ProductRegionInfo(ctx context.Context, productName string) (region.Info, error) {
	p, err := s.deps.Catalog.GetProductByName(ctx, productName)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, productName)
	}
	return region.ForProduct(p), nil
}

func (s *summaryStore) GetLastUpdated(ctx context.Context) (time.Time, bool) {
	// The catalog keeps no change timestamp to read.
	return time.Time{}, false
}

func (s *summaryStore) RefreshProduct(ctx context.Context, productName string, refreshOlderThan time.Duration, forceExtents bool) (*models.RefreshResult, error) {
	start := time.Now()
	result, err := s.refreshProduct(ctx, productName, refreshOlderThan, forceExtents)
	switch {
	case err != nil:
		metrics.ProductRefreshes.WithLabelValues("failed").Inc()
	case result.Skipped:
		metrics.ProductRefreshes.WithLabelValues("skipped").Inc()
	default:
		metrics.ProductRefreshes.WithLabelValues("refreshed").Inc()
		metrics.ProductRefreshDuration.Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (s *summaryStore) refreshProduct(ctx context.Context, productName string, refreshOlderThan time.Duration, forceExtents bool) (*models.RefreshResult, error) {
	product, err := s.deps.Catalog.GetProductByName(ctx, productName)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, productName)
	}

	// Read through the cache: the age must be current.
	existing, err := s.deps.Products.GetByName(ctx, productName)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.LastRefreshAge < refreshOlderThan {
		s.logger.Debug("Product refreshed recently, skipping",
			zap.String("product", productName),
			zap.Duration("last_refresh_age", existing.LastRefreshAge),
			zap.Duration("refresh_older_than", refreshOlderThan))
		return &models.RefreshResult{Skipped: true}, nil
	}

	extents, err := s.deps.Extents.RefreshProduct(ctx, product, forceExtents)
	if err != nil {
		s.logger.Error("Failed to refresh dataset extents",
			zap.String("product", productName),
			zap.Error(err))
		return nil, err
	}

	stats, err := s.deps.Spatial.Stats(ctx, product.ID, nil)
	if err != nil {
		return nil, err
	}
	indexed, err := s.deps.Catalog.CountDatasets(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	unindexed := max(indexed-stats.DatasetCount, 0)
	if unindexed > 0 {
		s.logger.Warn("Datasets missing from extents after refresh",
			zap.String("product", productName),
			zap.Int("catalog_count", indexed),
			zap.Int("extent_count", stats.DatasetCount))
	}

	pct := SamplePercentage(stats.DatasetCount)
	sources, derived, err := s.deps.Extents.LinkedProducts(ctx, product, pct)
	if err != nil {
		return nil, err
	}
	fixed, err := s.deps.Extents.FindFixedMetadata(ctx, product, pct)
	if err != nil {
		s.logger.Warn("Failed to find fixed metadata",
			zap.String("product", productName),
			zap.Error(err))
		fixed = nil
	}

	write := &repositories.ProductWrite{
		Name:               productName,
		DatasetTypeRef:     product.ID,
		DatasetCount:       stats.DatasetCount,
		SourceProductRefs:  sources,
		DerivedProductRefs: derived,
		FixedMetadata:      fixed,
	}
	if stats.DatasetCount > 0 {
		write.TimeEarliest, write.TimeLatest = stats.TimeEarliest, stats.TimeLatest
	}
	if _, err := s.deps.Products.Upsert(ctx, write); err != nil {
		return nil, err
	}
	s.cache.invalidateAll()

	s.logger.Info("Product refreshed",
		zap.String("product", productName),
		zap.Int("dataset_count", stats.DatasetCount),
		zap.Int("extents_added", extents.Written),
		zap.Int("footprint_failures", extents.Failed),
		zap.Bool("bulk", extents.Bulk))
	return &models.RefreshResult{
		Added:             extents.Written,
		FootprintFailures: extents.Failed,
		Unindexed:         unindexed,
	}, nil
}

func (s *summaryStore) RefreshAllProducts(ctx context.Context, refreshOlderThan time.Duration, forceExtents bool) (map[string]*models.RefreshResult, error) {
	products, err := s.deps.Catalog.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[string]*models.RefreshResult, len(products))
	var errs []error
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.RefreshProduct(ctx, p.Name, refreshOlderThan, forceExtents)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		results[p.Name] = result
	}
	return results, errors.Join(errs...)
}

// ============================================================================
// Summaries
// ============================================================================

func (s *summaryStore) Get(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error) {
	if productName == AllProducts || period.Type() == models.PeriodDay {
		// Neither is stored.
		return nil, nil
	}
	product, err := s.GetProductSummary(ctx, productName)
	if err != nil || product == nil {
		return nil, err
	}
	return s.deps.Overviews.Get(ctx, product.ID, period)
}

func (s *summaryStore) GetOrUpdate(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error) {
	stored, err := s.Get(ctx, productName, period)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}
	return s.Update(ctx, productName, period, true)
}

func (s *summaryStore) Update(ctx context.Context, productName string, period models.Period, generateMissingChildren bool) (*models.TimePeriodOverview, error) {
	mode := childrenStoredOnly
	if generateMissingChildren {
		mode = childrenGenerateMissing
	}
	return s.update(ctx, productName, period, mode)
}

func (s *summaryStore) Regenerate(ctx context.Context, productName string, period models.Period) (*models.TimePeriodOverview, error) {
	return s.update(ctx, productName, period, childrenRegenerate)
}

func (s *summaryStore) update(ctx context.Context, productName string, period models.Period, mode childMode) (*models.TimePeriodOverview, error) {
	if productName == AllProducts {
		return s.updateAllProducts(ctx, period, mode)
	}

	product, err := s.GetProductSummary(ctx, productName)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, productName)
	}

	var summary *models.TimePeriodOverview
	switch period.Type() {
	case models.PeriodDay, models.PeriodMonth:
		summary, err = s.deps.Summariser.CalculateSummary(ctx, product.DatasetTypeRef, period)
	default:
		summary, err = s.sumChildren(ctx, product, period, mode)
	}
	if err != nil {
		s.logger.Error("Failed to compute summary",
			zap.String("product", productName),
			zap.String("period", period.String()),
			zap.Error(err))
		return nil, err
	}

	if period.Type() != models.PeriodDay {
		summary, err = s.put(ctx, product, period, summary)
		if err != nil {
			return nil, err
		}
	}
	if summary != nil {
		s.notify(ctx, productName, period, summary)
	}
	return summary, nil
}

// sumChildren adds the month summaries of a year, or the year summaries of all time.
func (s *summaryStore) sumChildren(ctx context.Context, product *models.ProductSummary, period models.Period, mode childMode) (*models.TimePeriodOverview, error) {
	earliest, latest := s.localBounds(product)
	children := period.Children(earliest, latest)

	summaries := make([]*models.TimePeriodOverview, 0, len(children))
	for _, child := range children {
		var summary *models.TimePeriodOverview
		var err error
		switch mode {
		case childrenRegenerate:
			summary, err = s.update(ctx, product.Name, child, mode)
		case childrenGenerateMissing:
			summary, err = s.Get(ctx, product.Name, child)
			if err == nil && summary == nil {
				summary, err = s.update(ctx, product.Name, child, mode)
			}
		default:
			summary, err = s.Get(ctx, product.Name, child)
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	summary := s.deps.Summariser.AddPeriods(summaries)
	if period.Type() == models.PeriodAll {
		summary.CoarsenTimeline(models.PeriodMonth)
	}
	return summary, nil
}

// localBounds converts the product time bounds into the grouping time zone.
func (s *summaryStore) localBounds(product *models.ProductSummary) (*time.Time, *time.Time) {
	if product.TimeEarliest == nil || product.TimeLatest == nil {
		return nil, nil
	}
	earliest, latest := product.TimeEarliest.In(s.loc), product.TimeLatest.In(s.loc)
	return &earliest, &latest
}

// put stores a summary unless it is an empty period outside the product's
// time range. Returns the stored row, which may be a newer concurrent write.
func (s *summaryStore) put(ctx context.Context, product *models.ProductSummary, period models.Period, summary *models.TimePeriodOverview) (*models.TimePeriodOverview, error) {
	if s.prunable(product, period, summary) {
		metrics.SummaryWrites.WithLabelValues("pruned").Inc()
		s.logger.Debug("Not storing empty summary outside the product time range",
			zap.String("product", product.Name),
			zap.String("period", period.String()))
		return nil, nil
	}

	refreshTime := product.LastRefresh
	stored, err := s.deps.Overviews.Upsert(ctx, product.ID, period, summary, &refreshTime)
	if err != nil {
		s.logger.Error("Failed to store summary",
			zap.String("product", product.Name),
			zap.String("period", period.String()),
			zap.Error(err))
		return nil, err
	}
	if stored.SummaryGenTime != nil && summary.SummaryGenTime != nil && stored.SummaryGenTime.Before(*summary.SummaryGenTime) {
		metrics.SummaryWrites.WithLabelValues("stale").Inc()
	} else {
		metrics.SummaryWrites.WithLabelValues("stored").Inc()
	}
	return stored, nil
}

func (s *summaryStore) prunable(product *models.ProductSummary, period models.Period, summary *models.TimePeriodOverview) bool {
	if period.Type() == models.PeriodAll || summary.DatasetCount > 0 {
		return false
	}
	if product.TimeEarliest == nil || product.TimeLatest == nil {
		return true
	}
	rng, _ := period.TimeRange(s.loc)
	return !rng.End.After(*product.TimeEarliest) || rng.Begin.After(*product.TimeLatest)
}

// updateAllProducts sums the period across every product. The result is never stored.
func (s *summaryStore) updateAllProducts(ctx context.Context, period models.Period, mode childMode) (*models.TimePeriodOverview, error) {
	products, err := s.deps.Products.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]*models.TimePeriodOverview, 0, len(products))
	for _, p := range products {
		var summary *models.TimePeriodOverview
		if mode == childrenStoredOnly {
			summary, err = s.Get(ctx, p.Name, period)
		} else {
			summary, err = s.GetOrUpdate(ctx, p.Name, period)
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	summary := s.deps.Summariser.AddPeriods(summaries)
	if period.Type() == models.PeriodAll {
		summary.CoarsenTimeline(models.PeriodMonth)
	}
	s.notify(ctx, AllProducts, period, summary)
	return summary, nil
}

func (s *summaryStore) GetDatasetFootprints(ctx context.Context, productName string, period models.Period, regionCode *string, limit int) (*models.FeatureCollection, error) {
	product, err := s.GetProductSummary(ctx, productName)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProduct, productName)
	}
	q := repositories.FootprintQuery{
		DatasetTypeRef: product.DatasetTypeRef,
		RegionCode:     regionCode,
		Limit:          limit,
	}
	if rng, bounded := period.TimeRange(s.loc); bounded {
		q.TimeRange = &rng
	}
	return s.deps.Spatial.GetFootprints(ctx, q)
}

// ============================================================================
// Product cache
// ============================================================================

type productCache struct {
	mu       sync.Mutex
	products map[string]*models.ProductSummary
}

func newProductCache() *productCache {
	return &productCache{products: map[string]*models.ProductSummary{}}
}

func (c *productCache) get(name string) (*models.ProductSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[name]
	return p, ok
}

func (c *productCache) put(p *models.ProductSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.Name] = p
}

func (c *productCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = map[string]*models.ProductSummary{}
}
