package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/geo"
	"github.com/opendatacube/cubedash-engine/pkg/metadoc"
	"github.com/opendatacube/cubedash-engine/pkg/metrics"
	"github.com/opendatacube/cubedash-engine/pkg/models"
	"github.com/opendatacube/cubedash-engine/pkg/region"
	"github.com/opendatacube/cubedash-engine/pkg/repositories"
)

// sampleTarget is the number of datasets product statistics are estimated from.
const sampleTarget = 1000

// minSamplePercentage keeps page-level sampling of huge products from
// returning no rows at all.
const minSamplePercentage = 0.05

// perRecordBatchSize is how many in-process extents are written per round trip.
const perRecordBatchSize = 500

// Fields never reported as fixed metadata: they identify single datasets.
var fixedMetadataExcluded = map[string]bool{
	"id":            true,
	"label":         true,
	"creation_time": true,
	"created":       true,
	"creation_dt":   true,
}

// errNoExtent marks a dataset whose document has no usable spatial extent.
var errNoExtent = errors.New("dataset has no extent")

// ExtentResult reports one extent refresh of a product.
type ExtentResult struct {
	// Rows written to dataset_spatial.
	Written int
	// Datasets written without a footprint, or skipped for lacking a time.
	Failed int
	// Whether the rows were computed by the set-based statement.
	Bulk bool
}

// ExtentService maintains cubedash.dataset_spatial and estimates product-level
// statistics from samples of the catalog.
type ExtentService interface {
	// RefreshProduct writes extents of the product's datasets that have none yet,
	// or of every dataset when force is set.
	RefreshProduct(ctx context.Context, product *models.CatalogProduct, force bool) (*ExtentResult, error)
	// LinkedProducts returns the catalog ids of source and derived products, estimated from a sample.
	LinkedProducts(ctx context.Context, product *models.CatalogProduct, samplePercentage float64) (sources, derived []int16, err error)
	// FindFixedMetadata returns the search fields whose value is shared by every sampled dataset.
	FindFixedMetadata(ctx context.Context, product *models.CatalogProduct, samplePercentage float64) (map[string]any, error)
}

type extentService struct {
	catalog     repositories.CatalogRepository
	spatial     repositories.DatasetSpatialRepository
	reprojector *geo.Reprojector
	logger      *zap.Logger
}

// NewExtentService creates an ExtentService. The reprojector may be shared.
func NewExtentService(
	catalog repositories.CatalogRepository,
	spatial repositories.DatasetSpatialRepository,
	reprojector *geo.Reprojector,
	logger *zap.Logger,
) ExtentService {
	return &extentService{
		catalog:     catalog,
		spatial:     spatial,
		reprojector: reprojector,
		logger:      logger.Named("extents"),
	}
}

var _ ExtentService = (*extentService)(nil)

// SamplePercentage is the TABLESAMPLE percentage that yields about a thousand
// of total datasets, within [minSamplePercentage, 100]. Empty products are
// sampled whole.
func SamplePercentage(total int) float64 {
	if total <= 0 {
		return 100
	}
	pct := float64(sampleTarget) / float64(total) * 100
	return min(max(pct, minSamplePercentage), 100)
}

func (s *extentService) RefreshProduct(ctx context.Context, product *models.CatalogProduct, force bool) (*ExtentResult, error) {
	info := region.ForProduct(product)
	regionSQL := ""
	if info != nil {
		regionSQL = info.SQLExpression("d.metadata")
	}

	if !force {
		removed, err := s.spatial.DeleteArchived(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		if removed > 0 {
			s.logger.Info("Removed extents of archived datasets",
				zap.String("product", product.Name),
				zap.Int("removed", removed))
		}
	}

	written, err := s.spatial.InsertFromCatalog(ctx, product, regionSQL, force)
	if err == nil {
		metrics.ExtentRowsWritten.WithLabelValues("bulk").Add(float64(written))
		s.logger.Debug("Bulk extent insert complete",
			zap.String("product", product.Name),
			zap.Int("written", written))
		return &ExtentResult{Written: written, Bulk: true}, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	// One malformed document fails the whole statement; compute what we can per dataset.
	metrics.BulkExtentFallbacks.Inc()
	s.logger.Warn("Bulk extent insert failed, computing extents per dataset",
		zap.String("product", product.Name),
		zap.Error(err))

	return s.refreshPerRecord(ctx, product, info, force)
}

func (s *extentService) refreshPerRecord(ctx context.Context, product *models.CatalogProduct, info region.Info, force bool) (*ExtentResult, error) {
	if force {
		if _, err := s.spatial.DeleteForProduct(ctx, product.ID); err != nil {
			return nil, err
		}
	}

	result := &ExtentResult{}
	batch := make([]*models.DatasetSpatial, 0, perRecordBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.spatial.Insert(ctx, batch)
		result.Written += n
		metrics.ExtentRowsWritten.WithLabelValues("per_record").Add(float64(n))
		batch = batch[:0]
		return err
	}

	err := s.catalog.ForEachDataset(ctx, product.ID, true, func(ds *models.CatalogDataset) error {
		row, footprintErr, err := s.computeExtent(product, info, ds)
		if err != nil {
			result.Failed++
			metrics.ExtentFailures.Inc()
			s.logger.Warn("Skipping dataset without usable metadata",
				zap.String("product", product.Name),
				zap.String("dataset_id", ds.ID.String()),
				zap.Error(err))
			return nil
		}
		if footprintErr != nil {
			result.Failed++
			metrics.ExtentFailures.Inc()
			s.logger.Warn("Dataset footprint could not be computed",
				zap.String("product", product.Name),
				zap.String("dataset_id", ds.ID.String()),
				zap.Error(footprintErr))
		}
		batch = append(batch, row)
		if len(batch) >= perRecordBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	s.logger.Info("Per-dataset extent refresh complete",
		zap.String("product", product.Name),
		zap.Int("written", result.Written),
		zap.Int("failed", result.Failed))
	return result, nil
}

// computeExtent derives the dataset_spatial row of one dataset in-process.
// footprintErr is set when the row is usable but has no footprint; err when
// the dataset cannot be written at all.
func (s *extentService) computeExtent(product *models.CatalogProduct, info region.Info, ds *models.CatalogDataset) (*models.DatasetSpatial, error, error) {
	doc, err := metadoc.Parse(ds.Metadata)
	if err != nil {
		return nil, nil, err
	}
	md := product.MetadataType

	lower, upper, ok := md.TimeOffsets()
	if !ok {
		return nil, nil, fmt.Errorf("metadata type %s has no time field", md.Name)
	}
	begin, okBegin := doc.LowerTimestamp(lower)
	end, okEnd := doc.UpperTimestamp(upper)
	if !okBegin || !okEnd {
		return nil, nil, errors.New("dataset has no time range")
	}

	row := &models.DatasetSpatial{
		ID:             ds.ID,
		DatasetTypeRef: ds.DatasetTypeRef,
		CenterTime:     begin.Add(end.Sub(begin) / 2),
		CreationTime:   ds.Added,
	}
	if created, ok := doc.Timestamp(md.CreatedOffset()); ok {
		row.CreationTime = created
	}
	if info != nil {
		if code, ok := info.CodeFor(doc); ok {
			row.RegionCode = &code
		}
	}
	if raw, ok := doc.String(md.SizeBytesOffset()); ok {
		if size, err := strconv.ParseInt(raw, 10, 64); err == nil {
			row.SizeBytes = &size
		}
	}

	if !md.IsSpatial() {
		return row, nil, nil
	}
	crs, footprint, err := s.footprint(product, doc)
	if crs != "" {
		row.CRS = &crs
	}
	if err != nil {
		return row, err, nil
	}
	row.Footprint = footprint
	return row, nil, nil
}

// footprint reprojects the dataset extent to the canonical CRS and repairs it.
func (s *extentService) footprint(product *models.CatalogProduct, doc metadoc.Document) (string, []byte, error) {
	proj := product.MetadataType.Dataset.GridSpatial
	spatialRef, _ := doc.String(metadoc.Join(proj, "spatial_reference"))
	datum, _ := doc.String(metadoc.Join(proj, "datum"))
	zone, _ := doc.String(metadoc.Join(proj, "zone"))

	crs, ok := geo.ResolveCRS(spatialRef, datum, zone, product.DefaultCRS())
	if !ok {
		return "", nil, fmt.Errorf("%w: no spatial reference", errNoExtent)
	}

	var polys geo.MultiRings
	if validData, ok := doc.Get(metadoc.Join(proj, "valid_data")); ok {
		parsed, err := geo.ParseGeoJSON(validData)
		if err != nil {
			return crs, nil, err
		}
		polys = parsed
	} else {
		var corners [4][2]float64
		for i, corner := range []string{"ll", "ul", "ur", "lr"} {
			for j, axis := range []string{"x", "y"} {
				v, ok := doc.Float(metadoc.Join(proj, "geo_ref_points", corner, axis))
				if !ok {
					return crs, nil, fmt.Errorf("%w: missing geo_ref_points %s.%s", errNoExtent, corner, axis)
				}
				corners[i][j] = v
			}
		}
		polys = geo.MultiRings{geo.CornersPolygon(corners[0], corners[1], corners[2], corners[3])}
	}

	reprojected, err := s.reprojector.MultiRings(crs, polys)
	if err != nil {
		return crs, nil, err
	}
	g, err := geo.NewMultiPolygon(reprojected)
	if len(reprojected) == 1 {
		g, err = geo.NewPolygon(reprojected[0])
	}
	if err != nil {
		return crs, nil, err
	}
	repaired, err := geo.Repair(g)
	if err != nil {
		return crs, nil, err
	}
	ewkb, err := geo.ToEWKB(repaired, geo.CanonicalSRID)
	if err != nil {
		return crs, nil, err
	}
	return crs, ewkb, nil
}

func (s *extentService) LinkedProducts(ctx context.Context, product *models.CatalogProduct, samplePercentage float64) ([]int16, []int16, error) {
	sources, derived, err := s.catalog.LinkedProductRefs(ctx, product.ID, samplePercentage)
	if err != nil {
		s.logger.Error("Failed to find linked products",
			zap.String("product", product.Name),
			zap.Float64("sample_percentage", samplePercentage),
			zap.Error(err))
		return nil, nil, err
	}
	return sources, derived, nil
}

func (s *extentService) FindFixedMetadata(ctx context.Context, product *models.CatalogProduct, samplePercentage float64) (map[string]any, error) {
	raw, err := s.catalog.SampleMetadata(ctx, product.ID, samplePercentage)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	docs := make([]metadoc.Document, 0, len(raw))
	for _, r := range raw {
		doc, err := metadoc.Parse(r)
		if err != nil {
			s.logger.Warn("Ignoring undecodable metadata in sample",
				zap.String("product", product.Name),
				zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return map[string]any{}, nil
	}

	names := make([]string, 0, len(product.MetadataType.Dataset.SearchFields))
	for name := range product.MetadataType.Dataset.SearchFields {
		names = append(names, name)
	}
	sort.Strings(names)

	fixed := map[string]any{}
	for _, name := range names {
		field := product.MetadataType.Dataset.SearchFields[name]
		if fixedMetadataExcluded[name] || field.IsRange() || len(field.Offset) == 0 {
			continue
		}
		if v, ok := singleValue(docs, field.Offset); ok {
			fixed[name] = v
		}
	}
	s.logger.Debug("Found fixed metadata",
		zap.String("product", product.Name),
		zap.Int("sampled", len(docs)),
		zap.Int("fixed_fields", len(fixed)))
	return fixed, nil
}

// singleValue returns the value at offset when every document has the same
// one. A field absent everywhere has the single value nil.
func singleValue(docs []metadoc.Document, offset []string) (any, bool) {
	var first any
	var firstKey string
	for i, doc := range docs {
		v, _ := doc.Value(offset)
		key, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		if i == 0 {
			first, firstKey = v, string(key)
			continue
		}
		if string(key) != firstKey {
			return nil, false
		}
	}
	return first, true
}
