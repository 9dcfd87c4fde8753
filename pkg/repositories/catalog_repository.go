package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// CatalogRepository reads the datacube catalog (schema agdc). It never writes.
type CatalogRepository interface {
	// ListProducts returns every catalog product ordered by name.
	ListProducts(ctx context.Context) ([]*models.CatalogProduct, error)
	// GetProductByName returns nil, nil for an unknown product.
	GetProductByName(ctx context.Context, name string) (*models.CatalogProduct, error)
	// CountDatasets counts the non-archived datasets of a product.
	CountDatasets(ctx context.Context, productID int16) (int, error)
	// SampleMetadata returns the metadata documents of a TABLESAMPLE SYSTEM sample of the product's datasets.
	SampleMetadata(ctx context.Context, productID int16, samplePercentage float64) ([][]byte, error)
	// LinkedProductRefs returns the catalog ids of products that sampled datasets
	// were derived from (sources) and that were derived from them (derived).
	LinkedProductRefs(ctx context.Context, productID int16, samplePercentage float64) (sources, derived []int16, err error)
	// ForEachDataset streams the product's non-archived datasets ordered by id.
	// When onlyMissing is set, datasets already in dataset_spatial are skipped.
	ForEachDataset(ctx context.Context, productID int16, onlyMissing bool, fn func(*models.CatalogDataset) error) error
}

// datasetPageSize bounds how many datasets ForEachDataset reads per query.
const datasetPageSize = 1000

type catalogRepository struct {
	db       database.Querier
	pageSize int
}

// NewCatalogRepository creates a catalog reader over db.
func NewCatalogRepository(db database.Querier) CatalogRepository {
	return &catalogRepository{db: db, pageSize: datasetPageSize}
}

var _ CatalogRepository = (*catalogRepository)(nil)

const catalogProductColumns = `
	dt.id, dt.name, mt.name, dt.definition, mt.definition`

func (r *catalogRepository) ListProducts(ctx context.Context) ([]*models.CatalogProduct, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+catalogProductColumns+`
		FROM agdc.dataset_type dt
		JOIN agdc.metadata_type mt ON mt.id = dt.metadata_type_ref
		ORDER BY dt.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog products: %w", err)
	}
	defer rows.Close()

	var products []*models.CatalogProduct
	for rows.Next() {
		p, err := scanCatalogProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog products: %w", err)
	}
	return products, nil
}

func (r *catalogRepository) GetProductByName(ctx context.Context, name string) (*models.CatalogProduct, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+catalogProductColumns+`
		FROM agdc.dataset_type dt
		JOIN agdc.metadata_type mt ON mt.id = dt.metadata_type_ref
		WHERE dt.name = $1`, name)
	p, err := scanCatalogProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *catalogRepository) CountDatasets(ctx context.Context, productID int16) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM agdc.dataset
		WHERE dataset_type_ref = $1 AND archived IS NULL`, productID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count datasets: %w", err)
	}
	return count, nil
}

func (r *catalogRepository) SampleMetadata(ctx context.Context, productID int16, samplePercentage float64) ([][]byte, error) {
	if err := checkSamplePercentage(samplePercentage); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT metadata
		FROM agdc.dataset TABLESAMPLE SYSTEM ($2::real)
		WHERE dataset_type_ref = $1 AND archived IS NULL`, productID, samplePercentage)
	if err != nil {
		return nil, fmt.Errorf("failed to sample dataset metadata: %w", err)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan dataset metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dataset metadata: %w", err)
	}
	return docs, nil
}

func (r *catalogRepository) LinkedProductRefs(ctx context.Context, productID int16, samplePercentage float64) ([]int16, []int16, error) {
	if err := checkSamplePercentage(samplePercentage); err != nil {
		return nil, nil, err
	}
	var sources, derived []int16
	err := r.db.QueryRow(ctx, `
		WITH datasets AS (
			SELECT id
			FROM agdc.dataset TABLESAMPLE SYSTEM ($2::real)
			WHERE dataset_type_ref = $1 AND archived IS NULL
		),
		source_products AS (
			SELECT array_agg(DISTINCT d.dataset_type_ref ORDER BY d.dataset_type_ref) AS refs
			FROM agdc.dataset_source ds
			JOIN agdc.dataset d ON d.id = ds.source_dataset_ref
			WHERE ds.dataset_ref IN (SELECT id FROM datasets) AND d.archived IS NULL
		),
		derived_products AS (
			SELECT array_agg(DISTINCT d.dataset_type_ref ORDER BY d.dataset_type_ref) AS refs
			FROM agdc.dataset_source ds
			JOIN agdc.dataset d ON d.id = ds.dataset_ref
			WHERE ds.source_dataset_ref IN (SELECT id FROM datasets) AND d.archived IS NULL
		)
		SELECT (SELECT refs FROM source_products), (SELECT refs FROM derived_products)`,
		productID, samplePercentage).Scan(&sources, &derived)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find linked products: %w", err)
	}
	return sources, derived, nil
}

func (r *catalogRepository) ForEachDataset(ctx context.Context, productID int16, onlyMissing bool, fn func(*models.CatalogDataset) error) error {
	query := `
		SELECT d.id, d.dataset_type_ref, d.metadata, d.added
		FROM agdc.dataset d
		WHERE d.dataset_type_ref = $1 AND d.archived IS NULL
		AND d.id > $2`
	if onlyMissing {
		query += `
		AND NOT EXISTS (SELECT 1 FROM cubedash.dataset_spatial s WHERE s.id = d.id)`
	}
	query += `
		ORDER BY d.id
		LIMIT $3`

	// Each page is read fully and its rows released before fn runs, so fn
	// may use the same pool even when it holds a single connection.
	after := uuid.Nil
	for {
		page, err := r.datasetPage(ctx, query, productID, after)
		if err != nil {
			return err
		}
		for i := range page {
			if err := fn(&page[i]); err != nil {
				return err
			}
		}
		if len(page) < r.pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (r *catalogRepository) datasetPage(ctx context.Context, query string, productID int16, after uuid.UUID) ([]models.CatalogDataset, error) {
	rows, err := r.db.Query(ctx, query, productID, after, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	page := make([]models.CatalogDataset, 0, r.pageSize)
	for rows.Next() {
		var ds models.CatalogDataset
		if err := rows.Scan(&ds.ID, &ds.DatasetTypeRef, &ds.Metadata, &ds.Added); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		page = append(page, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}
	return page, nil
}

func scanCatalogProduct(row pgx.Row) (*models.CatalogProduct, error) {
	var p models.CatalogProduct
	var definition, mdDefinition []byte
	err := row.Scan(&p.ID, &p.Name, &p.MetadataTypeName, &definition, &mdDefinition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan catalog product: %w", err)
	}
	if err := json.Unmarshal(definition, &p.Definition); err != nil {
		return nil, fmt.Errorf("failed to decode definition of product %s: %w", p.Name, err)
	}
	if err := json.Unmarshal(mdDefinition, &p.MetadataType); err != nil {
		return nil, fmt.Errorf("failed to decode metadata type %s: %w", p.MetadataTypeName, err)
	}
	return &p, nil
}

// ErrInvalidSamplePercentage rejects a TABLESAMPLE argument outside (0, 100].
var ErrInvalidSamplePercentage = errors.New("sample percentage must be in (0, 100]")

func checkSamplePercentage(pct float64) error {
	if !(pct > 0 && pct <= 100) {
		return fmt.Errorf("%w: got %v", ErrInvalidSamplePercentage, pct)
	}
	return nil
}
