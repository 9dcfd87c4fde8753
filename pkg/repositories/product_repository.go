package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/models"
)

// ProductWrite is the product row written after a refresh. Linked products
// are catalog dataset_type ids.
type ProductWrite struct {
	Name               string
	DatasetTypeRef     int16
	DatasetCount       int
	TimeEarliest       *time.Time
	TimeLatest         *time.Time
	SourceProductRefs  []int16
	DerivedProductRefs []int16
	FixedMetadata      map[string]any
}

// ProductRepository provides data access for cubedash.product.
type ProductRepository interface {
	// GetByName returns nil, nil when the product has never been refreshed.
	GetByName(ctx context.Context, name string) (*models.ProductSummary, error)
	// List returns every refreshed product ordered by name.
	List(ctx context.Context) ([]*models.ProductSummary, error)
	// Upsert writes the product row and returns its surrogate id. Rewriting an
	// existing product does not consume a sequence value.
	Upsert(ctx context.Context, p *ProductWrite) (int16, error)
}

type productRepository struct {
	db database.Querier
}

// NewProductRepository creates a product repository over db.
func NewProductRepository(db database.Querier) ProductRepository {
	return &productRepository{db: db}
}

var _ ProductRepository = (*productRepository)(nil)

const productSelect = `
	SELECT p.id, p.name, p.dataset_type_ref, p.dataset_count,
	       p.time_earliest, p.time_latest,
	       ARRAY(SELECT dt.name FROM agdc.dataset_type dt
	             WHERE dt.id = ANY(p.source_product_refs) ORDER BY dt.name),
	       ARRAY(SELECT dt.name FROM agdc.dataset_type dt
	             WHERE dt.id = ANY(p.derived_product_refs) ORDER BY dt.name),
	       p.fixed_metadata, p.last_refresh,
	       EXTRACT(EPOCH FROM now() - p.last_refresh)::float8
	FROM cubedash.product p`

func (r *productRepository) GetByName(ctx context.Context, name string) (*models.ProductSummary, error) {
	row := r.db.QueryRow(ctx, productSelect+`
	WHERE p.name = $1`, name)
	p, err := scanProductSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *productRepository) List(ctx context.Context) ([]*models.ProductSummary, error) {
	rows, err := r.db.Query(ctx, productSelect+`
	ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.ProductSummary
	for rows.Next() {
		p, err := scanProductSummary(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return products, nil
}

func (r *productRepository) Upsert(ctx context.Context, p *ProductWrite) (int16, error) {
	var fixed any
	if p.FixedMetadata != nil {
		b, err := json.Marshal(p.FixedMetadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode fixed metadata: %w", err)
		}
		fixed = string(b)
	}
	args := []any{
		p.Name, p.DatasetTypeRef, p.DatasetCount, p.TimeEarliest, p.TimeLatest,
		p.SourceProductRefs, p.DerivedProductRefs, fixed,
	}

	// Update first: INSERT ... ON CONFLICT draws a sequence value even when it ends up updating.
	var id int16
	err := r.db.QueryRow(ctx, `
		UPDATE cubedash.product SET
			dataset_type_ref = $2,
			dataset_count = $3,
			time_earliest = $4,
			time_latest = $5,
			source_product_refs = $6,
			derived_product_refs = $7,
			fixed_metadata = $8::jsonb,
			last_refresh = now()
		WHERE name = $1
		RETURNING id`, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to update product %s: %w", p.Name, err)
	}

	// A concurrent refresh may have inserted it in between; the conflict clause covers that.
	err = r.db.QueryRow(ctx, `
		INSERT INTO cubedash.product (
			name, dataset_type_ref, dataset_count, time_earliest, time_latest,
			source_product_refs, derived_product_refs, fixed_metadata, last_refresh
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, now())
		ON CONFLICT (name) DO UPDATE SET
			dataset_type_ref = EXCLUDED.dataset_type_ref,
			dataset_count = EXCLUDED.dataset_count,
			time_earliest = EXCLUDED.time_earliest,
			time_latest = EXCLUDED.time_latest,
			source_product_refs = EXCLUDED.source_product_refs,
			derived_product_refs = EXCLUDED.derived_product_refs,
			fixed_metadata = EXCLUDED.fixed_metadata,
			last_refresh = EXCLUDED.last_refresh
		RETURNING id`, args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert product %s: %w", p.Name, err)
	}
	return id, nil
}

func scanProductSummary(row pgx.Row) (*models.ProductSummary, error) {
	var p models.ProductSummary
	var fixed []byte
	var ageSeconds float64
	err := row.Scan(
		&p.ID, &p.Name, &p.DatasetTypeRef, &p.DatasetCount,
		&p.TimeEarliest, &p.TimeLatest,
		&p.SourceProducts, &p.DerivedProducts,
		&fixed, &p.LastRefresh, &ageSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan product: %w", err)
	}
	if len(fixed) > 0 {
		if err := json.Unmarshal(fixed, &p.FixedMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode fixed metadata of %s: %w", p.Name, err)
		}
	}
	p.LastRefreshAge = time.Duration(ageSeconds * float64(time.Second))
	return &p, nil
}
