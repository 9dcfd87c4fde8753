package testhelpers

import (
	"context"
	"embed"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/opendatacube/cubedash-engine/pkg/database"
)

//go:embed fixtures/*.yaml
var fixtures embed.FS

// CatalogFixture describes catalog rows to insert. Datasets are given as a
// handful of scene parameters and expanded into eo documents.
type CatalogFixture struct {
	MetadataTypes []struct {
		Name       string         `yaml:"name"`
		Definition map[string]any `yaml:"definition"`
	} `yaml:"metadata_types"`
	Products []struct {
		Name         string         `yaml:"name"`
		MetadataType string         `yaml:"metadata_type"`
		Definition   map[string]any `yaml:"definition"`
	} `yaml:"products"`
	Datasets []FixtureDataset `yaml:"datasets"`
}

// FixtureDataset is one scene: a one degree square with its upper-left corner at (X, Y).
type FixtureDataset struct {
	ID       uuid.UUID            `yaml:"id"`
	Product  string               `yaml:"product"`
	Path     int                  `yaml:"path"`
	Row      int                  `yaml:"row"`
	Center   string               `yaml:"center"`
	X        float64              `yaml:"x"`
	Y        float64              `yaml:"y"`
	Archived bool                 `yaml:"archived"`
	Sources  map[string]uuid.UUID `yaml:"sources"`
}

// Document renders the dataset as an eo metadata document.
func (d FixtureDataset) Document() map[string]any {
	point := func(x, y float64) map[string]any { return map[string]any{"x": x, "y": y} }
	return map[string]any{
		"id":          d.ID.String(),
		"ga_label":    fmt.Sprintf("LS8_%03d_%03d_%s", d.Path, d.Row, d.Center),
		"platform":    map[string]any{"code": "LANDSAT_8"},
		"instrument":  map[string]any{"name": "OLI_TIRS"},
		"creation_dt": "2018-01-05T10:00:00",
		"size_bytes":  1024,
		"extent": map[string]any{
			"from_dt":   d.Center,
			"center_dt": d.Center,
			"to_dt":     d.Center,
		},
		"image": map[string]any{
			"satellite_ref_point_start": point(float64(d.Path), float64(d.Row)),
			"satellite_ref_point_end":   point(float64(d.Path), float64(d.Row)),
		},
		"grid_spatial": map[string]any{
			"projection": map[string]any{
				"spatial_reference": "EPSG:4326",
				"geo_ref_points": map[string]any{
					"ul": point(d.X, d.Y),
					"ur": point(d.X+1, d.Y),
					"lr": point(d.X+1, d.Y-1),
					"ll": point(d.X, d.Y-1),
				},
			},
		},
		"lineage": map[string]any{"source_datasets": map[string]any{}},
	}
}

// ReadFixture parses an embedded fixture file such as "ls8_scenes.yaml".
func ReadFixture(name string) (*CatalogFixture, error) {
	raw, err := fixtures.ReadFile("fixtures/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", name, err)
	}
	var f CatalogFixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", name, err)
	}
	return &f, nil
}

// LoadCatalog replaces the catalog contents with the named fixture.
func LoadCatalog(t *testing.T, testDB *TestDB, name string) *CatalogFixture {
	t.Helper()

	f, err := ReadFixture(name)
	if err != nil {
		t.Fatal(err)
	}
	ResetCatalog(t, testDB)
	if err := insertFixture(context.Background(), testDB.DB, f); err != nil {
		t.Fatalf("Failed to load catalog fixture %s: %v", name, err)
	}
	return f
}

func insertFixture(ctx context.Context, db *database.DB, f *CatalogFixture) error {
	typeIDs := map[string]int16{}
	for _, mt := range f.MetadataTypes {
		def, err := json.Marshal(mt.Definition)
		if err != nil {
			return err
		}
		var id int16
		err = db.QueryRow(ctx, `
			INSERT INTO agdc.metadata_type (name, definition) VALUES ($1, $2) RETURNING id`,
			mt.Name, def).Scan(&id)
		if err != nil {
			return fmt.Errorf("metadata type %s: %w", mt.Name, err)
		}
		typeIDs[mt.Name] = id
	}

	type productRef struct{ id, metadataType int16 }
	products := map[string]productRef{}
	for _, p := range f.Products {
		def, err := json.Marshal(p.Definition)
		if err != nil {
			return err
		}
		mt, ok := typeIDs[p.MetadataType]
		if !ok {
			return fmt.Errorf("product %s: unknown metadata type %s", p.Name, p.MetadataType)
		}
		var id int16
		err = db.QueryRow(ctx, `
			INSERT INTO agdc.dataset_type (name, metadata_type_ref, definition) VALUES ($1, $2, $3) RETURNING id`,
			p.Name, mt, def).Scan(&id)
		if err != nil {
			return fmt.Errorf("product %s: %w", p.Name, err)
		}
		products[p.Name] = productRef{id: id, metadataType: mt}
	}

	for _, d := range f.Datasets {
		ref, ok := products[d.Product]
		if !ok {
			return fmt.Errorf("dataset %s: unknown product %s", d.ID, d.Product)
		}
		doc, err := json.Marshal(d.Document())
		if err != nil {
			return err
		}
		var archived *time.Time
		if d.Archived {
			now := time.Now()
			archived = &now
		}
		_, err = db.Exec(ctx, `
			INSERT INTO agdc.dataset (id, metadata_type_ref, dataset_type_ref, metadata, archived)
			VALUES ($1, $2, $3, $4, $5)`,
			d.ID, ref.metadataType, ref.id, doc, archived)
		if err != nil {
			return fmt.Errorf("dataset %s: %w", d.ID, err)
		}
	}

	// Sources reference datasets that may appear later in the file.
	for _, d := range f.Datasets {
		for classifier, source := range d.Sources {
			_, err := db.Exec(ctx, `
				INSERT INTO agdc.dataset_source (dataset_ref, classifier, source_dataset_ref) VALUES ($1, $2, $3)`,
				d.ID, classifier, source)
			if err != nil {
				return fmt.Errorf("dataset %s source %s: %w", d.ID, classifier, err)
			}
		}
	}
	return nil
}
