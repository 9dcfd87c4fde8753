package testhelpers

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/database"
)

// PostGISImage is the database image integration tests run against.
const PostGISImage = "postgis/postgis:16-3.4"

//go:embed catalog_schema.sql
var catalogSchemaSQL string

// TestDB holds a shared test database container and connection pool.
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostGIS container with an empty catalog schema.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostGISImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "datacube",
			"POSTGRES_USER":     "cubedash",
			"POSTGRES_PASSWORD": "test_password",
		},
		// The entrypoint restarts postgres once after initdb.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://cubedash:test_password@%s:%s/datacube?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	if _, err := db.Exec(ctx, catalogSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog schema: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// ResetSummarySchema drops and recreates the summary schema, leaving the catalog as is.
func ResetSummarySchema(t *testing.T, testDB *TestDB) {
	t.Helper()
	ctx := context.Background()

	schema := database.NewSchema(testDB.DB, zap.NewNop())
	if err := schema.DropAll(ctx); err != nil {
		t.Fatalf("Failed to drop summary schema: %v", err)
	}
	if err := schema.Init(ctx); err != nil {
		t.Fatalf("Failed to init summary schema: %v", err)
	}
}

// ResetCatalog empties every catalog table.
func ResetCatalog(t *testing.T, testDB *TestDB) {
	t.Helper()
	_, err := testDB.DB.Exec(context.Background(), `
		TRUNCATE agdc.dataset_source, agdc.dataset, agdc.dataset_type, agdc.metadata_type RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("Failed to reset catalog: %v", err)
	}
}
