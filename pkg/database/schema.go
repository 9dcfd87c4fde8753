package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for golang-migrate
	"go.uber.org/zap"

	"github.com/opendatacube/cubedash-engine/pkg/apperrors"
)

// Schema manages the lifecycle of the summary schema.
type Schema struct {
	db     *DB
	logger *zap.Logger
}

// NewSchema creates a Schema manager over db.
func NewSchema(db *DB, logger *zap.Logger) *Schema {
	return &Schema{db: db, logger: logger.Named("schema")}
}

// openSQL opens a database/sql handle for golang-migrate, which closes it when done.
func (s *Schema) openSQL() (*sql.DB, error) {
	sqlDB, err := sql.Open("pgx", s.db.Config().ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	return sqlDB, nil
}

// IsInitialised reports whether the summary tables exist.
func (s *Schema) IsInitialised(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT to_regclass('cubedash.product') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check summary schema: %w", err)
	}
	return exists, nil
}

// IsCompatible reports whether the applied schema matches the migrations built
// into this binary and is not left dirty by a failed migration.
func (s *Schema) IsCompatible(ctx context.Context) (bool, error) {
	latest, err := LatestVersion()
	if err != nil {
		return false, err
	}
	sqlDB, err := s.openSQL()
	if err != nil {
		return false, err
	}
	version, dirty, ok, err := migrationVersion(sqlDB, s.logger)
	if err != nil {
		return false, err
	}
	if !ok || dirty {
		return false, nil
	}
	return version == latest, nil
}

// Check returns ErrSchemaNotInitialised or ErrSchemaOutdated when the schema
// cannot be used as is.
func (s *Schema) Check(ctx context.Context) error {
	initialised, err := s.IsInitialised(ctx)
	if err != nil {
		return err
	}
	if !initialised {
		return apperrors.ErrSchemaNotInitialised
	}
	compatible, err := s.IsCompatible(ctx)
	if err != nil {
		return err
	}
	if !compatible {
		return apperrors.ErrSchemaOutdated
	}
	return nil
}

// Init creates the schema, the postgis extension and all tables. It is safe to
// run against an existing schema: only pending migrations are applied.
func (s *Schema) Init(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+SchemaName); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", SchemaName, err)
	}
	if _, err := s.db.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS postgis`); err != nil {
		return fmt.Errorf("failed to create postgis extension: %w", err)
	}

	sqlDB, err := s.openSQL()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB, s.logger); err != nil {
		return err
	}
	s.logger.Info("Summary schema ready", zap.String("schema", SchemaName))
	return nil
}

// DropAll drops the summary schema and everything in it. The catalog is untouched.
func (s *Schema) DropAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DROP SCHEMA IF EXISTS `+SchemaName+` CASCADE`); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", SchemaName, err)
	}
	s.logger.Info("Dropped summary schema", zap.String("schema", SchemaName))
	return nil
}
