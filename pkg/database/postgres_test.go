//go:build integration

package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendatacube/cubedash-engine/pkg/database"
	"github.com/opendatacube/cubedash-engine/pkg/testhelpers"
)

func TestNewConnection_SessionSettings(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:              testDB.ConnStr,
		ApplicationName:  "cubedash-test",
		MaxConnections:   2,
		StatementTimeout: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	defer db.Close()

	var appName, tz, timeout string
	require.NoError(t, db.QueryRow(ctx, `
		SELECT current_setting('application_name'),
		       current_setting('timezone'),
		       current_setting('statement_timeout')`).Scan(&appName, &tz, &timeout))
	assert.Equal(t, "cubedash-test", appName)
	assert.Equal(t, "UTC", tz)
	assert.Equal(t, "1500ms", timeout)
}

func TestNewConnection_BadURL(t *testing.T) {
	_, err := database.NewConnection(context.Background(), &database.Config{URL: "postgres://%zz"})
	assert.Error(t, err)
}

func TestInTx(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	// Temp tables are per connection, so use a regular one.
	_, err := testDB.DB.Exec(ctx, `CREATE TABLE IF NOT EXISTS public.tx_rollback_check (n int)`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = testDB.DB.Exec(context.Background(), `DROP TABLE IF EXISTS public.tx_rollback_check`) })

	rolledBack := errors.New("product vanished mid-run")
	err = database.InTx(ctx, testDB.DB, func(tx database.Querier) error {
		if _, err := tx.Exec(ctx, `INSERT INTO public.tx_rollback_check VALUES (1)`); err != nil {
			return err
		}
		return rolledBack
	})
	assert.ErrorIs(t, err, rolledBack)

	require.NoError(t, database.InTx(ctx, testDB.DB, func(tx database.Querier) error {
		_, err := tx.Exec(ctx, `INSERT INTO public.tx_rollback_check VALUES (2)`)
		return err
	}))

	var total int
	require.NoError(t, testDB.DB.QueryRow(ctx, `SELECT coalesce(sum(n), 0) FROM public.tx_rollback_check`).Scan(&total))
	assert.Equal(t, 2, total)
}
