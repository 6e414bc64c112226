package persistence

import (
	"context"
	"testing"

	"github.com/kashcal/synccore/internal/shared/infrastructure/database"
	"github.com/kashcal/synccore/internal/shared/infrastructure/database/sqlite"
	"github.com/kashcal/synccore/internal/shared/infrastructure/migrations"
	"github.com/stretchr/testify/require"
)

// newTestConnection opens an in-memory SQLite database with the schema
// applied, closed automatically at the end of the test.
func newTestConnection(t *testing.T) database.Connection {
	t.Helper()
	ctx := context.Background()

	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	sqliteConn, ok := conn.(*sqlite.Connection)
	require.True(t, ok)
	require.NoError(t, migrations.RunSQLiteMigrations(ctx, sqliteConn.DB()))

	return conn
}
