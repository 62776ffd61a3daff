package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

var (
	dbName = "decksnap"
	dbUser = "decksnap"
	dbPass = "decksnap"
)

// SetupTestDBContainer starts a Postgres container without applying migrations.
// It returns the connection string and a cleanup function. The test is skipped
// when running with -short.
func SetupTestDBContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}

	postgresContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(&nopLogger{}),
	)
	require.NoError(t, err)

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	return connStr, func() {
		tc.CleanupContainer(t, postgresContainer)
	}
}

// SetupTestDB starts a migrated Postgres container and returns a pool connected to it.
// The container and pool are released when the test finishes.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()

	ctx := context.Background()
	connStr, cleanup := SetupTestDBContainer(t, ctx)
	t.Cleanup(cleanup)

	require.NoError(t, MigrateUp(connStr, 0))
	// exercise the full rollback once so broken down migrations fail early
	require.NoError(t, MigrateDown(connStr, 0))
	require.NoError(t, MigrateUp(connStr, 0))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, connStr
}
