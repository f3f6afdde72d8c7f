//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/RealZimboGuy/reguaflow/internal/config"
	"github.com/RealZimboGuy/reguaflow/internal/migrations"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/test/integration/common"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestPostgresScenarios(t *testing.T) {
	config.Set(config.DATABASE_TYPE, config.DATABASE_TYPE_POSTGRES)
	baseDSN := startPostgres(t)

	n := 0
	common.RunAll(t, func(t *testing.T) *common.Harness {
		// one schema per scenario keeps the dedup index and the fake clocks independent
		n++
		ctx := context.Background()
		admin, err := repository.OpenDB(ctx, "postgres", baseDSN)
		require.NoError(t, err)
		schema := fmt.Sprintf("scenario_%d", n)
		_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
		require.NoError(t, err)
		require.NoError(t, admin.Close())

		dsn := baseDSN + "&search_path=" + schema
		require.NoError(t, migrations.Up(migrations.Postgres, dsn))
		db, err := repository.OpenDB(ctx, "postgres", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return common.NewHarness(t, db)
	})
}
