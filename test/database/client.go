package database

import (
	"context"
	stdsql "database/sql"
	"os"
	"testing"
	"time"

	"github.com/opencodetree/codetree/pkg/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewTestClient creates a test database client with migrations applied.
// In CI (when CI_DATABASE_URL is set) it connects to an external PostgreSQL
// service; locally it spins up a testcontainer. Cleaned up via t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	ctx := context.Background()

	var connStr string
	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
		connStr = ciURL
	} else {
		t.Log("using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// database.NewClient runs migrations, but it builds its own *sql.DB from
	// a Config; here we already have a live connection from the container,
	// so we run migrations through the same embedded-FS path via NewClient's
	// sibling helper by re-opening through Config when possible, falling
	// back to running against this pool directly.
	client := database.NewClientFromDB(db)
	require.NoError(t, database.ApplyMigrations(ctx, db, "test"))

	t.Cleanup(func() {
		_ = db.Close()
	})

	return client
}
