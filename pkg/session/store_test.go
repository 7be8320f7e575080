package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opencodetree/codetree/pkg/database"
)

// setupStoreTest provisions a real Postgres container with migrations
// applied, mirroring pkg/events' integration test setup.
func setupStoreTest(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("codetree_test"),
		postgres.WithUsername("codetree"),
		postgres.WithPassword("codetree"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.ApplyMigrations(ctx, db, "codetree_test"))

	return db
}

func newTestSession() *Session {
	return &Session{
		RunID:         "run-1",
		RepoName:      "example/repo",
		Instruction:   "fix the failing test",
		EditorURL:     "http://localhost:8765",
		MaxDepth:      10,
		MaxExpansions: 1,
		ModelName:     "test-model",
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	db := setupStoreTest(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", sess.RunID)
	assert.Equal(t, StatusQueued, sess.Status)
	assert.Equal(t, 10, sess.MaxDepth)
}

func TestStoreClaimNextClaimsOldestQueued(t *testing.T) {
	db := setupStoreTest(t)
	store := NewStore(db)
	ctx := context.Background()

	firstID, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)
	_, err = store.Create(ctx, newTestSession())
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx, "pod-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, firstID, claimed.ID)
	assert.Equal(t, StatusInProgress, claimed.Status)

	n, err := store.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStoreClaimNextReturnsNilWhenNoneQueued(t *testing.T) {
	db := setupStoreTest(t)
	store := NewStore(db)
	ctx := context.Background()

	claimed, err := store.ClaimNext(ctx, "pod-1")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStoreUpdateTerminalStatus(t *testing.T) {
	db := setupStoreTest(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx, "pod-1")
	require.NoError(t, err)

	require.NoError(t, store.UpdateTerminalStatus(ctx, id, StatusCompleted, nil))

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.NotNil(t, sess.FinishedAt)
}

func TestStoreSoftDeleteOldSessions(t *testing.T) {
	db := setupStoreTest(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)
	require.NoError(t, store.UpdateTerminalStatus(ctx, id, StatusCompleted, nil))

	// Backdate finished_at so the session falls outside a 0-day retention
	// window without waiting on real time to pass.
	_, err = db.ExecContext(ctx, `UPDATE sessions SET finished_at = now() - interval '2 days' WHERE id = $1`, id)
	require.NoError(t, err)

	count, err := store.SoftDeleteOldSessions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var deletedAt sql.NullTime
	require.NoError(t, db.QueryRowContext(ctx, `SELECT deleted_at FROM sessions WHERE id = $1`, id).Scan(&deletedAt))
	assert.True(t, deletedAt.Valid)
}

func TestStoreSoftDeleteOldSessionsSkipsRecentlyFinished(t *testing.T) {
	db := setupStoreTest(t)
	store := NewStore(db)
	ctx := context.Background()

	id, err := store.Create(ctx, newTestSession())
	require.NoError(t, err)
	require.NoError(t, store.UpdateTerminalStatus(ctx, id, StatusCompleted, nil))

	count, err := store.SoftDeleteOldSessions(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
