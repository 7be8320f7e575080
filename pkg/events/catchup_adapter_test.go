package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opencodetree/codetree/pkg/database"
)

// setupCatchupTestDB starts a real PostgreSQL container with migrations
// applied and one seeded `sessions` row, grounded on the same container
// pattern as integration_test.go's setupStreamingTest — SQLCatchupQuerier
// queries the events table directly, so there is no mock to substitute here.
func setupCatchupTestDB(t *testing.T) (db *sql.DB, sessionID string) {
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

	db, err = sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.ApplyMigrations(ctx, db, "codetree_test"))

	sessionID = uuid.New().String()
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (id, run_id, repo_name, status, instruction, max_depth, max_expansions, model_name)
		 VALUES ($1, 'run-1', 'example/repo', 'queued', 'fix the bug', 10, 50, 'test-model')`,
		sessionID)
	require.NoError(t, err)

	return db, sessionID
}

func insertEvent(t *testing.T, db *sql.DB, sessionID, channel string, payload []byte) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO events (session_id, channel, payload) VALUES ($1, $2, $3)`,
		sessionID, channel, payload)
	require.NoError(t, err)
}

func TestSQLCatchupQuerier_GetCatchupEvents(t *testing.T) {
	db, sessionID := setupCatchupTestDB(t)
	channel := SessionChannel(sessionID)

	insertEvent(t, db, sessionID, channel, []byte(`{"type":"tool.invoked","seq":1}`))
	insertEvent(t, db, sessionID, channel, []byte(`{"type":"node.scored","seq":2}`))

	querier := NewSQLCatchupQuerier(db)
	events, err := querier.GetCatchupEvents(context.Background(), channel, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, "tool.invoked", events[0].Payload["type"])
	require.Equal(t, float64(1), events[0].Payload["seq"])
	require.Equal(t, "node.scored", events[1].Payload["type"])
	require.Less(t, events[0].ID, events[1].ID)
}

func TestSQLCatchupQuerier_GetCatchupEvents_SinceIDExcludesEarlier(t *testing.T) {
	db, sessionID := setupCatchupTestDB(t)
	channel := SessionChannel(sessionID)

	insertEvent(t, db, sessionID, channel, []byte(`{"seq":1}`))
	insertEvent(t, db, sessionID, channel, []byte(`{"seq":2}`))
	insertEvent(t, db, sessionID, channel, []byte(`{"seq":3}`))

	querier := NewSQLCatchupQuerier(db)
	first, err := querier.GetCatchupEvents(context.Background(), channel, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	rest, err := querier.GetCatchupEvents(context.Background(), channel, first[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, float64(2), rest[0].Payload["seq"])
	require.Equal(t, float64(3), rest[1].Payload["seq"])
}

func TestSQLCatchupQuerier_GetCatchupEvents_LimitsResults(t *testing.T) {
	db, sessionID := setupCatchupTestDB(t)
	channel := SessionChannel(sessionID)

	for i := 0; i < 5; i++ {
		insertEvent(t, db, sessionID, channel, []byte(`{"seq":1}`))
	}

	querier := NewSQLCatchupQuerier(db)
	events, err := querier.GetCatchupEvents(context.Background(), channel, 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestSQLCatchupQuerier_GetCatchupEvents_ScopedToChannel(t *testing.T) {
	db, sessionID := setupCatchupTestDB(t)
	channelA := SessionChannel(sessionID)
	channelB := GlobalSessionsChannel

	insertEvent(t, db, sessionID, channelA, []byte(`{"scope":"a"}`))
	insertEvent(t, db, sessionID, channelB, []byte(`{"scope":"b"}`))

	querier := NewSQLCatchupQuerier(db)
	events, err := querier.GetCatchupEvents(context.Background(), channelA, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "a", events[0].Payload["scope"])
}

func TestSQLCatchupQuerier_GetCatchupEvents_Empty(t *testing.T) {
	db, sessionID := setupCatchupTestDB(t)
	channel := SessionChannel(sessionID)

	querier := NewSQLCatchupQuerier(db)
	events, err := querier.GetCatchupEvents(context.Background(), channel, 0, 10)
	require.NoError(t, err)
	require.Empty(t, events)
}
