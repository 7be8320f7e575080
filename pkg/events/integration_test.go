package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opencodetree/codetree/pkg/database"
)

// streamingTestEnv holds all wired-up components for an integration test
// against a real Postgres container: publisher, listener, connection
// manager, and the sessions/events schema they share.
type streamingTestEnv struct {
	db        *sql.DB
	publisher *EventPublisher
	querier   *SQLCatchupQuerier
	manager   *ConnectionManager
	listener  *NotifyListener
	server    *httptest.Server
	sessionID string // pre-created `sessions` row (satisfies FK on events)
	channel   string // session:<sessionID>
}

// setupStreamingTest wires all real components together against a real
// PostgreSQL container with migrations applied.
func setupStreamingTest(t *testing.T) *streamingTestEnv {
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

	sessionID := uuid.New().String()
	_, err = db.ExecContext(ctx,
		`INSERT INTO sessions (id, run_id, repo_name, status, instruction, max_depth, max_expansions, model_name)
		 VALUES ($1, 'run-1', 'example/repo', 'queued', 'fix the bug', 10, 50, 'test-model')`,
		sessionID)
	require.NoError(t, err)

	channel := SessionChannel(sessionID)

	publisher := NewEventPublisher(db)
	querier := NewSQLCatchupQuerier(db)
	manager := NewConnectionManager(querier, 5*time.Second)

	listener := NewNotifyListener(connStr, manager)
	require.NoError(t, listener.Start(ctx))
	manager.SetListener(listener)
	t.Cleanup(func() { listener.Stop(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	return &streamingTestEnv{
		db:        db,
		publisher: publisher,
		querier:   querier,
		manager:   manager,
		listener:  listener,
		server:    server,
		sessionID: sessionID,
		channel:   channel,
	}
}

func (env *streamingTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func (env *streamingTestEnv) subscribeAndWait(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: env.channel})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "LISTEN did not propagate for channel %s", env.channel)

	return conn
}

func nowRFC3339() string { return time.Now().Format(time.RFC3339Nano) }

// --- Tests ---

func TestIntegration_PublisherPersistsAndNotifies(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishToolInvoked(ctx, env.sessionID, ToolInvokedPayload{
		BasePayload:   BasePayload{Type: EventTypeToolInvoked, SessionID: env.sessionID, Timestamp: nowRFC3339()},
		NodeIndex:     1,
		ActionType:    "code_edit",
		ActionSummary: "editing main.go",
	})
	require.NoError(t, err)

	err = env.publisher.PublishNodeScored(ctx, env.sessionID, NodeScoredPayload{
		BasePayload: BasePayload{Type: EventTypeNodeScored, SessionID: env.sessionID, Timestamp: nowRFC3339()},
		NodeIndex:   1,
		RewardValue: 80,
	})
	require.NoError(t, err)

	persisted, err := env.querier.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	assert.Equal(t, EventTypeToolInvoked, persisted[0].Payload["type"])
	assert.Equal(t, "editing main.go", persisted[0].Payload["action_summary"])
	assert.Equal(t, EventTypeNodeScored, persisted[1].Payload["type"])
	assert.Equal(t, 80.0, persisted[1].Payload["reward_value"])
	assert.Greater(t, persisted[1].ID, persisted[0].ID)
}

func TestIntegration_TransientEventsNotPersisted(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishToolOutputDelta(ctx, env.sessionID, ToolOutputDeltaPayload{
		BasePayload: BasePayload{Type: EventTypeToolOutputDelta, SessionID: env.sessionID, Timestamp: nowRFC3339()},
		NodeIndex:   1,
		Delta:       "partial output",
	})
	require.NoError(t, err)

	persisted, err := env.querier.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	assert.Empty(t, persisted, "transient events should not be persisted in DB")
}

func TestIntegration_EndToEnd_PublishToWebSocket(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishCheckpointWritten(ctx, env.sessionID, CheckpointWrittenPayload{
		BasePayload: BasePayload{Type: EventTypeCheckpointWritten, SessionID: env.sessionID, Timestamp: nowRFC3339()},
		NodeCount:   5,
		Iterations:  5,
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeCheckpointWritten, msg["type"])
	assert.Equal(t, env.sessionID, msg["session_id"])
	assert.Equal(t, float64(5), msg["node_count"])
	assert.NotNil(t, msg["db_event_id"])
}

func TestIntegration_TransientEventDelivery(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	err := env.publisher.PublishToolOutputDelta(ctx, env.sessionID, ToolOutputDeltaPayload{
		BasePayload: BasePayload{Type: EventTypeToolOutputDelta, SessionID: env.sessionID, Timestamp: nowRFC3339()},
		NodeIndex:   1,
		Delta:       "streaming token",
	})
	require.NoError(t, err)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeToolOutputDelta, msg["type"])
	assert.Equal(t, "streaming token", msg["delta"])
}

func TestIntegration_SessionFinishedBroadcastsToGlobalChannel(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	err := env.publisher.PublishSessionFinished(ctx, env.sessionID, SessionFinishedPayload{
		BasePayload: BasePayload{Type: EventTypeSessionFinished, SessionID: env.sessionID, Timestamp: nowRFC3339()},
		Status:      "completed",
		Reward:      80,
		Iterations:  12,
	})
	require.NoError(t, err)

	persisted, err := env.querier.GetCatchupEvents(ctx, env.channel, 0, 100)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "completed", persisted[0].Payload["status"])
}
