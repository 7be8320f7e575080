package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opencodetree/codetree/pkg/config"
	"github.com/opencodetree/codetree/pkg/database"
	"github.com/opencodetree/codetree/pkg/session"
)

// noopExecutor never actually runs a search; these tests only exercise the
// HTTP layer around session create/get/cancel, not execution itself.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, sess *session.Session) *session.ExecutionResult {
	return &session.ExecutionResult{Status: session.StatusCompleted}
}

func setupAPITest(t *testing.T) (*gin.Engine, *session.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
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

	store := session.NewStore(db)
	pool := session.NewWorkerPool("pod-1", store, &config.QueueConfig{WorkerCount: 1, MaxConcurrentSessions: 1}, noopExecutor{})

	server := NewServer(store, pool, nil, nil, nil, nil)
	router := gin.New()
	server.RegisterRoutes(router)

	return router, store
}

func createTestSession(t *testing.T, router *gin.Engine) CreateSessionResponse {
	t.Helper()
	body, err := json.Marshal(CreateSessionRequest{
		RunID:       "run-1",
		RepoName:    "example/repo",
		Instruction: "fix the failing test",
		EditorURL:   "http://localhost:8765",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateSessionReturnsAccessToken(t *testing.T) {
	router, _ := setupAPITest(t)
	resp := createTestSession(t, router)

	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "queued", resp.Status)
}

func TestGetSessionRequiresBearerToken(t *testing.T) {
	router, _ := setupAPITest(t)
	created := createTestSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSessionWithValidTokenSucceeds(t *testing.T) {
	router, _ := setupAPITest(t)
	created := createTestSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil)
	req.Header.Set("Authorization", "Bearer "+created.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.SessionID, resp.ID)
	assert.Equal(t, "run-1", resp.RunID)
}

func TestGetSessionWithWrongTokenRejected(t *testing.T) {
	router, _ := setupAPITest(t)
	created := createTestSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+created.SessionID, nil)
	req.Header.Set("Authorization", "Bearer not-the-right-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSessionUnknownIDReturns404(t *testing.T) {
	router, _ := setupAPITest(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/00000000-0000-0000-0000-000000000000", nil)
	req.Header.Set("Authorization", "Bearer irrelevant")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelSessionReportsSuccess(t *testing.T) {
	router, _ := setupAPITest(t)
	created := createTestSession(t, router)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+created.SessionID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+created.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.SessionID, resp.SessionID)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupAPITest(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
