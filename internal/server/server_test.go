package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/decksync/internal/server/config"
	"github.com/iudanet/decksync/internal/server/handlers"
	"github.com/iudanet/decksync/internal/sse"
	"github.com/iudanet/decksync/pkg/api"
)

const testSecret = "test-secret"

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "decksync.db")
	cfg.Auth.JWTSecret = testSecret
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	srv, err := New(context.Background(), logger, cfg, "test")
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		// Закрываем подписки до ts.Close, иначе он ждал бы открытые SSE потоки
		assert.NoError(t, srv.Close())
		ts.Close()
	})
	return ts
}

func issueToken(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := handlers.GenerateAccessToken(handlers.JWTConfig{
		Secret:         []byte(testSecret),
		AccessTokenTTL: time.Hour,
	}, userID)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	ts := setupTestServer(t)

	var health api.HealthResponse
	status := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "", nil, &health)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestServer_Routes(t *testing.T) {
	ts := setupTestServer(t)
	token := issueToken(t, "user-1")

	tests := []struct {
		body   any
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{
			name:   "pull without token",
			method: http.MethodPost,
			path:   "/api/v1/replication/decks/pull",
			body:   api.PullRequest{BatchSize: 10},
			status: http.StatusUnauthorized,
		},
		{
			name:   "pull with foreign secret",
			method: http.MethodPost,
			path:   "/api/v1/replication/decks/pull",
			token:  "not-a-jwt",
			body:   api.PullRequest{BatchSize: 10},
			status: http.StatusUnauthorized,
		},
		{
			name:   "pull unknown entity",
			method: http.MethodPost,
			path:   "/api/v1/replication/notes/pull",
			token:  token,
			body:   api.PullRequest{BatchSize: 10},
			status: http.StatusNotFound,
		},
		{
			name:   "pull batch too large",
			method: http.MethodPost,
			path:   "/api/v1/replication/decks/pull",
			token:  token,
			body:   api.PullRequest{BatchSize: api.MaxBatchSize + 1},
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong method",
			method: http.MethodGet,
			path:   "/api/v1/replication/decks/pull",
			token:  token,
			status: http.StatusMethodNotAllowed,
		},
		{
			name:   "stream without token",
			method: http.MethodGet,
			path:   "/api/v1/replication/stream",
			status: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := doJSON(t, tt.method, ts.URL+tt.path, tt.token, tt.body, nil)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestServer_PushPullAndStream(t *testing.T) {
	ts := setupTestServer(t)
	token := issueToken(t, "user-1")

	// Открываем поток до записи: событие должно прийти в него
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/replication/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamResp, err := http.DefaultClient.Do(req.WithContext(ctx))
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)

	push := api.PushRequest{Rows: []api.PushRow{
		{NewDocumentState: api.Document{ID: "deck-1", Fields: map[string]any{"name": "Spanish"}}},
		{NewDocumentState: api.Document{ID: "deck-2", Fields: map[string]any{"name": "German"}}},
	}}
	var pushResp api.PushResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/v1/replication/decks/push", token, push, &pushResp))
	assert.Empty(t, pushResp.Conflicts)

	payload, err := sse.NewReader(streamResp.Body).Next()
	require.NoError(t, err)

	var tagged api.TaggedEvent
	require.NoError(t, json.Unmarshal(payload, &tagged))
	assert.Equal(t, "decks", tagged.Entity)
	require.Equal(t, api.EventChanges, tagged.Event.Kind)
	require.Len(t, tagged.Event.Documents, 2)
	assert.Equal(t, "deck-1", tagged.Event.Documents[0].ID)
	assert.Equal(t, tagged.Event.Documents[1].Position(), *tagged.Event.Checkpoint)

	// Pull с начала возвращает те же документы и тот же checkpoint
	var pullResp api.PullResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/v1/replication/decks/pull", token,
		api.PullRequest{BatchSize: 10}, &pullResp))
	require.Len(t, pullResp.Documents, 2)
	assert.Equal(t, tagged.Event.Checkpoint, pullResp.Checkpoint)

	// Другой пользователь не видит чужих документов
	var otherResp api.PullResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/v1/replication/decks/pull",
		issueToken(t, "user-2"), api.PullRequest{BatchSize: 10}, &otherResp))
	assert.Empty(t, otherResp.Documents)
	assert.Nil(t, otherResp.Checkpoint)

	// Повторный push с устаревшим master state дает конфликт
	stale := api.Document{ID: "deck-1", UpdatedAt: 1, Fields: map[string]any{"name": "Old"}}
	conflictPush := api.PushRequest{Rows: []api.PushRow{{
		NewDocumentState:   api.Document{ID: "deck-1", Fields: map[string]any{"name": "Mine"}},
		AssumedMasterState: &stale,
	}}}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, ts.URL+"/api/v1/replication/decks/push", token, conflictPush, &pushResp))
	require.Len(t, pushResp.Conflicts, 1)
	assert.Equal(t, "Spanish", pushResp.Conflicts[0].Fields["name"])
}
