package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jstnmthw/hlstatsnext-sub008/internal/auth"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/domain"
	"github.com/jstnmthw/hlstatsnext-sub008/internal/storage"
)

// stubRcon answers every command with a canned line.
type stubRcon struct {
	output string
	err    error
	last   string
}

func (s *stubRcon) Execute(ctx context.Context, serverID int64, command string) (string, error) {
	s.last = command
	return s.output, s.err
}

func newTestRouter(t *testing.T) (*Router, *storage.Store, *stubRcon) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rcon := &stubRcon{output: "ok"}
	router := NewRouter(store, auth.NewService("test-secret", time.Hour), rcon)
	return router, store, rcon
}

func addUser(t *testing.T, store *storage.Store, username, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), username, hash))
}

func login(t *testing.T, router *Router, username, password string) string {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/login", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	return resp["token"]
}

func TestLogin(t *testing.T) {
	router, store, _ := newTestRouter(t)
	addUser(t, store, "admin", "hunter2")

	login(t, router, "admin", "hunter2")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, store, _ := newTestRouter(t)
	addUser(t, store, "admin", "hunter2")

	for _, body := range []string{
		`{"username":"admin","password":"wrong"}`,
		`{"username":"ghost","password":"hunter2"}`,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/login", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestServersRequireAuth(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/servers", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListServersHidesCredentials(t *testing.T) {
	router, store, _ := newTestRouter(t)
	addUser(t, store, "admin", "hunter2")
	token := login(t, router, "admin", "hunter2")

	ctx := context.Background()
	srv := &domain.Server{
		Address: "192.0.2.10", Port: 27015,
		Game: "cstrike", Engine: domain.EngineGoldSrc, ConnectMode: domain.ConnectDirect,
		Name: "my server",
	}
	require.NoError(t, store.CreateServer(ctx, srv))
	require.NoError(t, store.UpdateServerRconPassword(ctx, srv.ID, "ciphertext-blob"))
	require.NoError(t, store.UpdateServerToken(ctx, srv.ID, "deadbeef", "hlxn_deadbee"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "my server", views[0]["name"])
	assert.Equal(t, "hlxn_deadbee", views[0]["token_prefix"])

	// Neither the rcon ciphertext nor the token hash leave the store.
	body := rec.Body.String()
	assert.NotContains(t, body, "ciphertext-blob")
	assert.NotContains(t, body, "deadbeef")
}

func TestGetServerNotFound(t *testing.T) {
	router, store, _ := newTestRouter(t)
	addUser(t, store, "admin", "hunter2")
	token := login(t, router, "admin", "hunter2")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/servers/999", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRconPassthrough(t *testing.T) {
	router, store, rcon := newTestRouter(t)
	addUser(t, store, "admin", "hunter2")
	token := login(t, router, "admin", "hunter2")
	rcon.output = "hostname: my server"

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/servers/1/rcon", strings.NewReader(`{"command":"status"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hostname: my server", resp["output"])
	assert.Equal(t, "status", rcon.last)
}

func TestRconPassthroughErrors(t *testing.T) {
	router, store, rcon := newTestRouter(t)
	addUser(t, store, "admin", "hunter2")
	token := login(t, router, "admin", "hunter2")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/servers/1/rcon", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rcon.err = errors.New("connection refused")
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/servers/1/rcon", strings.NewReader(`{"command":"status"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTopPlayersPublic(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := store.ResolvePlayer(ctx, "cstrike", &domain.PlayerRef{Name: "Alice", SteamID: "STEAM_0:1:1"}, time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/players?game=cstrike", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var players []domain.Player
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &players))
	require.Len(t, players, 1)
	assert.Equal(t, "Alice", players[0].Name)
}

func TestGetPlayerIncludesRank(t *testing.T) {
	router, store, _ := newTestRouter(t)
	ctx := context.Background()

	alice, err := store.ResolvePlayer(ctx, "cstrike", &domain.PlayerRef{Name: "Alice", SteamID: "STEAM_0:1:1"}, time.Now())
	require.NoError(t, err)
	_, err = store.ResolvePlayer(ctx, "cstrike", &domain.PlayerRef{Name: "Bob", SteamID: "STEAM_0:1:2"}, time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", fmt.Sprintf("/api/players/%d", alice.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Player domain.Player `json:"player"`
		Rank   int           `json:"rank"`
		Total  int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Alice", body.Player.Name)
	assert.Equal(t, 1, body.Rank)
	assert.Equal(t, 2, body.Total)
}

func TestGetPlayerNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/players/999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
