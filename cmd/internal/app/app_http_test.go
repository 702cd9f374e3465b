package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *httptest.Server) {
	t.Helper()

	cfg := Config{
		Store:              StoreMemory,
		JWTSecret:          strings.Repeat("k", 32),
		JWTIssuer:          "parley-test",
		SeedUsers:          "alice:alice@example.com,bob:bob@example.com",
		MetricsEnabled:     true,
		WSRequireAuth:      true,
		WSOriginRequired:   true,
		CORSAllowedOrigins: []string{"https://chat.example.com"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.stores.Close()
	})
	return a, srv
}

func tokenFor(t *testing.T, a *App, username string) string {
	t.Helper()

	u, err := a.stores.Directory.UserByUsername(context.Background(), username)
	require.NoError(t, err)
	tok, _, err := a.auth.IssueToken(u)
	require.NoError(t, err)
	return tok
}

func doReq(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApp_HealthReadyMetrics(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, nil)

	resp := doReq(t, http.MethodGet, srv.URL+"/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = doReq(t, http.MethodGet, srv.URL+"/readyz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), "parley_http_requests_total")
}

func TestApp_ReadinessRequiresDatabase(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })

	resp := doReq(t, http.MethodGet, srv.URL+"/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestApp_FriendshipAndMessagingOverREST(t *testing.T) {
	t.Parallel()

	a, srv := newTestApp(t, func(c *Config) { c.RequireFriendship = true })
	alice := tokenFor(t, a, "alice")
	bob, err := a.stores.Directory.UserByUsername(context.Background(), "bob")
	require.NoError(t, err)

	sendURL := srv.URL + "/api/messages/send/" + itoa(bob.ID)

	resp := doReq(t, http.MethodPost, sendURL, alice, `{"content":"hi"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doReq(t, http.MethodPost, srv.URL+"/api/friends", alice, `{"username":"bob"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, http.MethodPost, sendURL, alice, `{"content":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/api/messages/"+itoa(bob.ID), alice, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0]["content"])
}

func TestApp_CORSAppliesToAPIButNotWebsocket(t *testing.T) {
	t.Parallel()

	_, srv := newTestApp(t, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/friends", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://chat.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://chat.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	// Not a CORS 403: the gateway rejects the missing token itself.
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpenStores_SQLite(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Store:       StoreSQLite,
		SQLitePath:  t.TempDir() + "/parley.db",
		AutoMigrate: true,
		SeedUsers:   "alice:alice@example.com",
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	st, err := OpenStores(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.True(t, st.Persistent())
	require.NoError(t, st.Ping(ctx, time.Second))
	require.NoError(t, st.Seed(ctx, cfg, log))
	require.NoError(t, st.Seed(ctx, cfg, log))

	u, err := st.Directory.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
