package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdrop/flowdrop/pkg/api/auth"
	"github.com/flowdrop/flowdrop/pkg/files"
	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/session"
	"github.com/flowdrop/flowdrop/pkg/store"
	"github.com/flowdrop/flowdrop/pkg/upload"
)

const testJWTSecret = "test-secret-test-secret-test-secret!"

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	root   *files.Root
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()

	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(dir, "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	root, err := files.NewRoot(filepath.Join(dir, "storage"))
	require.NoError(t, err)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: testJWTSecret})
	require.NoError(t, err)

	registry := session.NewRegistry()
	dispatcher := session.NewDispatcher(registry)
	coordinator := upload.NewCoordinator(upload.Config{
		Workers:       2,
		NudgeInterval: time.Hour,
	}, root, nil, dispatcher)

	router := NewRouter(Deps{
		Store:       s,
		JWTService:  jwtService,
		Root:        root,
		Coordinator: coordinator,
		Session: session.Deps{
			Registry:    registry,
			Dispatcher:  dispatcher,
			Coordinator: coordinator,
			Users:       storeUsers{s},
			Root:        root,
		},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: s, root: root}
}

// storeUsers is the minimal store adapter the session deps need.
type storeUsers struct {
	store *store.Store
}

func (a storeUsers) Lookup(username string) (session.Account, error) {
	u, err := a.store.GetUserByName(context.Background(), username)
	if err != nil {
		return session.Account{}, err
	}
	return session.Account{Token: u.Token, Type: u.Type(), Config: u.UserConfig()}, nil
}

func (a storeUsers) SaveConfig(username string, cfg protocol.UserConfig) error {
	return a.store.UpdateUserConfig(context.Background(), username, cfg)
}

func (a storeUsers) TouchLastLogin(username string) error {
	return a.store.UpdateLastLogin(context.Background(), username, time.Now())
}

func (e *testEnv) login(t *testing.T, username, password string) map[string]any {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(e.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) accessToken(t *testing.T, username string) string {
	t.Helper()
	out := e.login(t, username, "password123")
	token, _ := out["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestLoginRegistersUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	out := env.login(t, "alice", "password123")
	assert.NotEmpty(t, out["access_token"])
	assert.NotEmpty(t, out["ws_token"])
	assert.Equal(t, "Bearer", out["token_type"])

	user, ok := out["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "User", user["usertype"])

	stored, err := env.store.GetUserByName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, out["ws_token"], stored.Token)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice", "password123")

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong"})
	resp, err := http.Post(env.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestMeRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMeReturnsCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "alice")

	resp := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "alice", out["username"])
}

func TestLogoutPersistsConfig(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "alice")

	cfg := protocol.DefaultUserConfig()
	cfg.Theme = "dark"
	resp := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, map[string]any{"config": cfg})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	user, err := env.store.GetUserByName(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "dark", user.UserConfig().Theme)
}

func TestLogoutWithoutBodyIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "alice")

	resp := env.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestFileListDeleteAndShare(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "alice")

	require.NoError(t, os.MkdirAll(filepath.Join(env.root.Dir(), "alice"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.root.Dir(), "alice", "notes.txt"), []byte("hello world"), 0644))

	resp := env.do(t, http.MethodGet, "/api/v1/files", token, nil)
	var listing struct {
		Files []protocol.FileListElem `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "notes.txt", listing.Files[0].Name)

	// Mint a share code and download without authentication.
	resp = env.do(t, http.MethodPost, "/api/v1/files/notes.txt/share", token, nil)
	var share struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&share))
	resp.Body.Close()
	require.NotEmpty(t, share.Code)

	dl, err := http.Get(env.server.URL + "/download/" + share.Code)
	require.NoError(t, err)
	content, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "hello world", string(content))

	resp = env.do(t, http.MethodDelete, "/api/v1/files/notes.txt", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/files/notes.txt", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadUnknownCode(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/download/doesnotexist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRoutesRequireManager(t *testing.T) {
	env := newTestEnv(t)
	token := env.accessToken(t, "alice")

	resp := env.do(t, http.MethodGet, "/api/v1/admin/users", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminManagesUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.store.CreateUser(ctx, "boss", "password123", protocol.UserTypeManager)
	require.NoError(t, err)
	token := env.accessToken(t, "boss")
	env.login(t, "alice", "password123")

	resp := env.do(t, http.MethodGet, "/api/v1/admin/users", token, nil)
	var listing struct {
		Users []map[string]any `json:"users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	assert.Len(t, listing.Users, 2)

	resp = env.do(t, http.MethodPut, "/api/v1/admin/users/alice/type", token,
		map[string]string{"usertype": "Member"})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	alice, err := env.store.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.UserTypeMember, alice.Type())

	// Managers cannot delete themselves.
	resp = env.do(t, http.MethodDelete, "/api/v1/admin/users/boss", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/admin/users/alice", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = env.store.GetUserByName(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestHealthProbes(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "healthy", out["status"])
}
