package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/client/internal/config"
	"tempmail/client/internal/credential"
	"tempmail/client/internal/push"
)

func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	b64 := base64.RawURLEncoding.EncodeToString
	return b64([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." + b64(payload) + ".sig"
}

// stubDial records dial attempts without opening a real connection.
type stubDial struct {
	mu    sync.Mutex
	calls int
}

func (d *stubDial) dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return nil, nil, errors.New("connection refused")
}

func (d *stubDial) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		API: config.APIConfig{BaseURL: baseURL, Timeout: 5 * time.Second},
		Push: config.PushConfig{
			URL:                  "ws://example.invalid/ws",
			ReconnectDelay:       time.Hour,
			MaxReconnectAttempts: 1,
		},
		Credential: config.CredentialConfig{Backend: "memory"},
	}
}

func TestNew_WiresComponents(t *testing.T) {
	core, err := New(testConfig("http://localhost:8080"), Options{
		CredentialStore: credential.NewMemoryStore(),
		Dial:            (&stubDial{}).dial,
	})
	require.NoError(t, err)

	assert.NotNil(t, core.Credentials)
	assert.NotNil(t, core.API)
	assert.NotNil(t, core.Session)
	assert.NotNil(t, core.Push)
	assert.NotNil(t, core.Notifications)
	assert.NotNil(t, core.Mutations)
	assert.NotNil(t, core.Metrics)
}

func TestNew_StoreFromConfig(t *testing.T) {
	cfg := testConfig("http://localhost:8080")
	cfg.Credential = config.CredentialConfig{Backend: "file", Path: t.TempDir()}

	core, err := New(cfg, Options{Dial: (&stubDial{}).dial})
	require.NoError(t, err)
	assert.IsType(t, &credential.FileStore{}, core.Credentials)
}

func TestInit_UnauthenticatedStaysDisconnected(t *testing.T) {
	dial := &stubDial{}
	core, err := New(testConfig("http://localhost:8080"), Options{
		CredentialStore: credential.NewMemoryStore(),
		Dial:            dial.dial,
	})
	require.NoError(t, err)

	core.Init()
	defer core.Dispose()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, core.Session.IsAuthenticated())
	assert.Equal(t, 0, dial.count())
	assert.Equal(t, push.StateDisconnected, core.Push.State())
}

func TestInit_RestoredSessionConnectsPush(t *testing.T) {
	store := credential.NewMemoryStore()
	token := makeToken(t, map[string]interface{}{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, credential.Save(store, credential.Credential{
		Token:    token,
		Identity: credential.Identity{Subject: "user-1", Email: "user@temp.mail"},
	}))

	dial := &stubDial{}
	core, err := New(testConfig("http://localhost:8080"), Options{
		CredentialStore: store,
		Dial:            dial.dial,
	})
	require.NoError(t, err)

	core.Init()
	defer core.Dispose()

	assert.True(t, core.Session.IsAuthenticated())
	require.Eventually(t, func() bool { return dial.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestLoginConnectsAndLogoutDisconnects(t *testing.T) {
	token := makeToken(t, map[string]interface{}{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"data": map[string]string{"token": token, "email": "user@temp.mail"},
			})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	dial := &stubDial{}
	core, err := New(testConfig(server.URL), Options{
		CredentialStore: credential.NewMemoryStore(),
		Dial:            dial.dial,
	})
	require.NoError(t, err)

	core.Init()
	defer core.Dispose()

	require.NoError(t, core.Session.Login(context.Background(), "user@temp.mail", "secret"))
	require.Eventually(t, func() bool { return dial.count() >= 1 }, time.Second, 5*time.Millisecond)

	core.Session.Logout(context.Background())
	require.Eventually(t, func() bool { return core.Push.State() == push.StateDisconnected }, time.Second, 5*time.Millisecond)
}

func TestForcedLogoutTearsDownSession(t *testing.T) {
	token := makeToken(t, map[string]interface{}{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	// server accepts the login, then rejects the logout with a 401
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 0,
				"data": map[string]string{"token": token, "email": "user@temp.mail"},
			})
		case "/auth/logout":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	logoutHooks := 0
	core, err := New(testConfig(server.URL), Options{
		CredentialStore: credential.NewMemoryStore(),
		Dial:            (&stubDial{}).dial,
		OnLogout:        func() { logoutHooks++ },
	})
	require.NoError(t, err)

	core.Init()
	defer core.Dispose()

	require.NoError(t, core.Session.Login(context.Background(), "user@temp.mail", "secret"))
	require.True(t, core.Session.IsAuthenticated())

	// the 401 on /auth/logout trips the classifier's force logout; the
	// explicit logout then has nothing left to clear and the navigation
	// hook fires exactly once
	core.Session.Logout(context.Background())
	assert.False(t, core.Session.IsAuthenticated())
	assert.Equal(t, 1, logoutHooks)
	assert.Empty(t, core.Session.Token())
}

func TestDispose_StopsWatcher(t *testing.T) {
	core, err := New(testConfig("http://localhost:8080"), Options{
		CredentialStore: credential.NewMemoryStore(),
		Dial:            (&stubDial{}).dial,
	})
	require.NoError(t, err)

	core.Init()
	core.Dispose()

	// watcher goroutine is gone; state changes no longer reach the channel
	assert.Equal(t, push.StateDisconnected, core.Push.State())
}
