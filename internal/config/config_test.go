package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TEMPMAIL_CLIENT_API_BASE_URL", "https://api.temp.mail")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.temp.mail", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)

	assert.Equal(t, "wss://api.temp.mail/ws", cfg.Push.URL)
	assert.Equal(t, 5*time.Second, cfg.Push.ReconnectDelay)
	assert.Equal(t, 10, cfg.Push.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.Push.HeartbeatInterval)

	assert.Equal(t, "keyring", cfg.Credential.Backend)
	assert.Equal(t, "tempmail", cfg.Credential.Service)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)
	assert.Empty(t, cfg.Debug.Addr)
}

func TestLoad_MissingBaseURL(t *testing.T) {
	t.Setenv("TEMPMAIL_CLIENT_API_BASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TEMPMAIL_CLIENT_API_BASE_URL", "http://localhost:8080/")
	t.Setenv("TEMPMAIL_CLIENT_API_TIMEOUT", "10s")
	t.Setenv("TEMPMAIL_CLIENT_PUSH_RECONNECT_DELAY", "2s")
	t.Setenv("TEMPMAIL_CLIENT_PUSH_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("TEMPMAIL_CLIENT_CREDENTIAL_BACKEND", "memory")
	t.Setenv("TEMPMAIL_CLIENT_LOG_LEVEL", "debug")
	t.Setenv("TEMPMAIL_CLIENT_DEBUG_ADDR", "127.0.0.1:9090")

	cfg, err := Load()
	require.NoError(t, err)

	// trailing slash trimmed before use
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	// plain http derives a plain ws push url
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Push.URL)
	assert.Equal(t, 2*time.Second, cfg.Push.ReconnectDelay)
	assert.Equal(t, 3, cfg.Push.MaxReconnectAttempts)
	assert.Equal(t, "memory", cfg.Credential.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9090", cfg.Debug.Addr)
}

func TestLoad_ExplicitPushURL(t *testing.T) {
	t.Setenv("TEMPMAIL_CLIENT_API_BASE_URL", "https://api.temp.mail")
	t.Setenv("TEMPMAIL_CLIENT_PUSH_URL", "wss://push.temp.mail/stream")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://push.temp.mail/stream", cfg.Push.URL)
}

func TestLoad_InvalidCredentialBackend(t *testing.T) {
	t.Setenv("TEMPMAIL_CLIENT_API_BASE_URL", "https://api.temp.mail")
	t.Setenv("TEMPMAIL_CLIENT_CREDENTIAL_BACKEND", "vault")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credential.backend")
}

func TestDerivePushURL(t *testing.T) {
	cases := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{"https", "https://api.temp.mail", "wss://api.temp.mail/ws", false},
		{"http", "http://localhost:8080", "ws://localhost:8080/ws", false},
		{"with path", "https://temp.mail/api", "wss://temp.mail/api/ws", false},
		{"already wss", "wss://api.temp.mail", "wss://api.temp.mail/ws", false},
		{"unsupported scheme", "ftp://api.temp.mail", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := derivePushURL(tc.base)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
