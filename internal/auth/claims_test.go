package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeToken builds a three-part token with the given claims payload.
// The signature segment is garbage; decoding never verifies it.
func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	b64 := base64.RawURLEncoding.EncodeToString
	header := b64([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + b64(payload) + ".sig"
}

func TestDecodeClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	token := makeToken(t, map[string]interface{}{
		"sub":   "user-1",
		"email": "user@temp.mail",
		"exp":   exp.Unix(),
	})

	claims, err := DecodeClaims(token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "user@temp.mail", claims.Email)
	assert.WithinDuration(t, exp, claims.ExpiresAt, time.Second)
	assert.False(t, claims.Expired(time.Now()))
}

func TestDecodeClaims_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not a jwt", "garbage"},
		{"two segments", "aGVhZGVy.cGF5bG9hZA"},
		{"payload not base64", "aGVhZGVy.!!!.c2ln"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClaims(tc.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestDecodeClaims_NoExpiry(t *testing.T) {
	token := makeToken(t, map[string]interface{}{"sub": "user-1"})

	_, err := DecodeClaims(token)
	assert.ErrorIs(t, err, ErrNoExpiry)
}

func TestClaims_Expired(t *testing.T) {
	now := time.Now()

	past := Claims{ExpiresAt: now.Add(-time.Hour)}
	assert.True(t, past.Expired(now))

	// expiry exactly at "now" counts as expired
	boundary := Claims{ExpiresAt: now}
	assert.True(t, boundary.Expired(now))

	future := Claims{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, future.Expired(now))
}

func TestTokenUsable_FailsClosed(t *testing.T) {
	now := time.Now()

	// expired token (scenario: header.{"exp": now-3600}.sig)
	expired := makeToken(t, map[string]interface{}{"exp": now.Add(-time.Hour).Unix()})
	assert.False(t, TokenUsable(expired, now))

	// undecodable token
	assert.False(t, TokenUsable("not.a.token", now))

	// missing expiry claim
	noExp := makeToken(t, map[string]interface{}{"sub": "user-1"})
	assert.False(t, TokenUsable(noExp, now))

	// valid token
	valid := makeToken(t, map[string]interface{}{"exp": now.Add(time.Hour).Unix()})
	assert.True(t, TokenUsable(valid, now))
}
