package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestClassifier() (*Classifier, *int) {
	logouts := 0
	c := NewClassifier(nil)
	c.SetForceLogout(func() { logouts++ })
	return c, &logouts
}

func TestClassify_Nil(t *testing.T) {
	c, logouts := newTestClassifier()

	assert.NoError(t, c.Classify(nil))
	assert.Equal(t, 0, *logouts)
}

func TestClassify_TransportFailure(t *testing.T) {
	c, logouts := newTestClassifier()

	// no status code to inspect, must pass through untouched
	err := errors.New("dial tcp: connection refused")
	assert.Equal(t, err, c.Classify(err))
	assert.Equal(t, 0, *logouts)
}

func TestClassify_OfflinePassthrough(t *testing.T) {
	c, logouts := newTestClassifier()
	c.SetOnline(func() bool { return false })

	// a 401 on the login endpoint would normally force a logout, but
	// while offline nothing counts as a session failure
	err := &APIError{StatusCode: http.StatusUnauthorized, Message: "unauthorized", Endpoint: EndpointLogin}
	got := c.Classify(err)

	assert.Equal(t, error(err), got)
	assert.NotErrorIs(t, got, ErrSessionExpired)
	assert.Equal(t, 0, *logouts)
}

func TestClassify_UnauthorizedOnIdentityEndpoints(t *testing.T) {
	for _, endpoint := range []string{EndpointLogin, EndpointLogout} {
		t.Run(endpoint, func(t *testing.T) {
			c, logouts := newTestClassifier()

			got := c.Classify(&APIError{
				StatusCode: http.StatusUnauthorized,
				Message:    "token expired",
				Endpoint:   endpoint,
			})

			assert.ErrorIs(t, got, ErrSessionExpired)
			assert.Contains(t, got.Error(), "session has expired")
			assert.Equal(t, 1, *logouts)
		})
	}
}

func TestClassify_UnauthorizedElsewhereIsNotSessionFailure(t *testing.T) {
	c, logouts := newTestClassifier()

	// a background call racing a server restart may see a 401 on a data
	// endpoint; that alone does not mean the session is dead
	err := &APIError{StatusCode: http.StatusUnauthorized, Message: "unauthorized", Endpoint: "/api/messages/abc/read"}
	got := c.Classify(err)

	assert.Equal(t, error(err), got)
	assert.NotErrorIs(t, got, ErrSessionExpired)
	assert.Equal(t, 0, *logouts)
}

func TestClassify_IdentityMissingMarker(t *testing.T) {
	c, logouts := newTestClassifier()

	got := c.Classify(&APIError{
		StatusCode: http.StatusInternalServerError,
		Message:    "internal error: " + identityMissingMarker,
		Endpoint:   "/api/messages/abc/read",
	})

	assert.ErrorIs(t, got, ErrSessionExpired)
	assert.Equal(t, 1, *logouts)
}

func TestClassify_PlainServerErrorPassthrough(t *testing.T) {
	c, logouts := newTestClassifier()

	err := &APIError{StatusCode: http.StatusInternalServerError, Message: "database is down", Endpoint: "/api/messages/abc"}
	got := c.Classify(err)

	assert.Equal(t, error(err), got)
	assert.Equal(t, 0, *logouts)
}

func TestClassify_NoForceLogoutInjected(t *testing.T) {
	c := NewClassifier(nil)

	// classification still works before assembly wires the callback
	got := c.Classify(&APIError{StatusCode: http.StatusUnauthorized, Endpoint: EndpointLogin})
	assert.ErrorIs(t, got, ErrSessionExpired)
}
