package exchange_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/identity"
)

func newIdpServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestGoogleBackendSignIn(t *testing.T) {
	var gotBody map[string]interface{}
	server := newIdpServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"localId":          testUID,
			"email":            testEmail,
			"displayName":      "Ann Example",
			"photoUrl":         "https://example.com/ann.png",
			"idToken":          "backend-id-token",
			"oauthAccessToken": testAccessToken,
		})
	})

	backend, err := exchange.NewGoogleBackend("api-key", exchange.WithBackendEndpoint(server.URL))
	require.NoError(t, err)

	session, err := backend.SignInWithCredential(context.Background(), exchange.Credential{
		ProviderID:  exchange.GoogleProviderID,
		AccessToken: testAccessToken,
	})
	require.NoError(t, err)
	require.Equal(t, testUID, session.UID)
	require.Equal(t, testEmail, session.Email)
	require.Equal(t, "Ann Example", session.DisplayName)
	require.Equal(t, testAccessToken, session.AccessToken)
	require.Equal(t, "backend-id-token", session.IDToken)

	require.Contains(t, gotBody["postBody"], "access_token="+testAccessToken)
	require.Contains(t, gotBody["postBody"], "providerId=google.com")

	current := backend.CurrentSession()
	require.NotNil(t, current)
	require.Equal(t, testUID, current.UID)
}

func TestGoogleBackendSignInRejected(t *testing.T) {
	server := newIdpServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "INVALID_IDP_RESPONSE"},
		})
	})

	backend, err := exchange.NewGoogleBackend("api-key", exchange.WithBackendEndpoint(server.URL))
	require.NoError(t, err)

	_, err = backend.SignInWithCredential(context.Background(), exchange.Credential{AccessToken: "bad"})
	require.ErrorIs(t, err, exchange.ErrInvalidCredential)
	require.Nil(t, backend.CurrentSession())
}

func TestGoogleBackendUnavailable(t *testing.T) {
	server := newIdpServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{})
	})

	backend, err := exchange.NewGoogleBackend("api-key", exchange.WithBackendEndpoint(server.URL))
	require.NoError(t, err)

	_, err = backend.SignInWithCredential(context.Background(), exchange.Credential{AccessToken: testAccessToken})
	require.ErrorIs(t, err, exchange.ErrBackendUnavailable)

	// Unreachable endpoint behaves the same way.
	down, err := exchange.NewGoogleBackend("api-key", exchange.WithBackendEndpoint("http://127.0.0.1:1"))
	require.NoError(t, err)
	_, err = down.SignInWithCredential(context.Background(), exchange.Credential{AccessToken: testAccessToken})
	require.ErrorIs(t, err, exchange.ErrBackendUnavailable)
}

func TestGoogleBackendAuthStateStream(t *testing.T) {
	server := newIdpServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"localId": testUID})
	})

	backend, err := exchange.NewGoogleBackend("api-key", exchange.WithBackendEndpoint(server.URL))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []*identity.Session
	unsubscribe := backend.SubscribeAuthState(func(session *identity.Session) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, session)
	})
	defer unsubscribe()

	_, err = backend.SignInWithCredential(context.Background(), exchange.Credential{AccessToken: testAccessToken})
	require.NoError(t, err)
	require.NoError(t, backend.SignOut(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Delivery is asynchronous and unordered; assert contents, not order.
	mu.Lock()
	defer mu.Unlock()
	var sawSignIn, sawSignOut bool
	for _, event := range events {
		if event == nil {
			sawSignOut = true
		} else if event.UID == testUID {
			sawSignIn = true
		}
	}
	require.True(t, sawSignIn)
	require.True(t, sawSignOut)
	require.Nil(t, backend.CurrentSession())
}
