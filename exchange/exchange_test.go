package exchange_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/exchange/backendfakes"
	"github.com/jrsteele09/go-extension-auth/identity"
)

const (
	testUID         = "u1"
	testEmail       = "a@b.com"
	testAccessToken = "T1"
)

func setupService(t *testing.T, options ...exchange.ServiceOption) (*exchange.Service, *backendfakes.FakeBackend) {
	t.Helper()

	backend := backendfakes.NewFakeBackend()
	service, err := exchange.NewService(backend, options...)
	require.NoError(t, err)
	return service, backend
}

func TestExchangeForSession(t *testing.T) {
	service, backend := setupService(t)
	backend.Seed(testAccessToken, &identity.Session{UID: testUID, Email: testEmail})

	session, err := service.ExchangeForSession(context.Background(), &broker.Token{AccessToken: testAccessToken})
	require.NoError(t, err)
	require.Equal(t, testUID, session.UID)
	require.Equal(t, testEmail, session.Email)
}

func TestExchangeIsIdempotent(t *testing.T) {
	service, backend := setupService(t)
	backend.Seed(testAccessToken, &identity.Session{UID: testUID, Email: testEmail})

	first, err := service.ExchangeForSession(context.Background(), &broker.Token{AccessToken: testAccessToken})
	require.NoError(t, err)
	second, err := service.ExchangeForSession(context.Background(), &broker.Token{AccessToken: testAccessToken})
	require.NoError(t, err)

	require.Equal(t, first.UID, second.UID)
	require.Equal(t, 2, backend.SignInCalls())
}

func TestExchangeCarriesCredentialOntoSession(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	service, backend := setupService(t, exchange.WithNowTime(func() time.Time { return now }))

	// The backend session has no tokens of its own; the exchanged
	// credential must survive on the session so another context can
	// silently rebuild a live session from the persisted record.
	backend.Seed(testAccessToken, &identity.Session{UID: testUID})

	session, err := service.ExchangeForSession(context.Background(), &broker.Token{AccessToken: testAccessToken, IDToken: "raw-id-token"})
	require.NoError(t, err)
	require.Equal(t, testAccessToken, session.AccessToken)
	require.Equal(t, "raw-id-token", session.IDToken)
	require.Equal(t, now, session.Timestamp)
}

func TestExchangeRejectsEmptyToken(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.ExchangeForSession(context.Background(), nil)
	require.ErrorIs(t, err, exchange.ErrInvalidCredential)

	_, err = service.ExchangeForSession(context.Background(), &broker.Token{})
	require.ErrorIs(t, err, exchange.ErrInvalidCredential)
}

func TestExchangeSurfacesBackendRejection(t *testing.T) {
	service, _ := setupService(t)

	_, err := service.ExchangeForSession(context.Background(), &broker.Token{AccessToken: "unknown"})
	require.ErrorIs(t, err, exchange.ErrInvalidCredential)
}

func TestExchangeSurfacesBackendUnavailable(t *testing.T) {
	service, backend := setupService(t)
	backend.SignInErr = exchange.ErrBackendUnavailable

	_, err := service.ExchangeForSession(context.Background(), &broker.Token{AccessToken: testAccessToken})
	require.ErrorIs(t, err, exchange.ErrBackendUnavailable)
}

func TestCredentialFromTokenShapes(t *testing.T) {
	accessOnly := exchange.CredentialFromToken(&broker.Token{AccessToken: testAccessToken})
	require.Equal(t, exchange.GoogleProviderID, accessOnly.ProviderID)
	require.Equal(t, testAccessToken, accessOnly.AccessToken)
	require.Empty(t, accessOnly.IDToken)

	both := exchange.CredentialFromToken(&broker.Token{AccessToken: testAccessToken, IDToken: "id"})
	require.Equal(t, testAccessToken, both.AccessToken)
	require.Equal(t, "id", both.IDToken)

	require.True(t, exchange.CredentialFromToken(nil).Empty())
}

func TestSessionFromIDToken(t *testing.T) {
	raw := signedTestToken(t, jwt.MapClaims{
		"sub":     testUID,
		"email":   testEmail,
		"name":    "Ann Example",
		"picture": "https://example.com/ann.png",
	})

	session, err := exchange.SessionFromIDToken(raw)
	require.NoError(t, err)
	require.Equal(t, testUID, session.UID)
	require.Equal(t, testEmail, session.Email)
	require.Equal(t, "Ann Example", session.DisplayName)
	require.Equal(t, "https://example.com/ann.png", session.PhotoURL)
	require.Equal(t, raw, session.IDToken)
}

func TestSessionFromIDTokenWithoutSubject(t *testing.T) {
	raw := signedTestToken(t, jwt.MapClaims{"email": testEmail})

	_, err := exchange.SessionFromIDToken(raw)
	require.ErrorIs(t, err, exchange.ErrInvalidCredential)
}

func TestSessionFromIDTokenMalformed(t *testing.T) {
	_, err := exchange.SessionFromIDToken("not-a-jwt")
	require.ErrorIs(t, err, exchange.ErrInvalidCredential)
}

func signedTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}
