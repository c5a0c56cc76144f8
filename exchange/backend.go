package exchange

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/identity"
)

// GoogleProviderID identifies Google as the federation provider.
const GoogleProviderID = "google.com"

// Credential is a federated credential built from a provider token. Both
// access-token-only and id-token+access-token shapes occur, depending on
// which flow produced the token.
type Credential struct {
	ProviderID  string
	AccessToken string
	IDToken     string
}

// Empty reports whether the credential carries nothing to exchange.
func (c Credential) Empty() bool {
	return c.AccessToken == "" && c.IDToken == ""
}

// CredentialFromToken builds a Google federated credential from a provider
// token.
func CredentialFromToken(tok *broker.Token) Credential {
	if tok == nil {
		return Credential{ProviderID: GoogleProviderID}
	}
	return Credential{
		ProviderID:  GoogleProviderID,
		AccessToken: tok.AccessToken,
		IDToken:     tok.IDToken,
	}
}

// AuthStateListener observes the backend's live auth state. A nil session
// means the backend currently has no signed-in user.
type AuthStateListener func(session *identity.Session)

// Backend is the identity backend that turns federated credentials into
// live sessions. It owns the "is there a currently valid session" answer;
// the persisted store owns the attribute record when no live session is
// available in a context.
type Backend interface {
	// SignInWithCredential exchanges a federated credential for a live
	// session. It is idempotent for a still-valid credential.
	SignInWithCredential(ctx context.Context, cred Credential) (*identity.Session, error)

	// SignOut ends the live session.
	SignOut(ctx context.Context) error

	// CurrentSession returns the live session, or nil when signed out.
	CurrentSession() *identity.Session

	// SubscribeAuthState registers a listener for live auth-state events.
	// Delivery is asynchronous and carries no ordering guarantee relative
	// to other event sources.
	SubscribeAuthState(listener AuthStateListener) (unsubscribe func())
}

var (
	// ErrInvalidCredential means the backend rejected the credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrBackendUnavailable means the backend could not be reached. Not
	// retried automatically; repeated automatic retries risk provider
	// lockouts.
	ErrBackendUnavailable = errors.New("identity backend unavailable")
)
